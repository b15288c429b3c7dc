// Package protocols holds the process-wide protocol registry: the table
// the plugin host registers protocol factories into, and the lookup the
// account layer dials through.
package protocols

import (
	"context"
	"slices"
	"sync"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/conversation"
	"github.com/stcbus/pidgin-sub003/perrors"
)

// Session is a live protocol connection for one account.
type Session interface {
	// Stop flushes a best-effort graceful close (QUIT, unregister) without
	// waiting for a response and tears the connection down.
	Stop()
}

// Events carries the callbacks a live session fires back at its owner (the
// connection state machine). Either field may be nil.
type Events struct {
	// OnError reports a post-dial failure: a lost transport, a rejected
	// re-registration, a TLS problem.
	OnError func(kind perrors.Kind, detail string)
	// OnStateChange reports protocol-level session state: false means the
	// session lost its registration/connection and the owner should treat
	// the account as disconnected.
	OnStateChange func(connected bool)
}

// Factory creates protocol sessions. One factory is registered per
// protocol id.
type Factory interface {
	ProtocolID() account.ProtocolID
	// Connect dials and authenticates a session for acct, delivering
	// inbound messages to conv and post-dial events to ev.
	Connect(ctx context.Context, acct *account.Account, conv *conversation.Registry, ev Events) (Session, error)
}

// Registry maps protocol ids to factories. Registering the same protocol
// id twice is a no-op; the first registration wins.
type Registry struct {
	mu        sync.RWMutex
	factories map[account.ProtocolID]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[account.ProtocolID]Factory)}
}

// Register adds f to the registry. It reports whether f was added; a
// factory already registered under the same id stays in place.
func (r *Registry) Register(f Factory) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[f.ProtocolID()]; ok {
		return false
	}
	r.factories[f.ProtocolID()] = f
	return true
}

// Unregister removes the factory for id, if any.
func (r *Registry) Unregister(id account.ProtocolID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, id)
}

// Lookup returns the factory registered for id.
func (r *Registry) Lookup(id account.ProtocolID) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	return f, ok
}

// IDs returns the registered protocol ids, sorted.
func (r *Registry) IDs() []account.ProtocolID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]account.ProtocolID, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Register adds f to the default registry.
func Register(f Factory) bool { return defaultRegistry.Register(f) }

// Lookup returns the factory registered for id in the default registry.
func Lookup(id account.ProtocolID) (Factory, bool) { return defaultRegistry.Lookup(id) }
