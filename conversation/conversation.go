// Package conversation implements the conversation registry: it
// finds-or-creates a conversation for an (account, peer, kind) triple on
// demand and appends inbound/outbound messages to its log. UI-event
// fan-out goes through internal/types.CallbackManager, which preserves
// registration order.
package conversation

import (
	"sync"
	"time"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/internal/types"
)

// Kind distinguishes one-to-one IMs from chat rooms.
type Kind int

const (
	KindIM Kind = iota
	KindChat
)

// Message is one entry in a conversation's append-only log.
type Message struct {
	Sender string
	Body   string
	SentAt time.Time
	Notify bool // set for IRC NOTICE-delivered messages
}

// Key identifies a conversation by (account, peer, kind).
type Key struct {
	Account account.Key
	Peer    string
	Kind    Kind
}

// Conversation is a durable (account, peer) channel for message history.
// Messages are append-only; order is arrival order.
type Conversation struct {
	Key

	mu  sync.RWMutex
	log []Message
}

// Messages returns a snapshot of the message log, in arrival order.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.log))
	copy(out, c.log)
	return out
}

func (c *Conversation) append(m Message) {
	c.mu.Lock()
	c.log = append(c.log, m)
	c.mu.Unlock()
}

// Registry maps (account, peer) pairs to live conversations, created on
// demand from inbound messages. It is process-wide and mutated only from
// the scheduler thread.
type Registry struct {
	mu    sync.Mutex
	convs map[Key]*Conversation

	onMessage func(c *Conversation, m Message)
	onOpened  types.CallbackManager[func(*Conversation)]
	onClosed  types.CallbackManager[func(*Conversation)]
}

// NewRegistry creates an empty registry. onMessage, if non-nil, is called
// after every WriteMessage.
func NewRegistry(onMessage func(c *Conversation, m Message)) *Registry {
	return &Registry{convs: make(map[Key]*Conversation), onMessage: onMessage}
}

// OnOpened registers a callback fired when a new conversation is created.
func (r *Registry) OnOpened(fn func(*Conversation)) (remove func()) {
	return r.onOpened.Add(fn)
}

// OnClosed registers a callback fired when a conversation is closed.
func (r *Registry) OnClosed(fn func(*Conversation)) (remove func()) {
	return r.onClosed.Add(fn)
}

// FindOrCreate returns the existing conversation for key, or allocates a
// new one and fires every OnOpened callback. Repeated calls with the same
// key return the same object.
func (r *Registry) FindOrCreate(key Key) *Conversation {
	r.mu.Lock()
	c, ok := r.convs[key]
	if ok {
		r.mu.Unlock()
		return c
	}
	c = &Conversation{Key: key}
	r.convs[key] = c
	r.mu.Unlock()

	for fn := range r.onOpened.All() {
		fn(c)
	}
	return c
}

// Close removes a conversation from the registry and fires every OnClosed
// callback; the UI owns a conversation's lifetime.
func (r *Registry) Close(key Key) {
	r.mu.Lock()
	c, ok := r.convs[key]
	if ok {
		delete(r.convs, key)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	for fn := range r.onClosed.All() {
		fn(c)
	}
}

// WriteMessage appends msg to c's log and fires the registry's onMessage
// callback. The registry does not persist messages.
func (r *Registry) WriteMessage(c *Conversation, msg Message) {
	c.append(msg)
	if r.onMessage != nil {
		r.onMessage(c, msg)
	}
}
