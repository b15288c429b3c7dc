// Package runtime is the process-wide glue: the single place that owns the
// account manager, the conversation registry, the NAT controller, the
// reconnect controller and the credential provider, and that wires their
// callbacks together. It composes the packages built for each of those
// responsibilities rather than reimplementing any of them.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/connstate"
	"github.com/stcbus/pidgin-sub003/conversation"
	"github.com/stcbus/pidgin-sub003/credentials"
	"github.com/stcbus/pidgin-sub003/log"
	"github.com/stcbus/pidgin-sub003/nat"
	"github.com/stcbus/pidgin-sub003/perrors"
	"github.com/stcbus/pidgin-sub003/protocols"
	"github.com/stcbus/pidgin-sub003/reconnect"
	"github.com/stcbus/pidgin-sub003/uiops"
)

// Prefs is the small set of account-independent global settings the UI
// owns: the debug logging toggle and the "mute sounds until" preference.
// The core only ever reads them.
type Prefs struct {
	DebugEnabled bool
	MuteUntil    time.Time
}

// connEntry is everything the runtime needs to drive one account's
// connection lifecycle without knowing its protocol.
type connEntry struct {
	machine *connstate.Machine
	dial    func(ctx context.Context) error
	stop    func()
}

// portMapping records a port mapping opened through [Runtime.AddPortMapping]
// so Shutdown can remove the IGD lease on teardown.
type portMapping struct {
	port  int
	proto nat.Proto
}

// Runtime is the process-wide state, created once at startup and torn down
// at shutdown.
type Runtime struct {
	Accounts      *account.Manager
	Conversations *conversation.Registry
	NAT           *nat.Controller
	Credentials   credentials.Provider
	Reconnect     *reconnect.Controller

	ui      uiops.Ops
	metrics *metrics
	log     *slog.Logger

	mu       sync.Mutex
	conns    map[account.Key]*connEntry
	mappings []portMapping
	prefs    Prefs
}

// New builds a Runtime around a UI-ops implementation and a credential
// provider. Loading the account set itself
// is the caller's job via [Runtime.Accounts].Add; subscribing to the OS
// network monitor is the caller's job via [Runtime.NetworkConnected] /
// [Runtime.NetworkDisconnected], which satisfy [uiops.NetworkObserver].
func New(ui uiops.Ops, creds credentials.Provider) *Runtime {
	if ui == nil {
		ui = uiops.Noop{}
	}
	if creds == nil {
		creds = credentials.Noop{}
	}

	r := &Runtime{
		Accounts:    account.NewManager(),
		NAT:         nat.New(nat.DefaultDiscoverer{}),
		Credentials: creds,
		ui:          ui,
		metrics:     newMetrics(),
		log:         log.Default(),
		conns:       make(map[account.Key]*connEntry),
	}
	r.Conversations = conversation.NewRegistry(r.onMessage)
	r.Conversations.OnOpened(ui.OnConversationOpened)
	r.Conversations.OnClosed(ui.OnConversationClosed)
	r.Reconnect = reconnect.New(nil, r.reconnectAccount)
	return r
}

// Metrics exposes the runtime's Prometheus registry for a caller to serve.
func (r *Runtime) Metrics() *prometheus.Registry { return r.metrics.Registry() }

// Prefs returns a snapshot of the current preferences.
func (r *Runtime) Prefs() Prefs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefs
}

// SetPrefs overwrites the preferences; the UI is the only caller.
func (r *Runtime) SetPrefs(p Prefs) {
	r.mu.Lock()
	r.prefs = p
	r.mu.Unlock()
	if p.DebugEnabled {
		log.SetDefault(log.Develop())
	} else {
		log.SetDefault(log.Console())
	}
}

// ShouldNotify reports whether a message arriving at t should surface a UI
// notification, i.e. whether the "mute sounds until" preference has
// elapsed.
func (r *Runtime) ShouldNotify(t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return t.After(r.prefs.MuteUntil)
}

func (r *Runtime) onMessage(c *conversation.Conversation, m conversation.Message) {
	r.ui.OnMessage(c, m)
}

// RegisterConnection creates (or returns the existing) connection state
// machine for key, wiring its transitions into the Prometheus gauge, the UI
// callback, and the reconnect controller. dial starts the
// protocol-specific connection; stop performs
// its best-effort graceful close. Both are invoked only from the runtime's
// own goroutines.
func (r *Runtime) RegisterConnection(key account.Key, dial func(ctx context.Context) error, stop func()) *connstate.Machine {
	r.mu.Lock()
	if e, ok := r.conns[key]; ok {
		r.mu.Unlock()
		return e.machine
	}
	m := connstate.New()
	e := &connEntry{machine: m, dial: dial, stop: stop}
	r.conns[key] = e
	r.mu.Unlock()

	r.metrics.connState.WithLabelValues(string(connstate.Disconnected)).Inc()
	m.OnChange(func(old, new connstate.State) {
		r.metrics.transition(old, new)
		r.ui.OnConnectionStateChanged(key, old, new)
		if new == connstate.Disconnected && old != connstate.Disconnecting {
			r.Reconnect.NonFatalDisconnect(key)
		}
	})
	return m
}

// ConnectAccount glues the protocol registry to the connection lifecycle:
// it looks up the account's protocol factory, registers a connection whose
// dial goes through [protocols.Factory.Connect], wires the session's
// error/state events back into the state machine, and starts the first
// dial. A nil reg uses [protocols.Default].
func (r *Runtime) ConnectAccount(ctx context.Context, reg *protocols.Registry, key account.Key) error {
	if reg == nil {
		reg = protocols.Default()
	}
	factory, ok := reg.Lookup(key.ProtocolID)
	if !ok {
		return perrors.New(perrors.KindInvalidSettings,
			"no protocol registered for "+string(key.ProtocolID), nil)
	}

	var (
		sessMu  sync.Mutex
		sess    protocols.Session
		machine *connstate.Machine
	)
	dial := func(ctx context.Context) error {
		acct, ok := r.Accounts.Get(key)
		if !ok {
			return perrors.New(perrors.KindInvalidSettings, "unknown account", nil)
		}
		ev := protocols.Events{
			OnError: func(kind perrors.Kind, detail string) {
				if machine.State() == connstate.Connecting {
					// Mid-dial failures surface through Connect's error.
					return
				}
				r.ui.OnError(key, kind, detail)
				_ = machine.Fire(connstate.TriggerDisconnected)
			},
			OnStateChange: func(connected bool) {
				if !connected {
					_ = machine.Fire(connstate.TriggerDisconnected)
				}
			},
		}
		s, err := factory.Connect(ctx, acct, r.Conversations, ev)
		if err != nil {
			return err
		}
		sessMu.Lock()
		sess = s
		sessMu.Unlock()
		_ = machine.Fire(connstate.TriggerTransportUp)
		_ = machine.Fire(connstate.TriggerAuthenticated)
		return nil
	}
	stop := func() {
		sessMu.Lock()
		s := sess
		sess = nil
		sessMu.Unlock()
		if s != nil {
			s.Stop()
		}
	}
	machine = r.RegisterConnection(key, dial, stop)
	r.Dial(ctx, key)
	return nil
}

// Connection returns the registered connection machine for key, if any.
func (r *Runtime) Connection(key account.Key) (*connstate.Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[key]
	if !ok {
		return nil, false
	}
	return e.machine, true
}

// Dial starts (or restarts) the connection for key: Connecting, then the
// registered dial func. A dial error is classified by its [perrors.Kind]:
// [perrors.KindAuthFailed] and [perrors.KindTLS] are fatal (no retry, the
// account is marked disabled);
// everything else schedules a reconnect.
func (r *Runtime) Dial(ctx context.Context, key account.Key) {
	r.mu.Lock()
	e, ok := r.conns[key]
	r.mu.Unlock()
	if !ok || e.dial == nil {
		return
	}
	if err := e.machine.Fire(connstate.TriggerDial); err != nil {
		return
	}
	go func() {
		if err := e.dial(ctx); err != nil {
			r.dialFailed(key, e, err)
		}
	}()
}

func (r *Runtime) dialFailed(key account.Key, e *connEntry, err error) {
	kind := perrors.KindNetwork
	detail := err.Error()
	if pe, ok := err.(*perrors.Error); ok { //nolint:errorlint
		kind, detail = pe.Kind, pe.Error()
	}
	_ = e.machine.Fire(connstate.TriggerDialFailed)
	r.ui.OnError(key, kind, detail)
	r.log.Debug("connection dial failed", "account", key, "kind", kind, "detail", detail)

	if kind == perrors.KindAuthFailed || kind == perrors.KindTLS {
		r.Reconnect.FatalDisconnect(key)
		if a, ok := r.Accounts.Get(key); ok {
			a.Enabled = false
		}
		return
	}
	r.Reconnect.NonFatalDisconnect(key)
}

// reconnectAccount is the callback the reconnect controller invokes on its
// own goroutine when a scheduled delay elapses.
func (r *Runtime) reconnectAccount(key account.Key) {
	a, ok := r.Accounts.Get(key)
	if !ok || !a.Enabled {
		return
	}
	r.Dial(context.Background(), key)
}

// NetworkConnected implements [uiops.NetworkObserver]: it resets NAT
// discovery and reconnects every disconnected enabled account at once.
func (r *Runtime) NetworkConnected() {
	r.NAT.NetworkChanged()

	var toReconnect []account.Key
	for _, a := range r.Accounts.Enabled() {
		if m, ok := r.Connection(a.Key); ok && m.State() == connstate.Disconnected {
			toReconnect = append(toReconnect, a.Key)
		}
	}
	r.Reconnect.NetworkUp(toReconnect)
	for _, key := range toReconnect {
		r.Dial(context.Background(), key)
	}
}

// NetworkDisconnected implements [uiops.NetworkObserver]: it suspends
// pending reconnect timers without touching existing connections; the next
// network-up event does the reconnecting.
func (r *Runtime) NetworkDisconnected() {
	r.NAT.NetworkChanged()
	r.Reconnect.NetworkDown()
}

// AddPortMapping forwards to the NAT controller and remembers the mapping
// so [Runtime.Shutdown] can remove it.
func (r *Runtime) AddPortMapping(ctx context.Context, port int, proto nat.Proto) {
	r.mu.Lock()
	r.mappings = append(r.mappings, portMapping{port: port, proto: proto})
	r.mu.Unlock()
	r.NAT.AddPortMapping(ctx, port, proto, r.metrics.natOutcome)
}

// Shutdown tears every connection down, unregisters SIP registrations and
// removes NAT port mappings.
// A protocol-specific stop func is expected to perform its own graceful
// unregister/QUIT; Shutdown only sequences the cancellation.
func (r *Runtime) Shutdown(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*connEntry, 0, len(r.conns))
	for _, e := range r.conns {
		entries = append(entries, e)
	}
	mappings := r.mappings
	r.mappings = nil
	r.mu.Unlock()

	for _, e := range entries {
		_ = e.machine.Fire(connstate.TriggerDisable)
		if e.stop != nil {
			e.stop()
		}
		e.machine.Cancel()
	}

	for _, pm := range mappings {
		r.NAT.RemovePortMapping(ctx, pm.port, pm.proto, nil)
	}
}
