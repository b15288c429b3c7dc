// Package connstate implements the per-account connection state machine on
// top of github.com/qmuntal/stateless.
package connstate

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"

	"github.com/stcbus/pidgin-sub003/perrors"
)

// State is one of the five connection states.
type State string

const (
	Disconnected   State = "disconnected"
	Connecting     State = "connecting"
	Authenticating State = "authenticating"
	Connected      State = "connected"
	Disconnecting  State = "disconnecting"
)

// Trigger is a state-machine event.
type Trigger string

const (
	TriggerDial          Trigger = "dial"
	TriggerTransportUp   Trigger = "transport_up"
	TriggerAuthenticated Trigger = "authenticated"
	TriggerDisable       Trigger = "disable"
	TriggerDisconnected  Trigger = "disconnected"
	TriggerDialFailed    Trigger = "dial_failed"
)

// Listener is notified of every state transition.
type Listener func(old, new State)

// Machine drives one connection's lifecycle:
// Disconnected -> Connecting -> Authenticating -> Connected -> Disconnecting -> Disconnected.
//
// Invariant: a cancelled connection never invokes user callbacks — Machine
// enforces this by refusing to fire transitions once Cancel has been
// called.
type Machine struct {
	sm *stateless.StateMachine

	mu        sync.Mutex
	listeners []Listener
	cancelled bool
}

// New builds a Machine in the Disconnected state.
func New() *Machine {
	m := &Machine{}
	sm := stateless.NewStateMachine(Disconnected)

	sm.Configure(Disconnected).
		Permit(TriggerDial, Connecting)

	sm.Configure(Connecting).
		Permit(TriggerTransportUp, Authenticating).
		Permit(TriggerDialFailed, Disconnected).
		Permit(TriggerDisable, Disconnecting)

	sm.Configure(Authenticating).
		Permit(TriggerAuthenticated, Connected).
		Permit(TriggerDisconnected, Disconnected).
		Permit(TriggerDisable, Disconnecting)

	sm.Configure(Connected).
		Permit(TriggerDisconnected, Disconnected).
		Permit(TriggerDisable, Disconnecting)

	sm.Configure(Disconnecting).
		Permit(TriggerDisconnected, Disconnected)

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		m.notify(t.Source.(State), t.Destination.(State)) //nolint:forcetypeassert
	})

	m.sm = sm
	return m
}

// OnChange registers a listener invoked after every successful transition.
func (m *Machine) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Machine) notify(old, new State) {
	m.mu.Lock()
	cancelled := m.cancelled
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if cancelled {
		return
	}
	for _, l := range listeners {
		l(old, new)
	}
}

// Fire attempts the named trigger. It returns [perrors.KindProtocol] if the
// transition is not permitted from the current state.
func (m *Machine) Fire(trigger Trigger) error {
	m.mu.Lock()
	if m.cancelled {
		m.mu.Unlock()
		return perrors.New(perrors.KindCancelled, "", nil)
	}
	m.mu.Unlock()

	if err := m.sm.Fire(trigger); err != nil {
		return perrors.New(perrors.KindProtocol, "invalid connection state transition", err)
	}
	return nil
}

// State returns the current state.
func (m *Machine) State() State {
	return m.sm.MustState().(State) //nolint:forcetypeassert
}

// Cancel marks the machine as cancelled: it is forced to Disconnected and no
// further listener calls will ever fire.
func (m *Machine) Cancel() {
	m.mu.Lock()
	m.cancelled = true
	m.mu.Unlock()

	switch m.State() {
	case Connecting:
		_ = m.sm.Fire(TriggerDialFailed)
	case Authenticating, Connected, Disconnecting:
		_ = m.sm.Fire(TriggerDisconnected)
	}
}
