package runtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/connstate"
	"github.com/stcbus/pidgin-sub003/conversation"
	"github.com/stcbus/pidgin-sub003/perrors"
	"github.com/stcbus/pidgin-sub003/protocols"
	"github.com/stcbus/pidgin-sub003/runtime"
	"github.com/stcbus/pidgin-sub003/uiops"
)

type fakeUI struct {
	mu          sync.Mutex
	stateEvents []connstate.State
	errs        []perrors.Kind
	uiops.Noop
}

func (f *fakeUI) OnConnectionStateChanged(_ account.Key, _, new connstate.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateEvents = append(f.stateEvents, new)
}

func (f *fakeUI) OnError(_ account.Key, kind perrors.Kind, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, kind)
}

func (f *fakeUI) snapshot() ([]connstate.State, []perrors.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connstate.State(nil), f.stateEvents...), append([]perrors.Kind(nil), f.errs...)
}

func key() account.Key { return account.Key{Username: "alice", ProtocolID: "ircv3"} }

func TestDialSuccessReachesConnected(t *testing.T) {
	ui := &fakeUI{}
	rt := runtime.New(ui, nil)

	dialed := make(chan struct{})
	m := rt.RegisterConnection(key(), func(ctx context.Context) error {
		close(dialed)
		return nil
	}, nil)

	rt.Dial(context.Background(), key())
	<-dialed

	waitFor(t, func() bool { return m.State() == connstate.Connecting })

	if err := m.Fire(connstate.TriggerTransportUp); err != nil {
		t.Fatalf("Fire transport up: %v", err)
	}
	if err := m.Fire(connstate.TriggerAuthenticated); err != nil {
		t.Fatalf("Fire authenticated: %v", err)
	}
	if m.State() != connstate.Connected {
		t.Fatalf("expected Connected, got %s", m.State())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestDialFailureAuthIsFatal(t *testing.T) {
	ui := &fakeUI{}
	rt := runtime.New(ui, nil)
	a := &account.Account{Key: key(), Enabled: true, Settings: account.Settings{}}
	a.Settings = account.Settings{"server": account.Setting{Kind: account.SettingString, Str: "irc.example.org"}}
	if err := rt.Accounts.Add(a); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rt.RegisterConnection(key(), func(ctx context.Context) error {
		return perrors.New(perrors.KindAuthFailed, "bad password", nil)
	}, nil)

	rt.Dial(context.Background(), key())

	waitFor(t, func() bool {
		_, errs := ui.snapshot()
		return len(errs) == 1
	})

	acct, _ := rt.Accounts.Get(key())
	if acct.Enabled {
		t.Fatalf("fatal dial failure must disable the account")
	}
	if _, ok := rt.Reconnect.PendingDelay(key()); ok {
		t.Fatalf("fatal dial failure must not schedule a reconnect")
	}
}

func TestNonFatalDisconnectSchedulesReconnect(t *testing.T) {
	ui := &fakeUI{}
	rt := runtime.New(ui, nil)
	m := rt.RegisterConnection(key(), func(ctx context.Context) error { return nil }, nil)

	if err := m.Fire(connstate.TriggerDial); err != nil {
		t.Fatalf("Fire dial: %v", err)
	}
	if err := m.Fire(connstate.TriggerTransportUp); err != nil {
		t.Fatalf("Fire transport up: %v", err)
	}
	if err := m.Fire(connstate.TriggerDisconnected); err != nil {
		t.Fatalf("Fire disconnected: %v", err)
	}

	if _, ok := rt.Reconnect.PendingDelay(key()); !ok {
		t.Fatalf("expected a reconnect scheduled after a non-fatal disconnect")
	}
}

func TestShutdownCancelsAndStops(t *testing.T) {
	ui := &fakeUI{}
	rt := runtime.New(ui, nil)
	var stopped bool
	m := rt.RegisterConnection(key(), func(ctx context.Context) error { return nil }, func() { stopped = true })
	_ = m.Fire(connstate.TriggerDial)

	rt.Shutdown(context.Background())

	if !stopped {
		t.Fatalf("Shutdown must call the registered stop func")
	}
	_ = m.Fire(connstate.TriggerTransportUp)
	if len(ui.stateEvents) > 0 && ui.stateEvents[len(ui.stateEvents)-1] == connstate.Authenticating {
		t.Fatalf("a cancelled machine must not invoke listeners")
	}
}

func TestPrefsGateNotification(t *testing.T) {
	rt := runtime.New(nil, nil)
	now := time.Now()
	rt.SetPrefs(runtime.Prefs{MuteUntil: now.Add(time.Hour)})

	if rt.ShouldNotify(now) {
		t.Fatalf("expected notification suppressed while muted")
	}
	if !rt.ShouldNotify(now.Add(2 * time.Hour)) {
		t.Fatalf("expected notification allowed once mute window elapses")
	}
}

func TestConversationRegistryForwardsToUI(t *testing.T) {
	var got conversation.Message
	ui := &fakeUI{}
	rt := runtime.New(ui, nil)

	c := rt.Conversations.FindOrCreate(conversation.Key{Account: key(), Peer: "bob", Kind: conversation.KindIM})
	rt.Conversations.WriteMessage(c, conversation.Message{Sender: "bob", Body: "hi"})
	got = c.Messages()[0]
	if got.Body != "hi" {
		t.Fatalf("expected message recorded on the conversation")
	}
}

// stubFactory connects instantly and records the Events it was handed so
// the test can fire post-dial callbacks.
type stubFactory struct {
	mu      sync.Mutex
	events  protocols.Events
	stopped bool
}

func (f *stubFactory) ProtocolID() account.ProtocolID { return "ircv3" }

func (f *stubFactory) Connect(_ context.Context, _ *account.Account, _ *conversation.Registry, ev protocols.Events) (protocols.Session, error) {
	f.mu.Lock()
	f.events = ev
	f.mu.Unlock()
	return f, nil
}

func (f *stubFactory) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func TestConnectAccountDialsViaRegistry(t *testing.T) {
	ui := &fakeUI{}
	rt := runtime.New(ui, nil)
	a := &account.Account{Key: key(), Enabled: true}
	a.Settings = make(account.Settings).SetString("server", "irc.example.org")
	if err := rt.Accounts.Add(a); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reg := protocols.NewRegistry()
	factory := &stubFactory{}
	reg.Register(factory)

	if err := rt.ConnectAccount(context.Background(), reg, key()); err != nil {
		t.Fatalf("ConnectAccount: %v", err)
	}

	m, ok := rt.Connection(key())
	if !ok {
		t.Fatalf("ConnectAccount must register a connection machine")
	}
	waitFor(t, func() bool { return m.State() == connstate.Connected })

	// A post-dial session error must reach the machine and the UI, and the
	// Disconnected transition must schedule a reconnect.
	factory.mu.Lock()
	onError := factory.events.OnError
	factory.mu.Unlock()
	onError(perrors.KindNetwork, "transport lost")

	waitFor(t, func() bool { return m.State() == connstate.Disconnected })
	_, errs := ui.snapshot()
	if len(errs) != 1 || errs[0] != perrors.KindNetwork {
		t.Fatalf("session error must be surfaced to the UI, got %v", errs)
	}
	if _, ok := rt.Reconnect.PendingDelay(key()); !ok {
		t.Fatalf("a post-dial disconnect must schedule a reconnect")
	}

	rt.Shutdown(context.Background())
	factory.mu.Lock()
	stopped := factory.stopped
	factory.mu.Unlock()
	if !stopped {
		t.Fatalf("Shutdown must stop the registry-built session")
	}
}

func TestConnectAccountUnknownProtocol(t *testing.T) {
	rt := runtime.New(nil, nil)
	err := rt.ConnectAccount(context.Background(), protocols.NewRegistry(), key())
	if !perrors.Is(err, perrors.KindInvalidSettings) {
		t.Fatalf("expected KindInvalidSettings for an unregistered protocol, got %v", err)
	}
}
