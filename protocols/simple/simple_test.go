package simple

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/conversation"
	"github.com/stcbus/pidgin-sub003/header"
	"github.com/stcbus/pidgin-sub003/sip"
	"github.com/stcbus/pidgin-sub003/uri"
)

// fakeSignaler records every signed request and answers 200 OK.
type fakeSignaler struct {
	mu   sync.Mutex
	sent []*sip.Request
}

func (f *fakeSignaler) SendSigned(_ context.Context, req *sip.Request) (*sip.Response, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()
	return req.NewResponse(sip.ResponseStatusOK, nil)
}

func (f *fakeSignaler) Respond(*sip.Request, sip.ResponseStatus, string, ...sip.Header) error {
	return nil
}

func (f *fakeSignaler) requests() []*sip.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*sip.Request, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSignaler) byMethod(m sip.RequestMethod) []*sip.Request {
	var out []*sip.Request
	for _, r := range f.requests() {
		if r.Method == m {
			out = append(out, r)
		}
	}
	return out
}

func newTestEngine(t *testing.T, conv *conversation.Registry) (*Engine, *fakeSignaler) {
	t.Helper()
	sig := &fakeSignaler{}
	e, err := New(sig, Options{
		AOR:           "sip:alice@ex",
		Account:       account.Key{Username: "alice", ProtocolID: "simple"},
		Conversations: conv,
	})
	require.NoError(t, err)
	return e, sig
}

func TestResubscribeDueIssuesSubscribe(t *testing.T) {
	e, sig := newTestEngine(t, nil)

	e.AddBuddy("sip:bob@ex")
	before := time.Now()
	e.resubscribeDue()

	subs := sig.byMethod(sip.RequestMethodSubscribe)
	require.Len(t, subs, 1)
	exp, ok := subs[0].Headers.Expires()
	require.True(t, ok, "SUBSCRIBE must carry Expires")
	assert.Equal(t, 900*time.Second, exp.Duration)

	e.mu.Lock()
	next := e.buddies["sip:bob@ex"].ResubscribeAt
	e.mu.Unlock()
	require.False(t, next.Before(before.Add(550*time.Second)), "next resubscribe too early: %v", next)
	require.True(t, next.Before(before.Add(601*time.Second)), "next resubscribe too late: %v", next)

	// Nothing else is due until the schedule elapses.
	e.resubscribeDue()
	assert.Len(t, sig.byMethod(sip.RequestMethodSubscribe), 1)
}

func inboundRequest(t *testing.T, method sip.RequestMethod, body []byte) *sip.Request {
	t.Helper()
	return inboundRequestFrom(t, method, "sip:bob@ex", body)
}

func inboundRequestFrom(t *testing.T, method sip.RequestMethod, peer string, body []byte) *sip.Request {
	t.Helper()
	our, err := uri.ParseSIP("sip:alice@ex")
	require.NoError(t, err)
	peerURI, err := uri.ParseSIP(peer)
	require.NoError(t, err)

	req, err := sip.NewRequest(method, our, peerURI, our, &sip.RequestOptions{Body: body})
	require.NoError(t, err)
	return req
}

func TestInboundSubscribeCreatesWatcherAndNotifies(t *testing.T) {
	e, sig := newTestEngine(t, nil)
	e.SetStatus(context.Background(), true)

	req := inboundRequest(t, sip.RequestMethodSubscribe, nil)
	req.Headers.Set(&header.Expires{Duration: 300 * time.Second})
	e.HandleRequest(req)

	e.mu.Lock()
	watchers := len(e.watchers)
	e.mu.Unlock()
	require.Equal(t, 1, watchers)

	require.Eventually(t, func() bool {
		return len(sig.byMethod(sip.RequestMethodNotify)) == 1
	}, time.Second, 10*time.Millisecond, "SUBSCRIBE must be answered with an immediate NOTIFY")

	notify := sig.byMethod(sip.RequestMethodNotify)[0]
	available, err := parsePIDFAvailable(notify.Body)
	require.NoError(t, err)
	assert.True(t, available, "NOTIFY must carry our current (open) presence")

	// A refresh from the same watcher must not create a second entry.
	e.HandleRequest(req)
	e.mu.Lock()
	watchers = len(e.watchers)
	e.mu.Unlock()
	assert.Equal(t, 1, watchers)
}

func TestInboundMessageLandsInConversation(t *testing.T) {
	var delivered []conversation.Message
	reg := conversation.NewRegistry(func(_ *conversation.Conversation, m conversation.Message) {
		delivered = append(delivered, m)
	})
	e, _ := newTestEngine(t, reg)

	e.HandleRequest(inboundRequest(t, sip.RequestMethodMessage, []byte("hello")))

	require.Len(t, delivered, 1)
	assert.Equal(t, "hello", delivered[0].Body)

	conv := reg.FindOrCreate(conversation.Key{
		Account: account.Key{Username: "alice", ProtocolID: "simple"},
		Peer:    "sip:bob@ex",
		Kind:    conversation.KindIM,
	})
	msgs := conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sip:bob@ex", msgs[0].Sender)
}

func TestPublishRejectionSuspendsUntilStatusChange(t *testing.T) {
	sig := &fakeSignaler{}
	e, err := New(sig, Options{AOR: "sip:alice@ex"})
	require.NoError(t, err)

	// doPublish flips publishOK off when the server rejects.
	rejecting := &rejectingSignaler{}
	e.reg = rejecting
	e.doPublish(context.Background())

	e.mu.Lock()
	ok := e.publishOK
	e.mu.Unlock()
	assert.False(t, ok, "a non-200 PUBLISH response must suspend publishing")

	// A status change resumes publishing.
	e.reg = sig
	e.SetStatus(context.Background(), true)
	assert.NotEmpty(t, sig.byMethod(sip.RequestMethodPublish))
}

// rejectingSignaler answers every request with 501.
type rejectingSignaler struct{}

func (rejectingSignaler) SendSigned(_ context.Context, req *sip.Request) (*sip.Response, error) {
	return req.NewResponse(sip.ResponseStatusNotImplemented, nil)
}

func (rejectingSignaler) Respond(*sip.Request, sip.ResponseStatus, string, ...sip.Header) error {
	return nil
}

func TestSetStatusBroadcastsToWatchersInOrder(t *testing.T) {
	e, sig := newTestEngine(t, nil)

	peers := []string{"sip:bob@ex", "sip:carol@ex", "sip:dave@ex"}
	for _, p := range peers {
		e.HandleRequest(inboundRequestFrom(t, sip.RequestMethodSubscribe, p, nil))
	}
	require.Eventually(t, func() bool {
		return len(sig.byMethod(sip.RequestMethodNotify)) == len(peers)
	}, time.Second, 10*time.Millisecond, "every SUBSCRIBE is answered with a NOTIFY")

	e.SetStatus(context.Background(), true)

	notifies := sig.byMethod(sip.RequestMethodNotify)
	require.Len(t, notifies, 2*len(peers), "a status change notifies every watcher")
	for i, p := range peers {
		n := notifies[len(peers)+i]
		assert.Equal(t, p, n.URI.Render(nil), "broadcast must run in watcher-table (insertion) order")
		available, err := parsePIDFAvailable(n.Body)
		require.NoError(t, err)
		assert.True(t, available)
	}
}

func TestExpiredWatcherIsRemoved(t *testing.T) {
	e, sig := newTestEngine(t, nil)

	e.HandleRequest(inboundRequestFrom(t, sip.RequestMethodSubscribe, "sip:bob@ex", nil))
	require.Eventually(t, func() bool {
		return len(sig.byMethod(sip.RequestMethodNotify)) == 1
	}, time.Second, 10*time.Millisecond)

	e.mu.Lock()
	for _, w := range e.watchers {
		w.ExpiresAt = time.Now().Add(-time.Second)
	}
	e.mu.Unlock()

	e.expireWatchers(time.Now())

	e.mu.Lock()
	watchers, keys := len(e.watchers), len(e.watcherKeys)
	e.mu.Unlock()
	assert.Zero(t, watchers, "an expired watcher must be dropped from the table")
	assert.Zero(t, keys)

	// A dropped watcher gets no further NOTIFYs.
	e.SetStatus(context.Background(), true)
	assert.Len(t, sig.byMethod(sip.RequestMethodNotify), 1)
}

func TestStopSendsTerminalNotify(t *testing.T) {
	e, sig := newTestEngine(t, nil)

	e.HandleRequest(inboundRequestFrom(t, sip.RequestMethodSubscribe, "sip:bob@ex", nil))
	require.Eventually(t, func() bool {
		return len(sig.byMethod(sip.RequestMethodNotify)) == 1
	}, time.Second, 10*time.Millisecond)

	e.Stop()

	notifies := sig.byMethod(sip.RequestMethodNotify)
	require.Len(t, notifies, 2, "Stop must send one terminal NOTIFY per watcher")
	last := notifies[1]
	states := last.Headers.Get("Subscription-State")
	require.Len(t, states, 1)
	state, ok := states[0].(*header.Any)
	require.True(t, ok)
	assert.Equal(t, "terminated", state.Value)

	e.mu.Lock()
	watchers := len(e.watchers)
	e.mu.Unlock()
	assert.Zero(t, watchers, "a terminal NOTIFY removes the watcher")
}
