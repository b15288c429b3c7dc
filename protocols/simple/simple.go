// Package simple implements the SIMPLE presence engine: a
// per-buddy subscription renewal loop, a watcher table for our own
// presence, PIDF generation/parsing, and periodic PUBLISH.
//
// Built on [sipreg.Controller] for transport, digest signing and the
// outstanding-transaction table rather than re-implementing any of that
// here.
package simple

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/conversation"
	"github.com/stcbus/pidgin-sub003/header"
	"github.com/stcbus/pidgin-sub003/log"
	"github.com/stcbus/pidgin-sub003/perrors"
	"github.com/stcbus/pidgin-sub003/sip"
	"github.com/stcbus/pidgin-sub003/sipreg"
	"github.com/stcbus/pidgin-sub003/uri"
)

const (
	subscribeExpires  = 900
	publishExpires    = 3600
	resubscribeTick   = 10 * time.Second
	publishInterval   = 500 * time.Second
	watcherDefaultTTL = 600 * time.Second
)

// Buddy tracks one watched peer's subscription renewal schedule.
type Buddy struct {
	Name          string
	ResubscribeAt time.Time
}

type dialog struct {
	callID, ourTag, theirTag string
}

// Watcher is an inbound subscriber to our own presence.
type Watcher struct {
	PeerURI   sip.URI
	Dialog    dialog
	ExpiresAt time.Time
}

// Options configures an Engine.
type Options struct {
	AOR string // our own AOR, e.g. "sip:alice@example.com"

	Account       account.Key
	Conversations *conversation.Registry
	Log           *slog.Logger
}

// Signaler is the slice of the registration controller the presence engine
// sends through: signed requests and plain responses. *sipreg.Controller
// satisfies it.
type Signaler interface {
	SendSigned(ctx context.Context, req *sip.Request) (*sip.Response, error)
	Respond(req *sip.Request, status sip.ResponseStatus, reason string, extra ...sip.Header) error
}

// Engine drives the SIMPLE presence protocol over an already-registered
// [sipreg.Controller]: buddy resubscription, watcher bookkeeping, and
// periodic self-presence PUBLISH.
type Engine struct {
	reg  Signaler
	opts Options
	log  *slog.Logger
	aor  sip.URI

	mu          sync.Mutex
	buddies     map[string]*Buddy
	watchers    map[string]*Watcher
	watcherKeys []string // insertion order, NOTIFYs fire in this order
	available   bool
	publishOK   bool
	resubTicker *time.Ticker
	pubTicker   *time.Ticker
	closeCh     chan struct{}
	closed      bool
}

// New creates an Engine over an already-constructed (not necessarily
// started) registration controller. Call [Bind] to receive its inbound
// requests.
func New(reg Signaler, opts Options) (*Engine, error) {
	aorURI, err := uri.ParseSIP(opts.AOR)
	if err != nil {
		return nil, perrors.New(perrors.KindInvalidSettings, "malformed AOR", err)
	}
	l := opts.Log
	if l == nil {
		l = log.Default()
	}
	e := &Engine{
		reg:       reg,
		opts:      opts,
		log:       l,
		aor:       aorURI,
		buddies:   make(map[string]*Buddy),
		watchers:  make(map[string]*Watcher),
		publishOK: true,
		closeCh:   make(chan struct{}),
	}
	return e, nil
}

// Bind routes ctrl's inbound requests (NOTIFY, SUBSCRIBE, MESSAGE) into e.
func Bind(ctrl *sipreg.Controller, e *Engine) {
	ctrl.OnRequest = e.HandleRequest
}

// Start begins the resubscribe loop (ticking every ~10s, renewing any
// buddy whose subscription is due) and the periodic self-presence PUBLISH
// loop.
func (e *Engine) Start() {
	e.mu.Lock()
	e.resubTicker = time.NewTicker(resubscribeTick)
	e.pubTicker = time.NewTicker(publishInterval)
	e.mu.Unlock()

	go e.resubscribeLoop()
	go e.publishLoop()
}

// Stop halts both loops and sends a best-effort terminal NOTIFY to every
// remaining watcher, removing it. It does not unregister; that's
// [sipreg.Controller.Stop]'s job.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.resubTicker != nil {
		e.resubTicker.Stop()
	}
	if e.pubTicker != nil {
		e.pubTicker.Stop()
	}
	watchers := e.orderedWatchers()
	available := e.available
	e.watchers = make(map[string]*Watcher)
	e.watcherKeys = nil
	e.mu.Unlock()

	for _, w := range watchers {
		e.notifyWatcher(w, available, true)
	}
	close(e.closeCh)
}

// AddBuddy starts watching name's presence: the first resubscribe tick
// issues an immediate SUBSCRIBE.
func (e *Engine) AddBuddy(name string) {
	e.mu.Lock()
	e.buddies[name] = &Buddy{Name: name}
	e.mu.Unlock()
}

// RemoveBuddy stops watching name.
func (e *Engine) RemoveBuddy(name string) {
	e.mu.Lock()
	delete(e.buddies, name)
	e.mu.Unlock()
}

// SetStatus updates our own availability, resumes publishing if a previous
// PUBLISH rejection had suspended it, and notifies every watcher of the new
// status, in watcher-table (insertion) order.
func (e *Engine) SetStatus(ctx context.Context, available bool) {
	e.mu.Lock()
	changed := e.available != available
	e.available = available
	e.publishOK = true
	watchers := e.orderedWatchers()
	e.mu.Unlock()

	if !changed {
		return
	}
	e.doPublish(ctx)
	for _, w := range watchers {
		e.notifyWatcher(w, available, false)
	}
}

// orderedWatchers snapshots the watcher table in insertion order. Callers
// must hold e.mu.
func (e *Engine) orderedWatchers() []*Watcher {
	out := make([]*Watcher, 0, len(e.watcherKeys))
	for _, k := range e.watcherKeys {
		if w, ok := e.watchers[k]; ok {
			out = append(out, w)
		}
	}
	return out
}

// expireWatchers drops every watcher whose subscription has lapsed. An
// expired subscription just disappears; the peer re-SUBSCRIBEs if it still
// cares.
func (e *Engine) expireWatchers(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.watcherKeys[:0]
	for _, k := range e.watcherKeys {
		w, ok := e.watchers[k]
		if !ok {
			continue
		}
		if !w.ExpiresAt.After(now) {
			delete(e.watchers, k)
			continue
		}
		kept = append(kept, k)
	}
	e.watcherKeys = kept
}

func (e *Engine) resubscribeLoop() {
	for {
		select {
		case <-e.closeCh:
			return
		case <-e.resubTicker.C:
			e.expireWatchers(time.Now())
			e.resubscribeDue()
		}
	}
}

func (e *Engine) resubscribeDue() {
	now := time.Now()
	var due []*Buddy
	e.mu.Lock()
	for _, b := range e.buddies {
		if b.ResubscribeAt.IsZero() || !b.ResubscribeAt.After(now) {
			due = append(due, b)
		}
	}
	e.mu.Unlock()

	for _, b := range due {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := e.sendSubscribe(ctx, b.Name)
		cancel()
		if err != nil {
			e.log.Debug("SUBSCRIBE failed", "buddy", b.Name, "err", err)
		}

		e.mu.Lock()
		b.ResubscribeAt = now.Add(550*time.Second + time.Duration(rand.Int63n(int64(50*time.Second))))
		e.mu.Unlock()
	}
}

func (e *Engine) sendSubscribe(ctx context.Context, peer string) error {
	peerURI, err := uri.ParseSIP(peer)
	if err != nil {
		return perrors.New(perrors.KindInvalidSettings, "malformed buddy URI", err)
	}

	req, err := sip.NewRequest(sip.RequestMethodSubscribe, peerURI, e.aor, peerURI, &sip.RequestOptions{
		CallID:  uuid.NewString(),
		Headers: make(sip.Headers),
	})
	if err != nil {
		return perrors.New(perrors.KindProtocol, "failed to build SUBSCRIBE", err)
	}
	req.Headers.Set(&header.Expires{Duration: subscribeExpires * time.Second})
	req.Headers.Set(&header.Any{Name: "Event", Value: "presence"})

	_, err = e.reg.SendSigned(ctx, req)
	return err
}

// HandleRequest dispatches an inbound SIP request not claimed by any
// pending transaction: NOTIFY (presence update for a buddy we watch),
// SUBSCRIBE (someone watching us) or MESSAGE.
func (e *Engine) HandleRequest(req *sip.Request) {
	switch req.Method {
	case sip.RequestMethodNotify:
		e.handleNotify(req)
	case sip.RequestMethodSubscribe:
		e.handleSubscribe(req)
	case sip.RequestMethodMessage:
		e.handleMessage(req)
	}
}

func (e *Engine) handleNotify(req *sip.Request) {
	if err := e.reg.Respond(req, sip.ResponseStatusOK, ""); err != nil {
		e.log.Debug("failed to respond to NOTIFY", "err", err)
	}
	available, err := parsePIDFAvailable(req.Body)
	if err != nil {
		e.log.Debug("dropping malformed NOTIFY body", "err", err)
		return
	}
	e.log.Debug("presence update", "available", available)
}

// handleSubscribe creates/refreshes a watcher for an inbound SUBSCRIBE to
// our own AOR, replies 200 OK, and immediately sends a NOTIFY carrying our
// generated PIDF.
func (e *Engine) handleSubscribe(req *sip.Request) {
	from, ok := req.Headers.From()
	if !ok {
		return
	}
	key := from.Render(nil)

	expires := watcherDefaultTTL
	if exp, ok := req.Headers.Expires(); ok {
		expires = exp.Duration
	}

	e.mu.Lock()
	w, exists := e.watchers[key]
	if !exists {
		w = &Watcher{PeerURI: from.URI, Dialog: dialog{callID: uuid.NewString(), ourTag: uuid.NewString()}}
		e.watchers[key] = w
		e.watcherKeys = append(e.watcherKeys, key)
	}
	w.ExpiresAt = time.Now().Add(expires)
	available := e.available
	e.mu.Unlock()

	if err := e.reg.Respond(req, sip.ResponseStatusOK, "", &header.Expires{Duration: expires}); err != nil {
		e.log.Debug("failed to respond to SUBSCRIBE", "err", err)
		return
	}

	go e.notifyWatcher(w, available, false)
}

// notifyWatcher sends one NOTIFY carrying our current PIDF. A terminal
// NOTIFY carries Subscription-State: terminated and ends the subscription
// on the watcher's side.
func (e *Engine) notifyWatcher(w *Watcher, available, terminal bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := sip.NewRequest(sip.RequestMethodNotify, w.PeerURI, e.aor, w.PeerURI, &sip.RequestOptions{
		CallID:  w.Dialog.callID,
		Headers: make(sip.Headers),
	})
	if err != nil {
		e.log.Debug("failed to build NOTIFY", "err", err)
		return
	}
	state := "active"
	if terminal {
		state = "terminated"
	}
	req.Headers.Set(&header.Any{Name: "Event", Value: "presence"})
	req.Headers.Set(&header.Any{Name: "Subscription-State", Value: state})
	req.Headers.Set(&header.ContentType{Type: "application", Subtype: contentTypePIDF})
	req.Body = []byte(buildPIDF(e.opts.AOR, available))

	if _, err := e.reg.SendSigned(ctx, req); err != nil {
		e.log.Debug("NOTIFY failed", "err", err)
	}
}

// handleMessage delivers an inbound MESSAGE to the conversation registry
// and acknowledges it.
func (e *Engine) handleMessage(req *sip.Request) {
	if err := e.reg.Respond(req, sip.ResponseStatusOK, ""); err != nil {
		e.log.Debug("failed to respond to MESSAGE", "err", err)
	}
	if e.opts.Conversations == nil {
		return
	}
	from, ok := req.Headers.From()
	if !ok {
		return
	}
	peer := from.URI.Render(nil)
	conv := e.opts.Conversations.FindOrCreate(conversation.Key{
		Account: e.opts.Account,
		Peer:    peer,
		Kind:    conversation.KindIM,
	})
	e.opts.Conversations.WriteMessage(conv, conversation.Message{
		Sender: peer,
		Body:   string(req.Body),
		SentAt: time.Now(),
	})
}

// SendMessage signs and sends a MESSAGE to peer through the registration
// controller's cached digest credentials.
func (e *Engine) SendMessage(ctx context.Context, peer, text string) error {
	peerURI, err := uri.ParseSIP(peer)
	if err != nil {
		return perrors.New(perrors.KindInvalidSettings, "malformed peer URI", err)
	}
	req, err := sip.NewRequest(sip.RequestMethodMessage, peerURI, e.aor, peerURI, &sip.RequestOptions{
		CallID:  uuid.NewString(),
		Headers: make(sip.Headers),
		Body:    []byte(text),
	})
	if err != nil {
		return perrors.New(perrors.KindProtocol, "failed to build MESSAGE", err)
	}
	req.Headers.Set(&header.ContentType{Type: "text", Subtype: "plain"})
	_, err = e.reg.SendSigned(ctx, req)
	return err
}

// SendTyping signals a typing-indication state change to peer using
// application/im-iscomposing+xml.
func (e *Engine) SendTyping(ctx context.Context, peer string, active bool) error {
	peerURI, err := uri.ParseSIP(peer)
	if err != nil {
		return perrors.New(perrors.KindInvalidSettings, "malformed peer URI", err)
	}
	req, err := sip.NewRequest(sip.RequestMethodMessage, peerURI, e.aor, peerURI, &sip.RequestOptions{
		CallID:  uuid.NewString(),
		Headers: make(sip.Headers),
		Body:    []byte(buildIsComposing(active)),
	})
	if err != nil {
		return perrors.New(perrors.KindProtocol, "failed to build typing notification", err)
	}
	req.Headers.Set(&header.ContentType{Type: "application", Subtype: contentTypeComposing})
	_, err = e.reg.SendSigned(ctx, req)
	return err
}

func (e *Engine) publishLoop() {
	e.doPublish(context.Background())
	for {
		select {
		case <-e.closeCh:
			return
		case <-e.pubTicker.C:
			e.mu.Lock()
			ok := e.publishOK
			e.mu.Unlock()
			if ok {
				e.doPublish(context.Background())
			}
		}
	}
}

func (e *Engine) doPublish(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	e.mu.Lock()
	available := e.available
	e.mu.Unlock()

	req, err := sip.NewRequest(sip.RequestMethodPublish, e.aor, e.aor, e.aor, &sip.RequestOptions{
		CallID:  uuid.NewString(),
		Headers: make(sip.Headers),
		Body:    []byte(buildPIDF(e.opts.AOR, available)),
	})
	if err != nil {
		e.log.Debug("failed to build PUBLISH", "err", err)
		return
	}
	req.Headers.Set(&header.Expires{Duration: publishExpires * time.Second})
	req.Headers.Set(&header.Any{Name: "Event", Value: "presence"})
	req.Headers.Set(&header.ContentType{Type: "application", Subtype: contentTypePIDF})

	resp, err := e.reg.SendSigned(ctx, req)
	if err != nil {
		e.log.Debug("PUBLISH failed", "err", err)
		return
	}
	if resp.Status != sip.ResponseStatusOK {
		e.mu.Lock()
		e.publishOK = false
		e.mu.Unlock()
		e.log.Debug("PUBLISH rejected, suspending until next status change",
			"status", resp.Status, "detail", fmt.Sprintf("%d %s", resp.Status, resp.Reason))
	}
}
