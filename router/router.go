// Package router implements the per-connection message router: a
// verb-keyed dispatch table with a fallback handler, plus an in-flight
// outbound transaction table keyed by sequence id. IRCv3 keys on command
// words; SIP keys responses on CSeq sequence numbers.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/stcbus/pidgin-sub003/perrors"
)

// Inbound is one dispatched inbound message, after protocol-specific
// extraction of (tags, source, verb, params) — e.g. the IRCv3 tag prefix,
// sender, command word and space-separated params with a trailing
// ':'-prefixed tail.
type Inbound struct {
	Tags   map[string]string
	Source string
	Verb   string
	Params []string
}

// Handler processes one inbound message. A handler error is logged and the
// connection continues; a single handler failure never tears down the
// connection.
type Handler func(ctx context.Context, in *Inbound) error

// Router holds the verb -> handler table and a fallback, plus a sequence-id
// keyed table of outbound transactions awaiting a response.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler

	txMu    sync.Mutex
	txns    map[uint64]*Transaction
	nextSeq uint64

	// OnUnhandledError is called when a handler returns an error; it never
	// aborts the connection.
	OnUnhandledError func(verb string, err error)
}

// Transaction tracks one outbound message awaiting a response. The
// response payload is protocol-specific (a *sip.Response for SIP, an
// *Inbound for verb protocols), so it crosses the table as an any. Raw,
// SentAt and Retries exist for retransmitting protocols (SIP over UDP);
// they are read and advanced under the table lock via [Router.Sweep].
type Transaction struct {
	Seq        uint64
	Raw        []byte
	SentAt     time.Time
	Retries    int
	OnResponse func(resp any)
	done       bool
}

// New creates an empty Router.
func New() *Router {
	return &Router{
		handlers: make(map[string]Handler),
		txns:     make(map[uint64]*Transaction),
	}
}

// Handle registers the handler for verb, replacing any previous one.
func (r *Router) Handle(verb string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[verb] = h
}

// Fallback registers the handler invoked for any verb with no registered
// handler. The fallback must not fail the connection; unhandled verbs are
// logged and dropped.
func (r *Router) Fallback(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Dispatch routes an inbound message to its registered handler, or the
// fallback if none matches. Handler errors are reported via
// OnUnhandledError and never returned to the caller, so a misbehaving
// handler cannot tear down the connection.
func (r *Router) Dispatch(ctx context.Context, in *Inbound) {
	r.mu.RLock()
	h, ok := r.handlers[in.Verb]
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		h = fallback
	}
	if h == nil {
		return
	}
	if err := h(ctx, in); err != nil && r.OnUnhandledError != nil {
		r.OnUnhandledError(in.Verb, err)
	}
}

// NextSeq allocates the next outbound sequence id (e.g. a SIP CSeq number).
func (r *Router) NextSeq() uint64 {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	r.nextSeq++
	return r.nextSeq
}

// BeginTransaction records a pending outbound transaction expecting exactly
// one response; onResponse is invoked at most once, after which the
// transaction is removed. raw is the serialized message, kept so the
// sweeper can retransmit it; it may be nil for protocols that never
// retransmit.
func (r *Router) BeginTransaction(seq uint64, raw []byte, onResponse func(resp any)) *Transaction {
	tx := &Transaction{Seq: seq, Raw: raw, SentAt: time.Now(), OnResponse: onResponse}
	r.txMu.Lock()
	r.txns[seq] = tx
	r.txMu.Unlock()
	return tx
}

// Resolve completes the transaction for seq with the given response, if one
// is pending, and removes it. It is a no-op (returns false) if the
// transaction was already resolved or never existed.
func (r *Router) Resolve(seq uint64, resp any) bool {
	r.txMu.Lock()
	tx, ok := r.txns[seq]
	if ok {
		delete(r.txns, seq)
	}
	r.txMu.Unlock()

	if !ok || tx.done {
		return false
	}
	tx.done = true
	if tx.OnResponse != nil {
		tx.OnResponse(resp)
	}
	return true
}

// Fail removes the transaction for seq and invokes its callback exactly
// once with a nil response, mirroring Resolve. kind is not passed to the
// callback.
func (r *Router) Fail(seq uint64, kind perrors.Kind) bool {
	r.txMu.Lock()
	tx, ok := r.txns[seq]
	if ok {
		delete(r.txns, seq)
	}
	r.txMu.Unlock()

	if !ok || tx.done {
		return false
	}
	tx.done = true
	if tx.OnResponse != nil {
		tx.OnResponse(nil)
	}
	return true
}

// Cancel drops the transaction for seq without invoking its callback, for
// callers that stopped waiting (context cancellation, teardown).
func (r *Router) Cancel(seq uint64) {
	r.txMu.Lock()
	delete(r.txns, seq)
	r.txMu.Unlock()
}

// Sweep walks the pending transactions under the table lock, invoking fn
// for each. fn may mutate the transaction's Retries but must not call back
// into the router; collect sequence ids and use [Router.Fail] or
// [Router.Resolve] after Sweep returns.
func (r *Router) Sweep(fn func(tx *Transaction)) {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	for _, tx := range r.txns {
		fn(tx)
	}
}

// PendingCount returns the number of outstanding transactions, for tests.
func (r *Router) PendingCount() int {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return len(r.txns)
}

// CancelAll fails every pending transaction without invoking callbacks;
// a cancelled connection never invokes user callbacks.
func (r *Router) CancelAll() {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	for seq := range r.txns {
		delete(r.txns, seq)
	}
}
