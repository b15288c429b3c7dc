// Package sipreg implements the SIP registration controller: the REGISTER
// retry loop over HTTP-Digest (WWW- and Proxy-Authenticate, with
// nonce-count bookkeeping), the periodic re-register, and the
// outstanding-transaction sweeper with UDP retransmit.
package sipreg

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/stcbus/pidgin-sub003/codec"
	"github.com/stcbus/pidgin-sub003/header"
	"github.com/stcbus/pidgin-sub003/internal/randutils"
	"github.com/stcbus/pidgin-sub003/log"
	"github.com/stcbus/pidgin-sub003/perrors"
	"github.com/stcbus/pidgin-sub003/router"
	"github.com/stcbus/pidgin-sub003/sip"
	"github.com/stcbus/pidgin-sub003/transportconn"
	"github.com/stcbus/pidgin-sub003/uri"
)

const (
	// sweepInterval is how often the outstanding-transaction table is
	// walked for retransmits and timeouts.
	sweepInterval = 2500 * time.Millisecond
	// resendAfter/dropAfter are the sweeper's age thresholds.
	resendAfter = 2 * time.Second
	dropAfter   = 5 * time.Second

	// defaultExpires is requested on the initial REGISTER when the caller
	// doesn't specify one.
	defaultExpires = 3600
	// fallbackRefresh is used when a 200 response carries no Expires.
	fallbackRefresh = 600 * time.Second
	// reregisterSlack is subtracted from the granted Expires when
	// scheduling the refresh so the binding never lapses.
	reregisterSlack = 50 * time.Second

	// proxyAuthAttemptCap bounds 407 retries within one REGISTER.
	proxyAuthAttemptCap = 4
)

// Options configures a Controller.
type Options struct {
	AOR       string // e.g. "sip:alice@example.com"
	Registrar string // registrar host, with or without a port
	Network   string // "udp" or "tcp"
	Username  string
	Password  string
	Log       *slog.Logger
}

// Controller drives one account's SIP registration state and every signed
// request it sends thereafter (SUBSCRIBE/PUBLISH/MESSAGE are sent through
// [Controller.SendSigned] by the SIMPLE presence engine, reusing this
// controller's cached digest credentials).
type Controller struct {
	opts Options
	log  *slog.Logger

	aor     sip.URI
	contact sip.URI
	callID  string
	router  *router.Router

	conn   *transportconn.Conn
	reader messageReader

	mu          sync.Mutex
	registered  bool
	refreshTmr  *time.Timer
	sweepTicker *time.Ticker
	closed      bool
	closeCh     chan struct{}

	// cached digest material per realm, reused by SendSigned so
	// SUBSCRIBE/PUBLISH/MESSAGE don't have to re-run the 401 round trip
	// for every request once REGISTER has established it.
	realmCreds map[string]*cachedChallenge

	// OnRequest is invoked from the read loop for every inbound SIP
	// request (e.g. NOTIFY) that isn't part of an outstanding transaction.
	// Set by the SIMPLE presence engine.
	OnRequest func(req *sip.Request)

	// OnStateChange reports registration transitions to the caller (account
	// connection state machine).
	OnStateChange func(registered bool)
	// OnError reports a fatal error (e.g. AuthFailed) to the caller.
	OnError func(kind perrors.Kind, detail string)
}

type cachedChallenge struct {
	realm     string
	nonce     string
	opaque    string
	qop       string
	algorithm string
	proxy     bool
	nc        uint
}

type messageReader interface {
	ReadMessage() (sip.Message, error)
}

// New creates a Controller. It does not dial; call [Controller.Start].
func New(opts Options) (*Controller, error) {
	aorURI, err := uri.ParseSIP(opts.AOR)
	if err != nil {
		return nil, perrors.New(perrors.KindInvalidSettings, "malformed AOR", err)
	}
	l := opts.Log
	if l == nil {
		l = log.Default()
	}
	return &Controller{
		opts:       opts,
		log:        l,
		aor:        aorURI,
		callID:     sip.GenerateCallID(0, ""),
		router:     router.New(),
		realmCreds: make(map[string]*cachedChallenge),
		closeCh:    make(chan struct{}),
	}, nil
}

// Start dials the registrar, starts the read and sweep loops, and performs
// the initial REGISTER.
func (c *Controller) Start(ctx context.Context) error {
	network := c.opts.Network
	if network == "" {
		network = "udp"
	}
	conn, err := transportconn.Dial(ctx, transportconn.Options{
		Network:    network,
		Addr:       c.opts.Registrar,
		SRVService: "sip",
		SRVPort:    5060,
	}, c.onTransportLost)
	if err != nil {
		return err
	}
	c.conn = conn
	c.contact = &uri.SIP{User: uri.User(c.aorUsername()), Addr: uri.HostPort(conn.PublicIP, localPort(conn))}

	if network == "tcp" {
		c.reader = codec.NewSIPFramer(conn, nil)
	} else {
		c.reader = &packetReader{conn: conn}
	}

	go c.readLoop()

	c.mu.Lock()
	c.sweepTicker = time.NewTicker(sweepInterval)
	c.mu.Unlock()
	go c.sweepLoop()

	return c.Register(ctx, defaultExpires)
}

// Stop unregisters with a zero Expires and tears the connection down.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.refreshTmr != nil {
		c.refreshTmr.Stop()
	}
	if c.sweepTicker != nil {
		c.sweepTicker.Stop()
	}
	c.mu.Unlock()

	_ = c.Register(ctx, 0)
	close(c.closeCh)
	if c.conn != nil {
		c.conn.Out.Cancel()
		_ = c.conn.Close()
	}
	c.router.CancelAll()
}

func localPort(conn *transportconn.Conn) uint16 {
	switch addr := conn.LocalAddr().(type) {
	case *net.TCPAddr:
		return uint16(addr.Port) //nolint:gosec
	case *net.UDPAddr:
		return uint16(addr.Port) //nolint:gosec
	default:
		return 0
	}
}

func (c *Controller) aorUsername() string {
	if s, ok := c.aor.(*uri.SIP); ok {
		return s.User.Username()
	}
	return c.opts.Username
}

func (c *Controller) onTransportLost(err error) {
	if c.OnError != nil {
		c.OnError(perrors.KindNetwork, "lost SIP connection")
	}
}

// Register sends REGISTER, answering 401/407 digest challenges, and on
// success schedules the next refresh.
func (c *Controller) Register(ctx context.Context, expires int) error {
	auth := &authAttempt{}
	for {
		req, err := c.buildRegister(expires, auth)
		if err != nil {
			return err
		}
		resp, err := c.sendAndWait(ctx, req)
		if err != nil {
			return err
		}
		switch resp.Status {
		case sip.ResponseStatusOK:
			c.onRegisterOK(resp, expires)
			return nil
		case sip.ResponseStatusUnauthorized:
			auth.wwwAttempts++
			if auth.wwwAttempts > 1 {
				return c.authFailed("REGISTER rejected twice for the same realm")
			}
			chal, ok := firstWWWChallenge(resp)
			if !ok {
				return c.authFailed("401 with no WWW-Authenticate challenge")
			}
			auth.www = chal
		case sip.ResponseStatusProxyAuthenticationRequired:
			auth.proxyAttempts++
			if auth.proxyAttempts > proxyAuthAttemptCap {
				return c.authFailed("exceeded proxy auth retry cap")
			}
			chal, ok := firstProxyChallenge(resp)
			if !ok {
				return c.authFailed("407 with no Proxy-Authenticate challenge")
			}
			auth.proxy = chal
		default:
			return perrors.New(perrors.KindProtocol,
				fmt.Sprintf("unexpected REGISTER response %d", resp.Status), nil)
		}
	}
}

type authAttempt struct {
	www, proxy    *header.DigestChallenge
	wwwAttempts   int
	proxyAttempts int
}

func (c *Controller) authFailed(detail string) error {
	if c.OnError != nil {
		c.OnError(perrors.KindAuthFailed, detail)
	}
	return perrors.New(perrors.KindAuthFailed, detail, nil)
}

func (c *Controller) buildRegister(expires int, auth *authAttempt) (*sip.Request, error) {
	req, err := sip.NewRequest(sip.RequestMethodRegister, c.aor, c.aor, c.aor, &sip.RequestOptions{
		CallID:  c.callID,
		Headers: make(sip.Headers),
	})
	if err != nil {
		return nil, perrors.New(perrors.KindProtocol, "failed to build REGISTER", err)
	}
	req.Headers.Set(&header.Expires{Duration: time.Duration(expires) * time.Second})
	if c.contact != nil {
		req.Headers.Set(header.Contact{{URI: c.contact}})
	}

	if auth.www != nil {
		cred := c.authorizationFor(auth.www, false, "REGISTER", req.URI)
		req.Headers.Set(&header.Authorization{AuthCredentials: cred})
	}
	if auth.proxy != nil {
		cred := c.authorizationFor(auth.proxy, true, "REGISTER", req.URI)
		req.Headers.Set(&header.ProxyAuthorization{AuthCredentials: cred})
	}
	return req, nil
}

// authorizationFor computes a DigestCredentials for chal and bumps the
// per-realm nonce-count.
func (c *Controller) authorizationFor(chal *header.DigestChallenge, proxy bool, method string, reqURI sip.URI) *header.DigestCredentials {
	c.mu.Lock()
	cc, ok := c.realmCreds[chal.Realm]
	if !ok || cc.nonce != chal.Nonce {
		cc = &cachedChallenge{realm: chal.Realm, nonce: chal.Nonce, opaque: chal.Opaque, algorithm: chal.Algorithm, proxy: proxy}
		if len(chal.QOP) > 0 {
			cc.qop = chal.QOP[0]
		}
		c.realmCreds[chal.Realm] = cc
	}
	cc.nc++
	nc := cc.nc
	qop := cc.qop
	if qop == "" {
		qop = "auth"
	}
	c.mu.Unlock()

	cnonce := randutils.RandString(16)
	resp := digestResponse(c.opts.Username, chal.Realm, c.opts.Password, method, reqURI.Render(nil), chal.Nonce, cnonce, qop, nc)

	return &header.DigestCredentials{
		Username:   c.opts.Username,
		Realm:      chal.Realm,
		Nonce:      chal.Nonce,
		Response:   resp,
		Algorithm:  chal.Algorithm,
		CNonce:     cnonce,
		Opaque:     chal.Opaque,
		QOP:        qop,
		NonceCount: nc,
		URI:        reqURI,
	}
}

func firstWWWChallenge(resp *sip.Response) (*header.DigestChallenge, bool) {
	for h := range resp.Headers.WWWAuthenticate() {
		if chal, ok := h.AuthChallenge.(*header.DigestChallenge); ok {
			return chal, true
		}
	}
	return nil, false
}

func firstProxyChallenge(resp *sip.Response) (*header.DigestChallenge, bool) {
	for h := range resp.Headers.ProxyAuthenticate() {
		if chal, ok := h.AuthChallenge.(*header.DigestChallenge); ok {
			return chal, true
		}
	}
	return nil, false
}

func (c *Controller) onRegisterOK(resp *sip.Response, requestedExpires int) {
	c.mu.Lock()
	c.registered = requestedExpires > 0
	if c.refreshTmr != nil {
		c.refreshTmr.Stop()
	}
	closed := c.closed
	c.mu.Unlock()

	if closed || requestedExpires == 0 {
		return
	}

	refresh := fallbackRefresh
	if exp, ok := resp.Headers.Expires(); ok && exp.Duration > reregisterSlack {
		refresh = exp.Duration - reregisterSlack
	}

	c.mu.Lock()
	c.refreshTmr = time.AfterFunc(refresh, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Register(ctx, requestedExpires); err != nil && c.OnError != nil {
			c.OnError(perrors.KindNetwork, "re-register failed: "+err.Error())
		}
	})
	c.mu.Unlock()

	if c.OnStateChange != nil {
		c.OnStateChange(true)
	}
}

// SendSigned sends req, attaching cached Authorization/Proxy-Authorization
// credentials if this controller already holds digest material for any
// realm. It does not
// itself retry on a fresh 401/407 challenge -- callers that need the full
// challenge/response loop should route through Register-style code; in
// practice the registrar challenge is reused for the same realm.
func (c *Controller) SendSigned(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	c.mu.Lock()
	var cc *cachedChallenge
	for _, v := range c.realmCreds {
		cc = v
		break
	}
	c.mu.Unlock()

	if cc != nil {
		cred := c.authorizationForCached(cc, string(req.Method), req.URI)
		if cc.proxy {
			req.Headers.Set(&header.ProxyAuthorization{AuthCredentials: cred})
		} else {
			req.Headers.Set(&header.Authorization{AuthCredentials: cred})
		}
	}
	return c.sendAndWait(ctx, req)
}

func (c *Controller) authorizationForCached(cc *cachedChallenge, method string, reqURI sip.URI) *header.DigestCredentials {
	c.mu.Lock()
	cc.nc++
	nc := cc.nc
	qop := cc.qop
	if qop == "" {
		qop = "auth"
	}
	c.mu.Unlock()

	cnonce := randutils.RandString(16)
	resp := digestResponse(c.opts.Username, cc.realm, c.opts.Password, method, reqURI.Render(nil), cc.nonce, cnonce, qop, nc)
	return &header.DigestCredentials{
		Username:   c.opts.Username,
		Realm:      cc.realm,
		Nonce:      cc.nonce,
		Response:   resp,
		Algorithm:  cc.algorithm,
		CNonce:     cnonce,
		Opaque:     cc.opaque,
		QOP:        qop,
		NonceCount: nc,
		URI:        reqURI,
	}
}

// sendAndWait assigns a CSeq, records the transaction in the router's
// table, and blocks until the matching response arrives, the sweeper drops
// it, or the caller cancels. Exactly one of those outcomes reaches the
// caller.
func (c *Controller) sendAndWait(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	seq := c.router.NextSeq()
	if cseq, ok := req.Headers.CSeq(); ok {
		cseq.SeqNum = uint(seq)
	}
	raw := []byte(req.Render(nil))

	respCh := make(chan *sip.Response, 1)
	c.router.BeginTransaction(seq, raw, func(resp any) {
		r, _ := resp.(*sip.Response)
		respCh <- r
	})

	c.conn.Out.Enqueue(raw)

	select {
	case resp := <-respCh:
		if resp == nil {
			return nil, perrors.New(perrors.KindTimeout, "SIP transaction timed out", nil)
		}
		return resp, nil
	case <-ctx.Done():
		c.router.Cancel(seq)
		return nil, perrors.New(perrors.KindCancelled, "", ctx.Err())
	case <-c.closeCh:
		c.router.Cancel(seq)
		return nil, perrors.New(perrors.KindCancelled, "connection closed", nil)
	}
}

// Respond sends a response to an inbound request received via OnRequest
// (e.g. the 200 OK a SIMPLE watcher owes an inbound SUBSCRIBE/NOTIFY). It
// does not wait for anything further; responses never start a transaction.
func (c *Controller) Respond(req *sip.Request, status sip.ResponseStatus, reason string, extra ...sip.Header) error {
	hdrs := make(sip.Headers)
	for _, h := range extra {
		hdrs.Set(h)
	}
	resp, err := req.NewResponse(status, &sip.ResponseOptions{
		Reason:  sip.ResponseReason(reason),
		Headers: hdrs,
	})
	if err != nil {
		return perrors.New(perrors.KindProtocol, "failed to build response", err)
	}
	c.conn.Out.Enqueue([]byte(resp.Render(nil)))
	return nil
}

func (c *Controller) readLoop() {
	for {
		msg, err := c.reader.ReadMessage()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *sip.Response:
			c.dispatchResponse(m)
		case *sip.Request:
			if c.OnRequest != nil {
				c.OnRequest(m)
			}
		}
	}
}

func (c *Controller) dispatchResponse(resp *sip.Response) {
	cseq, ok := resp.Headers.CSeq()
	if !ok {
		return
	}
	c.router.Resolve(uint64(cseq.SeqNum), resp)
}

// sweepLoop walks the transaction table every sweepInterval: a request
// older than resendAfter with no retries yet is retransmitted once (UDP
// only); one older than dropAfter after a retransmit times out.
func (c *Controller) sweepLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case <-c.sweepTicker.C:
			c.sweep()
		}
	}
}

func (c *Controller) sweep() {
	now := time.Now()
	udp := c.opts.Network == "" || c.opts.Network == "udp"

	var drop []uint64
	var resend [][]byte
	c.router.Sweep(func(tx *router.Transaction) {
		age := now.Sub(tx.SentAt)
		switch {
		case age > dropAfter && tx.Retries >= 1:
			drop = append(drop, tx.Seq)
		case age > resendAfter && tx.Retries == 0 && udp:
			tx.Retries++
			resend = append(resend, tx.Raw)
		}
	})

	for _, raw := range resend {
		c.conn.Out.Enqueue(raw)
	}
	for _, seq := range drop {
		c.router.Fail(seq, perrors.KindTimeout)
	}
}
