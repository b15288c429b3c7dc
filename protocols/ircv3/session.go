// Package ircv3 implements the IRCv3 capability-negotiation and session
// controller: CAP LS/END sequencing, USER/NICK registration, PING/PONG
// keep-alive, and PRIVMSG/NOTICE dispatch into the conversation registry,
// built on
// this module's own [codec.LineFramer] and [router.Router] rather than a
// line-protocol library.
package ircv3

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/codec"
	"github.com/stcbus/pidgin-sub003/conversation"
	"github.com/stcbus/pidgin-sub003/internal/grammar"
	"github.com/stcbus/pidgin-sub003/log"
	"github.com/stcbus/pidgin-sub003/perrors"
	"github.com/stcbus/pidgin-sub003/router"
	"github.com/stcbus/pidgin-sub003/transportconn"
)

// Options configures a Session.
type Options struct {
	Account account.Key

	Network string // "tcp"
	Addr    string
	TLS     bool

	Nick     string
	Ident    string
	RealName string

	Conversations *conversation.Registry
	Log           *slog.Logger
}

// Session is one IRCv3 connection's capability negotiation and message
// dispatch state.
type Session struct {
	opts Options
	log  *slog.Logger

	conn   *transportconn.Conn
	framer *codec.LineFramer
	router *router.Router

	mu       sync.Mutex
	caps     map[string]bool
	capDone  bool
	capDoneC chan struct{}

	closeCh chan struct{}

	// OnError reports a fatal condition (lost connection, invalid
	// settings) to the caller (the account connection state machine).
	OnError func(kind perrors.Kind, detail string)
}

// Validate rejects settings that cannot produce a legal registration,
// such as whitespace in the nick, ident or server name.
func (o Options) Validate() error {
	if !grammar.IsToken(o.Nick) {
		return perrors.New(perrors.KindInvalidSettings, "nick is not a valid IRC token", nil)
	}
	if o.Ident == "" || strings.ContainsAny(o.Ident, " \t") {
		return perrors.New(perrors.KindInvalidSettings, "ident is empty or contains whitespace", nil)
	}
	if strings.ContainsAny(o.Addr, " \t") {
		return perrors.New(perrors.KindInvalidSettings, "server contains whitespace", nil)
	}
	return nil
}

// New creates a Session. It does not dial; call [Session.Start].
func New(opts Options) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	l := opts.Log
	if l == nil {
		l = log.Default()
	}
	s := &Session{
		opts:     opts,
		log:      l,
		router:   router.New(),
		caps:     make(map[string]bool),
		capDoneC: make(chan struct{}),
		closeCh:  make(chan struct{}),
	}
	s.router.Handle("CAP", s.handleCAP)
	s.router.Handle("PING", s.handlePing)
	s.router.Handle("PRIVMSG", s.handleMessage(false))
	s.router.Handle("NOTICE", s.handleMessage(true))
	s.router.Fallback(s.handleFallback)
	s.router.OnUnhandledError = func(verb string, err error) {
		s.log.Debug("ircv3 handler error", "verb", verb, "err", err)
	}
	return s, nil
}

// Start dials the server, begins the read loop, and sends the
// CAP LS 302 / USER / NICK sequence, in order.
func (s *Session) Start(ctx context.Context) error {
	network := s.opts.Network
	if network == "" {
		network = "tcp"
	}
	srvService, srvPort := "irc", uint16(6667)
	if s.opts.TLS {
		srvService, srvPort = "ircs", 6697
	}
	conn, err := transportconn.Dial(ctx, transportconn.Options{
		Network:    network,
		Addr:       s.opts.Addr,
		TLS:        s.opts.TLS,
		SRVService: srvService,
		SRVPort:    srvPort,
	}, s.onTransportLost)
	if err != nil {
		return err
	}
	s.conn = conn
	s.framer = codec.NewLineFramer(conn)

	go s.readLoop()

	s.send("CAP LS 302")
	s.send(fmt.Sprintf("USER %s 0 * :%s", s.opts.Ident, s.opts.RealName))
	s.send("NICK " + s.opts.Nick)
	return nil
}

// Stop sends a best-effort QUIT, without waiting for a response, and
// tears the connection down.
func (s *Session) Stop() {
	select {
	case <-s.closeCh:
		return
	default:
		close(s.closeCh)
	}
	s.send("QUIT :leaving")
	s.conn.Out.Cancel()
	s.router.CancelAll()
	_ = s.conn.Close()
}

func (s *Session) onTransportLost(err error) {
	if s.OnError != nil {
		s.OnError(perrors.KindNetwork, "lost IRCv3 connection")
	}
}

func (s *Session) send(line string) {
	s.conn.Out.Enqueue([]byte(line + "\r\n"))
}

func (s *Session) readLoop() {
	for {
		line, err := s.framer.ReadFrame()
		if err != nil {
			select {
			case <-s.closeCh:
			default:
				if s.OnError != nil {
					kind := perrors.KindNetwork
					if pe, ok := err.(*perrors.Error); ok { //nolint:errorlint
						kind = pe.Kind
					}
					s.OnError(kind, "IRCv3 read failed")
				}
			}
			return
		}

		in, perr := parseLine(string(line))
		if perr != nil {
			// dropped, connection continues.
			s.log.Debug("dropping malformed IRCv3 frame", "line", string(line))
			continue
		}

		select {
		case <-s.closeCh:
			return
		default:
		}
		s.router.Dispatch(context.Background(), in)
	}
}

// handleCAP accumulates capability tokens from every "CAP * LS ..."
// continuation and the one terminal "CAP <nick> LS ..." line, then issues
// CAP END.
func (s *Session) handleCAP(_ context.Context, in *router.Inbound) error {
	if len(in.Params) < 3 || !strings.EqualFold(in.Params[1], "LS") {
		return nil
	}
	tokens := strings.Fields(in.Params[2])

	s.mu.Lock()
	for _, t := range tokens {
		s.caps[t] = true
	}
	terminal := in.Params[0] != "*"
	alreadyDone := s.capDone
	if terminal {
		s.capDone = true
	}
	s.mu.Unlock()

	if terminal && !alreadyDone {
		s.send("CAP END")
		close(s.capDoneC)
	}
	return nil
}

// Capabilities returns a snapshot of the negotiated capability set.
func (s *Session) Capabilities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.caps))
	for c := range s.caps {
		out = append(out, c)
	}
	return out
}

// handlePing answers every PING with PONG.
func (s *Session) handlePing(_ context.Context, in *router.Inbound) error {
	if len(in.Params) == 0 {
		s.send("PONG")
		return nil
	}
	s.send("PONG " + in.Params[len(in.Params)-1])
	return nil
}

// handleMessage dispatches PRIVMSG (notify=false) / NOTICE (notify=true)
// with exactly two params into the conversation registry: a target starting
// with '#' is a Chat, otherwise an IM keyed on the sender's nick.
func (s *Session) handleMessage(notify bool) router.Handler {
	return func(_ context.Context, in *router.Inbound) error {
		if len(in.Params) != 2 {
			return nil
		}
		target, text := in.Params[0], in.Params[1]
		sender := senderNick(in.Source)

		kind := conversation.KindIM
		peer := sender
		if strings.HasPrefix(target, "#") {
			kind = conversation.KindChat
			peer = target
		}

		if s.opts.Conversations == nil {
			return nil
		}
		conv := s.opts.Conversations.FindOrCreate(conversation.Key{
			Account: s.opts.Account,
			Peer:    peer,
			Kind:    kind,
		})
		s.opts.Conversations.WriteMessage(conv, conversation.Message{
			Sender: sender,
			Body:   text,
			SentAt: time.Now(),
			Notify: notify,
		})
		return nil
	}
}

// handleFallback logs unhandled commands without failing the connection.
func (s *Session) handleFallback(_ context.Context, in *router.Inbound) error {
	s.log.Debug("unhandled IRCv3 command", "verb", in.Verb, "source", in.Source, "params", in.Params)
	return nil
}
