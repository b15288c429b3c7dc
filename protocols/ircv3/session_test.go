package ircv3_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/conversation"
	"github.com/stcbus/pidgin-sub003/protocols/ircv3"
)

// fakeServer accepts one connection and exposes its lines for the test to
// drive and assert against.
type fakeServer struct {
	ln   net.Listener
	conn net.Conn
	r    *bufio.Reader
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeServer{ln: ln}
}

func (s *fakeServer) accept(t *testing.T) {
	t.Helper()
	conn, err := s.ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	s.conn = conn
	s.r = bufio.NewReader(conn)
}

func (s *fakeServer) readLine(t *testing.T) string {
	t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := s.r.ReadString('\n')
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (s *fakeServer) send(t *testing.T, line string) {
	t.Helper()
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSessionHandshakeAndPingPong(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.ln.Close()

	accepted := make(chan struct{})
	go func() {
		srv.accept(t)
		close(accepted)
	}()

	convs := conversation.NewRegistry(nil)
	sess, err := ircv3.New(ircv3.Options{
		Account:       account.Key{Username: "alice", ProtocolID: "ircv3"},
		Network:       "tcp",
		Addr:          srv.ln.Addr().String(),
		Nick:          "alice",
		Ident:         "alice",
		RealName:      "Alice",
		Conversations: convs,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sess.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-accepted

	if got := srv.readLine(t); got != "CAP LS 302" {
		t.Fatalf("first line = %q, want CAP LS 302", got)
	}
	if got := srv.readLine(t); got != "USER alice 0 * :Alice" {
		t.Fatalf("second line = %q", got)
	}
	if got := srv.readLine(t); got != "NICK alice" {
		t.Fatalf("third line = %q", got)
	}

	srv.send(t, ":irc.example.org CAP alice LS :multi-prefix server-time")
	if got := srv.readLine(t); got != "CAP END" {
		t.Fatalf("expected CAP END after terminal CAP LS, got %q", got)
	}

	srv.send(t, "PING :abc123")
	if got := srv.readLine(t); got != "PONG abc123" {
		t.Fatalf("expected PONG abc123, got %q", got)
	}

	srv.send(t, ":bob!b@host PRIVMSG alice :hello")
	waitForConversations(t, convs, account.Key{Username: "alice", ProtocolID: "ircv3"}, "bob")
}

func waitForConversations(t *testing.T, reg *conversation.Registry, acct account.Key, peer string) {
	t.Helper()
	key := conversation.Key{Account: acct, Peer: peer, Kind: conversation.KindIM}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c := reg.FindOrCreate(key)
		if msgs := c.Messages(); len(msgs) > 0 {
			if msgs[0].Body != "hello" {
				t.Fatalf("message body = %q", msgs[0].Body)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("PRIVMSG never reached the conversation registry")
}
