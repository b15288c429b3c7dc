package sipreg

import (
	"context"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stcbus/pidgin-sub003/header"
	"github.com/stcbus/pidgin-sub003/internal/testutil/netmock"
	"github.com/stcbus/pidgin-sub003/outqueue"
	"github.com/stcbus/pidgin-sub003/sip"
	"github.com/stcbus/pidgin-sub003/transportconn"
)

// fakeRegistrar answers REGISTER over a loopback UDP socket: a digest
// challenge for the first request, 200 OK for everything after.
func fakeRegistrar(t *testing.T, reqs chan<- *sip.Request) net.PacketConn {
	t.Helper()

	srv, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 64*1024)
		challenged := false
		for {
			n, raddr, err := srv.ReadFrom(buf)
			if err != nil {
				return
			}
			msg, err := sip.ParsePacket(slices.Clone(buf[:n]))
			if err != nil {
				continue
			}
			req, ok := msg.(*sip.Request)
			if !ok {
				continue
			}
			select {
			case reqs <- req:
			default:
			}

			var resp *sip.Response
			if !challenged {
				challenged = true
				resp, err = req.NewResponse(sip.ResponseStatusUnauthorized, nil)
				if err != nil {
					continue
				}
				resp.Headers.Set(&header.WWWAuthenticate{AuthChallenge: &header.DigestChallenge{
					Realm: "ex",
					Nonce: "n1",
					QOP:   []string{"auth"},
				}})
			} else {
				resp, err = req.NewResponse(sip.ResponseStatusOK, &sip.ResponseOptions{
					Headers: make(sip.Headers).Set(&header.Expires{Duration: 900 * time.Second}),
				})
				if err != nil {
					continue
				}
			}
			if _, err := srv.WriteTo([]byte(resp.Render(nil)), raddr); err != nil {
				return
			}
		}
	}()
	return srv
}

func TestRegisterAnswersDigestChallenge(t *testing.T) {
	reqs := make(chan *sip.Request, 4)
	srv := fakeRegistrar(t, reqs)
	defer srv.Close()

	c, err := New(Options{
		AOR:       "sip:alice@ex",
		Registrar: srv.LocalAddr().String(),
		Network:   "udp",
		Username:  "alice",
		Password:  "secret",
	})
	require.NoError(t, err)

	registered := make(chan bool, 1)
	c.OnStateChange = func(ok bool) { registered <- ok }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	first := <-reqs
	_, hasAuth := firstAuthorization(first)
	require.False(t, hasAuth, "initial REGISTER must carry no Authorization header")

	second := <-reqs
	crd, hasAuth := firstAuthorization(second)
	require.True(t, hasAuth, "retried REGISTER must carry an Authorization header")
	require.Equal(t, "alice", crd.Username)
	require.Equal(t, "ex", crd.Realm)
	require.Equal(t, "n1", crd.Nonce)
	require.Equal(t, uint(1), crd.NonceCount)
	want := digestResponse("alice", "ex", "secret", "REGISTER", crd.URI.Render(nil), "n1", crd.CNonce, "auth", 1)
	require.Equal(t, want, crd.Response)

	select {
	case ok := <-registered:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("registration state change never fired")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	c.Stop(stopCtx)
}

func firstAuthorization(req *sip.Request) (*header.DigestCredentials, bool) {
	for h := range req.Headers.Authorization() {
		if crd, ok := h.AuthCredentials.(*header.DigestCredentials); ok {
			return crd, true
		}
	}
	return nil, false
}

func TestSweepSurfacesTimeoutAfterRetransmit(t *testing.T) {
	c, err := New(Options{AOR: "sip:alice@ex", Registrar: "127.0.0.1:5060", Network: "tcp"})
	require.NoError(t, err)

	respCh := make(chan *sip.Response, 1)
	seq := c.router.NextSeq()
	tx := c.router.BeginTransaction(seq, nil, func(resp any) {
		r, _ := resp.(*sip.Response)
		respCh <- r
	})
	tx.SentAt = time.Now().Add(-6 * time.Second)
	tx.Retries = 1

	c.sweep()

	select {
	case resp := <-respCh:
		require.Nil(t, resp, "a dropped transaction must deliver a nil response")
	default:
		t.Fatal("stale transaction was not dropped")
	}
	require.Zero(t, c.router.PendingCount())
}

func TestSweepRetransmitsOnceOverUDP(t *testing.T) {
	ctrl := gomock.NewController(t)

	raw := []byte("REGISTER sip:alice@ex SIP/2.0\r\nContent-Length: 0\r\n\r\n")
	written := make(chan []byte, 1)

	mc := netmock.NewMockConn(ctrl)
	mc.EXPECT().
		Write(gomock.AssignableToTypeOf([]byte(nil))).
		DoAndReturn(func(b []byte) (int, error) {
			written <- slices.Clone(b)
			return len(b), nil
		}).
		Times(1)

	c, err := New(Options{AOR: "sip:alice@ex", Registrar: "127.0.0.1:5060", Network: "udp"})
	require.NoError(t, err)
	c.conn = &transportconn.Conn{Conn: mc, Out: outqueue.New(mc, nil)}

	seq := c.router.NextSeq()
	tx := c.router.BeginTransaction(seq, raw, func(any) {})
	tx.SentAt = time.Now().Add(-3 * time.Second)

	c.sweep()

	select {
	case b := <-written:
		require.Equal(t, raw, b, "retransmit must resend the same bytes")
	case <-time.After(time.Second):
		t.Fatal("no retransmit observed")
	}
	require.Equal(t, 1, tx.Retries)
	require.Equal(t, 1, c.router.PendingCount(), "transaction stays pending until the drop threshold")

	// A second sweep before the drop threshold must not resend.
	c.sweep()
}
