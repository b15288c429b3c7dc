package simple

import (
	"context"
	"time"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/conversation"
	"github.com/stcbus/pidgin-sub003/credentials"
	"github.com/stcbus/pidgin-sub003/protocols"
	"github.com/stcbus/pidgin-sub003/sipreg"
)

// ProtocolID identifies SIMPLE accounts in the protocol registry.
const ProtocolID account.ProtocolID = "simple"

// Factory builds SIMPLE sessions: a registration controller plus a
// presence engine on top of it. Recognized settings: "server" (registrar
// host or host:port), "transport" ("udp" or "tcp", default "udp"), "aor"
// (defaults to sip:<username>@<server>).
type Factory struct {
	// Credentials supplies the account password at dial time.
	Credentials credentials.Provider
}

func (Factory) ProtocolID() account.ProtocolID { return ProtocolID }

func (f Factory) Connect(ctx context.Context, acct *account.Account, conv *conversation.Registry, ev protocols.Events) (protocols.Session, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}

	secret := credentials.Secret("")
	if f.Credentials != nil {
		s, err := f.Credentials.Lookup(ctx, acct.Key)
		if err != nil {
			return nil, err
		}
		secret = s
	}

	server := acct.Settings.String("server", "")
	aor := acct.Settings.String("aor", "sip:"+acct.Username+"@"+server)
	ctrl, err := sipreg.New(sipreg.Options{
		AOR:       aor,
		Registrar: server,
		Network:   acct.Settings.String("transport", "udp"),
		Username:  acct.Username,
		Password:  string(secret),
	})
	if err != nil {
		return nil, err
	}
	eng, err := New(ctrl, Options{
		AOR:           aor,
		Account:       acct.Key,
		Conversations: conv,
	})
	if err != nil {
		return nil, err
	}
	Bind(ctrl, eng)
	ctrl.OnError = ev.OnError
	ctrl.OnStateChange = ev.OnStateChange

	if err := ctrl.Start(ctx); err != nil {
		return nil, err
	}
	eng.Start()
	return &session{ctrl: ctrl, eng: eng}, nil
}

// session couples the engine and controller lifetimes for the registry.
type session struct {
	ctrl *sipreg.Controller
	eng  *Engine
}

func (s *session) Stop() {
	s.eng.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.ctrl.Stop(ctx)
}

var _ protocols.Factory = Factory{}

func init() {
	protocols.Register(Factory{})
}
