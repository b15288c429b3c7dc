package ircv3

import (
	"context"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/conversation"
	"github.com/stcbus/pidgin-sub003/protocols"
)

// ProtocolID identifies IRCv3 accounts in the protocol registry.
const ProtocolID account.ProtocolID = "ircv3"

// Factory builds IRCv3 sessions from account settings. Recognized settings:
// "server" (host or host:port), "use-tls" (default true), "ident" and
// "real-name" (both default to the account username).
type Factory struct{}

func (Factory) ProtocolID() account.ProtocolID { return ProtocolID }

func (Factory) Connect(ctx context.Context, acct *account.Account, conv *conversation.Registry, ev protocols.Events) (protocols.Session, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}

	s, err := New(Options{
		Account:       acct.Key,
		Addr:          acct.Settings.String("server", ""),
		TLS:           acct.Settings.Bool("use-tls", true),
		Nick:          acct.Username,
		Ident:         acct.Settings.String("ident", acct.Username),
		RealName:      acct.Settings.String("real-name", acct.Username),
		Conversations: conv,
	})
	if err != nil {
		return nil, err
	}
	s.OnError = ev.OnError
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

var _ protocols.Factory = Factory{}

func init() {
	protocols.Register(Factory{})
}
