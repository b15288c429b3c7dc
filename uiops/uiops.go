// Package uiops defines the UI-operations interface: the callbacks the
// core invokes on the UI, and the couple of hooks the UI invokes back into
// the core (network connected/disconnected).
//
// The front-end itself lives elsewhere; this package only names the
// interface at the boundary.
package uiops

import (
	"context"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/connstate"
	"github.com/stcbus/pidgin-sub003/conversation"
	"github.com/stcbus/pidgin-sub003/perrors"
)

// Ops is implemented by the UI front-end and called by the core.
type Ops interface {
	OnConnectionStateChanged(acct account.Key, old, new connstate.State)
	OnMessage(c *conversation.Conversation, m conversation.Message)
	OnConversationOpened(c *conversation.Conversation)
	OnConversationClosed(c *conversation.Conversation)
	OnError(acct account.Key, kind perrors.Kind, detail string)
	// OnRequestInput asks the UI for a value (e.g. a one-time SASL
	// challenge response) and blocks until the user answers or ctx is
	// cancelled.
	OnRequestInput(ctx context.Context, acct account.Key, prompt string) (string, error)
}

// NetworkObserver is implemented by the core and called by the UI (or the
// runtime's own OS network monitor) when connectivity changes.
type NetworkObserver interface {
	NetworkConnected()
	NetworkDisconnected()
}

// Noop is a zero-effort [Ops] implementation, useful for tests and headless
// operation.
type Noop struct{}

func (Noop) OnConnectionStateChanged(account.Key, connstate.State, connstate.State) {}
func (Noop) OnMessage(*conversation.Conversation, conversation.Message)             {}
func (Noop) OnConversationOpened(*conversation.Conversation)                       {}
func (Noop) OnConversationClosed(*conversation.Conversation)                       {}
func (Noop) OnError(account.Key, perrors.Kind, string)                             {}
func (Noop) OnRequestInput(context.Context, account.Key, string) (string, error)    { return "", nil }

var _ Ops = Noop{}
