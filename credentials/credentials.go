// Package credentials defines the credential-provider collaborator
// interface and the two in-process providers ("noop", "internal"); the
// keyring-backed ones (libsecret, kwallet) live with the OS-integration
// collaborators.
package credentials

import (
	"context"
	"sync"

	"github.com/stcbus/pidgin-sub003/account"
	"github.com/stcbus/pidgin-sub003/perrors"
)

// ProviderID selects the active credential provider
// (`/purple/credentials/active-provider`).
type ProviderID string

const (
	ProviderNoop      ProviderID = "noop"
	ProviderLibSecret ProviderID = "libsecret"
	ProviderKWallet   ProviderID = "kwallet"
	ProviderInternal  ProviderID = "internal"
)

// Secret is an opaque credential value (typically a password or token).
type Secret string

// Provider is the interface the core calls; implemented by a provider
// plugin.
type Provider interface {
	Lookup(ctx context.Context, key account.Key) (Secret, error)
	Store(ctx context.Context, key account.Key, secret Secret) error
	Clear(ctx context.Context, key account.Key) error
}

// Noop never stores anything; Lookup always reports no secret available.
type Noop struct{}

func (Noop) Lookup(context.Context, account.Key) (Secret, error) {
	return "", perrors.New(perrors.KindAuthFailed, "no credential provider configured", nil)
}

func (Noop) Store(context.Context, account.Key, Secret) error { return nil }

func (Noop) Clear(context.Context, account.Key) error { return nil }

// Internal keeps secrets in process memory only; nothing survives restart.
type Internal struct {
	mu      sync.RWMutex
	secrets map[account.Key]Secret
}

// NewInternal creates an empty in-process provider.
func NewInternal() *Internal {
	return &Internal{secrets: make(map[account.Key]Secret)}
}

func (p *Internal) Lookup(_ context.Context, key account.Key) (Secret, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.secrets[key]
	if !ok {
		return "", perrors.New(perrors.KindAuthFailed, "no stored secret", nil)
	}
	return s, nil
}

func (p *Internal) Store(_ context.Context, key account.Key, secret Secret) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.secrets[key] = secret
	return nil
}

func (p *Internal) Clear(_ context.Context, key account.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.secrets, key)
	return nil
}
