// Package account implements the account and proxy data model: a typed
// per-account settings map, proxy configuration, and the process-wide
// account manager.
package account

import (
	"sync"

	"github.com/stcbus/pidgin-sub003/perrors"
	"github.com/stcbus/pidgin-sub003/util"
)

// ProxyType selects how a connection dials out.
type ProxyType int

const (
	ProxyUseGlobal ProxyType = iota
	ProxyNone
	ProxySocks4
	ProxySocks5
	ProxyTor
	ProxyHTTP
	ProxyUseEnv
)

// ProxyInfo configures how a connection dials out.
type ProxyInfo struct {
	Type     ProxyType
	Host     string
	Port     int
	Username string
	Password string
}

// needsHostPort reports whether Host/Port/Username/Password are consulted
// for this proxy type.
func (p ProxyInfo) needsHostPort() bool {
	switch p.Type {
	case ProxyNone, ProxyUseEnv, ProxyUseGlobal:
		return false
	default:
		return true
	}
}

// SettingKind identifies the type of a typed account setting value.
type SettingKind int

const (
	SettingBool SettingKind = iota
	SettingInt
	SettingString
	SettingStringList
)

// Setting is one typed account setting, e.g. an XMPP resource or an IRC
// ident string.
type Setting struct {
	Kind    SettingKind
	Bool    bool
	Int     int
	Str     string
	StrList []string
}

// Settings is the typed settings map carried by an [Account].
type Settings map[string]Setting

func (s Settings) Bool(key string, def bool) bool {
	if v, ok := s[key]; ok && v.Kind == SettingBool {
		return v.Bool
	}
	return def
}

func (s Settings) Int(key string, def int) int {
	if v, ok := s[key]; ok && v.Kind == SettingInt {
		return v.Int
	}
	return def
}

func (s Settings) String(key, def string) string {
	if v, ok := s[key]; ok && v.Kind == SettingString {
		return v.Str
	}
	return def
}

func (s Settings) StringList(key string) []string {
	if v, ok := s[key]; ok && v.Kind == SettingStringList {
		return v.StrList
	}
	return nil
}

func (s Settings) SetBool(key string, v bool) Settings {
	s[key] = Setting{Kind: SettingBool, Bool: v}
	return s
}

func (s Settings) SetInt(key string, v int) Settings {
	s[key] = Setting{Kind: SettingInt, Int: v}
	return s
}

func (s Settings) SetString(key, v string) Settings {
	s[key] = Setting{Kind: SettingString, Str: v}
	return s
}

func (s Settings) SetStringList(key string, v []string) Settings {
	s[key] = Setting{Kind: SettingStringList, StrList: v}
	return s
}

// ProtocolID names a registered protocol back-end, e.g. "ircv3", "simple".
type ProtocolID string

// Key uniquely identifies an account by (username, protocol id).
type Key struct {
	Username   string
	ProtocolID ProtocolID
}

// Account is a user's configured identity on one protocol. Mutated only
// from the main scheduler.
type Account struct {
	Key

	Settings     Settings
	PrivateAlias string
	AvatarRef    string
	Proxy        ProxyInfo
	Enabled      bool
}

// SetAvatar derives the avatar cache reference from the image content, so
// identical images share one cache entry. Empty content clears the avatar.
func (a *Account) SetAvatar(content []byte) {
	if len(content) == 0 {
		a.AvatarRef = ""
		return
	}
	a.AvatarRef = util.FriendlyImageName(content)
}

// Validate checks the account's settings before dial: an empty username or
// server, whitespace in either, or a proxy type that needs a host but has
// none, is KindInvalidSettings. The server value is not otherwise parsed, so
// a malformed server address without whitespace is not reported here.
func (a *Account) Validate() error {
	if a.Username == "" {
		return perrors.New(perrors.KindInvalidSettings, "empty username", nil)
	}
	if containsWhitespace(a.Username) {
		return perrors.New(perrors.KindInvalidSettings, "username contains whitespace", nil)
	}
	server := a.Settings.String("server", "")
	if server == "" {
		return perrors.New(perrors.KindInvalidSettings, "missing server", nil)
	}
	if containsWhitespace(server) {
		return perrors.New(perrors.KindInvalidSettings, "server contains whitespace", nil)
	}
	if a.Proxy.needsHostPort() && a.Proxy.Host == "" {
		return perrors.New(perrors.KindInvalidSettings, "proxy host required for selected proxy type", nil)
	}
	return nil
}

func containsWhitespace(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return true
		}
	}
	return false
}

// Manager holds the set of known accounts, keyed by (username, protocol_id),
// unique. It is process-wide and mutated only from the scheduler thread.
type Manager struct {
	mu       sync.RWMutex
	accounts map[Key]*Account
}

// NewManager creates an empty account manager.
func NewManager() *Manager {
	return &Manager{accounts: make(map[Key]*Account)}
}

// Add registers a new account. It returns [perrors.KindInvalidSettings] if
// the (username, protocol) pair is already registered.
func (m *Manager) Add(a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[a.Key]; exists {
		return perrors.New(perrors.KindInvalidSettings, "account already registered", nil)
	}
	m.accounts[a.Key] = a
	return nil
}

// Remove deletes an account from the manager.
func (m *Manager) Remove(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, key)
}

// Get looks up an account by key.
func (m *Manager) Get(key Key) (*Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[key]
	return a, ok
}

// All returns every registered account, in no particular order.
func (m *Manager) All() []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out
}

// Enabled returns every registered account with Enabled set.
func (m *Manager) Enabled() []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}
