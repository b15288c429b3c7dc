package account_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stcbus/pidgin-sub003/account"
)

func testAccount() *account.Account {
	return &account.Account{
		Key:      account.Key{Username: "alice", ProtocolID: "ircv3"},
		Settings: make(account.Settings).SetString("server", "irc.example.com"),
		Enabled:  true,
	}
}

func TestManagerKeyUniqueness(t *testing.T) {
	m := account.NewManager()
	require.NoError(t, m.Add(testAccount()))

	err := m.Add(testAccount())
	require.Error(t, err, "duplicate (username, protocol) must be rejected")

	other := testAccount()
	other.ProtocolID = "simple"
	require.NoError(t, m.Add(other), "same username on another protocol is a distinct account")

	got, ok := m.Get(account.Key{Username: "alice", ProtocolID: "ircv3"})
	require.True(t, ok)
	assert.Equal(t, "alice", got.Username)
	assert.Len(t, m.All(), 2)
}

func TestAccountValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(a *account.Account)
		wantErr string
	}{
		{"valid", func(*account.Account) {}, ""},
		{"empty username", func(a *account.Account) { a.Username = "" }, "empty username"},
		{"whitespace in username", func(a *account.Account) { a.Username = "al ice" }, "whitespace"},
		{"missing server", func(a *account.Account) { a.Settings = make(account.Settings) }, "missing server"},
		{
			"whitespace in server",
			func(a *account.Account) { a.Settings.SetString("server", "irc example.com") },
			"whitespace",
		},
		{
			"proxy without host",
			func(a *account.Account) { a.Proxy = account.ProxyInfo{Type: account.ProxySocks5} },
			"proxy host",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := testAccount()
			c.mutate(a)
			err := a.Validate()
			if c.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.wantErr)
		})
	}
}

func TestSetAvatarDerivesNameFromContent(t *testing.T) {
	a := testAccount()

	png := append([]byte{0x89, 0x50, 0x4e, 0x47}, []byte("image data")...)
	a.SetAvatar(png)
	require.True(t, strings.HasSuffix(a.AvatarRef, ".png"), "AvatarRef = %q", a.AvatarRef)

	same := testAccount()
	same.SetAvatar(png)
	assert.Equal(t, a.AvatarRef, same.AvatarRef, "identical content shares one cache entry")

	a.SetAvatar(nil)
	assert.Empty(t, a.AvatarRef)
}
