package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityProvider_Notifies_Watchers_On_Change(t *testing.T) {
	req := require.New(t)
	provider := NewIdentityProvider("")
	req.Empty(provider.CurrentUserID())

	var mu sync.Mutex
	var seen []string
	cancel := provider.Watch(func(userID string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, userID)
	})

	provider.Login("alice")
	provider.Login("alice")
	provider.Login("bob")
	provider.Logout()
	provider.Logout()
	req.Equal([]string{"alice", "bob", ""}, seen)

	cancel()
	provider.Login("carol")
	req.Equal("carol", provider.CurrentUserID())
	req.Len(seen, 3)
}

func TestIdentityProvider_Watcher_May_Read_Current_User(t *testing.T) {
	req := require.New(t)
	provider := NewIdentityProvider("alice")

	var observed string
	provider.Watch(func(string) { observed = provider.CurrentUserID() })
	provider.Login("bob")
	req.Equal("bob", observed)
}
