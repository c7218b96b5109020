package workers

import (
	"bytes"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/infrastructure/bus"
	"chat-sync/infrastructure/remote"
	"chat-sync/infrastructure/storage"
	"chat-sync/runtime"
	"chat-sync/services"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func setupConsole(t *testing.T) (*ConsoleWorker, *services.Session, *bytes.Buffer) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	channels := storage.NewChannelRepository(db, log)
	require.NoError(t, channels.StoreChannel(domain.Channel{ID: "general", Name: "general", Members: []string{"alice"}}))
	store := remote.NewStore(log, storage.NewMessageRepository(db, log), channels, bus.NewHub(log))

	identity := services.NewIdentityProvider("")
	session := services.NewSession(log, store, identity, services.SessionConfig{Subscription: runtime.DefaultSubscriptionConfig()}, nil)
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(session.Close)

	var out bytes.Buffer
	return NewConsoleWorker(log, session, identity, strings.NewReader(""), &out), session, &out
}

func TestConsoleWorker_Execute(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	console, session, out := setupConsole(t)

	req.ErrorIs(console.Execute(ctx, "hello"), errors.ErrMissingIdentity)

	req.NoError(console.Execute(ctx, "/login alice"))
	req.Equal("alice", session.UserID())

	req.NoError(console.Execute(ctx, "/channels"))
	req.Contains(out.String(), "(1 members)")

	req.NoError(console.Execute(ctx, "/join general"))
	req.NoError(console.Execute(ctx, "  hi all  "))
	messages := session.Feed().Messages()
	req.Len(messages, 1)
	req.Equal("hi all", messages[0].Content)

	out.Reset()
	req.NoError(console.Execute(ctx, "/join general"))
	req.Contains(out.String(), "hi all")

	req.NoError(console.Execute(ctx, "/thread "+messages[0].ID))
	req.Equal(messages[0].ID, session.Threads().Active().RootMessageID)
	req.Error(console.Execute(ctx, "/thread nope"))
	req.NoError(console.Execute(ctx, "/close"))
	req.Nil(session.Threads().Active())

	out.Reset()
	req.NoError(console.Execute(ctx, "/status"))
	req.Contains(out.String(), "user=alice")
	req.Contains(out.String(), "channel=general")

	req.ErrorContains(console.Execute(ctx, "/bogus"), "unknown command")

	req.NoError(console.Execute(ctx, "/logout"))
	req.Empty(session.UserID())
}

func TestConsoleWorker_Run_Stops_At_End_Of_Input(t *testing.T) {
	req := require.New(t)
	console, session, out := setupConsole(t)
	console.in = strings.NewReader("/login alice\n/join missing\n/status\n")

	req.NoError(console.Run(context.Background()))
	req.Equal("alice", session.UserID())
	req.Contains(out.String(), "not found")
	req.Contains(out.String(), "user=alice")
}
