package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/infrastructure/bus"
	"chat-sync/infrastructure/remote"
	"chat-sync/infrastructure/storage"
	"chat-sync/mocks"
	"chat-sync/runtime"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

func fastSubscription() runtime.SubscriptionConfig {
	return runtime.SubscriptionConfig{
		BaseDelay:    5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		MaxRetries:   3,
		PollInterval: 10 * time.Millisecond,
	}
}

// backend is a real remote store on in-memory badger and the in-process hub.
type backend struct {
	store    *remote.Store
	hub      *bus.Hub
	messages storage.MessageRepository
	channels storage.ChannelRepository
}

func setupBackend(t *testing.T) *backend {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	log := testLogger()
	b := &backend{
		hub:      bus.NewHub(log),
		messages: storage.NewMessageRepository(db, log),
		channels: storage.NewChannelRepository(db, log),
	}
	b.store = remote.NewStore(log, b.messages, b.channels, b.hub)
	return b
}

func (b *backend) seedChannel(t *testing.T, id, name string, members ...string) domain.Channel {
	channel := domain.Channel{ID: id, Name: name, Members: members, Type: domain.ChannelPublic, UpdatedAt: time.Now()}
	require.NoError(t, b.channels.StoreChannel(channel))
	return channel
}

// seedMessages stores n messages one second apart, ids m001..mNNN.
func (b *backend) seedMessages(t *testing.T, channelID domain.ChannelID, n int, start time.Time) []domain.Message {
	messages := make([]domain.Message, 0, n)
	for i := 1; i <= n; i++ {
		at := start.Add(time.Duration(i) * time.Second)
		m := domain.Message{
			ID:        fmt.Sprintf("%s-m%03d", channelID, i),
			ChannelID: channelID,
			AuthorID:  "alice",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: at,
			UpdatedAt: at,
		}
		require.NoError(t, b.messages.StoreMessage(m))
		messages = append(messages, m)
	}
	return messages
}

// expectLiveSubscription makes every Subscribe succeed and confirm at once.
func expectLiveSubscription(store *mocks.MockIRemoteStore, ctrl *gomock.Controller) {
	sub := mocks.NewMockISubscription(ctrl)
	sub.EXPECT().Unsubscribe().Return(nil).AnyTimes()
	store.EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.SubscribeRequest, l contract.Listener) (contract.ISubscription, error) {
			l.OnStatus(domain.TransportSubscribed, nil)
			return sub, nil
		}).AnyTimes()
}

func ids(messages []domain.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}
