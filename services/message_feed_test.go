package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/mocks"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestMessageFeed_Pagination_Scenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := setupBackend(t)
	b.seedChannel(t, "general", "general", "alice")
	seeded := b.seedMessages(t, "general", 45, time.Unix(1_700_000_000, 0))

	feed := NewMessageFeed(testLogger(), b.store, FeedConfig{PageSize: 20, Subscription: fastSubscription()}, nil)
	defer feed.Close()
	req.NoError(feed.Open(ctx, "alice", "general"))

	// The 20 most recent, ascending.
	req.Equal(ids(seeded[25:]), ids(feed.Messages()))
	req.True(feed.Cursor().HasMore)
	req.True(feed.Cursor().OldestLoaded.Equal(seeded[25].CreatedAt))
	req.Equal(seeded[25].ID, feed.Cursor().OldestID)
	req.Equal(domain.StateSubscribed, feed.Status().State)

	added, err := feed.LoadOlder(ctx)
	req.NoError(err)
	req.Equal(20, added)
	req.Equal(ids(seeded[5:]), ids(feed.Messages()))
	req.True(feed.Cursor().HasMore)

	added, err = feed.LoadOlder(ctx)
	req.NoError(err)
	req.Equal(5, added)
	req.Equal(ids(seeded), ids(feed.Messages()))
	req.False(feed.Cursor().HasMore)

	added, err = feed.LoadOlder(ctx)
	req.NoError(err)
	req.Zero(added)
	req.Len(feed.Messages(), 45)
}

func TestMessageFeed_Live_Changes_From_The_Store(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := setupBackend(t)
	b.seedChannel(t, "general", "general", "alice", "bob")
	b.seedChannel(t, "random", "random", "alice", "bob")
	seeded := b.seedMessages(t, "general", 3, time.Now().Add(-time.Hour))

	feed := NewMessageFeed(testLogger(), b.store, FeedConfig{PageSize: 20, Subscription: fastSubscription()}, nil)
	defer feed.Close()
	req.NoError(feed.Open(ctx, "alice", "general"))
	req.Len(feed.Messages(), 3)

	t.Run("send shows up through the live insert only", func(t *testing.T) {
		sent, err := feed.Send(ctx, "  hello there  ", nil)
		require.NoError(t, err)
		require.Equal(t, "hello there", sent.Content)
		messages := feed.Messages()
		require.Len(t, messages, 4)
		require.Equal(t, sent.ID, messages[3].ID)
	})

	t.Run("other channels never leak in", func(t *testing.T) {
		_, err := b.store.InsertMessage(ctx, domain.NewMessage{ChannelID: "random", AuthorID: "bob", Content: "elsewhere"})
		require.NoError(t, err)
		require.Len(t, feed.Messages(), 4)
	})

	t.Run("edit patches in place", func(t *testing.T) {
		_, err := b.store.EditMessage(ctx, seeded[0].ID, "edited")
		require.NoError(t, err)
		messages := feed.Messages()
		require.Equal(t, seeded[0].ID, messages[0].ID)
		require.Equal(t, "edited", messages[0].Content)
	})

	t.Run("soft and hard deletes remove", func(t *testing.T) {
		require.NoError(t, b.store.DeleteMessage(ctx, seeded[1].ID))
		require.NoError(t, b.store.PurgeMessage(ctx, seeded[2].ID))
		require.Equal(t, []string{seeded[0].ID}, ids(feed.Messages())[:1])
		require.Len(t, feed.Messages(), 2)
	})
}

func TestMessageFeed_Out_Of_Order_And_Duplicate_Delivery(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := setupBackend(t)
	b.seedChannel(t, "general", "general", "alice")

	feed := NewMessageFeed(testLogger(), b.store, FeedConfig{PageSize: 20, Subscription: fastSubscription()}, nil)
	defer feed.Close()
	req.NoError(feed.Open(ctx, "alice", "general"))

	t0 := time.Now()
	late := domain.Message{ID: "b", ChannelID: "general", CreatedAt: t0, UpdatedAt: t0}
	early := domain.Message{ID: "a", ChannelID: "general", CreatedAt: t0.Add(-time.Minute), UpdatedAt: t0}
	tie := domain.Message{ID: "a2", ChannelID: "general", CreatedAt: t0, UpdatedAt: t0}
	for _, change := range []domain.Change{
		domain.MessageChange(domain.ChangeInsert, late),
		domain.MessageChange(domain.ChangeInsert, tie),
		domain.MessageChange(domain.ChangeInsert, late),
		domain.MessageChange(domain.ChangeInsert, early),
		domain.MessageChange(domain.ChangeDelete, domain.Message{ID: "ghost", ChannelID: "general"}),
	} {
		req.NoError(b.hub.Publish(ctx, change))
	}
	req.Equal([]string{"a", "a2", "b"}, ids(feed.Messages()))

	// A delete that overtook its insert keeps the message out.
	req.NoError(b.hub.Publish(ctx, domain.MessageChange(domain.ChangeInsert,
		domain.Message{ID: "ghost", ChannelID: "general", CreatedAt: t0, UpdatedAt: t0})))
	req.Equal([]string{"a", "a2", "b"}, ids(feed.Messages()))
}

func TestMessageFeed_Send_Rejects_Blank_Content_Without_Remote_Call(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRemoteStore(ctrl)
	expectLiveSubscription(store, ctrl)
	store.EXPECT().ListMessages(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	store.EXPECT().InsertMessage(gomock.Any(), gomock.Any()).Times(0)

	feed := NewMessageFeed(testLogger(), store, FeedConfig{PageSize: 20, MaxContentLength: 10, Subscription: fastSubscription()}, nil)
	defer feed.Close()

	_, err := feed.Send(ctx, "hello", nil)
	req.ErrorIs(err, errors.ErrMissingIdentity)

	req.NoError(feed.Open(ctx, "alice", "general"))
	_, err = feed.Send(ctx, "   ", nil)
	req.ErrorIs(err, errors.ErrEmptyContent)
	req.ErrorIs(err, errors.ErrValidation)

	_, err = feed.Send(ctx, "this is far too long", nil)
	req.ErrorIs(err, errors.ErrContentTooLong)

	_, err = feed.Send(ctx, "ok", []domain.Attachment{{URL: "not a url"}})
	req.ErrorIs(err, errors.ErrValidation)
}

func TestMessageFeed_Concurrent_LoadOlder_Issues_One_Fetch(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRemoteStore(ctrl)
	expectLiveSubscription(store, ctrl)

	t0 := time.Unix(1_700_000_000, 0)
	page := make([]domain.Message, 0, 2)
	for i, id := range []string{"m2", "m1"} {
		at := t0.Add(-time.Duration(i) * time.Second)
		page = append(page, domain.Message{ID: id, ChannelID: "general", CreatedAt: at, UpdatedAt: at})
	}
	store.EXPECT().ListMessages(gomock.Any(), domain.MessageQuery{ChannelID: "general", Limit: 2}).
		Return(page, nil).Times(1)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	store.EXPECT().ListMessages(gomock.Any(), domain.MessageQuery{ChannelID: "general", Before: page[1].CreatedAt, BeforeID: "m1", Limit: 2}).
		DoAndReturn(func(context.Context, domain.MessageQuery) ([]domain.Message, error) {
			close(inFlight)
			<-release
			at := t0.Add(-time.Minute)
			return []domain.Message{{ID: "m0", ChannelID: "general", CreatedAt: at, UpdatedAt: at}}, nil
		}).Times(1)

	feed := NewMessageFeed(testLogger(), store, FeedConfig{PageSize: 2, Subscription: fastSubscription()}, nil)
	defer feed.Close()
	req.NoError(feed.Open(ctx, "alice", "general"))

	var wg sync.WaitGroup
	wg.Add(1)
	var first int
	go func() {
		defer wg.Done()
		first, _ = feed.LoadOlder(ctx)
	}()
	<-inFlight
	req.True(feed.Loading())

	second, err := feed.LoadOlder(ctx)
	req.NoError(err)
	req.Zero(second)

	close(release)
	wg.Wait()
	req.Equal(1, first)
	req.Equal([]string{"m0", "m1", "m2"}, ids(feed.Messages()))
	req.False(feed.Cursor().HasMore)
}

func TestMessageFeed_Channel_Switch_Discards_Stale_Page(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRemoteStore(ctrl)
	expectLiveSubscription(store, ctrl)

	t0 := time.Unix(1_700_000_000, 0)
	inFlight := make(chan struct{})
	release := make(chan struct{})
	store.EXPECT().ListMessages(gomock.Any(), domain.MessageQuery{ChannelID: "c1", Limit: 20}).
		DoAndReturn(func(context.Context, domain.MessageQuery) ([]domain.Message, error) {
			close(inFlight)
			<-release
			return []domain.Message{{ID: "from-c1", ChannelID: "c1", CreatedAt: t0, UpdatedAt: t0}}, nil
		}).Times(1)
	store.EXPECT().ListMessages(gomock.Any(), domain.MessageQuery{ChannelID: "c2", Limit: 20}).
		Return([]domain.Message{{ID: "from-c2", ChannelID: "c2", CreatedAt: t0, UpdatedAt: t0}}, nil).Times(1)

	feed := NewMessageFeed(testLogger(), store, FeedConfig{PageSize: 20, Subscription: fastSubscription()}, nil)
	defer feed.Close()

	c1Done := make(chan error, 1)
	go func() { c1Done <- feed.Open(ctx, "alice", "c1") }()
	<-inFlight

	req.NoError(feed.Open(ctx, "alice", "c2"))
	close(release)
	req.NoError(<-c1Done)

	req.Equal("c2", feed.ChannelID())
	req.Equal([]string{"from-c2"}, ids(feed.Messages()))
	req.False(feed.Loading())
}

func TestMessageFeed_Live_Insert_Below_Window_Waits_For_Pagination(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := setupBackend(t)
	b.seedChannel(t, "general", "general", "alice")
	seeded := b.seedMessages(t, "general", 5, time.Unix(1_700_000_000, 0))

	feed := NewMessageFeed(testLogger(), b.store, FeedConfig{PageSize: 3, Subscription: fastSubscription()}, nil)
	defer feed.Close()
	req.NoError(feed.Open(ctx, "alice", "general"))
	req.Equal(ids(seeded[2:]), ids(feed.Messages()))

	old := seeded[0].CreatedAt.Add(-time.Hour)
	req.NoError(b.hub.Publish(ctx, domain.MessageChange(domain.ChangeInsert,
		domain.Message{ID: "backfill", ChannelID: "general", CreatedAt: old, UpdatedAt: old})))
	req.Equal(ids(seeded[2:]), ids(feed.Messages()))
}

func TestMessageFeed_Live_Changes_During_First_Page_Win(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRemoteStore(ctrl)

	var listener contract.Listener
	sub := mocks.NewMockISubscription(ctrl)
	sub.EXPECT().Unsubscribe().Return(nil).AnyTimes()
	store.EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.SubscribeRequest, l contract.Listener) (contract.ISubscription, error) {
			listener = l
			l.OnStatus(domain.TransportSubscribed, nil)
			return sub, nil
		}).Times(1)

	t0 := time.Unix(1_700_000_000, 0)
	at := func(id string, seconds int) domain.Message {
		ts := t0.Add(time.Duration(seconds) * time.Second)
		return domain.Message{ID: id, ChannelID: "general", Content: id, CreatedAt: ts, UpdatedAt: ts}
	}
	edited := at("m2", 2)
	edited.Content = "edited"
	edited.UpdatedAt = edited.UpdatedAt.Add(time.Minute)

	store.EXPECT().ListMessages(gomock.Any(), domain.MessageQuery{ChannelID: "general", Limit: 20}).
		DoAndReturn(func(context.Context, domain.MessageQuery) ([]domain.Message, error) {
			// The page was read before these changes happened.
			listener.OnChange(domain.MessageChange(domain.ChangeDelete, at("m1", 1)))
			listener.OnChange(domain.MessageChange(domain.ChangeUpdate, edited))
			listener.OnChange(domain.MessageChange(domain.ChangeInsert, at("m4", 4)))
			return []domain.Message{at("m3", 3), at("m2", 2), at("m1", 1)}, nil
		}).Times(1)

	feed := NewMessageFeed(testLogger(), store, FeedConfig{PageSize: 20, Subscription: fastSubscription()}, nil)
	defer feed.Close()
	req.NoError(feed.Open(ctx, "alice", "general"))

	messages := feed.Messages()
	req.Equal([]string{"m2", "m3", "m4"}, ids(messages))
	req.Equal("edited", messages[0].Content)
	req.False(feed.Cursor().HasMore)
}

func TestMessageFeed_Pages_Through_Rows_Sharing_A_Timestamp(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := setupBackend(t)
	b.seedChannel(t, "general", "general", "alice")
	at := time.Unix(1_700_000_000, 0)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		req.NoError(b.messages.StoreMessage(domain.Message{ID: id, ChannelID: "general", CreatedAt: at, UpdatedAt: at}))
	}

	feed := NewMessageFeed(testLogger(), b.store, FeedConfig{PageSize: 2, Subscription: fastSubscription()}, nil)
	defer feed.Close()
	req.NoError(feed.Open(ctx, "alice", "general"))
	req.Equal([]string{"d", "e"}, ids(feed.Messages()))
	req.Equal(domain.MessageID("d"), feed.Cursor().OldestID)

	for feed.Cursor().HasMore {
		_, err := feed.LoadOlder(ctx)
		req.NoError(err)
	}
	req.Equal([]string{"a", "b", "c", "d", "e"}, ids(feed.Messages()))
}
