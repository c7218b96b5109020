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

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func names(channels []domain.Channel) []string {
	return lo.Map(channels, func(c domain.Channel, _ int) string { return c.Name })
}

func TestChannelDirectory_Lists_Only_Member_Channels(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRemoteStore(ctrl)

	var listener contract.Listener
	sub := mocks.NewMockISubscription(ctrl)
	sub.EXPECT().Unsubscribe().Return(nil).AnyTimes()
	store.EXPECT().Subscribe(gomock.Any(), domain.SubscribeRequest{Topic: domain.TopicChannels}, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.SubscribeRequest, l contract.Listener) (contract.ISubscription, error) {
			listener = l
			l.OnStatus(domain.TransportSubscribed, nil)
			return sub, nil
		}).Times(1)
	// The store misbehaves and returns a channel alice is not in, plus a duplicate.
	store.EXPECT().ListChannels(gomock.Any(), "alice").Return([]domain.Channel{
		{ID: "c1", Name: "random", Members: []string{"alice", "bob"}},
		{ID: "c2", Name: "ops", Members: []string{"bob"}},
		{ID: "c3", Name: "General", Members: []string{"alice"}},
		{ID: "c3", Name: "General", Members: []string{"alice"}},
	}, nil).Times(1)

	directory := NewChannelDirectory(testLogger(), store, fastSubscription(), nil)
	defer directory.Close()
	req.NoError(directory.SetIdentity(ctx, "alice"))
	req.Equal([]string{"General", "random"}, names(directory.Channels()))
	req.Equal(domain.StateSubscribed, directory.Status().State)

	t.Run("membership loss removes the channel", func(t *testing.T) {
		listener.OnChange(domain.ChannelChange(domain.ChangeUpdate,
			domain.Channel{ID: "c1", Name: "random", Members: []string{"bob"}, UpdatedAt: time.Now()}))
		require.Equal(t, []string{"General"}, names(directory.Channels()))
	})

	t.Run("new membership inserts in name order", func(t *testing.T) {
		listener.OnChange(domain.ChannelChange(domain.ChangeInsert,
			domain.Channel{ID: "c4", Name: "alpha", Members: []string{"alice"}, UpdatedAt: time.Now()}))
		listener.OnChange(domain.ChannelChange(domain.ChangeInsert,
			domain.Channel{ID: "c5", Name: "secret", Members: []string{"bob"}, UpdatedAt: time.Now()}))
		require.Equal(t, []string{"alpha", "General"}, names(directory.Channels()))
	})

	t.Run("delete removes unconditionally", func(t *testing.T) {
		listener.OnChange(domain.ChannelChange(domain.ChangeDelete,
			domain.Channel{ID: "c3", Name: "General", Members: []string{"alice"}}))
		require.Equal(t, []string{"alpha"}, names(directory.Channels()))
	})

	t.Run("stale update is ignored", func(t *testing.T) {
		listener.OnChange(domain.ChannelChange(domain.ChangeUpdate,
			domain.Channel{ID: "c4", Name: "renamed", Members: []string{"alice"}, UpdatedAt: time.Now()}))
		listener.OnChange(domain.ChannelChange(domain.ChangeUpdate,
			domain.Channel{ID: "c4", Name: "older", Members: []string{"alice"}, UpdatedAt: time.Now().Add(-time.Hour)}))
		require.Equal(t, []string{"renamed"}, names(directory.Channels()))
	})

	t.Run("removed channel lookups are answered from the cache", func(t *testing.T) {
		_, err := directory.GetByID(ctx, "c3")
		require.ErrorIs(t, err, errors.ErrNotFound)
		c, err := directory.GetByID(ctx, "c4")
		require.NoError(t, err)
		require.Equal(t, "renamed", c.Name)
	})
}

func TestChannelDirectory_Negative_Cache_Until_Refresh(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRemoteStore(ctrl)
	expectLiveSubscription(store, ctrl)

	store.EXPECT().ListChannels(gomock.Any(), "alice").Return(nil, nil).Times(2)
	store.EXPECT().GetChannel(gomock.Any(), "missing").
		Return(domain.Channel{}, errors.ErrNotFound).Times(2)
	store.EXPECT().GetChannel(gomock.Any(), "foreign").
		Return(domain.Channel{ID: "foreign", Name: "foreign", Members: []string{"bob"}}, nil).Times(1)

	directory := NewChannelDirectory(testLogger(), store, fastSubscription(), nil)
	defer directory.Close()
	req.NoError(directory.SetIdentity(ctx, "alice"))

	for i := 0; i < 3; i++ {
		_, err := directory.GetByID(ctx, "missing")
		req.ErrorIs(err, errors.ErrNotFound)
		_, err = directory.GetByID(ctx, "foreign")
		req.ErrorIs(err, errors.ErrNotFound)
	}

	_, err := directory.Refresh(ctx)
	req.NoError(err)
	_, err = directory.GetByID(ctx, "missing")
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestChannelDirectory_Concurrent_Lookups_Share_One_Call(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRemoteStore(ctrl)
	expectLiveSubscription(store, ctrl)

	store.EXPECT().ListChannels(gomock.Any(), "alice").Return(nil, nil).Times(1)
	store.EXPECT().GetChannel(gomock.Any(), "c1").
		DoAndReturn(func(context.Context, domain.ChannelID) (domain.Channel, error) {
			time.Sleep(50 * time.Millisecond)
			return domain.Channel{ID: "c1", Name: "general", Members: []string{"alice"}}, nil
		}).Times(1)

	directory := NewChannelDirectory(testLogger(), store, fastSubscription(), nil)
	defer directory.Close()
	req.NoError(directory.SetIdentity(ctx, "alice"))

	var wg sync.WaitGroup
	results := make([]domain.Channel, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := directory.GetByID(ctx, "c1")
			if err == nil {
				results[i] = c
			}
		}(i)
	}
	wg.Wait()
	for _, c := range results {
		req.Equal("general", c.Name)
	}
}

func TestChannelDirectory_Identity_Switch_Drops_Pending_Fetch(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRemoteStore(ctrl)
	expectLiveSubscription(store, ctrl)

	aliceInFlight := make(chan struct{})
	releaseAlice := make(chan struct{})
	store.EXPECT().ListChannels(gomock.Any(), "alice").
		DoAndReturn(func(context.Context, string) ([]domain.Channel, error) {
			close(aliceInFlight)
			<-releaseAlice
			return []domain.Channel{{ID: "a1", Name: "alice-only", Members: []string{"alice"}}}, nil
		}).Times(1)
	store.EXPECT().ListChannels(gomock.Any(), "bob").
		Return([]domain.Channel{{ID: "b1", Name: "bob-only", Members: []string{"bob"}}}, nil).Times(1)

	directory := NewChannelDirectory(testLogger(), store, fastSubscription(), nil)
	defer directory.Close()

	aliceDone := make(chan error, 1)
	go func() { aliceDone <- directory.SetIdentity(ctx, "alice") }()
	<-aliceInFlight

	req.NoError(directory.SetIdentity(ctx, "bob"))
	close(releaseAlice)
	req.NoError(<-aliceDone)

	req.Equal("bob", directory.Identity())
	req.Equal([]string{"bob-only"}, names(directory.Channels()))
}

func TestChannelDirectory_Logout_Clears_Everything(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRemoteStore(ctrl)
	expectLiveSubscription(store, ctrl)
	store.EXPECT().ListChannels(gomock.Any(), "alice").
		Return([]domain.Channel{{ID: "c1", Name: "general", Members: []string{"alice"}}}, nil).Times(1)

	directory := NewChannelDirectory(testLogger(), store, fastSubscription(), nil)
	defer directory.Close()
	req.NoError(directory.SetIdentity(ctx, "alice"))
	req.Len(directory.Channels(), 1)

	req.NoError(directory.SetIdentity(ctx, ""))
	req.Empty(directory.Channels())
	req.Equal(domain.StateIdle, directory.Status().State)

	_, err := directory.Fetch(ctx)
	req.ErrorIs(err, errors.ErrMissingIdentity)
	_, err = directory.GetByID(ctx, "c1")
	req.ErrorIs(err, errors.ErrMissingIdentity)
}

func TestChannelDirectory_Live_Changes_During_Fetch_Win(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRemoteStore(ctrl)

	var listener contract.Listener
	sub := mocks.NewMockISubscription(ctrl)
	sub.EXPECT().Unsubscribe().Return(nil).AnyTimes()
	store.EXPECT().Subscribe(gomock.Any(), domain.SubscribeRequest{Topic: domain.TopicChannels}, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.SubscribeRequest, l contract.Listener) (contract.ISubscription, error) {
			listener = l
			l.OnStatus(domain.TransportSubscribed, nil)
			return sub, nil
		}).Times(1)

	t0 := time.Unix(1_700_000_000, 0)
	store.EXPECT().ListChannels(gomock.Any(), "alice").
		DoAndReturn(func(context.Context, string) ([]domain.Channel, error) {
			// The list below was read before these changes happened.
			listener.OnChange(domain.ChannelChange(domain.ChangeInsert,
				domain.Channel{ID: "c4", Name: "new", Members: []string{"alice"}, UpdatedAt: t0.Add(time.Minute)}))
			listener.OnChange(domain.ChannelChange(domain.ChangeUpdate,
				domain.Channel{ID: "c2", Name: "ops", Members: []string{"bob"}, UpdatedAt: t0.Add(time.Minute)}))
			listener.OnChange(domain.ChannelChange(domain.ChangeUpdate,
				domain.Channel{ID: "c3", Name: "random", Members: []string{"bob"}, UpdatedAt: t0.Add(-time.Hour)}))
			return []domain.Channel{
				{ID: "c1", Name: "general", Members: []string{"alice"}, UpdatedAt: t0},
				{ID: "c2", Name: "ops", Members: []string{"alice", "bob"}, UpdatedAt: t0},
				{ID: "c3", Name: "random", Members: []string{"alice", "bob"}, UpdatedAt: t0},
			}, nil
		}).Times(1)

	directory := NewChannelDirectory(testLogger(), store, fastSubscription(), nil)
	defer directory.Close()
	req.NoError(directory.SetIdentity(ctx, "alice"))
	req.Equal([]string{"general", "new", "random"}, names(directory.Channels()))

	t.Run("the removed channel is a cached miss", func(t *testing.T) {
		_, err := directory.GetByID(ctx, "c2")
		require.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("changes after the fetch apply normally", func(t *testing.T) {
		listener.OnChange(domain.ChannelChange(domain.ChangeDelete,
			domain.Channel{ID: "c4", Name: "new", Members: []string{"alice"}}))
		require.Equal(t, []string{"general", "random"}, names(directory.Channels()))
	})
}
