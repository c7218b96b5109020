package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/observability"
	"chat-sync/runtime"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type SessionConfig struct {
	Feed         FeedConfig
	Subscription runtime.SubscriptionConfig
}

// Session is the process-scoped state object of one running client.
// It is created at session start, follows the identity provider, and is torn
// down with Close. No state survives from one identity to the next.
type Session struct {
	mu        sync.Mutex
	log       *slog.Logger
	identity  contract.IIdentityProvider
	directory *ChannelDirectory
	feed      *MessageFeed
	threads   *ThreadIndex

	ctx     context.Context
	cancel  context.CancelFunc
	unwatch func()
	userID  string
	channel domain.ChannelID
}

func NewSession(
	log *slog.Logger,
	store contract.IRemoteStore,
	identity contract.IIdentityProvider,
	config SessionConfig,
	metrics *observability.Recorder,
) *Session {
	config.Feed.Subscription = config.Subscription
	s := &Session{
		log:       log.With("component", "session"),
		identity:  identity,
		directory: NewChannelDirectory(log, store, config.Subscription, metrics),
		feed:      NewMessageFeed(log, store, config.Feed, metrics),
		threads:   NewThreadIndex(),
	}
	// Edits to a thread root keep the cached snapshot current.
	s.feed.OnApplied(func(kind domain.ChangeKind, message domain.Message) {
		if kind == domain.ChangeUpdate && !message.IsDeleted() {
			s.threads.RefreshSnapshot(message.ChannelID, message)
		}
	})
	return s
}

// Start follows the identity provider and logs in whoever is current.
// ctx bounds the lifetime of reloads triggered by identity notifications.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.unwatch = s.identity.Watch(s.onIdentity)
	userID := s.identity.CurrentUserID()
	if userID == "" {
		return nil
	}
	return s.Login(ctx, userID)
}

// Login switches the whole session to userID.
func (s *Session) Login(ctx context.Context, userID string) error {
	s.mu.Lock()
	previous := s.userID
	s.userID = userID
	s.channel = ""
	s.mu.Unlock()

	if previous != "" && previous != userID {
		s.log.Info("Identity switched", "from", previous, "to", userID)
	}
	s.threads.Reset()
	s.feed.Close()
	if err := s.directory.SetIdentity(ctx, userID); err != nil {
		return fmt.Errorf("login %s: %w", userID, err)
	}
	return nil
}

func (s *Session) Logout() {
	s.mu.Lock()
	s.userID = ""
	s.channel = ""
	s.mu.Unlock()

	s.threads.Reset()
	s.feed.Close()
	_ = s.directory.SetIdentity(context.Background(), "")
	s.log.Info("Logged out")
}

// SelectChannel opens the feed on a channel the identity can see and
// resumes whatever thread was open there.
func (s *Session) SelectChannel(ctx context.Context, channelID domain.ChannelID) error {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	if userID == "" {
		return errors.ErrMissingIdentity
	}
	if _, err := s.directory.GetByID(ctx, channelID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.userID != userID {
		s.mu.Unlock()
		s.log.Debug("Channel selection dropped after identity switch", "channel", channelID)
		return nil
	}
	s.channel = channelID
	s.mu.Unlock()

	s.threads.SwitchChannel(channelID)
	return s.feed.Open(ctx, userID, channelID)
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) SelectedChannel() domain.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

func (s *Session) Report() domain.SessionReport {
	report := domain.SessionReport{
		UserID:    s.UserID(),
		ChannelID: s.SelectedChannel(),
		Channels:  len(s.directory.Channels()),
		Messages:  len(s.feed.Messages()),
		HasMore:   s.feed.Cursor().HasMore,
		Directory: s.directory.Status(),
		Feed:      s.feed.Status(),
	}
	if active := s.threads.Active(); active != nil {
		report.ActiveThread = active.RootMessageID
	}
	return report
}

func (s *Session) Directory() *ChannelDirectory { return s.directory }

func (s *Session) Feed() *MessageFeed { return s.feed }

func (s *Session) Threads() *ThreadIndex { return s.threads }

// Close stops following the identity provider and releases every handle.
func (s *Session) Close() {
	if s.unwatch != nil {
		s.unwatch()
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.userID = ""
	s.channel = ""
	s.mu.Unlock()

	s.feed.Close()
	s.directory.Close()
	s.threads.Reset()
}

func (s *Session) onIdentity(userID string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if userID == "" {
		s.Logout()
		return
	}
	if err := s.Login(ctx, userID); err != nil {
		s.log.Error("Reload after identity change failed", "user", userID, "error", err)
	}
}
