package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/observability"
	"chat-sync/projection"
	"chat-sync/runtime"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

const (
	feedComponent   = "feed"
	DefaultPageSize = 20
)

type FeedConfig struct {
	PageSize         int
	MaxContentLength int
	Subscription     runtime.SubscriptionConfig
}

type IMessageFeed interface {
	Open(ctx context.Context, identity string, channelID domain.ChannelID) error
	LoadInitial(ctx context.Context) error
	LoadOlder(ctx context.Context) (int, error)
	Send(ctx context.Context, content string, attachments []domain.Attachment) (domain.Message, error)
	Messages() []domain.Message
	Cursor() domain.PageCursor
	Status() domain.SubscriptionStatus
	Close()
}

// MessageFeed is the paginated, live-updated history of one channel.
// It exclusively owns its timeline and cursor. Every asynchronous load is
// tagged with the generation current when it was issued; a result that comes
// back after the feed was retargeted is discarded without touching state.
type MessageFeed struct {
	mu           sync.Mutex
	log          *slog.Logger
	store        contract.IRemoteStore
	metrics      *observability.Recorder
	config       FeedConfig
	subscription *runtime.SubscriptionManager
	observers    []func(domain.ChangeKind, domain.Message)
	// touched collects ids changed live while the first page is in flight.
	touched map[domain.MessageID]struct{}

	identity      string
	channelID     domain.ChannelID
	generation    uint64
	timeline      *projection.Timeline
	cursor        domain.PageCursor
	loadingFirst  bool
	loadingOlder  bool
	initialLoaded bool
}

func NewMessageFeed(
	log *slog.Logger,
	store contract.IRemoteStore,
	config FeedConfig,
	metrics *observability.Recorder,
) *MessageFeed {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	f := &MessageFeed{
		log:      log.With("component", feedComponent),
		store:    store,
		metrics:  metrics,
		config:   config,
		timeline: projection.NewTimeline(),
		touched:  make(map[domain.MessageID]struct{}),
	}
	f.subscription = runtime.NewSubscriptionManager(
		log, feedComponent, store, config.Subscription, metrics, f.apply, f.poll)
	return f
}

// Open points the feed at channelID for identity, dropping everything that
// belonged to the previous target, then loads the first page.
// An empty identity or channel leaves the feed closed.
func (f *MessageFeed) Open(ctx context.Context, identity string, channelID domain.ChannelID) error {
	f.mu.Lock()
	f.resetLocked()
	f.identity = identity
	f.channelID = channelID
	f.mu.Unlock()

	f.subscription.Stop()
	if identity == "" || channelID == "" {
		return nil
	}
	f.subscription.Start(domain.SubscribeRequest{
		Topic:  domain.TopicMessages,
		Filter: domain.Filter{Field: domain.FilterChannelID, Value: channelID},
	})
	return f.LoadInitial(ctx)
}

// LoadInitial fetches the newest page and replaces the loaded history with it.
func (f *MessageFeed) LoadInitial(ctx context.Context) error {
	f.mu.Lock()
	if f.channelID == "" {
		f.mu.Unlock()
		return errors.ErrMissingChannel
	}
	channelID, generation := f.channelID, f.generation
	f.loadingFirst = true
	clear(f.touched)
	f.mu.Unlock()

	f.metrics.RemoteCall("list_messages")
	batch, err := f.store.ListMessages(ctx, domain.MessageQuery{
		ChannelID: channelID,
		Limit:     f.config.PageSize,
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.currentLocked(generation, channelID) {
		f.log.Debug("Stale initial page dropped", "channel", channelID)
		f.metrics.StaleDiscard(feedComponent)
		return nil
	}
	f.loadingFirst = false
	if err != nil {
		return fmt.Errorf("load channel %s: %w", channelID, err)
	}
	// Changes applied live while the query ran are newer than the page and
	// stay; everything else is replaced by the page. Tombstones survive, so
	// the page cannot bring back a message deleted meanwhile.
	hasMore := len(batch) == f.config.PageSize
	var floor *domain.Message
	if hasMore {
		floor = lo.ToPtr(slices.MinFunc(batch, domain.CompareMessages))
	}
	f.timeline.Retain(func(m domain.Message) bool {
		_, live := f.touched[m.ID]
		return live && (floor == nil || domain.CompareMessages(m, *floor) >= 0)
	})
	clear(f.touched)
	f.timeline.Merge(batch)
	f.cursor = domain.PageCursor{HasMore: hasMore}
	f.initialLoaded = true
	f.refreshCursorLocked(batch)
	return nil
}

// LoadOlder prepends the next page strictly older than the oldest loaded
// message. It returns how many messages were added, and is a no-op while a
// load is in flight or once the history is exhausted.
func (f *MessageFeed) LoadOlder(ctx context.Context) (int, error) {
	f.mu.Lock()
	if f.channelID == "" {
		f.mu.Unlock()
		return 0, errors.ErrMissingChannel
	}
	if f.loadingFirst || f.loadingOlder || !f.initialLoaded || !f.cursor.HasMore {
		f.mu.Unlock()
		return 0, nil
	}
	f.loadingOlder = true
	channelID, generation := f.channelID, f.generation
	before := f.cursor
	f.mu.Unlock()

	f.metrics.RemoteCall("list_messages")
	batch, err := f.store.ListMessages(ctx, domain.MessageQuery{
		ChannelID: channelID,
		Before:    before.OldestLoaded,
		BeforeID:  before.OldestID,
		Limit:     f.config.PageSize,
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.currentLocked(generation, channelID) {
		f.log.Debug("Stale older page dropped", "channel", channelID)
		f.metrics.StaleDiscard(feedComponent)
		return 0, nil
	}
	f.loadingOlder = false
	if err != nil {
		return 0, fmt.Errorf("load older messages of %s: %w", channelID, err)
	}
	older := lo.Filter(batch, func(m domain.Message, _ int) bool {
		return before.OldestLoaded.IsZero() || before.Before(m)
	})
	added := f.timeline.Merge(older)
	f.cursor.HasMore = len(batch) == f.config.PageSize
	f.refreshCursorLocked(batch)
	return added, nil
}

// Send validates and submits a message. The feed is not touched: the message
// shows up once the store's live insert event arrives.
func (f *MessageFeed) Send(ctx context.Context, content string, attachments []domain.Attachment) (domain.Message, error) {
	f.mu.Lock()
	command := domain.SendMessageCommand{
		ChannelID:   f.channelID,
		AuthorID:    f.identity,
		Content:     domain.TrimContent(content),
		Attachments: attachments,
	}
	f.mu.Unlock()

	if err := ValidateSend(command, f.config.MaxContentLength); err != nil {
		f.metrics.Send(err)
		return domain.Message{}, err
	}
	command.Attachments = DetectAttachmentTypes(command.Attachments)

	f.metrics.RemoteCall("insert_message")
	message, err := f.store.InsertMessage(ctx, command.ToNewMessage())
	f.metrics.Send(err)
	if err != nil {
		return domain.Message{}, fmt.Errorf("send to %s: %w", command.ChannelID, err)
	}
	return message, nil
}

func (f *MessageFeed) Messages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeline.Messages()
}

func (f *MessageFeed) Cursor() domain.PageCursor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

// Loading reports whether the first page or an older page is in flight.
func (f *MessageFeed) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadingFirst || f.loadingOlder
}

func (f *MessageFeed) ChannelID() domain.ChannelID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channelID
}

func (f *MessageFeed) Status() domain.SubscriptionStatus {
	return f.subscription.Status()
}

func (f *MessageFeed) OnStatus(fn func(domain.SubscriptionStatus)) {
	f.subscription.OnStatus(fn)
}

// OnApplied registers fn for every live change that mutated the timeline.
// fn runs with the feed lock held and must not call back into the feed.
func (f *MessageFeed) OnApplied(fn func(kind domain.ChangeKind, message domain.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
}

func (f *MessageFeed) Close() {
	f.subscription.Stop()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetLocked()
	f.identity = ""
	f.channelID = ""
}

// apply handles one live change. Malformed or foreign events are logged and
// ignored; order always comes from (CreatedAt, ID), never from delivery.
func (f *MessageFeed) apply(change domain.Change) {
	if change.Message == nil {
		f.log.Warn("Non-message change on message handle ignored", "topic", change.Topic)
		f.metrics.ChangeIgnored(feedComponent, "topic")
		return
	}
	message := *change.Message

	f.mu.Lock()
	defer f.mu.Unlock()
	if message.ChannelID != f.channelID {
		f.metrics.ChangeIgnored(feedComponent, "channel")
		return
	}

	var applied bool
	switch change.Kind {
	case domain.ChangeInsert:
		applied = f.inWindowLocked(message) && f.timeline.Insert(message)
	case domain.ChangeUpdate:
		switch {
		case message.IsDeleted():
			applied = f.timeline.Delete(message.ID)
		case f.timeline.Contains(message.ID):
			applied = f.timeline.Update(message)
		case f.inWindowLocked(message):
			// The update overtook its insert.
			applied = f.timeline.Insert(message)
		}
	case domain.ChangeDelete:
		applied = f.timeline.Delete(message.ID)
	}
	if !applied {
		f.metrics.ChangeIgnored(feedComponent, "noop")
		return
	}
	f.metrics.ChangeApplied(feedComponent, change.Kind)
	if f.loadingFirst {
		f.touched[message.ID] = struct{}{}
	}
	for _, fn := range f.observers {
		fn(change.Kind, message)
	}
	f.refreshCursorLocked(nil)
}

// inWindowLocked keeps live inserts from opening a gap below the loaded
// window: anything older than the oldest loaded message belongs to
// pagination while older pages remain.
func (f *MessageFeed) inWindowLocked(m domain.Message) bool {
	return !f.cursor.HasMore || !f.cursor.Before(m)
}

func (f *MessageFeed) poll(ctx context.Context) (runtime.PollResult, error) {
	f.mu.Lock()
	channelID := f.channelID
	f.mu.Unlock()
	if channelID == "" {
		return runtime.PollResult{}, nil
	}
	batch, err := f.store.ListMessages(ctx, domain.MessageQuery{
		ChannelID: channelID,
		Limit:     f.config.PageSize,
	})
	if err != nil {
		return runtime.PollResult{}, err
	}
	result := runtime.PollResult{
		Records: lo.Map(batch, func(m domain.Message, _ int) domain.Record { return m }),
	}
	if len(batch) == f.config.PageSize {
		result.Floor = slices.MinFunc(batch, domain.CompareMessages).CreatedAt
	}
	return result, nil
}

func (f *MessageFeed) currentLocked(generation uint64, channelID domain.ChannelID) bool {
	return generation == f.generation && channelID == f.channelID
}

// refreshCursorLocked moves the cursor to the oldest (CreatedAt, ID) position
// seen so far, soft-deleted rows included, since the store pages on position.
func (f *MessageFeed) refreshCursorLocked(batch []domain.Message) {
	move := func(m domain.Message) {
		if f.cursor.OldestLoaded.IsZero() || f.cursor.Before(m) {
			f.cursor.OldestLoaded = m.CreatedAt
			f.cursor.OldestID = m.ID
		}
	}
	for _, m := range batch {
		move(m)
	}
	if first, ok := f.timeline.Oldest(); ok {
		move(first)
	}
}

func (f *MessageFeed) resetLocked() {
	f.generation++
	f.timeline.Reset()
	clear(f.touched)
	f.cursor = domain.PageCursor{}
	f.loadingFirst = false
	f.loadingOlder = false
	f.initialLoaded = false
}

var _ IMessageFeed = (*MessageFeed)(nil)
