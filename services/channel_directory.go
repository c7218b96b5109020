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
	"slices"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

const directoryComponent = "directory"

type IChannelDirectory interface {
	SetIdentity(ctx context.Context, userID string) error
	Fetch(ctx context.Context) ([]domain.Channel, error)
	GetByID(ctx context.Context, id domain.ChannelID) (domain.Channel, error)
	Refresh(ctx context.Context) ([]domain.Channel, error)
	Channels() []domain.Channel
	Status() domain.SubscriptionStatus
	Close()
}

// ChannelDirectory mirrors the channels the current identity is a member of.
// A channel is only ever listed while the identity is in its member set.
type ChannelDirectory struct {
	mu           sync.Mutex
	log          *slog.Logger
	store        contract.IRemoteStore
	metrics      *observability.Recorder
	subscription *runtime.SubscriptionManager
	lookups      singleflight.Group

	identity   string
	generation uint64
	channels   []domain.Channel
	// cache holds positive and negative lookups; a nil value means "not found".
	cache map[domain.ChannelID]*domain.Channel

	// Live changes seen while a fetch is in flight, replayed over its result.
	seq      uint64
	fetching int
	edits    map[domain.ChannelID]liveEdit
}

type liveEdit struct {
	seq     uint64
	channel domain.Channel
	deleted bool
}

func NewChannelDirectory(
	log *slog.Logger,
	store contract.IRemoteStore,
	config runtime.SubscriptionConfig,
	metrics *observability.Recorder,
) *ChannelDirectory {
	d := &ChannelDirectory{
		log:     log.With("component", directoryComponent),
		store:   store,
		metrics: metrics,
		cache:   make(map[domain.ChannelID]*domain.Channel),
		edits:   make(map[domain.ChannelID]liveEdit),
	}
	d.subscription = runtime.NewSubscriptionManager(
		log, directoryComponent, store, config, metrics, d.apply, d.poll)
	return d
}

// SetIdentity switches the directory to another user, or to nobody when
// userID is empty. Everything belonging to the previous identity is dropped
// before the new one is fetched.
func (d *ChannelDirectory) SetIdentity(ctx context.Context, userID string) error {
	d.mu.Lock()
	d.generation++
	d.identity = userID
	d.channels = nil
	clear(d.cache)
	clear(d.edits)
	d.mu.Unlock()

	d.subscription.Stop()
	if userID == "" {
		d.log.Info("Directory cleared, no identity")
		return nil
	}
	d.subscription.Start(domain.SubscribeRequest{Topic: domain.TopicChannels})
	_, err := d.Fetch(ctx)
	return err
}

// Fetch loads the membership list, ordered by name.
// A result that arrives after an identity switch is dropped silently and the
// current list is returned instead. Live changes applied while the list was
// being read are replayed over it, so the list cannot undo them.
func (d *ChannelDirectory) Fetch(ctx context.Context) ([]domain.Channel, error) {
	d.mu.Lock()
	identity, generation := d.identity, d.generation
	if identity == "" {
		d.mu.Unlock()
		return nil, errors.ErrMissingIdentity
	}
	since := d.seq
	d.fetching++
	d.mu.Unlock()

	d.metrics.RemoteCall("list_channels")
	channels, err := d.store.ListChannels(ctx, identity)

	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.endFetchLocked()
	if err != nil {
		return nil, fmt.Errorf("list channels for %s: %w", identity, err)
	}
	if generation != d.generation {
		d.log.Debug("Stale channel list dropped", "identity", identity)
		d.metrics.StaleDiscard(directoryComponent)
		return slices.Clone(d.channels), nil
	}
	visible := lo.Filter(channels, func(c domain.Channel, _ int) bool { return c.HasMember(identity) })
	visible = lo.UniqBy(visible, func(c domain.Channel) domain.ChannelID { return c.ID })
	slices.SortFunc(visible, domain.CompareChannels)
	d.channels = visible
	for _, c := range visible {
		d.cache[c.ID] = lo.ToPtr(c)
	}
	d.replayLocked(since)
	return slices.Clone(d.channels), nil
}

// replayLocked re-applies the live changes recorded after since. A fetched
// row that is newer than the change wins; deletes always win.
func (d *ChannelDirectory) replayLocked(since uint64) {
	for id, edit := range d.edits {
		if edit.seq <= since {
			continue
		}
		if edit.deleted {
			d.removeLocked(id)
			continue
		}
		i := slices.IndexFunc(d.channels, func(c domain.Channel) bool { return c.ID == id })
		if i >= 0 && d.channels[i].UpdatedAt.After(edit.channel.UpdatedAt) {
			continue
		}
		if edit.channel.HasMember(d.identity) {
			d.upsertLocked(edit.channel)
		} else {
			d.removeLocked(id)
		}
	}
}

func (d *ChannelDirectory) endFetchLocked() {
	d.fetching--
	if d.fetching == 0 {
		clear(d.edits)
	}
}

// GetByID answers from the cache, including cached misses, and otherwise asks
// the remote store once per id even under concurrent callers.
func (d *ChannelDirectory) GetByID(ctx context.Context, id domain.ChannelID) (domain.Channel, error) {
	d.mu.Lock()
	identity, generation := d.identity, d.generation
	cached, hit := d.cache[id]
	d.mu.Unlock()
	if identity == "" {
		return domain.Channel{}, errors.ErrMissingIdentity
	}
	if hit {
		if cached == nil {
			return domain.Channel{}, fmt.Errorf("channel %s: %w", id, errors.ErrNotFound)
		}
		return *cached, nil
	}

	key := fmt.Sprintf("%d:%s", generation, id)
	value, err, _ := d.lookups.Do(key, func() (any, error) {
		d.metrics.RemoteCall("get_channel")
		return d.store.GetChannel(ctx, id)
	})
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return domain.Channel{}, fmt.Errorf("get channel %s: %w", id, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var found *domain.Channel
	if err == nil {
		if c := value.(domain.Channel); c.HasMember(identity) {
			found = &c
		}
	}
	if generation == d.generation {
		d.cache[id] = found
	} else {
		d.metrics.StaleDiscard(directoryComponent)
	}
	if found == nil {
		return domain.Channel{}, fmt.Errorf("channel %s: %w", id, errors.ErrNotFound)
	}
	return *found, nil
}

// Refresh drops every cached lookup and republishes the full list.
func (d *ChannelDirectory) Refresh(ctx context.Context) ([]domain.Channel, error) {
	d.mu.Lock()
	clear(d.cache)
	d.mu.Unlock()
	d.subscription.ForceRefresh()
	return d.Fetch(ctx)
}

func (d *ChannelDirectory) Channels() []domain.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.channels)
}

func (d *ChannelDirectory) Identity() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identity
}

func (d *ChannelDirectory) Status() domain.SubscriptionStatus {
	return d.subscription.Status()
}

func (d *ChannelDirectory) OnStatus(fn func(domain.SubscriptionStatus)) {
	d.subscription.OnStatus(fn)
}

func (d *ChannelDirectory) Close() {
	d.subscription.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generation++
	d.identity = ""
	d.channels = nil
	clear(d.cache)
	clear(d.edits)
}

// apply handles one live change. It never fails outward.
func (d *ChannelDirectory) apply(change domain.Change) {
	if change.Channel == nil {
		d.log.Warn("Non-channel change on channel handle ignored", "topic", change.Topic)
		d.metrics.ChangeIgnored(directoryComponent, "topic")
		return
	}
	channel := *change.Channel

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.identity == "" {
		return
	}
	if d.fetching > 0 {
		d.seq++
		d.edits[channel.ID] = liveEdit{
			seq:     d.seq,
			channel: channel,
			deleted: change.Kind == domain.ChangeDelete,
		}
	}
	switch {
	case change.Kind == domain.ChangeDelete:
		d.removeLocked(channel.ID)
	case channel.HasMember(d.identity):
		d.upsertLocked(channel)
	default:
		d.removeLocked(channel.ID)
	}
	d.metrics.ChangeApplied(directoryComponent, change.Kind)
}

func (d *ChannelDirectory) upsertLocked(channel domain.Channel) {
	if i := slices.IndexFunc(d.channels, func(c domain.Channel) bool { return c.ID == channel.ID }); i >= 0 {
		if channel.UpdatedAt.Before(d.channels[i].UpdatedAt) {
			d.metrics.ChangeIgnored(directoryComponent, "stale")
			return
		}
		d.channels[i] = channel
	} else {
		d.channels = append(d.channels, channel)
	}
	slices.SortFunc(d.channels, domain.CompareChannels)
	d.cache[channel.ID] = lo.ToPtr(channel)
}

func (d *ChannelDirectory) removeLocked(id domain.ChannelID) {
	d.channels = slices.DeleteFunc(d.channels, func(c domain.Channel) bool { return c.ID == id })
	d.cache[id] = nil
}

func (d *ChannelDirectory) poll(ctx context.Context) (runtime.PollResult, error) {
	d.mu.Lock()
	identity := d.identity
	d.mu.Unlock()
	if identity == "" {
		return runtime.PollResult{}, nil
	}
	channels, err := d.store.ListChannels(ctx, identity)
	if err != nil {
		return runtime.PollResult{}, err
	}
	return runtime.PollResult{
		Records: lo.Map(channels, func(c domain.Channel, _ int) domain.Record { return c }),
	}, nil
}
