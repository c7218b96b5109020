// Package remote is the authoritative store the sync core mirrors: badger
// rows for reads and writes, a change bus for live events.
package remote

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/infrastructure/storage"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Store struct {
	log      *slog.Logger
	messages storage.IMessageRepository
	channels storage.IChannelRepository
	bus      contract.IChangeBus
	now      func() time.Time
}

func NewStore(
	log *slog.Logger,
	messages storage.IMessageRepository,
	channels storage.IChannelRepository,
	bus contract.IChangeBus,
) *Store {
	return &Store{
		log:      log.With("component", "remote_store"),
		messages: messages,
		channels: channels,
		bus:      bus,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) ListChannels(ctx context.Context, memberID string) ([]domain.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.channels.GetChannelsForMember(memberID)
}

func (s *Store) GetChannel(ctx context.Context, id domain.ChannelID) (domain.Channel, error) {
	if err := ctx.Err(); err != nil {
		return domain.Channel{}, err
	}
	return s.channels.GetChannel(id)
}

func (s *Store) ListMessages(ctx context.Context, query domain.MessageQuery) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.messages.GetMessages(query)
}

// InsertMessage assigns the id and timestamps, stores the row and announces it.
// Only members of the channel may post.
func (s *Store) InsertMessage(ctx context.Context, message domain.NewMessage) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	channel, err := s.channels.GetChannel(message.ChannelID)
	if err != nil {
		return domain.Message{}, err
	}
	if !channel.HasMember(message.AuthorID) {
		return domain.Message{}, fmt.Errorf("%w: %s is not a member of %s",
			errors.ErrPermissionDenied, message.AuthorID, message.ChannelID)
	}
	now := s.now()
	stored := domain.Message{
		ID:          uuid.NewString(),
		ChannelID:   message.ChannelID,
		AuthorID:    message.AuthorID,
		Content:     message.Content,
		Attachments: message.Attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = s.messages.StoreMessage(stored); err != nil {
		return domain.Message{}, err
	}
	s.publish(ctx, domain.MessageChange(domain.ChangeInsert, stored))
	return stored, nil
}

func (s *Store) Subscribe(ctx context.Context, request domain.SubscribeRequest, listener contract.Listener) (contract.ISubscription, error) {
	return s.bus.Subscribe(ctx, request, listener)
}

// UpsertChannel creates or replaces a channel and announces it.
func (s *Store) UpsertChannel(ctx context.Context, channel domain.Channel) (domain.Channel, error) {
	if channel.ID == "" {
		channel.ID = uuid.NewString()
	}
	if channel.Type == "" {
		channel.Type = domain.ChannelPublic
	}
	channel.Members = lo.Uniq(channel.Members)
	channel.UpdatedAt = s.now()

	kind := domain.ChangeUpdate
	if _, err := s.channels.GetChannel(channel.ID); errors.Is(err, errors.ErrNotFound) {
		kind = domain.ChangeInsert
	} else if err != nil {
		return domain.Channel{}, err
	}
	if err := s.channels.StoreChannel(channel); err != nil {
		return domain.Channel{}, err
	}
	s.publish(ctx, domain.ChannelChange(kind, channel))
	return channel, nil
}

func (s *Store) DeleteChannel(ctx context.Context, id domain.ChannelID) error {
	channel, err := s.channels.DeleteChannel(id)
	if err != nil {
		return err
	}
	s.publish(ctx, domain.ChannelChange(domain.ChangeDelete, channel))
	return nil
}

func (s *Store) EditMessage(ctx context.Context, id domain.MessageID, content string) (domain.Message, error) {
	message, err := s.messages.GetMessage(id)
	if err != nil {
		return domain.Message{}, err
	}
	if message.IsDeleted() {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, errors.ErrNotFound)
	}
	message.Content = content
	message.UpdatedAt = s.now()
	if err = s.messages.StoreMessage(message); err != nil {
		return domain.Message{}, err
	}
	s.publish(ctx, domain.MessageChange(domain.ChangeUpdate, message))
	return message, nil
}

// DeleteMessage soft-deletes: the row stays with DeletedAt set and is
// announced as an update.
func (s *Store) DeleteMessage(ctx context.Context, id domain.MessageID) error {
	message, err := s.messages.GetMessage(id)
	if err != nil {
		return err
	}
	if message.IsDeleted() {
		return nil
	}
	message.DeletedAt = lo.ToPtr(s.now())
	if err = s.messages.StoreMessage(message); err != nil {
		return err
	}
	s.publish(ctx, domain.MessageChange(domain.ChangeUpdate, message))
	return nil
}

// PurgeMessage removes the row and announces a delete.
func (s *Store) PurgeMessage(ctx context.Context, id domain.MessageID) error {
	message, err := s.messages.DeleteMessage(id)
	if err != nil {
		return err
	}
	s.publish(ctx, domain.MessageChange(domain.ChangeDelete, message))
	return nil
}

// publish never fails a write: the row is durable, subscribers catch up on
// their next reconnect or poll.
func (s *Store) publish(ctx context.Context, change domain.Change) {
	if err := s.bus.Publish(ctx, change); err != nil {
		s.log.Warn("Change not announced", "kind", change.Kind, "topic", change.Topic, "error", err)
	}
}

var _ contract.IRemoteStore = (*Store)(nil)
