//go:generate go run go.uber.org/mock/mockgen -source=channel_repository.go -destination=../../mocks/mock_channel_repository.go -package=mocks
package storage

import (
	"chat-sync/domain"
	"chat-sync/errors"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const channelPrefix = "chan:"

type IChannelRepository interface {
	StoreChannel(channel domain.Channel) error
	GetChannel(id domain.ChannelID) (domain.Channel, error)
	GetChannels() ([]domain.Channel, error)
	GetChannelsForMember(memberID string) ([]domain.Channel, error)
	DeleteChannel(id domain.ChannelID) (domain.Channel, error)
}

type ChannelRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewChannelRepository(db *badger.DB, log *slog.Logger) ChannelRepository {
	return ChannelRepository{db: db, log: log}
}

func channelKey(id domain.ChannelID) []byte {
	return []byte(channelPrefix + id)
}

func (c ChannelRepository) StoreChannel(channel domain.Channel) error {
	if channel.ID == "" {
		return fmt.Errorf("%w: channel needs an id", errors.ErrValidation)
	}
	channel.UpdatedAt = normalize(channel.UpdatedAt)
	bytes, err := json.Marshal(channel)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(channelKey(channel.ID), bytes)
	})
}

func (c ChannelRepository) GetChannel(id domain.ChannelID) (domain.Channel, error) {
	var channel domain.Channel
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		channel, err = getChannel(txn, id)
		return err
	})
	return channel, err
}

// GetChannels scans every channel, ordered by name.
func (c ChannelRepository) GetChannels() ([]domain.Channel, error) {
	var channels []domain.Channel
	err := c.db.View(func(txn *badger.Txn) error {
		prefix := []byte(channelPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var channel domain.Channel
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &channel)
			})
			if err != nil {
				return err
			}
			channels = append(channels, channel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(channels, domain.CompareChannels)
	return channels, nil
}

func (c ChannelRepository) GetChannelsForMember(memberID string) ([]domain.Channel, error) {
	channels, err := c.GetChannels()
	if err != nil {
		return nil, err
	}
	return lo.Filter(channels, func(ch domain.Channel, _ int) bool {
		return ch.HasMember(memberID)
	}), nil
}

func (c ChannelRepository) DeleteChannel(id domain.ChannelID) (domain.Channel, error) {
	var channel domain.Channel
	err := c.db.Update(func(txn *badger.Txn) error {
		var err error
		if channel, err = getChannel(txn, id); err != nil {
			return err
		}
		return txn.Delete(channelKey(id))
	})
	return channel, err
}

func getChannel(txn *badger.Txn, id domain.ChannelID) (domain.Channel, error) {
	var channel domain.Channel
	item, err := txn.Get(channelKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return channel, fmt.Errorf("channel %s: %w", id, errors.ErrNotFound)
	}
	if err != nil {
		return channel, err
	}
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &channel)
	})
	return channel, err
}
