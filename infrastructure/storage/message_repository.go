//go:generate go run go.uber.org/mock/mockgen -source=message_repository.go -destination=../../mocks/mock_message_repository.go -package=mocks
package storage

import (
	"bytes"
	"chat-sync/domain"
	"chat-sync/errors"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	messagePrefix = "msg:"
	messageIndex  = "msgid:"
	// newestSeek sorts after every 19-digit timestamp of a channel prefix.
	newestSeek = "9999999999999999999"
)

type IMessageRepository interface {
	StoreMessage(message domain.Message) error
	GetMessage(id domain.MessageID) (domain.Message, error)
	GetMessages(query domain.MessageQuery) ([]domain.Message, error)
	DeleteMessage(id domain.MessageID) (domain.Message, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// messageKey is "msg:{channel_id}:{created_at_padded}:{id}".
// The 19-digit zero padding keeps lexicographical order chronological and the
// id breaks ties between messages sharing a nanosecond.
func messageKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s",
		messagePrefix, m.ChannelID, m.CreatedAt.UnixNano(), m.ID))
}

func indexKey(id domain.MessageID) []byte {
	return []byte(messageIndex + id)
}

// StoreMessage inserts or overwrites a message. CreatedAt and ChannelID are
// immutable once stored, so an overwrite keeps the original primary key.
func (m MessageRepository) StoreMessage(message domain.Message) error {
	if message.ID == "" || message.ChannelID == "" {
		return fmt.Errorf("%w: message needs an id and a channel", errors.ErrValidation)
	}
	message.CreatedAt = normalize(message.CreatedAt)
	message.UpdatedAt = normalize(message.UpdatedAt)
	if message.DeletedAt != nil {
		deletedAt := normalize(*message.DeletedAt)
		message.DeletedAt = &deletedAt
	}
	return m.db.Update(func(txn *badger.Txn) error {
		key := messageKey(message)
		if existing, err := getMessage(txn, message.ID); err == nil {
			message.ChannelID = existing.ChannelID
			message.CreatedAt = existing.CreatedAt
			key = messageKey(existing)
		} else if !errors.Is(err, errors.ErrNotFound) {
			return err
		}
		value, err := json.Marshal(message)
		if err != nil {
			return err
		}
		if err = txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(message.ID), key)
	})
}

func (m MessageRepository) GetMessage(id domain.MessageID) (domain.Message, error) {
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		message, err = getMessage(txn, id)
		return err
	})
	return message, err
}

// GetMessages returns up to query.Limit messages of a channel, newest first,
// all strictly older than the (Before, BeforeID) position when Before is set.
// The iteration runs backwards from the seek key, so a page costs one scan.
func (m MessageRepository) GetMessages(query domain.MessageQuery) ([]domain.Message, error) {
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("%s%s:", messagePrefix, query.ChannelID))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		if query.Limit > 0 {
			options.PrefetchSize = query.Limit
		}
		it := txn.NewIterator(options)
		defer it.Close()

		// In reverse mode Seek lands on the largest key <= seekKey. Keys at
		// exactly Before carry a ":{id}" suffix and sort after a bare
		// timestamp; with BeforeID the seek key is the boundary row itself.
		seekKey := append([]byte{}, prefix...)
		switch {
		case query.Before.IsZero():
			seekKey = append(seekKey, newestSeek...)
		case query.BeforeID != "":
			seekKey = append(seekKey, fmt.Sprintf("%019d:%s", query.Before.UnixNano(), query.BeforeID)...)
		default:
			seekKey = append(seekKey, fmt.Sprintf("%019d", query.Before.UnixNano())...)
		}

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if bytes.Equal(it.Item().Key(), seekKey) {
				continue
			}
			if query.Limit > 0 && len(messages) == query.Limit {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", query.Limit))
				break
			}
			var message domain.Message
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &message)
			})
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// DeleteMessage removes a message row and its index entry, returning the row.
func (m MessageRepository) DeleteMessage(id domain.MessageID) (domain.Message, error) {
	var message domain.Message
	err := m.db.Update(func(txn *badger.Txn) error {
		var err error
		if message, err = getMessage(txn, id); err != nil {
			return err
		}
		if err = txn.Delete(messageKey(message)); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
	return message, err
}

func getMessage(txn *badger.Txn, id domain.MessageID) (domain.Message, error) {
	var message domain.Message
	item, err := txn.Get(indexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return message, fmt.Errorf("message %s: %w", id, errors.ErrNotFound)
	}
	if err != nil {
		return message, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return message, err
	}
	item, err = txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return message, fmt.Errorf("message %s: %w", id, errors.ErrNotFound)
	}
	if err != nil {
		return message, err
	}
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &message)
	})
	return message, err
}

// normalize strips the monotonic clock so stored and returned values compare equal.
func normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Round(0).UTC()
}
