// Package domain contains core concepts of the chat system.
// This file defines Message records and their ordering rules.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"cmp"
	"strings"
	"time"
)

type MessageID = string

// Message is the local projection of a remote message row.
type Message struct {
	ID          MessageID    `json:"id"`
	ChannelID   ChannelID    `json:"channel_id"`
	AuthorID    string       `json:"author_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
}

type Attachment struct {
	Name     string `json:"name" validate:"required"`
	URL      string `json:"url,omitempty" validate:"omitempty,url"`
	MIMEType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size" validate:"gte=0"`
	Data     []byte `json:"-"`
}

func (m Message) IsDeleted() bool { return m.DeletedAt != nil }

func (m Message) RecordID() string { return m.ID }

// RecordVersion is the latest of UpdatedAt and DeletedAt, so a soft delete
// always looks newer than the edit preceding it.
func (m Message) RecordVersion() time.Time {
	if m.DeletedAt != nil && m.DeletedAt.After(m.UpdatedAt) {
		return *m.DeletedAt
	}
	return m.UpdatedAt
}

func (m Message) RecordPosition() time.Time { return m.CreatedAt }

// CompareMessages orders by (CreatedAt, ID) ascending.
// The id tie-break keeps the order total when two messages share a timestamp.
func CompareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// MessageQuery selects a page of a channel's history, newest first.
// A zero Before means "from the most recent message". With BeforeID set the
// bound is the (Before, BeforeID) position, so rows sharing Before's
// timestamp with a smaller id are still returned.
type MessageQuery struct {
	ChannelID ChannelID
	Before    time.Time
	BeforeID  MessageID
	Limit     int
}

// NewMessage is what the feed submits to the remote store.
type NewMessage struct {
	ChannelID   ChannelID
	AuthorID    string
	Content     string
	Attachments []Attachment
}

// PageCursor tracks how far back a feed has paginated.
// OldestID breaks ties between rows sharing OldestLoaded.
type PageCursor struct {
	OldestLoaded time.Time
	OldestID     MessageID
	HasMore      bool
}

// Before reports whether m sorts strictly before the cursor position.
func (c PageCursor) Before(m Message) bool {
	if c.OldestLoaded.IsZero() {
		return false
	}
	return CompareMessages(m, Message{ID: c.OldestID, CreatedAt: c.OldestLoaded}) < 0
}

func TrimContent(content string) string { return strings.TrimSpace(content) }
