package domain

import (
	"cmp"
	"strings"
	"time"
)

type ChannelID = string

type ChannelType string

const (
	ChannelPublic  ChannelType = "public"
	ChannelPrivate ChannelType = "private"
	ChannelDirect  ChannelType = "direct"
)

// Channel is a named conversation space with a membership set.
// Channels are created and deleted remotely; the core only mirrors them.
type Channel struct {
	ID        ChannelID         `json:"id"`
	Name      string            `json:"name"`
	Members   []string          `json:"members"`
	Settings  map[string]string `json:"settings,omitempty"`
	Type      ChannelType       `json:"type"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (c Channel) HasMember(userID string) bool {
	if userID == "" {
		return false
	}
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

func (c Channel) RecordID() string { return c.ID }

func (c Channel) RecordVersion() time.Time { return c.UpdatedAt }

// RecordPosition is zero: channel listings are never windowed.
func (c Channel) RecordPosition() time.Time { return time.Time{} }

// CompareChannels orders by name, case-insensitively, then by id.
func CompareChannels(a, b Channel) int {
	if c := cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
