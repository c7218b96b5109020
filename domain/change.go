package domain

import "time"

type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

type Topic string

const (
	TopicChannels Topic = "channels"
	TopicMessages Topic = "messages"
)

// Record is anything the poller can diff between two snapshots.
// RecordPosition orders records inside a windowed snapshot; records
// positioned before the window floor are never reported as deleted.
type Record interface {
	RecordID() string
	RecordVersion() time.Time
	RecordPosition() time.Time
}

// Change is one live event from the remote store.
// Exactly one of Channel or Message is set, matching Topic.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	Topic   Topic      `json:"topic"`
	Channel *Channel   `json:"channel,omitempty"`
	Message *Message   `json:"message,omitempty"`
}

func (c Change) Record() Record {
	switch {
	case c.Channel != nil:
		return *c.Channel
	case c.Message != nil:
		return *c.Message
	}
	return nil
}

func (c Change) Valid() bool {
	switch c.Kind {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		return false
	}
	switch c.Topic {
	case TopicChannels:
		return c.Channel != nil && c.Channel.ID != "" && c.Message == nil
	case TopicMessages:
		return c.Message != nil && c.Message.ID != "" && c.Channel == nil
	}
	return false
}

func ChannelChange(kind ChangeKind, ch Channel) Change {
	return Change{Kind: kind, Topic: TopicChannels, Channel: &ch}
}

func MessageChange(kind ChangeKind, m Message) Change {
	return Change{Kind: kind, Topic: TopicMessages, Message: &m}
}

// Filter restricts a subscription to rows whose Field equals Value.
// The zero Filter matches everything on the topic.
type Filter struct {
	Field string
	Value string
}

const FilterChannelID = "channel_id"

func (f Filter) IsZero() bool { return f.Field == "" }

func (f Filter) Matches(c Change) bool {
	if f.IsZero() {
		return true
	}
	switch f.Field {
	case FilterChannelID:
		return c.Message != nil && c.Message.ChannelID == f.Value
	case "id":
		if r := c.Record(); r != nil {
			return r.RecordID() == f.Value
		}
	}
	return false
}

func (f Filter) String() string {
	if f.IsZero() {
		return "*"
	}
	return f.Field + "=eq." + f.Value
}

type SubscribeRequest struct {
	Topic  Topic
	Filter Filter
}

// FilterKey identifies what a subscription handle targets.
func (r SubscribeRequest) FilterKey() string {
	return string(r.Topic) + ":" + r.Filter.String()
}

// ChangeFromRecord wraps a polled record back into the live event shape.
func ChangeFromRecord(kind ChangeKind, r Record) (Change, bool) {
	switch rec := r.(type) {
	case Channel:
		return ChannelChange(kind, rec), true
	case Message:
		return MessageChange(kind, rec), true
	}
	return Change{}, false
}
