package services

import (
	"chat-sync/domain"
	"sync"

	"github.com/samber/lo"
)

type IThreadIndex interface {
	OpenThread(channelID domain.ChannelID, messageID domain.MessageID, snapshot *domain.Message)
	CloseThread(channelID domain.ChannelID)
	SwitchChannel(channelID domain.ChannelID)
	GetOpenThread(channelID domain.ChannelID) *domain.ThreadPointer
	Active() *domain.ThreadPointer
	Reset()
}

// ThreadIndex remembers which thread is open in each channel and which one
// is active right now. It holds at most one pointer per channel and at most
// one active pointer, and lives as long as the session.
type ThreadIndex struct {
	mu     sync.Mutex
	open   map[domain.ChannelID]domain.ThreadPointer
	active *domain.ThreadPointer
}

func NewThreadIndex() *ThreadIndex {
	return &ThreadIndex{open: make(map[domain.ChannelID]domain.ThreadPointer)}
}

// OpenThread replaces any thread already open in channelID and activates it.
func (t *ThreadIndex) OpenThread(channelID domain.ChannelID, messageID domain.MessageID, snapshot *domain.Message) {
	if channelID == "" || messageID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pointer := domain.ThreadPointer{
		ChannelID:     channelID,
		RootMessageID: messageID,
		Snapshot:      cloneMessage(snapshot),
	}
	t.open[channelID] = pointer
	t.active = &pointer
}

func (t *ThreadIndex) CloseThread(channelID domain.ChannelID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, channelID)
	if t.active != nil && t.active.ChannelID == channelID {
		t.active = nil
	}
}

// SwitchChannel resumes the thread previously open in channelID, if any.
func (t *ThreadIndex) SwitchChannel(channelID domain.ChannelID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pointer, ok := t.open[channelID]; ok {
		t.active = &pointer
		return
	}
	t.active = nil
}

// GetOpenThread returns a copy of the channel's pointer, or nil.
func (t *ThreadIndex) GetOpenThread(channelID domain.ChannelID) *domain.ThreadPointer {
	t.mu.Lock()
	defer t.mu.Unlock()
	pointer, ok := t.open[channelID]
	if !ok {
		return nil
	}
	return clonePointer(&pointer)
}

func (t *ThreadIndex) Active() *domain.ThreadPointer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clonePointer(t.active)
}

// RefreshSnapshot swaps the cached root of the thread open in channelID when
// message is that root. It reports whether anything changed.
func (t *ThreadIndex) RefreshSnapshot(channelID domain.ChannelID, message domain.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pointer, ok := t.open[channelID]
	if !ok || pointer.RootMessageID != message.ID {
		return false
	}
	pointer.Snapshot = cloneMessage(&message)
	t.open[channelID] = pointer
	if t.active != nil && t.active.ChannelID == channelID {
		t.active = &pointer
	}
	return true
}

// Reset forgets every pointer. Called when the session ends.
func (t *ThreadIndex) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.open)
	t.active = nil
}

func clonePointer(p *domain.ThreadPointer) *domain.ThreadPointer {
	if p == nil {
		return nil
	}
	c := *p
	c.Snapshot = cloneMessage(p.Snapshot)
	return &c
}

func cloneMessage(m *domain.Message) *domain.Message {
	if m == nil {
		return nil
	}
	return lo.ToPtr(*m)
}
