// Package projection builds local timelines from observed messages.
// Handles ordering, deduplication, and projections.
// Does not talk to the remote store or interact with UI directly.
package projection

import (
	"chat-sync/domain"
	"slices"
)

// Timeline holds one channel's loaded messages, unique by id and ordered by
// (CreatedAt, ID). Deleted ids are remembered so a late duplicate insert
// cannot bring a message back.
type Timeline struct {
	messages   []domain.Message
	ids        map[domain.MessageID]struct{}
	tombstones map[domain.MessageID]struct{}
}

func NewTimeline() *Timeline {
	return &Timeline{
		ids:        make(map[domain.MessageID]struct{}),
		tombstones: make(map[domain.MessageID]struct{}),
	}
}

func (t *Timeline) Reset() {
	t.messages = nil
	clear(t.ids)
	clear(t.tombstones)
}

// Messages returns a copy safe to hand to the presentation layer.
func (t *Timeline) Messages() []domain.Message {
	return slices.Clone(t.messages)
}

func (t *Timeline) Len() int { return len(t.messages) }

func (t *Timeline) Contains(id domain.MessageID) bool {
	_, ok := t.ids[id]
	return ok
}

func (t *Timeline) Oldest() (domain.Message, bool) {
	if len(t.messages) == 0 {
		return domain.Message{}, false
	}
	return t.messages[0], true
}

// Merge folds a fetched batch into the timeline and returns how many
// messages were added. Batch order does not matter. A batch row never
// overrides a newer copy already held, and a soft-deleted row removes the
// message for good, so a page fetched before a live change cannot undo it.
func (t *Timeline) Merge(batch []domain.Message) int {
	added, changed := 0, false
	for _, m := range batch {
		switch {
		case m.ID == "":
		case m.IsDeleted():
			if i := t.indexOf(m.ID); i < 0 || !m.RecordVersion().Before(t.messages[i].RecordVersion()) {
				changed = t.Delete(m.ID) || changed
			}
		case t.Contains(m.ID):
			changed = t.replace(m) || changed
		case t.add(m):
			added++
		}
	}
	if added > 0 || changed {
		t.sort()
	}
	return added
}

// Retain drops every message keep rejects. Tombstones survive.
func (t *Timeline) Retain(keep func(domain.Message) bool) {
	t.messages = slices.DeleteFunc(t.messages, func(m domain.Message) bool {
		if keep(m) {
			return false
		}
		delete(t.ids, m.ID)
		return true
	})
}

// Insert adds m unless its id is already known or was deleted.
func (t *Timeline) Insert(m domain.Message) bool {
	if !t.add(m) {
		return false
	}
	t.sort()
	return true
}

// Update patches the message with the same id in place. Older versions are
// ignored; a soft-deleted version removes the message.
func (t *Timeline) Update(m domain.Message) bool {
	i := t.indexOf(m.ID)
	if i < 0 {
		return false
	}
	if m.RecordVersion().Before(t.messages[i].RecordVersion()) {
		return false
	}
	if m.IsDeleted() {
		return t.Delete(m.ID)
	}
	t.messages[i] = m
	t.sort()
	return true
}

// replace swaps in m when it is strictly newer than the held copy.
func (t *Timeline) replace(m domain.Message) bool {
	i := t.indexOf(m.ID)
	if i < 0 || !m.RecordVersion().After(t.messages[i].RecordVersion()) {
		return false
	}
	t.messages[i] = m
	return true
}

func (t *Timeline) Delete(id domain.MessageID) bool {
	t.tombstones[id] = struct{}{}
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	t.messages = slices.Delete(t.messages, i, i+1)
	delete(t.ids, id)
	return true
}

func (t *Timeline) add(m domain.Message) bool {
	if m.ID == "" || m.IsDeleted() {
		return false
	}
	if _, dead := t.tombstones[m.ID]; dead {
		return false
	}
	if _, ok := t.ids[m.ID]; ok {
		return false
	}
	t.ids[m.ID] = struct{}{}
	t.messages = append(t.messages, m)
	return true
}

func (t *Timeline) indexOf(id domain.MessageID) int {
	if _, ok := t.ids[id]; !ok {
		return -1
	}
	return slices.IndexFunc(t.messages, func(m domain.Message) bool { return m.ID == id })
}

// sort re-establishes (CreatedAt, ID) order; delivery order is never trusted.
func (t *Timeline) sort() {
	slices.SortFunc(t.messages, domain.CompareMessages)
}
