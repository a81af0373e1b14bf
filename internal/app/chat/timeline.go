/*
Package chat contains the client side of the storefront's live chat.

This file defines the Timeline, the local ordered message list. Entries are
kept in createdAt ascending order, no two entries may carry the same confirmed
id, and a pending entry is replaced (never duplicated) once the server echoes
the confirmed message back. The Timeline is not safe for concurrent use; the
Controller serializes access to it.
*/
package chat

import (
	"maps"
	"sort"
)

// InsertOutcome describes what Insert did with a message.
type InsertOutcome int

const (
	// Inserted means the message was new and merged into the timeline.
	Inserted InsertOutcome = iota

	// Duplicate means an entry with the same id already existed; nothing changed.
	Duplicate

	// ReplacedPending means the message confirmed a pending entry, which was
	// swapped out in its place.
	ReplacedPending
)

// Timeline is the ordered local message list for one client.
type Timeline struct {
	messages []ChatMessage
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Insert merges a message into the timeline. A message whose id already exists
// is dropped as a duplicate; everything else is inserted at its createdAt
// position (after existing entries with the same timestamp, keeping arrival
// order stable).
func (t *Timeline) Insert(msg ChatMessage) InsertOutcome {
	for _, existing := range t.messages {
		if existing.ID.Equal(msg.ID) {
			return Duplicate
		}
	}

	t.insertOrdered(msg)
	return Inserted
}

// ResolvePending replaces the pending entry identified by localID with the
// confirmed message. When no such pending entry exists (for example after a
// fetch-and-replace dropped it), the confirmed message is merged through the
// regular Insert path instead, so the echo is never lost and never duplicated.
func (t *Timeline) ResolvePending(localID string, confirmed ChatMessage) InsertOutcome {
	for i, existing := range t.messages {
		if existing.ID.IsPending() && existing.ID.Pending == localID {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			t.insertOrdered(confirmed)
			return ReplacedPending
		}
	}

	return t.Insert(confirmed)
}

// RemovePending deletes the pending entry identified by localID, used to take
// back a local echo whose send could not be queued. Returns whether an entry
// was removed.
func (t *Timeline) RemovePending(localID string) bool {
	for i, existing := range t.messages {
		if existing.ID.IsPending() && existing.ID.Pending == localID {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Replace swaps the whole timeline for the given list, used by the idempotent
// fetch-and-replace of LoadMessages. The input is re-sorted defensively since
// ordering is a timeline invariant, not a backend promise.
func (t *Timeline) Replace(messages []ChatMessage) {
	t.messages = make([]ChatMessage, len(messages))
	copy(t.messages, messages)

	sort.SliceStable(t.messages, func(i, j int) bool {
		return t.messages[i].CreatedAt.Before(t.messages[j].CreatedAt)
	})
}

// Messages returns a deep copy of the current timeline, so a caller mutating
// a returned metadata map cannot reach back into timeline state.
func (t *Timeline) Messages() []ChatMessage {
	out := make([]ChatMessage, len(t.messages))
	for i, msg := range t.messages {
		msg.Metadata = maps.Clone(msg.Metadata)
		out[i] = msg
	}
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	return len(t.messages)
}

// insertOrdered places msg at the first position whose entry is strictly
// later, preserving arrival order among equal timestamps.
func (t *Timeline) insertOrdered(msg ChatMessage) {
	idx := sort.Search(len(t.messages), func(i int) bool {
		return t.messages[i].CreatedAt.After(msg.CreatedAt)
	})

	t.messages = append(t.messages[:idx], append([]ChatMessage{msg}, t.messages[idx:]...)...)
}
