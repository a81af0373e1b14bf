package chat

import (
	"testing"
	"time"
)

func msgAt(id MessageID, body string, at time.Time) ChatMessage {
	return ChatMessage{
		ID:             id,
		ConversationID: "conv1",
		Sender:         SenderUser,
		Body:           body,
		CreatedAt:      at,
	}
}

func TestTimelineInsertKeepsCreatedAtOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline()

	tl.Insert(msgAt(ConfirmedID("b"), "second", base.Add(time.Minute)))
	tl.Insert(msgAt(ConfirmedID("a"), "first", base))
	tl.Insert(msgAt(ConfirmedID("c"), "third", base.Add(2*time.Minute)))

	got := tl.Messages()
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Body != "first" || got[1].Body != "second" || got[2].Body != "third" {
		t.Fatalf("unexpected order: %q %q %q", got[0].Body, got[1].Body, got[2].Body)
	}
}

func TestTimelineInsertPreservesArrivalOrderForEqualTimestamps(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline()

	tl.Insert(msgAt(ConfirmedID("a"), "one", at))
	tl.Insert(msgAt(ConfirmedID("b"), "two", at))

	got := tl.Messages()
	if got[0].Body != "one" || got[1].Body != "two" {
		t.Fatalf("equal timestamps should keep arrival order, got %q %q", got[0].Body, got[1].Body)
	}
}

func TestTimelineInsertDropsDuplicateConfirmedID(t *testing.T) {
	at := time.Now()
	tl := NewTimeline()

	if outcome := tl.Insert(msgAt(ConfirmedID("m1"), "hello", at)); outcome != Inserted {
		t.Fatalf("expected Inserted, got %v", outcome)
	}
	if outcome := tl.Insert(msgAt(ConfirmedID("m1"), "hello again", at.Add(time.Second))); outcome != Duplicate {
		t.Fatalf("expected Duplicate, got %v", outcome)
	}
	if tl.Len() != 1 {
		t.Fatalf("expected one entry, got %d", tl.Len())
	}
}

func TestTimelinePendingAndConfirmedIDsNeverCollide(t *testing.T) {
	at := time.Now()
	tl := NewTimeline()

	tl.Insert(msgAt(PendingID("x"), "local", at))
	if outcome := tl.Insert(msgAt(ConfirmedID("x"), "server", at.Add(time.Second))); outcome != Inserted {
		t.Fatalf("confirmed id must not collide with an equal pending id, got %v", outcome)
	}
	if tl.Len() != 2 {
		t.Fatalf("expected two entries, got %d", tl.Len())
	}
}

func TestTimelineResolvePendingReplacesEcho(t *testing.T) {
	at := time.Now()
	tl := NewTimeline()

	tl.Insert(msgAt(ConfirmedID("m1"), "earlier", at.Add(-time.Minute)))
	tl.Insert(msgAt(PendingID("tmp1"), "hello", at))

	outcome := tl.ResolvePending("tmp1", msgAt(ConfirmedID("m2"), "hello", at))
	if outcome != ReplacedPending {
		t.Fatalf("expected ReplacedPending, got %v", outcome)
	}
	if tl.Len() != 2 {
		t.Fatalf("echo must be replaced, not duplicated; got %d entries", tl.Len())
	}

	got := tl.Messages()[1]
	if got.ID.IsPending() || got.ID.Confirmed != "m2" {
		t.Fatalf("expected confirmed id m2, got %v", got.ID)
	}
}

func TestTimelineResolvePendingFallsBackToInsert(t *testing.T) {
	at := time.Now()
	tl := NewTimeline()

	// The pending entry was dropped by a fetch-and-replace before the echo
	// arrived; the confirmed message must still land exactly once.
	outcome := tl.ResolvePending("gone", msgAt(ConfirmedID("m1"), "hello", at))
	if outcome != Inserted {
		t.Fatalf("expected Inserted fallback, got %v", outcome)
	}
	if outcome := tl.ResolvePending("gone", msgAt(ConfirmedID("m1"), "hello", at)); outcome != Duplicate {
		t.Fatalf("second resolve must dedupe, got %v", outcome)
	}
	if tl.Len() != 1 {
		t.Fatalf("expected one entry, got %d", tl.Len())
	}
}

func TestTimelineRemovePending(t *testing.T) {
	at := time.Now()
	tl := NewTimeline()
	tl.Insert(msgAt(PendingID("tmp1"), "hello", at))

	if !tl.RemovePending("tmp1") {
		t.Fatalf("expected pending entry to be removed")
	}
	if tl.RemovePending("tmp1") {
		t.Fatalf("second removal should find nothing")
	}
	if tl.Len() != 0 {
		t.Fatalf("expected empty timeline, got %d entries", tl.Len())
	}
}

func TestTimelineMessagesAreDetachedFromTimelineState(t *testing.T) {
	msg := msgAt(ConfirmedID("m1"), "hello", time.Now())
	msg.Metadata = map[string]string{"intent": "greeting"}

	tl := NewTimeline()
	tl.Insert(msg)

	tl.Messages()[0].Metadata["intent"] = "tampered"

	if got := tl.Messages()[0].Metadata["intent"]; got != "greeting" {
		t.Fatalf("mutating a returned message must not reach timeline state, got %q", got)
	}
}

func TestTimelineReplaceSortsDefensively(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline()
	tl.Insert(msgAt(PendingID("tmp1"), "stale", base))

	tl.Replace([]ChatMessage{
		msgAt(ConfirmedID("b"), "second", base.Add(time.Minute)),
		msgAt(ConfirmedID("a"), "first", base),
	})

	got := tl.Messages()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries after replace, got %d", len(got))
	}
	if got[0].Body != "first" || got[1].Body != "second" {
		t.Fatalf("replace must restore createdAt order, got %q %q", got[0].Body, got[1].Body)
	}
}
