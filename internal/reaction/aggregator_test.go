package reaction

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/whisper/channelsync/internal/protocol"
)

func TestApply_AddAndSnapshot(t *testing.T) {
	a := New("me")
	a.Prime("m1", nil)

	a.Apply("m1", Delta{Emoji: "👍", Op: OpAdd, ActorID: "u1"})
	a.Apply("m1", Delta{Emoji: "👍", Op: OpAdd, ActorID: "me"})
	a.Apply("m1", Delta{Emoji: "🎉", Op: OpAdd, ActorID: "u1"})

	want := []Aggregate{
		{Emoji: "👍", Count: 2, ReactedByMe: true},
		{Emoji: "🎉", Count: 1, ReactedByMe: false},
	}
	if diff := cmp.Diff(want, a.Snapshot("m1")); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_DuplicateAddDoesNotDoubleCount(t *testing.T) {
	a := New("me")
	a.Prime("m1", nil)

	d := Delta{Emoji: "👍", Op: OpAdd, ActorID: "u1"}
	if !a.Apply("m1", d) {
		t.Error("first add should change state")
	}
	if a.Apply("m1", d) {
		t.Error("duplicate add should be a no-op")
	}

	snap := a.Snapshot("m1")
	if len(snap) != 1 || snap[0].Count != 1 {
		t.Errorf("duplicate delivery double-counted: %+v", snap)
	}
}

func TestApply_RemoveDropsZeroCountAggregate(t *testing.T) {
	a := New("me")
	a.Prime("m1", nil)

	a.Apply("m1", Delta{Emoji: "👍", Op: OpAdd, ActorID: "u1"})
	a.Apply("m1", Delta{Emoji: "👍", Op: OpRemove, ActorID: "u1"})

	if snap := a.Snapshot("m1"); len(snap) != 0 {
		t.Errorf("zero-count aggregate must be removed, got %+v", snap)
	}

	// Removing an absent reaction stays a no-op.
	if a.Apply("m1", Delta{Emoji: "👍", Op: OpRemove, ActorID: "u1"}) {
		t.Error("remove of absent reaction should be a no-op")
	}
}

func TestSnapshot_FirstSeenEmojiOrder(t *testing.T) {
	a := New("me")
	a.Prime("m1", nil)

	a.Apply("m1", Delta{Emoji: "🎉", Op: OpAdd, ActorID: "u1"})
	a.Apply("m1", Delta{Emoji: "👍", Op: OpAdd, ActorID: "u1"})
	a.Apply("m1", Delta{Emoji: "🎉", Op: OpAdd, ActorID: "u2"})
	a.Apply("m1", Delta{Emoji: "❤️", Op: OpAdd, ActorID: "u1"})

	snap := a.Snapshot("m1")
	got := make([]string, len(snap))
	for i, agg := range snap {
		got[i] = agg.Emoji
	}
	if diff := cmp.Diff([]string{"🎉", "👍", "❤️"}, got); diff != "" {
		t.Errorf("emoji order mismatch:\n%s", diff)
	}
}

func TestPrime_SeedsAndReplaysHeldDeltas(t *testing.T) {
	a := New("me")

	// Reaction events arrive before the historical message is fetched.
	a.Apply("m1", Delta{Emoji: "👍", Op: OpAdd, ActorID: "u3"})
	a.Apply("m1", Delta{Emoji: "🎉", Op: OpRemove, ActorID: "u1"})
	if a.Buffered() != 2 {
		t.Fatalf("expected 2 held deltas, got %d", a.Buffered())
	}

	a.Prime("m1", []protocol.ReactionSeed{
		{Emoji: "🎉", ActorIDs: []string{"u1", "u2"}},
	})

	want := []Aggregate{
		{Emoji: "🎉", Count: 1}, // u1 removed by the replayed delta
		{Emoji: "👍", Count: 1},
	}
	if diff := cmp.Diff(want, a.Snapshot("m1")); diff != "" {
		t.Errorf("snapshot after prime mismatch (-want +got):\n%s", diff)
	}
	if a.Buffered() != 0 {
		t.Errorf("held deltas should be drained, got %d", a.Buffered())
	}
}

func TestPrime_KnownMessageIsNoOp(t *testing.T) {
	a := New("me")
	a.Prime("m1", nil)
	a.Apply("m1", Delta{Emoji: "👍", Op: OpAdd, ActorID: "u1"})

	// A re-fetched history page carries a stale empty seed set.
	a.Prime("m1", nil)

	snap := a.Snapshot("m1")
	if len(snap) != 1 || snap[0].Count != 1 {
		t.Errorf("re-prime reset live state: %+v", snap)
	}
}

func TestSweep_DropsExpiredHeldDeltas(t *testing.T) {
	a := New("me")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	a.Apply("m1", Delta{Emoji: "👍", Op: OpAdd, ActorID: "u1"})
	now = now.Add(10 * time.Second)
	a.Apply("m2", Delta{Emoji: "👍", Op: OpAdd, ActorID: "u1"})

	now = now.Add(25 * time.Second) // m1 past the 30s window, m2 not
	if dropped := a.Sweep(); dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}
	if a.Buffered() != 1 {
		t.Errorf("expected 1 held delta left, got %d", a.Buffered())
	}

	// The expired delta must not resurface when the message arrives.
	a.Prime("m1", nil)
	if snap := a.Snapshot("m1"); len(snap) != 0 {
		t.Errorf("expired delta applied: %+v", snap)
	}
}

func TestForget(t *testing.T) {
	a := New("me")
	a.Prime("m1", nil)
	a.Apply("m1", Delta{Emoji: "👍", Op: OpAdd, ActorID: "u1"})

	a.Forget("m1")
	if snap := a.Snapshot("m1"); snap != nil {
		t.Errorf("forgotten message should have no snapshot: %+v", snap)
	}
}
