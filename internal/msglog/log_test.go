package msglog

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/whisper/channelsync/internal/protocol"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) protocol.Message {
	return protocol.Message{
		ID:        id,
		ChannelID: "c1",
		AuthorID:  "u1",
		Content:   "msg " + id,
		CreatedAt: base.Add(offset),
	}
}

func ids(msgs []protocol.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestInsert_OrdersByCreatedAt(t *testing.T) {
	l := New()
	l.Insert(msg("m3", 3*time.Second))
	l.Insert(msg("m1", 1*time.Second))
	l.Insert(msg("m2", 2*time.Second))

	got := ids(l.Messages())
	want := []string{"m1", "m2", "m3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestInsert_Idempotent(t *testing.T) {
	l := New()
	if !l.Insert(msg("m1", 0)) {
		t.Fatal("first insert should report added")
	}
	if l.Insert(msg("m1", 0)) {
		t.Error("second insert of same id should be a no-op")
	}
	if l.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", l.Len())
	}
}

func TestInsert_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	l := New()
	l.Insert(msg("a", time.Second))
	l.Insert(msg("b", time.Second))
	l.Insert(msg("c", time.Second))

	got := ids(l.Messages())
	want := []string{"a", "b", "c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tie order mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderInvariant(t *testing.T) {
	l := New()
	offsets := []time.Duration{5, 1, 3, 3, 2, 9, 0, 7}
	for i, off := range offsets {
		l.Insert(msg(fmt.Sprintf("m%d", i), off*time.Second))
	}

	msgs := l.Messages()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("order invariant violated at %d: %s before %s",
				i, msgs[i].CreatedAt, msgs[i-1].CreatedAt)
		}
	}
}

func TestReplace_SamePosition(t *testing.T) {
	l := New()
	l.Insert(msg("m1", time.Second))
	l.Insert(msg("m2", 2*time.Second))

	edited := msg("m1", time.Second)
	edited.Content = "edited"
	edited.Edited = true
	if !l.Replace("m1", edited) {
		t.Fatal("Replace should find m1")
	}

	got, ok := l.Get("m1")
	if !ok || got.Content != "edited" || !got.Edited {
		t.Errorf("unexpected entry after replace: %+v", got)
	}
	if diff := cmp.Diff([]string{"m1", "m2"}, ids(l.Messages())); diff != "" {
		t.Errorf("order changed by in-place replace:\n%s", diff)
	}
}

func TestReplace_PromotesTempID(t *testing.T) {
	l := New()
	l.Insert(msg("tmp-1", 5*time.Second))

	server := msg("srv-9", 4*time.Second) // server clock differs from local
	if !l.Replace("tmp-1", server) {
		t.Fatal("Replace should find tmp-1")
	}

	if l.Contains("tmp-1") {
		t.Error("temporary id should be retired")
	}
	if !l.Contains("srv-9") {
		t.Error("server id should be present")
	}
	if l.Len() != 1 {
		t.Errorf("expected exactly 1 entry, got %d", l.Len())
	}
}

func TestReplace_ServerEchoAlreadyPresent(t *testing.T) {
	// The real-time echo may beat the REST confirmation. Promotion must then
	// collapse the provisional entry into the already-present server copy.
	l := New()
	l.Insert(msg("tmp-1", 5*time.Second))
	l.Insert(msg("srv-9", 5*time.Second))

	l.Replace("tmp-1", msg("srv-9", 5*time.Second))

	if l.Len() != 1 {
		t.Fatalf("expected 1 entry after promotion, got %d", l.Len())
	}
	if !l.Contains("srv-9") || l.Contains("tmp-1") {
		t.Errorf("unexpected ids after promotion: %v", ids(l.Messages()))
	}
}

func TestReplace_AbsentID(t *testing.T) {
	l := New()
	if l.Replace("ghost", msg("m1", 0)) {
		t.Error("Replace of absent id should return false")
	}
	if l.Len() != 0 {
		t.Error("Replace of absent id must not insert")
	}
}

func TestRemove(t *testing.T) {
	l := New()
	l.Insert(msg("m1", time.Second))
	l.Insert(msg("m2", 2*time.Second))

	if !l.Remove("m1") {
		t.Fatal("Remove should find m1")
	}
	if l.Remove("m1") {
		t.Error("second Remove should be a no-op")
	}
	if diff := cmp.Diff([]string{"m2"}, ids(l.Messages())); diff != "" {
		t.Errorf("unexpected entries after remove:\n%s", diff)
	}
}

func TestPatch(t *testing.T) {
	l := New()
	l.Insert(msg("m1", time.Second))

	ok := l.Patch("m1", func(m *protocol.Message) {
		m.Content = "patched"
		m.Edited = true
	})
	if !ok {
		t.Fatal("Patch should find m1")
	}
	got, _ := l.Get("m1")
	if got.Content != "patched" || !got.Edited {
		t.Errorf("patch not applied: %+v", got)
	}

	if l.Patch("ghost", func(m *protocol.Message) {}) {
		t.Error("Patch of absent id should return false")
	}
}

func TestMerge_ResidentCopyWins(t *testing.T) {
	l := New()

	// A real-time edit was already applied locally.
	local := msg("m1", time.Second)
	local.Content = "edited locally"
	local.Edited = true
	l.Insert(local)

	// The REST page still carries the pre-edit snapshot.
	stale := msg("m1", time.Second)
	stale.Content = "original"
	added := l.Merge([]protocol.Message{stale, msg("m2", 2*time.Second)})

	if added != 1 {
		t.Errorf("expected 1 added, got %d", added)
	}
	got, _ := l.Get("m1")
	if got.Content != "edited locally" || !got.Edited {
		t.Errorf("resident copy should win over REST snapshot: %+v", got)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	l := New()
	page := []protocol.Message{
		msg("m2", 2*time.Second),
		msg("m1", time.Second),
		msg("m3", 3*time.Second),
	}

	l.Merge(page)
	first := l.Messages()

	if added := l.Merge(page); added != 0 {
		t.Errorf("re-merge should add nothing, added %d", added)
	}
	if diff := cmp.Diff(first, l.Messages()); diff != "" {
		t.Errorf("re-merge changed the log:\n%s", diff)
	}
}

func TestMerge_NewestFirstPage(t *testing.T) {
	// REST pages may arrive newest-first; the log must sort regardless.
	l := New()
	l.Merge([]protocol.Message{
		msg("m3", 3*time.Second),
		msg("m2", 2*time.Second),
		msg("m1", time.Second),
	})

	if diff := cmp.Diff([]string{"m1", "m2", "m3"}, ids(l.Messages())); diff != "" {
		t.Errorf("page order leaked into the log:\n%s", diff)
	}
}

func TestNewestAndClear(t *testing.T) {
	l := New()
	if _, ok := l.Newest(); ok {
		t.Error("Newest on empty log should report false")
	}

	l.Insert(msg("m1", time.Second))
	l.Insert(msg("m2", 2*time.Second))
	newest, ok := l.Newest()
	if !ok || newest.ID != "m2" {
		t.Errorf("unexpected newest: %+v", newest)
	}

	l.Clear()
	if l.Len() != 0 || l.Contains("m1") {
		t.Error("Clear should drop all entries")
	}
}
