package optimistic

import (
	"strings"
	"testing"
	"time"

	"github.com/whisper/channelsync/internal/msglog"
	"github.com/whisper/channelsync/internal/protocol"
)

func newTestTracker() (*Tracker, *msglog.Log) {
	log := msglog.New()
	tr := NewTracker(log)
	return tr, log
}

func TestBegin_InsertsProvisionalMessage(t *testing.T) {
	tr, log := newTestTracker()

	tempID := tr.Begin("c1", "u1", "Ada", protocol.SendPayload{Content: "hi"})

	if !strings.HasPrefix(tempID, TempIDPrefix) {
		t.Errorf("temp id should carry prefix: %q", tempID)
	}
	got, ok := log.Get(tempID)
	if !ok {
		t.Fatal("provisional message should be in the log immediately")
	}
	if got.Content != "hi" || got.AuthorID != "u1" {
		t.Errorf("unexpected provisional message: %+v", got)
	}

	pending := tr.Pending()
	if len(pending) != 1 || pending[0].Status != StatusSending {
		t.Errorf("unexpected pending set: %+v", pending)
	}
}

func TestConfirm_RoundTrip(t *testing.T) {
	tr, log := newTestTracker()
	tempID := tr.Begin("c1", "u1", "Ada", protocol.SendPayload{Content: "hi"})

	server := protocol.Message{
		ID:        "srv-1",
		ChannelID: "c1",
		AuthorID:  "u1",
		Content:   "hi",
		CreatedAt: time.Now(),
	}
	if !tr.Confirm(tempID, server) {
		t.Fatal("Confirm should promote a known temp id")
	}

	if log.Contains(tempID) {
		t.Error("temp id should be gone from the log")
	}
	if !log.Contains("srv-1") {
		t.Error("server id should be in the log")
	}
	if log.Len() != 1 {
		t.Errorf("expected exactly 1 message, got %d", log.Len())
	}
	if len(tr.Pending()) != 0 {
		t.Error("pending set should be empty after confirm")
	}
}

func TestConfirm_UnknownTempIDDropped(t *testing.T) {
	tr, log := newTestTracker()

	ok := tr.Confirm("tmp-ghost", protocol.Message{ID: "srv-1", CreatedAt: time.Now()})
	if ok {
		t.Error("Confirm of unknown temp id should report false")
	}
	if log.Len() != 0 {
		t.Error("Confirm of unknown temp id must not touch the log")
	}
}

func TestFail_RollsBackAndReturnsPayload(t *testing.T) {
	tr, log := newTestTracker()
	payload := protocol.SendPayload{Content: "hi", Attachments: []string{"img://1"}}
	tempID := tr.Begin("c1", "u1", "Ada", payload)

	got, ok := tr.Fail(tempID)
	if !ok {
		t.Fatal("Fail should find the pending write")
	}
	if got.Content != payload.Content || len(got.Attachments) != 1 {
		t.Errorf("payload not returned intact: %+v", got)
	}
	if log.Contains(tempID) {
		t.Error("provisional message should be removed on failure")
	}

	// A late confirmation for the failed write is dropped.
	if tr.Confirm(tempID, protocol.Message{ID: "srv-1", CreatedAt: time.Now()}) {
		t.Error("confirm after fail should be a no-op")
	}
}

func TestPending_OldestFirst(t *testing.T) {
	tr, _ := newTestTracker()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time {
		ts = ts.Add(time.Second)
		return ts
	}

	first := tr.Begin("c1", "u1", "Ada", protocol.SendPayload{Content: "one"})
	second := tr.Begin("c1", "u1", "Ada", protocol.SendPayload{Content: "two"})

	pending := tr.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].TempID != first || pending[1].TempID != second {
		t.Errorf("pending not oldest-first: %+v", pending)
	}
}

func TestAbandon(t *testing.T) {
	tr, log := newTestTracker()
	tempID := tr.Begin("c1", "u1", "Ada", protocol.SendPayload{Content: "hi"})

	log.Clear() // teardown clears the log first
	tr.Abandon()

	if len(tr.Pending()) != 0 {
		t.Error("Abandon should drop all pending writes")
	}
	if tr.Confirm(tempID, protocol.Message{ID: "srv-1", CreatedAt: time.Now()}) {
		t.Error("confirm after abandon should be dropped")
	}
}
