// Package optimistic tracks locally-created messages that have not yet been
// confirmed by the backend. A pending write is visible in the message log
// immediately under a temporary id and is either promoted to its server id on
// confirmation or rolled back on failure, with the original payload handed
// back to the caller for retry or discard.
package optimistic

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/channelsync/internal/msglog"
	"github.com/whisper/channelsync/internal/protocol"
)

// TempIDPrefix marks provisional message ids so they can never collide with
// server-assigned ids.
const TempIDPrefix = "tmp-"

// Status constants for the pending-write state machine.
const (
	StatusSending   = "sending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// PendingWrite is one locally-originated message awaiting confirmation.
type PendingWrite struct {
	TempID    string
	ChannelID string
	Payload   protocol.SendPayload
	CreatedAt time.Time
	Status    string
}

// Tracker owns the set of in-flight optimistic writes for the active channel
// and the provisional entries they project into the message log.
type Tracker struct {
	mu      sync.Mutex
	log     *msglog.Log
	pending map[string]*PendingWrite

	// now is swapped out in tests for deterministic timestamps.
	now func() time.Time
}

// NewTracker creates a Tracker that projects provisional messages into log.
func NewTracker(log *msglog.Log) *Tracker {
	return &Tracker{
		log:     log,
		pending: make(map[string]*PendingWrite),
		now:     time.Now,
	}
}

// Begin records a new pending write and inserts a provisional message into
// the log so the UI shows it before any network round trip. It returns the
// temporary id the caller must use for Confirm or Fail.
func (t *Tracker) Begin(channelID, authorID, authorName string, payload protocol.SendPayload) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	tempID := TempIDPrefix + uuid.NewString()
	now := t.now()

	t.pending[tempID] = &PendingWrite{
		TempID:    tempID,
		ChannelID: channelID,
		Payload:   payload,
		CreatedAt: now,
		Status:    StatusSending,
	}

	t.log.Insert(protocol.Message{
		ID:          tempID,
		ChannelID:   channelID,
		AuthorID:    authorID,
		AuthorName:  authorName,
		Content:     payload.Content,
		Attachments: payload.Attachments,
		CreatedAt:   now,
	})

	return tempID
}

// Confirm promotes a pending write to the server-assigned message. The
// provisional log entry is replaced under the server id and the temporary id
// is retired. A confirmation for an unknown temp id is dropped silently: the
// write was already confirmed or evicted by a channel switch, which is an
// expected race, not an error. Returns true if a pending write was promoted.
func (t *Tracker) Confirm(tempID string, serverMsg protocol.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pw, ok := t.pending[tempID]
	if !ok {
		return false
	}
	pw.Status = StatusConfirmed
	delete(t.pending, tempID)

	t.log.Replace(tempID, serverMsg)
	return true
}

// Fail rolls back a pending write: the provisional message is removed from
// the log and the original payload is returned so the caller can offer retry.
// The tracker never retries on its own. Returns false for unknown temp ids.
func (t *Tracker) Fail(tempID string) (protocol.SendPayload, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pw, ok := t.pending[tempID]
	if !ok {
		return protocol.SendPayload{}, false
	}
	pw.Status = StatusFailed
	delete(t.pending, tempID)

	t.log.Remove(tempID)
	return pw.Payload, true
}

// Pending returns a snapshot of in-flight writes, oldest first. The UI uses
// this to render per-message sending indicators.
func (t *Tracker) Pending() []PendingWrite {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PendingWrite, 0, len(t.pending))
	for _, pw := range t.pending {
		out = append(out, *pw)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Abandon drops every pending write without touching the log. Called on
// channel teardown, after the log itself has been cleared; any confirmation
// that still arrives for these ids will be dropped by Confirm.
func (t *Tracker) Abandon() {
	t.mu.Lock()
	t.pending = make(map[string]*PendingWrite)
	t.mu.Unlock()
}
