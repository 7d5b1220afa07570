// Package unread computes the boundary between read and unread messages for
// each channel. The per-channel state machine (unknown -> caughtUp <->
// hasUnread) is the source of truth for the "N new messages" banner; the
// persisted read marker behind the MarkerStore interface makes the boundary
// durable across sessions.
package unread

import (
	"context"
	"fmt"
	"sync"

	"github.com/whisper/channelsync/internal/protocol"
)

// State enumerates the per-channel unread states.
type State int

const (
	StateUnknown State = iota
	StateCaughtUp
	StateHasUnread
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateCaughtUp:
		return "caughtUp"
	case StateHasUnread:
		return "hasUnread"
	default:
		return "unknown"
	}
}

// Banner is the rendered unread state for one channel.
type Banner struct {
	State         State
	FirstUnreadID string
	Count         int
}

type channelUnread struct {
	banner   Banner
	atBottom bool
}

// Tracker drives the unread state machine per channel. It is goroutine-safe.
// Marker persistence failures never block the state machine; Activate falls
// back toward showing unread state and Acknowledge reports the error to the
// caller for logging.
type Tracker struct {
	mu       sync.Mutex
	store    MarkerStore
	channels map[string]*channelUnread
}

// NewTracker creates a Tracker persisting markers to store.
func NewTracker(store MarkerStore) *Tracker {
	return &Tracker{
		store:    store,
		channels: make(map[string]*channelUnread),
	}
}

// Activate loads the persisted marker for a channel and derives the initial
// banner from the loaded message window:
//
//   - marker found and not the newest message: hasUnread starting at the
//     message immediately after it
//   - marker found at the newest message: caughtUp
//   - marker absent from the window (evicted by retention, or first view):
//     the entire window is unread — fail safe toward showing, not hiding
//
// A store read failure is treated like a missing marker and returned to the
// caller alongside the computed banner.
func (t *Tracker) Activate(ctx context.Context, channelID string, window []protocol.Message) (Banner, error) {
	marker, err := t.store.Get(ctx, channelID)
	if err != nil {
		err = fmt.Errorf("unread: load marker for %s: %w", channelID, err)
		marker = ""
	}

	banner := deriveBanner(marker, window)

	t.mu.Lock()
	t.channels[channelID] = &channelUnread{banner: banner, atBottom: true}
	t.mu.Unlock()

	return banner, err
}

func deriveBanner(marker string, window []protocol.Message) Banner {
	if len(window) == 0 {
		return Banner{State: StateCaughtUp}
	}

	if marker != "" {
		for i := range window {
			if window[i].ID != marker {
				continue
			}
			after := len(window) - 1 - i
			if after == 0 {
				return Banner{State: StateCaughtUp}
			}
			return Banner{
				State:         StateHasUnread,
				FirstUnreadID: window[i+1].ID,
				Count:         after,
			}
		}
	}

	// Marker missing or outside the window: everything loaded is unread.
	return Banner{
		State:         StateHasUnread,
		FirstUnreadID: window[0].ID,
		Count:         len(window),
	}
}

// OnMessage advances the state machine for a new inbound message. While
// caughtUp the state survives only if the viewport is at the bottom;
// otherwise it transitions to or extends hasUnread. Messages for channels
// that were never activated are ignored.
func (t *Tracker) OnMessage(channelID, messageID string) Banner {
	t.mu.Lock()
	defer t.mu.Unlock()

	cu, ok := t.channels[channelID]
	if !ok {
		return Banner{State: StateUnknown}
	}

	switch cu.banner.State {
	case StateCaughtUp:
		if cu.atBottom {
			break
		}
		cu.banner = Banner{State: StateHasUnread, FirstUnreadID: messageID, Count: 1}
	case StateHasUnread:
		cu.banner.Count++
	}
	return cu.banner
}

// SetAtBottom records whether the viewport is scrolled to the bottom.
func (t *Tracker) SetAtBottom(channelID string, atBottom bool) {
	t.mu.Lock()
	if cu, ok := t.channels[channelID]; ok {
		cu.atBottom = atBottom
	}
	t.mu.Unlock()
}

// Acknowledge marks the channel read up to newestID, persists the marker, and
// returns to caughtUp. Called on scroll-to-bottom and on channel exit. The
// state transition happens even if persistence fails; the error is returned
// for logging. Marker writes are last-writer-wins on a single key, so a
// concurrent acknowledgment from another component cannot corrupt state.
func (t *Tracker) Acknowledge(ctx context.Context, channelID, newestID string) error {
	t.mu.Lock()
	if cu, ok := t.channels[channelID]; ok {
		cu.banner = Banner{State: StateCaughtUp}
	}
	t.mu.Unlock()

	if newestID == "" {
		return nil
	}
	if err := t.store.Set(ctx, channelID, newestID); err != nil {
		return fmt.Errorf("unread: persist marker for %s: %w", channelID, err)
	}
	return nil
}

// Banner returns the current banner for a channel. Channels never activated
// report StateUnknown.
func (t *Tracker) Banner(channelID string) Banner {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cu, ok := t.channels[channelID]; ok {
		return cu.banner
	}
	return Banner{State: StateUnknown}
}

// Clear drops in-memory state for a channel. The persisted marker survives;
// it is only deleted when the channel itself is.
func (t *Tracker) Clear(channelID string) {
	t.mu.Lock()
	delete(t.channels, channelID)
	t.mu.Unlock()
}
