// Package presence tracks which users are present in a channel and who is
// currently typing. Presence membership follows explicit enter/leave events
// but is periodically replaced wholesale from the authoritative member list,
// healing state after missed events (at-most-once transports can silently
// drop deliveries across reconnects). Typing entries are leases, not firm
// membership: each expires after a fixed quiet period whether or not an
// explicit stop signal ever arrives.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/whisper/channelsync/internal/protocol"
)

// DefaultTypingLease is how long a typing indicator survives without a
// refresh.
const DefaultTypingLease = 2 * time.Second

type channelState struct {
	members map[string]protocol.Member
	typing  map[string]time.Time // userID -> lease expiry
}

// Tracker holds per-channel presence and typing state. It is goroutine-safe.
type Tracker struct {
	mu       sync.Mutex
	lease    time.Duration
	channels map[string]*channelState

	now func() time.Time
}

// New creates a Tracker. A zero lease selects DefaultTypingLease.
func New(lease time.Duration) *Tracker {
	if lease <= 0 {
		lease = DefaultTypingLease
	}
	return &Tracker{
		lease:    lease,
		channels: make(map[string]*channelState),
		now:      time.Now,
	}
}

func (t *Tracker) channel(id string) *channelState {
	cs, ok := t.channels[id]
	if !ok {
		cs = &channelState{
			members: make(map[string]protocol.Member),
			typing:  make(map[string]time.Time),
		}
		t.channels[id] = cs
	}
	return cs
}

// Enter records a user joining the channel.
func (t *Tracker) Enter(channelID string, m protocol.Member) {
	t.mu.Lock()
	t.channel(channelID).members[m.UserID] = m
	t.mu.Unlock()
}

// Leave removes a user from the channel, including any typing lease.
func (t *Tracker) Leave(channelID, userID string) {
	t.mu.Lock()
	if cs, ok := t.channels[channelID]; ok {
		delete(cs.members, userID)
		delete(cs.typing, userID)
	}
	t.mu.Unlock()
}

// Update refreshes a present user's display fields. An update for an unknown
// user is treated as an enter; the transport may have dropped the original.
func (t *Tracker) Update(channelID string, m protocol.Member) {
	t.Enter(channelID, m)
}

// Reconcile replaces the channel's member set wholesale with the
// authoritative list. This is a correctness mechanism, not an optimization:
// it is the only path that repairs membership after missed enter/leave
// events. Typing leases for users no longer present are dropped with them.
func (t *Tracker) Reconcile(channelID string, members []protocol.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs := t.channel(channelID)
	cs.members = make(map[string]protocol.Member, len(members))
	for _, m := range members {
		cs.members[m.UserID] = m
	}
	for userID := range cs.typing {
		if _, ok := cs.members[userID]; !ok {
			delete(cs.typing, userID)
		}
	}
}

// MarkTyping resets the typing lease for a user. Callers invoke this on every
// typing event; the lease keeps the indicator alive between refreshes.
func (t *Tracker) MarkTyping(channelID, userID string) {
	t.mu.Lock()
	t.channel(channelID).typing[userID] = t.now().Add(t.lease)
	t.mu.Unlock()
}

// StopTyping removes a user's typing lease immediately. Used for explicit
// stop signals; silent expiry is handled by SweepTyping.
func (t *Tracker) StopTyping(channelID, userID string) {
	t.mu.Lock()
	if cs, ok := t.channels[channelID]; ok {
		delete(cs.typing, userID)
	}
	t.mu.Unlock()
}

// Typing returns the ids of users with a live typing lease, sorted for
// deterministic rendering. Expired leases are excluded even before the next
// sweep.
func (t *Tracker) Typing(channelID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.channels[channelID]
	if !ok {
		return nil
	}

	now := t.now()
	out := make([]string, 0, len(cs.typing))
	for userID, expiry := range cs.typing {
		if expiry.After(now) {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

// Present returns the channel's member list sorted by user id.
func (t *Tracker) Present(channelID string) []protocol.Member {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.channels[channelID]
	if !ok {
		return nil
	}

	out := make([]protocol.Member, 0, len(cs.members))
	for _, m := range cs.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SweepTyping removes expired typing leases across all channels and returns
// how many were dropped. Run periodically by the sync controller so the UI
// is re-notified when an indicator disappears.
func (t *Tracker) SweepTyping() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	dropped := 0
	for _, cs := range t.channels {
		for userID, expiry := range cs.typing {
			if !expiry.After(now) {
				delete(cs.typing, userID)
				dropped++
			}
		}
	}
	return dropped
}

// Clear drops all state for a channel. Called on teardown.
func (t *Tracker) Clear(channelID string) {
	t.mu.Lock()
	delete(t.channels, channelID)
	t.mu.Unlock()
}
