// Package reaction maintains per-message emoji reaction aggregates. Deltas
// are deduplicated by actor+emoji membership rather than by event count, so
// duplicate delivery from the transport can never double-count. Deltas for
// messages the engine has not seen yet are held in a bounded buffer: a
// reaction event for a not-yet-fetched historical message may legitimately
// arrive before the message itself.
package reaction

import (
	"sync"
	"time"

	"github.com/whisper/channelsync/internal/protocol"
)

// DefaultBufferWindow is how long a delta for an unknown message is held
// before being discarded.
const DefaultBufferWindow = 30 * time.Second

// Reaction operations.
const (
	OpAdd    = "add"
	OpRemove = "remove"
)

// Delta is a single reaction mutation from the event stream.
type Delta struct {
	Emoji   string
	Op      string
	ActorID string
}

// Aggregate is the rendered summary for one emoji on one message. A zero
// count never survives; the aggregate is removed instead.
type Aggregate struct {
	Emoji       string
	Count       int
	ReactedByMe bool
}

// messageReactions holds the live per-actor state for one message. The order
// slice preserves first-seen emoji order for stable rendering.
type messageReactions struct {
	order  []string
	actors map[string]map[string]struct{} // emoji -> set of actor ids
}

type heldDelta struct {
	delta    Delta
	deadline time.Time
}

// Aggregator tracks reactions for every message in the active channel.
// It is goroutine-safe.
type Aggregator struct {
	mu       sync.Mutex
	selfID   string
	window   time.Duration
	messages map[string]*messageReactions
	held     map[string][]heldDelta

	now func() time.Time
}

// New creates an Aggregator. selfID is the current user, used to compute the
// ReactedByMe flag on snapshots.
func New(selfID string) *Aggregator {
	return &Aggregator{
		selfID:   selfID,
		window:   DefaultBufferWindow,
		messages: make(map[string]*messageReactions),
		held:     make(map[string][]heldDelta),
		now:      time.Now,
	}
}

// Prime registers a message with the aggregator, seeding it from the
// server-side summary attached to fetched history. Any deltas buffered for
// the message while it was unknown are replayed on top of the seeds, in
// arrival order. Priming an already-known message is a no-op: the live state
// already reflects every delta applied so far and must not be reset by a
// stale REST snapshot.
func (a *Aggregator) Prime(messageID string, seeds []protocol.ReactionSeed) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.messages[messageID]; ok {
		return
	}

	mr := &messageReactions{actors: make(map[string]map[string]struct{})}
	a.messages[messageID] = mr
	for _, seed := range seeds {
		for _, actor := range seed.ActorIDs {
			a.applyLocked(mr, Delta{Emoji: seed.Emoji, Op: OpAdd, ActorID: actor})
		}
	}

	for _, h := range a.held[messageID] {
		a.applyLocked(mr, h.delta)
	}
	delete(a.held, messageID)
}

// Apply applies a delta to a known message, or buffers it for the bounded
// window if the message has not been registered yet. Returns true if the
// delta changed live state.
func (a *Aggregator) Apply(messageID string, delta Delta) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	mr, ok := a.messages[messageID]
	if !ok {
		a.held[messageID] = append(a.held[messageID], heldDelta{
			delta:    delta,
			deadline: a.now().Add(a.window),
		})
		return false
	}
	return a.applyLocked(mr, delta)
}

func (a *Aggregator) applyLocked(mr *messageReactions, delta Delta) bool {
	switch delta.Op {
	case OpAdd:
		set, ok := mr.actors[delta.Emoji]
		if !ok {
			set = make(map[string]struct{})
			mr.actors[delta.Emoji] = set
			mr.order = append(mr.order, delta.Emoji)
		}
		if _, dup := set[delta.ActorID]; dup {
			return false
		}
		set[delta.ActorID] = struct{}{}
		return true

	case OpRemove:
		set, ok := mr.actors[delta.Emoji]
		if !ok {
			return false
		}
		if _, present := set[delta.ActorID]; !present {
			return false
		}
		delete(set, delta.ActorID)
		if len(set) == 0 {
			delete(mr.actors, delta.Emoji)
			for i, e := range mr.order {
				if e == delta.Emoji {
					mr.order = append(mr.order[:i], mr.order[i+1:]...)
					break
				}
			}
		}
		return true
	}
	return false
}

// Snapshot returns the aggregates for a message in first-seen emoji order.
// Unknown messages yield an empty slice.
func (a *Aggregator) Snapshot(messageID string) []Aggregate {
	a.mu.Lock()
	defer a.mu.Unlock()

	mr, ok := a.messages[messageID]
	if !ok {
		return nil
	}

	out := make([]Aggregate, 0, len(mr.order))
	for _, emoji := range mr.order {
		set := mr.actors[emoji]
		_, byMe := set[a.selfID]
		out = append(out, Aggregate{
			Emoji:       emoji,
			Count:       len(set),
			ReactedByMe: byMe,
		})
	}
	return out
}

// Forget drops all state for a message. Called when the message is deleted.
func (a *Aggregator) Forget(messageID string) {
	a.mu.Lock()
	delete(a.messages, messageID)
	delete(a.held, messageID)
	a.mu.Unlock()
}

// Sweep discards buffered deltas whose window has expired and returns how
// many were dropped. Run periodically by the sync controller.
func (a *Aggregator) Sweep() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	dropped := 0
	for id, deltas := range a.held {
		keep := deltas[:0]
		for _, h := range deltas {
			if h.deadline.After(now) {
				keep = append(keep, h)
			} else {
				dropped++
			}
		}
		if len(keep) == 0 {
			delete(a.held, id)
		} else {
			a.held[id] = keep
		}
	}
	return dropped
}

// Buffered returns the number of deltas currently held for unknown messages.
func (a *Aggregator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, deltas := range a.held {
		n += len(deltas)
	}
	return n
}

// Clear drops all state. Called on channel teardown.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.messages = make(map[string]*messageReactions)
	a.held = make(map[string][]heldDelta)
	a.mu.Unlock()
}
