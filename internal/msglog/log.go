// Package msglog maintains the ordered, deduplicated message collection for
// a single channel. It is the convergence point for the three message
// sources — REST history pages, real-time events, and optimistic local
// writes — all of which mutate the log through the same small contract.
package msglog

import (
	"sort"
	"sync"

	"github.com/whisper/channelsync/internal/protocol"
)

// Log stores one channel's messages ordered by CreatedAt. Entries with equal
// timestamps keep their arrival order. It is goroutine-safe.
type Log struct {
	mu      sync.RWMutex
	entries []protocol.Message
	ids     map[string]struct{}
}

// New creates an empty Log.
func New() *Log {
	return &Log{
		ids: make(map[string]struct{}),
	}
}

// Insert adds a message at its timestamp-ordered position. If a message with
// the same id is already present the call is a no-op, making duplicate
// delivery from the transport harmless. Returns true if the message was added.
func (l *Log) Insert(msg protocol.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insertLocked(msg)
}

func (l *Log) insertLocked(msg protocol.Message) bool {
	if _, ok := l.ids[msg.ID]; ok {
		return false
	}

	// First position whose timestamp is strictly later. Inserting there puts
	// the new entry after all equal timestamps, preserving arrival order for
	// ties.
	i := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].CreatedAt.After(msg.CreatedAt)
	})

	l.entries = append(l.entries, protocol.Message{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = msg
	l.ids[msg.ID] = struct{}{}
	return true
}

// Replace overwrites the entry identified by id with msg. The replacement may
// carry a different id, which is how a confirmed optimistic write is promoted
// from its temporary id to the server id. If the new id is already present
// (the real-time echo won the race against the REST confirmation), the old
// entry is simply dropped. Returns false if id is not in the log.
func (l *Log) Replace(id string, msg protocol.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.indexLocked(id)
	if !ok {
		return false
	}

	if msg.ID == id && msg.CreatedAt.Equal(l.entries[i].CreatedAt) {
		l.entries[i] = msg
		return true
	}

	l.removeAtLocked(i)
	l.insertLocked(msg)
	return true
}

// Patch applies fn to the entry identified by id in place. The callback must
// not change ID or CreatedAt; use Replace for identity or ordering changes.
// Returns false if id is not in the log.
func (l *Log) Patch(id string, fn func(*protocol.Message)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.indexLocked(id)
	if !ok {
		return false
	}
	fn(&l.entries[i])
	return true
}

// Remove deletes the entry identified by id. No-op if absent.
func (l *Log) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.indexLocked(id)
	if !ok {
		return false
	}
	l.removeAtLocked(i)
	return true
}

// Merge applies a REST-fetched history page. For any id already present the
// resident copy wins and the fetched copy is ignored: REST history may be a
// pre-edit snapshot, while the resident entry already reflects every
// real-time event applied so far. Page order does not matter; each absent
// message is inserted at its sorted position. Returns the number of messages
// actually added.
func (l *Log) Merge(batch []protocol.Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, msg := range batch {
		if l.insertLocked(msg) {
			added++
		}
	}
	return added
}

// Get returns the message with the given id.
func (l *Log) Get(id string) (protocol.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.indexLocked(id)
	if !ok {
		return protocol.Message{}, false
	}
	return l.entries[i], true
}

// Contains reports whether a message with the given id is in the log.
func (l *Log) Contains(id string) bool {
	l.mu.RLock()
	_, ok := l.ids[id]
	l.mu.RUnlock()
	return ok
}

// Messages returns a snapshot of all entries in CreatedAt order. The returned
// slice is safe for the caller to retain.
func (l *Log) Messages() []protocol.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]protocol.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// Newest returns the last entry in timestamp order.
func (l *Log) Newest() (protocol.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return protocol.Message{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	n := len(l.entries)
	l.mu.RUnlock()
	return n
}

// Clear drops all entries. Called on channel teardown.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.ids = make(map[string]struct{})
	l.mu.Unlock()
}

func (l *Log) indexLocked(id string) (int, bool) {
	if _, ok := l.ids[id]; !ok {
		return 0, false
	}
	for i := range l.entries {
		if l.entries[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

func (l *Log) removeAtLocked(i int) {
	delete(l.ids, l.entries[i].ID)
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
}
