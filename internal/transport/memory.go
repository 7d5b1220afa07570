package transport

import (
	"fmt"
	"sync"
)

// Memory is an in-process Transport. Published payloads are delivered
// synchronously to the subscribed handler and recorded for inspection. It
// backs the controller tests and local development without a broker.
type Memory struct {
	mu        sync.Mutex
	handlers  map[string]Handler
	published map[string][][]byte

	// SubscribeErr, when set, is returned by the next subscribe call and
	// then cleared. Lets tests exercise the controller's retry path.
	SubscribeErr error
}

// NewMemory creates an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{
		handlers:  make(map[string]Handler),
		published: make(map[string][][]byte),
	}
}

// SubscribeChannel implements Transport.
func (t *Memory) SubscribeChannel(channelID string, h Handler) error {
	return t.subscribe(ChannelSubject(channelID), h)
}

// UnsubscribeChannel implements Transport.
func (t *Memory) UnsubscribeChannel(channelID string) error {
	return t.unsubscribe(ChannelSubject(channelID))
}

// SubscribePresence implements Transport.
func (t *Memory) SubscribePresence(channelID string, h Handler) error {
	return t.subscribe(PresenceSubject(channelID), h)
}

// UnsubscribePresence implements Transport.
func (t *Memory) UnsubscribePresence(channelID string) error {
	return t.unsubscribe(PresenceSubject(channelID))
}

// PublishChannel implements Transport.
func (t *Memory) PublishChannel(channelID string, data []byte) error {
	t.deliver(ChannelSubject(channelID), data)
	return nil
}

// PublishPresence implements Transport.
func (t *Memory) PublishPresence(channelID string, data []byte) error {
	t.deliver(PresenceSubject(channelID), data)
	return nil
}

// Deliver injects an inbound event as if the backend had published it.
func (t *Memory) Deliver(subject string, data []byte) {
	t.mu.Lock()
	h := t.handlers[subject]
	t.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// Published returns everything published on a subject, in order.
func (t *Memory) Published(subject string) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.published[subject]))
	copy(out, t.published[subject])
	return out
}

// Subscribed reports whether a handler is registered for the subject.
func (t *Memory) Subscribed(subject string) bool {
	t.mu.Lock()
	_, ok := t.handlers[subject]
	t.mu.Unlock()
	return ok
}

// Close implements Transport.
func (t *Memory) Close() {
	t.mu.Lock()
	t.handlers = make(map[string]Handler)
	t.mu.Unlock()
}

func (t *Memory) subscribe(subject string, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.SubscribeErr != nil {
		err := t.SubscribeErr
		t.SubscribeErr = nil
		return err
	}
	t.handlers[subject] = h
	return nil
}

func (t *Memory) unsubscribe(subject string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.handlers[subject]; !ok {
		return fmt.Errorf("memory: no subscription for subject %s", subject)
	}
	delete(t.handlers, subject)
	return nil
}

// deliver records the payload and hands it to the subject's handler, which
// is how a locally-published typing event round-trips in tests.
func (t *Memory) deliver(subject string, data []byte) {
	t.mu.Lock()
	t.published[subject] = append(t.published[subject], data)
	h := t.handlers[subject]
	t.mu.Unlock()

	if h != nil {
		h(data)
	}
}
