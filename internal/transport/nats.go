package transport

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "channelsync",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NATS is the Transport implementation over a NATS connection. It tracks its
// subscriptions per subject so that channel switches can unsubscribe cleanly
// and Close can drain everything.
type NATS struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// ConnectNATS connects to NATS with the given config and returns a ready
// Transport. It returns an error if the initial connection fails; later
// disconnects are retried by the client library and logged.
func ConnectNATS(config NATSConfig) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATS{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// SubscribeChannel implements Transport.
func (t *NATS) SubscribeChannel(channelID string, h Handler) error {
	return t.subscribe(ChannelSubject(channelID), h)
}

// UnsubscribeChannel implements Transport.
func (t *NATS) UnsubscribeChannel(channelID string) error {
	return t.unsubscribe(ChannelSubject(channelID))
}

// SubscribePresence implements Transport.
func (t *NATS) SubscribePresence(channelID string, h Handler) error {
	return t.subscribe(PresenceSubject(channelID), h)
}

// UnsubscribePresence implements Transport.
func (t *NATS) UnsubscribePresence(channelID string) error {
	return t.unsubscribe(PresenceSubject(channelID))
}

// PublishChannel implements Transport.
func (t *NATS) PublishChannel(channelID string, data []byte) error {
	return t.conn.Publish(ChannelSubject(channelID), data)
}

// PublishPresence implements Transport.
func (t *NATS) PublishPresence(channelID string, data []byte) error {
	return t.conn.Publish(PresenceSubject(channelID), data)
}

// subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup. An existing subscription for
// the subject is replaced.
func (t *NATS) subscribe(subject string, h Handler) error {
	sub, err := t.conn.Subscribe(subject, func(msg *nats.Msg) {
		h(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	t.mu.Lock()
	if old, ok := t.subs[subject]; ok {
		old.Unsubscribe()
	}
	t.subs[subject] = sub
	t.mu.Unlock()

	return nil
}

// unsubscribe removes and unsubscribes from a specific subject.
func (t *NATS) unsubscribe(subject string) error {
	t.mu.Lock()
	sub, ok := t.subs[subject]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(t.subs, subject)
	t.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (t *NATS) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for subject, sub := range t.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	t.subs = make(map[string]*nats.Subscription)

	if err := t.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] transport closed")
}
