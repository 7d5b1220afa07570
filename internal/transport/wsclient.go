package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WSConfig holds settings for the websocket gateway transport.
type WSConfig struct {
	URL         string        // ws://host/stream
	DialTimeout time.Duration // handshake timeout
}

// DefaultWSConfig returns sensible defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		URL:         "ws://localhost:8080/stream",
		DialTimeout: 10 * time.Second,
	}
}

// wsFrame is the envelope exchanged with the websocket gateway. The client
// sends subscribe/unsubscribe/publish ops; the gateway pushes event ops
// carrying the subject and the raw event payload.
type wsFrame struct {
	Op      string          `json:"op"` // "subscribe", "unsubscribe", "publish", "event"
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// WS is the Transport implementation over a single websocket connection to a
// pub/sub gateway. It is the fallback for environments where clients cannot
// reach the broker directly (browser bridges, restrictive networks).
type WS struct {
	conn    net.Conn
	rw      io.ReadWriter
	writeMu sync.Mutex // serializes outbound frames

	mu       sync.Mutex
	handlers map[string]Handler // subject -> handler

	done chan struct{}
}

// readWriter pairs the post-handshake buffered reader with the raw
// connection for writes, as wsutil control-frame handling needs both sides.
type readWriter struct {
	io.Reader
	io.Writer
}

// DialWS connects to the websocket gateway and starts the read loop.
func DialWS(config WSConfig) (*WS, error) {
	dialer := ws.Dialer{Timeout: config.DialTimeout}
	conn, br, _, err := dialer.Dial(context.Background(), config.URL)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", config.URL, err)
	}

	var r io.Reader = conn
	if br != nil {
		// The handshake reader may hold early frames; drain it first.
		r = io.MultiReader(br, conn)
	}

	t := &WS{
		conn:     conn,
		rw:       readWriter{Reader: r, Writer: conn},
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}

	log.Printf("[ws] connected to %s", config.URL)
	go t.readLoop()
	return t, nil
}

// readLoop reads frames until the connection closes, dispatching event
// frames to the handler registered for their subject.
func (t *WS) readLoop() {
	for {
		data, err := wsutil.ReadServerText(t.rw)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			log.Printf("[ws] read loop terminated: %v", err)
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[ws] malformed frame: %v", err)
			continue
		}
		if frame.Op != "event" {
			continue
		}

		t.mu.Lock()
		h := t.handlers[frame.Subject]
		t.mu.Unlock()
		if h != nil {
			h(frame.Data)
		}
	}
}

// SubscribeChannel implements Transport.
func (t *WS) SubscribeChannel(channelID string, h Handler) error {
	return t.subscribe(ChannelSubject(channelID), h)
}

// UnsubscribeChannel implements Transport.
func (t *WS) UnsubscribeChannel(channelID string) error {
	return t.unsubscribe(ChannelSubject(channelID))
}

// SubscribePresence implements Transport.
func (t *WS) SubscribePresence(channelID string, h Handler) error {
	return t.subscribe(PresenceSubject(channelID), h)
}

// UnsubscribePresence implements Transport.
func (t *WS) UnsubscribePresence(channelID string) error {
	return t.unsubscribe(PresenceSubject(channelID))
}

// PublishChannel implements Transport.
func (t *WS) PublishChannel(channelID string, data []byte) error {
	return t.send(wsFrame{Op: "publish", Subject: ChannelSubject(channelID), Data: data})
}

// PublishPresence implements Transport.
func (t *WS) PublishPresence(channelID string, data []byte) error {
	return t.send(wsFrame{Op: "publish", Subject: PresenceSubject(channelID), Data: data})
}

func (t *WS) subscribe(subject string, h Handler) error {
	t.mu.Lock()
	t.handlers[subject] = h
	t.mu.Unlock()

	if err := t.send(wsFrame{Op: "subscribe", Subject: subject}); err != nil {
		t.mu.Lock()
		delete(t.handlers, subject)
		t.mu.Unlock()
		return fmt.Errorf("ws subscribe %s: %w", subject, err)
	}
	return nil
}

func (t *WS) unsubscribe(subject string) error {
	t.mu.Lock()
	_, ok := t.handlers[subject]
	delete(t.handlers, subject)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("ws: no subscription for subject %s", subject)
	}
	if err := t.send(wsFrame{Op: "unsubscribe", Subject: subject}); err != nil {
		return fmt.Errorf("ws unsubscribe %s: %w", subject, err)
	}
	return nil
}

// send writes one frame. The write mutex ensures concurrent goroutines do
// not interleave frame bytes.
func (t *WS) send(frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("ws marshal frame: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return wsutil.WriteClientMessage(t.conn, ws.OpText, data)
}

// Close stops the read loop and closes the connection.
func (t *WS) Close() {
	close(t.done)

	t.mu.Lock()
	t.handlers = make(map[string]Handler)
	t.mu.Unlock()

	if err := t.conn.Close(); err != nil {
		log.Printf("[ws] close: %v", err)
	}
	log.Printf("[ws] transport closed")
}
