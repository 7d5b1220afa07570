// Package transport abstracts the real-time pub/sub feed. Channel events
// travel on channel.<id> subjects and presence events on voice.<id>; the
// sync controller consumes both through the Transport interface so the
// reconciliation logic is independent of the concrete wire (NATS, a
// websocket gateway, or the in-process bus used in tests).
//
// Payloads are bounded (~64KB on the production brokers); messages whose
// body would exceed the bound are published as lightweight truncated
// notifications and materialized over REST by the consumer.
package transport

// Subject prefixes used across transports.
const (
	SubjectChannel  = "channel"
	SubjectPresence = "voice"
)

// ChannelSubject returns the subject carrying a channel's message, reaction,
// and typing events.
func ChannelSubject(channelID string) string {
	return SubjectChannel + "." + channelID
}

// PresenceSubject returns the subject carrying a channel's presence events.
func PresenceSubject(channelID string) string {
	return SubjectPresence + "." + channelID
}

// Handler receives the raw payload of one delivered event.
type Handler func(data []byte)

// Transport is the pub/sub connection to the chat backend. Implementations
// deliver events at-most-once: a delivery can be silently lost across
// reconnects, which is why consumers run periodic reconcile passes instead
// of trusting the event stream alone. Handlers may be invoked from
// transport-owned goroutines and must not block.
type Transport interface {
	// SubscribeChannel registers the handler for a channel's event subject.
	// At most one handler per subject; subscribing again replaces it.
	SubscribeChannel(channelID string, h Handler) error

	// UnsubscribeChannel removes the channel subject subscription.
	UnsubscribeChannel(channelID string) error

	// SubscribePresence registers the handler for a channel's presence
	// subject.
	SubscribePresence(channelID string, h Handler) error

	// UnsubscribePresence removes the presence subject subscription.
	UnsubscribePresence(channelID string) error

	// PublishChannel publishes an event on the channel subject (typing
	// broadcasts originate client-side).
	PublishChannel(channelID string, data []byte) error

	// PublishPresence publishes an event on the presence subject (the
	// best-effort leave on teardown).
	PublishPresence(channelID string, data []byte) error

	// Close tears down all subscriptions and the underlying connection.
	Close()
}
