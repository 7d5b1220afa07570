// Package protocol defines the message and event types exchanged with the
// chat backend: the REST data model and the closed set of real-time events
// carried over the pub/sub transport. All events are serialized as JSON and
// follow a consistent envelope format with a type discriminator, so the
// reconciliation switch over event kinds is exhaustive.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Events carried on the channel.<id> subject.
const (
	EventMessage         = "message"
	EventMessageEdited   = "message.edited"
	EventMessageDeleted  = "message.deleted"
	EventReactionAdded   = "reaction.added"
	EventReactionRemoved = "reaction.removed"
	EventTyping          = "typing"
)

// Events carried on the voice.<id> presence subject.
const (
	EventPresenceEnter  = "presence.enter"
	EventPresenceLeave  = "presence.leave"
	EventPresenceUpdate = "presence.update"
	EventPresenceSync   = "presence.sync"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Channel event structs
// ---------------------------------------------------------------------------

// MessageEvent announces a newly created message. When the message body
// exceeds the transport size limit, the server sends only the id with
// Truncated set and the full document must be fetched over REST before
// insertion.
type MessageEvent struct {
	Type      string  `json:"type"`
	Message   Message `json:"message"`
	Truncated bool    `json:"truncated,omitempty"`
}

// MessageEditedEvent announces an edit to an existing message.
type MessageEditedEvent struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// MessageDeletedEvent announces the deletion of a message.
type MessageDeletedEvent struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// ReactionEvent announces a reaction add or remove. The same shape serves
// both reaction.added and reaction.removed; the envelope type disambiguates.
type ReactionEvent struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	ActorID   string `json:"actor_id"`
}

// TypingEvent is the typing broadcast. IsTyping false is an explicit stop;
// the absence of refreshes also expires the typing lease client-side.
type TypingEvent struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	IsTyping  bool   `json:"is_typing"`
}

// ---------------------------------------------------------------------------
// Presence event structs
// ---------------------------------------------------------------------------

// PresenceEvent announces a single user entering, leaving, or updating their
// presence in a channel. The envelope type disambiguates the three kinds.
type PresenceEvent struct {
	Type        string `json:"type"`
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// PresenceSyncEvent carries the authoritative full membership list for a
// channel. It heals state after missed enter/leave events.
type PresenceSyncEvent struct {
	Type      string   `json:"type"`
	ChannelID string   `json:"channel_id"`
	Members   []Member `json:"members"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// DecodeEvent parses raw transport bytes into a typed event. It returns the
// event type string, the decoded struct, and any error encountered during
// parsing. An error is returned for unknown event types so that the caller's
// switch over the returned struct stays closed.
func DecodeEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		evt interface{}
		err error
	)

	switch env.Type {
	case EventMessage:
		var e MessageEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventMessageEdited:
		var e MessageEditedEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventMessageDeleted:
		var e MessageDeletedEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventReactionAdded, EventReactionRemoved:
		var e ReactionEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventTyping:
		var e TypingEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventPresenceEnter, EventPresenceLeave, EventPresenceUpdate:
		var e PresenceEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventPresenceSync:
		var e PresenceSyncEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, evt, nil
}

// EncodeEvent creates a JSON-encoded byte slice for an outbound event. The
// eventType is injected into the payload under the "type" key. The payload
// should be one of the *Event structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func EncodeEvent(eventType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = eventType

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal event: %w", err)
	}
	return data, nil
}
