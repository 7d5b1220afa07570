package protocol

import "time"

// Message is the wire representation of a single chat message, shared by the
// REST history endpoints and the real-time event stream. CreatedAt is the
// source of truth for ordering within a channel.
type Message struct {
	ID          string         `json:"id"`
	ChannelID   string         `json:"channel_id"`
	AuthorID    string         `json:"author_id"`
	AuthorName  string         `json:"author_name"`
	Content     string         `json:"content"`
	Attachments []string       `json:"attachments,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Edited      bool           `json:"edited,omitempty"`
	Reactions   []ReactionSeed `json:"reactions,omitempty"`
}

// ReactionSeed is the server-side reaction summary attached to messages
// returned by the REST history endpoints. The engine expands seeds into live
// per-actor aggregates so that later add/remove deltas dedupe correctly.
type ReactionSeed struct {
	Emoji    string   `json:"emoji"`
	ActorIDs []string `json:"actor_ids"`
}

// SendPayload is the locally-authored content of a message before the server
// has assigned it an id. It is what the caller gets back when a send fails.
type SendPayload struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// Channel is the REST channel metadata document. Members doubles as the
// authoritative membership list for the periodic presence reconcile pass.
type Channel struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []Member `json:"members,omitempty"`
}

// Member identifies one user present in a channel.
type Member struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}
