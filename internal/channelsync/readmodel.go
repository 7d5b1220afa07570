package channelsync

import (
	"strings"

	"github.com/whisper/channelsync/internal/optimistic"
	"github.com/whisper/channelsync/internal/protocol"
	"github.com/whisper/channelsync/internal/reaction"
	"github.com/whisper/channelsync/internal/unread"
)

// MessageView is one message as the UI should render it: the document plus
// its live reaction aggregates and whether it is still awaiting server
// confirmation.
type MessageView struct {
	Message   protocol.Message
	Reactions []reaction.Aggregate
	Pending   bool
}

// ReadModel is a consistent point-in-time snapshot of the active channel.
type ReadModel struct {
	State     State
	ChannelID string
	Messages  []MessageView
	Banner    unread.Banner
	Typing    []string
	Present   []protocol.Member
	Streaming bool
	Err       error
}

// Snapshot assembles the current read model. The result is detached; the
// caller may hold it across controller mutations.
func (c *Controller) Snapshot() ReadModel {
	c.mu.Lock()
	rm := ReadModel{
		State:     c.state,
		ChannelID: c.channelID,
		Streaming: c.streaming,
		Err:       c.lastErr,
	}
	channelID := c.channelID
	msgs := c.log.Messages()
	c.mu.Unlock()

	if channelID == "" {
		return rm
	}

	rm.Messages = make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		rm.Messages = append(rm.Messages, MessageView{
			Message:   m,
			Reactions: c.reactions.Snapshot(m.ID),
			Pending:   strings.HasPrefix(m.ID, optimistic.TempIDPrefix),
		})
	}
	rm.Banner = c.unread.Banner(channelID)
	rm.Typing = c.presence.Typing(channelID)
	rm.Present = c.presence.Present(channelID)
	return rm
}
