package channelsync

import (
	"log"
	"time"

	"github.com/whisper/channelsync/internal/metrics"
	"github.com/whisper/channelsync/internal/protocol"
	"github.com/whisper/channelsync/internal/reaction"
)

// User-initiated actions. Each applies its optimistic local effect
// synchronously, issues the REST call on a goroutine, and rolls the local
// effect back if the call fails. Rollbacks for a channel that has since been
// switched away are skipped — teardown already evicted the state.

// Send begins an optimistic send and returns the provisional message id.
// The provisional message renders immediately; it is replaced in place by
// the server copy on confirmation, or removed with OnWriteFailure invoked
// on failure.
func (c *Controller) Send(payload protocol.SendPayload) (string, error) {
	c.mu.Lock()
	if c.channelID == "" || c.closed {
		c.mu.Unlock()
		return "", ErrNoActiveChannel
	}
	channelID := c.channelID
	epoch := c.epoch
	ctx := c.ctx
	tempID := c.pending.Begin(channelID, c.cfg.SelfID, c.cfg.SelfName, payload)
	c.mu.Unlock()

	metrics.PendingWrites.Inc()
	c.notify()

	go func() {
		msg, err := c.backend.CreateMessage(ctx, channelID, payload)
		metrics.PendingWrites.Dec()
		if err != nil {
			metrics.WriteFailures.WithLabelValues("send").Inc()
			returned, ok := c.pending.Fail(tempID)
			log.Printf("channelsync: send channel=%s temp=%s: %v", channelID, tempID, err)
			if ok && !c.staleEpoch(epoch) && c.cfg.OnWriteFailure != nil {
				c.cfg.OnWriteFailure("send", returned, err)
			}
			c.notify()
			return
		}

		c.mu.Lock()
		if epoch != c.epoch {
			c.mu.Unlock()
			return
		}
		c.pending.Confirm(tempID, msg)
		c.reactions.Prime(msg.ID, msg.Reactions)
		c.mu.Unlock()
		c.notify()
	}()

	return tempID, nil
}

// Edit applies an edit locally and confirms it with the server. On failure
// the previous content is restored.
func (c *Controller) Edit(messageID, content string) error {
	c.mu.Lock()
	if c.channelID == "" || c.closed {
		c.mu.Unlock()
		return ErrNoActiveChannel
	}
	prev, ok := c.log.Get(messageID)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownMessage
	}
	channelID := c.channelID
	epoch := c.epoch
	ctx := c.ctx
	c.log.Patch(messageID, func(m *protocol.Message) {
		m.Content = content
		m.Edited = true
	})
	c.mu.Unlock()
	c.notify()

	go func() {
		msg, err := c.backend.EditMessage(ctx, channelID, messageID, content)
		c.mu.Lock()
		if epoch != c.epoch {
			c.mu.Unlock()
			return
		}
		if err != nil {
			metrics.WriteFailures.WithLabelValues("edit").Inc()
			log.Printf("channelsync: edit message=%s: %v", messageID, err)
			c.log.Replace(messageID, prev)
			c.mu.Unlock()
			if c.cfg.OnWriteFailure != nil {
				c.cfg.OnWriteFailure("edit", protocol.SendPayload{Content: content}, err)
			}
			c.notify()
			return
		}
		c.log.Replace(messageID, msg)
		c.mu.Unlock()
		c.notify()
	}()
	return nil
}

// Delete removes a message locally and confirms the removal with the
// server. On failure the message is restored. Reaction state is kept until
// the server confirms so a rollback restores the full view.
func (c *Controller) Delete(messageID string) error {
	c.mu.Lock()
	if c.channelID == "" || c.closed {
		c.mu.Unlock()
		return ErrNoActiveChannel
	}
	prev, ok := c.log.Get(messageID)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownMessage
	}
	channelID := c.channelID
	epoch := c.epoch
	ctx := c.ctx
	c.log.Remove(messageID)
	c.mu.Unlock()
	c.notify()

	go func() {
		err := c.backend.DeleteMessage(ctx, channelID, messageID)
		c.mu.Lock()
		if epoch != c.epoch {
			c.mu.Unlock()
			return
		}
		if err != nil {
			metrics.WriteFailures.WithLabelValues("delete").Inc()
			log.Printf("channelsync: delete message=%s: %v", messageID, err)
			c.log.Insert(prev)
			c.mu.Unlock()
			if c.cfg.OnWriteFailure != nil {
				c.cfg.OnWriteFailure("delete", protocol.SendPayload{}, err)
			}
			c.notify()
			return
		}
		c.reactions.Forget(messageID)
		c.mu.Unlock()
		c.notify()
	}()
	return nil
}

// React adds the current user's reaction optimistically and confirms it
// with the server, reverting on failure.
func (c *Controller) React(messageID, emoji string) error {
	return c.react(messageID, emoji, reaction.OpAdd)
}

// Unreact removes the current user's reaction, symmetric with React.
func (c *Controller) Unreact(messageID, emoji string) error {
	return c.react(messageID, emoji, reaction.OpRemove)
}

func (c *Controller) react(messageID, emoji, op string) error {
	c.mu.Lock()
	if c.channelID == "" || c.closed {
		c.mu.Unlock()
		return ErrNoActiveChannel
	}
	if !c.log.Contains(messageID) {
		c.mu.Unlock()
		return ErrUnknownMessage
	}
	channelID := c.channelID
	epoch := c.epoch
	ctx := c.ctx
	applied := c.reactions.Apply(messageID, reaction.Delta{
		Emoji:   emoji,
		Op:      op,
		ActorID: c.cfg.SelfID,
	})
	c.mu.Unlock()
	if !applied {
		// Already in the requested state; nothing to confirm.
		return nil
	}
	c.notify()

	go func() {
		var err error
		if op == reaction.OpAdd {
			err = c.backend.AddReaction(ctx, channelID, messageID, emoji)
		} else {
			err = c.backend.RemoveReaction(ctx, channelID, messageID, emoji)
		}
		if err == nil {
			return
		}
		metrics.WriteFailures.WithLabelValues("react").Inc()
		log.Printf("channelsync: react message=%s emoji=%s: %v", messageID, emoji, err)

		c.mu.Lock()
		if epoch != c.epoch {
			c.mu.Unlock()
			return
		}
		inverse := reaction.OpRemove
		if op == reaction.OpRemove {
			inverse = reaction.OpAdd
		}
		c.reactions.Apply(messageID, reaction.Delta{
			Emoji:   emoji,
			Op:      inverse,
			ActorID: c.cfg.SelfID,
		})
		c.mu.Unlock()
		c.notify()
	}()
	return nil
}

// MarkTyping publishes a typing signal for the active channel, throttled to
// one outbound event per lease interval. Refreshing within the lease is a
// no-op because peers extend the lease on every received event.
func (c *Controller) MarkTyping() error {
	c.mu.Lock()
	if c.channelID == "" || c.closed {
		c.mu.Unlock()
		return ErrNoActiveChannel
	}
	if !c.streaming {
		c.mu.Unlock()
		return nil // REST-only mode: typing signals have nowhere to go
	}
	now := time.Now()
	if now.Sub(c.lastTypingSent) < c.cfg.TypingLease {
		c.mu.Unlock()
		return nil
	}
	c.lastTypingSent = now
	channelID := c.channelID
	c.mu.Unlock()

	data, err := protocol.EncodeEvent(protocol.EventTyping, protocol.TypingEvent{
		ChannelID: channelID,
		UserID:    c.cfg.SelfID,
		IsTyping:  true,
	})
	if err != nil {
		return err
	}
	return c.transport.PublishChannel(channelID, data)
}

// Acknowledge marks the channel read at its newest message and persists the
// marker. The local transition happens immediately; the store write runs in
// the background.
func (c *Controller) Acknowledge() error {
	c.mu.Lock()
	if c.channelID == "" || c.closed {
		c.mu.Unlock()
		return ErrNoActiveChannel
	}
	channelID := c.channelID
	ctx := c.ctx
	newest, ok := c.log.Newest()
	c.mu.Unlock()
	if !ok {
		return nil
	}

	go func() {
		if err := c.unread.Acknowledge(ctx, channelID, newest.ID); err != nil {
			log.Printf("channelsync: acknowledge channel=%s: %v", channelID, err)
		}
		c.notify()
	}()
	return nil
}

// SetAtBottom records whether the viewport is pinned to the newest message.
// Arriving at the bottom acknowledges the channel.
func (c *Controller) SetAtBottom(atBottom bool) {
	c.mu.Lock()
	if c.channelID == "" || c.closed {
		c.mu.Unlock()
		return
	}
	channelID := c.channelID
	c.mu.Unlock()

	c.unread.SetAtBottom(channelID, atBottom)
	if atBottom {
		c.Acknowledge()
	}
	c.notify()
}

// staleEpoch reports whether the given epoch is no longer current.
func (c *Controller) staleEpoch(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch != c.epoch
}
