// Package channelsync orchestrates the per-channel synchronization
// lifecycle: fetch history over REST and subscribe to the real-time stream
// concurrently, merge both feeds into the message log, reconcile optimistic
// local writes against server state, and tear everything down on channel
// switch. The controller owns one active channel at a time; every
// asynchronous completion is tagged with the activation epoch it belongs to
// and is discarded if the channel has changed in the meantime.
package channelsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/whisper/channelsync/internal/metrics"
	"github.com/whisper/channelsync/internal/msglog"
	"github.com/whisper/channelsync/internal/optimistic"
	"github.com/whisper/channelsync/internal/presence"
	"github.com/whisper/channelsync/internal/protocol"
	"github.com/whisper/channelsync/internal/reaction"
	"github.com/whisper/channelsync/internal/rest"
	"github.com/whisper/channelsync/internal/transport"
	"github.com/whisper/channelsync/internal/unread"
)

// State enumerates the controller lifecycle states.
type State int

const (
	StateIdle State = iota
	StateLoadingHistory
	StateSubscribing
	StateLive
	StateTornDown
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateLoadingHistory:
		return "loadingHistory"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateTornDown:
		return "tornDown"
	default:
		return "idle"
	}
}

// Sentinel errors returned by controller actions.
var (
	ErrNoActiveChannel = errors.New("channelsync: no active channel")
	ErrUnknownMessage  = errors.New("channelsync: unknown message id")
)

// heldWindow bounds how long edit/delete events referencing unknown message
// ids are held before being dropped.
const heldWindow = 30 * time.Second

// Backend is the REST surface the controller needs. *rest.Client satisfies
// it; tests substitute an in-memory fake.
type Backend interface {
	Channel(ctx context.Context, channelID string) (protocol.Channel, error)
	Messages(ctx context.Context, channelID string, page rest.Page) ([]protocol.Message, error)
	Message(ctx context.Context, channelID, messageID string) (protocol.Message, error)
	CreateMessage(ctx context.Context, channelID string, payload protocol.SendPayload) (protocol.Message, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) (protocol.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error
}

// Config holds controller tuning parameters and callbacks.
type Config struct {
	SelfID   string // current user id
	SelfName string // current user display name

	HistoryLimit      int           // messages per history page
	SubscribeRetries  int           // max subscribe attempts before degrading
	RetryBaseWait     time.Duration // first retry backoff
	RetryMaxWait      time.Duration // backoff cap
	PrebufferLimit    int           // events buffered while history loads
	TypingLease       time.Duration // typing indicator lifetime and outbound throttle
	SweepInterval     time.Duration // lease/buffer sweep cadence
	ReconcileInterval time.Duration // presence reconcile cadence

	// Notify is invoked after every observable state change. It must be
	// fast and must not call back into the controller synchronously.
	Notify func()

	// OnWriteFailure surfaces a rolled-back write to the caller, returning
	// the original payload for retry or discard. op is one of "send",
	// "edit", "delete", "react".
	OnWriteFailure func(op string, payload protocol.SendPayload, err error)
}

// DefaultConfig returns sensible defaults for the given user.
func DefaultConfig(selfID, selfName string) Config {
	return Config{
		SelfID:            selfID,
		SelfName:          selfName,
		HistoryLimit:      50,
		SubscribeRetries:  5,
		RetryBaseWait:     1 * time.Second,
		RetryMaxWait:      30 * time.Second,
		PrebufferLimit:    256,
		TypingLease:       presence.DefaultTypingLease,
		SweepInterval:     1 * time.Second,
		ReconcileInterval: 60 * time.Second,
	}
}

// bufferedEvent is a decoded real-time event waiting for the history merge
// to complete.
type bufferedEvent struct {
	kind string
	evt  interface{}
}

// heldEvent is an edit/delete referencing a message id not yet in the log.
type heldEvent struct {
	kind     string
	evt      interface{}
	deadline time.Time
}

// Controller drives synchronization for the active channel.
type Controller struct {
	cfg       Config
	backend   Backend
	transport transport.Transport

	log       *msglog.Log
	pending   *optimistic.Tracker
	reactions *reaction.Aggregator
	presence  *presence.Tracker
	unread    *unread.Tracker

	// subMu serializes transport subscribe/unsubscribe across activations.
	// Registrations only commit while their epoch is current, and a
	// superseded activation removes its own registrations before releasing
	// subMu, so stale cleanup can never tear down a successor's handlers.
	subMu sync.Mutex

	mu             sync.Mutex
	state          State
	channelID      string
	epoch          uint64
	ctx            context.Context
	cancel         context.CancelFunc
	historyLoaded  bool
	streaming      bool
	lastErr        error
	prebuffer      []bufferedEvent
	held           map[string][]heldEvent
	lastTypingSent time.Time
	closed         bool

	done chan struct{}
}

// New creates a Controller and starts its maintenance loop. The caller owns
// the transport's and marker store's lifecycles.
func New(backend Backend, tr transport.Transport, markers unread.MarkerStore, cfg Config) *Controller {
	msgLog := msglog.New()
	c := &Controller{
		cfg:       cfg,
		backend:   backend,
		transport: tr,
		log:       msgLog,
		pending:   optimistic.NewTracker(msgLog),
		reactions: reaction.New(cfg.SelfID),
		presence:  presence.New(cfg.TypingLease),
		unread:    unread.NewTracker(markers),
		held:      make(map[string][]heldEvent),
		done:      make(chan struct{}),
	}
	go c.maintenanceLoop()
	return c
}

// notify invokes the Notify callback. Never called with the mutex held.
func (c *Controller) notify() {
	if c.cfg.Notify != nil {
		c.cfg.Notify()
	}
}

// Activate switches the controller to a channel. Any in-flight work for the
// previously active channel is cancelled — not merely ignored — and its
// state is torn down before the new channel's history fetch and stream
// subscription start concurrently.
func (c *Controller) Activate(channelID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.epoch++
	epoch := c.epoch
	if c.cancel != nil {
		c.cancel()
	}
	if c.channelID != "" {
		c.teardownLocked(c.channelID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.ctx = ctx
	c.cancel = cancel
	c.channelID = channelID
	c.state = StateLoadingHistory
	c.historyLoaded = false
	c.streaming = false
	c.lastErr = nil
	c.prebuffer = nil
	c.held = make(map[string][]heldEvent)
	c.mu.Unlock()

	log.Printf("channelsync: activating channel=%s epoch=%d", channelID, epoch)
	c.notify()

	go c.loadHistory(ctx, epoch, channelID)
	go c.subscribe(ctx, epoch, channelID)
}

// Close tears down the active channel and stops the maintenance loop. The
// controller cannot be reused afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.channelID != "" {
		c.teardownLocked(c.channelID)
		c.channelID = ""
	}
	c.state = StateTornDown
	c.mu.Unlock()

	close(c.done)
	c.notify()
}

// teardownLocked releases everything owned on behalf of channelID. The
// presence leave and the final read-marker write are best-effort and must
// not block teardown, so both run on their own goroutines.
func (c *Controller) teardownLocked(channelID string) {
	if err := c.transport.UnsubscribeChannel(channelID); err != nil {
		log.Printf("channelsync: teardown unsubscribe channel=%s: %v", channelID, err)
	}
	if err := c.transport.UnsubscribePresence(channelID); err != nil {
		log.Printf("channelsync: teardown unsubscribe presence=%s: %v", channelID, err)
	}

	// Leaving a channel acknowledges it: persist the marker at the newest
	// message so the next activation starts caught up.
	if newest, ok := c.log.Newest(); ok {
		id := newest.ID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.unread.Acknowledge(ctx, channelID, id); err != nil {
				log.Printf("channelsync: exit acknowledge channel=%s: %v", channelID, err)
			}
		}()
	}

	if c.streaming {
		if data, err := protocol.EncodeEvent(protocol.EventPresenceLeave, protocol.PresenceEvent{
			ChannelID: channelID,
			UserID:    c.cfg.SelfID,
		}); err == nil {
			go func() {
				if err := c.transport.PublishPresence(channelID, data); err != nil {
					log.Printf("channelsync: presence leave channel=%s: %v", channelID, err)
				}
			}()
		}
	}

	c.log.Clear()
	c.pending.Abandon()
	c.reactions.Clear()
	c.presence.Clear(channelID)
	c.unread.Clear(channelID)
}

// ---------------------------------------------------------------------------
// History path
// ---------------------------------------------------------------------------

// loadHistory fetches channel metadata and the first history page, then
// applies both under the activation epoch.
func (c *Controller) loadHistory(ctx context.Context, epoch uint64, channelID string) {
	start := time.Now()

	ch, err := c.backend.Channel(ctx, channelID)
	if err != nil {
		c.fail(epoch, fmt.Errorf("load channel %s: %w", channelID, err))
		return
	}

	msgs, err := c.backend.Messages(ctx, channelID, rest.Page{Limit: c.cfg.HistoryLimit})
	if err != nil {
		c.fail(epoch, fmt.Errorf("load history %s: %w", channelID, err))
		return
	}

	c.applyHistory(ctx, epoch, channelID, ch, msgs, start)
}

// applyHistory merges the fetched page, derives the unread banner from the
// persisted marker, and replays any events buffered while the fetch was in
// flight. Stale epochs are discarded on arrival.
func (c *Controller) applyHistory(ctx context.Context, epoch uint64, channelID string, ch protocol.Channel, msgs []protocol.Message, start time.Time) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		log.Printf("channelsync: discarding stale history channel=%s epoch=%d", channelID, epoch)
		metrics.EventsDiscarded.WithLabelValues("stale_channel").Inc()
		return
	}

	c.log.Merge(msgs)
	for _, m := range msgs {
		c.reactions.Prime(m.ID, m.Reactions)
	}
	c.presence.Reconcile(channelID, ch.Members)
	window := c.log.Messages()
	c.mu.Unlock()

	metrics.HistoryPagesMerged.Inc()

	// The marker read is I/O; it runs outside the controller mutex and its
	// result is re-checked against the epoch below.
	if _, err := c.unread.Activate(ctx, channelID, window); err != nil {
		log.Printf("channelsync: %v", err)
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.unread.Clear(channelID)
		c.mu.Unlock()
		return
	}
	c.historyLoaded = true

	// Replay events that raced ahead of the history merge. Live state wins
	// over the REST snapshot, so replay order is merge-then-events.
	replay := c.prebuffer
	c.prebuffer = nil
	for _, be := range replay {
		c.applyEventLocked(epoch, be.kind, be.evt)
	}

	if c.streaming {
		c.state = StateLive
	} else if c.state == StateLoadingHistory {
		c.state = StateSubscribing
	}
	c.mu.Unlock()

	metrics.HistoryLoadSeconds.Observe(time.Since(start).Seconds())
	log.Printf("channelsync: history loaded channel=%s messages=%d buffered_replayed=%d",
		channelID, len(msgs), len(replay))
	c.notify()
}

// LoadOlder back-fills one page of history before the oldest loaded message.
// Used when the user scrolls up.
func (c *Controller) LoadOlder() error {
	c.mu.Lock()
	if c.channelID == "" || c.closed {
		c.mu.Unlock()
		return ErrNoActiveChannel
	}
	channelID := c.channelID
	epoch := c.epoch
	ctx := c.ctx
	oldest := ""
	if msgs := c.log.Messages(); len(msgs) > 0 {
		oldest = msgs[0].ID
	}
	c.mu.Unlock()

	go func() {
		msgs, err := c.backend.Messages(ctx, channelID, rest.Page{
			Limit:  c.cfg.HistoryLimit,
			Before: oldest,
		})
		if err != nil {
			log.Printf("channelsync: load older channel=%s: %v", channelID, err)
			return
		}

		c.mu.Lock()
		if epoch != c.epoch {
			c.mu.Unlock()
			metrics.EventsDiscarded.WithLabelValues("stale_channel").Inc()
			return
		}
		added := c.log.Merge(msgs)
		for _, m := range msgs {
			c.reactions.Prime(m.ID, m.Reactions)
		}
		c.mu.Unlock()

		metrics.HistoryPagesMerged.Inc()
		if added > 0 {
			c.notify()
		}
	}()
	return nil
}

// fail moves the controller to idle with a terminal error for this channel.
// Fatal conditions (missing channel, unauthorized) are never retried.
func (c *Controller) fail(epoch uint64, err error) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.lastErr = err
	c.mu.Unlock()

	log.Printf("channelsync: fatal: %v", err)
	c.notify()
}

// ---------------------------------------------------------------------------
// Real-time path
// ---------------------------------------------------------------------------

// errStaleEpoch aborts a subscribe loop whose activation has been superseded.
var errStaleEpoch = errors.New("channelsync: stale epoch")

// subscribe attaches to the channel and presence subjects, retrying with
// bounded exponential backoff on transient failure. If every attempt fails
// the channel stays usable in REST-only mode with the error surfaced on the
// read model.
func (c *Controller) subscribe(ctx context.Context, epoch uint64, channelID string) {
	wait := c.cfg.RetryBaseWait
	var lastErr error

	for attempt := 0; attempt < c.cfg.SubscribeRetries; attempt++ {
		if attempt > 0 {
			metrics.SubscribeRetries.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait *= 2
			if wait > c.cfg.RetryMaxWait {
				wait = c.cfg.RetryMaxWait
			}
		}

		err := c.trySubscribe(epoch, channelID)
		if err == nil {
			c.announcePresence(channelID)
			c.notify()
			return
		}
		if errors.Is(err, errStaleEpoch) {
			return
		}
		lastErr = err
		log.Printf("channelsync: subscribe channel=%s attempt=%d: %v", channelID, attempt+1, err)
	}

	c.mu.Lock()
	if epoch == c.epoch {
		c.lastErr = fmt.Errorf("channelsync: subscribe %s: %w", channelID, lastErr)
	}
	c.mu.Unlock()
	log.Printf("channelsync: subscribe channel=%s gave up after %d attempts, REST-only mode",
		channelID, c.cfg.SubscribeRetries)
	c.notify()
}

// trySubscribe attaches both subjects for one activation attempt. The whole
// attempt runs under subMu: the transport registry is keyed by subject, so
// without serialization a superseded attempt finishing late could replace
// and then remove the current activation's handlers.
func (c *Controller) trySubscribe(epoch uint64, channelID string) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.staleEpoch(epoch) {
		return errStaleEpoch
	}

	if err := c.transport.SubscribeChannel(channelID, func(data []byte) {
		c.onChannelEvent(epoch, channelID, data)
	}); err != nil {
		return err
	}
	if err := c.transport.SubscribePresence(channelID, func(data []byte) {
		c.onPresenceEvent(epoch, channelID, data)
	}); err != nil {
		c.transport.UnsubscribeChannel(channelID)
		return err
	}

	c.mu.Lock()
	if epoch != c.epoch {
		// Superseded mid-attempt. Still under subMu, so these registrations
		// are our own; the successor subscribes only after we release it.
		c.mu.Unlock()
		c.transport.UnsubscribeChannel(channelID)
		c.transport.UnsubscribePresence(channelID)
		return errStaleEpoch
	}
	c.streaming = true
	if c.historyLoaded {
		c.state = StateLive
	}
	c.mu.Unlock()
	return nil
}

// announcePresence publishes the client's own presence enter, best effort.
func (c *Controller) announcePresence(channelID string) {
	data, err := protocol.EncodeEvent(protocol.EventPresenceEnter, protocol.PresenceEvent{
		ChannelID:   channelID,
		UserID:      c.cfg.SelfID,
		DisplayName: c.cfg.SelfName,
	})
	if err != nil {
		return
	}
	if err := c.transport.PublishPresence(channelID, data); err != nil {
		log.Printf("channelsync: presence enter channel=%s: %v", channelID, err)
	}
}

// onChannelEvent is the transport handler for channel.<id>. Events for a
// stale epoch are dropped; events arriving before the history merge are
// buffered and replayed afterwards.
func (c *Controller) onChannelEvent(epoch uint64, channelID string, data []byte) {
	kind, evt, err := protocol.DecodeEvent(data)
	if err != nil {
		log.Printf("channelsync: channel=%s: %v", channelID, err)
		metrics.EventsDiscarded.WithLabelValues("decode_error").Inc()
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		metrics.EventsDiscarded.WithLabelValues("stale_channel").Inc()
		return
	}

	if !c.historyLoaded {
		if len(c.prebuffer) >= c.cfg.PrebufferLimit {
			// Drop the oldest buffered event; the newest state matters most.
			c.prebuffer = c.prebuffer[1:]
			metrics.EventsDiscarded.WithLabelValues("buffer_overflow").Inc()
		}
		c.prebuffer = append(c.prebuffer, bufferedEvent{kind: kind, evt: evt})
		c.mu.Unlock()
		return
	}

	c.applyEventLocked(epoch, kind, evt)
	c.mu.Unlock()
	c.notify()
}

// applyEventLocked folds one decoded channel event into engine state. The
// switch is exhaustive over the channel event kinds; unknown kinds were
// already rejected at decode time.
func (c *Controller) applyEventLocked(epoch uint64, kind string, evt interface{}) {
	switch e := evt.(type) {
	case protocol.MessageEvent:
		if e.Truncated {
			// Oversized payload: the event carries only the id. Materialize
			// the full document over REST before insertion.
			go c.materialize(epoch, e.Message.ChannelID, e.Message.ID)
			return
		}
		c.insertMessageLocked(e.Message)

	case protocol.MessageEditedEvent:
		if !c.log.Contains(e.MessageID) {
			c.holdLocked(e.MessageID, kind, evt)
			return
		}
		c.log.Patch(e.MessageID, func(m *protocol.Message) {
			m.Content = e.Content
			m.Edited = true
		})

	case protocol.MessageDeletedEvent:
		if !c.log.Contains(e.MessageID) {
			c.holdLocked(e.MessageID, kind, evt)
			return
		}
		c.log.Remove(e.MessageID)
		c.reactions.Forget(e.MessageID)

	case protocol.ReactionEvent:
		op := reaction.OpAdd
		if kind == protocol.EventReactionRemoved {
			op = reaction.OpRemove
		}
		c.reactions.Apply(e.MessageID, reaction.Delta{
			Emoji:   e.Emoji,
			Op:      op,
			ActorID: e.ActorID,
		})
		metrics.BufferedDeltas.Set(float64(c.reactions.Buffered()))

	case protocol.TypingEvent:
		if e.UserID == c.cfg.SelfID {
			return // never show our own typing indicator
		}
		if e.IsTyping {
			c.presence.MarkTyping(e.ChannelID, e.UserID)
		} else {
			c.presence.StopTyping(e.ChannelID, e.UserID)
		}
	}

	metrics.EventsApplied.WithLabelValues(kind).Inc()
}

// insertMessageLocked inserts a streamed message, registers its reactions,
// replays any held edit/delete for its id, and advances the unread machine.
func (c *Controller) insertMessageLocked(msg protocol.Message) {
	inserted := c.log.Insert(msg)
	c.reactions.Prime(msg.ID, msg.Reactions)

	if held, ok := c.held[msg.ID]; ok {
		delete(c.held, msg.ID)
		for _, h := range held {
			c.applyEventLocked(c.epoch, h.kind, h.evt)
		}
	}

	if inserted && msg.AuthorID != c.cfg.SelfID {
		c.unread.OnMessage(msg.ChannelID, msg.ID)
	}
}

// holdLocked parks an edit/delete for a message id the log has not seen.
// Held events are replayed when the message arrives or dropped by the sweep.
func (c *Controller) holdLocked(messageID, kind string, evt interface{}) {
	log.Printf("channelsync: holding %s for unknown message=%s", kind, messageID)
	c.held[messageID] = append(c.held[messageID], heldEvent{
		kind:     kind,
		evt:      evt,
		deadline: time.Now().Add(heldWindow),
	})
}

// materialize fetches the full document for an oversized message and inserts
// it, re-checking the epoch after the fetch.
func (c *Controller) materialize(epoch uint64, channelID, messageID string) {
	c.mu.Lock()
	ctx := c.ctx
	stale := epoch != c.epoch
	c.mu.Unlock()
	if stale {
		return
	}

	msg, err := c.backend.Message(ctx, channelID, messageID)
	if err != nil {
		log.Printf("channelsync: materialize message=%s: %v", messageID, err)
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		metrics.EventsDiscarded.WithLabelValues("stale_channel").Inc()
		return
	}
	c.insertMessageLocked(msg)
	c.mu.Unlock()

	metrics.EventsApplied.WithLabelValues(protocol.EventMessage).Inc()
	c.notify()
}

// onPresenceEvent is the transport handler for voice.<id>.
func (c *Controller) onPresenceEvent(epoch uint64, channelID string, data []byte) {
	kind, evt, err := protocol.DecodeEvent(data)
	if err != nil {
		log.Printf("channelsync: presence=%s: %v", channelID, err)
		metrics.EventsDiscarded.WithLabelValues("decode_error").Inc()
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		metrics.EventsDiscarded.WithLabelValues("stale_channel").Inc()
		return
	}

	switch e := evt.(type) {
	case protocol.PresenceEvent:
		switch kind {
		case protocol.EventPresenceEnter:
			c.presence.Enter(e.ChannelID, protocol.Member{
				UserID:      e.UserID,
				DisplayName: e.DisplayName,
				AvatarRef:   e.AvatarRef,
			})
		case protocol.EventPresenceLeave:
			c.presence.Leave(e.ChannelID, e.UserID)
		case protocol.EventPresenceUpdate:
			c.presence.Update(e.ChannelID, protocol.Member{
				UserID:      e.UserID,
				DisplayName: e.DisplayName,
				AvatarRef:   e.AvatarRef,
			})
		}
	case protocol.PresenceSyncEvent:
		c.presence.Reconcile(e.ChannelID, e.Members)
	}
	c.mu.Unlock()

	metrics.EventsApplied.WithLabelValues(kind).Inc()
	c.notify()
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

// maintenanceLoop runs the periodic passes: typing-lease expiry, buffered
// delta expiry, held-event expiry, and the presence reconcile. The reconcile
// is a correctness mechanism — at-most-once transports can drop presence
// events across reconnects, and this pass is what heals the drift.
func (c *Controller) maintenanceLoop() {
	sweep := time.NewTicker(c.cfg.SweepInterval)
	reconcile := time.NewTicker(c.cfg.ReconcileInterval)
	defer sweep.Stop()
	defer reconcile.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-sweep.C:
			changed := c.presence.SweepTyping()
			changed += c.reactions.Sweep()
			changed += c.sweepHeld()
			metrics.BufferedDeltas.Set(float64(c.reactions.Buffered()))
			if changed > 0 {
				c.notify()
			}
		case <-reconcile.C:
			c.reconcilePresence()
		}
	}
}

// sweepHeld drops held edit/delete events past their window.
func (c *Controller) sweepHeld() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	dropped := 0
	for id, events := range c.held {
		keep := events[:0]
		for _, h := range events {
			if h.deadline.After(now) {
				keep = append(keep, h)
			} else {
				dropped++
			}
		}
		if len(keep) == 0 {
			delete(c.held, id)
		} else {
			c.held[id] = keep
		}
	}
	if dropped > 0 {
		log.Printf("channelsync: dropped %d expired held events", dropped)
	}
	return dropped
}

// reconcilePresence refetches the authoritative member list and replaces the
// tracked presence set wholesale.
func (c *Controller) reconcilePresence() {
	c.mu.Lock()
	if c.channelID == "" || !c.historyLoaded {
		c.mu.Unlock()
		return
	}
	channelID := c.channelID
	epoch := c.epoch
	ctx := c.ctx
	c.mu.Unlock()

	ch, err := c.backend.Channel(ctx, channelID)
	if err != nil {
		log.Printf("channelsync: presence reconcile channel=%s: %v", channelID, err)
		return
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.presence.Reconcile(channelID, ch.Members)
	c.mu.Unlock()
	c.notify()
}
