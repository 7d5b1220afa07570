// Package rest is the client for the chat backend's REST API: channel
// metadata, paginated message history, and the write endpoints for messages
// and reactions. Responses are decoded into the shared protocol types; HTTP
// error statuses are mapped onto sentinel errors so the sync controller can
// distinguish fatal conditions from transient ones.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/whisper/channelsync/internal/protocol"
)

// Sentinel errors mapped from HTTP statuses. ErrNotFound and ErrUnauthorized
// are fatal for a channel; everything else is treated as transient.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Config holds client settings.
type Config struct {
	BaseURL   string        // e.g. http://localhost:8080
	AuthToken string        // bearer token, optional
	Timeout   time.Duration // per-request timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 10 * time.Second,
	}
}

// Client talks to the chat backend.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a Client with the given config.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Page selects a slice of channel history. A zero Limit lets the server pick
// its default page size.
type Page struct {
	Limit  int
	After  string // fetch messages after this id (forward pagination)
	Before string // fetch messages before this id (back-fill on scroll-up)
}

// Channel fetches channel metadata, including the authoritative member list
// used by the presence reconcile pass.
func (c *Client) Channel(ctx context.Context, channelID string) (protocol.Channel, error) {
	var ch protocol.Channel
	err := c.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(channelID), nil, &ch)
	if err != nil {
		return protocol.Channel{}, fmt.Errorf("rest: get channel %s: %w", channelID, err)
	}
	return ch, nil
}

// Messages fetches one page of channel history. The server may return the
// page newest-first or oldest-first; callers must not rely on page order.
func (c *Client) Messages(ctx context.Context, channelID string, page Page) ([]protocol.Message, error) {
	q := url.Values{}
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	if page.After != "" {
		q.Set("after", page.After)
	}
	if page.Before != "" {
		q.Set("before", page.Before)
	}

	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Messages []protocol.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("rest: get messages %s: %w", channelID, err)
	}
	return resp.Messages, nil
}

// Message fetches a single message. Used to materialize oversized messages
// announced via the notify-then-fetch pattern.
func (c *Client) Message(ctx context.Context, channelID, messageID string) (protocol.Message, error) {
	var msg protocol.Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("rest: get message %s: %w", messageID, err)
	}
	return msg, nil
}

// CreateMessage posts a new message and returns the server's copy with its
// assigned id and timestamp.
func (c *Client) CreateMessage(ctx context.Context, channelID string, payload protocol.SendPayload) (protocol.Message, error) {
	var msg protocol.Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, payload, &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("rest: create message: %w", err)
	}
	return msg, nil
}

// EditMessage patches a message's content and returns the updated copy.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID, content string) (protocol.Message, error) {
	var msg protocol.Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPatch, path, body, &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("rest: edit message %s: %w", messageID, err)
	}
	return msg, nil
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("rest: delete message %s: %w", messageID, err)
	}
	return nil
}

// AddReaction puts the current user's reaction on a message.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	path := reactionPath(channelID, messageID, emoji)
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("rest: add reaction: %w", err)
	}
	return nil
}

// RemoveReaction removes the current user's reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	path := reactionPath(channelID, messageID, emoji)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("rest: remove reaction: %w", err)
	}
	return nil
}

func reactionPath(channelID, messageID, emoji string) string {
	return "/channels/" + url.PathEscape(channelID) +
		"/messages/" + url.PathEscape(messageID) +
		"/reactions/" + url.PathEscape(emoji)
}

// apiError is the backend's structured error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do performs one HTTP round trip: marshal body, set headers, map error
// statuses to sentinels, decode the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		detail := ""
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			detail = ": " + apiErr.Message
		}

		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w%s", ErrNotFound, detail)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w%s", ErrUnauthorized, detail)
		default:
			return fmt.Errorf("unexpected status %d%s", resp.StatusCode, detail)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
