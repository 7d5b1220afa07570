package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/whisper/channelsync/internal/protocol"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.AuthToken = "test-token"
	return NewClient(cfg), srv
}

func TestMessages_BuildsQueryAndDecodes(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	cli, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []protocol.Message{
				{ID: "m2", ChannelID: "c1", CreatedAt: time.Now().UTC()},
				{ID: "m1", ChannelID: "c1", CreatedAt: time.Now().UTC()},
			},
		})
	}))
	defer srv.Close()

	msgs, err := cli.Messages(context.Background(), "c1", Page{Limit: 50, After: "m0"})
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
	if gotPath != "/channels/c1/messages" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotQuery != "after=m0&limit=50" {
		t.Errorf("unexpected query: %s", gotQuery)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("unexpected auth header: %q", gotAuth)
	}
}

func TestChannel_NotFoundMapsToSentinel(t *testing.T) {
	cli, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "channel_not_found",
			"message": "no such channel",
		})
	}))
	defer srv.Close()

	_, err := cli.Channel(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDo_ForbiddenMapsToUnauthorized(t *testing.T) {
	cli, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := cli.Messages(context.Background(), "c1", Page{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateMessage_PostsPayload(t *testing.T) {
	var gotMethod string
	var gotBody protocol.SendPayload
	cli, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(protocol.Message{
			ID:        "srv-1",
			ChannelID: "c1",
			Content:   gotBody.Content,
			CreatedAt: time.Now().UTC(),
		})
	}))
	defer srv.Close()

	msg, err := cli.CreateMessage(context.Background(), "c1", protocol.SendPayload{Content: "hi"})
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if gotMethod != http.MethodPost || gotBody.Content != "hi" {
		t.Errorf("unexpected request: method=%s body=%+v", gotMethod, gotBody)
	}
	if msg.ID != "srv-1" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestReactions_MethodAndEscaping(t *testing.T) {
	var gotMethod, gotPath string
	cli, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := cli.AddReaction(context.Background(), "c1", "m1", "👍"); err != nil {
		t.Fatalf("AddReaction failed: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("expected PUT, got %s", gotMethod)
	}
	if gotPath != "/channels/c1/messages/m1/reactions/%F0%9F%91%8D" {
		t.Errorf("emoji not path-escaped: %s", gotPath)
	}

	if err := cli.RemoveReaction(context.Background(), "c1", "m1", "👍"); err != nil {
		t.Fatalf("RemoveReaction failed: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("expected DELETE, got %s", gotMethod)
	}
}

func TestDeleteMessage_NoBody(t *testing.T) {
	cli, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := cli.DeleteMessage(context.Background(), "c1", "m1"); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
}
