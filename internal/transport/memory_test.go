package transport

import (
	"errors"
	"testing"
)

func TestSubjects(t *testing.T) {
	if got := ChannelSubject("c1"); got != "channel.c1" {
		t.Errorf("unexpected channel subject: %q", got)
	}
	if got := PresenceSubject("c1"); got != "voice.c1" {
		t.Errorf("unexpected presence subject: %q", got)
	}
}

func TestMemory_DeliverAndPublish(t *testing.T) {
	m := NewMemory()

	var got []byte
	if err := m.SubscribeChannel("c1", func(data []byte) { got = data }); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if !m.Subscribed("channel.c1") {
		t.Error("subject should be subscribed")
	}

	m.Deliver("channel.c1", []byte("inbound"))
	if string(got) != "inbound" {
		t.Errorf("handler not invoked: %q", got)
	}

	// Local publishes are recorded and looped back to the subscriber.
	if err := m.PublishChannel("c1", []byte("typing")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if string(got) != "typing" {
		t.Errorf("publish not looped back: %q", got)
	}
	pub := m.Published("channel.c1")
	if len(pub) != 1 || string(pub[0]) != "typing" {
		t.Errorf("publish not recorded: %v", pub)
	}
}

func TestMemory_Unsubscribe(t *testing.T) {
	m := NewMemory()
	m.SubscribeChannel("c1", func([]byte) {})

	if err := m.UnsubscribeChannel("c1"); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if err := m.UnsubscribeChannel("c1"); err == nil {
		t.Error("double unsubscribe should error")
	}
}

func TestMemory_SubscribeErrOneShot(t *testing.T) {
	m := NewMemory()
	m.SubscribeErr = errors.New("broker down")

	if err := m.SubscribeChannel("c1", func([]byte) {}); err == nil {
		t.Fatal("expected injected subscribe error")
	}
	if err := m.SubscribeChannel("c1", func([]byte) {}); err != nil {
		t.Errorf("error should clear after one use: %v", err)
	}
}
