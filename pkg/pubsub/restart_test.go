package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memoryPubSub delivers published messages to the single subscriber.
type memoryPubSub struct {
	mu      sync.Mutex
	ch      chan Message
	pubErr  error
	closed  bool
	channel string
}

func newMemoryPubSub() *memoryPubSub {
	return &memoryPubSub{ch: make(chan Message, 8)}
}

func (m *memoryPubSub) Publish(ctx context.Context, channel string, message string) error {
	if m.pubErr != nil {
		return m.pubErr
	}
	m.ch <- Message{Channel: channel, Payload: message}
	return nil
}

func (m *memoryPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channel = channels[0]
	return m.ch, nil
}

func (m *memoryPubSub) Unsubscribe(ctx context.Context, channels ...string) error { return nil }

func (m *memoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
	return nil
}

func TestPublishRestart_RoundTrip(t *testing.T) {
	ps := newMemoryPubSub()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := PublishRestart(context.Background(), ps, "weather", ReasonRestart, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := <-ps.ch
	if msg.Channel != RestartChannel {
		t.Fatalf("expected channel %s, got %s", RestartChannel, msg.Channel)
	}
	notice, err := DecodeRestart(msg)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if notice.Source != "weather" || notice.Reason != ReasonRestart || !notice.RequestedAt.Equal(at) {
		t.Fatalf("unexpected notice %+v", notice)
	}
}

func TestPublishRestart_PublishError(t *testing.T) {
	ps := newMemoryPubSub()
	ps.pubErr = errors.New("connection reset")

	if err := PublishRestart(context.Background(), ps, "weather", ReasonRestart, time.Now()); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestDecodeRestart_Invalid(t *testing.T) {
	cases := []string{"", "not json", `{"requested_at":"2026-01-01T00:00:00Z"}`}
	for _, payload := range cases {
		if _, err := DecodeRestart(Message{Channel: RestartChannel, Payload: payload}); err == nil {
			t.Fatalf("expected error for payload %q", payload)
		}
	}
}

func TestListenRestarts_SkipsInvalidAndStopsOnClose(t *testing.T) {
	ps := newMemoryPubSub()
	ps.ch <- Message{Channel: RestartChannel, Payload: "garbage"}
	_ = PublishRestart(context.Background(), ps, "a", ReasonUpdate, time.Now())
	_ = PublishRestart(context.Background(), ps, "b", ReasonDeleted, time.Now())
	_ = ps.Close()

	var got []string
	err := ListenRestarts(context.Background(), ps, func(n RestartNotice) {
		got = append(got, n.Source)
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected [a b], got %v", got)
	}
	if ps.channel != RestartChannel {
		t.Fatalf("expected subscription to %s, got %s", RestartChannel, ps.channel)
	}
}

func TestListenRestarts_ReturnsOnCancel(t *testing.T) {
	ps := newMemoryPubSub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- ListenRestarts(ctx, ps, func(RestartNotice) {}, nil) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("listener did not return after cancel")
	}
}

func TestRedisConfig_Addr(t *testing.T) {
	if got := (RedisConfig{Host: "localhost", Port: 6379}).Addr(); got != "localhost:6379" {
		t.Fatalf("unexpected addr %s", got)
	}
}
