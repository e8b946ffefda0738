package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *recordingSink) Emit(_ context.Context, event Event) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 16)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Type: TypeRecoveryCodeRedeemed, UserID: uint64(i + 1)})
	}
	d.Close()

	if got := sink.count(); got != 5 {
		t.Fatalf("delivered %d events, want 5", got)
	}
	if sink.events[0].Timestamp.IsZero() {
		t.Fatalf("timestamp not stamped")
	}

	d.Emit(context.Background(), Event{Type: TypeRecoveryCodeRedeemed})
	if got := sink.count(); got != 5 {
		t.Fatalf("event accepted after close")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, 1)

	start := time.Now()
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Type: TypeReplayDetected})
	}
	if time.Since(start) > time.Second {
		t.Fatalf("emit blocked on a full buffer")
	}
	if d.Dropped() == 0 {
		t.Fatalf("expected dropped events")
	}
	close(sink.block)
	d.Close()
}

func TestRedisSinkPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, "security")
	t.Cleanup(func() { _ = sub.Close() })
	if _, errReceive := sub.Receive(ctx); errReceive != nil {
		t.Fatalf("subscribe: %v", errReceive)
	}

	sink := NewRedisSink(client, "security")
	sink.Emit(ctx, Event{Type: TypeRecoveryCodeRedeemed, UserID: 9, Metadata: map[string]string{"remaining": "9"}})

	select {
	case msg := <-sub.Channel():
		var event Event
		if errUnmarshal := json.Unmarshal([]byte(msg.Payload), &event); errUnmarshal != nil {
			t.Fatalf("unmarshal: %v", errUnmarshal)
		}
		if event.Type != TypeRecoveryCodeRedeemed || event.UserID != 9 || event.Metadata["remaining"] != "9" {
			t.Fatalf("event = %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message published")
	}
}
