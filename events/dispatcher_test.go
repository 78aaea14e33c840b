package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/idp-sessions-go/sessions"
)

type collector struct {
	mu  sync.Mutex
	evs []Event
}

func (c *collector) HandleSessionEvent(_ context.Context, ev Event) error {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
	return nil
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.evs...)
}

func newSession(id string) *sessions.Session {
	return sessions.New(id, []byte("secret"), time.Minute)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := NewDispatcher()
	defer d.Close(context.Background())

	var c collector
	d.Subscribe(&c)

	ctx := context.Background()
	s := newSession("s1")
	now := time.Now()
	if err := d.Publish(ctx, New(TypeLogin, ReasonAuthenticated, "session", s, now)); err != nil {
		t.Fatalf("Publish login: %v", err)
	}
	if err := d.Publish(ctx, New(TypeLogout, ReasonLogout, "session", s, now)); err != nil {
		t.Fatalf("Publish logout: %v", err)
	}
	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := c.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != TypeLogin || got[1].Type != TypeLogout {
		t.Fatalf("unexpected order: %s then %s", got[0].Type, got[1].Type)
	}
	if got[0].ID == got[1].ID || got[0].ID == "" {
		t.Fatalf("expected distinct event ids, got %q and %q", got[0].ID, got[1].ID)
	}
}

func TestDispatcherIsolatesFailingListeners(t *testing.T) {
	d := NewDispatcher()
	defer d.Close(context.Background())

	d.Subscribe(ListenerFunc(func(context.Context, Event) error { panic("boom") }))
	d.Subscribe(ListenerFunc(func(context.Context, Event) error { return errors.New("nope") }))
	var c collector
	d.Subscribe(&c)

	ctx := context.Background()
	if err := d.Publish(ctx, New(TypeLogin, ReasonAuthenticated, "session", newSession("s1"), time.Now())); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n := len(c.snapshot()); n != 1 {
		t.Fatalf("healthy listener got %d events, want 1", n)
	}
}

func TestDispatcherUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	defer d.Close(context.Background())

	var c collector
	unsubscribe := d.Subscribe(&c)
	unsubscribe()
	unsubscribe()

	ctx := context.Background()
	_ = d.Publish(ctx, New(TypeLogin, ReasonAuthenticated, "session", newSession("s1"), time.Now()))
	_ = d.Flush(ctx)

	if n := len(c.snapshot()); n != 0 {
		t.Fatalf("unsubscribed listener got %d events", n)
	}
}

func TestDispatcherDeliveryIgnoresPublisherCancellation(t *testing.T) {
	d := NewDispatcher()
	defer d.Close(context.Background())

	seen := make(chan error, 1)
	d.Subscribe(ListenerFunc(func(ctx context.Context, _ Event) error {
		seen <- ctx.Err()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Publish(ctx, New(TypeLogin, ReasonAuthenticated, "session", newSession("s1"), time.Now())); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	cancel()

	select {
	case err := <-seen:
		if err != nil {
			t.Fatalf("listener context was cancelled: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	d := NewDispatcher(WithQueueSize(8))

	release := make(chan struct{})
	var c collector
	d.Subscribe(ListenerFunc(func(ctx context.Context, ev Event) error {
		<-release
		return c.HandleSessionEvent(ctx, ev)
	}))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := d.Publish(ctx, New(TypeLogin, ReasonAuthenticated, "session", newSession("s"), time.Now())); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	close(release)

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := len(c.snapshot()); n != 5 {
		t.Fatalf("expected queued events to drain, got %d", n)
	}
	if err := d.Publish(ctx, Event{}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDispatcherPublishHonoursContextWhenFull(t *testing.T) {
	d := NewDispatcher(WithQueueSize(1))
	release := make(chan struct{})
	defer func() {
		close(release)
		_ = d.Close(context.Background())
	}()

	started := make(chan struct{}, 1)
	d.Subscribe(ListenerFunc(func(context.Context, Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}))

	ctx := context.Background()
	_ = d.Publish(ctx, Event{ID: "1"})
	<-started
	_ = d.Publish(ctx, Event{ID: "2"})

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := d.Publish(timeoutCtx, Event{ID: "3"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
