package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/idp-sessions-go/storage"
	"github.com/ggoodman/idp-sessions-go/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.RunStorageTests(t, func(t *testing.T) storage.Storage {
		s, err := New(1000)
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

type recorder struct {
	mu  sync.Mutex
	evs []storage.Eviction
}

func (r *recorder) record(ev storage.Eviction) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) events() []storage.Eviction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Eviction(nil), r.evs...)
}

func TestCapacityEvictionIsReportedWithItem(t *testing.T) {
	s, err := New(2, WithSweepInterval(0))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	var rec recorder
	s.NotifyEvictions("p", rec.record)

	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, "p", k, []byte(k)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	evs := rec.events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 eviction, got %d", len(evs))
	}
	if evs[0].Key != "a" || evs[0].Item == nil || string(evs[0].Item.Data) != "a" {
		t.Fatalf("unexpected eviction %+v", evs[0])
	}
	if item, _ := s.Get(ctx, "p", "a"); item != nil {
		t.Fatalf("evicted item still readable")
	}
}

func TestOverwriteAtCapacityDoesNotEvict(t *testing.T) {
	s, err := New(1, WithSweepInterval(0))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	var rec recorder
	s.NotifyEvictions("p", rec.record)

	ctx := context.Background()
	_ = s.Set(ctx, "p", "a", []byte("1"))
	_ = s.Set(ctx, "p", "a", []byte("2"))

	if n := len(rec.events()); n != 0 {
		t.Fatalf("expected no eviction on overwrite, got %d", n)
	}
}

func TestSweepReportsExpiredItemsAndLeavesThemInPlace(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s, err := New(10, WithSweepInterval(0), WithClock(clock))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	var rec recorder
	s.NotifyEvictions("p", rec.record)

	ctx := context.Background()
	_ = s.Set(ctx, "p", "short", []byte("x"), storage.WithTTL(time.Second))
	_ = s.Set(ctx, "p", "long", []byte("y"), storage.WithTTL(time.Hour))

	now = now.Add(2 * time.Second)
	if err := s.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	evs := rec.events()
	if len(evs) != 1 || evs[0].Key != "short" || evs[0].Item != nil {
		t.Fatalf("unexpected evictions %+v", evs)
	}
	if s.Len() != 2 {
		t.Fatalf("expected expired item to stay until its owner deletes it, len=%d", s.Len())
	}
}

func TestSweepWithoutNotifierRemovesExpiredItems(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := New(10, WithSweepInterval(0), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	_ = s.Set(ctx, "p", "k", []byte("x"), storage.WithTTL(time.Second))

	now = now.Add(time.Minute)
	if err := s.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected expired item to be removed, len=%d", s.Len())
	}
}

func TestNotifiersAreScopedToPartition(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := New(2, WithSweepInterval(0), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	var a, b recorder
	s.NotifyEvictions("a", a.record)
	s.NotifyEvictions("b", b.record)

	ctx := context.Background()
	_ = s.Set(ctx, "a", "k1", []byte("1"))
	_ = s.Set(ctx, "b", "k2", []byte("2"))
	_ = s.Set(ctx, "b", "k3", []byte("3"))

	if evs := a.events(); len(evs) != 1 || evs[0].Key != "k1" || evs[0].Item == nil {
		t.Fatalf("partition a: unexpected evictions %+v", evs)
	}
	if n := len(b.events()); n != 0 {
		t.Fatalf("partition b: expected no evictions, got %d", n)
	}
}

func TestSweepRemovesItemsOfUnwatchedPartitions(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := New(10, WithSweepInterval(0), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	var rec recorder
	unregister := s.NotifyEvictions("watched", rec.record)

	ctx := context.Background()
	_ = s.Set(ctx, "watched", "w", []byte("x"), storage.WithTTL(time.Second))
	_ = s.Set(ctx, "other", "o", []byte("y"), storage.WithTTL(time.Second))

	now = now.Add(time.Minute)
	if err := s.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if evs := rec.events(); len(evs) != 1 || evs[0].Partition != "watched" {
		t.Fatalf("unexpected evictions %+v", evs)
	}
	if s.Len() != 1 {
		t.Fatalf("expected only the watched item to remain, len=%d", s.Len())
	}

	unregister()
	if err := s.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected item removed once unregistered, len=%d", s.Len())
	}
	if n := len(rec.events()); n != 1 {
		t.Fatalf("expected no report after unregister, got %d", n)
	}
}

func TestClosedStorageRejectsOperations(t *testing.T) {
	s, err := New(10)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.Set(context.Background(), "p", "k", nil); err != storage.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
