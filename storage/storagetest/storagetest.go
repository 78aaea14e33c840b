// Package storagetest provides a conformance suite shared by all
// storage.Storage backends.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/idp-sessions-go/storage"
)

// Factory creates a new Storage instance for testing. Backends shared across
// tests are fine: every test uses its own random partition.
type Factory func(t *testing.T) storage.Storage

// RunStorageTests runs the complete Storage test suite against the provided factory.
func RunStorageTests(t *testing.T, factory Factory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetMissingReturnsNil", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("PartitionIsolation", func(t *testing.T) { testPartitionIsolation(t, factory) })
	t.Run("OverwriteReplacesItem", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("DeleteReturnsRemovedItem", func(t *testing.T) { testDeleteReturnsItem(t, factory) })
	t.Run("DeleteMissingReturnsNil", func(t *testing.T) { testDeleteMissing(t, factory) })
	t.Run("ConcurrentDeleteHasSingleWinner", func(t *testing.T) { testConcurrentDelete(t, factory) })
	t.Run("ExpiredItemVisibleUntilDeleted", func(t *testing.T) { testExpiredVisible(t, factory) })
	t.Run("TTLResolvesToAbsoluteExpiry", func(t *testing.T) { testTTL(t, factory) })
	t.Run("NoExpiryByDefault", func(t *testing.T) { testNoExpiry(t, factory) })
	t.Run("EmptyKeyRejected", func(t *testing.T) { testInvalidKey(t, factory) })
}

func newPartition() string {
	return "test-" + uuid.NewString()
}

func testSetAndGet(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	p := newPartition()

	if err := s.Set(ctx, p, "k1", []byte("v1")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	item, err := s.Get(ctx, p, "k1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if string(item.Data) != "v1" {
		t.Fatalf("Get() returned wrong data: got %s, want v1", string(item.Data))
	}
	if item.CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be set")
	}
}

func testGetMissing(t *testing.T, factory Factory) {
	s := factory(t)

	item, err := s.Get(context.Background(), newPartition(), "missing")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
}

func testPartitionIsolation(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	p1, p2 := newPartition(), newPartition()

	if err := s.Set(ctx, p1, "k", []byte("one")); err != nil {
		t.Fatalf("Set p1: %v", err)
	}
	if err := s.Set(ctx, p2, "k", []byte("two")); err != nil {
		t.Fatalf("Set p2: %v", err)
	}

	i1, err := s.Get(ctx, p1, "k")
	if err != nil || i1 == nil || string(i1.Data) != "one" {
		t.Fatalf("p1 read: item=%v err=%v", i1, err)
	}
	i2, err := s.Get(ctx, p2, "k")
	if err != nil || i2 == nil || string(i2.Data) != "two" {
		t.Fatalf("p2 read: item=%v err=%v", i2, err)
	}

	if _, err := s.Delete(ctx, p1, "k"); err != nil {
		t.Fatalf("Delete p1: %v", err)
	}
	if i2, _ := s.Get(ctx, p2, "k"); i2 == nil {
		t.Fatalf("delete in p1 removed item in p2")
	}
}

func testOverwrite(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	p := newPartition()

	if err := s.Set(ctx, p, "k", []byte("old"), storage.WithTTL(time.Hour)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, p, "k", []byte("new")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	item, err := s.Get(ctx, p, "k")
	if err != nil || item == nil {
		t.Fatalf("Get: item=%v err=%v", item, err)
	}
	if string(item.Data) != "new" {
		t.Fatalf("expected overwritten data, got %s", item.Data)
	}
	if item.ExpiresAt != nil {
		t.Fatalf("expected overwrite without TTL to clear expiry, got %v", item.ExpiresAt)
	}
}

func testDeleteReturnsItem(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	p := newPartition()

	if err := s.Set(ctx, p, "k", []byte("payload")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	item, err := s.Delete(ctx, p, "k")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if item == nil || string(item.Data) != "payload" {
		t.Fatalf("expected removed item, got %+v", item)
	}

	if got, _ := s.Get(ctx, p, "k"); got != nil {
		t.Fatalf("item still readable after delete")
	}
}

func testDeleteMissing(t *testing.T, factory Factory) {
	s := factory(t)

	item, err := s.Delete(context.Background(), newPartition(), "missing")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
}

func testConcurrentDelete(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	p := newPartition()

	if err := s.Set(ctx, p, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	const n = 16
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			item, err := s.Delete(ctx, p, "k")
			if err != nil {
				t.Errorf("Delete: %v", err)
				return
			}
			if item != nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Fatalf("expected exactly one delete winner, got %d", got)
	}
}

func testExpiredVisible(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	p := newPartition()

	past := time.Now().Add(-time.Second)
	if err := s.Set(ctx, p, "k", []byte("v"), storage.WithExpiresAt(past)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	item, err := s.Get(ctx, p, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item == nil {
		t.Fatal("expected expired item to remain visible until deleted")
	}
	if !item.IsExpired() {
		t.Fatalf("expected item to report expiry, expires_at=%v", item.ExpiresAt)
	}

	removed, err := s.Delete(ctx, p, "k")
	if err != nil || removed == nil {
		t.Fatalf("Delete expired: item=%v err=%v", removed, err)
	}
}

func testTTL(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	p := newPartition()

	before := time.Now()
	if err := s.Set(ctx, p, "k", []byte("v"), storage.WithTTL(time.Hour)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	after := time.Now()

	item, err := s.Get(ctx, p, "k")
	if err != nil || item == nil {
		t.Fatalf("Get: item=%v err=%v", item, err)
	}
	if item.ExpiresAt == nil {
		t.Fatal("expected ExpiresAt to be set")
	}
	lo := before.Add(time.Hour).Add(-time.Second)
	hi := after.Add(time.Hour).Add(time.Second)
	if item.ExpiresAt.Before(lo) || item.ExpiresAt.After(hi) {
		t.Fatalf("ExpiresAt %v outside [%v, %v]", item.ExpiresAt, lo, hi)
	}
	if item.IsExpired() {
		t.Fatalf("item expired early")
	}
}

func testNoExpiry(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	p := newPartition()

	if err := s.Set(ctx, p, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	item, err := s.Get(ctx, p, "k")
	if err != nil || item == nil {
		t.Fatalf("Get: item=%v err=%v", item, err)
	}
	if item.ExpiresAt != nil {
		t.Fatalf("expected no expiry, got %v", item.ExpiresAt)
	}
}

func testInvalidKey(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	if err := s.Set(ctx, "", "k", []byte("v")); !errors.Is(err, storage.ErrInvalidKey) {
		t.Fatalf("Set with empty partition: expected ErrInvalidKey, got %v", err)
	}
	if _, err := s.Get(ctx, newPartition(), ""); !errors.Is(err, storage.ErrInvalidKey) {
		t.Fatalf("Get with empty key: expected ErrInvalidKey, got %v", err)
	}
	if _, err := s.Delete(ctx, "", ""); !errors.Is(err, storage.ErrInvalidKey) {
		t.Fatalf("Delete with empty key: expected ErrInvalidKey, got %v", err)
	}
}
