// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 for bounded caching with expiry
// support. Items are held by value in process memory and discarded on exit.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ggoodman/idp-sessions-go/storage"
)

// DefaultSweepInterval is how often expired items are looked for unless
// overridden with WithSweepInterval.
const DefaultSweepInterval = time.Minute

type reported struct {
	ev     storage.Eviction
	notify storage.EvictionFunc
}

type cacheKey struct {
	partition string
	key       string
}

// Storage implements the storage.Storage interface using in-memory storage
type Storage struct {
	storage.Notifiers

	mu     sync.Mutex
	cache  *lru.Cache[cacheKey, *storage.Item]
	max    int
	closed bool

	now           func() time.Time
	sweepInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
}

// Option configures the memory storage
type Option func(*Storage)

// WithSweepInterval sets how often the background sweep runs. A non-positive
// interval disables the background sweep; Sweep may still be called directly.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Storage) { s.sweepInterval = d }
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) { s.now = now }
}

// New creates a new in-memory storage holding at most maxItems items. When
// full, the least recently used item is evicted.
func New(maxItems int, opts ...Option) (*Storage, error) {
	cache, err := lru.New[cacheKey, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache:         cache,
		max:           maxItems,
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}

	return s, nil
}

// Get retrieves the item stored under key within partition
func (s *Storage) Get(ctx context.Context, partition, key string) (*storage.Item, error) {
	if err := storage.ValidateKey(partition, key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	item, exists := s.cache.Get(cacheKey{partition, key})
	if !exists {
		return nil, nil
	}
	return cloneItem(item), nil
}

// Set stores data under key within partition
func (s *Storage) Set(ctx context.Context, partition, key string, data []byte, opts ...storage.Option) error {
	if err := storage.ValidateKey(partition, key); err != nil {
		return err
	}

	now := s.now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now.UTC(),
		ExpiresAt: storage.ApplyOptions(opts...).Expiry(now),
	}

	ck := cacheKey{partition, key}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return storage.ErrClosed
	}
	var evicted *storage.Eviction
	if !s.cache.Contains(ck) && s.cache.Len() >= s.max {
		if oldKey, oldItem, ok := s.cache.RemoveOldest(); ok {
			evicted = &storage.Eviction{Partition: oldKey.partition, Key: oldKey.key, Item: oldItem}
		}
	}
	s.cache.Add(ck, item)
	s.mu.Unlock()

	if evicted != nil {
		if notify := s.Lookup(evicted.Partition); notify != nil {
			notify(*evicted)
		}
	}
	return nil
}

// Delete atomically removes the item and returns it
func (s *Storage) Delete(ctx context.Context, partition, key string) (*storage.Item, error) {
	if err := storage.ValidateKey(partition, key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	ck := cacheKey{partition, key}
	item, ok := s.cache.Peek(ck)
	if !ok {
		return nil, nil
	}
	s.cache.Remove(ck)
	return item, nil
}

// Sweep scans for expired items. With a registered EvictionFunc each expired
// item is reported and left in place for its owner to delete; otherwise the
// item is removed.
func (s *Storage) Sweep(ctx context.Context) error {
	now := s.now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return storage.ErrClosed
	}
	var expired []reported
	for _, k := range s.cache.Keys() {
		item, ok := s.cache.Peek(k)
		if !ok || !item.ExpiredAt(now) {
			continue
		}
		notify := s.Lookup(k.partition)
		if notify == nil {
			s.cache.Remove(k)
			continue
		}
		expired = append(expired, reported{storage.Eviction{Partition: k.partition, Key: k.key}, notify})
	}
	s.mu.Unlock()

	for _, r := range expired {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.notify(r.ev)
	}
	return nil
}

// Len reports the number of stored items, expired ones included.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Close stops the background sweep and drops all items
func (s *Storage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cache.Purge()
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return nil
}

// sweepLoop periodically runs Sweep until Close is called
func (s *Storage) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.Sweep(context.Background())
		case <-s.done:
			return
		}
	}
}

func cloneItem(item *storage.Item) *storage.Item {
	out := &storage.Item{
		Data:      append([]byte(nil), item.Data...),
		CreatedAt: item.CreatedAt,
	}
	if item.ExpiresAt != nil {
		t := *item.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

// Compile-time interface checks
var (
	_ storage.Storage          = (*Storage)(nil)
	_ storage.EvictionNotifier = (*Storage)(nil)
	_ storage.Sweeper          = (*Storage)(nil)
)
