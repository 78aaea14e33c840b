// Package storage defines the expiring, partitioned key/value contract the
// session manager persists entries through.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the primary interface for partitioned expiring storage.
// Implementations MUST be safe for concurrent use.
type Storage interface {
	// Get retrieves the item stored under key within partition.
	// Returns nil Item if the key doesn't exist. Expired items that have not
	// been removed yet ARE returned; callers decide what expiry means.
	// Returns error only for legitimate storage system failures.
	Get(ctx context.Context, partition, key string) (*Item, error)

	// Set stores data under key within partition, replacing any existing item.
	// The write is visible to subsequent Get calls from any caller once Set
	// returns.
	Set(ctx context.Context, partition, key string, data []byte, opts ...Option) error

	// Delete atomically removes the item and returns it. When several callers
	// race to delete the same key exactly one of them receives the item; the
	// others receive nil.
	Delete(ctx context.Context, partition, key string) (*Item, error)

	// Close closes the storage backend and releases resources
	Close() error
}

// Item represents a stored piece of data with metadata
type Item struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was written
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired checks if the item has expired
func (si *Item) IsExpired() bool {
	return si.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the item is expired at now.
func (si *Item) ExpiredAt(now time.Time) bool {
	return si.ExpiresAt != nil && !now.Before(*si.ExpiresAt)
}

// Option configures storage writes
type Option func(*Options)

// Options contains configuration for storage writes
type Options struct {
	TTL       *time.Duration // Optional: time-to-live relative to the write
	ExpiresAt *time.Time     // Optional: absolute expiry; wins over TTL
}

// WithTTL sets a time-to-live for the stored data
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// WithExpiresAt sets an absolute expiration instant for the stored data.
func WithExpiresAt(t time.Time) Option {
	return func(opts *Options) {
		opts.ExpiresAt = &t
	}
}

// ApplyOptions folds opts into an Options value.
func ApplyOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Expiry resolves the absolute expiry of a write performed at now. Nil means
// the item never expires.
func (o Options) Expiry(now time.Time) *time.Time {
	if o.ExpiresAt != nil {
		t := o.ExpiresAt.UTC()
		return &t
	}
	if o.TTL != nil {
		t := now.Add(*o.TTL).UTC()
		return &t
	}
	return nil
}

// ValidateKey rejects empty partitions and keys.
func ValidateKey(partition, key string) error {
	if partition == "" || key == "" {
		return ErrInvalidKey
	}
	return nil
}

// Eviction describes an entry a backend detected on its own, typically during
// a background sweep.
type Eviction struct {
	Partition string
	Key       string
	// Item is set when the backend already removed the entry, e.g. under
	// capacity pressure. When nil the entry is still stored and has expired;
	// the receiver owns its removal through Delete.
	Item *Item
}

// EvictionFunc receives eviction notices. It is called from backend
// goroutines and MUST NOT block.
type EvictionFunc func(Eviction)

// EvictionNotifier is implemented by backends that detect expired or evicted
// entries in the background. Registration is per partition: once a function
// is registered for a partition, that partition's expired entries are
// reported instead of being removed silently. Other partitions are unaffected.
type EvictionNotifier interface {
	NotifyEvictions(partition string, fn EvictionFunc) (unregister func())
}

// Sweeper is implemented by backends that can scan for expired entries on
// demand, in addition to any periodic sweep they run.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Error types
var (
	// ErrInvalidKey is returned when a partition or key is empty
	ErrInvalidKey = errors.New("storage: partition and key are required")
	// ErrClosed is returned by operations on a closed backend
	ErrClosed = errors.New("storage: closed")
)
