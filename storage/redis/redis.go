// Package redis provides a Redis-based implementation of the storage.Storage
// interface. Each item is a JSON document under its own key; a per-partition
// sorted set indexes items by expiry so sweeps can find them without SCAN.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/idp-sessions-go/storage"
)

// Config contains configuration options for the Redis storage. Defaults can be
// loaded via envdecode.
type Config struct {
	// Client is an existing client to use. When nil a client is dialed from
	// Addr and owned by the Storage.
	Client redis.UniversalClient

	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`

	// KeyPrefix for all keys. ENV: IDP_STORAGE_KEY_PREFIX
	KeyPrefix string `env:"IDP_STORAGE_KEY_PREFIX,default=idp:storage:"`

	// ExpiryGrace keeps expired items in Redis this long past their expiry so
	// a sweep can still report them. ENV: IDP_STORAGE_EXPIRY_GRACE
	ExpiryGrace time.Duration `env:"IDP_STORAGE_EXPIRY_GRACE,default=5m"`

	// SweepInterval between background sweeps; non-positive disables them.
	// ENV: IDP_STORAGE_SWEEP_INTERVAL
	SweepInterval time.Duration `env:"IDP_STORAGE_SWEEP_INTERVAL,default=1m"`

	// SweepBatch bounds how many expired items one sweep reports per
	// partition. ENV: IDP_STORAGE_SWEEP_BATCH
	SweepBatch int64 `env:"IDP_STORAGE_SWEEP_BATCH,default=100"`
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "idp:storage:"
	}
	if c.ExpiryGrace <= 0 {
		c.ExpiryGrace = 5 * time.Minute
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 100
	}
}

// Storage implements the storage.Storage interface using Redis
type Storage struct {
	storage.Notifiers

	client        redis.UniversalClient
	ownsClient    bool
	keyPrefix     string
	grace         time.Duration
	sweepBatch    int64
	sweepInterval time.Duration
	now           func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// storedItem represents the structure stored in Redis
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a new Redis-based storage instance.
func New(cfg Config) (*Storage, error) {
	cfg.applyDefaults()

	s := &Storage{
		client:        cfg.Client,
		keyPrefix:     cfg.KeyPrefix,
		grace:         cfg.ExpiryGrace,
		sweepBatch:    cfg.SweepBatch,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		done:          make(chan struct{}),
	}
	if s.client == nil {
		cl := redis.NewClient(&redis.Options{Addr: cfg.Addr})
		if err := cl.Ping(context.Background()).Err(); err != nil {
			_ = cl.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s.client = cl
		s.ownsClient = true
	}

	if s.sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}
	return s, nil
}

// NewFromEnv builds a Storage using envdecode to populate Config.
func NewFromEnv() (*Storage, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis storage config: %w", err)
	}
	return New(cfg)
}

// --- Key helpers ---

func (s *Storage) dataKey(partition, key string) string {
	return s.keyPrefix + "p:" + partition + ":" + key
}
func (s *Storage) indexKey(partition string) string { return s.keyPrefix + "x:" + partition }
func (s *Storage) partitionsKey() string             { return s.keyPrefix + "partitions" }

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

// Get retrieves the item stored under key within partition
func (s *Storage) Get(ctx context.Context, partition, key string) (*storage.Item, error) {
	if err := storage.ValidateKey(partition, key); err != nil {
		return nil, err
	}

	redisKey := s.dataKey(partition, key)
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Key doesn't exist
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}
	return decodeItem(raw)
}

// Set stores data under key within partition. Items whose expiry plus the
// configured grace already lies in the past are deleted instead of written.
func (s *Storage) Set(ctx context.Context, partition, key string, data []byte, opts ...storage.Option) error {
	if err := storage.ValidateKey(partition, key); err != nil {
		return err
	}

	now := s.now()
	item := storedItem{
		Data:      data,
		CreatedAt: now.UTC(),
		ExpiresAt: storage.ApplyOptions(opts...).Expiry(now),
	}

	redisKey := s.dataKey(partition, key)
	var redisTTL time.Duration
	if item.ExpiresAt != nil {
		redisTTL = item.ExpiresAt.Add(s.grace).Sub(now)
		if redisTTL <= 0 {
			_, err := s.Delete(ctx, partition, key)
			return err
		}
	}

	itemData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKey, itemData, redisTTL)
		if item.ExpiresAt != nil {
			pipe.ZAdd(ctx, s.indexKey(partition), redis.Z{Score: score(*item.ExpiresAt), Member: key})
			pipe.SAdd(ctx, s.partitionsKey(), partition)
		} else {
			pipe.ZRem(ctx, s.indexKey(partition), key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

// Delete atomically removes the item and returns it. GETDEL guarantees a
// single winner among concurrent callers.
func (s *Storage) Delete(ctx context.Context, partition, key string) (*storage.Item, error) {
	if err := storage.ValidateKey(partition, key); err != nil {
		return nil, err
	}

	redisKey := s.dataKey(partition, key)
	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.GetDel(ctx, redisKey)
		pipe.ZRem(ctx, s.indexKey(partition), key)
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to delete key %s: %w", redisKey, err)
	}

	raw, err := get.Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to delete key %s: %w", redisKey, err)
	}
	return decodeItem(raw)
}

// Sweep reports items whose expiry has passed. With a registered EvictionFunc
// each expired item is reported and left for its owner to delete; otherwise it
// is deleted here. Index members whose data key already vanished are pruned.
func (s *Storage) Sweep(ctx context.Context) error {
	partitions, err := s.client.SMembers(ctx, s.partitionsKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}

	max := strconv.FormatFloat(score(s.now()), 'f', 0, 64)
	for _, partition := range partitions {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx := s.indexKey(partition)
		keys, err := s.client.ZRangeByScore(ctx, idx, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   max,
			Count: s.sweepBatch,
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to scan expiry index %s: %w", idx, err)
		}

		notify := s.Lookup(partition)
		for _, key := range keys {
			if notify == nil {
				if _, err := s.Delete(ctx, partition, key); err != nil {
					return err
				}
				continue
			}

			n, err := s.client.Exists(ctx, s.dataKey(partition, key)).Result()
			if err != nil {
				return fmt.Errorf("failed to check key %s: %w", key, err)
			}
			if n == 0 {
				s.client.ZRem(ctx, idx, key)
				continue
			}
			notify(storage.Eviction{Partition: partition, Key: key})
		}

		if card, err := s.client.ZCard(ctx, idx).Result(); err == nil && card == 0 {
			s.client.SRem(ctx, s.partitionsKey(), partition)
		}
	}
	return nil
}

// Close stops the background sweep and closes the client if it was dialed by New.
func (s *Storage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		if s.ownsClient {
			err = s.client.Close()
		}
	})
	return err
}

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

func decodeItem(raw []byte) (*storage.Item, error) {
	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	return &storage.Item{
		Data:      item.Data,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
	}, nil
}

// Compile-time interface checks
var (
	_ storage.Storage          = (*Storage)(nil)
	_ storage.EvictionNotifier = (*Storage)(nil)
	_ storage.Sweeper          = (*Storage)(nil)
)
