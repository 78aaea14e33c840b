// Package redisstream forwards session events onto a Redis stream so other
// processes (audit, single-logout fan-out) can consume them. Only a redacted
// Record is written: session secrets never leave the process.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/idp-sessions-go/events"
)

// Config for the stream forwarder. Defaults can be loaded via envdecode.
type Config struct {
	// Client is required.
	Client redis.UniversalClient

	// Stream key. ENV: IDP_EVENTS_STREAM
	Stream string `env:"IDP_EVENTS_STREAM,default=idp:session-events"`

	// MaxLen approximately caps the stream length; zero disables trimming.
	// ENV: IDP_EVENTS_STREAM_MAXLEN
	MaxLen int64 `env:"IDP_EVENTS_STREAM_MAXLEN,default=10000"`
}

// ConfigFromEnv decodes Config from the environment. Client is left nil.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode stream config: %w", err)
	}
	return cfg, nil
}

// Record is the wire form of an event.
type Record struct {
	// StreamID is the Redis entry id; set on records read back by Subscribe.
	StreamID string `json:"-"`

	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Reason     string    `json:"reason"`
	Partition  string    `json:"partition"`
	SessionID  string    `json:"session_id"`
	Principal  string    `json:"principal,omitempty"`
	Presenter  string    `json:"presenter,omitempty"`
	Services   []string  `json:"services,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordOf projects ev onto its wire form.
func RecordOf(ev events.Event) Record {
	rec := Record{
		ID:         ev.ID,
		Type:       string(ev.Type),
		Reason:     string(ev.Reason),
		Partition:  ev.Partition,
		SessionID:  ev.SessionID(),
		OccurredAt: ev.OccurredAt,
	}
	if s := ev.Session; s != nil {
		rec.Principal, _ = s.PrincipalName()
		if addr := s.PresenterAddress(); addr.IsValid() {
			rec.Presenter = addr.String()
		}
		for entityID := range s.ServicesInformation() {
			rec.Services = append(rec.Services, entityID)
		}
		sort.Strings(rec.Services)
	}
	return rec
}

// Forwarder publishes events to a Redis stream. It implements both
// events.Publisher and events.Listener, so it can stand in for the dispatcher
// or subscribe to one.
type Forwarder struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// New constructs a Forwarder.
func New(cfg Config) (*Forwarder, error) {
	if cfg.Client == nil {
		return nil, errors.New("redisstream: redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "idp:session-events"
	}
	return &Forwarder{client: cfg.Client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

// Publish appends ev to the stream.
func (f *Forwarder) Publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(RecordOf(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{Stream: f.stream, Values: map[string]interface{}{"d": data}}
	if f.maxLen > 0 {
		args.MaxLen = f.maxLen
		args.Approx = true
	}
	if err := f.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", f.stream, err)
	}
	return nil
}

// HandleSessionEvent implements events.Listener.
func (f *Forwarder) HandleSessionEvent(ctx context.Context, ev events.Event) error {
	return f.Publish(ctx, ev)
}

// Subscribe reads records appended after lastID ("" means only new ones) and
// hands them to handler until ctx is done or handler fails.
func (f *Forwarder) Subscribe(ctx context.Context, lastID string, handler func(context.Context, Record) error) error {
	start := lastID
	if start == "" {
		start = "$"
	} // start from next message

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		res, err := f.client.XRead(ctx, &redis.XReadArgs{Streams: []string{f.stream, start}, Count: 16, Block: 500 * time.Millisecond}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, stream := range res {
			for _, m := range stream.Messages {
				start = m.ID
				rec, err := decodeRecord(m)
				if err != nil {
					return err
				}
				if err := handler(ctx, rec); err != nil {
					return err
				}
			}
		}
	}
}

func decodeRecord(m redis.XMessage) (Record, error) {
	// Accept string or []byte payloads
	var payload []byte
	switch v := m.Values["d"].(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return Record{}, fmt.Errorf("stream entry %s: unexpected payload type %T", m.ID, v)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("stream entry %s: %w", m.ID, err)
	}
	rec.StreamID = m.ID
	return rec, nil
}

var (
	_ events.Publisher = (*Forwarder)(nil)
	_ events.Listener  = (*Forwarder)(nil)
)
