package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ggoodman/idp-sessions-go/internal/logging"
	"github.com/ggoodman/idp-sessions-go/sessions"
)

// ErrDispatcherClosed indicates the dispatcher is closed.
var ErrDispatcherClosed = errors.New("events: dispatcher closed")

// DefaultQueueSize bounds the number of undelivered events.
const DefaultQueueSize = 256

type queued struct {
	ctx     context.Context
	ev      Event
	barrier chan struct{}
}

type subscription struct {
	id string
	l  Listener
}

// Dispatcher is an asynchronous in-process Publisher. Events are queued and
// delivered by a single goroutine in publication order. A failing or
// panicking listener is logged and skipped; it never affects other listeners
// or the publisher.
type Dispatcher struct {
	log   *slog.Logger
	queue chan queued

	// closeMu guards closed against concurrent Publish; Publish holds the
	// read side while enqueuing so Close cannot close the channel under it.
	closeMu sync.RWMutex
	closed  bool
	stopped chan struct{}

	subsMu sync.RWMutex
	subs   []subscription
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherConfig)

type dispatcherConfig struct {
	queueSize int
	log       *slog.Logger
}

// WithQueueSize sets the queue capacity. Publish blocks once it is full.
func WithQueueSize(n int) DispatcherOption {
	return func(c *dispatcherConfig) { c.queueSize = n }
}

// WithLogger sets the logger used to report listener failures.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(c *dispatcherConfig) { c.log = l }
}

// NewDispatcher starts a dispatcher. Callers must Close it to stop the
// delivery goroutine.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	cfg := dispatcherConfig{queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.queueSize <= 0 {
		cfg.queueSize = DefaultQueueSize
	}
	if cfg.log == nil {
		cfg.log = logging.NewNop()
	}

	d := &Dispatcher{
		log:     cfg.log.With(slog.String("component", "events.dispatcher")),
		queue:   make(chan queued, cfg.queueSize),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

// Subscribe registers l for all subsequently delivered events. The returned
// function removes the subscription; it is safe to call more than once.
func (d *Dispatcher) Subscribe(l Listener) (unsubscribe func()) {
	id := uuid.NewString()
	d.subsMu.Lock()
	d.subs = append(d.subs, subscription{id: id, l: l})
	d.subsMu.Unlock()

	return func() {
		d.subsMu.Lock()
		defer d.subsMu.Unlock()
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish enqueues ev. Context values are carried to listeners but its
// cancellation is not: delivery happens after Publish returns.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	return d.enqueue(ctx, queued{ctx: context.WithoutCancel(ctx), ev: ev})
}

// Flush blocks until every event published before the call was delivered.
func (d *Dispatcher) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := d.enqueue(ctx, queued{barrier: barrier}); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, q queued) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- q:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits until the queued ones are delivered
// or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeMu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.closeMu.Unlock()

	select {
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for q := range d.queue {
		if q.barrier != nil {
			close(q.barrier)
			continue
		}
		d.deliver(q.ctx, q.ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	d.subsMu.RLock()
	subs := append([]subscription(nil), d.subs...)
	d.subsMu.RUnlock()

	for _, s := range subs {
		if err := d.safeHandle(ctx, s.l, ev); err != nil {
			d.log.ErrorContext(ctx, "events.listener.fail",
				slog.String("event_id", ev.ID),
				slog.String("type", string(ev.Type)),
				slog.String("reason", string(ev.Reason)),
				slog.String("session", sessions.LogID(ev.SessionID())),
				slog.String("err", err.Error()))
		}
	}
}

func (d *Dispatcher) safeHandle(ctx context.Context, l Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l.HandleSessionEvent(ctx, ev)
}

var _ Publisher = (*Dispatcher)(nil)
