package sessionmanager

import (
	"context"
	"log/slog"

	"github.com/ggoodman/idp-sessions-go/events"
	"github.com/ggoodman/idp-sessions-go/sessions"
	"github.com/ggoodman/idp-sessions-go/storage"
)

// notifyEviction is registered with the backend and never blocks. When the
// queue is full, a notice for an entry the backend already removed is kept
// on the pending list, since nothing else would publish its logout. A notice
// for an expired entry still in the store is dropped; lazy expiry on the next
// lookup catches it instead.
func (m *Manager) notifyEviction(ev storage.Eviction) {
	if ev.Partition != m.cfg.Partition {
		return
	}
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.evictions <- ev:
		return
	default:
	}

	if ev.Item != nil {
		m.pendingMu.Lock()
		m.pending = append(m.pending, ev)
		m.pendingMu.Unlock()
		select {
		case m.wake <- struct{}{}:
		default:
		}
		return
	}
	m.incCounter(MetricEvictionsDropped, nil)
	m.log.Warn("session.eviction.dropped", slog.String("session", sessions.LogID(ev.Key)))
}

func (m *Manager) evictionWorker() {
	defer m.wg.Done()
	ctx := context.Background()

	for {
		select {
		case ev := <-m.evictions:
			m.handleEviction(ctx, ev)
		case <-m.wake:
			m.drainPending(ctx)
		case <-m.done:
			for {
				select {
				case ev := <-m.evictions:
					m.handleEviction(ctx, ev)
				default:
					m.drainPending(ctx)
					return
				}
			}
		}
	}
}

func (m *Manager) drainPending(ctx context.Context) {
	m.pendingMu.Lock()
	pending := m.pending
	m.pending = nil
	m.pendingMu.Unlock()

	for _, ev := range pending {
		m.handleEviction(ctx, ev)
	}
}

func (m *Manager) handleEviction(ctx context.Context, ev storage.Eviction) {
	unlock := m.locks.lock(ev.Key)
	defer unlock()

	var err error
	if ev.Item != nil {
		err = m.handleRemoved(ctx, ev)
	} else {
		err = m.handleExpired(ctx, ev.Key)
	}
	if err != nil {
		m.log.ErrorContext(ctx, "session.eviction.fail", slog.String("session", sessions.LogID(ev.Key)), slog.String("err", err.Error()))
	}
}

// handleRemoved publishes the logout for an entry the backend already
// dropped. The backend was the single winner, so no Delete is attempted.
func (m *Manager) handleRemoved(ctx context.Context, ev storage.Eviction) error {
	reason := events.ReasonEvicted
	if ev.Item.ExpiredAt(m.now()) {
		reason = events.ReasonExpired
	}
	return m.finishDestroy(ctx, ev.Key, ev.Item, reason)
}

// handleExpired re-checks a reported entry before destroying it: it may have
// been touched or destroyed since the backend looked.
func (m *Manager) handleExpired(ctx context.Context, id string) error {
	e, err := m.loadLocked(ctx, "evict", id)
	if err != nil || e == nil {
		return err
	}
	if !e.isExpired(m.now()) {
		return nil
	}
	return e.onExpire(ctx, events.ReasonExpired)
}
