// Package sessionmanager creates, looks up and destroys identity-provider
// sessions held in a storage.Storage backend, and publishes a login event
// when a session is stored and a logout event when it is removed.
//
// Every session produces at most one logout event. All removals go through
// one destroy path guarded by an id-scoped lock, and the backend's atomic
// Delete decides which caller actually removed the entry.
package sessionmanager

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/ggoodman/idp-sessions-go/events"
	"github.com/ggoodman/idp-sessions-go/internal/logctx"
	"github.com/ggoodman/idp-sessions-go/internal/logging"
	"github.com/ggoodman/idp-sessions-go/sessions"
	"github.com/ggoodman/idp-sessions-go/storage"
)

// Manager orchestrates session lifecycle on top of a storage backend. It is
// safe for concurrent use.
type Manager struct {
	store   storage.Storage
	cfg     Config
	pub     events.Publisher
	log     *slog.Logger
	metrics MetricsSink
	now     func() time.Time
	locks   *idLocks

	evictions  chan storage.Eviction
	pendingMu  sync.Mutex
	pending    []storage.Eviction
	wake       chan struct{}
	unregister func()
	done       chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig replaces the default Config.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithPublisher sets where login and logout events go. Defaults to
// events.Discard.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.pub = p }
}

// WithLogger configures a logger for the Manager.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics enables instrumentation.
func WithMetrics(s MetricsSink) Option {
	return func(m *Manager) { m.metrics = s }
}

// WithClock overrides the time source used for creation and expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New constructs a Manager over store. When the store reports evictions, the
// manager registers itself for its partition and processes them on a
// background goroutine until Close. Several managers may share one store as
// long as their partitions differ.
func New(store storage.Storage, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("sessionmanager: storage is required")
	}

	m := &Manager{
		store: store,
		pub:   events.Discard,
		log:   logging.NewNop(),
		now:   time.Now,
		locks: newIDLocks(),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.cfg.validate(); err != nil {
		return nil, err
	}
	m.cfg.applyDefaults()
	if m.pub == nil {
		m.pub = events.Discard
	}
	m.log = m.log.With(slog.String("component", "sessionmanager"))

	m.evictions = make(chan storage.Eviction, m.cfg.EvictionQueueSize)
	if n, ok := store.(storage.EvictionNotifier); ok {
		m.unregister = n.NotifyEvictions(m.cfg.Partition, m.notifyEviction)
	}
	m.wg.Add(1)
	go m.evictionWorker()

	return m, nil
}

// Partition reports the storage partition this manager operates on.
func (m *Manager) Partition() string { return m.cfg.Partition }

// CreateSession stores a new session for an already authenticated principal
// and publishes a login event. The session is durably stored before the
// event is published and before CreateSession returns.
func (m *Manager) CreateSession(ctx context.Context, presenter netip.Addr, principalName string) (*sessions.Session, error) {
	if principalName == "" {
		return nil, ErrPrincipalRequired
	}
	if m.closed() {
		return nil, ErrClosed
	}

	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := randomBytes(m.cfg.SecretBytes)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	s := sessions.New(id, secret, m.cfg.InactivityTimeout,
		sessions.WithCreatedAt(now),
		sessions.WithPresenter(presenter),
		sessions.WithPrincipals(sessions.UsernamePrincipal(principalName)))
	e := &entry{session: s, expiresAt: now.Add(m.cfg.InactivityTimeout), owner: m}

	ctx = m.sessionContext(ctx, s)

	unlock := m.locks.lock(id)
	defer unlock()

	data, opt, err := e.encode()
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, m.cfg.Partition, id, data, opt); err != nil {
		return nil, &BackendError{Op: "create", ID: id, Err: err}
	}

	m.incCounter(MetricCreated, nil)
	m.log.InfoContext(ctx, "session.created", slog.Time("expires_at", e.expiresAt))
	m.publish(ctx, events.New(events.TypeLogin, events.ReasonAuthenticated, m.cfg.Partition, s, now))

	return s, nil
}

// GetSession returns the live session stored under id. Absent and expired
// sessions both yield ErrSessionNotFound; an expired one is destroyed first,
// publishing its logout event.
func (m *Manager) GetSession(ctx context.Context, id string) (*sessions.Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}

	unlock := m.locks.lock(id)
	defer unlock()

	e, err := m.loadLocked(ctx, "get", id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		m.incCounter(MetricLookups, map[string]string{"result": "miss"})
		return nil, ErrSessionNotFound
	}
	if e.isExpired(m.now()) {
		m.incCounter(MetricLookups, map[string]string{"result": "expired"})
		if err := e.onExpire(ctx, events.ReasonExpired); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}

	m.incCounter(MetricLookups, map[string]string{"result": "hit"})
	return e.session, nil
}

// DestroySession removes the session stored under id and publishes its
// logout event. Destroying an absent session is a no-op; of several
// concurrent destroys for one id exactly one publishes.
func (m *Manager) DestroySession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	unlock := m.locks.lock(id)
	defer unlock()

	return m.destroyLocked(ctx, id, events.ReasonLogout)
}

// SaveSession writes back the attribute maps of s, a copy obtained from
// GetSession, keeping the stored expiry. Authentication methods and service
// logins are merged into the stored session by key, so parallel requests
// saving their own copies do not lose each other's records. Removals and
// other edits that must see the current state go through UpdateSession.
//
// Only the attribute maps are written. s must carry the session's secret;
// a copy with a different secret yields ErrSessionMismatch.
func (m *Manager) SaveSession(ctx context.Context, s *sessions.Session) error {
	if s == nil || s.ID() == "" {
		return ErrSessionNotFound
	}
	id := s.ID()

	unlock := m.locks.lock(id)
	defer unlock()

	e, err := m.liveLocked(ctx, "save", id)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(e.session.Secret(), s.Secret()) != 1 {
		return ErrSessionMismatch
	}
	mergeAttributes(e.session, s)
	return m.storeLocked(ctx, "save", e)
}

// UpdateSession loads the live session under its lock, applies fn and stores
// the result, keeping the stored expiry. An error from fn aborts the write and
// is returned unchanged.
func (m *Manager) UpdateSession(ctx context.Context, id string, fn func(*sessions.Session) error) error {
	if id == "" {
		return ErrSessionNotFound
	}

	unlock := m.locks.lock(id)
	defer unlock()

	e, err := m.liveLocked(ctx, "update", id)
	if err != nil {
		return err
	}
	if err := fn(e.session); err != nil {
		return err
	}
	return m.storeLocked(ctx, "update", e)
}

// mergeAttributes copies the methods and service logins of src into dst. A
// record in src replaces the one dst holds under the same key.
func mergeAttributes(dst, src *sessions.Session) {
	for _, info := range src.AuthenticationMethods() {
		dst.AddAuthenticationMethod(info)
	}
	for _, info := range src.ServicesInformation() {
		dst.AddServiceInformation(info)
	}
}

// TouchSession extends the session's expiry to now plus its inactivity
// timeout.
func (m *Manager) TouchSession(ctx context.Context, id string) error {
	if id == "" {
		return ErrSessionNotFound
	}

	unlock := m.locks.lock(id)
	defer unlock()

	e, err := m.liveLocked(ctx, "touch", id)
	if err != nil {
		return err
	}
	e.expiresAt = m.now().UTC().Add(e.session.InactivityTimeout())
	return m.storeLocked(ctx, "touch", e)
}

// Close unregisters from the store and stops the eviction worker. Notices
// still queued are processed first unless ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		if m.unregister != nil {
			m.unregister()
		}
		close(m.done)
	})

	stopped := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// loadLocked reads and decodes the entry for id; nil means absent.
func (m *Manager) loadLocked(ctx context.Context, op, id string) (*entry, error) {
	item, err := m.store.Get(ctx, m.cfg.Partition, id)
	if err != nil {
		return nil, &BackendError{Op: op, ID: id, Err: err}
	}
	if item == nil {
		return nil, nil
	}
	e, err := m.decodeEntry(item)
	if err != nil {
		return nil, &BackendError{Op: op, ID: id, Err: err}
	}
	return e, nil
}

// liveLocked loads id and destroys it when expired, so callers only ever
// continue with a live entry.
func (m *Manager) liveLocked(ctx context.Context, op, id string) (*entry, error) {
	e, err := m.loadLocked(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrSessionNotFound
	}
	if e.isExpired(m.now()) {
		if err := e.onExpire(ctx, events.ReasonExpired); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (m *Manager) storeLocked(ctx context.Context, op string, e *entry) error {
	data, opt, err := e.encode()
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, m.cfg.Partition, e.session.ID(), data, opt); err != nil {
		return &BackendError{Op: op, ID: e.session.ID(), Err: err}
	}
	return nil
}

// destroyLocked is the single destroy path. The backend's atomic Delete
// decides the winner: only the caller that received the removed item
// publishes the logout event.
func (m *Manager) destroyLocked(ctx context.Context, id string, reason events.Reason) error {
	item, err := m.store.Delete(ctx, m.cfg.Partition, id)
	if err != nil {
		return &BackendError{Op: "destroy", ID: id, Err: err}
	}
	if item == nil {
		return nil
	}
	return m.finishDestroy(ctx, id, item, reason)
}

// finishDestroy publishes the logout event for an item this process removed.
func (m *Manager) finishDestroy(ctx context.Context, id string, item *storage.Item, reason events.Reason) error {
	e, err := m.decodeEntry(item)
	if err != nil {
		m.log.ErrorContext(ctx, "session.destroy.decode_fail", slog.String("session", sessions.LogID(id)), slog.String("err", err.Error()))
		return &BackendError{Op: "destroy", ID: id, Err: err}
	}

	now := m.now()
	ctx = m.sessionContext(ctx, e.session)
	tags := map[string]string{"reason": string(reason)}
	m.incCounter(MetricDestroyed, tags)
	m.observe(MetricLifetime, now.Sub(e.session.CreatedAt()).Seconds(), tags)
	m.log.InfoContext(ctx, "session.destroyed", slog.String("reason", string(reason)))

	m.publish(ctx, events.New(events.TypeLogout, reason, m.cfg.Partition, e.session, now))
	return nil
}

// publish hands ev to the publisher. A refused event is logged; the store
// mutation it describes already happened and stands.
func (m *Manager) publish(ctx context.Context, ev events.Event) {
	if err := m.pub.Publish(ctx, ev); err != nil {
		m.incCounter(MetricPublishFailed, map[string]string{"type": string(ev.Type)})
		m.log.ErrorContext(ctx, "session.event.publish_fail",
			slog.String("type", string(ev.Type)),
			slog.String("event_id", ev.ID),
			slog.String("err", err.Error()))
	}
}

func (m *Manager) sessionContext(ctx context.Context, s *sessions.Session) context.Context {
	sd := &logctx.SessionData{SessionID: sessions.LogID(s.ID()), Partition: m.cfg.Partition}
	sd.Principal, _ = s.PrincipalName()
	if addr := s.PresenterAddress(); addr.IsValid() {
		sd.Presenter = addr.String()
	}
	return logctx.WithSessionData(ctx, sd)
}
