package sessions

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/netip"
	"sync"
	"time"
)

// Session is the server-side record of one authenticated user. It is safe for
// concurrent use.
type Session struct {
	id        string
	secret    []byte
	timeout   time.Duration
	createdAt time.Time
	presenter netip.Addr

	mu         sync.RWMutex
	principals []Principal
	methods    map[string]*AuthenticationMethodInformation
	services   map[string]*ServiceInformation
}

// Option configures a Session at construction.
type Option func(*Session)

// WithCreatedAt sets the creation instant. Defaults to time.Now.
func WithCreatedAt(t time.Time) Option {
	return func(s *Session) { s.createdAt = t.UTC() }
}

// WithPresenter records the network address the subject authenticated from.
func WithPresenter(addr netip.Addr) Option {
	return func(s *Session) { s.presenter = addr }
}

// WithPrincipals seeds the subject's principal set.
func WithPrincipals(ps ...Principal) Option {
	return func(s *Session) { s.principals = append(s.principals, ps...) }
}

// New constructs a session. The secret is copied.
func New(id string, secret []byte, inactivityTimeout time.Duration, opts ...Option) *Session {
	s := &Session{
		id:        id,
		secret:    append([]byte(nil), secret...),
		timeout:   inactivityTimeout,
		createdAt: time.Now().UTC(),
		methods:   make(map[string]*AuthenticationMethodInformation),
		services:  make(map[string]*ServiceInformation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string { return s.id }

// Secret returns a copy of the secret bound to the session.
func (s *Session) Secret() []byte { return append([]byte(nil), s.secret...) }

func (s *Session) InactivityTimeout() time.Duration { return s.timeout }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// PresenterAddress is the address the subject authenticated from. It is the
// zero Addr when unknown.
func (s *Session) PresenterAddress() netip.Addr { return s.presenter }

// Principals returns a snapshot of the subject's principal set.
func (s *Session) Principals() []Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Principal(nil), s.principals...)
}

// AddPrincipal attaches an additional identity claim to the subject.
// Duplicate principals are ignored.
func (s *Session) AddPrincipal(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.principals {
		if existing == p {
			return
		}
	}
	s.principals = append(s.principals, p)
}

// PrincipalName derives the subject's name. A username-typed principal wins
// over any other type; otherwise any principal is used. Which one is chosen
// among several candidates of the same rank is unspecified. ok is false when
// the subject has no principals.
func (s *Session) PrincipalName() (name string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.principals {
		if p.Type == PrincipalTypeUsername {
			return p.String(), true
		}
	}
	if len(s.principals) > 0 {
		return s.principals[0].String(), true
	}
	return "", false
}

// AuthenticationMethods returns a snapshot keyed by method identifier.
func (s *Session) AuthenticationMethods() map[string]*AuthenticationMethodInformation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*AuthenticationMethodInformation, len(s.methods))
	for k, v := range s.methods {
		out[k] = v
	}
	return out
}

// AuthenticationMethod looks up a single method record.
func (s *Session) AuthenticationMethod(method string) (*AuthenticationMethodInformation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.methods[method]
	return info, ok
}

// AddAuthenticationMethod registers info under info.Method, replacing any
// earlier record for the same method.
func (s *Session) AddAuthenticationMethod(info *AuthenticationMethodInformation) {
	if info == nil {
		return
	}
	s.mu.Lock()
	s.methods[info.Method] = info
	s.mu.Unlock()
}

// ServicesInformation returns a snapshot keyed by service entity ID.
func (s *Session) ServicesInformation() map[string]*ServiceInformation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*ServiceInformation, len(s.services))
	for k, v := range s.services {
		out[k] = v
	}
	return out
}

// ServiceInformation looks up the login record for entityID.
func (s *Session) ServiceInformation(entityID string) (*ServiceInformation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.services[entityID]
	return info, ok
}

// AddServiceInformation registers a service login, replacing any earlier
// record for the same entity ID. When info references a method not yet known
// to the session, the method is registered too.
func (s *Session) AddServiceInformation(info *ServiceInformation) {
	if info == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := info.AuthenticationMethod; m != nil {
		if _, ok := s.methods[m.Method]; !ok {
			s.methods[m.Method] = m
		}
	}
	s.services[info.EntityID] = info
}

// RemoveServiceInformation forgets the login record for entityID, typically
// after the service acknowledged a logout.
func (s *Session) RemoveServiceInformation(entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.services[entityID]
	delete(s.services, entityID)
	return ok
}

// LogValue implements slog.LogValuer. The secret is never included.
func (s *Session) LogValue() slog.Value {
	name, _ := s.PrincipalName()
	attrs := []slog.Attr{
		slog.String("id", LogID(s.id)),
		slog.String("principal", name),
		slog.Time("created_at", s.createdAt),
	}
	if s.presenter.IsValid() {
		attrs = append(attrs, slog.String("presenter", s.presenter.String()))
	}
	return slog.GroupValue(attrs...)
}

// LogID returns a stable, non-reversible label for a session id. The id is a
// bearer credential, so logs and error messages carry this form instead.
func LogID(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}
