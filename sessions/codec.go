package sessions

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"time"
)

// codecVersion is bumped on incompatible document changes.
const codecVersion = 1

type storedMethod struct {
	Method   string        `json:"method"`
	Instant  time.Time     `json:"instant"`
	Lifetime time.Duration `json:"lifetime,omitempty"`
}

type storedService struct {
	EntityID     string    `json:"entity_id"`
	LoginInstant time.Time `json:"login_instant"`
	Method       string    `json:"method,omitempty"`
}

type storedSession struct {
	Version    int             `json:"v"`
	ID         string          `json:"id"`
	Secret     []byte          `json:"secret"`
	Timeout    time.Duration   `json:"timeout"`
	CreatedAt  time.Time       `json:"created_at"`
	Presenter  string          `json:"presenter,omitempty"`
	Principals []Principal     `json:"principals,omitempty"`
	Methods    []storedMethod  `json:"methods,omitempty"`
	Services   []storedService `json:"services,omitempty"`
}

// Marshal encodes s into the document persisted by storage backends.
func Marshal(s *Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("sessions: marshal nil session")
	}

	s.mu.RLock()
	doc := storedSession{
		Version:    codecVersion,
		ID:         s.id,
		Secret:     s.secret,
		Timeout:    s.timeout,
		CreatedAt:  s.createdAt,
		Principals: append([]Principal(nil), s.principals...),
	}
	for _, m := range s.methods {
		doc.Methods = append(doc.Methods, storedMethod{Method: m.Method, Instant: m.AuthenticationInstant, Lifetime: m.Lifetime})
	}
	for _, si := range s.services {
		ss := storedService{EntityID: si.EntityID, LoginInstant: si.LoginInstant}
		if si.AuthenticationMethod != nil {
			ss.Method = si.AuthenticationMethod.Method
		}
		doc.Services = append(doc.Services, ss)
	}
	s.mu.RUnlock()

	if s.presenter.IsValid() {
		doc.Presenter = s.presenter.String()
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("sessions: marshal %s: %w", s.id, err)
	}
	return data, nil
}

// Unmarshal decodes a document produced by Marshal. Service records are
// re-linked to the method records they reference.
func Unmarshal(data []byte) (*Session, error) {
	var doc storedSession
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("sessions: unmarshal: %w", err)
	}
	if doc.Version != codecVersion {
		return nil, fmt.Errorf("sessions: unsupported document version %d", doc.Version)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("sessions: document has no session id")
	}

	opts := []Option{WithCreatedAt(doc.CreatedAt), WithPrincipals(doc.Principals...)}
	if doc.Presenter != "" {
		addr, err := netip.ParseAddr(doc.Presenter)
		if err != nil {
			return nil, fmt.Errorf("sessions: presenter address: %w", err)
		}
		opts = append(opts, WithPresenter(addr))
	}

	s := New(doc.ID, doc.Secret, doc.Timeout, opts...)
	for _, m := range doc.Methods {
		s.methods[m.Method] = &AuthenticationMethodInformation{
			Method:                m.Method,
			AuthenticationInstant: m.Instant,
			Lifetime:              m.Lifetime,
		}
	}
	for _, ss := range doc.Services {
		s.services[ss.EntityID] = &ServiceInformation{
			EntityID:             ss.EntityID,
			LoginInstant:         ss.LoginInstant,
			AuthenticationMethod: s.methods[ss.Method],
		}
	}
	return s, nil
}
