// Package events defines the login/logout notifications emitted over a
// session's lifetime and the contracts for publishing and consuming them.
//
// A session produces at most one login event followed by at most one logout
// event. The in-process Dispatcher delivers events asynchronously in FIFO
// order, so listeners observe login before logout for any given session.
package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ggoodman/idp-sessions-go/sessions"
)

// Type distinguishes login from logout notifications.
type Type string

const (
	TypeLogin  Type = "login"
	TypeLogout Type = "logout"
)

// Reason records why an event was emitted.
type Reason string

const (
	// ReasonAuthenticated accompanies every login event.
	ReasonAuthenticated Reason = "authenticated"
	// ReasonLogout is an explicit destroy by the caller.
	ReasonLogout Reason = "logout"
	// ReasonExpired is an inactivity timeout detected on read or by a sweep.
	ReasonExpired Reason = "expired"
	// ReasonEvicted is a removal forced by the storage backend, e.g. under
	// capacity pressure.
	ReasonEvicted Reason = "evicted"
)

// Event is a single session lifecycle notification.
type Event struct {
	ID         string
	Type       Type
	Reason     Reason
	Partition  string
	Session    *sessions.Session
	OccurredAt time.Time
}

// New stamps a fresh event with a sortable unique id.
func New(typ Type, reason Reason, partition string, s *sessions.Session, at time.Time) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       typ,
		Reason:     reason,
		Partition:  partition,
		Session:    s,
		OccurredAt: at.UTC(),
	}
}

// SessionID is a nil-safe accessor for the subject session's id.
func (e Event) SessionID() string {
	if e.Session == nil {
		return ""
	}
	return e.Session.ID()
}

// Publisher accepts events for delivery. Publish must not block on listener
// work; it may block for backpressure until ctx is done.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Listener consumes events. A returned error is logged by the dispatcher and
// never propagates back to the publisher.
type Listener interface {
	HandleSessionEvent(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event) error

func (f ListenerFunc) HandleSessionEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }
