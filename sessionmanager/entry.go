package sessionmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/idp-sessions-go/events"
	"github.com/ggoodman/idp-sessions-go/sessions"
	"github.com/ggoodman/idp-sessions-go/storage"
)

var errMissingExpiry = errors.New("stored session has no expiry")

// entry associates a session with its absolute expiry. owner is a handle back
// to the manager that loaded it, not ownership: the store owns the entry.
type entry struct {
	session   *sessions.Session
	expiresAt time.Time
	owner     *Manager
}

func (e *entry) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// onExpire runs the same destroy path as an explicit logout. The caller must
// hold the id lock.
func (e *entry) onExpire(ctx context.Context, reason events.Reason) error {
	return e.owner.destroyLocked(ctx, e.session.ID(), reason)
}

func (e *entry) encode() ([]byte, storage.Option, error) {
	data, err := sessions.Marshal(e.session)
	if err != nil {
		return nil, nil, err
	}
	return data, storage.WithExpiresAt(e.expiresAt), nil
}

func (m *Manager) decodeEntry(item *storage.Item) (*entry, error) {
	if item.ExpiresAt == nil {
		return nil, errMissingExpiry
	}
	s, err := sessions.Unmarshal(item.Data)
	if err != nil {
		return nil, fmt.Errorf("decode stored session: %w", err)
	}
	return &entry{session: s, expiresAt: *item.ExpiresAt, owner: m}, nil
}
