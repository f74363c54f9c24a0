// Package session models the gateway's single-admission client session: an
// (id, user id, verified claims) triple, with a single-slot admission gate
// owned by the Edge Server.
//
// It is intended for internal use by gatewayd only.
package session

import (
	"errors"

	"github.com/google/uuid"
)

// ErrAlreadyAdmitted is returned by Slot.Admit when a session is already
// active.
var ErrAlreadyAdmitted = errors.New("session: another client is already admitted")

// Session is an admitted client's (id, user, claims) triple.
type Session struct {
	ID     string
	UserID string
	Claims map[string]any
}

// New creates a Session for a verified user with a fresh random ID.
func New(userID string, claims map[string]any) Session {
	return Session{
		ID:     uuid.NewString(),
		UserID: userID,
		Claims: claims,
	}
}

// Slot is the single-writer admission gate: at most one Session may be
// admitted at a time. It is not safe for concurrent use — the Edge Server
// is the sole owner and mutator and serializes every call under its own
// mutex.
type Slot struct {
	current *Session
}

// Admit records s as the admitted session. It fails if a session is already
// admitted.
func (s *Slot) Admit(sess Session) error {
	if s.current != nil {
		return ErrAlreadyAdmitted
	}
	s.current = &sess
	return nil
}

// Active reports the currently admitted session, if any.
func (s *Slot) Active() (Session, bool) {
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// Release clears the admission slot if id matches the currently admitted
// session. It reports whether a session was actually cleared, so callers
// can tell a stale disconnect (of a session that already lost admission)
// from one that freed the slot.
func (s *Slot) Release(id string) bool {
	if s.current == nil || s.current.ID != id {
		return false
	}
	s.current = nil
	return true
}
