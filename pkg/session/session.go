// Package session defines karaoke sessions, the queue items ("lips") attached
// to them, and the Store interface through which both are persisted.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store mutations that address a missing row.
var ErrNotFound = errors.New("not found")

// Session is a scheduled live event window with one ordered queue.
type Session struct {
	// ID is the internal identity. It is never shown on guest routes.
	ID int64 `json:"id"`

	// GUID is the public, unguessable handle handed to guests.
	GUID string `json:"guid"`

	// SetlistID selects the songs guests may pick from.
	SetlistID int64 `json:"setlist_id"`

	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// IsRunning is advisory moderator state. It lives only in the active
	// snapshot and is never persisted.
	IsRunning bool `json:"is_running"`

	Deleted bool `json:"deleted"`
}

// ActiveAt reports whether the session is live at t.
func (s *Session) ActiveAt(t time.Time) bool {
	return !s.Deleted && !t.Before(s.StartTime) && t.Before(s.EndTime)
}

// Validate checks the fields an operator must supply.
func (s *Session) Validate() error {
	if s.SetlistID <= 0 {
		return errors.New("setlist_id is required")
	}
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return errors.New("start_time and end_time are required")
	}
	if !s.StartTime.Before(s.EndTime) {
		return errors.New("start_time must be before end_time")
	}
	return nil
}

// LipFilter narrows ListLips. Zero values match everything.
type LipFilter struct {
	SessionID int64
	GuestID   string
	Statuses  []Status
}

// Store defines the persistence collaborator for sessions and lips.
type Store interface {
	// FindActiveSessions returns every non-deleted session whose window
	// contains now, most recent start first. More than one row is an anomaly
	// the caller resolves.
	FindActiveSessions(ctx context.Context, now time.Time) ([]Session, error)

	// ListSessions returns all non-deleted sessions, most recent start first.
	ListSessions(ctx context.Context) ([]Session, error)

	// GetSession retrieves a session by ID. Returns nil, nil if not found or deleted.
	GetSession(ctx context.Context, id int64) (*Session, error)

	// CreateSession persists s and assigns its ID.
	CreateSession(ctx context.Context, s *Session) error

	// UpdateSession replaces the editable fields of s. Returns ErrNotFound
	// when no live row matches.
	UpdateSession(ctx context.Context, s *Session) error

	// DeleteSession soft-deletes a session.
	DeleteSession(ctx context.Context, id int64) error

	// ListLips returns lips matching filter ordered by status, lane index and id.
	ListLips(ctx context.Context, filter LipFilter) ([]Lip, error)

	// GetLip retrieves a lip by ID. Returns nil, nil if not found.
	GetLip(ctx context.Context, id int64) (*Lip, error)

	// CreateLip persists l and assigns its ID.
	CreateLip(ctx context.Context, l *Lip) error

	// UpdateLips writes every lip in one atomic step: either all rows are
	// updated or none are.
	UpdateLips(ctx context.Context, lips []Lip) error

	// Close releases resources.
	Close() error
}
