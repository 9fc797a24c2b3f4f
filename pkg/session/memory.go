package session

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory maps. It is used when no
// database is configured and in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[int64]Session
	lips          map[int64]Lip
	nextSessionID int64
	nextLipID     int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]Session),
		lips:     make(map[int64]Lip),
	}
}

// FindActiveSessions returns every non-deleted session whose window contains now.
func (s *MemoryStore) FindActiveSessions(_ context.Context, now time.Time) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Session
	for _, sess := range s.sessions {
		if sess.ActiveAt(now) {
			result = append(result, sess)
		}
	}
	sortSessions(result)
	return result, nil
}

// ListSessions returns all non-deleted sessions, most recent start first.
func (s *MemoryStore) ListSessions(_ context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !sess.Deleted {
			result = append(result, sess)
		}
	}
	sortSessions(result)
	return result, nil
}

// GetSession retrieves a session by ID. Returns nil, nil if not found or deleted.
func (s *MemoryStore) GetSession(_ context.Context, id int64) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Deleted {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return &sess, nil
}

// CreateSession persists sess and assigns its ID.
func (s *MemoryStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSessionID++
	sess.ID = s.nextSessionID
	stored := *sess
	stored.IsRunning = false
	s.sessions[sess.ID] = stored
	return nil
}

// UpdateSession replaces the editable fields of sess.
func (s *MemoryStore) UpdateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[sess.ID]
	if !ok || cur.Deleted {
		return fmt.Errorf("updating session %d: %w", sess.ID, ErrNotFound)
	}
	cur.SetlistID = sess.SetlistID
	cur.Title = sess.Title
	cur.StartTime = sess.StartTime
	cur.EndTime = sess.EndTime
	s.sessions[sess.ID] = cur
	return nil
}

// DeleteSession soft-deletes a session.
func (s *MemoryStore) DeleteSession(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[id]
	if !ok || cur.Deleted {
		return fmt.Errorf("deleting session %d: %w", id, ErrNotFound)
	}
	cur.Deleted = true
	s.sessions[id] = cur
	return nil
}

// ListLips returns lips matching filter.
func (s *MemoryStore) ListLips(_ context.Context, filter LipFilter) ([]Lip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Lip
	for _, l := range s.lips {
		if filter.SessionID != 0 && l.SessionID != filter.SessionID {
			continue
		}
		if filter.GuestID != "" && l.GuestID != filter.GuestID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, l.Status) {
			continue
		}
		result = append(result, l)
	}
	SortLips(result)
	return result, nil
}

// GetLip retrieves a lip by ID. Returns nil, nil if not found.
func (s *MemoryStore) GetLip(_ context.Context, id int64) (*Lip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lips[id]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return &l, nil
}

// CreateLip persists l and assigns its ID.
func (s *MemoryStore) CreateLip(_ context.Context, l *Lip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[l.SessionID]; !ok {
		return fmt.Errorf("creating lip: session %d: %w", l.SessionID, ErrNotFound)
	}
	s.nextLipID++
	l.ID = s.nextLipID
	s.lips[l.ID] = *l
	return nil
}

// UpdateLips writes every lip or none.
func (s *MemoryStore) UpdateLips(_ context.Context, lips []Lip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range lips {
		if _, ok := s.lips[l.ID]; !ok {
			return fmt.Errorf("updating lip %d: %w", l.ID, ErrNotFound)
		}
	}
	for _, l := range lips {
		s.lips[l.ID] = l
	}
	return nil
}

// Close is a no-op for the memory store.
func (*MemoryStore) Close() error {
	return nil
}

// sortSessions orders by most recent start first, ties by highest id.
func sortSessions(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].StartTime.After(sessions[j].StartTime)
		}
		return sessions[i].ID > sessions[j].ID
	})
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
