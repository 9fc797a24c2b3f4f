package live

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/txn2/karaoke-live/pkg/session"
)

// Snapshot is the in-memory view of the active session: its queue, the
// guests known to it and the moderator's running flag. The session itself is
// immutable; everything else is guarded by the snapshot's own mutex.
type Snapshot struct {
	session session.Session

	mu      sync.RWMutex
	lips    []session.Lip
	guests  map[string]struct{}
	running bool
}

// NewSnapshot builds a snapshot from a session and its lips. The guest set is
// derived from the lips.
func NewSnapshot(s session.Session, lips []session.Lip) *Snapshot {
	snap := &Snapshot{
		session: s,
		guests:  make(map[string]struct{}),
		running: s.IsRunning,
	}
	snap.setLips(lips)
	return snap
}

// ID returns the session id.
func (s *Snapshot) ID() int64 {
	return s.session.ID
}

// GUID returns the public session handle.
func (s *Snapshot) GUID() string {
	return s.session.GUID
}

// Session returns the session with IsRunning reflecting the snapshot.
func (s *Snapshot) Session() session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.session
	out.IsRunning = s.running
	return out
}

// Lips returns a copy of the queue.
func (s *Snapshot) Lips() []session.Lip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]session.Lip(nil), s.lips...)
}

// GuestLips returns the lips submitted by guestID.
func (s *Snapshot) GuestLips(guestID string) []session.Lip {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []session.Lip{}
	for _, l := range s.lips {
		if l.GuestID == guestID {
			out = append(out, l)
		}
	}
	return out
}

// Guests returns the known guest ids in sorted order.
func (s *Snapshot) Guests() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.guests))
	for id := range s.guests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasGuest reports whether id belongs to the session.
func (s *Snapshot) HasGuest(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.guests[id]
	return ok
}

// AddGuest adds id to the guest set.
func (s *Snapshot) AddGuest(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guests[id] = struct{}{}
}

// Running reports the moderator's running flag.
func (s *Snapshot) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SetRunning sets the running flag and reports whether it changed.
func (s *Snapshot) SetRunning(running bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.running != running
	s.running = running
	return changed
}

// ReplaceLips installs a freshly loaded queue. Guests owning any of the lips
// join the guest set; existing guests are kept.
func (s *Snapshot) ReplaceLips(lips []session.Lip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLips(lips)
}

func (s *Snapshot) setLips(lips []session.Lip) {
	s.lips = append(s.lips[:0:0], lips...)
	session.SortLips(s.lips)
	for _, id := range session.GuestIDs(lips) {
		s.guests[id] = struct{}{}
	}
}

// State holds the current snapshot. A nil snapshot means no session is active.
type State struct {
	p atomic.Pointer[Snapshot]
}

// NewState creates an empty state.
func NewState() *State {
	return &State{}
}

// Load returns the current snapshot, or nil.
func (st *State) Load() *Snapshot {
	return st.p.Load()
}

// Swap installs snap and returns the previous snapshot.
func (st *State) Swap(snap *Snapshot) *Snapshot {
	return st.p.Swap(snap)
}

// Clear removes the current snapshot and returns it.
func (st *State) Clear() *Snapshot {
	return st.p.Swap(nil)
}

// ClearIf removes the current snapshot when it belongs to session id and
// returns the removed snapshot, or nil.
func (st *State) ClearIf(id int64) *Snapshot {
	for {
		cur := st.p.Load()
		if cur == nil || cur.ID() != id {
			return nil
		}
		if st.p.CompareAndSwap(cur, nil) {
			return cur
		}
	}
}
