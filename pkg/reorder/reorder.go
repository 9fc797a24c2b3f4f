// Package reorder computes lane indices when a lip moves within or between
// status lanes. It is pure: callers load the lips, apply a Move, and persist
// the rows reported as changed.
//
// A lane is the set of a session's lips sharing one status. Lane indices are
// always the contiguous range 0..n-1. Apply refuses to operate on lanes that
// already break that rule instead of silently repairing them.
package reorder

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/txn2/karaoke-live/pkg/session"
)

// ErrLipNotFound is returned when the moving lip is not among the loaded lips.
var ErrLipNotFound = errors.New("lip not found")

// TransitionError reports a move the status lifecycle forbids.
type TransitionError struct {
	From session.Status
	To   session.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move lip from %s to %s", e.From, e.To)
}

// LaneError reports a lane whose indices are not the contiguous range 0..n-1.
type LaneError struct {
	Status  session.Status
	Indices []int
}

func (e *LaneError) Error() string {
	return fmt.Sprintf("lane %s is corrupt: indices %v", e.Status, e.Indices)
}

// Move describes a drag from one lane position to another.
//
// ToIndex is the position the lip occupies in the destination lane once the
// move is done. Out of range values are clamped: negative to 0, past the end
// to an append. FromStatus and FromIndex are what the client believed; the
// stored position of the lip is authoritative.
type Move struct {
	LipID      int64
	FromStatus session.Status
	FromIndex  int
	ToStatus   session.Status
	ToIndex    int
	Message    string
}

// Result is the outcome of Apply.
type Result struct {
	// Lip is the moving lip after the move.
	Lip session.Lip

	// Changed holds every lip whose stored row must be rewritten, the mover
	// included when it changed. It is empty for a move that is already settled.
	Changed []session.Lip

	// StatusChanged is true when the mover entered a new lane.
	StatusChanged bool

	// Stale is true when the client's FromStatus or FromIndex disagreed with
	// the stored position.
	Stale bool
}

// Apply moves m.LipID inside lips and returns the rows to persist.
// lips must contain at least every lip of the source and destination lanes
// for one session; other lanes are ignored.
func Apply(lips []session.Lip, m Move, now time.Time) (Result, error) {
	var mover *session.Lip
	for i := range lips {
		if lips[i].ID == m.LipID {
			mover = &lips[i]
			break
		}
	}
	if mover == nil {
		return Result{}, fmt.Errorf("moving lip %d: %w", m.LipID, ErrLipNotFound)
	}

	from := mover.Status
	to := m.ToStatus
	if to == "" {
		to = from
	}
	if err := CheckLanes(lips, from, to); err != nil {
		return Result{}, err
	}

	stale := (m.FromStatus != "" && m.FromStatus != from) || m.FromIndex != mover.LaneIndex

	// A repeated move finds the lip already in place.
	if from == to {
		pos := clamp(m.ToIndex, 0, NextIndex(lips, to)-1)
		if pos == mover.LaneIndex && (m.Message == "" || m.Message == mover.Message) {
			return Result{Lip: *mover, Stale: stale}, nil
		}
	}

	if !from.CanTransition(to) {
		return Result{}, &TransitionError{From: from, To: to}
	}

	res := Result{
		StatusChanged: from != to,
		Stale:         stale,
	}

	updated := make(map[int64]session.Lip)

	source := lane(lips, from, m.LipID)
	dest := source
	if from != to {
		dest = lane(lips, to, m.LipID)
	}

	pos := clamp(m.ToIndex, 0, len(dest))
	moved := *mover
	if from != to {
		moved.Enter(to, now)
	}
	moved.LaneIndex = pos
	if m.Message != "" {
		moved.Message = m.Message
	}

	dest = append(dest[:pos], append([]session.Lip{moved}, dest[pos:]...)...)
	renumber(dest, updated)
	if from != to {
		renumber(source, updated)
	}

	res.Lip = updated[m.LipID]
	for _, orig := range lips {
		u, ok := updated[orig.ID]
		if ok && !equalRow(orig, u) {
			res.Changed = append(res.Changed, u)
		}
	}
	return res, nil
}

// CheckLanes verifies every listed lane holds the contiguous, duplicate-free
// index range 0..n-1. Without statuses it checks every lane present in lips.
func CheckLanes(lips []session.Lip, statuses ...session.Status) error {
	if len(statuses) == 0 {
		statuses = session.Statuses
	}
	checked := make(map[session.Status]bool, len(statuses))
	for _, st := range statuses {
		if checked[st] {
			continue
		}
		checked[st] = true

		var indices []int
		for _, l := range lips {
			if l.Status == st {
				indices = append(indices, l.LaneIndex)
			}
		}
		sort.Ints(indices)
		for i, idx := range indices {
			if idx != i {
				return &LaneError{Status: st, Indices: indices}
			}
		}
	}
	return nil
}

// NextIndex returns the index that appends to the status lane.
func NextIndex(lips []session.Lip, status session.Status) int {
	n := 0
	for _, l := range lips {
		if l.Status == status {
			n++
		}
	}
	return n
}

// lane returns copies of the lips in status, ordered by index, without skip.
func lane(lips []session.Lip, status session.Status, skip int64) []session.Lip {
	var out []session.Lip
	for _, l := range lips {
		if l.Status == status && l.ID != skip {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LaneIndex < out[j].LaneIndex })
	return out
}

func renumber(lane []session.Lip, updated map[int64]session.Lip) {
	for i := range lane {
		lane[i].LaneIndex = i
		updated[lane[i].ID] = lane[i]
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func equalRow(a, b session.Lip) bool {
	return a.Status == b.Status &&
		a.LaneIndex == b.LaneIndex &&
		a.Message == b.Message &&
		equalTime(a.LiveAt, b.LiveAt) &&
		equalTime(a.DoneAt, b.DoneAt) &&
		equalTime(a.DeletedAt, b.DeletedAt)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
