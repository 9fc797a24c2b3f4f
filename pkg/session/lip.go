package session

import (
	"fmt"
	"sort"
	"time"
)

// Status is the lifecycle state of a lip. Lips sharing a status form a lane.
type Status string

// Lip statuses.
const (
	StatusIdle    Status = "idle"
	StatusStaged  Status = "staged"
	StatusLive    Status = "live"
	StatusDone    Status = "done"
	StatusDeleted Status = "deleted"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusIdle, StatusStaged, StatusLive, StatusDone, StatusDeleted}

// PendingStatuses are the non-terminal statuses counted against a guest's limit.
var PendingStatuses = []Status{StatusIdle, StatusStaged, StatusLive}

// next maps each non-terminal status to its single forward step.
var next = map[Status]Status{
	StatusIdle:   StatusStaged,
	StatusStaged: StatusLive,
	StatusLive:   StatusDone,
}

// ParseStatus converts s into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusDeleted
}

// CanTransition reports whether a lip in status s may move to to.
// Staying in the same lane is a reorder and is allowed for any non-terminal
// lane. Deletion may happen from any non-terminal status.
func (s Status) CanTransition(to Status) bool {
	if s.Terminal() {
		return false
	}
	if s == to || to == StatusDeleted {
		return true
	}
	return next[s] == to
}

// Lip is one guest's request to perform a song.
type Lip struct {
	ID        int64      `json:"id"`
	SessionID int64      `json:"session_id"`
	SongID    int64      `json:"song_id"`
	GuestID   string     `json:"guest_id"`
	GuestName string     `json:"guest_name"`
	Status    Status     `json:"status"`
	LaneIndex int        `json:"lane_index"`
	Message   string     `json:"message,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	LiveAt    *time.Time `json:"live_at,omitempty"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Pending reports whether the lip still counts against its guest's limit.
func (l *Lip) Pending() bool {
	return !l.Status.Terminal()
}

// Enter sets the status and stamps the matching timestamp if it is unset.
func (l *Lip) Enter(status Status, now time.Time) {
	l.Status = status
	stamp := func(p **time.Time) {
		if *p == nil {
			t := now
			*p = &t
		}
	}
	switch status {
	case StatusLive:
		stamp(&l.LiveAt)
	case StatusDone:
		stamp(&l.DoneAt)
	case StatusDeleted:
		stamp(&l.DeletedAt)
	}
}

// SortLips orders lips by status lifecycle, then lane index, then id.
func SortLips(lips []Lip) {
	rank := make(map[Status]int, len(Statuses))
	for i, s := range Statuses {
		rank[s] = i
	}
	sort.SliceStable(lips, func(i, j int) bool {
		a, b := lips[i], lips[j]
		if a.Status != b.Status {
			return rank[a.Status] < rank[b.Status]
		}
		if a.LaneIndex != b.LaneIndex {
			return a.LaneIndex < b.LaneIndex
		}
		return a.ID < b.ID
	})
}

// GuestIDs returns the distinct guest ids across lips in first-seen order.
func GuestIDs(lips []Lip) []string {
	seen := make(map[string]struct{}, len(lips))
	ids := make([]string, 0, len(lips))
	for _, l := range lips {
		if l.GuestID == "" {
			continue
		}
		if _, ok := seen[l.GuestID]; ok {
			continue
		}
		seen[l.GuestID] = struct{}{}
		ids = append(ids, l.GuestID)
	}
	return ids
}
