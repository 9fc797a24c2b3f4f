package live

import (
	"time"

	"github.com/txn2/karaoke-live/pkg/registry"
	"github.com/txn2/karaoke-live/pkg/session"
)

// Outbound event types.
const (
	EventSessionStarted  = "session.started"
	EventSessionEnded    = "session.ended"
	EventLipAdded        = "lip.added"
	EventLipUpdated      = "lip.updated"
	EventLipRemoved      = "lip.removed"
	EventSessionStatus   = "session.status"
	EventToolNext        = "tool.next"
	EventToolConnectAuto = "tool.connect_auto"
)

// PublicSession is the session as guests see it. The numeric id is omitted.
type PublicSession struct {
	GUID      string    `json:"guid"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	IsRunning bool      `json:"is_running"`
}

// Public converts a session into its guest view.
func Public(s session.Session) PublicSession {
	return PublicSession{
		GUID:      s.GUID,
		Title:     s.Title,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		IsRunning: s.IsRunning,
	}
}

// BossView is what the moderator receives on join and on session start.
type BossView struct {
	Session *session.Session `json:"session"`
	Lips    []session.Lip    `json:"lips"`
	Guests  int              `json:"guests"`
}

// StatusView is the running state pushed to the tool and the boss.
type StatusView struct {
	Active    bool   `json:"active"`
	SessionID int64  `json:"session_id,omitempty"`
	IsRunning bool   `json:"is_running"`
	Address   string `json:"auto_address,omitempty"`
}

// EndedView identifies the session that ended.
type EndedView struct {
	GUID string `json:"guid"`
}

// NewBossView builds the moderator view of snap. A nil snap yields an empty view.
func NewBossView(snap *Snapshot) BossView {
	if snap == nil {
		return BossView{Lips: []session.Lip{}}
	}
	s := snap.Session()
	return BossView{
		Session: &s,
		Lips:    snap.Lips(),
		Guests:  len(snap.Guests()),
	}
}

// AnnounceStarted tells the boss and every guest that snap's session started.
// It returns the number of deliveries.
func AnnounceStarted(b registry.Broadcaster, snap *Snapshot) int {
	n := b.Broadcast(registry.ToRole(registry.RoleBoss), registry.Event{
		Type:    EventSessionStarted,
		Payload: NewBossView(snap),
	})
	n += b.Broadcast(registry.ToRole(registry.RoleGuest), registry.Event{
		Type:    EventSessionStarted,
		Payload: Public(snap.Session()),
	})
	return n
}

// AnnounceEnded tells the boss and every guest that s ended.
func AnnounceEnded(b registry.Broadcaster, s session.Session) int {
	ev := registry.Event{Type: EventSessionEnded, Payload: EndedView{GUID: s.GUID}}
	n := b.Broadcast(registry.ToRole(registry.RoleBoss), ev)
	n += b.Broadcast(registry.ToRole(registry.RoleGuest), ev)
	return n
}
