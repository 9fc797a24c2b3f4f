package live

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/txn2/karaoke-live/pkg/ratelimit"
	"github.com/txn2/karaoke-live/pkg/registry"
	"github.com/txn2/karaoke-live/pkg/reorder"
	"github.com/txn2/karaoke-live/pkg/repertoire"
	"github.com/txn2/karaoke-live/pkg/session"
)

// MessageDeletedByGuest is stored on lips a guest withdraws.
const MessageDeletedByGuest = "deleted by guest"

// GuestView is returned to a guest joining the active session.
type GuestView struct {
	Session PublicSession     `json:"session"`
	GuestID string            `json:"guest_id"`
	Songs   []repertoire.Song `json:"songs"`
	Lips    []session.Lip     `json:"lips"`
}

// Submission is a guest's request to perform a song.
type Submission struct {
	SessionGUID string
	GuestID     string
	SongID      int64
	GuestName   string
	ClientIP    string
}

// Withdrawal is a guest's request to drop one of their lips.
type Withdrawal struct {
	SessionGUID string
	GuestID     string
	LipID       int64
	ClientIP    string
}

// GuestJoin admits a guest to the active session. An absent or unknown guest
// id is replaced by a freshly minted one.
func (s *Service) GuestJoin(ctx context.Context, sessionGUID, guestID string) (*GuestView, error) {
	snap, err := s.activeFor(sessionGUID)
	if err != nil {
		return nil, err
	}

	if guestID == "" || !snap.HasGuest(guestID) {
		guestID = uuid.NewString()
		snap.AddGuest(guestID)
		s.logger.Debug("guest joined", "session_id", snap.ID(), "guest_id", guestID)
	}

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	_, songs, err := repertoire.SetlistSongs(sctx, s.repertoire, snap.Session().SetlistID)
	if err != nil {
		return nil, s.storageError("setlist_songs", err)
	}

	return &GuestView{
		Session: Public(snap.Session()),
		GuestID: guestID,
		Songs:   songs,
		Lips:    snap.GuestLips(guestID),
	}, nil
}

// GuestSubmit appends an idle lip for the guest and notifies the boss.
func (s *Service) GuestSubmit(ctx context.Context, sub Submission) (*session.Lip, error) {
	lip, err := s.guestSubmit(ctx, sub)
	s.metrics.LipOperation("submit", outcome(err))
	return lip, err
}

func (s *Service) guestSubmit(ctx context.Context, sub Submission) (*session.Lip, error) {
	snap, err := s.gateGuest(ctx, sub.SessionGUID, sub.GuestID, sub.ClientIP)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(sub.GuestName)
	if name == "" {
		return nil, invalidArgument("guest name is required")
	}
	if err := s.checkSong(ctx, snap.Session().SetlistID, sub.SongID); err != nil {
		return nil, err
	}

	lip := &session.Lip{
		SessionID: snap.ID(),
		SongID:    sub.SongID,
		GuestID:   sub.GuestID,
		GuestName: name,
		Status:    session.StatusIdle,
	}
	if err := s.appendLip(ctx, lip, true); err != nil {
		return nil, err
	}
	return lip, nil
}

// appendLip adds lip at the end of the idle lane of its session under the
// session lock. When limit is set the guest's pending lips are capped.
func (s *Service) appendLip(ctx context.Context, lip *session.Lip, limit bool) error {
	announce, err := s.insertLip(ctx, lip, limit)
	if err != nil {
		return err
	}
	if announce {
		s.broadcast(registry.ToRole(registry.RoleBoss), registry.Event{Type: EventLipAdded, Payload: *lip})
	}
	return nil
}

// insertLip stores lip at the end of the idle lane under the session lock.
// It reports whether the session is live so the caller can announce the lip
// once the lock is released.
func (s *Service) insertLip(ctx context.Context, lip *session.Lip, limit bool) (bool, error) {
	unlock := s.locks.Lock(lip.SessionID)
	defer unlock()

	lips, err := s.loadLips(ctx, lip.SessionID)
	if err != nil {
		return false, err
	}
	if err := reorder.CheckLanes(lips, session.StatusIdle); err != nil {
		return false, s.invariantViolation(lip.SessionID, err)
	}

	if limit {
		pending := 0
		for i := range lips {
			if lips[i].GuestID == lip.GuestID && lips[i].Pending() {
				pending++
			}
		}
		if pending >= s.maxPending {
			return false, ErrGuestQueueLimit
		}
	}

	lip.Status = session.StatusIdle
	lip.LaneIndex = reorder.NextIndex(lips, session.StatusIdle)
	lip.CreatedAt = s.now()

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	if err := s.store.CreateLip(sctx, lip); err != nil {
		return false, s.storageError("create_lip", err)
	}

	s.refresh(lip.SessionID, append(lips, *lip))
	return s.isActive(lip.SessionID), nil
}

// GuestWithdraw moves one of the guest's lips to the deleted lane and tells
// the boss.
func (s *Service) GuestWithdraw(ctx context.Context, w Withdrawal) (*session.Lip, error) {
	lip, err := s.guestWithdraw(ctx, w)
	s.metrics.LipOperation("withdraw", outcome(err))
	return lip, err
}

func (s *Service) guestWithdraw(ctx context.Context, w Withdrawal) (*session.Lip, error) {
	snap, err := s.gateGuest(ctx, w.SessionGUID, w.GuestID, w.ClientIP)
	if err != nil {
		return nil, err
	}

	res, err := s.remove(ctx, snap.ID(), w.LipID, MessageDeletedByGuest, func(l *session.Lip) error {
		if l.GuestID != w.GuestID {
			return ErrUnknownGuest
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.StatusChanged {
		s.broadcast(registry.ToRole(registry.RoleBoss), registry.Event{Type: EventLipRemoved, Payload: res.Lip})
	}
	return &res.Lip, nil
}

// activeFor returns the active snapshot when its GUID is sessionGUID.
func (s *Service) activeFor(sessionGUID string) (*Snapshot, error) {
	snap, err := s.active()
	if err != nil {
		return nil, err
	}
	if snap.GUID() != sessionGUID {
		return nil, ErrSessionGUIDMismatch
	}
	return snap, nil
}

// gateGuest runs the checks every guest mutation passes in order: active
// session, matching GUID, rate limit, known guest.
func (s *Service) gateGuest(ctx context.Context, sessionGUID, guestID, clientIP string) (*Snapshot, error) {
	snap, err := s.activeFor(sessionGUID)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, ratelimit.Keys(clientIP, guestID)...)
		if err != nil {
			return nil, s.storageError("rate_limit", err)
		}
		if !ok {
			s.metrics.RateLimited()
			return nil, ErrRateLimited
		}
	}

	if guestID == "" || !snap.HasGuest(guestID) {
		return nil, ErrUnknownGuest
	}
	return snap, nil
}

// checkSong verifies songID belongs to the setlist.
func (s *Service) checkSong(ctx context.Context, setlistID, songID int64) error {
	if songID <= 0 {
		return invalidArgument("song_id is required")
	}
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	setlist, err := s.repertoire.GetSetlist(sctx, setlistID)
	if err != nil {
		return s.storageError("get_setlist", err)
	}
	if setlist == nil || !setlist.Contains(songID) {
		return invalidArgument("song is not part of the session setlist")
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}
