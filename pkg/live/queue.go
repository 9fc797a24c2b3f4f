package live

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/txn2/karaoke-live/pkg/audit"
	"github.com/txn2/karaoke-live/pkg/registry"
	"github.com/txn2/karaoke-live/pkg/reorder"
	"github.com/txn2/karaoke-live/pkg/session"
)

// MessageDeletedByHost is stored on lips an operator deletes without a message.
const MessageDeletedByHost = "deleted by host"

// appendIndex clamps to the end of any lane.
const appendIndex = math.MaxInt32

// LipInput is an operator's request to add a lip on a guest's behalf.
type LipInput struct {
	SessionID int64  `json:"session_id"`
	SongID    int64  `json:"song_id"`
	GuestID   string `json:"guest_id"`
	GuestName string `json:"guest_name"`
}

// Move applies a moderator drag. The lip's guest receives lip.updated when
// the lip changed lanes.
func (s *Service) Move(ctx context.Context, m reorder.Move) (*reorder.Result, error) {
	start := s.now()
	ev := audit.NewEvent(audit.ActionLipMove).WithParameters(map[string]any{
		"from_status": string(m.FromStatus),
		"from_index":  m.FromIndex,
		"to_status":   string(m.ToStatus),
		"to_index":    m.ToIndex,
	})

	res, sessionID, err := s.move(ctx, m)
	ev.WithTarget(sessionID, m.LipID)
	s.metrics.ObserveReorder(s.now().Sub(start))
	s.metrics.LipOperation("move", outcome(err))
	s.record(ctx, ev, err, start)
	if err != nil {
		return nil, err
	}

	if res.Stale {
		s.logger.Debug("move from stale client position",
			"lip_id", m.LipID, "client_status", m.FromStatus, "client_index", m.FromIndex,
			"status", res.Lip.Status, "index", res.Lip.LaneIndex)
	}
	if res.StatusChanged && s.isActive(sessionID) {
		s.broadcast(registry.ToGuest(res.Lip.GuestID), registry.Event{Type: EventLipUpdated, Payload: res.Lip})
	}
	return &res, nil
}

func (s *Service) move(ctx context.Context, m reorder.Move) (reorder.Result, int64, error) {
	if m.ToStatus != "" {
		if _, err := session.ParseStatus(string(m.ToStatus)); err != nil {
			return reorder.Result{}, 0, invalidArgument(err.Error())
		}
	}
	lip, err := s.GetLip(ctx, m.LipID)
	if err != nil {
		return reorder.Result{}, 0, err
	}
	res, err := s.applyMove(ctx, lip.SessionID, m, nil)
	return res, lip.SessionID, err
}

// DeleteLip moves a lip into the deleted lane on an operator's behalf.
func (s *Service) DeleteLip(ctx context.Context, id int64, message string) (*session.Lip, error) {
	start := s.now()
	ev := audit.NewEvent(audit.ActionLipDelete).WithParameters(map[string]any{"message": message})

	lip, err := s.deleteLip(ctx, id, message)
	if lip != nil {
		ev.WithTarget(lip.SessionID, id)
	}
	s.metrics.LipOperation("delete", outcome(err))
	s.record(ctx, ev, err, start)
	return lip, err
}

func (s *Service) deleteLip(ctx context.Context, id int64, message string) (*session.Lip, error) {
	if strings.TrimSpace(message) == "" {
		message = MessageDeletedByHost
	}
	lip, err := s.GetLip(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.remove(ctx, lip.SessionID, id, message, nil)
	if err != nil {
		return nil, err
	}
	if res.StatusChanged && s.isActive(lip.SessionID) {
		s.broadcast(registry.ToGuest(res.Lip.GuestID), registry.Event{Type: EventLipUpdated, Payload: res.Lip})
		s.broadcast(registry.ToRole(registry.RoleBoss), registry.Event{Type: EventLipRemoved, Payload: res.Lip})
	}
	return &res.Lip, nil
}

// remove moves lipID to the end of the deleted lane.
func (s *Service) remove(ctx context.Context, sessionID, lipID int64, message string, check func(*session.Lip) error) (reorder.Result, error) {
	return s.applyMove(ctx, sessionID, reorder.Move{
		LipID:    lipID,
		ToStatus: session.StatusDeleted,
		ToIndex:  appendIndex,
		Message:  message,
	}, check)
}

// applyMove runs the reordering engine for one session under its lock and
// persists the changed rows in one batch. check, when set, vets the stored
// lip before anything moves.
func (s *Service) applyMove(ctx context.Context, sessionID int64, m reorder.Move, check func(*session.Lip) error) (reorder.Result, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	lips, err := s.loadLips(ctx, sessionID)
	if err != nil {
		return reorder.Result{}, err
	}

	var current *session.Lip
	for i := range lips {
		if lips[i].ID == m.LipID {
			current = &lips[i]
			break
		}
	}
	if current == nil {
		return reorder.Result{}, ErrNotFound
	}
	if check != nil {
		if err := check(current); err != nil {
			return reorder.Result{}, err
		}
	}
	if current.Status.Terminal() && current.Status == m.ToStatus {
		return reorder.Result{Lip: *current}, nil
	}

	res, err := reorder.Apply(lips, m, s.now())
	if err != nil {
		return reorder.Result{}, s.reorderError(sessionID, err)
	}
	if len(res.Changed) == 0 {
		return res, nil
	}

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	if err := s.store.UpdateLips(sctx, res.Changed); err != nil {
		return reorder.Result{}, s.storageError("update_lips", err)
	}

	s.refresh(sessionID, merge(lips, res.Changed))
	return res, nil
}

func (s *Service) reorderError(sessionID int64, err error) error {
	var (
		te *reorder.TransitionError
		le *reorder.LaneError
	)
	switch {
	case errors.Is(err, reorder.ErrLipNotFound):
		return ErrNotFound
	case errors.As(err, &te):
		return newError(CodeInvalidTransition, te.Error(), nil)
	case errors.As(err, &le):
		return s.invariantViolation(sessionID, err)
	default:
		return err
	}
}

func (s *Service) invariantViolation(sessionID int64, err error) error {
	s.logger.Error("queue invariant violated", "session_id", sessionID, "error", err)
	return newError(CodeInvariantViolation, "queue invariant violated", err)
}

// loadLips reads every lip of a session.
func (s *Service) loadLips(ctx context.Context, sessionID int64) ([]session.Lip, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	lips, err := s.store.ListLips(sctx, session.LipFilter{SessionID: sessionID})
	if err != nil {
		return nil, s.storageError("list_lips", err)
	}
	return lips, nil
}

// refresh installs lips on the snapshot when sessionID is active.
func (s *Service) refresh(sessionID int64, lips []session.Lip) {
	if snap := s.state.Load(); snap != nil && snap.ID() == sessionID {
		snap.ReplaceLips(lips)
	}
}

func (s *Service) isActive(sessionID int64) bool {
	snap := s.state.Load()
	return snap != nil && snap.ID() == sessionID
}

// merge returns lips with each changed row replaced.
func merge(lips, changed []session.Lip) []session.Lip {
	byID := make(map[int64]session.Lip, len(changed))
	for _, l := range changed {
		byID[l.ID] = l
	}
	out := make([]session.Lip, len(lips))
	for i, l := range lips {
		if c, ok := byID[l.ID]; ok {
			l = c
		}
		out[i] = l
	}
	return out
}

// GetLip returns a lip by id.
func (s *Service) GetLip(ctx context.Context, id int64) (*session.Lip, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	lip, err := s.store.GetLip(sctx, id)
	if err != nil {
		return nil, s.storageError("get_lip", err)
	}
	if lip == nil {
		return nil, ErrNotFound
	}
	return lip, nil
}

// ActiveLips returns the queue of the active session.
func (s *Service) ActiveLips() ([]session.Lip, error) {
	snap, err := s.active()
	if err != nil {
		return nil, err
	}
	return snap.Lips(), nil
}

// ListLips returns the lips of a session.
func (s *Service) ListLips(ctx context.Context, sessionID int64) ([]session.Lip, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.loadLips(ctx, sessionID)
}

// CreateLip adds an idle lip on a guest's behalf. The guest's pending limit
// does not apply. An empty guest id is minted.
func (s *Service) CreateLip(ctx context.Context, in LipInput) (*session.Lip, error) {
	start := s.now()
	ev := audit.NewEvent(audit.ActionLipCreate).WithParameters(map[string]any{
		"song_id":    in.SongID,
		"guest_name": in.GuestName,
	})

	lip, err := s.createLip(ctx, in)
	if lip != nil {
		ev.WithTarget(lip.SessionID, lip.ID)
	} else {
		ev.WithTarget(in.SessionID, 0)
	}
	s.metrics.LipOperation("create", outcome(err))
	s.record(ctx, ev, err, start)
	return lip, err
}

func (s *Service) createLip(ctx context.Context, in LipInput) (*session.Lip, error) {
	name := strings.TrimSpace(in.GuestName)
	if name == "" {
		return nil, invalidArgument("guest_name is required")
	}
	sess, err := s.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSong(ctx, sess.SetlistID, in.SongID); err != nil {
		return nil, err
	}

	guestID := in.GuestID
	if guestID == "" {
		guestID = uuid.NewString()
	}
	lip := &session.Lip{
		SessionID: sess.ID,
		SongID:    in.SongID,
		GuestID:   guestID,
		GuestName: name,
	}
	if err := s.appendLip(ctx, lip, false); err != nil {
		return nil, err
	}
	return lip, nil
}
