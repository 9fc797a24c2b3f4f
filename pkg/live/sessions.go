package live

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/txn2/karaoke-live/pkg/audit"
	"github.com/txn2/karaoke-live/pkg/session"
)

// ListSessions returns every non-deleted session.
func (s *Service) ListSessions(ctx context.Context) ([]session.Session, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	sessions, err := s.store.ListSessions(sctx)
	if err != nil {
		return nil, s.storageError("list_sessions", err)
	}
	if snap := s.state.Load(); snap != nil {
		for i := range sessions {
			if sessions[i].ID == snap.ID() {
				sessions[i].IsRunning = snap.Running()
			}
		}
	}
	return sessions, nil
}

// GetSession returns a non-deleted session by id.
func (s *Service) GetSession(ctx context.Context, id int64) (*session.Session, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	sess, err := s.store.GetSession(sctx, id)
	if err != nil {
		return nil, s.storageError("get_session", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if snap := s.state.Load(); snap != nil && snap.ID() == sess.ID {
		sess.IsRunning = snap.Running()
	}
	return sess, nil
}

// CreateSession stores a new session with a freshly minted GUID.
func (s *Service) CreateSession(ctx context.Context, sess *session.Session) error {
	start := s.now()
	ev := audit.NewEvent(audit.ActionSessionCreate)

	err := s.createSession(ctx, sess)
	ev.WithTarget(sess.ID, 0).WithParameters(map[string]any{"title": sess.Title, "setlist_id": sess.SetlistID})
	s.record(ctx, ev, err, start)
	return err
}

func (s *Service) createSession(ctx context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return invalidArgument(err.Error())
	}
	sess.GUID = uuid.NewString()
	sess.IsRunning = false
	sess.Deleted = false

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	if err := s.store.CreateSession(sctx, sess); err != nil {
		return s.storageError("create_session", err)
	}
	if sess.ActiveAt(s.now()) {
		s.triggerResync()
	}
	return nil
}

// UpdateSession replaces a session's editable fields. The GUID is kept.
// Editing the active session ends it for every participant until the next
// poll picks it up again.
func (s *Service) UpdateSession(ctx context.Context, sess *session.Session) error {
	start := s.now()
	ev := audit.NewEvent(audit.ActionSessionUpdate).
		WithTarget(sess.ID, 0).
		WithParameters(map[string]any{"title": sess.Title, "setlist_id": sess.SetlistID})

	err := s.updateSession(ctx, sess)
	s.record(ctx, ev, err, start)
	return err
}

func (s *Service) updateSession(ctx context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return invalidArgument(err.Error())
	}
	existing, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		return err
	}
	sess.GUID = existing.GUID
	sess.Deleted = false

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	if err := s.store.UpdateSession(sctx, sess); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrNotFound
		}
		return s.storageError("update_session", err)
	}

	if s.isActive(sess.ID) {
		s.endActive(sess.ID)
	} else if sess.ActiveAt(s.now()) {
		s.triggerResync()
	}
	return nil
}

// DeleteSession soft-deletes a session, ending it when active.
func (s *Service) DeleteSession(ctx context.Context, id int64) error {
	start := s.now()
	ev := audit.NewEvent(audit.ActionSessionDelete).WithTarget(id, 0)

	err := s.deleteSession(ctx, id)
	s.record(ctx, ev, err, start)
	return err
}

func (s *Service) deleteSession(ctx context.Context, id int64) error {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	if err := s.store.DeleteSession(sctx, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrNotFound
		}
		return s.storageError("delete_session", err)
	}
	s.endActive(id)
	return nil
}
