// Package postgres provides PostgreSQL storage for sessions and lips.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/karaoke-live/pkg/session"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"id", "guid", "setlist_id", "title", "start_time", "end_time", "deleted",
}

// lipColumns lists columns returned by lip SELECT queries.
var lipColumns = []string{
	"id", "session_id", "song_id", "guest_id", "guest_name", "status",
	"lane_index", "message", "created_at", "live_at", "done_at", "deleted_at",
}

// Store implements session.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL session store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindActiveSessions returns every non-deleted session whose window contains now.
func (s *Store) FindActiveSessions(ctx context.Context, now time.Time) ([]session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"deleted": false}).
		Where(sq.LtOrEq{"start_time": now}).
		Where(sq.Gt{"end_time": now}).
		OrderBy("start_time DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building active session query: %w", err)
	}
	return s.querySessions(ctx, query, args...)
}

// ListSessions returns all non-deleted sessions, most recent start first.
func (s *Store) ListSessions(ctx context.Context) ([]session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"deleted": false}).
		OrderBy("start_time DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session list query: %w", err)
	}
	return s.querySessions(ctx, query, args...)
}

// GetSession retrieves a session by ID. Returns nil, nil if not found or deleted.
func (s *Store) GetSession(ctx context.Context, id int64) (*session.Session, error) {
	query := `
		SELECT id, guid, setlist_id, title, start_time, end_time, deleted
		FROM sessions
		WHERE id = $1 AND NOT deleted
	`
	var sess session.Session
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.GUID, &sess.SetlistID, &sess.Title,
		&sess.StartTime, &sess.EndTime, &sess.Deleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &sess, nil
}

// CreateSession persists sess and assigns its ID.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	query := `
		INSERT INTO sessions (guid, setlist_id, title, start_time, end_time, deleted)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		sess.GUID, sess.SetlistID, sess.Title, sess.StartTime, sess.EndTime,
	).Scan(&sess.ID)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// UpdateSession replaces the editable fields of sess.
func (s *Store) UpdateSession(ctx context.Context, sess *session.Session) error {
	query := `
		UPDATE sessions
		SET setlist_id = $2, title = $3, start_time = $4, end_time = $5, updated_at = NOW()
		WHERE id = $1 AND NOT deleted
	`
	res, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.SetlistID, sess.Title, sess.StartTime, sess.EndTime,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return requireRow(res, "updating session", sess.ID)
}

// DeleteSession soft-deletes a session.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	query := `UPDATE sessions SET deleted = TRUE, updated_at = NOW() WHERE id = $1 AND NOT deleted`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return requireRow(res, "deleting session", id)
}

// ListLips returns lips matching filter ordered by status, lane index and id.
func (s *Store) ListLips(ctx context.Context, filter session.LipFilter) ([]session.Lip, error) {
	qb := psq.Select(lipColumns...).From("lips")
	if filter.SessionID != 0 {
		qb = qb.Where(sq.Eq{"session_id": filter.SessionID})
	}
	if filter.GuestID != "" {
		qb = qb.Where(sq.Eq{"guest_id": filter.GuestID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		qb = qb.Where(sq.Eq{"status": statuses})
	}

	query, args, err := qb.OrderBy("lane_index", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building lip query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing lips: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lips []session.Lip
	for rows.Next() {
		l, err := scanLip(rows)
		if err != nil {
			return nil, err
		}
		lips = append(lips, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lip rows: %w", err)
	}

	session.SortLips(lips)
	return lips, nil
}

// GetLip retrieves a lip by ID. Returns nil, nil if not found.
func (s *Store) GetLip(ctx context.Context, id int64) (*session.Lip, error) {
	query, args, err := psq.Select(lipColumns...).From("lips").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building lip query: %w", err)
	}

	l, err := scanLip(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLip persists l and assigns its ID.
func (s *Store) CreateLip(ctx context.Context, l *session.Lip) error {
	query := `
		INSERT INTO lips (session_id, song_id, guest_id, guest_name, status, lane_index, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		l.SessionID, l.SongID, l.GuestID, l.GuestName, string(l.Status), l.LaneIndex, l.Message, l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("inserting lip: %w", err)
	}
	return nil
}

// UpdateLips writes every lip inside one transaction.
func (s *Store) UpdateLips(ctx context.Context, lips []session.Lip) (err error) {
	if len(lips) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning lip update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		UPDATE lips
		SET status = $2, lane_index = $3, message = $4, live_at = $5, done_at = $6, deleted_at = $7
		WHERE id = $1
	`
	for _, l := range lips {
		res, execErr := tx.ExecContext(ctx, query,
			l.ID, string(l.Status), l.LaneIndex, l.Message,
			nullTime(l.LiveAt), nullTime(l.DoneAt), nullTime(l.DeletedAt),
		)
		if execErr != nil {
			return fmt.Errorf("updating lip %d: %w", l.ID, execErr)
		}
		if err = requireRow(res, "updating lip", l.ID); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing lip update: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the *sql.DB.
func (*Store) Close() error {
	return nil
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []session.Session
	for rows.Next() {
		var sess session.Session
		if err := rows.Scan(
			&sess.ID, &sess.GUID, &sess.SetlistID, &sess.Title,
			&sess.StartTime, &sess.EndTime, &sess.Deleted,
		); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanLip(row scanner) (session.Lip, error) {
	var l session.Lip
	var status string
	var liveAt, doneAt, deletedAt sql.NullTime
	err := row.Scan(
		&l.ID, &l.SessionID, &l.SongID, &l.GuestID, &l.GuestName, &status,
		&l.LaneIndex, &l.Message, &l.CreatedAt, &liveAt, &doneAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return l, err
	}
	if err != nil {
		return l, fmt.Errorf("scanning lip: %w", err)
	}

	l.Status = session.Status(status)
	l.LiveAt = timePtr(liveAt)
	l.DoneAt = timePtr(doneAt)
	l.DeletedAt = timePtr(deletedAt)
	return l, nil
}

func requireRow(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", op, id, session.ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)
