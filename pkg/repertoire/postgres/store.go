// Package postgres provides PostgreSQL read access to songs and setlists.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/txn2/karaoke-live/pkg/repertoire"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements repertoire.Repertoire using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL repertoire store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetSetlist retrieves a setlist by ID. Returns nil, nil if not found.
func (s *Store) GetSetlist(ctx context.Context, id int64) (*repertoire.Setlist, error) {
	query := `
		SELECT id, tool_key, title, songs, published
		FROM setlists
		WHERE id = $1
	`
	var (
		sl    repertoire.Setlist
		songs pq.Int64Array
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sl.ID, &sl.ToolKey, &sl.Title, &songs, &sl.Published,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil, nil signals not found
	}
	if err != nil {
		return nil, fmt.Errorf("querying setlist: %w", err)
	}
	sl.SongIDs = []int64(songs)
	return &sl, nil
}

// ListSongs returns every song ordered by ID.
func (s *Store) ListSongs(ctx context.Context) ([]repertoire.Song, error) {
	query, args, err := psq.Select("id", "tool_key", "artist", "title", "special").
		From("songs").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building song query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying songs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var songs []repertoire.Song
	for rows.Next() {
		var song repertoire.Song
		if err := rows.Scan(&song.ID, &song.ToolKey, &song.Artist, &song.Title, &song.Special); err != nil {
			return nil, fmt.Errorf("scanning song row: %w", err)
		}
		songs = append(songs, song)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating song rows: %w", err)
	}
	return songs, nil
}

// SaveSetlist inserts or replaces a setlist.
func (s *Store) SaveSetlist(ctx context.Context, sl repertoire.Setlist) error {
	query := `
		INSERT INTO setlists (id, tool_key, title, songs, published)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			tool_key = EXCLUDED.tool_key,
			title = EXCLUDED.title,
			songs = EXCLUDED.songs,
			published = EXCLUDED.published
	`
	songs := sl.SongIDs
	if songs == nil {
		songs = []int64{}
	}
	_, err := s.db.ExecContext(ctx, query, sl.ID, sl.ToolKey, sl.Title, pq.Array(songs), sl.Published)
	if err != nil {
		return fmt.Errorf("saving setlist: %w", err)
	}
	return nil
}

// SaveSong inserts or replaces a song.
func (s *Store) SaveSong(ctx context.Context, song repertoire.Song) error {
	query := `
		INSERT INTO songs (id, tool_key, artist, title, special)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			tool_key = EXCLUDED.tool_key,
			artist = EXCLUDED.artist,
			title = EXCLUDED.title,
			special = EXCLUDED.special
	`
	_, err := s.db.ExecContext(ctx, query, song.ID, song.ToolKey, song.Artist, song.Title, song.Special)
	if err != nil {
		return fmt.Errorf("saving song: %w", err)
	}
	return nil
}

// Import writes every entry of a catalog.
func (s *Store) Import(ctx context.Context, c repertoire.Catalog) error {
	for _, song := range c.Songs {
		if err := s.SaveSong(ctx, song); err != nil {
			return err
		}
	}
	for _, sl := range c.Setlists {
		if err := s.SaveSetlist(ctx, sl); err != nil {
			return err
		}
	}
	return nil
}

// Verify interface compliance.
var _ repertoire.Repertoire = (*Store)(nil)
