// Package repertoire provides read access to the songs and setlists guests
// choose from.
package repertoire

import (
	"context"
	"fmt"
	"slices"
)

// Song is a performable track.
type Song struct {
	ID int64 `json:"id" yaml:"id"`

	// ToolKey identifies the track on the automation device.
	ToolKey string `json:"tool_key" yaml:"tool_key"`

	Artist  string `json:"artist" yaml:"artist"`
	Title   string `json:"title" yaml:"title"`
	Special bool   `json:"special" yaml:"special"`
}

// Setlist is an ordered selection of songs offered for a session.
type Setlist struct {
	ID        int64   `json:"id" yaml:"id"`
	ToolKey   string  `json:"tool_key" yaml:"tool_key"`
	Title     string  `json:"title" yaml:"title"`
	SongIDs   []int64 `json:"song_ids" yaml:"song_ids"`
	Published bool    `json:"published" yaml:"published"`
}

// Contains reports whether songID is part of the setlist.
func (s *Setlist) Contains(songID int64) bool {
	return slices.Contains(s.SongIDs, songID)
}

// Repertoire is the read-only catalog collaborator.
type Repertoire interface {
	// GetSetlist retrieves a setlist by ID. Returns nil, nil if not found.
	GetSetlist(ctx context.Context, id int64) (*Setlist, error)

	// ListSongs returns every song.
	ListSongs(ctx context.Context) ([]Song, error)
}

// SetlistSongs resolves the songs of setlist id in setlist order. Song ids
// without a matching song are skipped. A missing setlist yields no songs.
func SetlistSongs(ctx context.Context, r Repertoire, id int64) (*Setlist, []Song, error) {
	setlist, err := r.GetSetlist(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting setlist %d: %w", id, err)
	}
	if setlist == nil {
		return nil, []Song{}, nil
	}

	all, err := r.ListSongs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing songs: %w", err)
	}
	byID := make(map[int64]Song, len(all))
	for _, s := range all {
		byID[s.ID] = s
	}

	songs := make([]Song, 0, len(setlist.SongIDs))
	for _, sid := range setlist.SongIDs {
		if s, ok := byID[sid]; ok {
			songs = append(songs, s)
		}
	}
	return setlist, songs, nil
}
