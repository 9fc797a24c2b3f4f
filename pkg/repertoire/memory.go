package repertoire

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog is the YAML layout of a repertoire seed file.
type Catalog struct {
	Songs    []Song    `yaml:"songs"`
	Setlists []Setlist `yaml:"setlists"`
}

// Memory is an in-memory Repertoire.
type Memory struct {
	mu       sync.RWMutex
	songs    map[int64]Song
	setlists map[int64]Setlist
}

// NewMemory creates a repertoire holding the catalog's entries.
func NewMemory(c Catalog) *Memory {
	m := &Memory{
		songs:    make(map[int64]Song, len(c.Songs)),
		setlists: make(map[int64]Setlist, len(c.Setlists)),
	}
	for _, s := range c.Songs {
		m.songs[s.ID] = s
	}
	for _, s := range c.Setlists {
		m.setlists[s.ID] = s
	}
	return m
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading repertoire file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog.
func Parse(data []byte) (*Memory, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing repertoire: %w", err)
	}
	for _, s := range c.Songs {
		if s.ID <= 0 {
			return nil, fmt.Errorf("song %q: id must be positive", s.Title)
		}
	}
	return NewMemory(c), nil
}

// GetSetlist retrieves a setlist by ID.
func (m *Memory) GetSetlist(_ context.Context, id int64) (*Setlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.setlists[id]
	if !ok {
		return nil, nil //nolint:nilnil // nil, nil signals not found
	}
	s.SongIDs = append([]int64(nil), s.SongIDs...)
	return &s, nil
}

// ListSongs returns every song ordered by ID.
func (m *Memory) ListSongs(_ context.Context) ([]Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	songs := make([]Song, 0, len(m.songs))
	for _, s := range m.songs {
		songs = append(songs, s)
	}
	sort.Slice(songs, func(i, j int) bool { return songs[i].ID < songs[j].ID })
	return songs, nil
}

// PutSong adds or replaces a song.
func (m *Memory) PutSong(s Song) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.songs[s.ID] = s
}

// PutSetlist adds or replaces a setlist.
func (m *Memory) PutSetlist(s Setlist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setlists[s.ID] = s
}

// Verify interface compliance.
var _ Repertoire = (*Memory)(nil)

// Catalog returns every song and setlist, ordered by id.
func (m *Memory) Catalog() Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := Catalog{
		Songs:    make([]Song, 0, len(m.songs)),
		Setlists: make([]Setlist, 0, len(m.setlists)),
	}
	for _, s := range m.songs {
		c.Songs = append(c.Songs, s)
	}
	for _, s := range m.setlists {
		c.Setlists = append(c.Setlists, s)
	}
	sort.Slice(c.Songs, func(i, j int) bool { return c.Songs[i].ID < c.Songs[j].ID })
	sort.Slice(c.Setlists, func(i, j int) bool { return c.Setlists[i].ID < c.Setlists[j].ID })
	return c
}
