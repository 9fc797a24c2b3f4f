package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/txn2/karaoke-live/pkg/audit"
	"github.com/txn2/karaoke-live/pkg/registry"
	"github.com/txn2/karaoke-live/pkg/repertoire"
	"github.com/txn2/karaoke-live/pkg/session"
)

const (
	testGUID    = "4f1c7a52-9a1e-4d0b-a7e6-3d2b3c0e5f10"
	testSetlist = 10
	testIP      = "203.0.113.9"
)

// sent is one recorded broadcast.
type sent struct {
	target string
	event  registry.Event
}

// recorder is a Broadcaster that remembers every broadcast.
type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) Broadcast(target registry.Target, ev registry.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{target: target.String(), event: ev})
	return 1
}

// types returns the event types sent to target, in order.
func (r *recorder) types(target string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		if s.target == target {
			out = append(out, s.event.Type)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// memoryAudit collects audit events.
type memoryAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memoryAudit) Log(_ context.Context, ev audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (*memoryAudit) Close() error { return nil }

func (m *memoryAudit) actions() []audit.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Action, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Action)
	}
	return out
}

type fixture struct {
	svc     *Service
	store   *session.MemoryStore
	state   *State
	rec     *recorder
	reg     *registry.Registry
	audit   *memoryAudit
	sess    session.Session
	now     time.Time
	resyncs int
}

func newFixture(t *testing.T, opts ...func(*ServiceConfig)) *fixture {
	t.Helper()

	now := time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC)
	store := session.NewMemoryStore()
	sess := session.Session{
		GUID:      testGUID,
		SetlistID: testSetlist,
		Title:     "Friday night",
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(context.Background(), &sess))

	rep := repertoire.NewMemory(repertoire.Catalog{
		Songs: []repertoire.Song{
			{ID: 1, Artist: "Queen", Title: "Bohemian Rhapsody"},
			{ID: 2, Artist: "Toto", Title: "Africa"},
			{ID: 3, Artist: "ABBA", Title: "Waterloo"},
			{ID: 4, Artist: "Europe", Title: "The Final Countdown"},
		},
		Setlists: []repertoire.Setlist{{ID: testSetlist, SongIDs: []int64{3, 1, 2}}},
	})

	f := &fixture{
		store: store,
		state: NewState(),
		rec:   &recorder{},
		reg:   registry.NewRegistry(nil),
		audit: &memoryAudit{},
		sess:  sess,
		now:   now,
	}
	cfg := ServiceConfig{
		Store:       store,
		Repertoire:  rep,
		State:       f.state,
		Broadcaster: f.rec,
		Roles:       f.reg,
		Audit:       f.audit,
		Now:         func() time.Time { return f.now },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.svc = NewService(cfg)
	f.svc.OnSessionChanged(func() { f.resyncs++ })
	f.state.Swap(NewSnapshot(sess, nil))
	return f
}

// join admits a new guest and returns its id.
func (f *fixture) join(t *testing.T) string {
	t.Helper()
	view, err := f.svc.GuestJoin(context.Background(), testGUID, "")
	require.NoError(t, err)
	return view.GuestID
}

// submit adds a lip for guestID.
func (f *fixture) submit(t *testing.T, guestID string, songID int64) *session.Lip {
	t.Helper()
	lip, err := f.svc.GuestSubmit(context.Background(), Submission{
		SessionGUID: testGUID,
		GuestID:     guestID,
		SongID:      songID,
		GuestName:   "Robin",
		ClientIP:    testIP,
	})
	require.NoError(t, err)
	return lip
}

// lane returns the lip ids of one lane in index order.
func (f *fixture) lane(t *testing.T, status session.Status) []int64 {
	t.Helper()
	lips, err := f.store.ListLips(context.Background(), session.LipFilter{
		SessionID: f.sess.ID,
		Statuses:  []session.Status{status},
	})
	require.NoError(t, err)
	ids := make([]int64, 0, len(lips))
	for i, l := range lips {
		require.Equal(t, i, l.LaneIndex, "lane %s not contiguous", status)
		ids = append(ids, l.ID)
	}
	return ids
}

// mockConn is a registry connection that records events.
type mockConn struct {
	id     string
	mu     sync.Mutex
	events []registry.Event
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(ev registry.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (*mockConn) Close() error { return nil }

// stalledBroadcaster blocks every boss delivery until release is closed.
type stalledBroadcaster struct {
	release chan struct{}
}

func (b *stalledBroadcaster) Broadcast(target registry.Target, _ registry.Event) int {
	if target.Role() == registry.RoleBoss {
		<-b.release
	}
	return 1
}
