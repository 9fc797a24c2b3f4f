package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/karaoke-live/pkg/ratelimit"
	"github.com/txn2/karaoke-live/pkg/registry"
	"github.com/txn2/karaoke-live/pkg/reorder"
	"github.com/txn2/karaoke-live/pkg/session"
)

func TestGuestJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.GuestJoin(ctx, testGUID, "")
	require.NoError(t, err)
	assert.NotEmpty(t, view.GuestID)
	assert.Equal(t, testGUID, view.Session.GUID)
	assert.Empty(t, view.Lips)
	require.Len(t, view.Songs, 3)
	assert.Equal(t, "Waterloo", view.Songs[0].Title)
	assert.True(t, f.state.Load().HasGuest(view.GuestID))

	again, err := f.svc.GuestJoin(ctx, testGUID, view.GuestID)
	require.NoError(t, err)
	assert.Equal(t, view.GuestID, again.GuestID)

	stranger, err := f.svc.GuestJoin(ctx, testGUID, "forged-id")
	require.NoError(t, err)
	assert.NotEqual(t, "forged-id", stranger.GuestID)
}

func TestGuestJoin_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GuestJoin(context.Background(), "other-guid", "")
	assert.ErrorIs(t, err, ErrSessionGUIDMismatch)

	f.state.Clear()
	_, err = f.svc.GuestJoin(context.Background(), testGUID, "")
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Equal(t, CodeNoActiveSession, CodeOf(err))
}

func TestGuestJoin_ReturnsOwnLips(t *testing.T) {
	f := newFixture(t)
	a := f.join(t)
	b := f.join(t)
	f.submit(t, a, 1)
	f.submit(t, b, 2)

	view, err := f.svc.GuestJoin(context.Background(), testGUID, a)
	require.NoError(t, err)
	require.Len(t, view.Lips, 1)
	assert.Equal(t, int64(1), view.Lips[0].SongID)
}

func TestGuestSubmit(t *testing.T) {
	f := newFixture(t)
	guest := f.join(t)

	first := f.submit(t, guest, 1)
	second := f.submit(t, guest, 2)

	assert.Equal(t, session.StatusIdle, first.Status)
	assert.Equal(t, 0, first.LaneIndex)
	assert.Equal(t, 1, second.LaneIndex)
	assert.Equal(t, f.now, first.CreatedAt)
	assert.Equal(t, []int64{first.ID, second.ID}, f.lane(t, session.StatusIdle))
	assert.Len(t, f.state.Load().Lips(), 2)
	assert.Equal(t, []string{EventLipAdded, EventLipAdded}, f.rec.types("boss"))
}

func TestGuestSubmit_QueueLimit(t *testing.T) {
	f := newFixture(t)
	guest := f.join(t)
	ctx := context.Background()

	lips := []*session.Lip{f.submit(t, guest, 1), f.submit(t, guest, 2), f.submit(t, guest, 3)}

	_, err := f.svc.GuestSubmit(ctx, Submission{
		SessionGUID: testGUID, GuestID: guest, SongID: 1, GuestName: "Robin", ClientIP: testIP,
	})
	require.ErrorIs(t, err, ErrGuestQueueLimit)
	assert.Equal(t, 409, CodeOf(err).HTTPStatus())

	// The lip moves through staged and live to done, freeing a slot.
	for _, to := range []session.Status{session.StatusStaged, session.StatusLive, session.StatusDone} {
		_, err := f.svc.Move(ctx, reorder.Move{LipID: lips[0].ID, ToStatus: to})
		require.NoError(t, err)
	}
	f.submit(t, guest, 1)
}

func TestGuestSubmit_AcceptedAfterWithdraw(t *testing.T) {
	f := newFixture(t)
	guest := f.join(t)
	ctx := context.Background()

	first := f.submit(t, guest, 1)
	f.submit(t, guest, 2)
	f.submit(t, guest, 3)

	_, err := f.svc.GuestWithdraw(ctx, Withdrawal{SessionGUID: testGUID, GuestID: guest, LipID: first.ID, ClientIP: testIP})
	require.NoError(t, err)
	f.submit(t, guest, 1)
}

func TestGuestSubmit_Gating(t *testing.T) {
	f := newFixture(t)
	guest := f.join(t)
	ctx := context.Background()

	tests := []struct {
		name string
		sub  Submission
		want error
	}{
		{"guid mismatch", Submission{SessionGUID: "nope", GuestID: guest, SongID: 1, GuestName: "R"}, ErrSessionGUIDMismatch},
		{"unknown guest", Submission{SessionGUID: testGUID, GuestID: "stranger", SongID: 1, GuestName: "R"}, ErrUnknownGuest},
		{"empty guest", Submission{SessionGUID: testGUID, SongID: 1, GuestName: "R"}, ErrUnknownGuest},
		{"blank name", Submission{SessionGUID: testGUID, GuestID: guest, SongID: 1, GuestName: "  "}, ErrInvalidArgument},
		{"song outside setlist", Submission{SessionGUID: testGUID, GuestID: guest, SongID: 4, GuestName: "R"}, ErrInvalidArgument},
		{"missing song", Submission{SessionGUID: testGUID, GuestID: guest, GuestName: "R"}, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.GuestSubmit(ctx, tt.sub)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.rec.types("boss"))
}

func TestGuestSubmit_RateLimited(t *testing.T) {
	limiter := ratelimit.NewWindow(ratelimit.Config{Limit: 2, Window: time.Minute})
	f := newFixture(t, func(c *ServiceConfig) { c.Limiter = limiter })
	guest := f.join(t)

	f.submit(t, guest, 1)
	f.submit(t, guest, 2)

	_, err := f.svc.GuestSubmit(context.Background(), Submission{
		SessionGUID: testGUID, GuestID: guest, SongID: 3, GuestName: "Robin", ClientIP: testIP,
	})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 429, CodeOf(err).HTTPStatus())
	assert.Len(t, f.lane(t, session.StatusIdle), 2)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, ...string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (failingLimiter) Close() error { return nil }

func TestGuestSubmit_LimiterError(t *testing.T) {
	f := newFixture(t, func(c *ServiceConfig) { c.Limiter = failingLimiter{} })
	guest := f.join(t)

	_, err := f.svc.GuestSubmit(context.Background(), Submission{
		SessionGUID: testGUID, GuestID: guest, SongID: 1, GuestName: "Robin",
	})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestGuestWithdraw(t *testing.T) {
	f := newFixture(t)
	guest := f.join(t)
	ctx := context.Background()

	a := f.submit(t, guest, 1)
	b := f.submit(t, guest, 2)
	f.rec.reset()

	lip, err := f.svc.GuestWithdraw(ctx, Withdrawal{SessionGUID: testGUID, GuestID: guest, LipID: a.ID, ClientIP: testIP})
	require.NoError(t, err)
	assert.Equal(t, session.StatusDeleted, lip.Status)
	assert.Equal(t, MessageDeletedByGuest, lip.Message)
	require.NotNil(t, lip.DeletedAt)
	assert.Equal(t, []int64{b.ID}, f.lane(t, session.StatusIdle))
	assert.Equal(t, []int64{a.ID}, f.lane(t, session.StatusDeleted))
	assert.Equal(t, []string{EventLipRemoved}, f.rec.types("boss"))

	// Withdrawing again changes nothing and notifies nobody.
	f.rec.reset()
	again, err := f.svc.GuestWithdraw(ctx, Withdrawal{SessionGUID: testGUID, GuestID: guest, LipID: a.ID, ClientIP: testIP})
	require.NoError(t, err)
	assert.Equal(t, session.StatusDeleted, again.Status)
	assert.Empty(t, f.rec.types("boss"))
}

func TestGuestWithdraw_ForeignLip(t *testing.T) {
	f := newFixture(t)
	owner := f.join(t)
	other := f.join(t)
	lip := f.submit(t, owner, 1)

	_, err := f.svc.GuestWithdraw(context.Background(), Withdrawal{SessionGUID: testGUID, GuestID: other, LipID: lip.ID})
	assert.ErrorIs(t, err, ErrUnknownGuest)
	assert.Equal(t, []int64{lip.ID}, f.lane(t, session.StatusIdle))

	_, err = f.svc.GuestWithdraw(context.Background(), Withdrawal{SessionGUID: testGUID, GuestID: other, LipID: 999})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGuestConnect(t *testing.T) {
	f := newFixture(t)
	conn := &mockConn{id: "c1"}
	require.NoError(t, f.reg.Register(conn))

	pub, err := f.svc.GuestConnect("c1", "guest-1")
	require.NoError(t, err)
	require.NotNil(t, pub)
	assert.Equal(t, testGUID, pub.GUID)

	entry, ok := f.reg.Entry("c1")
	require.True(t, ok)
	assert.Equal(t, registry.RoleGuest, entry.Role)

	_, err = f.svc.GuestConnect("c1", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	f.state.Clear()
	pub, err = f.svc.GuestConnect("c1", "guest-1")
	require.NoError(t, err)
	assert.Nil(t, pub)
}

func TestGuestSubmit_StalledBossDoesNotHoldSessionLock(t *testing.T) {
	stalled := &stalledBroadcaster{release: make(chan struct{})}
	f := newFixture(t, func(c *ServiceConfig) { c.Broadcaster = stalled })
	a, b := f.join(t), f.join(t)

	var wg sync.WaitGroup
	for _, g := range []string{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GuestSubmit(context.Background(), Submission{
				SessionGUID: testGUID, GuestID: g, SongID: 2, GuestName: "G",
			})
			assert.NoError(t, err)
		}()
	}

	assert.Eventually(t, func() bool {
		lips, err := f.store.ListLips(context.Background(), session.LipFilter{SessionID: f.sess.ID})
		return err == nil && len(lips) == 2
	}, 2*time.Second, 10*time.Millisecond, "second submission waited on the first one's boss delivery")
	assert.Zero(t, f.svc.locks.Len())

	close(stalled.release)
	wg.Wait()
	assert.Len(t, f.lane(t, session.StatusIdle), 2)
}
