package reorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/karaoke-live/pkg/session"
)

var testNow = time.Date(2026, 3, 6, 21, 0, 0, 0, time.UTC)

// buildLane returns n lips in status with ids base+0..base+n-1 at indices 0..n-1.
func buildLane(status session.Status, base int64, n int) []session.Lip {
	lips := make([]session.Lip, n)
	for i := range lips {
		lips[i] = session.Lip{ID: base + int64(i), SessionID: 1, Status: status, LaneIndex: i}
	}
	return lips
}

// order returns the ids of status ordered by lane index.
func order(lips []session.Lip, status session.Status) []int64 {
	out := make([]int64, 0)
	for _, l := range lane(lips, status, -1) {
		out = append(out, l.ID)
	}
	return out
}

// persist merges changed rows back into lips the way a store would.
func persist(lips []session.Lip, changed []session.Lip) []session.Lip {
	next := make([]session.Lip, len(lips))
	copy(next, lips)
	for _, c := range changed {
		for i := range next {
			if next[i].ID == c.ID {
				next[i] = c
			}
		}
	}
	return next
}

func TestApply_ForwardWithinLane(t *testing.T) {
	lips := buildLane(session.StatusIdle, 0, 5)

	res, err := Apply(lips, Move{LipID: 2, FromStatus: session.StatusIdle, FromIndex: 2, ToStatus: session.StatusIdle, ToIndex: 4}, testNow)
	require.NoError(t, err)

	after := persist(lips, res.Changed)
	assert.Equal(t, []int64{0, 1, 3, 4, 2}, order(after, session.StatusIdle))
	assert.Equal(t, 4, res.Lip.LaneIndex)
	assert.False(t, res.StatusChanged)
	assert.Len(t, res.Changed, 3, "only ids 2, 3 and 4 move")
	require.NoError(t, CheckLanes(after))
}

func TestApply_BackwardWithinLane(t *testing.T) {
	lips := buildLane(session.StatusIdle, 0, 5)

	res, err := Apply(lips, Move{LipID: 4, FromIndex: 4, ToStatus: session.StatusIdle, ToIndex: 1}, testNow)
	require.NoError(t, err)

	after := persist(lips, res.Changed)
	assert.Equal(t, []int64{0, 4, 1, 2, 3}, order(after, session.StatusIdle))
	require.NoError(t, CheckLanes(after))
}

func TestApply_AcrossLanes(t *testing.T) {
	lips := append(buildLane(session.StatusIdle, 0, 3), buildLane(session.StatusStaged, 10, 2)...)

	res, err := Apply(lips, Move{LipID: 1, FromStatus: session.StatusIdle, FromIndex: 1, ToStatus: session.StatusStaged, ToIndex: 1}, testNow)
	require.NoError(t, err)

	after := persist(lips, res.Changed)
	assert.Equal(t, []int64{0, 2}, order(after, session.StatusIdle))
	assert.Equal(t, []int64{10, 1, 11}, order(after, session.StatusStaged))
	assert.True(t, res.StatusChanged)
	assert.Equal(t, session.StatusStaged, res.Lip.Status)
	require.NoError(t, CheckLanes(after))
}

func TestApply_IntoEmptyLaneStampsTimestamp(t *testing.T) {
	lips := buildLane(session.StatusStaged, 0, 2)

	res, err := Apply(lips, Move{LipID: 0, FromStatus: session.StatusStaged, ToStatus: session.StatusLive, ToIndex: 3}, testNow)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Lip.LaneIndex, "clamped to the empty lane")
	require.NotNil(t, res.Lip.LiveAt)
	assert.Equal(t, testNow, *res.Lip.LiveAt)

	after := persist(lips, res.Changed)
	assert.Equal(t, []int64{1}, order(after, session.StatusStaged))
	require.NoError(t, CheckLanes(after))
}

func TestApply_Clamping(t *testing.T) {
	lips := buildLane(session.StatusIdle, 0, 3)

	t.Run("past the end appends", func(t *testing.T) {
		res, err := Apply(lips, Move{LipID: 0, ToStatus: session.StatusIdle, ToIndex: 99}, testNow)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 0}, order(persist(lips, res.Changed), session.StatusIdle))
	})

	t.Run("negative goes to the front", func(t *testing.T) {
		res, err := Apply(lips, Move{LipID: 2, FromIndex: 2, ToStatus: session.StatusIdle, ToIndex: -5}, testNow)
		require.NoError(t, err)
		after := persist(lips, res.Changed)
		assert.Equal(t, []int64{2, 0, 1}, order(after, session.StatusIdle))
		for _, l := range after {
			assert.GreaterOrEqual(t, l.LaneIndex, 0)
		}
	})
}

func TestApply_Idempotent(t *testing.T) {
	moves := []Move{
		{LipID: 2, FromStatus: session.StatusIdle, FromIndex: 2, ToStatus: session.StatusIdle, ToIndex: 4},
		{LipID: 1, FromStatus: session.StatusIdle, FromIndex: 1, ToStatus: session.StatusStaged, ToIndex: 0},
		{LipID: 3, FromStatus: session.StatusIdle, FromIndex: 3, ToStatus: session.StatusDeleted, ToIndex: 0, Message: "no show"},
	}
	for _, m := range moves {
		t.Run(string(m.ToStatus), func(t *testing.T) {
			lips := append(buildLane(session.StatusIdle, 0, 5), buildLane(session.StatusStaged, 10, 1)...)

			first, err := Apply(lips, m, testNow)
			require.NoError(t, err)
			once := persist(lips, first.Changed)

			second, err := Apply(once, m, testNow.Add(time.Minute))
			require.NoError(t, err)
			assert.Empty(t, second.Changed)
			assert.Equal(t, first.Lip, second.Lip)
			assert.Equal(t, once, persist(once, second.Changed))
		})
	}
}

func TestApply_MessageKeptWhenEmpty(t *testing.T) {
	lips := buildLane(session.StatusIdle, 0, 2)
	lips[0].Message = "first timer"

	res, err := Apply(lips, Move{LipID: 0, ToStatus: session.StatusStaged}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "first timer", res.Lip.Message)
}

func TestApply_StaleClientPosition(t *testing.T) {
	lips := buildLane(session.StatusIdle, 0, 3)

	res, err := Apply(lips, Move{LipID: 2, FromStatus: session.StatusStaged, FromIndex: 0, ToStatus: session.StatusIdle, ToIndex: 0}, testNow)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, []int64{2, 0, 1}, order(persist(lips, res.Changed), session.StatusIdle))
}

func TestApply_Errors(t *testing.T) {
	t.Run("unknown lip", func(t *testing.T) {
		_, err := Apply(buildLane(session.StatusIdle, 0, 2), Move{LipID: 42}, testNow)
		assert.ErrorIs(t, err, ErrLipNotFound)
	})

	t.Run("skipping a state", func(t *testing.T) {
		_, err := Apply(buildLane(session.StatusIdle, 0, 2), Move{LipID: 0, ToStatus: session.StatusDone}, testNow)
		var te *TransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, session.StatusIdle, te.From)
		assert.Equal(t, session.StatusDone, te.To)
	})

	t.Run("terminal lip", func(t *testing.T) {
		_, err := Apply(buildLane(session.StatusDone, 0, 1), Move{LipID: 0, ToStatus: session.StatusDeleted}, testNow)
		var te *TransitionError
		assert.ErrorAs(t, err, &te)
	})

	t.Run("corrupt lane", func(t *testing.T) {
		lips := buildLane(session.StatusIdle, 0, 3)
		lips[2].LaneIndex = 1
		_, err := Apply(lips, Move{LipID: 0, ToStatus: session.StatusStaged}, testNow)
		var le *LaneError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, session.StatusIdle, le.Status)
		assert.Equal(t, []int{0, 1, 1}, le.Indices)
	})
}

func TestCheckLanes(t *testing.T) {
	assert.NoError(t, CheckLanes(nil))
	assert.NoError(t, CheckLanes(buildLane(session.StatusLive, 0, 4)))

	gap := buildLane(session.StatusLive, 0, 3)
	gap[1].LaneIndex = 5
	assert.Error(t, CheckLanes(gap))
	assert.NoError(t, CheckLanes(gap, session.StatusIdle), "only listed lanes are checked")
}

func TestNextIndex(t *testing.T) {
	lips := append(buildLane(session.StatusIdle, 0, 3), buildLane(session.StatusStaged, 10, 1)...)
	assert.Equal(t, 3, NextIndex(lips, session.StatusIdle))
	assert.Equal(t, 0, NextIndex(lips, session.StatusLive))
}
