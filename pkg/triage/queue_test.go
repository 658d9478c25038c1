package triage

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/ai4ckd/platform/pkg/srirc"
	"github.com/ai4ckd/platform/pkg/staging"
	"github.com/stretchr/testify/require"
)

func entry(id string, stage staging.Stage, score int) Entry {
	return Entry{PatientID: id, Stage: stage, Score: score}
}

func ids(seq []Entry) []string {
	out := make([]string, len(seq))
	for i, e := range seq {
		out[i] = e.PatientID
	}
	return out
}

func TestUpsertOrdersByStageScoreID(t *testing.T) {
	q := NewQueue()
	_, _ = q.Upsert(entry("c", staging.G3a, 35))
	_, _ = q.Upsert(entry("a", staging.G3b, 12))
	_, _ = q.Upsert(entry("b", staging.G3b, 12))
	_, _ = q.Upsert(entry("d", staging.G5, 1))
	_, _ = q.Upsert(entry("e", staging.G3b, 26))

	require.Equal(t, []string{"d", "e", "a", "b", "c"}, ids(slices.Collect(q.Top(0))))
}

func TestUpsertReturnsPosition(t *testing.T) {
	q := NewQueue()
	pos, err := q.Upsert(entry("p1", staging.G2, 5))
	require.NoError(t, err)
	require.Equal(t, 1, pos)

	pos, _ = q.Upsert(entry("p2", staging.G4, 5))
	require.Equal(t, 1, pos)

	pos, _ = q.Upsert(entry("p3", staging.G3a, 40))
	require.Equal(t, 2, pos)

	// re-scoring p1 moves it to the head without duplicating it
	pos, _ = q.Upsert(entry("p1", staging.G5, 30))
	require.Equal(t, 1, pos)
	require.Equal(t, 3, q.Len())

	rank, ok := q.Position("p2")
	require.True(t, ok)
	require.Equal(t, 2, rank)
}

func TestUpsertDerivesTier(t *testing.T) {
	q := NewQueue()
	e := entry("p1", staging.G3b, 26)
	e.Tier = srirc.TierLow
	_, err := q.Upsert(e)
	require.NoError(t, err)

	got, ok := q.Get("p1")
	require.True(t, ok)
	require.Equal(t, srirc.TierHigh, got.Tier)
}

func TestUpsertRejectsInvalid(t *testing.T) {
	q := NewQueue()
	for _, e := range []Entry{entry("", staging.G1, 1), entry("x", staging.StageUnknown, 1), entry("y", staging.G2, -1)} {
		_, err := q.Upsert(e)
		require.ErrorIs(t, err, ErrInvalidEntry)
	}
	require.Zero(t, q.Len())
}

func TestScenarioRanksAboveAnyG3a(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 20; i++ {
		_, _ = q.Upsert(entry(fmt.Sprintf("g3a-%02d", i), staging.G3a, 40+i))
	}
	pos, err := q.Upsert(entry("scenario", staging.G3b, 26))
	require.NoError(t, err)
	require.Equal(t, 1, pos)
}

func TestRemove(t *testing.T) {
	q := NewQueue()
	_, _ = q.Upsert(entry("a", staging.G2, 1))
	_, _ = q.Upsert(entry("b", staging.G2, 2))
	require.True(t, q.Remove("b"))
	require.False(t, q.Remove("b"))
	require.Equal(t, []string{"a"}, ids(slices.Collect(q.Top(10))))
	_, ok := q.Get("b")
	require.False(t, ok)
}

func TestTopIsLazyAndRestartable(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 10; i++ {
		_, _ = q.Upsert(entry(fmt.Sprintf("p%d", i), staging.G2, i))
	}
	top := q.Top(3)

	var seen []string
	for e := range top {
		seen = append(seen, e.PatientID)
		if len(seen) == 2 {
			break
		}
	}
	require.Equal(t, []string{"p9", "p8"}, seen)

	require.Equal(t, []string{"p9", "p8", "p7"}, ids(slices.Collect(top)))

	_, _ = q.Upsert(entry("p0", staging.G5, 0))
	require.Equal(t, []string{"p0", "p9", "p8"}, ids(slices.Collect(top)))
}

func TestSnapshotRanks(t *testing.T) {
	q := NewQueue()
	_, _ = q.Upsert(entry("a", staging.G1, 0))
	_, _ = q.Upsert(entry("b", staging.G4, 0))
	snap := q.Snapshot(5)
	require.Len(t, snap, 2)
	require.Equal(t, 1, snap[0].Rank)
	require.Equal(t, "b", snap[0].PatientID)
	require.Equal(t, 2, snap[1].Rank)
}

func TestRandomMutationsKeepOrderAndUniqueness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	q := NewQueue()
	live := map[string]Entry{}

	for step := 0; step < 3000; step++ {
		id := fmt.Sprintf("p%03d", rng.Intn(150))
		if rng.Intn(4) == 0 {
			_, had := live[id]
			require.Equal(t, had, q.Remove(id))
			delete(live, id)
			continue
		}
		e := entry(id, staging.Stages[rng.Intn(len(staging.Stages))], rng.Intn(50))
		pos, err := q.Upsert(e)
		require.NoError(t, err)
		live[id] = e

		all := slices.Collect(q.Top(0))
		require.Equal(t, id, all[pos-1].PatientID)
	}

	all := slices.Collect(q.Top(0))
	require.Len(t, all, len(live))
	require.True(t, slices.IsSortedFunc(all, func(a, b Entry) int {
		if Less(a, b) {
			return -1
		}
		if Less(b, a) {
			return 1
		}
		return 0
	}))
	seen := map[string]bool{}
	for _, e := range all {
		require.False(t, seen[e.PatientID], "duplicate %s", e.PatientID)
		seen[e.PatientID] = true
		require.Equal(t, live[e.PatientID].Score, e.Score)
		require.Equal(t, live[e.PatientID].Stage, e.Stage)
	}
}

func TestConcurrentUpserts(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _ = q.Upsert(entry(fmt.Sprintf("p%d", i%50), staging.Stages[(i+w)%6], i))
				for e := range q.Top(5) {
					_ = e.Tier
				}
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 50, q.Len())
}
