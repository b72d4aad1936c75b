package coordinator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tenuki/internal/board"
	"github.com/dreamware/tenuki/internal/cluster"
)

// TestPointAllocationPartition verifies that for any number of workers the
// subsets are pairwise disjoint and together cover every point.
func TestPointAllocationPartition(t *testing.T) {
	for _, size := range []int{2, 9, 19} {
		for n := 1; n <= 7; n++ {
			t.Run(fmt.Sprintf("%dx%d/%d workers", size, size, n), func(t *testing.T) {
				alloc := NewPointAllocation(size * size)
				ids := make([]int, n)
				for i := range ids {
					ids[i] = 10 + 3*i
				}
				require.NoError(t, alloc.Rebalance(ids))

				seen := make(map[board.Point]int)
				for id, points := range alloc.Subsets() {
					assert.Contains(t, ids, id)
					for _, p := range points {
						prev, dup := seen[p]
						assert.False(t, dup, "point %d owned by %d and %d", p, prev, id)
						seen[p] = id
					}
				}
				assert.Len(t, seen, size*size)
				for p := 0; p < size*size; p++ {
					assert.Contains(t, seen, board.Point(p))
				}
			})
		}
	}
}

// TestPointAllocationRoundRobin verifies point i goes to ids[i mod n].
func TestPointAllocationRoundRobin(t *testing.T) {
	alloc := NewPointAllocation(9)
	require.NoError(t, alloc.Rebalance([]int{1, 2, 3}))

	assert.Equal(t, []board.Point{0, 3, 6}, alloc.Points(1))
	assert.Equal(t, []board.Point{1, 4, 7}, alloc.Points(2))
	assert.Equal(t, []board.Point{2, 5, 8}, alloc.Points(3))
	assert.True(t, alloc.Owns(2, 4))
	assert.False(t, alloc.Owns(1, 4))
	assert.Empty(t, alloc.Points(4))
	assert.Equal(t, "9 points: w1=3 w2=3 w3=3", alloc.String())

	require.NoError(t, alloc.Rebalance([]int{3}))
	assert.Len(t, alloc.Points(3), 9)
	assert.Empty(t, alloc.Points(1))

	require.NoError(t, alloc.Rebalance(nil))
	_, ok := alloc.Owner(0)
	assert.False(t, ok)

	assert.Error(t, alloc.Rebalance([]int{1, 1}))
}

func report(id int, wins map[board.Point]int64) cluster.Report {
	rep := cluster.Report{SearcherID: id, Runs: make([]int64, 10), Wins: make([]int64, 10)}
	for p, w := range wins {
		rep.Wins[p] = w
		rep.Runs[p] = w + 1
	}
	return rep
}

// TestMergeIsCommutative verifies that the order in which two workers
// report does not change the statistics nor the decision.
func TestMergeIsCommutative(t *testing.T) {
	a := report(1, map[board.Point]int64{0: 4, 4: 9, 8: 1})
	b := report(2, map[board.Point]int64{4: 2, 5: 9, 9: 3})
	bd := board.MustNew(3)

	for _, name := range []string{PolicySum, PolicyBalanced, PolicyBest, PolicyVote} {
		t.Run(name, func(t *testing.T) {
			run := func(first, second cluster.Report) (Tally, board.Point) {
				policy, err := NewPolicy(name, 3)
				require.NoError(t, err)
				if p, ok := policy.(Partitioner); ok {
					require.NoError(t, p.Allocation().Rebalance([]int{1, 2}))
				}
				g := newAggregator(policy, 10)
				defer g.stop()

				_, err = g.open([]int{1, 2})
				require.NoError(t, err)
				require.NoError(t, g.accept(first))
				require.NoError(t, g.accept(second))
				res, err := g.close(bd)
				require.NoError(t, err)
				last, err := g.snapshot()
				require.NoError(t, err)
				return last, res.move
			}

			t1, m1 := run(a, b)
			t2, m2 := run(b, a)
			assert.Equal(t, t1, t2)
			assert.Equal(t, m1, m2)
		})
	}
}

// TestReportAfterCloseIsDropped verifies a closed round ignores reports.
func TestReportAfterCloseIsDropped(t *testing.T) {
	g := newAggregator(sumPolicy{}, 10)
	defer g.stop()
	bd := board.MustNew(3)

	done, err := g.open([]int{1, 2})
	require.NoError(t, err)
	require.NoError(t, g.accept(report(1, map[board.Point]int64{2: 5})))
	res, err := g.close(bd)
	require.NoError(t, err)
	assert.Equal(t, board.Point(2), res.move)
	assert.Equal(t, 1, res.reporting)
	assert.Equal(t, 1, res.missing)

	before, err := g.snapshot()
	require.NoError(t, err)
	require.NoError(t, g.accept(report(2, map[board.Point]int64{3: 50})))
	after, err := g.snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	current, outstanding, err := g.current()
	require.NoError(t, err)
	assert.Equal(t, Closed, outstanding)
	assert.Zero(t, current.TotalRuns())

	select {
	case <-done:
		t.Fatal("round closed by the deadline must not look complete")
	default:
	}
}

// TestRoundCountsEachWorkerOnce verifies duplicates and strangers do not
// decrement the outstanding count.
func TestRoundCountsEachWorkerOnce(t *testing.T) {
	g := newAggregator(sumPolicy{}, 10)
	defer g.stop()

	done, err := g.open([]int{1, 2})
	require.NoError(t, err)
	require.NoError(t, g.accept(report(1, map[board.Point]int64{2: 5})))
	require.NoError(t, g.accept(report(1, map[board.Point]int64{2: 5})))
	require.NoError(t, g.accept(report(7, map[board.Point]int64{2: 5})))

	current, outstanding, err := g.current()
	require.NoError(t, err)
	assert.Equal(t, 1, outstanding)
	assert.Equal(t, int64(5), current.Wins[2])

	g.forfeit(2)
	<-done
	_, outstanding, err = g.current()
	require.NoError(t, err)
	assert.Zero(t, outstanding)

	empty, err := g.open(nil)
	require.NoError(t, err)
	<-empty
}

// TestBestSelection verifies the strongest single candidate wins and
// illegal candidates are skipped.
func TestBestSelection(t *testing.T) {
	bd := board.MustNew(3)
	require.NoError(t, bd.Play(4))

	p := &bestPolicy{best: map[int]candidate{}}
	tally := newTally(10)
	p.Merge(tally, 1, make([]int64, 10), report(1, map[board.Point]int64{4: 30}).Wins)
	p.Merge(tally, 2, make([]int64, 10), report(2, map[board.Point]int64{1: 12}).Wins)
	p.Merge(tally, 3, make([]int64, 10), report(3, map[board.Point]int64{7: 11}).Wins)

	assert.Equal(t, board.Point(1), p.Select(tally, bd), "point 4 is occupied")

	p.Reset()
	assert.Equal(t, board.Point(4), selectBySum(tally, board.MustNew(3)))
	assert.Equal(t, bd.Pass(), p.Select(newTally(10), bd), "no candidates falls back to the sum")
}

// TestVoteSelection verifies ballots, the tie-break on win count and the
// fallback when nothing was voted.
func TestVoteSelection(t *testing.T) {
	bd := board.MustNew(3)
	tests := []struct {
		name    string
		reports []map[board.Point]int64
		want    board.Point
	}{
		{"single ballot", []map[board.Point]int64{{3: 5}}, 3},
		{"tie goes to higher wins", []map[board.Point]int64{{0: 20}, {8: 10}}, 0},
		{"tie goes to higher wins reversed", []map[board.Point]int64{{0: 10}, {8: 20}}, 8},
		{"majority beats wins", []map[board.Point]int64{{2: 1}, {2: 2}, {6: 40}}, 2},
		{"full tie keeps lower point", []map[board.Point]int64{{5: 7}, {1: 7}}, 1},
		{"nothing voted", []map[board.Point]int64{{}}, bd.Pass()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &votePolicy{ballots: map[board.Point]*ballot{}}
			tally := newTally(10)
			for i, wins := range tt.reports {
				rep := report(i+1, wins)
				p.Merge(tally, rep.SearcherID, rep.Runs, rep.Wins)
			}
			assert.Equal(t, tt.want, p.Select(tally, bd))
			p.Reset()
			assert.Empty(t, p.ballots)
		})
	}
}

// TestBalancedMergeFiltersByOwner verifies points outside the reporter's
// subset are discarded and PASS is always kept.
func TestBalancedMergeFiltersByOwner(t *testing.T) {
	policy, err := NewPolicy(PolicyBalanced, 3)
	require.NoError(t, err)
	bp := policy.(*balancedPolicy)
	require.NoError(t, bp.Allocation().Rebalance([]int{1, 2}))

	tally := newTally(10)
	rep := report(1, map[board.Point]int64{0: 3, 1: 40, 9: 2})
	policy.Merge(tally, 1, rep.Runs, rep.Wins)

	assert.Equal(t, int64(3), tally.Wins[0])
	assert.Zero(t, tally.Wins[1])
	assert.Equal(t, int64(2), tally.Wins[9])
	assert.Equal(t, board.Point(0), policy.Select(tally, board.MustNew(3)))
}
