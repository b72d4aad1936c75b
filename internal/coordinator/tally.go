package coordinator

import (
	"github.com/dreamware/tenuki/internal/board"
)

// Closed is the outstanding count of a round that no longer accepts reports.
const Closed = -1

// Tally holds the run and win counts aggregated over the workers that
// reported in the current round, indexed by point (board plus PASS).
type Tally struct {
	Runs []int64
	Wins []int64
}

func newTally(slots int) *Tally {
	return &Tally{Runs: make([]int64, slots), Wins: make([]int64, slots)}
}

// Add accumulates runs and wins for every point.
func (t *Tally) Add(runs, wins []int64) {
	for p := range t.Runs {
		t.Runs[p] += runs[p]
		t.Wins[p] += wins[p]
	}
}

// AddPoint accumulates a single point.
func (t *Tally) AddPoint(p board.Point, runs, wins int64) {
	t.Runs[p] += runs
	t.Wins[p] += wins
}

// TotalRuns sums the runs over all points.
func (t *Tally) TotalRuns() int64 {
	var n int64
	for _, r := range t.Runs {
		n += r
	}
	return n
}

func (t *Tally) reset() {
	for p := range t.Runs {
		t.Runs[p] = 0
		t.Wins[p] = 0
	}
}

func (t *Tally) clone() Tally {
	return Tally{
		Runs: append([]int64(nil), t.Runs...),
		Wins: append([]int64(nil), t.Wins...),
	}
}

// candidate is one worker's locally best point.
type candidate struct {
	point board.Point
	wins  int64
}

// bestOf returns the point with the most wins in a reported array; ties
// keep the lowest point. It reports false when nothing was won.
func bestOf(wins []int64) (candidate, bool) {
	best := candidate{point: board.NoPoint}
	for p, w := range wins {
		if w > best.wins {
			best = candidate{point: board.Point(p), wins: w}
		}
	}
	return best, best.point != board.NoPoint
}

// playable reports whether p may be chosen on b: PASS, or a vacant, legal,
// feasible point.
func playable(b *board.Board, p board.Point) bool {
	if p == b.Pass() {
		return true
	}
	return b.At(p) == board.Empty && b.IsLegal(p) && b.IsFeasible(p)
}

// selectBySum returns the vacant, legal, feasible point with the highest
// total wins. PASS is the default and is only beaten by strictly more wins;
// ties keep the first point found.
func selectBySum(t *Tally, b *board.Board) board.Point {
	best := b.Pass()
	bestWins := t.Wins[best]
	for _, p := range b.VacantPoints() {
		if t.Wins[p] > bestWins && b.IsLegal(p) && b.IsFeasible(p) {
			best, bestWins = p, t.Wins[p]
		}
	}
	return best
}
