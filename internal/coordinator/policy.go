package coordinator

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/dreamware/tenuki/internal/board"
)

// Policy names.
const (
	PolicySum      = "sum"
	PolicyBalanced = "balanced"
	PolicyBest     = "best"
	PolicyVote     = "vote"
)

// Policy decides how reports are merged and how the move is picked.
// Merge, Select and Reset run on the aggregator goroutine only.
type Policy interface {
	Name() string
	// Merge folds one worker's report into t and any policy state.
	Merge(t *Tally, id int, runs, wins []int64)
	// Select picks the move for b from the round's statistics.
	Select(t *Tally, b *board.Board) board.Point
	// Reset forgets per-round state after a decision.
	Reset()
}

// Partitioner is implemented by policies that split the point universe
// among workers.
type Partitioner interface {
	Allocation() *PointAllocation
}

// NewPolicy returns the policy registered under name for a board of the
// given size.
func NewPolicy(name string, size int) (Policy, error) {
	switch name {
	case PolicySum, "":
		return sumPolicy{}, nil
	case PolicyBalanced:
		return &balancedPolicy{alloc: NewPointAllocation(size * size)}, nil
	case PolicyBest:
		return &bestPolicy{best: make(map[int]candidate)}, nil
	case PolicyVote:
		return &votePolicy{ballots: make(map[board.Point]*ballot)}, nil
	}
	return nil, fmt.Errorf("unknown policy %q", name)
}

// sumPolicy adds every report into the totals.
type sumPolicy struct{}

func (sumPolicy) Name() string { return PolicySum }

func (sumPolicy) Merge(t *Tally, _ int, runs, wins []int64) { t.Add(runs, wins) }

func (sumPolicy) Select(t *Tally, b *board.Board) board.Point { return selectBySum(t, b) }

func (sumPolicy) Reset() {}

// balancedPolicy sums only the points allocated to the reporting worker.
// A worker that searched under an allocation that has since changed cannot
// contribute points it no longer owns.
type balancedPolicy struct {
	alloc *PointAllocation
}

func (p *balancedPolicy) Name() string { return PolicyBalanced }

func (p *balancedPolicy) Allocation() *PointAllocation { return p.alloc }

func (p *balancedPolicy) Merge(t *Tally, id int, runs, wins []int64) {
	pass := board.Point(len(runs) - 1)
	t.AddPoint(pass, runs[pass], wins[pass])
	for _, pt := range p.alloc.Points(id) {
		t.AddPoint(pt, runs[pt], wins[pt])
	}
}

func (p *balancedPolicy) Select(t *Tally, b *board.Board) board.Point { return selectBySum(t, b) }

func (p *balancedPolicy) Reset() {}

// bestPolicy picks the single strongest point any one worker found.
type bestPolicy struct {
	best map[int]candidate
}

func (p *bestPolicy) Name() string { return PolicyBest }

func (p *bestPolicy) Merge(t *Tally, id int, runs, wins []int64) {
	t.Add(runs, wins)
	if c, ok := bestOf(wins); ok {
		p.best[id] = c
	}
}

func (p *bestPolicy) Select(t *Tally, b *board.Board) board.Point {
	ids := make([]int, 0, len(p.best))
	for id := range p.best {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	found := candidate{point: board.NoPoint, wins: -1}
	for _, id := range ids {
		c := p.best[id]
		if c.wins > found.wins && playable(b, c.point) {
			found = c
		}
	}
	if found.point == board.NoPoint {
		return selectBySum(t, b)
	}
	return found.point
}

func (p *bestPolicy) Reset() { clear(p.best) }

// ballot counts the workers voting for one point.
type ballot struct {
	votes   int
	maxWins int64
}

// votePolicy gives each reporting worker one vote for its best point.
type votePolicy struct {
	ballots map[board.Point]*ballot
}

func (p *votePolicy) Name() string { return PolicyVote }

func (p *votePolicy) Merge(t *Tally, _ int, runs, wins []int64) {
	t.Add(runs, wins)
	c, ok := bestOf(wins)
	if !ok {
		return
	}
	bl := p.ballots[c.point]
	if bl == nil {
		bl = &ballot{}
		p.ballots[c.point] = bl
	}
	bl.votes++
	if c.wins > bl.maxWins {
		bl.maxWins = c.wins
	}
}

// Select picks the point with the most votes; ties go to the higher win
// count, then to the lower point.
func (p *votePolicy) Select(t *Tally, b *board.Board) board.Point {
	points := make([]board.Point, 0, len(p.ballots))
	for pt := range p.ballots {
		points = append(points, pt)
	}
	slices.Sort(points)

	winner := board.NoPoint
	var top ballot
	for _, pt := range points {
		bl := p.ballots[pt]
		if !playable(b, pt) {
			continue
		}
		if winner == board.NoPoint || bl.votes > top.votes || (bl.votes == top.votes && bl.maxWins > top.maxWins) {
			winner, top = pt, *bl
		}
	}
	if winner == board.NoPoint {
		return selectBySum(t, b)
	}
	return winner
}

func (p *votePolicy) Reset() { clear(p.ballots) }
