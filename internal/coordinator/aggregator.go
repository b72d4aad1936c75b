package coordinator

import (
	"errors"
	"fmt"
	"log"

	"github.com/dreamware/tenuki/internal/board"
	"github.com/dreamware/tenuki/internal/cluster"
)

// ErrClosed is returned once the coordinator has been shut down.
var ErrClosed = errors.New("coordinator closed")

// aggregate is the round state. It is owned by the aggregator goroutine;
// nothing else reads or writes it.
type aggregate struct {
	policy  Policy
	tally   *Tally
	last    Tally
	pending map[int]bool
	done    chan struct{}
	// outstanding counts the workers still expected to report, or is Closed.
	outstanding int
	reported    int
	dropped     int
}

// aggregator serializes every mutation of the round state on one goroutine
// fed by ops.
type aggregator struct {
	ops     chan func(*aggregate)
	quit    chan struct{}
	stopped chan struct{}
	slots   int
}

func newAggregator(policy Policy, slots int) *aggregator {
	g := &aggregator{
		ops:     make(chan func(*aggregate)),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		slots:   slots,
	}
	state := &aggregate{
		policy:      policy,
		tally:       newTally(slots),
		last:        newTally(slots).clone(),
		outstanding: Closed,
	}
	go g.run(state)
	return g
}

func (g *aggregator) run(state *aggregate) {
	defer close(g.stopped)
	for {
		select {
		case op := <-g.ops:
			op(state)
		case <-g.quit:
			return
		}
	}
}

// do runs op on the aggregator goroutine and waits for it.
func (g *aggregator) do(op func(*aggregate)) error {
	finished := make(chan struct{})
	select {
	case g.ops <- func(a *aggregate) { op(a); close(finished) }:
	case <-g.quit:
		return ErrClosed
	}
	<-finished
	return nil
}

func (g *aggregator) stop() {
	select {
	case <-g.quit:
	default:
		close(g.quit)
	}
	<-g.stopped
}

// open starts a round expecting one report from each id. The returned
// channel is closed when every expected report has arrived or been
// forfeited.
func (g *aggregator) open(ids []int) (<-chan struct{}, error) {
	var done chan struct{}
	err := g.do(func(a *aggregate) {
		a.tally.reset()
		a.policy.Reset()
		a.pending = make(map[int]bool, len(ids))
		for _, id := range ids {
			a.pending[id] = true
		}
		a.outstanding = len(ids)
		a.reported = 0
		a.dropped = 0
		a.done = make(chan struct{})
		done = a.done
		if a.outstanding == 0 {
			close(a.done)
		}
	})
	return done, err
}

// forfeit gives up on id's report for the current round.
func (g *aggregator) forfeit(id int) {
	_ = g.do(func(a *aggregate) {
		if a.outstanding == Closed || !a.pending[id] {
			return
		}
		delete(a.pending, id)
		a.countDown()
	})
}

// accept merges a report into the open round. Reports for a closed round,
// from workers not expected this round, or repeated within a round are
// dropped.
func (g *aggregator) accept(rep cluster.Report) error {
	if len(rep.Runs) != g.slots || len(rep.Wins) != g.slots {
		return fmt.Errorf("report from searcher %d: want %d points, got runs=%d wins=%d",
			rep.SearcherID, g.slots, len(rep.Runs), len(rep.Wins))
	}
	return g.do(func(a *aggregate) {
		if a.outstanding == Closed || !a.pending[rep.SearcherID] {
			a.dropped++
			log.Printf("coordinator: dropped late report from searcher %d", rep.SearcherID)
			return
		}
		delete(a.pending, rep.SearcherID)
		a.policy.Merge(a.tally, rep.SearcherID, rep.Runs, rep.Wins)
		a.reported++
		a.countDown()
	})
}

func (a *aggregate) countDown() {
	a.outstanding--
	if a.outstanding == 0 {
		close(a.done)
	}
}

// roundResult is what a closed round leaves behind.
type roundResult struct {
	move      board.Point
	runs      int64
	reporting int
	missing   int
	dropped   int
}

// close ends the round, selects the move on b and zeroes the tally. The
// totals stay readable through last until the next round closes.
func (g *aggregator) close(b *board.Board) (roundResult, error) {
	var res roundResult
	err := g.do(func(a *aggregate) {
		if a.outstanding != Closed {
			res.missing = a.outstanding
		}
		a.outstanding = Closed
		a.pending = nil
		res.reporting = a.reported
		res.runs = a.tally.TotalRuns()
		res.dropped = a.dropped
		res.move = a.policy.Select(a.tally, b)
		a.last = a.tally.clone()
		a.tally.reset()
		a.policy.Reset()
	})
	return res, err
}

// snapshot returns the totals of the last closed round.
func (g *aggregator) snapshot() (Tally, error) {
	var t Tally
	err := g.do(func(a *aggregate) { t = a.last.clone() })
	return t, err
}

// current returns the running totals and outstanding count of the round in
// progress.
func (g *aggregator) current() (Tally, int, error) {
	var (
		t Tally
		n int
	)
	err := g.do(func(a *aggregate) {
		t = a.tally.clone()
		n = a.outstanding
	})
	return t, n, err
}
