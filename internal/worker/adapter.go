// Package worker wraps a local search engine behind the Searcher contract so
// a coordinator can drive it remotely.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/tenuki/internal/board"
	"github.com/dreamware/tenuki/internal/cluster"
	"github.com/dreamware/tenuki/internal/player"
)

// ErrNoPlayer is returned by game operations before BindPlayer.
var ErrNoPlayer = errors.New("no player bound")

// reportTimeout bounds the call that hands results back to the coordinator.
const reportTimeout = 5 * time.Second

// Adapter serves the Searcher contract on top of one local engine.
//
// BeginSearch starts the engine on its own goroutine and returns at once;
// the finished tables are sent to the Reporter. Board changes cancel a
// search still in flight, whose results are then discarded.
type Adapter struct {
	registry *player.Registry
	reporter cluster.Reporter
	player   player.Player
	allowed  map[board.Point]bool
	cancel   context.CancelFunc
	name     string
	bound    string
	id       int
	komi     float64
	playouts atomic.Int64
	identity atomic.Pointer[cluster.Identity]
	mu       sync.Mutex // guards player and the fields above
	searches sync.WaitGroup
}

// NewAdapter returns an adapter named name that reports to reporter and
// binds engines from registry.
func NewAdapter(name string, registry *player.Registry, reporter cluster.Reporter) *Adapter {
	a := &Adapter{
		name:     name,
		registry: registry,
		reporter: reporter,
		komi:     7.5,
	}
	a.publishIdentity()
	return a
}

var _ cluster.Searcher = (*Adapter)(nil)

// SetID sets the id stamped on every report.
func (a *Adapter) SetID(_ context.Context, id int) error {
	a.stopSearch()
	defer a.mu.Unlock()
	a.id = id
	a.publishIdentity()
	return nil
}

// Reset clears the board, the restriction and the playout count.
func (a *Adapter) Reset(context.Context) error {
	a.stopSearch()
	defer a.mu.Unlock()
	a.allowed = nil
	a.playouts.Store(0)
	if a.player != nil {
		a.player.Reset()
	}
	return nil
}

// SetKomi sets the komi of the current and any later bound engine.
func (a *Adapter) SetKomi(_ context.Context, komi float64) error {
	a.stopSearch()
	defer a.mu.Unlock()
	a.komi = komi
	if a.player != nil {
		a.player.SetKomi(komi)
	}
	return nil
}

// SetConfiguration forwards key to the bound engine. Unknown keys and bad
// values are configuration errors.
func (a *Adapter) SetConfiguration(_ context.Context, key, value string) error {
	a.stopSearch()
	defer a.mu.Unlock()
	if a.player == nil {
		return fmt.Errorf("%w: %w", cluster.ErrConfiguration, ErrNoPlayer)
	}
	if err := a.player.SetConfiguration(key, value); err != nil {
		return fmt.Errorf("%w: %w", cluster.ErrConfiguration, err)
	}
	return nil
}

// AdvanceGame plays p and re-applies the point restriction, which the
// engine forgets on every board change.
func (a *Adapter) AdvanceGame(_ context.Context, p board.Point) error {
	a.stopSearch()
	defer a.mu.Unlock()
	if a.player == nil {
		return ErrNoPlayer
	}
	if err := a.player.AcceptMove(p); err != nil {
		return err
	}
	a.applyRestriction()
	return nil
}

// Undo takes back the last move and re-applies the point restriction.
func (a *Adapter) Undo(context.Context) error {
	a.stopSearch()
	defer a.mu.Unlock()
	if a.player == nil {
		return ErrNoPlayer
	}
	if err := a.player.Undo(); err != nil {
		return err
	}
	a.applyRestriction()
	return nil
}

// BindPlayer replaces the engine with a fresh one from the registry. The
// game restarts from the empty board.
func (a *Adapter) BindPlayer(_ context.Context, name string, size int) error {
	p, err := a.registry.New(name, size)
	if err != nil {
		return fmt.Errorf("%w: %w", cluster.ErrConfiguration, err)
	}
	a.stopSearch()
	defer a.mu.Unlock()
	p.SetKomi(a.komi)
	a.player = p
	a.bound = name
	a.allowed = nil
	a.playouts.Store(0)
	a.publishIdentity()
	log.Printf("worker[%s]: bound player %s on %dx%d", a.name, name, size, size)
	return nil
}

// RestrictToPoints limits move generation to points (PASS is always
// allowed). An empty list lifts the restriction.
func (a *Adapter) RestrictToPoints(_ context.Context, points []board.Point) error {
	a.stopSearch()
	defer a.mu.Unlock()
	if len(points) == 0 {
		a.allowed = nil
	} else {
		a.allowed = make(map[board.Point]bool, len(points))
		for _, p := range points {
			a.allowed[p] = true
		}
	}
	if a.player != nil {
		a.player.Exclude(nil)
		a.applyRestriction()
	}
	return nil
}

// applyRestriction excludes every on-board point outside the allowed set.
// Callers hold mu.
func (a *Adapter) applyRestriction() {
	if a.allowed == nil || a.player == nil {
		return
	}
	n := a.player.Board().Slots() - 1
	excluded := make([]board.Point, 0, n)
	for p := board.Point(0); int(p) < n; p++ {
		if !a.allowed[p] {
			excluded = append(excluded, p)
		}
	}
	a.player.Exclude(excluded)
}

// BeginSearch schedules a search and returns without waiting for it.
func (a *Adapter) BeginSearch(context.Context) error {
	a.stopSearch()
	defer a.mu.Unlock()
	if a.player == nil {
		return ErrNoPlayer
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	p, id := a.player, a.id
	a.searches.Add(1)
	go a.search(ctx, p, id)
	return nil
}

func (a *Adapter) search(ctx context.Context, p player.Player, id int) {
	defer a.searches.Done()

	a.mu.Lock()
	if ctx.Err() != nil || a.player != p {
		a.mu.Unlock()
		return
	}
	before := p.TotalPlayouts()
	start := time.Now()
	best := p.BestMove(ctx)
	runs, wins := p.Tables()
	done := p.TotalPlayouts() - before
	a.playouts.Add(done)
	vertex := p.Board().Format(best)
	a.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	log.Printf("worker[%s]: searched %d playouts in %v, best %s", a.name, done, time.Since(start).Round(time.Millisecond), vertex)

	rctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := a.reporter.ReportResults(rctx, cluster.Report{SearcherID: id, Runs: runs, Wins: wins}); err != nil {
		log.Printf("worker[%s]: report lost: %v", a.name, err)
	}
}

// stopSearch cancels a running search and returns with mu held.
func (a *Adapter) stopSearch() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.mu.Lock()
}

// TotalPlayouts answers without waiting for a running search.
func (a *Adapter) TotalPlayouts(context.Context) (int64, error) {
	return a.playouts.Load(), nil
}

// Identity describes the worker. It answers while a search holds the
// engine.
func (a *Adapter) Identity(context.Context) (cluster.Identity, error) {
	return *a.identity.Load(), nil
}

// publishIdentity refreshes the snapshot Identity serves. Callers hold mu,
// except NewAdapter.
func (a *Adapter) publishIdentity() {
	id := cluster.Identity{Name: a.name, ID: a.id, Player: a.bound}
	if a.player != nil {
		id.BoardSize = a.player.Board().Size()
	}
	a.identity.Store(&id)
}

// Wait blocks until every scheduled search has finished reporting.
func (a *Adapter) Wait() {
	a.searches.Wait()
}
