package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tenuki/internal/board"
	"github.com/dreamware/tenuki/internal/cluster"
	"github.com/dreamware/tenuki/internal/player"
)

// chanReporter delivers reports on a channel.
type chanReporter struct {
	reports chan cluster.Report
	fail    atomic.Bool
}

func newChanReporter() *chanReporter {
	return &chanReporter{reports: make(chan cluster.Report, 16)}
}

func (r *chanReporter) ReportResults(_ context.Context, rep cluster.Report) error {
	if r.fail.Load() {
		return &cluster.CallError{Target: "coordinator", Outcome: cluster.OutcomeUnreachable}
	}
	r.reports <- rep
	return nil
}

func (r *chanReporter) next(t *testing.T) cluster.Report {
	t.Helper()
	select {
	case rep := <-r.reports:
		return rep
	case <-time.After(5 * time.Second):
		t.Fatal("no report arrived")
	}
	return cluster.Report{}
}

func (r *chanReporter) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case rep := <-r.reports:
		t.Fatalf("unexpected report from searcher %d", rep.SearcherID)
	case <-time.After(wait):
	}
}

// gatedPlayer blocks BestMove until released or cancelled.
type gatedPlayer struct {
	player.Player
	release chan struct{}
}

func (g *gatedPlayer) BestMove(ctx context.Context) board.Point {
	select {
	case <-ctx.Done():
	case <-g.release:
	}
	return g.Player.BestMove(ctx)
}

func testRegistry(release chan struct{}) *player.Registry {
	r := player.Default()
	_ = r.Register("gated", func(size int) (player.Player, error) {
		p, err := player.NewRandom(size)
		if err != nil {
			return nil, err
		}
		return &gatedPlayer{Player: p, release: release}, nil
	})
	return r
}

func newBoundAdapter(t *testing.T, name string, size int) (*Adapter, *chanReporter, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	rep := newChanReporter()
	a := NewAdapter("w1", testRegistry(release), rep)
	require.NoError(t, a.SetID(context.Background(), 7))
	require.NoError(t, a.BindPlayer(context.Background(), name, size))
	return a, rep, release
}

// TestBeginSearchDoesNotBlock checks that BeginSearch returns while the
// engine is still searching and the report arrives afterwards.
func TestBeginSearchDoesNotBlock(t *testing.T) {
	a, rep, release := newBoundAdapter(t, "gated", 5)

	start := time.Now()
	require.NoError(t, a.BeginSearch(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	rep.none(t, 50*time.Millisecond)

	close(release)
	got := rep.next(t)
	assert.Equal(t, 7, got.SearcherID)
	assert.Len(t, got.Runs, 26)
	assert.Len(t, got.Wins, 26)
	a.Wait()

	n, err := a.TotalPlayouts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// TestIdentityDuringSearch checks Identity and TotalPlayouts answer while
// the engine is busy.
func TestIdentityDuringSearch(t *testing.T) {
	a, rep, release := newBoundAdapter(t, "gated", 5)
	require.NoError(t, a.BeginSearch(context.Background()))
	rep.none(t, 20*time.Millisecond)

	answered := make(chan cluster.Identity, 1)
	go func() {
		id, _ := a.Identity(context.Background())
		answered <- id
	}()
	select {
	case id := <-answered:
		assert.Equal(t, cluster.Identity{Name: "w1", ID: 7, Player: "gated", BoardSize: 5}, id)
	case <-time.After(time.Second):
		t.Fatal("Identity blocked behind the search")
	}

	close(release)
	rep.next(t)
	a.Wait()
}

// TestBoardChangeDiscardsRunningSearch checks that a move played during a
// search cancels it without a report.
func TestBoardChangeDiscardsRunningSearch(t *testing.T) {
	a, rep, _ := newBoundAdapter(t, "gated", 5)

	require.NoError(t, a.BeginSearch(context.Background()))
	require.NoError(t, a.AdvanceGame(context.Background(), 12))
	a.Wait()
	rep.none(t, 50*time.Millisecond)

	id, err := a.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cluster.Identity{Name: "w1", ID: 7, Player: "gated", BoardSize: 5}, id)
}

// TestRestrictionSurvivesMoves checks the restriction is reapplied after
// every move even though the engine forgets it.
func TestRestrictionSurvivesMoves(t *testing.T) {
	a, rep, _ := newBoundAdapter(t, player.NameRandom, 3)
	ctx := context.Background()
	require.NoError(t, a.RestrictToPoints(ctx, []board.Point{4, 8}))

	searchOnce := func() board.Point {
		require.NoError(t, a.BeginSearch(ctx))
		got := rep.next(t)
		for p, n := range got.Runs {
			if n > 0 {
				return board.Point(p)
			}
		}
		t.Fatal("empty report")
		return board.NoPoint
	}

	for i := 0; i < 10; i++ {
		assert.Contains(t, []board.Point{4, 8}, searchOnce())
	}

	require.NoError(t, a.AdvanceGame(ctx, 4))
	for i := 0; i < 10; i++ {
		assert.Equal(t, board.Point(8), searchOnce())
	}

	require.NoError(t, a.Undo(ctx))
	for i := 0; i < 10; i++ {
		assert.Contains(t, []board.Point{4, 8}, searchOnce())
	}

	// Lifting the restriction opens the whole board again.
	require.NoError(t, a.RestrictToPoints(ctx, nil))
	seen := map[board.Point]bool{}
	for i := 0; i < 60; i++ {
		seen[searchOnce()] = true
	}
	assert.Greater(t, len(seen), 2)
}

// TestConfigurationErrors checks unknown players and keys are reported as
// configuration errors.
func TestConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter("w1", player.Default(), newChanReporter())

	assert.ErrorIs(t, a.AdvanceGame(ctx, 0), ErrNoPlayer)
	assert.ErrorIs(t, a.BeginSearch(ctx), ErrNoPlayer)
	assert.ErrorIs(t, a.SetConfiguration(ctx, player.KeyMoveTime, "10"), cluster.ErrConfiguration)

	err := a.BindPlayer(ctx, "gnugo", 9)
	assert.ErrorIs(t, err, cluster.ErrConfiguration)
	assert.ErrorIs(t, err, player.ErrUnknownPlayer)

	require.NoError(t, a.BindPlayer(ctx, player.NameMonteCarlo, 9))
	assert.NoError(t, a.SetConfiguration(ctx, player.KeyPlayouts, "10"))
	err = a.SetConfiguration(ctx, "resign", "0.1")
	assert.ErrorIs(t, err, cluster.ErrConfiguration)
	assert.ErrorIs(t, err, player.ErrUnknownKey)

	assert.ErrorIs(t, a.AdvanceGame(ctx, 500), board.ErrIllegal)
}

// TestLostReportIsDropped checks a search whose report cannot be delivered
// leaves the adapter usable.
func TestLostReportIsDropped(t *testing.T) {
	a, rep, _ := newBoundAdapter(t, player.NameRandom, 5)
	rep.fail.Store(true)
	require.NoError(t, a.BeginSearch(context.Background()))
	a.Wait()

	rep.fail.Store(false)
	require.NoError(t, a.BeginSearch(context.Background()))
	rep.next(t)
}

// TestServedOverLoopback drives the adapter through the Searcher contract
// and has it report back through the Reporter contract.
func TestServedOverLoopback(t *testing.T) {
	net := cluster.NewLoopback()
	rep := newChanReporter()
	require.NoError(t, net.Bind("coordinator", cluster.ServeReporter(rep)))
	coordConn, err := net.Dial("coordinator")
	require.NoError(t, err)

	a := NewAdapter("w1", player.Default(), cluster.NewRemoteReporter(coordConn))
	require.NoError(t, net.Bind("w1", cluster.ServeSearcher(a)))
	conn, err := net.Dial("w1")
	require.NoError(t, err)
	s := cluster.NewRemoteSearcher(conn)

	ctx := context.Background()
	require.NoError(t, s.SetID(ctx, 2))
	require.NoError(t, s.BindPlayer(ctx, player.NameRandom, 9))
	require.NoError(t, s.SetKomi(ctx, 0.5))
	require.NoError(t, s.Reset(ctx))
	require.NoError(t, s.AdvanceGame(ctx, 40))
	require.NoError(t, s.BeginSearch(ctx))

	got := rep.next(t)
	assert.Equal(t, 2, got.SearcherID)
	assert.Len(t, got.Runs, 82)
	assert.Zero(t, got.Runs[40], "occupied point cannot be searched")

	err = s.SetConfiguration(ctx, "nope", "1")
	assert.ErrorIs(t, err, cluster.ErrConfiguration)
	assert.False(t, cluster.IsCommunication(err))
}
