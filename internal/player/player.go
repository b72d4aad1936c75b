// Package player defines the single-machine search engine consumed by the
// coordinator and by every worker, and the registry that binds engine names
// to constructors.
package player

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/bszcz/mt19937_64"

	"github.com/dreamware/tenuki/internal/board"
)

var (
	// ErrUnknownKey is returned by SetConfiguration for keys the engine does
	// not recognize.
	ErrUnknownKey = errors.New("unknown configuration key")
	// ErrBadValue is returned by SetConfiguration when a recognized key gets
	// a value it cannot parse.
	ErrBadValue = errors.New("bad configuration value")
)

// Configuration keys understood by every engine.
const (
	KeyMoveTime = "moveTimeMsec"
	KeySeed     = "seed"
)

// Player is a local search engine owning its own board.
//
// BestMove blocks until the search budget is spent (or ctx is done) and
// leaves per-point run and win tables sized board-plus-PASS behind, readable
// with Playouts and Wins until the next search or board change.
// Implementations are not safe for concurrent use.
type Player interface {
	Board() *board.Board
	Reset()
	SetKomi(komi float64)
	Komi() float64
	SetConfiguration(key, value string) error
	AcceptMove(p board.Point) error
	Undo() error
	BestMove(ctx context.Context) board.Point
	Wins(p board.Point) int64
	Playouts(p board.Point) int64
	// Tables returns copies of the run and win tables of the last search.
	Tables() (runs, wins []int64)
	// Exclude removes points from move generation until the board changes.
	Exclude(points []board.Point)
	// TotalPlayouts counts playouts completed since the last Reset.
	TotalPlayouts() int64
}

// base carries the state every engine shares: board, komi, exclusions,
// statistics tables and the common configuration keys.
type base struct {
	board    *board.Board
	rng      *rand.Rand
	excluded map[board.Point]bool
	runs     []int64
	wins     []int64
	komi     float64
	moveTime time.Duration
	total    int64
}

func newBase(size int) (base, error) {
	b, err := board.New(size)
	if err != nil {
		return base{}, err
	}
	rng := rand.New(mt19937_64.New())
	rng.Seed(time.Now().UnixNano())
	return base{
		board:    b,
		rng:      rng,
		runs:     make([]int64, b.Slots()),
		wins:     make([]int64, b.Slots()),
		moveTime: time.Second,
		komi:     7.5,
	}, nil
}

func (e *base) Board() *board.Board { return e.board }

func (e *base) Reset() {
	e.board.Clear()
	e.excluded = nil
	e.total = 0
	e.clearTables()
}

func (e *base) SetKomi(komi float64) { e.komi = komi }

func (e *base) Komi() float64 { return e.komi }

func (e *base) AcceptMove(p board.Point) error {
	if err := e.board.Play(p); err != nil {
		return err
	}
	e.excluded = nil
	return nil
}

func (e *base) Undo() error {
	if err := e.board.Undo(); err != nil {
		return err
	}
	e.excluded = nil
	return nil
}

func (e *base) Wins(p board.Point) int64 {
	if p < 0 || int(p) >= len(e.wins) {
		return 0
	}
	return e.wins[p]
}

func (e *base) Playouts(p board.Point) int64 {
	if p < 0 || int(p) >= len(e.runs) {
		return 0
	}
	return e.runs[p]
}

func (e *base) Tables() ([]int64, []int64) {
	return append([]int64(nil), e.runs...), append([]int64(nil), e.wins...)
}

func (e *base) Exclude(points []board.Point) {
	e.excluded = make(map[board.Point]bool, len(points))
	for _, p := range points {
		e.excluded[p] = true
	}
}

func (e *base) TotalPlayouts() int64 { return e.total }

// setCommon handles the keys shared by all engines. It reports whether the
// key was recognized.
func (e *base) setCommon(key, value string) (bool, error) {
	switch key {
	case KeyMoveTime:
		ms, err := strconv.Atoi(value)
		if err != nil || ms <= 0 {
			return true, fmt.Errorf("%w: %s=%q", ErrBadValue, key, value)
		}
		e.moveTime = time.Duration(ms) * time.Millisecond
		return true, nil
	case KeySeed:
		seed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return true, fmt.Errorf("%w: %s=%q", ErrBadValue, key, value)
		}
		e.rng.Seed(seed)
		return true, nil
	}
	return false, nil
}

func (e *base) clearTables() {
	for i := range e.runs {
		e.runs[i] = 0
		e.wins[i] = 0
	}
}

// candidates lists the legal, feasible, non-excluded points for the side to
// move. PASS is never included.
func (e *base) candidates() []board.Point {
	var out []board.Point
	for _, p := range e.board.VacantPoints() {
		if e.excluded[p] {
			continue
		}
		if e.board.IsLegal(p) && e.board.IsFeasible(p) {
			out = append(out, p)
		}
	}
	return out
}

// searchContext bounds ctx by the engine's own move time.
func (e *base) searchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.moveTime)
}
