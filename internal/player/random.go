package player

import (
	"context"
	"fmt"

	"github.com/dreamware/tenuki/internal/board"
)

// Random picks a uniformly random candidate and records it as a single won
// playout. It is the coordinator's default move policy when no worker
// reports, and a cheap engine for tests.
type Random struct {
	base
}

// NewRandom returns a Random engine for the given board size.
func NewRandom(size int) (Player, error) {
	b, err := newBase(size)
	if err != nil {
		return nil, err
	}
	return &Random{base: b}, nil
}

// SetConfiguration accepts only the settings common to every engine.
func (r *Random) SetConfiguration(key, value string) error {
	if ok, err := r.setCommon(key, value); ok {
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// BestMove returns a random candidate, or PASS when there is none.
func (r *Random) BestMove(ctx context.Context) board.Point {
	r.clearTables()
	cands := r.candidates()
	p := r.board.Pass()
	if len(cands) > 0 {
		p = cands[r.rng.Intn(len(cands))]
	}
	r.runs[p] = 1
	r.wins[p] = 1
	r.total++
	return p
}
