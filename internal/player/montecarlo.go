package player

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dreamware/tenuki/internal/board"
)

// KeyPlayouts caps the number of playouts of one MonteCarlo search.
const KeyPlayouts = "playouts"

// MonteCarlo is a flat Monte Carlo engine: every playout starts with a
// uniformly chosen candidate and continues with random feasible moves until
// both sides pass. A candidate's wins count playouts won by the side that
// played it.
type MonteCarlo struct {
	base
	maxPlayouts int
}

// NewMonteCarlo returns a MonteCarlo engine for the given board size.
func NewMonteCarlo(size int) (Player, error) {
	b, err := newBase(size)
	if err != nil {
		return nil, err
	}
	return &MonteCarlo{base: b}, nil
}

// SetConfiguration accepts the common keys plus "playouts".
func (m *MonteCarlo) SetConfiguration(key, value string) error {
	if ok, err := m.setCommon(key, value); ok {
		return err
	}
	if key == KeyPlayouts {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: %s=%q", ErrBadValue, key, value)
		}
		m.maxPlayouts = n
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// BestMove runs playouts until the move time, the playout cap or ctx ends
// the search, and returns the candidate with the most wins (PASS when no
// candidate exists or none ever won).
func (m *MonteCarlo) BestMove(ctx context.Context) board.Point {
	m.clearTables()
	pass := m.board.Pass()
	cands := m.candidates()
	if len(cands) == 0 {
		return pass
	}
	ctx, cancel := m.searchContext(ctx)
	defer cancel()

	me := m.board.ColorToPlay()
	for n := 0; m.maxPlayouts == 0 || n < m.maxPlayouts; n++ {
		if n%16 == 0 && ctx.Err() != nil {
			break
		}
		c := cands[m.rng.Intn(len(cands))]
		m.runs[c]++
		m.total++
		if m.playout(c, me) {
			m.wins[c]++
		}
	}

	best := pass
	for _, c := range cands {
		if m.wins[c] > m.wins[best] {
			best = c
		}
	}
	return best
}

// playout plays first and then random moves on a scratch board, returning
// whether me wins the final position.
func (m *MonteCarlo) playout(first board.Point, me board.Color) bool {
	b := m.board.Copy()
	b.PlayFast(first)
	limit := 3 * b.Slots()
	for i := 0; i < limit && b.Passes() < 2; i++ {
		b.PlayFast(m.randomMove(b))
	}
	score := b.Score(m.komi)
	if me == board.Black {
		return score > 0
	}
	return score < 0
}

func (m *MonteCarlo) randomMove(b *board.Board) board.Point {
	vacant := b.VacantPoints()
	m.rng.Shuffle(len(vacant), func(i, j int) { vacant[i], vacant[j] = vacant[j], vacant[i] })
	for _, p := range vacant {
		if b.IsFeasible(p) && b.IsLegal(p) {
			return p
		}
	}
	return b.Pass()
}
