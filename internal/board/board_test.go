package board

import (
	"bytes"
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pt(b *Board, x, y int) Point { return Point(y*b.Size() + x) }

func playAll(t *testing.T, b *Board, moves ...Point) {
	t.Helper()
	for _, m := range moves {
		require.NoError(t, b.Play(m), "move %s", b.Format(m))
	}
}

// TestNewBoardSize verifies size validation and the pass slot layout.
func TestNewBoardSize(t *testing.T) {
	_, err := New(1)
	assert.Error(t, err)
	_, err = New(20)
	assert.Error(t, err)

	b, err := New(9)
	require.NoError(t, err)
	assert.Equal(t, Point(81), b.Pass())
	assert.Equal(t, 82, b.Slots())
	assert.Len(t, b.VacantPoints(), 81)
	assert.Equal(t, Black, b.ColorToPlay())
}

// TestVertexRoundTrip checks GTP vertex conversion, including the skipped "I" column.
func TestVertexRoundTrip(t *testing.T) {
	b := MustNew(19)
	tests := []struct {
		vertex string
		point  Point
	}{
		{"A1", 0},
		{"H1", 7},
		{"J1", 8},
		{"T19", 360},
		{"pass", 361},
		{"d4", 3*19 + 3},
	}
	for _, tt := range tests {
		t.Run(tt.vertex, func(t *testing.T) {
			p, err := b.Parse(tt.vertex)
			require.NoError(t, err)
			assert.Equal(t, tt.point, p)
			assert.Equal(t, strings.ToUpper(tt.vertex), strings.ToUpper(b.Format(p)))
		})
	}

	for _, bad := range []string{"", "I5", "Z1", "A0", "A20", "A"} {
		_, err := b.Parse(bad)
		assert.Error(t, err, bad)
	}
}

// TestCaptureAndKo builds a ko shape and checks the immediate recapture is illegal.
func TestCaptureAndKo(t *testing.T) {
	b := MustNew(5)
	playAll(t, b,
		pt(b, 1, 3), pt(b, 2, 3),
		pt(b, 0, 2), pt(b, 1, 2),
		pt(b, 1, 1), pt(b, 3, 2),
		b.Pass(), pt(b, 2, 1),
		pt(b, 2, 2),
	)

	assert.Equal(t, Empty, b.At(pt(b, 1, 2)), "white stone should be captured")
	assert.Equal(t, pt(b, 1, 2), b.Ko())
	assert.Equal(t, White, b.ColorToPlay())
	assert.False(t, b.IsLegal(pt(b, 1, 2)))
	assert.ErrorIs(t, b.Play(pt(b, 1, 2)), ErrIllegal)

	// Playing elsewhere lifts the ko.
	playAll(t, b, pt(b, 4, 4), pt(b, 4, 0))
	assert.True(t, b.IsLegal(pt(b, 1, 2)))
}

// TestSuicideIsIllegal checks a stone without liberties that captures nothing.
func TestSuicideIsIllegal(t *testing.T) {
	b := MustNew(5)
	playAll(t, b, pt(b, 4, 4), pt(b, 1, 0), pt(b, 4, 3), pt(b, 0, 1))

	assert.Equal(t, Black, b.ColorToPlay())
	assert.False(t, b.IsLegal(pt(b, 0, 0)))
	assert.ErrorIs(t, b.Play(pt(b, 0, 0)), ErrIllegal)
	assert.True(t, b.IsLegal(b.Pass()))
}

// TestFeasibilityRejectsOwnEye checks that filling one's own eye is legal but not feasible.
func TestFeasibilityRejectsOwnEye(t *testing.T) {
	b := MustNew(5)
	playAll(t, b, pt(b, 1, 0), pt(b, 4, 4), pt(b, 0, 1), pt(b, 4, 3))

	corner := pt(b, 0, 0)
	assert.True(t, b.IsLegal(corner))
	assert.False(t, b.IsFeasible(corner))
	assert.True(t, b.IsFeasible(pt(b, 2, 2)))
	assert.True(t, b.IsFeasible(b.Pass()))
}

// TestUndoRestoresPosition verifies Undo returns to the exact previous position.
func TestUndoRestoresPosition(t *testing.T) {
	b := MustNew(5)
	playAll(t, b, pt(b, 2, 2))
	before := b.Hash()

	playAll(t, b, pt(b, 2, 3))
	assert.NotEqual(t, before, b.Hash())

	require.NoError(t, b.Undo())
	assert.Equal(t, before, b.Hash())
	assert.Equal(t, White, b.ColorToPlay())
	assert.Equal(t, []Point{pt(b, 2, 2)}, b.Moves())

	require.NoError(t, b.Undo())
	assert.Error(t, b.Undo())
}

// TestCopyIsIndependent ensures moves on a copy never leak into the original.
func TestCopyIsIndependent(t *testing.T) {
	b := MustNew(5)
	c := b.Copy()
	playAll(t, c, pt(c, 0, 0))
	assert.Equal(t, Empty, b.At(pt(b, 0, 0)))
	assert.Equal(t, Black, c.At(pt(c, 0, 0)))
}

// TestScore checks area scoring with komi.
func TestScore(t *testing.T) {
	b := MustNew(5)
	assert.Equal(t, -0.5, b.Score(0.5))

	playAll(t, b, pt(b, 2, 2))
	assert.Equal(t, 24.5, b.Score(0.5))

	playAll(t, b, pt(b, 0, 0))
	// Neutral territory now, only stones count.
	assert.Equal(t, 0.0, b.Score(0))
}

// TestRenderHeat verifies the text rendering marks stones and hot points.
func TestRenderHeat(t *testing.T) {
	b := MustNew(5)
	playAll(t, b, pt(b, 2, 2))

	heat := make([]int64, b.Slots())
	heat[pt(b, 3, 3)] = 10
	heat[b.Pass()] = 2

	out := termenv.NewOutput(&bytes.Buffer{}, termenv.WithProfile(termenv.Ascii))
	s := b.Render(out, heat)
	assert.Contains(t, s, "X")
	assert.Contains(t, s, "9")
	assert.Contains(t, s, "white to play, pass 2")
}
