// Package board implements the Go board shared by the coordinator and every
// search worker: point numbering, legality, feasibility and scoring.
package board

import (
	"errors"
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// ErrIllegal is returned by Play for occupied points, suicide, ko and
// situational superko repetitions.
var ErrIllegal = errors.New("illegal move")

// Color of a point or of the player to move.
type Color int8

const (
	Empty Color = iota
	Black
	White
)

// Opponent returns the other player's color. Empty stays Empty.
func (c Color) Opponent() Color {
	switch c {
	case Black:
		return White
	case White:
		return Black
	}
	return Empty
}

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case White:
		return "white"
	}
	return "empty"
}

// Point indexes a board location. On-board points are numbered row-major
// from the lower-left corner, 0 .. size*size-1. The pass move is size*size,
// which is also the last slot of every per-point statistics array.
type Point int

// NoPoint marks the absence of a point (no ko, no candidate).
const NoPoint Point = -1

// MinSize and MaxSize bound the supported board sizes.
const (
	MinSize = 2
	MaxSize = 19
)

type snapshot struct {
	cells  []Color
	toPlay Color
	ko     Point
	passes int
	last   Point
}

// Board is a mutable Go position with full move history for Undo.
// A Board is not safe for concurrent use.
type Board struct {
	cells     []Color
	neighbors [][]Point
	diagonals [][]Point
	history   []snapshot
	seen      map[uint64]int
	moves     []Point
	size      int
	toPlay    Color
	ko        Point
	passes    int
	last      Point
	mark      []int
	libMark   []int
	markGen   int
}

// New returns an empty board of the given size with black to play.
func New(size int) (*Board, error) {
	if size < MinSize || size > MaxSize {
		return nil, fmt.Errorf("board size %d out of range [%d, %d]", size, MinSize, MaxSize)
	}
	n := size * size
	b := &Board{
		size:      size,
		cells:     make([]Color, n),
		neighbors: make([][]Point, n),
		diagonals: make([][]Point, n),
		mark:      make([]int, n),
		libMark:   make([]int, n),
	}
	for p := 0; p < n; p++ {
		x, y := p%size, p/size
		for _, d := range [][2]int{{0, 1}, {1, 0}, {0, -1}, {-1, 0}} {
			if nx, ny := x+d[0], y+d[1]; nx >= 0 && ny >= 0 && nx < size && ny < size {
				b.neighbors[p] = append(b.neighbors[p], Point(ny*size+nx))
			}
		}
		for _, d := range [][2]int{{1, 1}, {1, -1}, {-1, -1}, {-1, 1}} {
			if nx, ny := x+d[0], y+d[1]; nx >= 0 && ny >= 0 && nx < size && ny < size {
				b.diagonals[p] = append(b.diagonals[p], Point(ny*size+nx))
			}
		}
	}
	b.Clear()
	return b, nil
}

// MustNew is New for sizes known to be valid.
func MustNew(size int) *Board {
	b, err := New(size)
	if err != nil {
		panic(err)
	}
	return b
}

// Clear empties the board and forgets the history.
func (b *Board) Clear() {
	for i := range b.cells {
		b.cells[i] = Empty
	}
	b.toPlay = Black
	b.ko = NoPoint
	b.passes = 0
	b.last = NoPoint
	b.history = b.history[:0]
	b.moves = b.moves[:0]
	b.seen = map[uint64]int{b.Hash(): 1}
}

// Size returns the board edge length.
func (b *Board) Size() int { return b.size }

// Pass returns the pass point for this board size.
func (b *Board) Pass() Point { return Point(b.size * b.size) }

// Slots is the length of a per-point statistics array: every on-board
// point plus PASS.
func (b *Board) Slots() int { return b.size*b.size + 1 }

// ColorToPlay returns the side to move.
func (b *Board) ColorToPlay() Color { return b.toPlay }

// At returns the color occupying p.
func (b *Board) At(p Point) Color {
	if !b.OnBoard(p) {
		return Empty
	}
	return b.cells[p]
}

// OnBoard reports whether p is a real board location.
func (b *Board) OnBoard(p Point) bool { return p >= 0 && int(p) < len(b.cells) }

// Ko returns the point currently forbidden by the simple ko rule.
func (b *Board) Ko() Point { return b.ko }

// LastMove returns the last point played, or NoPoint.
func (b *Board) LastMove() Point { return b.last }

// Passes returns the number of consecutive passes.
func (b *Board) Passes() int { return b.passes }

// Moves returns the points played since the last Clear.
func (b *Board) Moves() []Point { return append([]Point(nil), b.moves...) }

// Neighbors returns the orthogonal neighbors of p.
func (b *Board) Neighbors(p Point) []Point { return b.neighbors[p] }

// VacantPoints returns every empty on-board point in ascending order.
func (b *Board) VacantPoints() []Point {
	out := make([]Point, 0, len(b.cells))
	for i, c := range b.cells {
		if c == Empty {
			out = append(out, Point(i))
		}
	}
	return out
}

// Hash identifies the position (stones and side to move).
func (b *Board) Hash() uint64 {
	buf := make([]byte, len(b.cells)+1)
	for i, c := range b.cells {
		buf[i] = byte(c)
	}
	buf[len(b.cells)] = byte(b.toPlay)
	return xxhash.Checksum64(buf)
}

// Copy returns an independent copy of the position. The move history is
// carried over so the copy can still detect superko repetitions, but Undo
// on the copy is limited to moves played after the copy was taken.
func (b *Board) Copy() *Board {
	c := &Board{
		size:      b.size,
		cells:     append([]Color(nil), b.cells...),
		neighbors: b.neighbors,
		diagonals: b.diagonals,
		mark:      make([]int, len(b.cells)),
		libMark:   make([]int, len(b.cells)),
		moves:     append([]Point(nil), b.moves...),
		toPlay:    b.toPlay,
		ko:        b.ko,
		passes:    b.passes,
		last:      b.last,
		seen:      make(map[uint64]int, len(b.seen)),
	}
	for h, n := range b.seen {
		c.seen[h] = n
	}
	return c
}

// IsLegal reports whether the side to move may play p: PASS always, or an
// empty point that is not the ko point and is not suicide.
func (b *Board) IsLegal(p Point) bool {
	if p == b.Pass() {
		return true
	}
	if !b.OnBoard(p) || b.cells[p] != Empty || p == b.ko {
		return false
	}
	me := b.toPlay
	for _, n := range b.neighbors[p] {
		switch b.cells[n] {
		case Empty:
			return true
		case me:
			if b.liberties(n, p) > 0 {
				return true
			}
		default:
			if b.liberties(n, p) == 0 {
				return true
			}
		}
	}
	return false
}

// IsFeasible reports whether p is worth considering: PASS, or any point that
// would not fill one of the mover's own eyes.
func (b *Board) IsFeasible(p Point) bool {
	if p == b.Pass() {
		return true
	}
	return b.OnBoard(p) && !b.isEye(p, b.toPlay)
}

func (b *Board) isEye(p Point, c Color) bool {
	if b.cells[p] != Empty {
		return false
	}
	for _, n := range b.neighbors[p] {
		if b.cells[n] != c {
			return false
		}
	}
	bad := 0
	for _, d := range b.diagonals[p] {
		if b.cells[d] == c.Opponent() {
			bad++
		}
	}
	if len(b.diagonals[p]) < 4 {
		return bad == 0
	}
	return bad < 2
}

// Play puts a stone for the side to move on p (or passes) and switches
// turns. Situational superko repetitions are rejected.
func (b *Board) Play(p Point) error {
	if !b.IsLegal(p) {
		return fmt.Errorf("%w: %s", ErrIllegal, b.Format(p))
	}
	b.history = append(b.history, b.snapshot())
	b.place(p)
	h := b.Hash()
	if p != b.Pass() && b.seen[h] > 0 {
		b.restore(b.history[len(b.history)-1])
		b.history = b.history[:len(b.history)-1]
		return fmt.Errorf("%w: %s repeats a position", ErrIllegal, b.Format(p))
	}
	b.seen[h]++
	b.moves = append(b.moves, p)
	return nil
}

// PlayFast plays a move without history, used inside random playouts on a
// scratch copy. The move must already be known to be legal.
func (b *Board) PlayFast(p Point) {
	b.place(p)
}

// Undo takes back the last move played with Play.
func (b *Board) Undo() error {
	if len(b.history) == 0 {
		return errors.New("no move to undo")
	}
	h := b.Hash()
	if b.seen[h]--; b.seen[h] <= 0 {
		delete(b.seen, h)
	}
	b.restore(b.history[len(b.history)-1])
	b.history = b.history[:len(b.history)-1]
	b.moves = b.moves[:len(b.moves)-1]
	return nil
}

func (b *Board) snapshot() snapshot {
	return snapshot{
		cells:  append([]Color(nil), b.cells...),
		toPlay: b.toPlay,
		ko:     b.ko,
		passes: b.passes,
		last:   b.last,
	}
}

func (b *Board) restore(s snapshot) {
	copy(b.cells, s.cells)
	b.toPlay = s.toPlay
	b.ko = s.ko
	b.passes = s.passes
	b.last = s.last
}

func (b *Board) place(p Point) {
	me := b.toPlay
	b.toPlay = me.Opponent()
	b.last = p
	if p == b.Pass() {
		b.passes++
		b.ko = NoPoint
		return
	}
	b.passes = 0
	b.cells[p] = me
	captured, lastCaptured := 0, NoPoint
	for _, n := range b.neighbors[p] {
		if b.cells[n] == me.Opponent() && b.liberties(n, NoPoint) == 0 {
			captured += b.removeGroup(n)
			lastCaptured = n
		}
	}
	b.ko = NoPoint
	if captured == 1 && b.groupSize(p) == 1 && b.liberties(p, NoPoint) == 1 {
		b.ko = lastCaptured
	}
}

// liberties counts the liberties of the group at p, treating extra (if on
// the board) as an occupied point.
func (b *Board) liberties(p, extra Point) int {
	b.markGen++
	gen := b.markGen
	color := b.cells[p]
	stack := []Point{p}
	b.mark[p] = gen
	libs := 0
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range b.neighbors[cur] {
			switch {
			case b.cells[n] == Empty && n != extra:
				if b.libMark[n] != gen {
					b.libMark[n] = gen
					libs++
				}
			case b.cells[n] == color && b.mark[n] != gen:
				b.mark[n] = gen
				stack = append(stack, n)
			}
		}
	}
	return libs
}

func (b *Board) groupSize(p Point) int {
	b.markGen++
	gen := b.markGen
	color := b.cells[p]
	stack := []Point{p}
	b.mark[p] = gen
	size := 0
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		size++
		for _, n := range b.neighbors[cur] {
			if b.cells[n] == color && b.mark[n] != gen {
				b.mark[n] = gen
				stack = append(stack, n)
			}
		}
	}
	return size
}

func (b *Board) removeGroup(p Point) int {
	color := b.cells[p]
	stack := []Point{p}
	b.cells[p] = Empty
	removed := 0
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		removed++
		for _, n := range b.neighbors[cur] {
			if b.cells[n] == color {
				b.cells[n] = Empty
				stack = append(stack, n)
			}
		}
	}
	return removed
}

// Score returns black's area score minus white's score minus komi.
// Empty regions count for a color only when bordered by that color alone.
func (b *Board) Score(komi float64) float64 {
	score := -komi
	b.markGen++
	gen := b.markGen
	for i, c := range b.cells {
		switch {
		case c == Black:
			score++
		case c == White:
			score--
		case b.mark[i] != gen:
			region, borders := b.region(Point(i), gen)
			switch borders {
			case 1 << Black:
				score += float64(region)
			case 1 << White:
				score -= float64(region)
			}
		}
	}
	return score
}

func (b *Board) region(p Point, gen int) (int, int) {
	stack := []Point{p}
	b.mark[p] = gen
	size, borders := 0, 0
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		size++
		for _, n := range b.neighbors[cur] {
			switch c := b.cells[n]; {
			case c != Empty:
				borders |= 1 << c
			case b.mark[n] != gen:
				b.mark[n] = gen
				stack = append(stack, n)
			}
		}
	}
	return size, borders
}
