// Package book provides opening books consulted by the coordinator before
// it fans a move decision out to its workers.
package book

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/tenuki/internal/board"
)

// Book suggests a move for a position, if it knows one.
type Book interface {
	NextMove(b *board.Board) (board.Point, bool)
}

// None is a book that never has a move.
type None struct{}

func (None) NextMove(*board.Board) (board.Point, bool) { return board.NoPoint, false }

// Line is one book entry: the moves leading to a position, from the empty
// board, and the reply to play there.
type Line struct {
	Moves []string `yaml:"moves"`
	Reply string   `yaml:"reply"`
}

type file struct {
	Size  int    `yaml:"size"`
	Lines []Line `yaml:"lines"`
}

// Positions maps position hashes to replies for one board size.
type Positions struct {
	replies map[uint64]board.Point
	size    int
}

// New builds a book by replaying every line from the empty board.
func New(size int, lines []Line) (*Positions, error) {
	p := &Positions{size: size, replies: make(map[uint64]board.Point, len(lines))}
	for i, l := range lines {
		b, err := board.New(size)
		if err != nil {
			return nil, err
		}
		for _, v := range l.Moves {
			m, err := b.Parse(v)
			if err != nil {
				return nil, fmt.Errorf("book line %d: %w", i, err)
			}
			if err := b.Play(m); err != nil {
				return nil, fmt.Errorf("book line %d: %w", i, err)
			}
		}
		reply, err := b.Parse(l.Reply)
		if err != nil {
			return nil, fmt.Errorf("book line %d: %w", i, err)
		}
		if !b.IsLegal(reply) {
			return nil, fmt.Errorf("book line %d: reply %s is illegal", i, l.Reply)
		}
		p.replies[b.Hash()] = reply
	}
	return p, nil
}

// Load reads a YAML book file.
func Load(path string) (*Positions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read book: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML book.
func Parse(data []byte) (*Positions, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode book: %w", err)
	}
	return New(f.Size, f.Lines)
}

// Len returns the number of known positions.
func (p *Positions) Len() int { return len(p.replies) }

// Size is the board size the book was built for.
func (p *Positions) Size() int { return p.size }

// NextMove returns the stored reply for b's position when it is still legal.
func (p *Positions) NextMove(b *board.Board) (board.Point, bool) {
	if b.Size() != p.size {
		return board.NoPoint, false
	}
	m, ok := p.replies[b.Hash()]
	if !ok || !b.IsLegal(m) {
		return board.NoPoint, false
	}
	return m, true
}
