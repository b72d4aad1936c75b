package history

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ErrNotFound is returned when no decision was recorded for a ply.
var ErrNotFound = errors.New("no decision recorded")

// Source says what decided a move.
type Source string

const (
	SourceBook    Source = "book"
	SourceWorkers Source = "workers"
	SourceLocal   Source = "local"
)

// Decision describes how one move was chosen.
type Decision struct {
	Source    Source        `json:"source"`
	Color     string        `json:"color"`
	Vertex    string        `json:"vertex"`
	Policy    string        `json:"policy,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Runs      int64         `json:"runs"`
	Hash      uint64        `json:"hash"`
	Ply       int           `json:"ply"`
	Reporting int           `json:"reporting"`
	Missing   int           `json:"missing"`
	Dropped   int           `json:"dropped"`
}

// Log keeps the decisions of the current game, one per ply.
// All implementations must be safe for concurrent use.
type Log interface {
	// Record stores d, replacing any decision already kept for d.Ply.
	Record(d Decision) error

	// Get returns the decision for ply or ErrNotFound.
	Get(ply int) (Decision, error)

	// Truncate drops every decision after ply. Truncate(0) empties the log.
	Truncate(ply int)

	// List returns the decisions in ply order.
	List() []Decision

	Stats() Stats
}

// Stats summarizes a log.
type Stats struct {
	Decisions int   `json:"decisions"`
	Runs      int64 `json:"runs"`
	Book      int   `json:"book"`
	Local     int   `json:"local"`
	Partial   int   `json:"partial"` // decided with workers missing
}

// MemoryLog implements Log in memory.
type MemoryLog struct {
	mu   sync.RWMutex
	data map[int]Decision
}

// NewMemoryLog returns an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{data: make(map[int]Decision)}
}

// Record implements Log.
func (m *MemoryLog) Record(d Decision) error {
	if d.Ply < 1 {
		return errors.New("ply must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[d.Ply] = d
	return nil
}

// Get implements Log.
func (m *MemoryLog) Get(ply int) (Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.data[ply]
	if !ok {
		return Decision{}, ErrNotFound
	}
	return d, nil
}

// Truncate implements Log.
func (m *MemoryLog) Truncate(ply int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.DeleteFunc(m.data, func(p int, _ Decision) bool { return p > ply })
}

// List implements Log.
func (m *MemoryLog) List() []Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Decision, 0, len(m.data))
	for _, d := range m.data {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Decision) int { return a.Ply - b.Ply })
	return out
}

// Stats implements Log.
func (m *MemoryLog) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, d := range m.data {
		s.Decisions++
		s.Runs += d.Runs
		switch d.Source {
		case SourceBook:
			s.Book++
		case SourceLocal:
			s.Local++
		}
		if d.Missing > 0 {
			s.Partial++
		}
	}
	return s
}
