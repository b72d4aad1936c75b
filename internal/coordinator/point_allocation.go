package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/tenuki/internal/board"
)

// PointAllocation partitions the on-board points among the active workers
// for the balanced policy, so that each worker searches a disjoint slice of
// the candidate moves.
//
// The allocation maintains two guarantees after every Rebalance:
//   - subsets are pairwise disjoint: a point has exactly one owner
//   - the union of all subsets is the full point universe 0 .. n-1
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│         PointAllocation             │
//	├─────────────────────────────────────┤
//	│  owners: point → worker id          │
//	│  numPoints: size*size               │
//	│  mu: RWMutex for thread safety      │
//	├─────────────────────────────────────┤
//	│  workers [1 2 3], 9 points:         │
//	│  1 ← {0,3,6}  2 ← {1,4,7}  3 ← {2,5,8}│
//	└─────────────────────────────────────┘
//
// Concurrency Model:
//   - Owns/Owner are read by the aggregator while reports arrive
//   - Rebalance replaces the whole mapping under the write lock
//   - Returned slices are copies
//
// PASS is never allocated; every worker may always report it.
type PointAllocation struct {
	// owners maps each on-board point to the id of the worker searching it.
	// Empty until the first Rebalance with at least one worker.
	owners map[board.Point]int

	// mu protects owners.
	mu sync.RWMutex

	// numPoints is the size of the point universe (size*size).
	numPoints int
}

// NewPointAllocation creates an empty allocation over numPoints points.
func NewPointAllocation(numPoints int) *PointAllocation {
	return &PointAllocation{
		owners:    make(map[board.Point]int),
		numPoints: numPoints,
	}
}

// Rebalance redistributes every point across the given workers in
// round-robin order: point i goes to ids[i % len(ids)]. The ids are taken in
// the order given; the coordinator passes them in ascending id order so the
// result is deterministic.
//
// Rebalancing happens on every membership change:
//   - after a worker is added
//   - after a worker is removed or evicted
//
// An empty id list clears the allocation. Duplicate ids are rejected.
//
// Example:
//
//	alloc := NewPointAllocation(81)
//	_ = alloc.Rebalance([]int{1, 2})
//	alloc.Points(1) // [0 2 4 ... 80]
func (a *PointAllocation) Rebalance(ids []int) error {
	sorted := append([]int(nil), ids...)
	slices.Sort(sorted)
	if len(slices.Compact(sorted)) != len(ids) {
		return errors.New("duplicate worker id in allocation")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.owners = make(map[board.Point]int, a.numPoints)
	if len(ids) == 0 {
		return nil
	}
	for p := 0; p < a.numPoints; p++ {
		a.owners[board.Point(p)] = ids[p%len(ids)]
	}
	return nil
}

// Owner returns the worker searching p.
func (a *PointAllocation) Owner(p board.Point) (int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.owners[p]
	return id, ok
}

// Owns reports whether p is currently allocated to worker id.
func (a *PointAllocation) Owns(id int, p board.Point) bool {
	owner, ok := a.Owner(p)
	return ok && owner == id
}

// Points returns the points allocated to worker id in ascending order.
// The result is empty for unknown workers.
func (a *PointAllocation) Points(id int) []board.Point {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var points []board.Point
	for p, owner := range a.owners {
		if owner == id {
			points = append(points, p)
		}
	}
	slices.Sort(points)
	return points
}

// Subsets returns every worker's allocation.
func (a *PointAllocation) Subsets() map[int][]board.Point {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[int][]board.Point)
	for p, owner := range a.owners {
		out[owner] = append(out[owner], p)
	}
	for _, pts := range out {
		slices.Sort(pts)
	}
	return out
}

// String summarizes the allocation for logs.
func (a *PointAllocation) String() string {
	subsets := a.Subsets()
	ids := make([]int, 0, len(subsets))
	for id := range subsets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	s := fmt.Sprintf("%d points:", a.numPoints)
	for _, id := range ids {
		s += fmt.Sprintf(" w%d=%d", id, len(subsets[id]))
	}
	return s
}
