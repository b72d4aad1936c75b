package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// WorkerHealth tracks the liveness of one worker between rounds.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type WorkerHealth struct {
	LastCheck        time.Time // Timestamp of the last probe
	LastHealthy      time.Time // Timestamp of the last successful probe
	Name             string    // Worker name as registered
	Status           string    // "healthy", "unhealthy" or "unknown"
	ID               int       // Worker id assigned by the coordinator
	ConsecutiveFails int       // Number of consecutive failed probes
}

// HealthMonitor periodically probes the active workers so that a worker
// that died between moves is evicted before the next round instead of
// costing that round a BeginSearch timeout.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	workers     map[int]*WorkerHealth                   // Current health per worker id
	checkFunc   func(ctx context.Context, id int) error // Probe of one worker
	onUnhealthy func(id int)                            // Called once when a worker turns unhealthy
	ctx         context.Context                         // Context for cancellation
	cancel      context.CancelFunc                      // Cancel function for shutdown
	interval    time.Duration                           // How often to probe
	timeout     time.Duration                           // Bound of a single probe
	mu          sync.RWMutex                            // Protects workers
	wg          sync.WaitGroup                          // Wait group for graceful shutdown
	maxFailures int                                     // Failures before marking unhealthy
}

// NewHealthMonitor creates a monitor probing every interval. A worker is
// marked unhealthy after the first failed probe; use SetMaxFailures to be
// more lenient.
//
// Example:
//
//	monitor := NewHealthMonitor(5 * time.Second)
//	monitor.SetCheckFunction(coord.Probe)
//	monitor.SetOnUnhealthy(coord.RemoveWorker)
//	go monitor.Start(ctx, coord.Workers)
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 1,
		workers:     make(map[int]*WorkerHealth),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Monitor returns a health monitor wired to c: it probes with Probe and
// evicts with RemoveWorker. The caller starts it with Start(ctx, c.Workers).
func (c *Coordinator) Monitor(interval time.Duration) *HealthMonitor {
	m := NewHealthMonitor(interval)
	m.SetCheckFunction(c.Probe)
	m.SetOnUnhealthy(c.RemoveWorker)
	return m
}

// Probe asks worker id for its playout total. It does not evict.
func (c *Coordinator) Probe(ctx context.Context, id int) error {
	c.mu.Lock()
	var h *handle
	for _, w := range c.workers {
		if w.id == id {
			h = w
			break
		}
	}
	c.mu.Unlock()
	if h == nil {
		return fmt.Errorf("%w: %d", ErrUnknownWorker, id)
	}
	return c.call(ctx, func(ctx context.Context) error {
		_, err := h.searcher.TotalPlayouts(ctx)
		return err
	})
}

// SetOnUnhealthy sets the callback invoked when a worker becomes
// unhealthy. It runs on its own goroutine.
func (h *HealthMonitor) SetOnUnhealthy(callback func(id int)) {
	h.onUnhealthy = callback
}

// SetMaxFailures sets how many consecutive failures mark a worker
// unhealthy.
func (h *HealthMonitor) SetMaxFailures(n int) {
	if n > 0 {
		h.maxFailures = n
	}
}

// Start probes the workers returned by provider every interval and blocks
// until ctx or the monitor is cancelled.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []Member) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = func(context.Context, int) error { return errors.New("no probe configured") }
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log.Printf("health monitor: started with interval %v", h.interval)

	h.checkAll(ctx, provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(ctx, provider())
		case <-ctx.Done():
			log.Println("health monitor: stopping, context cancelled")
			return
		case <-h.ctx.Done():
			log.Println("health monitor: stopping")
			return
		}
	}
}

// Stop cancels the monitor and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAll probes every listed worker and forgets workers no longer listed.
func (h *HealthMonitor) checkAll(ctx context.Context, workers []Member) {
	current := make(map[int]bool, len(workers))
	for _, w := range workers {
		current[w.ID] = true
		h.checkWorker(ctx, w)
	}

	h.mu.Lock()
	for id := range h.workers {
		if !current[id] {
			delete(h.workers, id)
		}
	}
	h.mu.Unlock()
}

// checkWorker probes one worker and updates its record.
//
// Implementation:
//  1. Get or create the health record
//  2. Probe with the monitor's timeout, without holding the lock
//  3. Count consecutive failures, reset them on success
//  4. Fire onUnhealthy once on the transition to unhealthy
func (h *HealthMonitor) checkWorker(ctx context.Context, w Member) {
	h.mu.Lock()
	health, exists := h.workers[w.ID]
	if !exists {
		health = &WorkerHealth{
			ID:          w.ID,
			Name:        w.Name,
			Status:      "unknown",
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.workers[w.ID] = health
	}
	h.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.checkFunc(pctx, w.ID)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		log.Printf("health monitor: probe of worker %s (id %d) failed (%d/%d): %v",
			w.Name, w.ID, health.ConsecutiveFails, h.maxFailures, err)

		if health.ConsecutiveFails >= h.maxFailures {
			previous := health.Status
			health.Status = "unhealthy"
			if previous != "unhealthy" && h.onUnhealthy != nil {
				go h.onUnhealthy(w.ID)
			}
		}
		return
	}

	if health.Status == "unhealthy" {
		log.Printf("health monitor: worker %s (id %d) recovered", w.Name, w.ID)
	}
	health.Status = "healthy"
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// GetWorkerHealth returns a copy of the record for id, or nil if the worker
// is not monitored.
func (h *HealthMonitor) GetWorkerHealth(id int) *WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.workers[id]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllWorkerHealth returns copies of every record keyed by worker id.
func (h *HealthMonitor) GetAllWorkerHealth() map[int]*WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[int]*WorkerHealth, len(h.workers))
	for id, health := range h.workers {
		cp := *health
		result[id] = &cp
	}
	return result
}

// IsHealthy reports whether the last probe of id succeeded.
func (h *HealthMonitor) IsHealthy(id int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.workers[id]
	return exists && health.Status == "healthy"
}

// SetCheckFunction replaces the probe.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, id int) error) {
	h.checkFunc = checkFunc
}
