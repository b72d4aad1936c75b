package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewHealthMonitor verifies the defaults of a fresh monitor.
func TestNewHealthMonitor(t *testing.T) {
	monitor := NewHealthMonitor(5 * time.Second)
	defer monitor.Stop()

	assert.Equal(t, 5*time.Second, monitor.interval)
	assert.Equal(t, 2*time.Second, monitor.timeout)
	assert.Equal(t, 1, monitor.maxFailures)
	assert.Empty(t, monitor.workers)

	monitor.SetMaxFailures(0)
	assert.Equal(t, 1, monitor.maxFailures)
	monitor.SetMaxFailures(3)
	assert.Equal(t, 3, monitor.maxFailures)
}

// TestHealthMonitorProbesWorkers verifies every listed worker is probed
// repeatedly.
func TestHealthMonitorProbesWorkers(t *testing.T) {
	monitor := NewHealthMonitor(50 * time.Millisecond)
	defer monitor.Stop()

	var mu sync.Mutex
	probes := map[int]int{}
	monitor.SetCheckFunction(func(_ context.Context, id int) error {
		mu.Lock()
		defer mu.Unlock()
		probes[id]++
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx, func() []Member { return []Member{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}} })

	// Initial probe plus at least two ticks.
	time.Sleep(180 * time.Millisecond)

	mu.Lock()
	assert.GreaterOrEqual(t, probes[1], 3)
	assert.GreaterOrEqual(t, probes[2], 3)
	mu.Unlock()
	assert.True(t, monitor.IsHealthy(1))
	assert.Len(t, monitor.GetAllWorkerHealth(), 2)
}

// TestHealthMonitorFailureAndRecovery verifies the unhealthy transition
// fires the callback once and a later success recovers the worker.
func TestHealthMonitorFailureAndRecovery(t *testing.T) {
	monitor := NewHealthMonitor(30 * time.Millisecond)
	defer monitor.Stop()
	monitor.SetMaxFailures(2)

	var mu sync.Mutex
	failing := true
	monitor.SetCheckFunction(func(_ context.Context, id int) error {
		mu.Lock()
		defer mu.Unlock()
		if id == 1 && failing {
			return errors.New("no answer")
		}
		return nil
	})
	var calls []int
	monitor.SetOnUnhealthy(func(id int) {
		mu.Lock()
		calls = append(calls, id)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx, func() []Member { return []Member{{ID: 1}, {ID: 2}} })

	time.Sleep(200 * time.Millisecond)
	assert.False(t, monitor.IsHealthy(1))
	assert.True(t, monitor.IsHealthy(2))
	health := monitor.GetWorkerHealth(1)
	require.NotNil(t, health)
	assert.Equal(t, "unhealthy", health.Status)
	assert.GreaterOrEqual(t, health.ConsecutiveFails, 2)
	mu.Lock()
	assert.Equal(t, []int{1}, calls)
	failing = false
	mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	assert.True(t, monitor.IsHealthy(1))
	assert.Zero(t, monitor.GetWorkerHealth(1).ConsecutiveFails)
}

// TestHealthMonitorForgetsRemovedWorkers verifies records follow the
// provider.
func TestHealthMonitorForgetsRemovedWorkers(t *testing.T) {
	monitor := NewHealthMonitor(30 * time.Millisecond)
	defer monitor.Stop()
	monitor.SetCheckFunction(func(context.Context, int) error { return nil })

	var mu sync.Mutex
	workers := []Member{{ID: 1}, {ID: 2}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx, func() []Member {
		mu.Lock()
		defer mu.Unlock()
		return append([]Member(nil), workers...)
	})

	time.Sleep(80 * time.Millisecond)
	assert.NotNil(t, monitor.GetWorkerHealth(2))

	mu.Lock()
	workers = workers[:1]
	mu.Unlock()
	time.Sleep(80 * time.Millisecond)
	assert.Nil(t, monitor.GetWorkerHealth(2))
	assert.NotNil(t, monitor.GetWorkerHealth(1))
}

// TestHealthMonitorStop verifies no probes happen after Stop.
func TestHealthMonitorStop(t *testing.T) {
	monitor := NewHealthMonitor(20 * time.Millisecond)

	var mu sync.Mutex
	count := 0
	monitor.SetCheckFunction(func(context.Context, int) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	go monitor.Start(context.Background(), func() []Member { return []Member{{ID: 1}} })
	time.Sleep(70 * time.Millisecond)
	monitor.Stop()

	mu.Lock()
	before := count
	mu.Unlock()
	time.Sleep(70 * time.Millisecond)
	mu.Lock()
	after := count
	mu.Unlock()

	assert.Positive(t, before)
	assert.Equal(t, before, after)
}

// TestMonitorEvictsDeadWorker verifies the wired monitor removes a worker
// that stops answering.
func TestMonitorEvictsDeadWorker(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	alive := newFake(c)
	dead := newFake(c)
	aliveID := addFake(t, c, alive)
	deadID := addFake(t, c, dead)

	assert.NoError(t, c.Probe(context.Background(), deadID))
	dead.failOn("TotalPlayouts", errDown)
	assert.Error(t, c.Probe(context.Background(), deadID))
	assert.ErrorIs(t, c.Probe(context.Background(), 42), ErrUnknownWorker)

	monitor := c.Monitor(20 * time.Millisecond)
	defer monitor.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx, c.Workers)

	require.Eventually(t, func() bool { return len(c.Workers()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, aliveID, c.Workers()[0].ID)
}
