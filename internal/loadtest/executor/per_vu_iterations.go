package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/storeload/internal/loadtest"
	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
)

// PerVUIterations starts a fixed number of users and lets each run a fixed
// number of task iterations.
//
// The scenario ends when every user has finished its iterations, or when the
// optional Duration expires. Useful for smoke tests and reproducible runs.
type PerVUIterations struct {
	config  *Config
	metrics *metrics.Engine
	pool    *vuPool

	startTime time.Time
	running   atomic.Bool

	cancelFunc context.CancelFunc
	mu         sync.RWMutex
}

// NewPerVUIterations creates a new per-VU iterations executor.
func NewPerVUIterations() *PerVUIterations {
	return &PerVUIterations{}
}

// Type returns the executor type.
func (e *PerVUIterations) Type() Type {
	return TypePerVUIterations
}

// Init initializes the executor with configuration.
func (e *PerVUIterations) Init(ctx context.Context, config *Config) error {
	if config.Type != TypePerVUIterations {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypePerVUIterations, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *PerVUIterations) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.config.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.config.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	vuCtx, cancelVUs := context.WithCancel(ctx)
	defer cancelVUs()

	e.mu.Lock()
	e.metrics = metricsEngine
	e.pool = &vuPool{scheduler: scheduler}
	e.startTime = time.Now()
	e.cancelFunc = cancel
	e.mu.Unlock()
	e.running.Store(true)

	limiter := e.config.newLimiter()
	if limiter != nil {
		e.metrics.SetPhase(metrics.PhaseRampUp)
	} else {
		e.metrics.SetPhase(metrics.PhaseSteady)
	}

	spawned := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		scheduler.ScaleVUs(runCtx, e.config.VUs, limiter, func(vu *loadtest.VirtualUser) {
			e.pool.start(vuCtx, vu, e.config.Iterations)
		})
		close(spawned)
		if runCtx.Err() == nil {
			e.metrics.SetPhase(metrics.PhaseSteady)
		}
		e.pool.wait()
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		// The pool must not grow while it is drained.
		<-spawned
		e.metrics.SetPhase(metrics.PhaseRampDown)
		e.pool.drain(e.config.gracefulStop(), cancelVUs)
		<-done
	}

	e.metrics.SetPhase(metrics.PhaseDone)
	e.running.Store(false)

	return nil
}

// GetProgress returns the share of planned iterations completed (0.0 to 1.0).
func (e *PerVUIterations) GetProgress() float64 {
	e.mu.RLock()
	pool, start := e.pool, e.startTime
	e.mu.RUnlock()

	if !e.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}

	total := e.totalIterations()
	if total == 0 || pool == nil {
		return 0.0
	}

	progress := float64(pool.iterations()) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

func (e *PerVUIterations) totalIterations() int64 {
	return int64(e.config.VUs) * e.config.Iterations
}

// GetActiveVUs returns current active VU count.
func (e *PerVUIterations) GetActiveVUs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pool == nil {
		return 0
	}
	return e.pool.activeVUs()
}

// GetStats returns executor statistics.
func (e *PerVUIterations) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := &Stats{
		StartTime:       e.startTime,
		CurrentTime:     time.Now(),
		TotalDuration:   e.config.Duration,
		TargetVUs:       e.config.VUs,
		TotalIterations: e.totalIterations(),
	}
	if !e.startTime.IsZero() {
		stats.Elapsed = time.Since(e.startTime)
	}
	if e.pool != nil {
		stats.ActiveVUs = e.pool.activeVUs()
		stats.SpawnedVUs = e.pool.spawned()
		stats.Iterations = e.pool.iterations()
	}
	return stats
}

// Stop ends the scenario early and waits for users to finish their tasks.
func (e *PerVUIterations) Stop(ctx context.Context) error {
	e.mu.RLock()
	cancel, pool := e.cancelFunc, e.pool
	e.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if pool == nil {
		return nil
	}
	return waitPool(ctx, pool, e.config.gracefulStop())
}

// Ensure PerVUIterations implements Executor
var _ Executor = (*PerVUIterations)(nil)
