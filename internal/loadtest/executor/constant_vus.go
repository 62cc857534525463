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

// ConstantVUs runs a fixed number of users for a specified duration.
//
// Users are spawned all at once, or at SpawnRate users per second when set.
// When the duration expires each user finishes its current task; users still
// busy after GracefulStop are cancelled.
//
// Use cases:
//   - Steady-state benchmark with a fixed user population
//   - Simple soak testing
type ConstantVUs struct {
	config  *Config
	metrics *metrics.Engine
	pool    *vuPool

	startTime time.Time
	running   atomic.Bool

	cancelFunc context.CancelFunc
	mu         sync.RWMutex
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
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

	scheduler.ScaleVUs(runCtx, e.config.VUs, limiter, func(vu *loadtest.VirtualUser) {
		e.pool.start(vuCtx, vu, 0)
	})

	if runCtx.Err() == nil {
		e.metrics.SetPhase(metrics.PhaseSteady)
	}

	<-runCtx.Done()

	e.metrics.SetPhase(metrics.PhaseRampDown)
	e.pool.drain(e.config.gracefulStop(), cancelVUs)

	e.metrics.SetPhase(metrics.PhaseDone)
	e.running.Store(false)

	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	if !e.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pool == nil {
		return 0
	}
	return e.pool.activeVUs()
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := &Stats{
		StartTime:     e.startTime,
		CurrentTime:   time.Now(),
		TotalDuration: e.config.Duration,
		TargetVUs:     e.config.VUs,
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
func (e *ConstantVUs) Stop(ctx context.Context) error {
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

// waitPool waits for all users of pool, bounded by ctx and graceful.
func waitPool(ctx context.Context, pool *vuPool, graceful time.Duration) error {
	done := make(chan struct{})
	go func() {
		pool.wait()
		close(done)
	}()

	timer := time.NewTimer(graceful)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("graceful stop timeout after %v", graceful)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
