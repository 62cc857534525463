package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/wesleyorama2/storeload/internal/loadtest"
	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
)

// controllerInterval is how often the ramping controller re-evaluates the target.
const controllerInterval = 100 * time.Millisecond

// RampingVUs ramps the user count up and down according to stages.
//
// The target is linearly interpolated inside each stage, so user counts
// change smoothly instead of step-wise. SpawnRate, when set, additionally
// caps how fast new users are started. Users removed on the way down are
// the most recently spawned ones and finish their current task first.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 210    # Ramp from 0 to 210 users over 30s
//	  - duration: 10m
//	    target: 210    # Hold
//	  - duration: 30s
//	    target: 0      # Ramp down
type RampingVUs struct {
	config  *Config
	metrics *metrics.Engine
	pool    *vuPool

	startTime    time.Time
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool

	cancelFunc context.CancelFunc
	mu         sync.RWMutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
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
	spawn := func(vu *loadtest.VirtualUser) {
		e.pool.start(vuCtx, vu, 0)
	}

	ticker := time.NewTicker(controllerInterval)
	defer ticker.Stop()

	e.adjust(runCtx, scheduler, limiter, spawn)
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
			e.adjust(runCtx, scheduler, limiter, spawn)
		}
	}

	e.metrics.SetPhase(metrics.PhaseRampDown)
	e.pool.drain(e.config.gracefulStop(), cancelVUs)

	e.metrics.SetPhase(metrics.PhaseDone)
	e.running.Store(false)

	return nil
}

// adjust moves the running user count towards the current target.
func (e *RampingVUs) adjust(ctx context.Context, scheduler *loadtest.VUScheduler, limiter *rate.Limiter, spawn func(*loadtest.VirtualUser)) {
	target := e.calculateTargetVUs(time.Since(e.startTime))
	e.targetVUs.Store(int32(target))
	e.updatePhase()
	scheduler.ScaleVUs(ctx, target, limiter, spawn)
}

// calculateTargetVUs calculates the target user count after elapsed time.
func (e *RampingVUs) calculateTargetVUs(elapsed time.Duration) int {
	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range e.config.Stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			e.currentStage.Store(int32(i))

			stageProgress := 1.0
			if stage.Duration > 0 {
				stageProgress = float64(elapsed-stageStart) / float64(stage.Duration)
			}
			if stageProgress < 0 {
				stageProgress = 0
			}
			if stageProgress > 1 {
				stageProgress = 1
			}

			targetVUs := float64(prevTarget) + float64(stage.Target-prevTarget)*stageProgress
			return int(targetVUs + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	if len(e.config.Stages) > 0 {
		e.currentStage.Store(int32(len(e.config.Stages) - 1))
		return e.config.Stages[len(e.config.Stages)-1].Target
	}
	return 0
}

// updatePhase updates the metrics phase based on the current stage.
func (e *RampingVUs) updatePhase() {
	stageIdx := int(e.currentStage.Load())
	if stageIdx >= len(e.config.Stages) {
		return
	}

	prevTarget := 0
	if stageIdx > 0 {
		prevTarget = e.config.Stages[stageIdx-1].Target
	}

	target := e.config.Stages[stageIdx].Target
	switch {
	case target > prevTarget:
		e.metrics.SetPhase(metrics.PhaseRampUp)
	case target < prevTarget:
		e.metrics.SetPhase(metrics.PhaseRampDown)
	default:
		e.metrics.SetPhase(metrics.PhaseSteady)
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	if !e.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}

	totalDuration := e.config.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pool == nil {
		return 0
	}
	return e.pool.activeVUs()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	if stageIdx < len(e.config.Stages) {
		stageName = e.config.Stages[stageIdx].Name
	}

	stats := &Stats{
		StartTime:        e.startTime,
		CurrentTime:      time.Now(),
		TotalDuration:    e.config.TotalDuration(),
		TargetVUs:        int(e.targetVUs.Load()),
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      len(e.config.Stages),
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
func (e *RampingVUs) Stop(ctx context.Context) error {
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

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
