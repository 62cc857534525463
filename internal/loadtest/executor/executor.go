// Package executor provides load generation strategies for storefront load tests.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/wesleyorama2/storeload/internal/loadtest"
	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of users for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps the user count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypePerVUIterations runs a fixed number of task iterations per user.
	TypePerVUIterations Type = "per-vu-iterations"
)

// DefaultGracefulStop is how long running tasks may finish after a scenario ends.
const DefaultGracefulStop = 30 * time.Second

// Executor defines the interface for load generation strategies.
//
// Executors control HOW many simulated users run and for how long; what a
// user does is defined by its UserType. All executors are closed-model: a
// user runs its next task only after the previous one and its wait time.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until completion.
	// The executor should respect context cancellation for graceful shutdown.
	Run(ctx context.Context, scheduler *loadtest.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop gracefully stops the executor.
	// Called when the test needs to end early.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the name of this executor instance
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration of the scenario; an optional upper bound for per-vu-iterations
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Iterations per user (per-vu-iterations)
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// SpawnRate caps started users per second (0 = unlimited)
	SpawnRate float64 `json:"spawnRate,omitempty" yaml:"spawnRate,omitempty"`

	// Stages (for ramping executors)
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Graceful stop timeout
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target user count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs  int `json:"activeVUs"`
	TargetVUs  int `json:"targetVUs"`
	SpawnedVUs int `json:"spawnedVUs"`

	// Iteration stats
	Iterations      int64 `json:"iterations"`
	TotalIterations int64 `json:"totalIterations"` // per-vu-iterations only

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for _, s := range c.Stages {
			if s.Target < 0 {
				return &ValidationError{Field: "stages", Message: "stage target must be >= 0"}
			}
		}

	case TypePerVUIterations:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Iterations <= 0 {
			return &ValidationError{Field: "iterations", Message: "iterations must be > 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if c.SpawnRate < 0 {
		return &ValidationError{Field: "spawnRate", Message: "spawnRate must be >= 0"}
	}

	return nil
}

// TotalDuration calculates the planned duration for this executor.
// per-vu-iterations returns its optional upper bound (0 if unbounded).
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypePerVUIterations:
		return c.Duration

	case TypeRampingVUs:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop > 0 {
		return c.GracefulStop
	}
	return DefaultGracefulStop
}

// newLimiter returns the spawn rate limiter, or nil when spawning is
// unlimited. A burst of one spreads spawns evenly over each second.
func (c *Config) newLimiter() *rate.Limiter {
	if c.SpawnRate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.SpawnRate), 1)
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// vuPool tracks the users an executor started.
type vuPool struct {
	scheduler *loadtest.VUScheduler

	wg     sync.WaitGroup
	active atomic.Int32

	mu  sync.Mutex
	vus []*loadtest.VirtualUser
}

// start runs vu in its own goroutine until it stops.
func (p *vuPool) start(ctx context.Context, vu *loadtest.VirtualUser, maxIterations int64) {
	p.mu.Lock()
	p.vus = append(p.vus, vu)
	p.mu.Unlock()

	p.wg.Add(1)
	p.active.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.active.Add(-1)
		p.scheduler.RunVU(ctx, vu, maxIterations)
	}()
}

func (p *vuPool) activeVUs() int {
	return int(p.active.Load())
}

func (p *vuPool) spawned() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.vus)
}

func (p *vuPool) iterations() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total int64
	for _, vu := range p.vus {
		total += vu.GetIteration()
	}
	return total
}

// wait blocks until every started user has returned.
func (p *vuPool) wait() {
	p.wg.Wait()
}

// drain asks every user to stop after its current task, waits up to
// graceful and then cancels the users' context. It reports whether all
// users stopped within the grace period.
func (p *vuPool) drain(graceful time.Duration, cancelVUs context.CancelFunc) bool {
	p.scheduler.StopAllVUs()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(graceful)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		cancelVUs()
		<-done
		return false
	}
}
