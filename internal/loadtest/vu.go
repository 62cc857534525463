package loadtest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is actively running a task.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated user of a given UserType.
//
// Each VU has its own:
// - HTTP client with a private cookie jar (its session)
// - random source (task selection, wait times, catalog picks)
// - data scope (per-user helpers and state kept between tasks)
// - iteration counter and lifecycle
type VirtualUser struct {
	ID       int
	UserType *UserType
	Client   *Client
	Metrics  *metrics.Engine
	Logger   *zap.Logger

	rng *rand.Rand

	state atomic.Int32

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once

	startOnce sync.Once
	startErr  error
	hookOnce  sync.Once

	iteration atomic.Int64

	data   map[string]any
	dataMu sync.RWMutex
}

// NewVirtualUser creates a new Virtual User. A nil logger discards logs and
// a nil rng is seeded randomly.
func NewVirtualUser(id int, userType *UserType, client *Client, metricsEngine *metrics.Engine, logger *zap.Logger, rng *rand.Rand) *VirtualUser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), uint64(id)))
	}
	return &VirtualUser{
		ID:       id,
		UserType: userType,
		Client:   client,
		Metrics:  metricsEngine,
		Logger:   logger.With(zap.Int("vu", id), zap.String("user", userType.Name)),
		rng:      rng,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		data:     make(map[string]any),
	}
}

// Rand returns the VU's random source. It must only be used from the VU's goroutine.
func (vu *VirtualUser) Rand() *rand.Rand {
	return vu.rng
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Start runs the user type's OnStart hook. The hook runs at most once per
// VU; later calls return the first result.
func (vu *VirtualUser) Start(ctx context.Context) error {
	vu.startOnce.Do(func() {
		if vu.UserType.OnStart == nil {
			return
		}
		vu.startErr = vu.call(ctx, vu.UserType.OnStart)
		if vu.startErr != nil && ctx.Err() == nil {
			if vu.Metrics != nil {
				vu.Metrics.RecordSetupFailure(vu.UserType.Name, vu.startErr)
			}
			vu.Logger.Warn("on_start failed", zap.Error(vu.startErr))
		}
	})
	return vu.startErr
}

// RunIteration picks one task by weight and runs it.
//
// The task result is recorded unless the run was cancelled mid-task. A panic
// inside the task is returned as an error wrapping ErrTaskPanic.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	currentState := vu.GetState()
	if currentState == VUStateStopping || currentState == VUStateStopped {
		return fmt.Errorf("VU %d: %w", vu.ID, ErrVUStopped)
	}

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	vu.iteration.Add(1)

	task := vu.UserType.pickTask(vu.rng)
	start := time.Now()
	err := vu.call(ctx, task.Fn)
	duration := time.Since(start)

	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	if vu.Metrics != nil {
		vu.Metrics.RecordTask(vu.UserType.Name, task.Name, duration, err)
	}
	if err != nil {
		vu.Logger.Debug("task failed", zap.String("task", task.Name), zap.Error(err))
	}
	return err
}

func (vu *VirtualUser) call(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return fn(ctx, vu)
}

// Wait sleeps for the user type's wait time or until stopped.
// It returns false if the VU was stopped or ctx was cancelled.
func (vu *VirtualUser) Wait(ctx context.Context) bool {
	d := vu.UserType.waitTime(vu.rng)
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-vu.stopCh:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Stop runs the user type's OnStop hook at most once. Hooks are skipped when
// OnStart failed.
func (vu *VirtualUser) Stop(ctx context.Context) {
	vu.hookOnce.Do(func() {
		if vu.UserType.OnStop == nil || vu.startErr != nil {
			return
		}
		if err := vu.call(ctx, vu.UserType.OnStop); err != nil {
			vu.Logger.Debug("on_stop failed", zap.Error(err))
		}
	})
}

// RequestStop signals the VU to stop after completing the current task.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		vu.stopOnce.Do(func() { close(vu.stopCh) })
	}
}

// Stopping reports whether a stop was requested.
func (vu *VirtualUser) Stopping() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		s := vu.GetState()
		return s == VUStateStopping || s == VUStateStopped
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
// Should be called by the scheduler when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.stopOnce.Do(func() { close(vu.stopCh) })
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}

// SetData stores a value in the VU's data scope.
func (vu *VirtualUser) SetData(key string, value any) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	vu.data[key] = value
}

// GetData retrieves a value from the VU's data scope.
func (vu *VirtualUser) GetData(key string) (any, bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	val, ok := vu.data[key]
	return val, ok
}

// ClearData removes a value from the VU's data scope.
func (vu *VirtualUser) ClearData(key string) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	delete(vu.data, key)
}

// IsCancellation reports whether err comes from a cancelled or expired context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
