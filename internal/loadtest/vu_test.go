package loadtest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
)

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state VUState
		want  string
	}{
		{VUStateIdle, "idle"},
		{VUStateRunning, "running"},
		{VUStateStopping, "stopping"},
		{VUStateStopped, "stopped"},
		{VUState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("VUState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestVirtualUser_StartRunsOnce(t *testing.T) {
	var calls atomic.Int32
	ut := &UserType{
		Name:   "Nvidia",
		Weight: 20,
		OnStart: func(context.Context, *VirtualUser) error {
			calls.Add(1)
			return nil
		},
		Tasks: []Task{{Name: "follow_advertisement", Fn: noop}},
	}

	vu := NewVirtualUser(1, ut, nil, nil, nil, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, vu.Start(context.Background()))
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestVirtualUser_StartFailureRecorded(t *testing.T) {
	m := metrics.NewEngine()
	defer m.Stop()

	core, logs := observer.New(zap.WarnLevel)
	ut := &UserType{
		Name:    "Nvidia",
		Weight:  1,
		OnStart: func(context.Context, *VirtualUser) error { return errors.New("register: HTTP 500") },
		Tasks:   []Task{{Name: "t", Fn: noop}},
	}

	vu := NewVirtualUser(1, ut, nil, m, zap.New(core), nil)
	err := vu.Start(context.Background())
	require.Error(t, err)

	assert.Equal(t, int64(1), m.GetSnapshot().SetupFailures)
	assert.Equal(t, 1, logs.FilterMessage("on_start failed").Len())

	errs := m.GetErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, "Nvidia.on_start", errs[0].Name)
}

func TestVirtualUser_RunIterationRecordsTask(t *testing.T) {
	m := metrics.NewEngine()
	defer m.Stop()

	fail := errors.New("login failed")
	var n atomic.Int32
	ut := &UserType{
		Name:   "Nvidia",
		Weight: 1,
		Tasks: []Task{{Name: "follow_advertisement", Fn: func(context.Context, *VirtualUser) error {
			if n.Add(1) == 2 {
				return fail
			}
			return nil
		}}},
	}

	vu := NewVirtualUser(1, ut, nil, m, nil, nil)
	require.NoError(t, vu.RunIteration(context.Background()))
	assert.ErrorIs(t, vu.RunIteration(context.Background()), fail)
	require.NoError(t, vu.RunIteration(context.Background()))

	assert.Equal(t, int64(3), vu.GetIteration())
	assert.Equal(t, VUStateIdle, vu.GetState())

	stats := m.GetTaskStats()["Nvidia.follow_advertisement"]
	assert.Equal(t, int64(3), stats.Iterations)
	assert.Equal(t, int64(1), stats.Failures)
}

func TestVirtualUser_PanicBecomesFailedIteration(t *testing.T) {
	m := metrics.NewEngine()
	defer m.Stop()

	ut := &UserType{
		Name:   "Visitor",
		Weight: 1,
		Tasks: []Task{{Name: "listing", Fn: func(context.Context, *VirtualUser) error {
			panic("index out of range")
		}}},
	}

	vu := NewVirtualUser(1, ut, nil, m, nil, nil)
	err := vu.RunIteration(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTaskPanic))
	assert.Contains(t, err.Error(), "index out of range")
	assert.Equal(t, int64(1), m.GetSnapshot().FailedIterations)
}

func TestVirtualUser_CancelledTaskNotRecorded(t *testing.T) {
	m := metrics.NewEngine()
	defer m.Stop()

	ut := &UserType{
		Name:   "Visitor",
		Weight: 1,
		Tasks: []Task{{Name: "listing", Fn: func(ctx context.Context, _ *VirtualUser) error {
			<-ctx.Done()
			return ctx.Err()
		}}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vu := NewVirtualUser(1, ut, nil, m, nil, nil)
	err := vu.RunIteration(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), m.GetSnapshot().TotalIterations)
}

func TestVirtualUser_RunIterationAfterStop(t *testing.T) {
	ut := &UserType{Name: "u", Weight: 1, Tasks: []Task{{Name: "t", Fn: noop}}}
	vu := NewVirtualUser(1, ut, nil, nil, nil, nil)

	vu.RequestStop()
	assert.Equal(t, VUStateStopping, vu.GetState())
	assert.True(t, vu.Stopping())

	err := vu.RunIteration(context.Background())
	assert.ErrorIs(t, err, ErrVUStopped)
}

func TestVirtualUser_WaitInterruptedByStop(t *testing.T) {
	ut := &UserType{
		Name:     "Visitor",
		Weight:   1,
		WaitTime: Constant(time.Minute),
		Tasks:    []Task{{Name: "listing", Fn: noop}},
	}
	vu := NewVirtualUser(1, ut, nil, nil, nil, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		vu.RequestStop()
	}()

	start := time.Now()
	assert.False(t, vu.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestVirtualUser_WaitCompletes(t *testing.T) {
	ut := &UserType{
		Name:     "Visitor",
		Weight:   1,
		WaitTime: Between(10*time.Millisecond, 20*time.Millisecond),
		Tasks:    []Task{{Name: "listing", Fn: noop}},
	}
	vu := NewVirtualUser(1, ut, nil, nil, nil, nil)

	start := time.Now()
	assert.True(t, vu.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestVirtualUser_StopHook(t *testing.T) {
	var calls atomic.Int32
	ut := &UserType{
		Name:   "u",
		Weight: 1,
		OnStop: func(context.Context, *VirtualUser) error {
			calls.Add(1)
			return nil
		},
		Tasks: []Task{{Name: "t", Fn: noop}},
	}

	vu := NewVirtualUser(1, ut, nil, nil, nil, nil)
	require.NoError(t, vu.Start(context.Background()))
	vu.Stop(context.Background())
	vu.Stop(context.Background())
	assert.Equal(t, int32(1), calls.Load())
}

func TestVirtualUser_StopHookSkippedAfterFailedStart(t *testing.T) {
	var calls atomic.Int32
	ut := &UserType{
		Name:    "u",
		Weight:  1,
		OnStart: func(context.Context, *VirtualUser) error { return errors.New("boom") },
		OnStop: func(context.Context, *VirtualUser) error {
			calls.Add(1)
			return nil
		},
		Tasks: []Task{{Name: "t", Fn: noop}},
	}

	vu := NewVirtualUser(1, ut, nil, nil, nil, nil)
	require.Error(t, vu.Start(context.Background()))
	vu.Stop(context.Background())
	assert.Equal(t, int32(0), calls.Load())
}

func TestVirtualUser_Data(t *testing.T) {
	ut := &UserType{Name: "u", Weight: 1, Tasks: []Task{{Name: "t", Fn: noop}}}
	vu := NewVirtualUser(1, ut, nil, nil, nil, nil)

	vu.SetData("page", 3)
	v, ok := vu.GetData("page")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	vu.ClearData("page")
	_, ok = vu.GetData("page")
	assert.False(t, ok)
}

func TestVirtualUser_MarkStopped(t *testing.T) {
	ut := &UserType{Name: "u", Weight: 1, Tasks: []Task{{Name: "t", Fn: noop}}}
	vu := NewVirtualUser(1, ut, nil, nil, nil, nil)

	assert.False(t, vu.WaitForStop(10*time.Millisecond))
	vu.MarkStopped()
	vu.MarkStopped()
	assert.True(t, vu.WaitForStop(10*time.Millisecond))
	assert.Equal(t, VUStateStopped, vu.GetState())
}
