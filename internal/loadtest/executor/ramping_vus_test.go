package executor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/storeload/internal/loadtest/executor"
	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
)

func TestRampingVUs_Init(t *testing.T) {
	e := executor.NewRampingVUs()
	if e.Type() != executor.TypeRampingVUs {
		t.Errorf("Type() = %v, want %v", e.Type(), executor.TypeRampingVUs)
	}

	valid := &executor.Config{
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: 30 * time.Second, Target: 10},
			{Duration: time.Minute, Target: 10},
			{Duration: 30 * time.Second, Target: 0},
		},
	}
	if err := e.Init(context.Background(), valid); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := executor.NewRampingVUs().Init(context.Background(), &executor.Config{Type: executor.TypeRampingVUs}); err == nil {
		t.Error("Init() expected error for missing stages")
	}
	if err := executor.NewRampingVUs().Init(context.Background(), &executor.Config{Type: executor.TypeConstantVUs, VUs: 1, Duration: time.Second}); err == nil {
		t.Error("Init() expected error for wrong type")
	}
}

func TestRampingVUs_RampUpAndDown(t *testing.T) {
	m := metrics.NewEngine()
	defer m.Stop()

	var calls atomic.Int64
	s := newTestScheduler(t, m, countingUserType("Nvidia", 1, &calls, 0))

	e := executor.NewRampingVUs()
	if err := e.Init(context.Background(), &executor.Config{
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: 300 * time.Millisecond, Target: 6, Name: "ramp"},
			{Duration: 300 * time.Millisecond, Target: 6, Name: "hold"},
			{Duration: 300 * time.Millisecond, Target: 0, Name: "down"},
		},
	}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	var (
		peak       atomic.Int64
		sawRampUp  atomic.Bool
		sawSteady  atomic.Bool
		stopSample = make(chan struct{})
		sampled    = make(chan struct{})
	)
	go func() {
		defer close(sampled)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopSample:
				return
			case <-ticker.C:
				if n := int64(e.GetActiveVUs()); n > peak.Load() {
					peak.Store(n)
				}
				switch m.GetPhase() {
				case metrics.PhaseRampUp:
					sawRampUp.Store(true)
				case metrics.PhaseSteady:
					sawSteady.Store(true)
				}
			}
		}
	}()

	if err := e.Run(context.Background(), s, m); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	close(stopSample)
	<-sampled

	if peak.Load() != 6 {
		t.Errorf("peak active VUs = %d, want 6", peak.Load())
	}
	if !sawRampUp.Load() || !sawSteady.Load() {
		t.Errorf("phases seen: rampUp=%v steady=%v, want both", sawRampUp.Load(), sawSteady.Load())
	}
	if e.GetActiveVUs() != 0 {
		t.Errorf("GetActiveVUs() after Run = %d, want 0", e.GetActiveVUs())
	}

	stats := e.GetStats()
	if stats.TotalStages != 3 {
		t.Errorf("TotalStages = %d, want 3", stats.TotalStages)
	}
	if stats.CurrentStageName != "down" {
		t.Errorf("CurrentStageName = %q, want down", stats.CurrentStageName)
	}
	if m.GetPhase() != metrics.PhaseDone {
		t.Errorf("phase = %v, want %v", m.GetPhase(), metrics.PhaseDone)
	}
}

func TestRampingVUs_StopEarly(t *testing.T) {
	m := metrics.NewEngine()
	defer m.Stop()

	var calls atomic.Int64
	s := newTestScheduler(t, m, countingUserType("Nvidia", 1, &calls, 0))

	e := executor.NewRampingVUs()
	if err := e.Init(context.Background(), &executor.Config{
		Type:   executor.TypeRampingVUs,
		Stages: []executor.Stage{{Duration: time.Minute, Target: 3}},
	}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), s, m) }()

	time.Sleep(200 * time.Millisecond)
	if err := e.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}
