package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	if engine == nil {
		t.Fatal("NewEngine() returned nil")
	}
	defer engine.Stop()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("Initial TotalRequests = %d, want 0", snapshot.TotalRequests)
	}
	if snapshot.CurrentPhase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.CurrentPhase, PhaseInit)
	}
}

func TestEngine_RecordRequest(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordRequest("listing-page", 10*time.Millisecond, true, 1000, nil)
	engine.RecordRequest("listing-page", 20*time.Millisecond, true, 2000, nil)
	engine.RecordRequest("listing-page", 30*time.Millisecond, false, 500, errors.New("HTTP 500"))

	snapshot := engine.GetSnapshot()

	if snapshot.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", snapshot.TotalRequests)
	}
	if snapshot.SuccessRequests != 2 {
		t.Errorf("SuccessRequests = %d, want 2", snapshot.SuccessRequests)
	}
	if snapshot.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snapshot.FailedRequests)
	}
	if snapshot.TotalBytes != 3500 {
		t.Errorf("TotalBytes = %d, want 3500", snapshot.TotalBytes)
	}

	stats := engine.GetRequestStats()["listing-page"]
	if stats.Requests != 3 || stats.Failures != 1 {
		t.Errorf("request stats = %d/%d, want 3/1", stats.Requests, stats.Failures)
	}
	if stats.Latency.Count != 3 {
		t.Errorf("request histogram count = %d, want 3", stats.Latency.Count)
	}

	errs := engine.GetErrors()
	if len(errs) != 1 || errs[0].Name != "listing-page" || errs[0].Message != "HTTP 500" {
		t.Errorf("GetErrors() = %+v", errs)
	}
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	for i := 1; i <= 10; i++ {
		engine.RecordRequest("", time.Duration(i*10)*time.Millisecond, true, 100, nil)
	}

	percentiles := engine.GetLatencyPercentiles()

	if percentiles.P50 < 40*time.Millisecond || percentiles.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms (±10ms)", percentiles.P50)
	}
	if percentiles.P99 < 90*time.Millisecond || percentiles.P99 > 110*time.Millisecond {
		t.Errorf("P99 = %v, want ~100ms (±10ms)", percentiles.P99)
	}
	if len(engine.GetRequestStats()) != 0 {
		t.Error("unnamed requests must not create per-request stats")
	}
}

func TestEngine_RecordTask(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordTask("Nvidia", "follow_advertisement", 100*time.Millisecond, nil)
	engine.RecordTask("Nvidia", "follow_advertisement", 120*time.Millisecond, errors.New("login failed"))
	engine.RecordTask("Visitor", "listing", time.Second, nil)

	snapshot := engine.GetSnapshot()
	if snapshot.TotalIterations != 3 {
		t.Errorf("TotalIterations = %d, want 3", snapshot.TotalIterations)
	}
	if snapshot.FailedIterations != 1 {
		t.Errorf("FailedIterations = %d, want 1", snapshot.FailedIterations)
	}

	tasks := engine.GetTaskStats()
	nv, ok := tasks["Nvidia.follow_advertisement"]
	if !ok {
		t.Fatal("missing Nvidia.follow_advertisement stats")
	}
	if nv.UserType != "Nvidia" || nv.Task != "follow_advertisement" {
		t.Errorf("task identity = %s/%s", nv.UserType, nv.Task)
	}
	if nv.Iterations != 2 || nv.Failures != 1 {
		t.Errorf("Nvidia iterations/failures = %d/%d, want 2/1", nv.Iterations, nv.Failures)
	}

	errs := engine.GetErrors()
	if len(errs) != 1 || errs[0].Name != "Nvidia.follow_advertisement" {
		t.Errorf("GetErrors() = %+v", errs)
	}
}

func TestEngine_SpawnAndSetup(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	for i := 0; i < 20; i++ {
		engine.RecordSpawn("Nvidia")
	}
	engine.RecordSpawn("Visitor")
	engine.RecordSetupFailure("Nvidia", errors.New("register: HTTP 500"))

	spawned := engine.GetSpawnedUsers()
	if spawned["Nvidia"] != 20 || spawned["Visitor"] != 1 {
		t.Errorf("spawned = %v", spawned)
	}

	snapshot := engine.GetSnapshot()
	if snapshot.SetupFailures != 1 {
		t.Errorf("SetupFailures = %d, want 1", snapshot.SetupFailures)
	}
	if snapshot.SpawnedUsers["Nvidia"] != 20 {
		t.Errorf("snapshot spawned Nvidia = %d, want 20", snapshot.SpawnedUsers["Nvidia"])
	}
}

func TestEngine_ErrorsSortedAndCapped(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MaxErrorKinds = 2
	engine := NewEngineWithConfig(cfg)
	defer engine.Stop()

	engine.RecordRequest("a", time.Millisecond, false, 0, errors.New("one"))
	engine.RecordRequest("b", time.Millisecond, false, 0, errors.New("two"))
	engine.RecordRequest("b", time.Millisecond, false, 0, errors.New("two"))
	engine.RecordRequest("c", time.Millisecond, false, 0, errors.New("three"))

	errs := engine.GetErrors()
	if len(errs) != 3 {
		t.Fatalf("len(errors) = %d, want 3", len(errs))
	}
	if errs[0].Name != "b" || errs[0].Occurrences != 2 {
		t.Errorf("most frequent = %+v, want b x2", errs[0])
	}
	found := false
	for _, e := range errs {
		if e.Name == "c" && e.Message == "(other errors)" {
			found = true
		}
	}
	if !found {
		t.Errorf("overflow error not folded: %+v", errs)
	}
}

func TestEngine_Phase(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.SetPhase(PhaseRampUp)
	engine.SetPhase(PhaseRampUp)
	engine.SetPhase(PhaseSteady)

	if engine.GetPhase() != PhaseSteady {
		t.Errorf("phase = %v, want %v", engine.GetPhase(), PhaseSteady)
	}
	if got := len(engine.GetPhaseHistory()); got != 2 {
		t.Errorf("phase history length = %d, want 2", got)
	}
}

func TestEngine_ActiveVUs(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.SetActiveVUs(5)
	engine.AddActiveVUs(2)
	engine.AddActiveVUs(-1)

	if got := engine.GetActiveVUs(); got != 6 {
		t.Errorf("GetActiveVUs() = %d, want 6", got)
	}
}

func TestEngine_TimeSeries(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.BucketInterval = 20 * time.Millisecond
	engine := NewEngineWithConfig(cfg)

	engine.RecordRequest("x", time.Millisecond, true, 10, nil)
	time.Sleep(70 * time.Millisecond)
	engine.Stop()
	engine.Stop()

	series := engine.GetTimeSeries()
	if len(series) < 2 {
		t.Fatalf("expected at least 2 buckets, got %d", len(series))
	}
	last := series[len(series)-1]
	if last.TotalRequests != 1 {
		t.Errorf("last bucket TotalRequests = %d, want 1", last.TotalRequests)
	}
}

func TestEngine_Reset(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordRequest("x", time.Millisecond, false, 10, errors.New("boom"))
	engine.RecordTask("Visitor", "listing", time.Millisecond, nil)
	engine.RecordSpawn("Visitor")
	engine.SetPhase(PhaseSteady)

	engine.Reset()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != 0 || snapshot.TotalIterations != 0 {
		t.Errorf("counters not reset: %+v", snapshot)
	}
	if len(engine.GetErrors()) != 0 || len(engine.GetTaskStats()) != 0 || len(engine.GetSpawnedUsers()) != 0 {
		t.Error("breakdowns not reset")
	}
	if engine.GetPhase() != PhaseInit {
		t.Errorf("phase = %v, want %v", engine.GetPhase(), PhaseInit)
	}
}

func TestEngine_ConcurrentRecording(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				engine.RecordRequest("product-detail-page", time.Millisecond, true, 1, nil)
				engine.RecordTask("Visitor", "listing", time.Millisecond, nil)
			}
		}()
	}
	wg.Wait()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != 1000 {
		t.Errorf("TotalRequests = %d, want 1000", snapshot.TotalRequests)
	}
	if snapshot.TotalIterations != 1000 {
		t.Errorf("TotalIterations = %d, want 1000", snapshot.TotalIterations)
	}
}
