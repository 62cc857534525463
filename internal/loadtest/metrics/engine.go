// Package metrics collects request, task and user metrics for a load test.
package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects and aggregates performance metrics using HDR histograms.
//
// Request latencies are recorded both overall and per request name. Task
// iterations are recorded per "UserType.task" so a run can be broken down by
// simulated user archetype. A background emitter closes a time bucket every
// BucketInterval, even when nothing completes.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters are atomic, histograms are
// guarded by mutexes (hdrhistogram is not thread-safe).
type Engine struct {
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	requests   map[string]*requestEntry
	requestsMu sync.Mutex

	tasks   map[string]*taskEntry
	tasksMu sync.Mutex

	errors   map[errorKey]int64
	errorsMu sync.Mutex

	spawned   map[string]int64
	spawnedMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	totalIterations  atomic.Int64
	failedIterations atomic.Int64
	setupFailures    atomic.Int64

	activeVUs atomic.Int32

	bucketStore *TimeBucketStore

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time

	emitterCtx    context.Context
	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config EngineConfig
}

type requestEntry struct {
	hist     *hdrhistogram.Histogram
	requests int64
	failures int64
	bytes    int64
}

type taskEntry struct {
	userType   string
	task       string
	hist       *hdrhistogram.Histogram
	iterations int64
	failures   int64
}

type errorKey struct {
	name    string
	message string
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration
// and starts its background emitter. Call Stop to release it.
func NewEngineWithConfig(config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}
	if config.MaxErrorKinds <= 0 {
		config.MaxErrorKinds = defaults.MaxErrorKinds
	}

	ctx, cancel := context.WithCancel(context.Background())

	engine := &Engine{
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requests:      make(map[string]*requestEntry),
		tasks:         make(map[string]*taskEntry),
		errors:        make(map[errorKey]int64),
		spawned:       make(map[string]int64),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  PhaseInit,
		startTime:     time.Now(),
		emitterCtx:    ctx,
		emitterCancel: cancel,
		config:        config,
	}

	engine.emitterWg.Add(1)
	go engine.runEmitter()

	return engine
}

func (e *Engine) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
}

func (e *Engine) clamp(d time.Duration) int64 {
	micros := d.Microseconds()
	if micros < e.config.HistogramMin {
		micros = e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		micros = e.config.HistogramMax
	}
	return micros
}

// RecordRequest records one HTTP request.
//
// name groups requests for the per-request breakdown (empty skips it).
// failure is only consulted when success is false and feeds the error table.
func (e *Engine) RecordRequest(name string, duration time.Duration, success bool, bytes int64, failure error) {
	micros := e.clamp(duration)

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	if name != "" {
		e.requestsMu.Lock()
		entry, ok := e.requests[name]
		if !ok {
			entry = &requestEntry{hist: e.newHistogram()}
			e.requests[name] = entry
		}
		_ = entry.hist.RecordValue(micros)
		entry.requests++
		entry.bytes += bytes
		if !success {
			entry.failures++
		}
		e.requestsMu.Unlock()
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
		if failure != nil {
			e.recordError(name, failure.Error())
		}
	}

	e.bucketStore.RecordRequest(success)
}

// RecordTask records one finished task iteration of a user type.
// A nil err counts as a successful iteration.
func (e *Engine) RecordTask(userType, task string, duration time.Duration, err error) {
	key := userType + "." + task
	micros := e.clamp(duration)

	e.tasksMu.Lock()
	entry, ok := e.tasks[key]
	if !ok {
		entry = &taskEntry{userType: userType, task: task, hist: e.newHistogram()}
		e.tasks[key] = entry
	}
	_ = entry.hist.RecordValue(micros)
	entry.iterations++
	if err != nil {
		entry.failures++
	}
	e.tasksMu.Unlock()

	e.totalIterations.Add(1)
	if err != nil {
		e.failedIterations.Add(1)
		e.recordError(key, err.Error())
	}

	e.bucketStore.RecordIteration()
}

// RecordSpawn counts a spawned user of the given type.
func (e *Engine) RecordSpawn(userType string) {
	e.spawnedMu.Lock()
	e.spawned[userType]++
	e.spawnedMu.Unlock()
}

// RecordSetupFailure records a failed on-start hook.
func (e *Engine) RecordSetupFailure(userType string, err error) {
	e.setupFailures.Add(1)
	if err != nil {
		e.recordError(userType+".on_start", err.Error())
	}
}

func (e *Engine) recordError(name, message string) {
	key := errorKey{name: name, message: message}

	e.errorsMu.Lock()
	defer e.errorsMu.Unlock()

	if _, ok := e.errors[key]; !ok && len(e.errors) >= e.config.MaxErrorKinds {
		key = errorKey{name: name, message: "(other errors)"}
	}
	e.errors[key]++
}

// SetPhase updates the current test phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current test phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// SetActiveVUs updates the active VU count.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// AddActiveVUs adjusts the active VU count by delta.
func (e *Engine) AddActiveVUs(delta int) {
	e.activeVUs.Add(int32(delta))
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

func (e *Engine) runEmitter() {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.emitterCtx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.bucketStore.CreateBucket(
		e.totalRequests.Load(), e.successRequests.Load(), e.failedRequests.Load(), e.totalBytes.Load(),
		e.GetLatencyPercentiles(), e.GetActiveVUs(), e.GetPhase(),
	)
}

// GetLatencyPercentiles returns current overall latency percentiles.
func (e *Engine) GetLatencyPercentiles() LatencyPercentiles {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()

	return LatencyPercentiles{
		Min: micros(e.latencyHist.Min()),
		Max: micros(e.latencyHist.Max()),
		P50: micros(e.latencyHist.ValueAtQuantile(50)),
		P90: micros(e.latencyHist.ValueAtQuantile(90)),
		P95: micros(e.latencyHist.ValueAtQuantile(95)),
		P99: micros(e.latencyHist.ValueAtQuantile(99)),
	}
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := latencyStats(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	totalReqs := e.totalRequests.Load()
	failedReqs := e.failedRequests.Load()
	totalIters := e.totalIterations.Load()
	failedIters := e.failedIterations.Load()

	overallRPS := 0.0
	if elapsed.Seconds() > 0 {
		overallRPS = float64(totalReqs) / elapsed.Seconds()
	}

	steadyRPS, steadyBuckets := e.bucketStore.CalculateSteadyStateRPS()
	rps := overallRPS
	if steadyBuckets > 0 {
		rps = steadyRPS
	}

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}
	iterErrRate := 0.0
	if totalIters > 0 {
		iterErrRate = float64(failedIters) / float64(totalIters)
	}

	return &Snapshot{
		TotalRequests:    totalReqs,
		SuccessRequests:  e.successRequests.Load(),
		FailedRequests:   failedReqs,
		TotalBytes:       e.totalBytes.Load(),
		Latency:          latency,
		RPS:              rps,
		SteadyStateRPS:   steadyRPS,
		ErrorRate:        errorRate,
		TotalIterations:  totalIters,
		FailedIterations: failedIters,
		IterationErrRate: iterErrRate,
		SetupFailures:    e.setupFailures.Load(),
		ActiveVUs:        e.GetActiveVUs(),
		SpawnedUsers:     e.GetSpawnedUsers(),
		CurrentPhase:     e.GetPhase(),
		Elapsed:          elapsed,
		StartTime:        e.startTime,
		Timestamp:        time.Now(),
	}
}

// GetTimeSeries returns all time-series buckets.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// GetRequestStats returns per-request-name statistics.
func (e *Engine) GetRequestStats() map[string]RequestStats {
	e.requestsMu.Lock()
	defer e.requestsMu.Unlock()

	result := make(map[string]RequestStats, len(e.requests))
	for name, entry := range e.requests {
		result[name] = RequestStats{
			Name:     name,
			Requests: entry.requests,
			Failures: entry.failures,
			Bytes:    entry.bytes,
			Latency:  latencyStats(entry.hist),
		}
	}
	return result
}

// GetTaskStats returns per-task statistics keyed by "UserType.task".
func (e *Engine) GetTaskStats() map[string]TaskStats {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()

	result := make(map[string]TaskStats, len(e.tasks))
	for key, entry := range e.tasks {
		result[key] = TaskStats{
			Name:       key,
			UserType:   entry.userType,
			Task:       entry.task,
			Iterations: entry.iterations,
			Failures:   entry.failures,
			Duration:   latencyStats(entry.hist),
		}
	}
	return result
}

// GetErrors returns recorded failures, most frequent first.
func (e *Engine) GetErrors() []ErrorStats {
	e.errorsMu.Lock()
	result := make([]ErrorStats, 0, len(e.errors))
	for key, n := range e.errors {
		result = append(result, ErrorStats{Name: key.name, Message: key.message, Occurrences: n})
	}
	e.errorsMu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Occurrences != result[j].Occurrences {
			return result[i].Occurrences > result[j].Occurrences
		}
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].Message < result[j].Message
	})
	return result
}

// GetSpawnedUsers returns how many users of each type were spawned.
func (e *Engine) GetSpawnedUsers() map[string]int64 {
	e.spawnedMu.Lock()
	defer e.spawnedMu.Unlock()

	result := make(map[string]int64, len(e.spawned))
	for k, v := range e.spawned {
		result[k] = v
	}
	return result
}

// Stop stops the background emitter and emits a final bucket.
// It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}

// Reset resets all metrics to their initial state.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.requestsMu.Lock()
	e.requests = make(map[string]*requestEntry)
	e.requestsMu.Unlock()

	e.tasksMu.Lock()
	e.tasks = make(map[string]*taskEntry)
	e.tasksMu.Unlock()

	e.errorsMu.Lock()
	e.errors = make(map[errorKey]int64)
	e.errorsMu.Unlock()

	e.spawnedMu.Lock()
	e.spawned = make(map[string]int64)
	e.spawnedMu.Unlock()

	e.totalRequests.Store(0)
	e.successRequests.Store(0)
	e.failedRequests.Store(0)
	e.totalBytes.Store(0)
	e.totalIterations.Store(0)
	e.failedIterations.Store(0)
	e.setupFailures.Store(0)
	e.activeVUs.Store(0)

	e.phaseMu.Lock()
	e.currentPhase = PhaseInit
	e.phaseHistory = nil
	e.phaseMu.Unlock()

	e.bucketStore.Reset()
	e.startTime = time.Now()
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    micros(h.Min()),
		Max:    micros(h.Max()),
		Mean:   micros(int64(h.Mean())),
		StdDev: micros(int64(h.StdDev())),
		P50:    micros(h.ValueAtQuantile(50)),
		P90:    micros(h.ValueAtQuantile(90)),
		P95:    micros(h.ValueAtQuantile(95)),
		P99:    micros(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}
