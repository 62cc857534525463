package metrics

import "time"

// Phase represents a phase of the load test.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// LatencyPercentiles holds latency percentile values for a time bucket.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// TimeBucket represents metrics for one bucket interval.
//
// Cumulative counters are totals since the engine started, interval fields
// only cover the bucket itself.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`
	TotalBytes     int64 `json:"totalBytes"`

	IntervalRequests   int64   `json:"intervalRequests"`
	IntervalRPS        float64 `json:"intervalRPS"`
	IntervalIterations int64   `json:"intervalIterations"`
	IntervalErrorRate  float64 `json:"intervalErrorRate"`

	LatencyMin time.Duration `json:"latencyMin"`
	LatencyMax time.Duration `json:"latencyMax"`
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP90 time.Duration `json:"latencyP90"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase
	Timestamp time.Time
	Requests  int64
}

// RequestStats is the per-request-name breakdown.
type RequestStats struct {
	Name     string       `json:"name"`
	Requests int64        `json:"requests"`
	Failures int64        `json:"failures"`
	Bytes    int64        `json:"bytes"`
	Latency  LatencyStats `json:"latency"`
}

// TaskStats is the per-task breakdown, keyed by "UserType.task".
type TaskStats struct {
	Name       string       `json:"name"`
	UserType   string       `json:"userType"`
	Task       string       `json:"task"`
	Iterations int64        `json:"iterations"`
	Failures   int64        `json:"failures"`
	Duration   LatencyStats `json:"duration"`
}

// ErrorStats counts identical failures of one request or task.
type ErrorStats struct {
	Name        string `json:"name"`
	Message     string `json:"message"`
	Occurrences int64  `json:"occurrences"`
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64        `json:"totalRequests"`
	SuccessRequests int64        `json:"successRequests"`
	FailedRequests  int64        `json:"failedRequests"`
	TotalBytes      int64        `json:"totalBytes"`
	Latency         LatencyStats `json:"latency"`
	RPS             float64      `json:"rps"`
	SteadyStateRPS  float64      `json:"steadyStateRps"`
	ErrorRate       float64      `json:"errorRate"`

	TotalIterations  int64   `json:"totalIterations"`
	FailedIterations int64   `json:"failedIterations"`
	IterationErrRate float64 `json:"iterationErrorRate"`
	SetupFailures    int64   `json:"setupFailures"`

	ActiveVUs    int              `json:"activeVUs"`
	SpawnedUsers map[string]int64 `json:"spawnedUsers,omitempty"`
	CurrentPhase Phase            `json:"currentPhase"`

	Elapsed   time.Duration `json:"elapsed"`
	StartTime time.Time     `json:"startTime"`
	Timestamp time.Time     `json:"timestamp"`
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the ring buffer size (default: 3600)
	MaxBuckets int

	// Histogram range in microseconds and precision
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int

	// MaxErrorKinds caps the distinct failure messages kept (default: 1000)
	MaxErrorKinds int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
		MaxErrorKinds:    1000,
	}
}
