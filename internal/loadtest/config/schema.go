// Package config provides configuration parsing and validation for storefront load tests.
package config

import (
	"time"
)

// DefaultScript is used when a test plan does not name a script.
const DefaultScript = "nvidia-benchmark"

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Nvidia benchmark"
//	script: nvidia-benchmark
//	settings:
//	  host: "https://shop.example.com"
//	  fixtures: ./fixtures.json
//	users:
//	  Visitor:
//	    waitMin: 2s
//	    waitMax: 5s
//	scenarios:
//	  benchmark:
//	    executor: constant-vus
//	    vus: 210
//	    spawnRate: 10
//	    duration: 10m
//	thresholds:
//	  http_req_failed:
//	    - "rate < 0.01"
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Script is the registered user script to run
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Users overrides user type parameters by user type name
	Users map[string]*UserOverride `json:"users,omitempty" yaml:"users,omitempty"`

	// Scenarios defines the load profiles to run
	// Each scenario runs independently with its own executor
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds define pass/fail criteria for metrics
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Options for test execution
	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings contains global HTTP and execution settings.
type GlobalSettings struct {
	// Host is the storefront base URL
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Fixtures is the path of the catalog fixture file
	Fixtures string `json:"fixtures,omitempty" yaml:"fixtures,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// UserOverride changes a user type of the script without touching its tasks.
type UserOverride struct {
	// Weight replaces the population weight (0 keeps the script's)
	Weight int `json:"weight,omitempty" yaml:"weight,omitempty"`

	// WaitMin and WaitMax replace the wait time with a uniform range
	WaitMin string `json:"waitMin,omitempty" yaml:"waitMin,omitempty"`
	WaitMax string `json:"waitMax,omitempty" yaml:"waitMax,omitempty"`

	// Disabled removes the user type from the run
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// ScenarioConfig defines a single load profile.
type ScenarioConfig struct {
	// Executor specifies the load generation strategy
	// Options: "constant-vus", "ramping-vus", "per-vu-iterations"
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the number of simulated users
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long to run (e.g., "30s", "2m", "1h")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages defines ramping stages (for ramping-vus)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// SpawnRate caps how many users are started per second (0 = all at once)
	SpawnRate float64 `json:"spawnRate,omitempty" yaml:"spawnRate,omitempty"`

	// Iterations per user (for per-vu-iterations)
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// GracefulStop is how long to wait for running tasks to finish
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target user count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the test.
type ThresholdsConfig struct {
	// HTTPReqDuration thresholds for request duration
	// e.g., ["p95 < 500ms", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed thresholds for failure rate
	// e.g., ["rate < 0.01"] (less than 1% failures)
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs thresholds for request count/rate
	// e.g., ["count > 1000", "rate > 100"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// IterationsFailed thresholds for the failed task iteration rate
	// e.g., ["rate < 0.05"]
	IterationsFailed []string `json:"iterations_failed,omitempty" yaml:"iterations_failed,omitempty"`
}

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	// Sequential runs scenarios one-by-one instead of parallel
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`

	// Seed makes user random sources reproducible (0 = random)
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
