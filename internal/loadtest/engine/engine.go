// Package engine orchestrates a storefront load test: it turns a test plan
// into schedulers and executors, runs them and evaluates thresholds.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/storeload/internal/loadtest"
	"github.com/wesleyorama2/storeload/internal/loadtest/config"
	"github.com/wesleyorama2/storeload/internal/loadtest/executor"
	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
	"github.com/wesleyorama2/storeload/internal/scenarios"
	"github.com/wesleyorama2/storeload/internal/storefront"
)

// shutdownTimeout bounds how long a scheduler waits for stragglers once its
// executor has returned.
const shutdownTimeout = 30 * time.Second

// Engine is the main orchestrator of a load test.
//
// It coordinates:
//   - building user types from the configured script and overrides
//   - scenario execution with their respective executors
//   - metrics collection and aggregation
//   - threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("benchmark.yaml")
//	fixtures, _ := storefront.LoadContext(cfg.Settings.Fixtures)
//	eng, _ := engine.NewEngine(cfg, fixtures)
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config *config.TestConfig
	script scenarios.Script
	pages  scenarios.PageFactory
	logger *zap.Logger

	// Metrics engine (shared across all scenarios)
	metricsEngine *metrics.Engine

	httpConfig loadtest.HTTPClientConfig

	scenarios map[string]*ScenarioRunner
	mu        sync.RWMutex

	startTime time.Time
	running   bool
}

// ScenarioRunner manages the execution of a single scenario.
type ScenarioRunner struct {
	Name      string
	Config    *config.ScenarioConfig
	Executor  executor.Executor
	Scheduler *loadtest.VUScheduler
	Result    *ScenarioResult
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name       string        `json:"name"`
	Executor   string        `json:"executor"`
	Duration   time.Duration `json:"duration"`
	Iterations int64         `json:"iterations"`
	SpawnedVUs int           `json:"spawnedVUs"`
	Error      string        `json:"error,omitempty"`
}

// TestResult contains the complete test results.
type TestResult struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Script      string        `json:"script"`
	Host        string        `json:"host"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	// Aggregated metrics across all scenarios
	Metrics      *metrics.Snapshot               `json:"metrics"`
	TimeSeries   []*metrics.TimeBucket           `json:"timeSeries,omitempty"`
	Requests     map[string]metrics.RequestStats `json:"requests,omitempty"`
	Tasks        map[string]metrics.TaskStats    `json:"tasks,omitempty"`
	SpawnedUsers map[string]int64                `json:"spawnedUsers,omitempty"`
	Errors       []metrics.ErrorStats            `json:"errors,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	// Error if the test failed catastrophically
	Error string `json:"error,omitempty"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to every scheduler.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPages replaces the storefront page helpers, mostly for tests.
func WithPages(pages scenarios.PageFactory) Option {
	return func(e *Engine) {
		if pages != nil {
			e.pages = pages
		}
	}
}

// NewEngine creates a load test engine for cfg. fixtures feed the storefront
// page helpers and may only be nil when WithPages is given.
func NewEngine(cfg *config.TestConfig, fixtures *storefront.Context, opts ...Option) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	script, err := scenarios.Get(cfg.Script)
	if err != nil {
		return nil, err
	}

	httpConfig := loadtest.DefaultHTTPClientConfig()
	httpConfig.BaseURL = cfg.Settings.Host
	httpConfig.Timeout = cfg.Settings.Timeout.GetDuration(httpConfig.Timeout)
	httpConfig.InsecureSkipVerify = cfg.Settings.InsecureSkipVerify
	httpConfig.Headers = cfg.Settings.Headers
	if cfg.Settings.MaxIdleConnsPerHost > 0 {
		httpConfig.MaxIdleConnsPerHost = cfg.Settings.MaxIdleConnsPerHost
	}
	if cfg.Settings.MaxConnectionsPerHost > 0 {
		httpConfig.MaxConnsPerHost = cfg.Settings.MaxConnectionsPerHost
	}
	if cfg.Settings.UserAgent != "" {
		httpConfig.UserAgent = cfg.Settings.UserAgent
	}

	e := &Engine{
		config:     cfg,
		script:     script,
		logger:     zap.NewNop(),
		httpConfig: httpConfig,
		scenarios:  make(map[string]*ScenarioRunner),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.pages == nil {
		if fixtures == nil {
			return nil, fmt.Errorf("fixtures are required for script %s", script.Name)
		}
		e.pages = scenarios.StorefrontPages(fixtures)
	}

	// Surface override mistakes before anything runs
	if _, err := e.userTypes(); err != nil {
		return nil, err
	}

	return e, nil
}

// userTypes builds fresh user types for one scenario with the configured
// overrides applied.
func (e *Engine) userTypes() ([]*loadtest.UserType, error) {
	all := e.script.UserTypes(e.pages)

	known := make(map[string]bool, len(all))
	for _, ut := range all {
		known[ut.Name] = true
	}
	for name := range e.config.Users {
		if !known[name] {
			return nil, fmt.Errorf("users.%s: script %s has no such user type", name, e.script.Name)
		}
	}

	userTypes := make([]*loadtest.UserType, 0, len(all))
	for _, ut := range all {
		override := e.config.Users[ut.Name]
		if override == nil {
			userTypes = append(userTypes, ut)
			continue
		}
		if override.Disabled {
			continue
		}
		if override.Weight > 0 {
			ut.Weight = override.Weight
		}
		minWait, maxWait, ok, err := override.ParseWait()
		if err != nil {
			return nil, fmt.Errorf("users.%s: %w", ut.Name, err)
		}
		if ok {
			if minWait == maxWait {
				ut.WaitTime = loadtest.Constant(minWait)
			} else {
				ut.WaitTime = loadtest.Between(minWait, maxWait)
			}
		}
		userTypes = append(userTypes, ut)
	}

	if len(userTypes) == 0 {
		return nil, loadtest.ErrNoUserTypes
	}
	return userTypes, nil
}

// Run executes all scenarios and returns the test results.
//
// By default all scenarios run concurrently. If Options.Sequential is true,
// scenarios run one at a time in name order.
//
// Cancelling ctx stops every scenario gracefully; the partial result is
// still returned.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.startTime = time.Now()
	e.metricsEngine = metrics.NewEngine()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()
	defer e.metricsEngine.Stop()

	e.metricsEngine.SetPhase(metrics.PhaseInit)

	if err := e.initializeScenarios(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize scenarios: %w", err)
	}

	e.logger.Info("load test started",
		zap.String("name", e.config.Name),
		zap.String("script", e.script.Name),
		zap.String("host", e.config.Settings.Host),
		zap.Int("scenarios", len(e.scenarios)))

	var scenarioResults map[string]*ScenarioResult
	var runErr error
	if e.config.Options != nil && e.config.Options.Sequential {
		scenarioResults, runErr = e.runScenariosSequentially(ctx)
	} else {
		scenarioResults, runErr = e.runScenariosConcurrently(ctx)
	}
	e.metricsEngine.SetPhase(metrics.PhaseDone)

	finalMetrics := e.metricsEngine.GetSnapshot()
	thresholdResults := e.evaluateThresholds(finalMetrics)
	passed := runErr == nil
	for _, tr := range thresholdResults {
		if !tr.Passed {
			passed = false
			break
		}
	}

	result := &TestResult{
		Name:         e.config.Name,
		Description:  e.config.Description,
		Script:       e.script.Name,
		Host:         e.config.Settings.Host,
		StartTime:    e.startTime,
		EndTime:      time.Now(),
		Duration:     time.Since(e.startTime),
		Scenarios:    scenarioResults,
		Metrics:      finalMetrics,
		TimeSeries:   e.metricsEngine.GetTimeSeries(),
		Requests:     e.metricsEngine.GetRequestStats(),
		Tasks:        e.metricsEngine.GetTaskStats(),
		SpawnedUsers: e.metricsEngine.GetSpawnedUsers(),
		Errors:       e.metricsEngine.GetErrors(),
		Passed:       passed,
		Thresholds:   thresholdResults,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	e.logger.Info("load test finished",
		zap.Duration("duration", result.Duration),
		zap.Int64("requests", finalMetrics.TotalRequests),
		zap.Int64("failedRequests", finalMetrics.FailedRequests),
		zap.Int64("iterations", finalMetrics.TotalIterations),
		zap.Bool("passed", passed))

	return result, runErr
}

// initializeScenarios creates executors and schedulers for all scenarios.
func (e *Engine) initializeScenarios(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.scenarios = make(map[string]*ScenarioRunner, len(e.config.Scenarios))
	for i, name := range e.scenarioNames() {
		scenarioConfig := e.config.Scenarios[name]

		userTypes, err := e.userTypes()
		if err != nil {
			return err
		}

		opts := []loadtest.SchedulerOption{loadtest.WithLogger(e.logger.With(zap.String("scenario", name)))}
		if e.config.Options != nil && e.config.Options.Seed != 0 {
			opts = append(opts, loadtest.WithSeed(e.config.Options.Seed+uint64(i)))
		}
		scheduler, err := loadtest.NewVUScheduler(userTypes, e.metricsEngine, e.httpConfig, opts...)
		if err != nil {
			return fmt.Errorf("failed to create scheduler for scenario %s: %w", name, err)
		}

		exec, execConfig, err := executor.CreateExecutorFromScenarioConfig(ctx, name, scenarioConfig)
		if err != nil {
			return fmt.Errorf("failed to create executor for scenario %s: %w", name, err)
		}
		if err := exec.Init(ctx, execConfig); err != nil {
			return fmt.Errorf("failed to initialize executor for scenario %s: %w", name, err)
		}

		e.scenarios[name] = &ScenarioRunner{
			Name:      name,
			Config:    scenarioConfig,
			Executor:  exec,
			Scheduler: scheduler,
		}
	}

	return nil
}

func (e *Engine) scenarioNames() []string {
	names := make([]string, 0, len(e.config.Scenarios))
	for name := range e.config.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// runScenariosConcurrently runs all scenarios in parallel.
func (e *Engine) runScenariosConcurrently(ctx context.Context) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult)
	var resultsMu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for name, runner := range e.scenarios {
		wg.Add(1)
		go func(name string, runner *ScenarioRunner) {
			defer wg.Done()

			result, err := e.runScenario(ctx, runner)

			resultsMu.Lock()
			defer resultsMu.Unlock()
			results[name] = result
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("scenario %s failed: %w", name, err)
			}
		}(name, runner)
	}

	wg.Wait()
	return results, firstErr
}

// runScenariosSequentially runs all scenarios one at a time.
func (e *Engine) runScenariosSequentially(ctx context.Context) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult)

	for _, name := range e.scenarioNames() {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		result, err := e.runScenario(ctx, e.scenarios[name])
		results[name] = result
		if err != nil {
			return results, fmt.Errorf("scenario %s failed: %w", name, err)
		}
	}

	return results, nil
}

// runScenario runs a single scenario.
func (e *Engine) runScenario(ctx context.Context, runner *ScenarioRunner) (*ScenarioResult, error) {
	startTime := time.Now()
	e.logger.Info("scenario started",
		zap.String("scenario", runner.Name),
		zap.String("executor", string(runner.Executor.Type())))

	err := runner.Executor.Run(ctx, runner.Scheduler, e.metricsEngine)
	runner.Scheduler.Shutdown(shutdownTimeout)

	stats := runner.Executor.GetStats()
	result := &ScenarioResult{
		Name:       runner.Name,
		Executor:   string(runner.Executor.Type()),
		Duration:   time.Since(startTime),
		Iterations: stats.Iterations,
		SpawnedVUs: stats.SpawnedVUs,
	}
	if err != nil {
		result.Error = err.Error()
		e.logger.Warn("scenario failed", zap.String("scenario", runner.Name), zap.Error(err))
	} else {
		e.logger.Info("scenario finished",
			zap.String("scenario", runner.Name),
			zap.Duration("duration", result.Duration),
			zap.Int64("iterations", result.Iterations))
	}

	e.mu.Lock()
	runner.Result = result
	e.mu.Unlock()
	return result, err
}

// GetConfig returns the test configuration.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	m := e.metricsEngine
	e.mu.RUnlock()
	if m == nil {
		return nil
	}
	return m.GetSnapshot()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop gracefully stops all running scenarios.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return nil
	}
	runners := make([]*ScenarioRunner, 0, len(e.scenarios))
	for _, r := range e.scenarios {
		runners = append(runners, r)
	}
	e.mu.RUnlock()

	var lastErr error
	for _, runner := range runners {
		if err := runner.Executor.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// GetProgress returns the overall test progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.scenarios) == 0 {
		return 0.0
	}

	var totalProgress float64
	for _, runner := range e.scenarios {
		totalProgress += runner.Executor.GetProgress()
	}
	return totalProgress / float64(len(e.scenarios))
}

// GetScenarioStats returns current stats for all scenarios.
func (e *Engine) GetScenarioStats() map[string]*executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := make(map[string]*executor.Stats, len(e.scenarios))
	for name, runner := range e.scenarios {
		stats[name] = runner.Executor.GetStats()
	}
	return stats
}
