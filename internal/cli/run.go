package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/storeload/internal/loadtest/config"
	"github.com/wesleyorama2/storeload/internal/loadtest/engine"
	"github.com/wesleyorama2/storeload/internal/loadtest/executor"
	"github.com/wesleyorama2/storeload/internal/loadtest/output"
	"github.com/wesleyorama2/storeload/internal/logging"
	"github.com/wesleyorama2/storeload/internal/storefront"
)

// ErrTestFailed is returned when a run finished but a threshold or
// scenario failed.
var ErrTestFailed = errors.New("load test failed")

// runOptions are the resolved flag and environment values of `storeload run`.
type runOptions struct {
	ConfigFile string
	Host       string
	Script     string
	Users      int
	SpawnRate  float64
	RunTime    string
	Stages     string
	Fixtures   string
	Seed       uint64
	Output     string
	LogLevel   string
	Quiet      bool
	NoColor    bool
}

func runOptionsFromViper(v *viper.Viper) runOptions {
	return runOptions{
		ConfigFile: v.GetString("config"),
		Host:       v.GetString("host"),
		Script:     v.GetString("script"),
		Users:      v.GetInt("users"),
		SpawnRate:  v.GetFloat64("spawn-rate"),
		RunTime:    v.GetString("run-time"),
		Stages:     v.GetString("stages"),
		Fixtures:   v.GetString("fixtures"),
		Seed:       v.GetUint64("seed"),
		Output:     v.GetString("output"),
		LogLevel:   v.GetString("log-level"),
		Quiet:      v.GetBool("quiet"),
		NoColor:    v.GetBool("no-color"),
	}
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test from a plan file or quick flags",
		Long: `Run simulated shoppers against a storefront until the plan finishes
or the run is interrupted.

Plan file mode:
  storeload run --config launch.yaml --host https://shop.example.com

Quick mode (single constant-vus scenario):
  storeload run --host https://shop.example.com --fixtures fixtures.json \
    --users 210 --spawn-rate 10 --run-time 10m

Quick ramping mode:
  storeload run --host https://shop.example.com --fixtures fixtures.json \
    --stages "1m:100,5m:100,1m:0"`,
		Args:    cobra.NoArgs,
		PreRunE: bindFlags(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := runLoadTest(ctx, runOptionsFromViper(v), cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if !result.Passed {
				return ErrTestFailed
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "Test plan file (YAML or JSON)")
	flags.String("host", "", "Storefront base URL, e.g. https://shop.example.com")
	flags.String("script", config.DefaultScript, "Script to run in quick mode")
	flags.IntP("users", "u", 21, "Number of simulated users in quick mode")
	flags.Float64P("spawn-rate", "r", 0, "Users started per second (0 starts all at once)")
	flags.StringP("run-time", "t", "1m", "Test duration in quick mode, e.g. 30s, 10m")
	flags.String("stages", "", "Ramping stages 'duration:target,...' in quick mode, e.g. 1m:100,5m:100,1m:0")
	flags.String("fixtures", "", "Fixtures file created by `storeload fixtures`")
	flags.Uint64("seed", 0, "Random seed for reproducible runs (0 picks one)")
	flags.StringP("output", "o", "", "Write the result as JSON to this file ('-' for stdout)")
	flags.BoolP("quiet", "q", false, "Disable live progress output, show only pass/fail")
	flags.Bool("no-color", false, "Disable colored output")
	return cmd
}

// loadTestConfig builds the test plan from the config file or the quick
// flags. Flags given together with a config file override its settings.
func loadTestConfig(opts runOptions) (*config.TestConfig, error) {
	if opts.ConfigFile == "" {
		if opts.Host == "" {
			return nil, errors.New("either --config or --host is required")
		}
		return buildQuickConfig(opts)
	}

	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	// fixtures in a plan file are relative to the plan
	if f := cfg.Settings.Fixtures; f != "" && !filepath.IsAbs(f) {
		cfg.Settings.Fixtures = filepath.Join(filepath.Dir(opts.ConfigFile), f)
	}
	if opts.Host != "" {
		cfg.Settings.Host = opts.Host
	}
	if opts.Fixtures != "" {
		cfg.Settings.Fixtures = opts.Fixtures
	}
	if opts.Seed != 0 {
		if cfg.Options == nil {
			cfg.Options = &config.ExecutionOptions{}
		}
		cfg.Options.Seed = opts.Seed
	}
	return cfg, nil
}

// buildQuickConfig builds a single-scenario plan from quick flags.
func buildQuickConfig(opts runOptions) (*config.TestConfig, error) {
	scenario := &config.ScenarioConfig{
		Executor:  "constant-vus",
		VUs:       opts.Users,
		Duration:  opts.RunTime,
		SpawnRate: opts.SpawnRate,
	}
	if opts.Stages != "" {
		stages, err := parseStages(opts.Stages)
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		scenario.Executor = "ramping-vus"
		scenario.VUs = 0
		scenario.Duration = ""
		scenario.Stages = stages
	}

	script := opts.Script
	if script == "" {
		script = config.DefaultScript
	}

	return &config.TestConfig{
		Name:        script,
		Description: fmt.Sprintf("Quick run of %s against %s", script, opts.Host),
		Script:      script,
		Settings: config.GlobalSettings{
			Host:     opts.Host,
			Fixtures: opts.Fixtures,
		},
		Scenarios: map[string]*config.ScenarioConfig{
			"default": scenario,
		},
		Options: &config.ExecutionOptions{Seed: opts.Seed},
	}, nil
}

// parseStages parses stages from the "30s:10,2m:10,30s:0" format.
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	for i, part := range strings.Split(stagesStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}
		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		if _, err := config.ParseDurationString(durationStr); err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}
		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, config.StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	return stages, nil
}

// runLoadTest runs the plan, rendering live progress to stdout and logs to
// stderr, and returns the final result.
func runLoadTest(ctx context.Context, opts runOptions, stdout, stderr io.Writer) (*engine.TestResult, error) {
	cfg, err := loadTestConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(opts.LogLevel, stderr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = logger.Sync() }()

	var fixtures *storefront.Context
	if cfg.Settings.Fixtures != "" {
		fixtures, err = storefront.LoadContext(cfg.Settings.Fixtures)
		if err != nil {
			return nil, fmt.Errorf("failed to load fixtures: %w", err)
		}
	}

	eng, err := engine.NewEngine(cfg, fixtures, engine.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("error creating engine: %w", err)
	}

	// JSON on stdout must not be mixed with the console display
	consoleWriter := stdout
	if opts.Output == "-" {
		consoleWriter = stderr
	}
	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:       cfg.Name,
		ExecutorType:   displayExecutor(cfg),
		TotalDuration:  calculateTotalDuration(cfg),
		UpdateInterval: time.Second,
		Writer:         consoleWriter,
		Quiet:          opts.Quiet,
		NoColor:        opts.NoColor,
	})
	console.PrintHeader()

	var (
		result *engine.TestResult
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = eng.Run(ctx)
	}()

	updateTicker := time.NewTicker(console.UpdateInterval())
	defer updateTicker.Stop()
	targetVUs := getTargetVUs(cfg)

progressLoop:
	for {
		select {
		case <-done:
			break progressLoop
		case <-updateTicker.C:
			if !eng.IsRunning() {
				continue
			}
			currentStage, totalStages := getStageInfo(eng.GetScenarioStats())
			stats := output.StatsFromMetrics(
				eng.GetMetrics(),
				eng.GetProgress(),
				console.TotalDuration(),
				targetVUs,
				currentStage,
				totalStages,
			)
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}

	if result == nil {
		if runErr == nil {
			runErr = errors.New("engine returned no result")
		}
		return nil, fmt.Errorf("error running test: %w", runErr)
	}
	if runErr != nil {
		logger.Error("load test finished with errors", zap.Error(runErr))
	}

	console.PrintSummary(result)

	switch opts.Output {
	case "":
	case "-":
		if err := output.EncodeJSON(stdout, result); err != nil {
			return result, err
		}
	default:
		if dir := filepath.Dir(opts.Output); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return result, fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		if err := output.WriteJSONFile(opts.Output, result); err != nil {
			return result, err
		}
		if !opts.Quiet {
			fmt.Fprintf(stdout, "Results written to: %s\n", opts.Output)
		}
	}

	return result, nil
}

// displayExecutor names the executor shown in the header. Plans with
// several executors show all of them.
func displayExecutor(cfg *config.TestConfig) string {
	seen := map[string]bool{}
	var executors []string
	for _, sc := range cfg.Scenarios {
		if sc != nil && !seen[sc.Executor] {
			seen[sc.Executor] = true
			executors = append(executors, sc.Executor)
		}
	}
	sort.Strings(executors)
	return strings.Join(executors, ", ")
}

// calculateTotalDuration estimates the total test duration. Sequential
// scenarios add up; concurrent ones overlap. Scenarios without a duration
// (per-vu-iterations) do not contribute.
func calculateTotalDuration(cfg *config.TestConfig) time.Duration {
	sequential := cfg.Options != nil && cfg.Options.Sequential

	var total time.Duration
	for _, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		d, err := config.ParseScenarioDuration(sc)
		if err != nil {
			continue
		}
		if sequential {
			total += d
		} else if d > total {
			total = d
		}
	}
	return total
}

// getTargetVUs gets the highest user count the plan asks for.
func getTargetVUs(cfg *config.TestConfig) int {
	maxVUs := 0
	for _, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		if sc.VUs > maxVUs {
			maxVUs = sc.VUs
		}
		for _, stage := range sc.Stages {
			if stage.Target > maxVUs {
				maxVUs = stage.Target
			}
		}
	}
	return maxVUs
}

// getStageInfo extracts current stage info from executor stats.
func getStageInfo(stats map[string]*executor.Stats) (current, total int) {
	for _, s := range stats {
		if s == nil {
			continue
		}
		if s.CurrentStage > current {
			current = s.CurrentStage
		}
		if s.TotalStages > total {
			total = s.TotalStages
		}
	}
	return current, total
}
