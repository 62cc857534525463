package executor

import (
	"context"
	"fmt"

	"github.com/wesleyorama2/storeload/internal/loadtest/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Supported types:
//   - "constant-vus" - Fixed number of users for a duration
//   - "ramping-vus" - User count ramps up/down according to stages
//   - "per-vu-iterations" - Fixed number of task iterations per user
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	case TypePerVUIterations:
		return NewPerVUIterations(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// NewExecutorFromString creates a new executor from a string type name.
func NewExecutorFromString(executorType string) (Executor, error) {
	return NewExecutor(Type(executorType))
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// CreateExecutorFromScenarioConfig creates and initializes an executor from a scenario config.
//
// This function bridges the config.ScenarioConfig (from YAML/JSON) to the executor.Config.
func CreateExecutorFromScenarioConfig(ctx context.Context, name string, sc *config.ScenarioConfig) (Executor, *Config, error) {
	execConfig, err := convertScenarioToExecutorConfig(name, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert scenario config: %w", err)
	}

	exec, err := CreateAndInitExecutor(ctx, execConfig)
	if err != nil {
		return nil, nil, err
	}

	return exec, execConfig, nil
}

// convertScenarioToExecutorConfig converts a config.ScenarioConfig to executor.Config.
func convertScenarioToExecutorConfig(name string, sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:       name,
		Type:       Type(sc.Executor),
		VUs:        sc.VUs,
		Iterations: sc.Iterations,
		SpawnRate:  sc.SpawnRate,
	}

	if sc.Duration != "" {
		dur, err := config.ParseDurationString(sc.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid duration: %w", err)
		}
		cfg.Duration = dur
	}

	if sc.GracefulStop != "" {
		dur, err := config.ParseDurationString(sc.GracefulStop)
		if err != nil {
			return nil, fmt.Errorf("invalid gracefulStop: %w", err)
		}
		cfg.GracefulStop = dur
	}

	for i, stage := range sc.Stages {
		stageDur, err := config.ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for stage %d: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: stageDur,
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	return cfg, nil
}

// IsValidExecutorType returns true if the type is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	switch Type(executorType) {
	case TypeConstantVUs, TypeRampingVUs, TypePerVUIterations:
		return true
	default:
		return false
	}
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{
		TypeConstantVUs,
		TypeRampingVUs,
		TypePerVUIterations,
	}
}

// ExecutorDescription provides documentation for an executor type.
type ExecutorDescription struct {
	Type        Type
	Name        string
	Description string
	UseCases    []string
}

// GetExecutorDescription returns documentation for an executor type.
func GetExecutorDescription(executorType Type) *ExecutorDescription {
	switch executorType {
	case TypeConstantVUs:
		return &ExecutorDescription{
			Type:        TypeConstantVUs,
			Name:        "Constant VUs",
			Description: "Runs a fixed number of simulated users for a specified duration, optionally spawned at a capped rate.",
			UseCases: []string{
				"Steady-state storefront benchmark",
				"Simple soak testing",
			},
		}
	case TypeRampingVUs:
		return &ExecutorDescription{
			Type:        TypeRampingVUs,
			Name:        "Ramping VUs",
			Description: "Ramps the user count up and down according to stages. Smoothly interpolates between stage targets.",
			UseCases: []string{
				"Launch-day traffic simulation",
				"Finding the breaking point of a shop",
			},
		}
	case TypePerVUIterations:
		return &ExecutorDescription{
			Type:        TypePerVUIterations,
			Name:        "Per-VU Iterations",
			Description: "Starts a fixed number of users and runs each for a fixed number of task iterations.",
			UseCases: []string{
				"Smoke testing a freshly deployed shop",
				"Reproducible runs with a fixed seed",
			},
		}
	default:
		return nil
	}
}

// CalculateMaxVUs returns the maximum number of users that might be used.
func CalculateMaxVUs(cfg *Config) int {
	switch cfg.Type {
	case TypeRampingVUs:
		maxVUs := 0
		for _, stage := range cfg.Stages {
			if stage.Target > maxVUs {
				maxVUs = stage.Target
			}
		}
		return maxVUs
	default:
		return cfg.VUs
	}
}
