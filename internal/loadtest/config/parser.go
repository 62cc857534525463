package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseScenarioDuration parses the duration for a scenario config.
//
// For stage-based executors, if no explicit duration is set,
// the total duration is calculated from all stages.
func ParseScenarioDuration(sc *ScenarioConfig) (time.Duration, error) {
	if sc.Duration != "" {
		return ParseDurationString(sc.Duration)
	}

	if len(sc.Stages) > 0 {
		var total time.Duration
		for _, stage := range sc.Stages {
			stageDur, err := ParseDurationString(stage.Duration)
			if err != nil {
				return 0, fmt.Errorf("invalid stage duration: %w", err)
			}
			total += stageDur
		}
		return total, nil
	}

	return 0, fmt.Errorf("no duration specified and no stages defined")
}

// ParseWait parses a user override wait range. ok is false when neither
// bound is set; a single bound yields a constant wait.
func (u *UserOverride) ParseWait() (minWait, maxWait time.Duration, ok bool, err error) {
	if u.WaitMin == "" && u.WaitMax == "" {
		return 0, 0, false, nil
	}
	if minWait, err = ParseDurationString(u.WaitMin); err != nil {
		return 0, 0, false, fmt.Errorf("invalid waitMin: %w", err)
	}
	if maxWait, err = ParseDurationString(u.WaitMax); err != nil {
		return 0, 0, false, fmt.Errorf("invalid waitMax: %w", err)
	}
	if u.WaitMin == "" {
		minWait = maxWait
	}
	if u.WaitMax == "" {
		maxWait = minWait
	}
	return minWait, maxWait, true, nil
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Script == "" {
		config.Script = DefaultScript
	}
	if config.Name == "" {
		config.Name = config.Script
	}

	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(30 * time.Second)
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = "storeload/1.0"
	}
	config.Settings.Host = strings.TrimRight(config.Settings.Host, "/")

	if config.Options == nil {
		config.Options = &ExecutionOptions{}
	}

	for _, sc := range config.Scenarios {
		if sc != nil {
			applyScenarioDefaults(sc)
		}
	}
}

// applyScenarioDefaults applies default values to a scenario.
func applyScenarioDefaults(sc *ScenarioConfig) {
	if sc.Executor == "" {
		if len(sc.Stages) > 0 {
			sc.Executor = "ramping-vus"
		} else {
			sc.Executor = "constant-vus"
		}
	}

	switch sc.Executor {
	case "constant-vus", "per-vu-iterations":
		if sc.VUs == 0 {
			sc.VUs = 1
		}
	}

	if sc.Executor == "per-vu-iterations" && sc.Iterations == 0 {
		sc.Iterations = 1
	}
}
