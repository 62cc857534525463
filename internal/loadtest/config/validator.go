package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidExecutors lists the executor types a scenario may use.
var ValidExecutors = []string{"constant-vus", "ramping-vus", "per-vu-iterations"}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.Script == "" {
		errs.Add("script", "script is required")
	}

	validateSettings(&c.Settings, errs)

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	// Sorted for stable error output
	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		validateScenario(name, c.Scenarios[name], errs)
	}

	validateUsers(c.Users, errs)

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateScenario validates a single scenario configuration.
func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)
	if sc == nil {
		errs.Add(prefix, "scenario is empty")
		return
	}

	switch sc.Executor {
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	case "constant-vus":
		validateConstantVUs(prefix, sc, errs)
	case "ramping-vus":
		validateRampingVUs(prefix, sc, errs)
	case "per-vu-iterations":
		validatePerVUIterations(prefix, sc, errs)
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s (valid: %s)",
			sc.Executor, strings.Join(ValidExecutors, ", ")))
	}

	if sc.SpawnRate < 0 {
		errs.Add(prefix+".spawnRate", "spawnRate cannot be negative")
	}

	if sc.GracefulStop != "" {
		if _, err := ParseDurationString(sc.GracefulStop); err != nil {
			errs.Add(prefix+".gracefulStop", fmt.Sprintf("invalid gracefulStop: %v", err))
		}
	}

	for i, stage := range sc.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &stage, errs)
	}
}

// validateConstantVUs validates constant-vus executor config.
func validateConstantVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}

	if sc.Duration == "" {
		errs.Add(prefix+".duration", "duration is required for constant-vus executor")
	} else if d, err := ParseDurationString(sc.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
}

// validateRampingVUs validates ramping-vus executor config.
func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
	}
}

// validatePerVUIterations validates per-vu-iterations executor config.
func validatePerVUIterations(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}
	if sc.Iterations <= 0 {
		errs.Add(prefix+".iterations", "iterations must be greater than 0")
	}
	// duration is an optional upper bound here
	if sc.Duration != "" {
		if _, err := ParseDurationString(sc.Duration); err != nil {
			errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		}
	}
}

// validateStage validates a single stage configuration.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if _, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

// validateUsers validates user type overrides.
func validateUsers(users map[string]*UserOverride, errs *ValidationErrors) {
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)

	enabled := 0
	for _, name := range names {
		u := users[name]
		prefix := "users." + name
		if u == nil {
			enabled++
			continue
		}
		if !u.Disabled {
			enabled++
		}
		if u.Weight < 0 {
			errs.Add(prefix+".weight", "weight cannot be negative")
		}
		minWait, maxWait, ok, err := u.ParseWait()
		if err != nil {
			errs.Add(prefix, err.Error())
		} else if ok && minWait > maxWait {
			errs.Add(prefix, "waitMin must be less than or equal to waitMax")
		} else if ok && minWait < 0 {
			errs.Add(prefix, "wait time cannot be negative")
		}
	}
	if len(users) > 0 && enabled == 0 {
		errs.Add("users", "at least one user type must stay enabled")
	}
}

// validateThresholds validates threshold configuration.
func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	groups := []struct {
		name  string
		exprs []string
	}{
		{"http_req_duration", t.HTTPReqDuration},
		{"http_req_failed", t.HTTPReqFailed},
		{"http_reqs", t.HTTPReqs},
		{"iterations_failed", t.IterationsFailed},
	}

	for _, g := range groups {
		for i, threshold := range g.exprs {
			if err := validateThresholdExpression(threshold); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", g.name, i), err.Error())
			}
		}
	}
}

// validateThresholdExpression validates a threshold expression.
//
// Valid formats:
//   - "p95 < 500ms"
//   - "avg < 200ms"
//   - "rate < 0.01"
//   - "count > 1000"
func validateThresholdExpression(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("threshold expression cannot be empty")
	}

	validMetrics := []string{"p50", "p90", "p95", "p99", "min", "max", "avg", "med", "rate", "count"}
	validOps := []string{"<", ">", "<=", ">=", "==", "!="}

	found := false
	for _, metric := range validMetrics {
		if strings.HasPrefix(expr, metric) {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("threshold must start with a valid metric (p50, p90, p95, p99, min, max, avg, med, rate, count)")
	}

	hasOp := false
	for _, op := range validOps {
		if strings.Contains(expr, op) {
			hasOp = true
			break
		}
	}
	if !hasOp {
		return fmt.Errorf("threshold must contain a comparison operator (<, >, <=, >=, ==, !=)")
	}

	return nil
}

// validateSettings validates global settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.Host == "" {
		errs.Add("settings.host", "host is required")
	} else if u, err := url.Parse(s.Host); err != nil {
		errs.Add("settings.host", fmt.Sprintf("invalid URL: %v", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("settings.host", "host must be an http or https URL")
	}

	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}
