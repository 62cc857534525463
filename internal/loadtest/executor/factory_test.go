package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/wesleyorama2/storeload/internal/loadtest/config"
	"github.com/wesleyorama2/storeload/internal/loadtest/executor"
)

func TestNewExecutor(t *testing.T) {
	for _, typ := range executor.GetSupportedExecutors() {
		e, err := executor.NewExecutor(typ)
		if err != nil {
			t.Fatalf("NewExecutor(%s) error = %v", typ, err)
		}
		if e.Type() != typ {
			t.Errorf("Type() = %v, want %v", e.Type(), typ)
		}
		if executor.GetExecutorDescription(typ) == nil {
			t.Errorf("GetExecutorDescription(%s) = nil", typ)
		}
	}

	if _, err := executor.NewExecutor("constant-arrival-rate"); err == nil {
		t.Error("NewExecutor(constant-arrival-rate) expected error")
	}
	if _, err := executor.NewExecutorFromString("ramping-vus"); err != nil {
		t.Errorf("NewExecutorFromString(ramping-vus) error = %v", err)
	}
}

func TestIsValidExecutorType(t *testing.T) {
	tests := map[string]bool{
		"constant-vus":          true,
		"ramping-vus":           true,
		"per-vu-iterations":     true,
		"constant-arrival-rate": false,
		"":                      false,
	}
	for typ, want := range tests {
		if got := executor.IsValidExecutorType(typ); got != want {
			t.Errorf("IsValidExecutorType(%q) = %v, want %v", typ, got, want)
		}
	}
}

func TestCreateExecutorFromScenarioConfig(t *testing.T) {
	sc := &config.ScenarioConfig{
		Executor:     "ramping-vus",
		SpawnRate:    10,
		GracefulStop: "5s",
		Stages: []config.StageConfig{
			{Duration: "30s", Target: 210, Name: "ramp"},
			{Duration: "5m", Target: 210},
			{Duration: "30s", Target: 0},
		},
	}

	exec, cfg, err := executor.CreateExecutorFromScenarioConfig(context.Background(), "launch", sc)
	if err != nil {
		t.Fatalf("CreateExecutorFromScenarioConfig() error = %v", err)
	}
	if exec.Type() != executor.TypeRampingVUs {
		t.Errorf("Type() = %v, want ramping-vus", exec.Type())
	}
	if cfg.Name != "launch" || cfg.SpawnRate != 10 || cfg.GracefulStop != 5*time.Second {
		t.Errorf("config = %+v", cfg)
	}
	if len(cfg.Stages) != 3 || cfg.Stages[0].Name != "ramp" || cfg.Stages[1].Duration != 5*time.Minute {
		t.Errorf("stages = %+v", cfg.Stages)
	}
	if cfg.TotalDuration() != 6*time.Minute {
		t.Errorf("TotalDuration() = %v, want 6m", cfg.TotalDuration())
	}
	if executor.CalculateMaxVUs(cfg) != 210 {
		t.Errorf("CalculateMaxVUs() = %d, want 210", executor.CalculateMaxVUs(cfg))
	}
}

func TestCreateExecutorFromScenarioConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		sc   *config.ScenarioConfig
	}{
		{name: "bad duration", sc: &config.ScenarioConfig{Executor: "constant-vus", VUs: 1, Duration: "soon"}},
		{name: "bad graceful stop", sc: &config.ScenarioConfig{Executor: "constant-vus", VUs: 1, Duration: "1s", GracefulStop: "x"}},
		{name: "bad stage", sc: &config.ScenarioConfig{Executor: "ramping-vus", Stages: []config.StageConfig{{Duration: "?", Target: 1}}}},
		{name: "invalid config", sc: &config.ScenarioConfig{Executor: "per-vu-iterations", VUs: 1}},
		{name: "unknown executor", sc: &config.ScenarioConfig{Executor: "shared-iterations"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := executor.CreateExecutorFromScenarioConfig(context.Background(), "s", tt.sc); err == nil {
				t.Error("expected error")
			}
		})
	}
}
