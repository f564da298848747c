package core

import (
	"errors"
	"testing"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfig_ValidateRejectsInconsistentBudgets(t *testing.T) {
	cases := map[string]func(*Config){
		"split exceeds total":      func(c *Config) { c.VerticalIntegrityBudget = c.IntegrityBudget },
		"zero vertical continuity": func(c *Config) { c.VerticalContinuityBudget = 0 },
		"allowance too large":      func(c *Config) { c.UnmonitoredRiskAllowance = 2e-7 },
		"fault order":              func(c *Config) { c.MaxFaultOrder = 4 },
		"tolerance":                func(c *Config) { c.Tolerance = 0 },
		"search bound":             func(c *Config) { c.MaxProtectionLevel = 0.01 },
		"negative alert limit":     func(c *Config) { c.VerticalAlertLimit = -1 },
		"negative period":          func(c *Config) { c.RecoveryPeriod = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
				t.Fatalf("Validate() = %v, want ErrConfig", err)
			}
		})
	}
}

func TestParseContinuityAllocation(t *testing.T) {
	for in, want := range map[string]ContinuityAllocation{"": AllocateEqual, "equal": AllocateEqual, "Prior": AllocateByPrior} {
		got, err := ParseContinuityAllocation(in)
		if err != nil || got != want {
			t.Fatalf("ParseContinuityAllocation(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseContinuityAllocation("random"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unknown policy, got %v", err)
	}
}

func TestContinuityWeights(t *testing.T) {
	sols := []*PositionSolution{
		{Mode: FaultMode{Prior: 1e-5}},
		{Mode: FaultMode{Prior: 3e-5}},
	}
	eq := continuityWeights(sols, AllocateEqual)
	if eq[0] != 0.5 || eq[1] != 0.5 {
		t.Fatalf("equal weights = %v", eq)
	}
	pr := continuityWeights(sols, AllocateByPrior)
	if pr[0] < 0.2499 || pr[0] > 0.2501 || pr[1] < 0.7499 || pr[1] > 0.7501 {
		t.Fatalf("prior weights = %v, want [0.25 0.75]", pr)
	}
}
