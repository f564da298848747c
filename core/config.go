package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ContinuityAllocation selects how a continuity budget is apportioned
// across monitored fault modes.
type ContinuityAllocation int

const (
	// AllocateEqual gives every monitored fault mode the same share.
	AllocateEqual ContinuityAllocation = iota
	// AllocateByPrior weights each mode by its prior fault probability.
	AllocateByPrior
)

func (a ContinuityAllocation) String() string {
	switch a {
	case AllocateByPrior:
		return "prior"
	default:
		return "equal"
	}
}

// ParseContinuityAllocation maps "equal" or "prior" onto a policy.
func ParseContinuityAllocation(s string) (ContinuityAllocation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "equal":
		return AllocateEqual, nil
	case "prior", "weighted":
		return AllocateByPrior, nil
	default:
		return AllocateEqual, fmt.Errorf("%w: unknown continuity allocation %q", ErrConfig, s)
	}
}

// Config carries every numeric setting consumed by the engine. It is built
// once at startup and shared read-only by reference.
type Config struct {
	// Integrity budgets (probability of hazardously misleading information).
	IntegrityBudget           float64
	VerticalIntegrityBudget   float64
	HorizontalIntegrityBudget float64

	// Continuity budgets (false alert probabilities).
	FalseAlertBudget           float64
	VerticalContinuityBudget   float64
	HorizontalContinuityBudget float64
	ChiSquaredContinuityBudget float64
	ContinuityAllocation       ContinuityAllocation

	// Tolerance is the protection level search tolerance in metres.
	Tolerance float64
	// MaxProtectionLevel bounds the protection level search in metres.
	MaxProtectionLevel float64

	AccuracyStdDevs  float64
	FaultFreeStdDevs float64
	EMTProbability   float64

	// Optional limits; zero disables the check.
	VerticalAlertLimit   float64
	HorizontalAlertLimit float64
	EMTLimit             float64

	ConsistencyCheckPeriod time.Duration
	RecoveryPeriod         time.Duration
	MaxRecoveryAttempts    int

	// Fault mode enumeration.
	MaxFaultOrder            int
	NegligibleProbability    float64
	UnmonitoredRiskAllowance float64

	// VarianceTolerance is the largest negative subset-minus-all-in-view
	// variance accepted as rounding noise (m^2). Its square root is also
	// the separation sigma below which an axis is not tested.
	VarianceTolerance float64

	// Workers bounds concurrent subset solves; <= 0 means one per mode.
	Workers int
}

// DefaultConfig returns the reference budgets from the ARAIM user
// algorithm description.
func DefaultConfig() Config {
	return Config{
		IntegrityBudget:            1e-7,
		VerticalIntegrityBudget:    9.8e-8,
		HorizontalIntegrityBudget:  2e-9,
		FalseAlertBudget:           4e-6,
		VerticalContinuityBudget:   3.9e-6,
		HorizontalContinuityBudget: 9e-8,
		ChiSquaredContinuityBudget: 9e-8,
		ContinuityAllocation:       AllocateEqual,
		Tolerance:                  5e-2,
		MaxProtectionLevel:         1e4,
		AccuracyStdDevs:            1.96,
		FaultFreeStdDevs:           5.33,
		EMTProbability:             1e-5,
		ConsistencyCheckPeriod:     300 * time.Second,
		RecoveryPeriod:             600 * time.Second,
		MaxRecoveryAttempts:        3,
		MaxFaultOrder:              2,
		NegligibleProbability:      1e-9,
		UnmonitoredRiskAllowance:   8e-8,
		VarianceTolerance:          1e-9,
	}
}

// Validate reports the first inconsistency found, wrapped in ErrConfig.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrConfig)
	}
	probs := []struct {
		name string
		v    float64
	}{
		{"integrity budget", c.IntegrityBudget},
		{"vertical integrity budget", c.VerticalIntegrityBudget},
		{"horizontal integrity budget", c.HorizontalIntegrityBudget},
		{"false alert budget", c.FalseAlertBudget},
		{"vertical continuity budget", c.VerticalContinuityBudget},
		{"horizontal continuity budget", c.HorizontalContinuityBudget},
		{"effective monitor threshold probability", c.EMTProbability},
		{"unmonitored risk allowance", c.UnmonitoredRiskAllowance},
	}
	for _, p := range probs {
		if math.IsNaN(p.v) || p.v <= 0 || p.v >= 1 {
			return fmt.Errorf("%w: %s must be in (0, 1), got %g", ErrConfig, p.name, p.v)
		}
	}
	if c.ChiSquaredContinuityBudget < 0 || c.ChiSquaredContinuityBudget >= 1 {
		return fmt.Errorf("%w: chi-squared continuity budget must be in [0, 1), got %g", ErrConfig, c.ChiSquaredContinuityBudget)
	}
	if c.NegligibleProbability < 0 || c.NegligibleProbability >= 1 {
		return fmt.Errorf("%w: negligible probability must be in [0, 1), got %g", ErrConfig, c.NegligibleProbability)
	}
	if split := c.VerticalIntegrityBudget + c.HorizontalIntegrityBudget; split > c.IntegrityBudget*(1+1e-9) {
		return fmt.Errorf("%w: vertical+horizontal integrity budgets %g exceed total %g", ErrConfig, split, c.IntegrityBudget)
	}
	if c.UnmonitoredRiskAllowance >= c.VerticalIntegrityBudget+c.HorizontalIntegrityBudget {
		return fmt.Errorf("%w: unmonitored risk allowance %g leaves no integrity budget", ErrConfig, c.UnmonitoredRiskAllowance)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("%w: protection level tolerance must be positive", ErrConfig)
	}
	if c.MaxProtectionLevel <= c.Tolerance {
		return fmt.Errorf("%w: max protection level %g must exceed tolerance %g", ErrConfig, c.MaxProtectionLevel, c.Tolerance)
	}
	if c.AccuracyStdDevs <= 0 || c.FaultFreeStdDevs <= 0 {
		return fmt.Errorf("%w: standard deviation multipliers must be positive", ErrConfig)
	}
	if c.VerticalAlertLimit < 0 || c.HorizontalAlertLimit < 0 || c.EMTLimit < 0 {
		return fmt.Errorf("%w: alert limits must be non-negative", ErrConfig)
	}
	if c.ConsistencyCheckPeriod < 0 || c.RecoveryPeriod < 0 {
		return fmt.Errorf("%w: periods must be non-negative", ErrConfig)
	}
	if c.MaxRecoveryAttempts < 0 {
		return fmt.Errorf("%w: max recovery attempts must be non-negative", ErrConfig)
	}
	if c.MaxFaultOrder < 1 || c.MaxFaultOrder > 3 {
		return fmt.Errorf("%w: max fault order must be between 1 and 3, got %d", ErrConfig, c.MaxFaultOrder)
	}
	if c.VarianceTolerance < 0 {
		return fmt.Errorf("%w: variance tolerance must be non-negative", ErrConfig)
	}
	return nil
}
