package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ProtectionLevels are the integrity outputs of one epoch.
type ProtectionLevels struct {
	Vertical   float64
	Horizontal float64
	// HorizontalComponents holds the East and North protection levels
	// combined into Horizontal.
	HorizontalComponents [2]float64

	// EMT is the Effective Monitor Threshold (metres).
	EMT float64
	// Accuracy is the vertical 95% accuracy bound (metres).
	Accuracy float64
	// FaultFreeBound is the vertical fault-free position error bound.
	FaultFreeBound float64
	// SigmaAccuracy is the all-in-view vertical accuracy sigma.
	SigmaAccuracy float64
}

// tail returns P(X > x) for X ~ N(mean, sigma^2). A zero sigma degenerates
// to a step at mean.
func tail(x, mean, sigma float64) float64 {
	if sigma <= 0 {
		if x > mean {
			return 0
		}
		return 1
	}
	return distuv.UnitNormal.Survival((x - mean) / sigma)
}

// exceedance is the left-hand side of the integrity equation on one axis:
//
//	2Q((PL-b0)/s0) + sum_k p_k Q((PL-T_k-b_k)/s_k)
func exceedance(pl float64, sep *SeparationResult, axis Axis) float64 {
	total := 2 * tail(pl, sep.Bias[axis], sep.Sigma[axis])
	for _, m := range sep.Modes {
		total += m.Mode.Prior * tail(pl-m.Threshold[axis], m.Bias[axis], m.Sigma[axis])
	}
	return total
}

// solveProtectionLevel finds the smallest PL (within tolerance, rounded up)
// whose exceedance does not exceed budget.
func solveProtectionLevel(sep *SeparationResult, axis Axis, budget float64, cfg *Config) (float64, error) {
	if budget <= 0 {
		return 0, fmt.Errorf("%w: no integrity budget left on %s axis", ErrNonConvergence, axis)
	}
	f := func(pl float64) float64 { return exceedance(pl, sep, axis) - budget }

	lo, hi := 0.0, cfg.MaxProtectionLevel
	if f(lo) <= 0 {
		return lo, nil
	}
	if fh := f(hi); fh > 0 || math.IsNaN(fh) {
		return 0, fmt.Errorf("%w: %s exceedance %g at %g m above budget %g", ErrNonConvergence, axis, fh+budget, hi, budget)
	}
	for hi-lo > cfg.Tolerance {
		mid := lo + (hi-lo)/2
		if f(mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi, nil
}

// ComputeProtectionLevels solves the integrity equation for the vertical
// and horizontal axes and derives EMT and accuracy from sep.
func ComputeProtectionLevels(sep *SeparationResult, cfg *Config) (*ProtectionLevels, error) {
	scale := 1 - sep.UnmonitoredProbability/(cfg.VerticalIntegrityBudget+cfg.HorizontalIntegrityBudget)

	vpl, err := solveProtectionLevel(sep, AxisUp, cfg.VerticalIntegrityBudget*scale, cfg)
	if err != nil {
		return nil, err
	}
	var hpl [2]float64
	for i, axis := range []Axis{AxisEast, AxisNorth} {
		hpl[i], err = solveProtectionLevel(sep, axis, cfg.HorizontalIntegrityBudget*scale/2, cfg)
		if err != nil {
			return nil, err
		}
	}

	out := &ProtectionLevels{
		Vertical:             vpl,
		Horizontal:           math.Hypot(hpl[0], hpl[1]),
		HorizontalComponents: hpl,
		SigmaAccuracy:        sep.SigmaAcc[AxisUp],
	}
	out.Accuracy = cfg.AccuracyStdDevs * out.SigmaAccuracy
	out.FaultFreeBound = cfg.FaultFreeStdDevs * out.SigmaAccuracy
	out.EMT = effectiveMonitorThreshold(sep, cfg.EMTProbability)
	return out, nil
}

// effectiveMonitorThreshold is the largest vertical detection threshold
// among modes whose prior is at least pEMT.
func effectiveMonitorThreshold(sep *SeparationResult, pEMT float64) float64 {
	var emt float64
	for _, m := range sep.Modes {
		if m.Mode.Prior >= pEMT && m.Threshold[AxisUp] > emt {
			emt = m.Threshold[AxisUp]
		}
	}
	return emt
}

// withinLimits checks the optional alert and EMT limits.
func (p *ProtectionLevels) withinLimits(cfg *Config) error {
	if cfg.VerticalAlertLimit > 0 && p.Vertical > cfg.VerticalAlertLimit {
		return fmt.Errorf("vertical protection level %.2f m exceeds alert limit %.2f m", p.Vertical, cfg.VerticalAlertLimit)
	}
	if cfg.HorizontalAlertLimit > 0 && p.Horizontal > cfg.HorizontalAlertLimit {
		return fmt.Errorf("horizontal protection level %.2f m exceeds alert limit %.2f m", p.Horizontal, cfg.HorizontalAlertLimit)
	}
	if cfg.EMTLimit > 0 && p.EMT > cfg.EMTLimit {
		return fmt.Errorf("effective monitor threshold %.2f m exceeds limit %.2f m", p.EMT, cfg.EMTLimit)
	}
	return nil
}
