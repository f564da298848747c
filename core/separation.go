package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

// ModeStatistic holds the solution separation test for one fault mode.
type ModeStatistic struct {
	Mode     FaultMode
	Solution *PositionSolution

	// Per axis (East, North, Up) quantities.
	Separation [3]float64
	SigmaSS    [3]float64
	Threshold  [3]float64
	Sigma      [3]float64
	Bias       [3]float64

	// Tripped is set when any axis separation exceeds its threshold. Axes
	// whose SigmaSS is within the variance tolerance floor never trip.
	Tripped bool
	// Ratio is the largest separation-to-threshold ratio across the
	// axes that can trip.
	Ratio float64
}

// DroppedMode records a fault mode removed from monitoring this epoch.
type DroppedMode struct {
	Mode FaultMode
	Err  error
}

// SeparationResult is the output of one solution separation pass.
type SeparationResult struct {
	AllInView *PositionSolution
	Sigma     [3]float64
	SigmaAcc  [3]float64
	Bias      [3]float64

	Modes   []ModeStatistic
	Dropped []DroppedMode

	MonitoredProbability   float64
	UnmonitoredProbability float64

	ChiSquared          float64
	ChiSquaredThreshold float64
	ChiSquaredTripped   bool
}

// Detected reports whether any test tripped.
func (r *SeparationResult) Detected() bool {
	if r.ChiSquaredTripped {
		return true
	}
	for _, m := range r.Modes {
		if m.Tripped {
			return true
		}
	}
	return false
}

// Tripped returns the tripped modes, most over-threshold first.
func (r *SeparationResult) Tripped() []ModeStatistic {
	var out []ModeStatistic
	for _, m := range r.Modes {
		if m.Tripped {
			out = append(out, m)
		}
	}
	rankCandidates(out)
	return out
}

func rankCandidates(modes []ModeStatistic) {
	sort.SliceStable(modes, func(i, j int) bool {
		if modes[i].Ratio != modes[j].Ratio {
			return modes[i].Ratio > modes[j].Ratio
		}
		return len(modes[i].Mode.Satellites) < len(modes[j].Mode.Satellites)
	})
}

// qInv returns x such that the standard normal upper tail Q(x) = p.
func qInv(p float64) float64 {
	return -distuv.UnitNormal.Quantile(p)
}

// separate runs fault mode enumeration, the all-in-view solve and one
// subset solve per monitored mode, then evaluates the detection tests.
func (e *Engine) separate(ctx context.Context, set *measurementSet) (*SeparationResult, error) {
	cfg := e.cfg
	modes, err := enumerateFaultModes(set, cfg)
	if err != nil {
		return nil, &Unavailability{Reason: ReasonNumerical, Err: err}
	}
	if modes.UnmonitoredProbability > cfg.UnmonitoredRiskAllowance {
		return nil, &Unavailability{
			Reason: ReasonUnmonitoredRisk,
			Err:    fmt.Errorf("unmonitored probability %g exceeds allowance %g", modes.UnmonitoredProbability, cfg.UnmonitoredRiskAllowance),
		}
	}

	all, err := set.solve(FaultMode{})
	if err != nil {
		if errors.Is(err, ErrGeometry) {
			return nil, &Unavailability{Reason: ReasonInsufficientSatellites, Err: err}
		}
		return nil, &Unavailability{Reason: ReasonNumerical, Err: err}
	}

	solutions := make([]*PositionSolution, len(modes.Modes))
	solveErrs := make([]error, len(modes.Modes))
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Workers > 0 {
		g.SetLimit(cfg.Workers)
	}
	for i := range modes.Modes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sol, err := set.solve(modes.Modes[i])
			if err != nil && !errors.Is(err, ErrGeometry) {
				return err
			}
			solutions[i], solveErrs[i] = sol, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Unavailability{Reason: ReasonNumerical, Err: err}
	}

	res := &SeparationResult{
		AllInView:              all,
		UnmonitoredProbability: modes.UnmonitoredProbability,
	}
	for _, axis := range positionAxes {
		res.Sigma[axis] = math.Sqrt(all.Variance(axis))
		res.SigmaAcc[axis] = math.Sqrt(all.AccuracyVariance(axis))
		res.Bias[axis] = all.biasBound(set, axis)
	}

	var surviving []*PositionSolution
	for i, sol := range solutions {
		if solveErrs[i] != nil {
			res.Dropped = append(res.Dropped, DroppedMode{Mode: modes.Modes[i], Err: solveErrs[i]})
			res.UnmonitoredProbability += modes.Modes[i].Prior
			continue
		}
		surviving = append(surviving, sol)
		res.MonitoredProbability += sol.Mode.Prior
	}
	if res.UnmonitoredProbability > cfg.UnmonitoredRiskAllowance {
		return nil, &Unavailability{
			Reason: ReasonUnmonitoredRisk,
			Err:    fmt.Errorf("unmonitored probability %g exceeds allowance %g after dropping %d modes", res.UnmonitoredProbability, cfg.UnmonitoredRiskAllowance, len(res.Dropped)),
		}
	}

	weights := continuityWeights(surviving, cfg.ContinuityAllocation)
	budgets := [3]float64{
		AxisEast:  cfg.HorizontalContinuityBudget / 2,
		AxisNorth: cfg.HorizontalContinuityBudget / 2,
		AxisUp:    cfg.VerticalContinuityBudget,
	}
	// Removing a mode that only its own clock state observes leaves the
	// solution unchanged; such axes carry no test.
	floor := math.Sqrt(cfg.VarianceTolerance)
	x0 := all.Position()
	for i, sol := range surviving {
		st := ModeStatistic{Mode: sol.Mode, Solution: sol}
		xk := sol.Position()
		for _, axis := range positionAxes {
			sigmaSS, err := separationSigma(sol.AccuracyVariance(axis), all.AccuracyVariance(axis), cfg.VarianceTolerance)
			if err != nil {
				return nil, &Unavailability{
					Reason: ReasonNumerical,
					Err:    fmt.Errorf("%w on %s for mode %s", err, axis, sol.Mode.Name()),
				}
			}
			st.SigmaSS[axis] = sigmaSS
			st.Separation[axis] = math.Abs(x0[axis] - xk[axis])
			st.Threshold[axis] = sigmaSS * qInv(budgets[axis]*weights[i]/2)
			st.Sigma[axis] = math.Sqrt(sol.Variance(axis))
			st.Bias[axis] = sol.biasBound(set, axis)

			if sigmaSS <= floor {
				continue
			}
			st.Ratio = math.Max(st.Ratio, st.Separation[axis]/st.Threshold[axis])
			if st.Separation[axis] > st.Threshold[axis] {
				st.Tripped = true
			}
		}
		res.Modes = append(res.Modes, st)
	}

	stat, dof := set.residualStatistic(all)
	res.ChiSquared = stat
	if cfg.ChiSquaredContinuityBudget > 0 && dof > 0 {
		res.ChiSquaredThreshold = distuv.ChiSquared{K: float64(dof)}.Quantile(1 - cfg.ChiSquaredContinuityBudget)
		res.ChiSquaredTripped = stat > res.ChiSquaredThreshold
	}
	return res, nil
}

// separationSigma returns sqrt(subset - all). A negative difference within
// tolerance is rounding and clamps to zero; beyond it the covariances are
// inconsistent.
func separationSigma(subset, all, tolerance float64) (float64, error) {
	diff := subset - all
	if diff < -tolerance {
		return 0, fmt.Errorf("%w: negative separation variance %g", ErrNumerical, diff)
	}
	if diff < 0 {
		diff = 0
	}
	return math.Sqrt(diff), nil
}

// continuityWeights apportions a continuity budget across modes.
func continuityWeights(sols []*PositionSolution, policy ContinuityAllocation) []float64 {
	w := make([]float64, len(sols))
	if len(sols) == 0 {
		return w
	}
	if policy == AllocateByPrior {
		var total float64
		for _, s := range sols {
			total += s.Mode.Prior
		}
		if total > 0 {
			for i, s := range sols {
				w[i] = s.Mode.Prior / total
			}
			return w
		}
	}
	for i := range w {
		w[i] = 1 / float64(len(sols))
	}
	return w
}
