package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/araim-monitor/model"
)

// Axis indexes the local-level position states.
type Axis int

const (
	AxisEast Axis = iota
	AxisNorth
	AxisUp
)

var positionAxes = [3]Axis{AxisEast, AxisNorth, AxisUp}

func (a Axis) String() string {
	switch a {
	case AxisEast:
		return "east"
	case AxisNorth:
		return "north"
	case AxisUp:
		return "up"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// measurementSet is the immutable per-epoch arena shared by every subset
// solve. Subsets are expressed as row index lists over these buffers.
type measurementSet struct {
	ids            []model.SatelliteID
	constOf        []int
	constellations []model.ConstellationID
	los            [][3]float64
	residual       []float64
	covInt         []float64
	covAcc         []float64
	maxBias        []float64
	pSat           []float64
	pConst         []float64
}

func newMeasurementSet(obs []model.SatelliteObservation, ism *model.IntegritySupportMessage, cov *CovarianceSet) (*measurementSet, error) {
	if len(obs) != len(cov.Int) {
		return nil, fmt.Errorf("%w: %d observations for %d covariance entries", ErrConfig, len(obs), len(cov.Int))
	}
	set := &measurementSet{
		ids:      make([]model.SatelliteID, len(obs)),
		constOf:  make([]int, len(obs)),
		los:      make([][3]float64, len(obs)),
		residual: make([]float64, len(obs)),
		covInt:   cov.Int,
		covAcc:   cov.Acc,
		maxBias:  make([]float64, len(obs)),
		pSat:     make([]float64, len(obs)),
	}
	constIdx := make(map[model.ConstellationID]int)
	snap := model.MeasurementSnapshot{Observations: obs}
	for i, c := range snap.Constellations() {
		constIdx[c] = i
		set.constellations = append(set.constellations, c)
		p, ok := ism.ConstellationFault(c)
		if !ok {
			return nil, fmt.Errorf("%w: constellation %s missing from ISM", ErrDomain, c)
		}
		set.pConst = append(set.pConst, p)
	}
	for i, o := range obs {
		entry, ok := ism.Satellite(o.ID)
		if !ok {
			return nil, fmt.Errorf("%w: satellite %s missing from ISM", ErrDomain, o.ID)
		}
		set.ids[i] = o.ID
		set.constOf[i] = constIdx[o.Constellation]
		set.los[i] = o.LineOfSight
		set.residual[i] = o.Residual
		set.maxBias[i] = entry.MaxBias
		set.pSat[i] = entry.PSat
	}
	return set, nil
}

func (s *measurementSet) size() int { return len(s.ids) }

// complement returns the rows not listed in removed, in ascending order.
func (s *measurementSet) complement(removed []int) []int {
	mask := make([]bool, s.size())
	for _, r := range removed {
		mask[r] = true
	}
	rows := make([]int, 0, s.size()-len(removed))
	for i, skip := range mask {
		if !skip {
			rows = append(rows, i)
		}
	}
	return rows
}

// geometry builds G for the given rows. Columns are East, North, Up and one
// clock bias per constellation that still has at least one row.
func (s *measurementSet) geometry(rows []int) (*mat.Dense, []model.ConstellationID) {
	present := make([]bool, len(s.constellations))
	for _, r := range rows {
		present[s.constOf[r]] = true
	}
	col := make([]int, len(s.constellations))
	var clocks []model.ConstellationID
	for c, ok := range present {
		if ok {
			col[c] = 3 + len(clocks)
			clocks = append(clocks, s.constellations[c])
		}
	}
	n := 3 + len(clocks)
	if len(rows) == 0 {
		return nil, clocks
	}
	g := mat.NewDense(len(rows), n, nil)
	for i, r := range rows {
		u := s.los[r]
		g.Set(i, 0, -u[0])
		g.Set(i, 1, -u[1])
		g.Set(i, 2, -u[2])
		g.Set(i, col[s.constOf[r]], 1)
	}
	return g, clocks
}

func pick(values []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = values[r]
	}
	return out
}

// PositionSolution is a WLS solution computed under one fault hypothesis.
type PositionSolution struct {
	Mode       FaultMode
	Satellites []model.SatelliteID
	Clocks     []model.ConstellationID

	// State holds East, North, Up corrections followed by clock biases.
	State []float64
	// Covariance is the integrity covariance (G'Sigma_int^-1 G)^-1.
	Covariance *mat.Dense
	// AccuracyCovariance is (G'Sigma_acc^-1 G)^-1.
	AccuracyCovariance *mat.Dense

	gain *mat.Dense
	rows []int
}

// Position returns the East, North, Up components of the state.
func (p *PositionSolution) Position() [3]float64 {
	return [3]float64{p.State[0], p.State[1], p.State[2]}
}

// Variance returns the integrity variance along axis.
func (p *PositionSolution) Variance(axis Axis) float64 {
	return p.Covariance.At(int(axis), int(axis))
}

// AccuracyVariance returns the accuracy variance along axis.
func (p *PositionSolution) AccuracyVariance(axis Axis) float64 {
	return p.AccuracyCovariance.At(int(axis), int(axis))
}

// biasBound projects the per-satellite maximum nominal biases onto axis
// through the integrity gain, assuming worst-case sign alignment.
func (p *PositionSolution) biasBound(set *measurementSet, axis Axis) float64 {
	var b float64
	for j, r := range p.rows {
		b += math.Abs(p.gain.At(int(axis), j)) * set.maxBias[r]
	}
	return b
}

// solve computes the integrity- and accuracy-weighted solutions with the
// mode's satellites removed.
func (s *measurementSet) solve(mode FaultMode) (*PositionSolution, error) {
	rows := s.complement(mode.rows)
	g, clocks := s.geometry(rows)
	if g == nil {
		return nil, fmt.Errorf("%w: no measurements left for mode %s", ErrGeometry, mode.Name())
	}
	y := pick(s.residual, rows)

	integrity, err := SolveWLS(g, mat.NewDiagDense(len(rows), pick(s.covInt, rows)), y)
	if err != nil {
		return nil, fmt.Errorf("mode %s: %w", mode.Name(), err)
	}
	accuracy, err := SolveWLS(g, mat.NewDiagDense(len(rows), pick(s.covAcc, rows)), y)
	if err != nil {
		return nil, fmt.Errorf("mode %s: %w", mode.Name(), err)
	}

	sats := make([]model.SatelliteID, len(rows))
	for i, r := range rows {
		sats[i] = s.ids[r]
	}
	return &PositionSolution{
		Mode:               mode,
		Satellites:         sats,
		Clocks:             clocks,
		State:              append([]float64(nil), integrity.State.RawVector().Data...),
		Covariance:         integrity.Covariance,
		AccuracyCovariance: accuracy.Covariance,
		gain:               integrity.Gain,
		rows:               rows,
	}, nil
}

// residualStatistic returns r' Sigma_int^-1 r for the all-in-view solution
// together with its degrees of freedom.
func (s *measurementSet) residualStatistic(p *PositionSolution) (float64, int) {
	g, _ := s.geometry(p.rows)
	m, n := g.Dims()
	var stat float64
	for i, r := range p.rows {
		pred := 0.0
		for j := 0; j < n; j++ {
			pred += g.At(i, j) * p.State[j]
		}
		res := s.residual[r] - pred
		stat += res * res / s.covInt[r]
	}
	return stat, m - n
}
