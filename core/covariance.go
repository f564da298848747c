package core

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/araim-monitor/model"
)

// ErrorTerms supplies one error standard deviation per satellite, either
// as an explicit slice or as a scalar broadcast to every satellite.
type ErrorTerms struct {
	values []float64
	scalar float64
}

// Broadcast applies v to every satellite.
func Broadcast(v float64) ErrorTerms { return ErrorTerms{scalar: v} }

// PerSatellite uses values[i] for the i-th satellite.
func PerSatellite(values []float64) ErrorTerms { return ErrorTerms{values: values} }

func (t ErrorTerms) at(i int) float64 {
	if t.values == nil {
		return t.scalar
	}
	return t.values[i]
}

func (t ErrorTerms) check(n int) error {
	if t.values != nil && len(t.values) != n {
		return fmt.Errorf("%w: %d error terms for %d satellites", ErrConfig, len(t.values), n)
	}
	return nil
}

// CovarianceSet holds the diagonal pseudorange covariances over an ordered
// satellite set. Off-diagonal correlation is not modelled.
type CovarianceSet struct {
	Satellites []model.SatelliteID
	// Int is the diagonal of the integrity covariance (m^2).
	Int []float64
	// Acc is the diagonal of the accuracy/continuity covariance (m^2).
	Acc []float64
}

// IntMatrix returns the integrity covariance as a diagonal matrix.
func (c *CovarianceSet) IntMatrix() *mat.DiagDense {
	return mat.NewDiagDense(len(c.Int), append([]float64(nil), c.Int...))
}

// AccMatrix returns the accuracy covariance as a diagonal matrix.
func (c *CovarianceSet) AccMatrix() *mat.DiagDense {
	return mat.NewDiagDense(len(c.Acc), append([]float64(nil), c.Acc...))
}

// BuildCovariance combines ISM clock/ephemeris bounds with tropospheric and
// user terminal errors:
//
//	Int[i] = sigmaURA[i]^2 + tropo[i]^2 + user[i]^2
//	Acc[i] = sigmaURE[i]^2 + tropo[i]^2 + user[i]^2
func BuildCovariance(ism *model.IntegritySupportMessage, sats []model.SatelliteID, tropo, user ErrorTerms) (*CovarianceSet, error) {
	if ism == nil {
		return nil, fmt.Errorf("%w: nil integrity support message", ErrConfig)
	}
	if err := tropo.check(len(sats)); err != nil {
		return nil, err
	}
	if err := user.check(len(sats)); err != nil {
		return nil, err
	}

	out := &CovarianceSet{
		Satellites: append([]model.SatelliteID(nil), sats...),
		Int:        make([]float64, len(sats)),
		Acc:        make([]float64, len(sats)),
	}
	for i, id := range sats {
		entry, ok := ism.Satellite(id)
		if !ok {
			return nil, fmt.Errorf("%w: satellite %s missing from ISM", ErrDomain, id)
		}
		tr, us := tropo.at(i), user.at(i)
		if entry.SigmaURA < 0 || entry.SigmaURE < 0 || tr < 0 || us < 0 {
			return nil, fmt.Errorf("%w: negative error term for satellite %s", ErrConfig, id)
		}
		common := tr*tr + us*us
		out.Int[i] = entry.SigmaURA*entry.SigmaURA + common
		out.Acc[i] = entry.SigmaURE*entry.SigmaURE + common
		if out.Int[i] <= 0 || out.Acc[i] <= 0 {
			return nil, fmt.Errorf("%w: non-positive variance for satellite %s", ErrConfig, id)
		}
	}
	return out, nil
}

// ErrorTermsFromElevation evaluates the error model for every observation.
// Observations whose elevation is rejected by the error model are reported
// in rejected, keyed by index, and carry zero terms.
func ErrorTermsFromElevation(obs []model.SatelliteObservation) (tropo, user []float64, rejected map[int]error) {
	tropo = make([]float64, len(obs))
	user = make([]float64, len(obs))
	for i, o := range obs {
		t, err := TropoError(o.Elevation)
		if err == nil {
			var u float64
			u, err = UserError(o.Elevation)
			user[i] = u
		}
		if err != nil {
			if rejected == nil {
				rejected = make(map[int]error)
			}
			rejected[i] = err
			continue
		}
		tropo[i] = t
	}
	return tropo, user, rejected
}
