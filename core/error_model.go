package core

import (
	"fmt"
	"math"
)

// userErrorStep is the elevation spacing of the user error table.
const userErrorStep = 5.0

// galileoUserError maps elevation (degrees) to the airborne user
// terminal error standard deviation (metres) for Galileo signals.
var galileoUserError = map[float64]float64{
	5.0:  0.4529,
	10.0: 0.3553,
	15.0: 0.3063,
	20.0: 0.2638,
	25.0: 0.2593,
	30.0: 0.2555,
	35.0: 0.2504,
	40.0: 0.2438,
	45.0: 0.2396,
	50.0: 0.2359,
	55.0: 0.2339,
	60.0: 0.2302,
	65.0: 0.2295,
	70.0: 0.2278,
	75.0: 0.2297,
	80.0: 0.2310,
	85.0: 0.2274,
	90.0: 0.2277,
}

func checkElevation(elevation float64) error {
	if math.IsNaN(elevation) || elevation <= 0 || elevation >= 90 {
		return fmt.Errorf("%w: elevation %g deg not in (0, 90)", ErrDomain, elevation)
	}
	return nil
}

// TropoError returns the residual tropospheric delay standard deviation in
// metres for a signal at the given elevation in degrees.
func TropoError(elevation float64) (float64, error) {
	if err := checkElevation(elevation); err != nil {
		return 0, err
	}
	s := math.Sin(elevation * math.Pi / 180)
	return 0.12 * 1.001 / math.Sqrt(0.002001+s*s), nil
}

// UserError returns the user terminal error standard deviation in metres,
// linearly interpolated between the 5 degree table entries. Elevations
// outside (0, 90) fail with ErrDomain; elevations the table does not
// bracket, such as those below 5 degrees, fail with ErrConfig.
func UserError(elevation float64) (float64, error) {
	if err := checkElevation(elevation); err != nil {
		return 0, err
	}
	if v, ok := galileoUserError[elevation]; ok {
		return v, nil
	}
	keyMin := math.Floor(elevation/userErrorStep) * userErrorStep
	keyMax := keyMin + userErrorStep
	lo, okLo := galileoUserError[keyMin]
	hi, okHi := galileoUserError[keyMax]
	if !okLo || !okHi {
		return 0, fmt.Errorf("%w: no user error entry bracketing %g deg", ErrConfig, elevation)
	}
	frac := (elevation - keyMin) / (keyMax - keyMin)
	return lo + frac*(hi-lo), nil
}
