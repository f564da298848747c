package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/model"
)

const (
	earthMu      = 398600.4418 // km^3/s^2
	earthRadiusK = 6378.137    // km
)

// WalkerConfig describes a Walker-delta constellation i:T/P/F.
type WalkerConfig struct {
	Planes         int     `yaml:"planes"`
	SatsPerPlane   int     `yaml:"sats_per_plane"`
	Phasing        int     `yaml:"phasing"`
	InclinationDeg float64 `yaml:"inclination"`
	AltitudeKm     float64 `yaml:"altitude_km"`
}

// Validate checks the constellation parameters.
func (w WalkerConfig) Validate() error {
	switch {
	case w.Planes <= 0 || w.SatsPerPlane <= 0:
		return fmt.Errorf("%w: walker planes and sats_per_plane must be positive", core.ErrConfig)
	case w.Phasing < 0 || w.Phasing >= w.Planes:
		return fmt.Errorf("%w: walker phasing %d outside [0, %d)", core.ErrConfig, w.Phasing, w.Planes)
	case w.InclinationDeg < 0 || w.InclinationDeg > 180:
		return fmt.Errorf("%w: walker inclination %.2f outside [0, 180]", core.ErrConfig, w.InclinationDeg)
	case w.AltitudeKm < 200:
		return fmt.Errorf("%w: walker altitude %.1f km too low", core.ErrConfig, w.AltitudeKm)
	}
	return nil
}

// MeanMotion returns the circular-orbit mean motion in revolutions per day.
func (w WalkerConfig) MeanMotion() float64 {
	a := earthRadiusK + w.AltitudeKm
	n := math.Sqrt(earthMu / (a * a * a))
	return n * 86400 / (2 * math.Pi)
}

// TLE is a generated or configured element set for one satellite.
type TLE struct {
	ID            model.SatelliteID
	Constellation model.ConstellationID
	Line1         string
	Line2         string
}

// Elements generates circular-orbit TLEs for every slot, numbered from
// firstSatnum, with the element epoch at epoch.
func (w WalkerConfig) Elements(prefix string, constellation model.ConstellationID, firstSatnum int, epoch time.Time) ([]TLE, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	total := w.Planes * w.SatsPerPlane
	if firstSatnum < 1 || firstSatnum+total > 99999 {
		return nil, fmt.Errorf("%w: catalogue numbers %d..%d out of range", core.ErrConfig, firstSatnum, firstSatnum+total-1)
	}

	mm := w.MeanMotion()
	out := make([]TLE, 0, total)
	for p := 0; p < w.Planes; p++ {
		raan := 360 * float64(p) / float64(w.Planes)
		for s := 0; s < w.SatsPerPlane; s++ {
			anomaly := 360*float64(s)/float64(w.SatsPerPlane) + 360*float64(w.Phasing*p)/float64(total)
			k := p*w.SatsPerPlane + s
			l1, l2 := formatTLE(firstSatnum+k, epoch, w.InclinationDeg, raan, math.Mod(anomaly, 360), mm)
			out = append(out, TLE{
				ID:            model.SatelliteID(fmt.Sprintf("%s%02d", prefix, k+1)),
				Constellation: constellation,
				Line1:         l1,
				Line2:         l2,
			})
		}
	}
	return out, nil
}

// formatTLE lays out a zero-drag, near-circular element set in the
// fixed-column TLE format and appends the checksums. Eccentricity is held
// at 1e-4 (implied decimal point) to stay clear of the SGP4 e=0 branch.
func formatTLE(satnum int, epoch time.Time, inclination, raan, anomaly, meanMotion float64) (string, string) {
	epoch = epoch.UTC()
	midnight := time.Date(epoch.Year(), epoch.Month(), epoch.Day(), 0, 0, 0, 0, time.UTC)
	doy := float64(epoch.YearDay()) + epoch.Sub(midnight).Hours()/24

	l1 := fmt.Sprintf("1 %05dU 24001A   %02d%012.8f  .00000000  00000-0  00000-0 0  999",
		satnum, epoch.Year()%100, doy)
	l2 := fmt.Sprintf("2 %05d %8.4f %8.4f %07d %8.4f %8.4f %11.8f%05d",
		satnum, inclination, raan, 1000, 0.0, anomaly, meanMotion, 1)
	return l1 + fmt.Sprint(core.TLEChecksum(l1)), l2 + fmt.Sprint(core.TLEChecksum(l2))
}
