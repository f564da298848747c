package core

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// OrbitModel gives a satellite's ECEF position at an instant.
type OrbitModel interface {
	PositionECEF(t time.Time) (Vec3, error)
}

// StaticOrbit is a fixed ECEF position, useful for scripted geometry.
type StaticOrbit struct {
	Position Vec3
}

// PositionECEF returns the fixed position.
func (s StaticOrbit) PositionECEF(time.Time) (Vec3, error) { return s.Position, nil }

// SGP4Orbit propagates a two-line element set with SGP4.
type SGP4Orbit struct {
	sat satellite.Satellite
}

// NewSGP4Orbit validates the TLE lines and builds an SGP4 model.
func NewSGP4Orbit(line1, line2 string) (*SGP4Orbit, error) {
	if err := ValidateTLE(line1, line2); err != nil {
		return nil, err
	}
	return &SGP4Orbit{sat: satellite.TLEToSat(line1, line2, satellite.GravityWGS84)}, nil
}

// PositionECEF propagates to t. go-satellite works in kilometres.
func (m *SGP4Orbit) PositionECEF(t time.Time) (Vec3, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	const kmToM = 1000.0
	p := Vec3{X: posECEF.X * kmToM, Y: posECEF.Y * kmToM, Z: posECEF.Z * kmToM}
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) || p.Norm() < wgs84A {
		return Vec3{}, fmt.Errorf("%w: SGP4 propagation failed at %s", ErrDomain, t.Format(time.RFC3339))
	}
	return p, nil
}

// ValidateTLE checks line numbers, lengths and modulo-10 checksums.
// go-satellite exits the process on malformed input, so every TLE is
// validated before it reaches the propagator.
func ValidateTLE(line1, line2 string) error {
	for i, line := range []string{line1, line2} {
		line = strings.TrimRight(line, " \r\n")
		if len(line) != 69 {
			return fmt.Errorf("%w: TLE line %d has %d characters, want 69", ErrConfig, i+1, len(line))
		}
		if line[0] != byte('1'+i) {
			return fmt.Errorf("%w: TLE line %d starts with %q", ErrConfig, i+1, line[0])
		}
		want := int(line[68] - '0')
		if got := TLEChecksum(line[:68]); got != want {
			return fmt.Errorf("%w: TLE line %d checksum %d, want %d", ErrConfig, i+1, want, got)
		}
	}
	return nil
}

// TLEChecksum returns the modulo-10 checksum of the first 68 columns:
// digits count their value and '-' counts one.
func TLEChecksum(body string) int {
	sum := 0
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9':
			sum += int(r - '0')
		case r == '-':
			sum++
		}
	}
	return sum % 10
}
