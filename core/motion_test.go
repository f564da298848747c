package core

import (
	"errors"
	"testing"
	"time"
)

// ISS sample TLE.
const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9993"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257767"
)

func TestStaticOrbit_NoChange(t *testing.T) {
	m := StaticOrbit{Position: Vec3{X: 1, Y: 2, Z: 3}}
	t1 := time.Now().UTC()
	for _, at := range []time.Time{t1, t1.Add(time.Hour)} {
		p, err := m.PositionECEF(at)
		if err != nil || p != (Vec3{X: 1, Y: 2, Z: 3}) {
			t.Fatalf("static orbit moved: %+v, %v", p, err)
		}
	}
}

// Exact orbital values belong to go-satellite; only check that the
// satellite moves and stays in a plausible shell.
func TestSGP4Orbit_ChangesOverTime(t *testing.T) {
	m, err := NewSGP4Orbit(issLine1, issLine2)
	if err != nil {
		t.Fatalf("NewSGP4Orbit: %v", err)
	}
	t1 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	first, err := m.PositionECEF(t1)
	if err != nil {
		t.Fatalf("PositionECEF: %v", err)
	}
	second, err := m.PositionECEF(t1.Add(5 * time.Minute))
	if err != nil {
		t.Fatalf("PositionECEF: %v", err)
	}
	if first == second {
		t.Fatalf("expected orbital position to change over time, got %+v at both times", first)
	}
	if r := first.Norm(); r < 6.6e6 || r > 6.9e6 {
		t.Fatalf("ISS radius = %v m, want low Earth orbit", r)
	}
}

func TestValidateTLE(t *testing.T) {
	if err := ValidateTLE(issLine1, issLine2); err != nil {
		t.Fatalf("ValidateTLE(ISS): %v", err)
	}
	corrupted := issLine1[:68] + "1"
	if err := ValidateTLE(corrupted, issLine2); !errors.Is(err, ErrConfig) {
		t.Fatalf("corrupted checksum err = %v, want ErrConfig", err)
	}
	if err := ValidateTLE(issLine2, issLine1); !errors.Is(err, ErrConfig) {
		t.Fatalf("swapped lines err = %v, want ErrConfig", err)
	}
	if _, err := NewSGP4Orbit("1 short", issLine2); !errors.Is(err, ErrConfig) {
		t.Fatalf("short line err = %v, want ErrConfig", err)
	}
}
