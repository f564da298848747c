package core

import (
	"math"
	"testing"
)

func TestGeodeticECEF_Equator(t *testing.T) {
	got := Geodetic{LatitudeDeg: 0, LongitudeDeg: 90}.ECEF()
	if math.Abs(got.X) > 1e-6 || math.Abs(got.Y-wgs84A) > 1e-6 || math.Abs(got.Z) > 1e-6 {
		t.Fatalf("ECEF(0N 90E) = %+v, want (0, %v, 0)", got, wgs84A)
	}
}

func TestGeodeticECEF_Pole(t *testing.T) {
	got := Geodetic{LatitudeDeg: 90}.ECEF()
	b := wgs84A * (1 - wgs84F)
	if math.Abs(got.Z-b) > 1e-3 {
		t.Fatalf("polar Z = %v, want semi-minor axis %v", got.Z, b)
	}
}

func TestLookAngles(t *testing.T) {
	rx := Geodetic{}
	cases := []struct {
		name   string
		target Vec3
		az, el float64
	}{
		{"overhead", Vec3{X: wgs84A + 20_200e3}, 0, 90},
		{"north horizon", Vec3{X: wgs84A, Z: 1e7}, 0, 0},
		{"east horizon", Vec3{X: wgs84A, Y: 1e7}, 90, 0},
		{"west at 45", Vec3{X: wgs84A + 1e6, Y: -1e6}, 270, 45},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			az, el, los := LookAngles(rx, tc.target)
			if math.Abs(el-tc.el) > 1e-6 {
				t.Fatalf("elevation = %v, want %v", el, tc.el)
			}
			if tc.el < 90 && math.Abs(az-tc.az) > 1e-6 {
				t.Fatalf("azimuth = %v, want %v", az, tc.az)
			}
			if n := math.Sqrt(los[0]*los[0] + los[1]*los[1] + los[2]*los[2]); math.Abs(n-1) > 1e-12 {
				t.Fatalf("line of sight norm = %v", n)
			}
		})
	}
}

func TestElevationDegrees_BelowHorizon(t *testing.T) {
	if el := ElevationDegrees(Geodetic{}, Vec3{X: -wgs84A}); el > -89 {
		t.Fatalf("elevation through the Earth = %v, want about -90", el)
	}
}
