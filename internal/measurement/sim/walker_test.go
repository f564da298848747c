package sim

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/araim-monitor/core"
)

var scenarioEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func gpsWalker() WalkerConfig {
	return WalkerConfig{Planes: 6, SatsPerPlane: 4, Phasing: 1, InclinationDeg: 55, AltitudeKm: 20180}
}

func TestWalkerElementsAreValidTLEs(t *testing.T) {
	tles, err := gpsWalker().Elements("GPS", "GPS", 1, scenarioEpoch)
	if err != nil {
		t.Fatalf("Elements: %v", err)
	}
	if len(tles) != 24 {
		t.Fatalf("got %d TLEs, want 24", len(tles))
	}
	if tles[0].ID != "GPS01" || tles[23].ID != "GPS24" {
		t.Fatalf("unexpected IDs %s..%s", tles[0].ID, tles[23].ID)
	}
	for _, tle := range tles {
		if err := core.ValidateTLE(tle.Line1, tle.Line2); err != nil {
			t.Fatalf("%s: %v\n%s\n%s", tle.ID, err, tle.Line1, tle.Line2)
		}
	}
	if got := tles[0].Line1[18:32]; got != "24061.50000000" {
		t.Fatalf("epoch field = %q", got)
	}
}

func TestWalkerMeanMotion(t *testing.T) {
	// GPS completes two orbits per sidereal day.
	if mm := gpsWalker().MeanMotion(); math.Abs(mm-2.0056) > 0.001 {
		t.Fatalf("mean motion = %.5f rev/day", mm)
	}
}

func TestWalkerValidate(t *testing.T) {
	cases := map[string]func(*WalkerConfig){
		"no planes":      func(w *WalkerConfig) { w.Planes = 0 },
		"phasing":        func(w *WalkerConfig) { w.Phasing = 6 },
		"inclination":    func(w *WalkerConfig) { w.InclinationDeg = 181 },
		"below the air":  func(w *WalkerConfig) { w.AltitudeKm = 50 },
		"negative slots": func(w *WalkerConfig) { w.SatsPerPlane = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			w := gpsWalker()
			mutate(&w)
			if err := w.Validate(); !errors.Is(err, core.ErrConfig) {
				t.Fatalf("err = %v, want ErrConfig", err)
			}
		})
	}
}
