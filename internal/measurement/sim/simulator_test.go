package sim

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/kb"
)

const scenarioYAML = `
epoch: 2024-03-01T12:00:00Z
receiver: {latitude: 45.07, longitude: 7.69, altitude: 250}
elevation_mask: 5
noise_scale: 0
seed: 7
constellations:
  - name: GPS
    walker: {planes: 6, sats_per_plane: 4, phasing: 1, inclination: 55, altitude_km: 20180}
  - name: Galileo
    id_prefix: E
    walker: {planes: 3, sats_per_plane: 8, phasing: 1, inclination: 56, altitude_km: 23222}
faults:
  - {satellite: GPS01, start: 30s, duration: 60s, bias: 200, ramp: 1}
`

func newTestSimulator(t *testing.T, doc string) (*Simulator, *kb.Catalog) {
	t.Helper()
	sc, err := DecodeScenario(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeScenario: %v", err)
	}
	catalog := kb.NewCatalog()
	sim, err := New(sc, catalog)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sim, catalog
}

func TestDecodeScenarioDefaults(t *testing.T) {
	sc, err := DecodeScenario(strings.NewReader(scenarioYAML))
	if err != nil {
		t.Fatalf("DecodeScenario: %v", err)
	}
	if sc.SigmaURE != 0.5 || sc.NoiseScale != 0 {
		t.Fatalf("noise = %v/%v", sc.SigmaURE, sc.NoiseScale)
	}
	if sc.Faults[0].Start != 30*time.Second || sc.Faults[0].Duration != time.Minute {
		t.Fatalf("fault timing = %+v", sc.Faults[0])
	}
	tles, err := sc.Elements()
	if err != nil {
		t.Fatalf("Elements: %v", err)
	}
	if len(tles) != 48 || tles[24].ID != "E01" || tles[24].Line1[2:7] != "00025" {
		t.Fatalf("unexpected elements: %d, %s %q", len(tles), tles[24].ID, tles[24].Line1[2:7])
	}
}

func TestDecodeScenarioRejects(t *testing.T) {
	cases := map[string]string{
		"missing epoch":  "receiver: {latitude: 0}\nconstellations: [{name: GPS, walker: {planes: 1, sats_per_plane: 1, altitude_km: 20000}}]\n",
		"no satellites":  "epoch: 2024-03-01T12:00:00Z\n",
		"bad tle":        "epoch: 2024-03-01T12:00:00Z\nsatellites: [{id: X, constellation: GPS, line1: '1 x', line2: '2 y'}]\n",
		"unknown field":  "epoch: 2024-03-01T12:00:00Z\nwat: 1\n",
		"negative noise": "epoch: 2024-03-01T12:00:00Z\nnoise_scale: -1\nconstellations: [{name: GPS, walker: {planes: 1, sats_per_plane: 1, altitude_km: 20000}}]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeScenario(strings.NewReader(doc)); !errors.Is(err, core.ErrConfig) {
				t.Fatalf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestFaultBiasWindow(t *testing.T) {
	f := FaultSpec{Start: 10 * time.Second, Duration: 20 * time.Second, Bias: 5, Ramp: 0.5}
	if _, ok := f.Bias(5 * time.Second); ok {
		t.Fatalf("fault active before start")
	}
	if b, ok := f.Bias(14 * time.Second); !ok || b != 7 {
		t.Fatalf("bias at 14s = %v, %v", b, ok)
	}
	if _, ok := f.Bias(30 * time.Second); ok {
		t.Fatalf("fault active after duration")
	}
	open := FaultSpec{Bias: 1}
	if _, ok := open.Bias(time.Hour); !ok {
		t.Fatalf("open-ended fault should stay active")
	}
}

func TestSimulatorSnapshot(t *testing.T) {
	sim, catalog := newTestSimulator(t, scenarioYAML)
	if n := len(catalog.ListSatellites()); n != 48 {
		t.Fatalf("catalog has %d satellites", n)
	}

	snap, err := sim.Snapshot(context.Background(), sim.Start())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Observations) < 8 {
		t.Fatalf("only %d satellites in view", len(snap.Observations))
	}
	for _, o := range snap.Observations {
		if o.Elevation < 5 || o.Elevation > 90 {
			t.Fatalf("%s elevation %.2f outside mask", o.ID, o.Elevation)
		}
		n := math.Sqrt(o.LineOfSight[0]*o.LineOfSight[0] + o.LineOfSight[1]*o.LineOfSight[1] + o.LineOfSight[2]*o.LineOfSight[2])
		if math.Abs(n-1) > 1e-9 {
			t.Fatalf("%s line of sight norm %.12f", o.ID, n)
		}
		if o.Residual != 0 {
			t.Fatalf("%s residual %.3f with noise disabled and no active fault", o.ID, o.Residual)
		}
	}
}

func TestSimulatorInjectsFault(t *testing.T) {
	sim, _ := newTestSimulator(t, scenarioYAML)
	// GPS01 may be below the horizon; read the bias wherever it is observed.
	for _, tc := range []struct {
		offset time.Duration
		want   float64
	}{
		{0, 0},
		{40 * time.Second, 210},
		{2 * time.Minute, 0},
	} {
		snap, err := sim.Snapshot(context.Background(), sim.Start().Add(tc.offset))
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		for _, o := range snap.Observations {
			if o.ID != "GPS01" {
				continue
			}
			if math.Abs(o.Residual-tc.want) > 1e-9 {
				t.Fatalf("residual at +%s = %.3f, want %.3f", tc.offset, o.Residual, tc.want)
			}
		}
	}
}

func TestSimulatorNoiseIsDeterministic(t *testing.T) {
	doc := strings.Replace(scenarioYAML, "noise_scale: 0", "noise_scale: 1", 1)
	a, _ := newTestSimulator(t, doc)
	b, _ := newTestSimulator(t, doc)
	epoch := a.Start().Add(time.Minute)

	sa, err := a.Snapshot(context.Background(), epoch)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	sb, _ := b.Snapshot(context.Background(), epoch)
	nonzero := false
	for i := range sa.Observations {
		if sa.Observations[i].Residual != sb.Observations[i].Residual {
			t.Fatalf("residuals differ for %s", sa.Observations[i].ID)
		}
		if sa.Observations[i].Residual != 0 {
			nonzero = true
		}
	}
	if !nonzero {
		t.Fatalf("expected noisy residuals")
	}
}

func TestSimulatorUnknownFaultTarget(t *testing.T) {
	doc := strings.Replace(scenarioYAML, "satellite: GPS01", "satellite: GPS99", 1)
	sc, err := DecodeScenario(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeScenario: %v", err)
	}
	if _, err := New(sc, kb.NewCatalog()); !errors.Is(err, core.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestSimulatorCancelled(t *testing.T) {
	sim, _ := newTestSimulator(t, scenarioYAML)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sim.Snapshot(ctx, sim.Start()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestShippedScenarioLoads(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("..", "..", "..", "configs", "scenario.yaml"))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	tles, err := sc.Elements()
	if err != nil {
		t.Fatalf("Elements: %v", err)
	}
	if len(tles) != 48 {
		t.Fatalf("satellites = %d, want 48", len(tles))
	}
	if _, err := New(sc, kb.NewCatalog()); err != nil {
		t.Fatalf("New: %v", err)
	}
}
