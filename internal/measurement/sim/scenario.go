// Package sim generates measurement snapshots from SGP4-propagated
// constellations as seen by a single receiver.
package sim

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/model"
)

// Scenario is the YAML description of a simulated run.
//
//	epoch: 2024-03-01T12:00:00Z
//	receiver: {latitude: 45.07, longitude: 7.69, altitude: 250}
//	elevation_mask: 5
//	seed: 7
//	constellations:
//	  - name: GPS
//	    walker: {planes: 6, sats_per_plane: 4, phasing: 1, inclination: 55, altitude_km: 20180}
//	faults:
//	  - {satellite: GPS03, start: 30s, duration: 60s, bias: 200}
type Scenario struct {
	Epoch         time.Time     `yaml:"epoch"`
	Receiver      core.Geodetic `yaml:"receiver"`
	ElevationMask float64       `yaml:"elevation_mask"`

	// SigmaURE and NoiseScale shape the simulated pseudorange noise:
	// NoiseScale * sqrt(SigmaURE^2 + tropo^2 + user^2). Zero scale gives
	// noiseless residuals.
	SigmaURE   float64 `yaml:"sigma_ure"`
	NoiseScale float64 `yaml:"noise_scale"`
	Seed       uint64  `yaml:"seed"`

	Constellations []ConstellationSpec `yaml:"constellations"`
	Satellites     []SatelliteSpec     `yaml:"satellites"`
	Faults         []FaultSpec         `yaml:"faults"`
}

// ConstellationSpec generates a Walker constellation.
type ConstellationSpec struct {
	Name     model.ConstellationID `yaml:"name"`
	IDPrefix string                `yaml:"id_prefix"`
	Walker   WalkerConfig          `yaml:"walker"`
}

// SatelliteSpec adds one satellite from explicit TLE lines.
type SatelliteSpec struct {
	ID            model.SatelliteID     `yaml:"id"`
	Constellation model.ConstellationID `yaml:"constellation"`
	Line1         string                `yaml:"line1"`
	Line2         string                `yaml:"line2"`
}

// FaultSpec injects a range bias on one satellite. Start is relative to
// the scenario epoch; a zero Duration lasts for the rest of the run.
// The bias grows by Ramp metres per second once active.
type FaultSpec struct {
	Satellite model.SatelliteID `yaml:"satellite"`
	Start     time.Duration     `yaml:"start"`
	Duration  time.Duration     `yaml:"duration"`
	Bias      float64           `yaml:"bias"`
	Ramp      float64           `yaml:"ramp"`
}

// Bias returns the injected bias at elapsed time since the scenario epoch.
func (f FaultSpec) Bias(elapsed time.Duration) (float64, bool) {
	if elapsed < f.Start {
		return 0, false
	}
	if f.Duration > 0 && elapsed >= f.Start+f.Duration {
		return 0, false
	}
	return f.Bias + f.Ramp*(elapsed-f.Start).Seconds(), true
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return DecodeScenario(f)
}

// DecodeScenario decodes YAML from r, applies defaults and validates.
func DecodeScenario(r io.Reader) (*Scenario, error) {
	sc := Scenario{ElevationMask: 5, SigmaURE: 0.5, NoiseScale: 1}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: decode scenario: %v", core.ErrConfig, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the scenario for consistency. TLE lines are checked
// here so malformed input never reaches the propagator.
func (sc *Scenario) Validate() error {
	if sc.Epoch.IsZero() {
		return fmt.Errorf("%w: scenario epoch is required", core.ErrConfig)
	}
	if sc.Receiver.LatitudeDeg < -90 || sc.Receiver.LatitudeDeg > 90 {
		return fmt.Errorf("%w: receiver latitude %.4f out of range", core.ErrConfig, sc.Receiver.LatitudeDeg)
	}
	if sc.ElevationMask < 0 || sc.ElevationMask >= 90 {
		return fmt.Errorf("%w: elevation mask %.2f out of range", core.ErrConfig, sc.ElevationMask)
	}
	if sc.SigmaURE < 0 || sc.NoiseScale < 0 {
		return fmt.Errorf("%w: noise parameters must be non-negative", core.ErrConfig)
	}
	if len(sc.Constellations) == 0 && len(sc.Satellites) == 0 {
		return fmt.Errorf("%w: scenario has no satellites", core.ErrConfig)
	}
	for _, c := range sc.Constellations {
		if c.Name == "" {
			return fmt.Errorf("%w: constellation name is required", core.ErrConfig)
		}
		if err := c.Walker.Validate(); err != nil {
			return fmt.Errorf("constellation %s: %w", c.Name, err)
		}
	}
	for _, s := range sc.Satellites {
		if s.ID == "" || s.Constellation == "" {
			return fmt.Errorf("%w: satellite requires id and constellation", core.ErrConfig)
		}
		if err := core.ValidateTLE(s.Line1, s.Line2); err != nil {
			return fmt.Errorf("satellite %s: %w", s.ID, err)
		}
	}
	for _, f := range sc.Faults {
		if f.Satellite == "" || f.Start < 0 || f.Duration < 0 {
			return fmt.Errorf("%w: fault requires a satellite and non-negative timing", core.ErrConfig)
		}
	}
	return nil
}

// Elements expands the scenario into one TLE per satellite. Walker
// constellations are numbered consecutively from catalogue number 1.
func (sc *Scenario) Elements() ([]TLE, error) {
	var out []TLE
	next := 1
	for _, c := range sc.Constellations {
		prefix := c.IDPrefix
		if prefix == "" {
			prefix = string(c.Name)
		}
		tles, err := c.Walker.Elements(prefix, c.Name, next, sc.Epoch)
		if err != nil {
			return nil, fmt.Errorf("constellation %s: %w", c.Name, err)
		}
		next += len(tles)
		out = append(out, tles...)
	}
	for _, s := range sc.Satellites {
		out = append(out, TLE{ID: s.ID, Constellation: s.Constellation, Line1: s.Line1, Line2: s.Line2})
	}
	return out, nil
}
