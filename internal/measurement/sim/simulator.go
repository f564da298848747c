package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/internal/logging"
	"github.com/signalsfoundry/araim-monitor/kb"
	"github.com/signalsfoundry/araim-monitor/model"
)

// Simulator implements measurement.Source by propagating every catalogued
// satellite and projecting it into the receiver's local frame.
type Simulator struct {
	scenario *Scenario
	catalog  *kb.Catalog
	log      logging.Logger
	faults   map[model.SatelliteID][]FaultSpec
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds a simulator for sc and registers its satellites in catalog.
func New(sc *Scenario, catalog *kb.Catalog, opts ...Option) (*Simulator, error) {
	if sc == nil || catalog == nil {
		return nil, fmt.Errorf("%w: simulator needs a scenario and a catalog", core.ErrConfig)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		scenario: sc,
		catalog:  catalog,
		log:      logging.Noop(),
		faults:   make(map[model.SatelliteID][]FaultSpec),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.populate(); err != nil {
		return nil, err
	}
	for _, f := range sc.Faults {
		if catalog.GetSatellite(f.Satellite) == nil {
			return nil, fmt.Errorf("%w: fault targets unknown satellite %s", core.ErrConfig, f.Satellite)
		}
		s.faults[f.Satellite] = append(s.faults[f.Satellite], f)
	}
	return s, nil
}

func (s *Simulator) populate() error {
	tles, err := s.scenario.Elements()
	if err != nil {
		return err
	}
	for _, t := range tles {
		orbit, err := core.NewSGP4Orbit(t.Line1, t.Line2)
		if err != nil {
			return fmt.Errorf("satellite %s: %w", t.ID, err)
		}
		rec := &kb.SatelliteRecord{ID: t.ID, Constellation: t.Constellation, Orbit: orbit}
		if err := s.catalog.AddSatellite(rec); err != nil {
			return err
		}
	}
	s.log.Info(context.Background(), "simulated constellation loaded",
		logging.Int("satellites", len(tles)),
		logging.Float("elevation_mask", s.scenario.ElevationMask),
	)
	return nil
}

// Start returns the scenario epoch.
func (s *Simulator) Start() time.Time { return s.scenario.Epoch }

// Snapshot propagates every satellite to epoch and returns those above
// the elevation mask. Noise is seeded from the scenario seed and the
// epoch, so repeated calls for the same epoch agree.
func (s *Simulator) Snapshot(ctx context.Context, epoch time.Time) (*model.MeasurementSnapshot, error) {
	epoch = epoch.UTC()
	rng := rand.New(rand.NewPCG(s.scenario.Seed, uint64(epoch.UnixNano())))
	elapsed := epoch.Sub(s.scenario.Epoch)

	snap := &model.MeasurementSnapshot{Epoch: epoch}
	for _, rec := range s.catalog.ListSatellites() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pos, err := rec.Orbit.PositionECEF(epoch)
		if err != nil {
			if errors.Is(err, core.ErrDomain) {
				s.log.Warn(ctx, "propagation failed", logging.String("satellite", string(rec.ID)), logging.Err(err))
				continue
			}
			return nil, err
		}
		az, el, los := core.LookAngles(s.scenario.Receiver, pos)
		if el < s.scenario.ElevationMask {
			continue
		}
		residual := rng.NormFloat64() * s.noiseSigma(el)
		for _, f := range s.faults[rec.ID] {
			if b, ok := f.Bias(elapsed); ok {
				residual += b
			}
		}
		snap.Observations = append(snap.Observations, model.SatelliteObservation{
			ID:            rec.ID,
			Constellation: rec.Constellation,
			Elevation:     el,
			Azimuth:       az,
			LineOfSight:   los,
			Residual:      residual,
		})
	}
	return snap, nil
}

// noiseSigma combines the broadcast URE with the elevation-dependent
// tropospheric and user terms. Below the error-model range only the URE
// term applies; the engine rejects those satellites anyway.
func (s *Simulator) noiseSigma(elevation float64) float64 {
	if s.scenario.NoiseScale == 0 {
		return 0
	}
	variance := s.scenario.SigmaURE * s.scenario.SigmaURE
	if tropo, err := core.TropoError(elevation); err == nil {
		variance += tropo * tropo
	}
	if user, err := core.UserError(elevation); err == nil {
		variance += user * user
	}
	return s.scenario.NoiseScale * math.Sqrt(variance)
}
