// Package feed delivers integrity support messages to the epoch runner.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/model"
)

// ErrNoISM is returned when no usable integrity support message is held.
var ErrNoISM = errors.New("no integrity support message available")

// Feed supplies the integrity support message to use for an epoch.
type Feed interface {
	ISM(ctx context.Context, epoch time.Time) (*model.IntegritySupportMessage, error)
}

// ValidateISM checks every satellite entry and constellation probability.
func ValidateISM(ism *model.IntegritySupportMessage) error {
	if ism == nil {
		return fmt.Errorf("%w: nil message", core.ErrDomain)
	}
	if ism.Epoch.IsZero() {
		return fmt.Errorf("%w: message has no epoch", core.ErrDomain)
	}
	for id, s := range ism.Satellites {
		if err := core.ValidateSatelliteIntegrity(s); err != nil {
			return fmt.Errorf("satellite %s: %w", id, err)
		}
	}
	for c, p := range ism.Constellations {
		if p < 0 || p > 1 || math.IsNaN(p) {
			return fmt.Errorf("%w: constellation %s probability %g outside [0, 1]", core.ErrDomain, c, p)
		}
	}
	return nil
}

// Static broadcasts the same parameters for every satellite it covers.
type Static struct {
	defaults       model.SatelliteIntegrity
	constellations map[model.ConstellationID]float64
	overrides      map[model.SatelliteID]model.SatelliteIntegrity
	satellites     func() []model.SatelliteID
}

// NewStatic builds a static feed. satellites lists the IDs to cover at
// each call; overrides replace the defaults for individual satellites.
func NewStatic(defaults model.SatelliteIntegrity, constellations map[model.ConstellationID]float64, overrides map[model.SatelliteID]model.SatelliteIntegrity, satellites func() []model.SatelliteID) (*Static, error) {
	if err := core.ValidateSatelliteIntegrity(defaults); err != nil {
		return nil, fmt.Errorf("%w: default integrity: %v", core.ErrConfig, err)
	}
	probe := &model.IntegritySupportMessage{
		Epoch:          time.Unix(0, 0),
		Satellites:     overrides,
		Constellations: constellations,
	}
	if err := ValidateISM(probe); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	return &Static{
		defaults:       defaults,
		constellations: constellations,
		overrides:      overrides,
		satellites:     satellites,
	}, nil
}

// ISM implements Feed.
func (s *Static) ISM(ctx context.Context, epoch time.Time) (*model.IntegritySupportMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ism := &model.IntegritySupportMessage{
		Epoch:          epoch,
		Satellites:     make(map[model.SatelliteID]model.SatelliteIntegrity),
		Constellations: make(map[model.ConstellationID]float64, len(s.constellations)),
	}
	for c, p := range s.constellations {
		ism.Constellations[c] = p
	}
	if s.satellites != nil {
		for _, id := range s.satellites() {
			ism.Satellites[id] = s.defaults
		}
	}
	for id, v := range s.overrides {
		ism.Satellites[id] = v
	}
	return ism, nil
}
