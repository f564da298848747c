// Package measurement supplies per-epoch measurement snapshots to the
// integrity engine.
package measurement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/araim-monitor/model"
)

// ErrNoSnapshot is returned when a source has nothing for the requested epoch.
var ErrNoSnapshot = errors.New("no measurement snapshot for epoch")

// Source supplies one snapshot per epoch. Implementations must return a
// snapshot the caller may treat as its own.
type Source interface {
	Snapshot(ctx context.Context, epoch time.Time) (*model.MeasurementSnapshot, error)
}

// StaticSource replays recorded snapshots. For a requested epoch it returns
// the latest recording at or before that epoch.
type StaticSource struct {
	snapshots []model.MeasurementSnapshot
}

// NewStaticSource sorts snapshots by epoch.
func NewStaticSource(snapshots []model.MeasurementSnapshot) *StaticSource {
	s := append([]model.MeasurementSnapshot(nil), snapshots...)
	sort.SliceStable(s, func(i, j int) bool { return s[i].Epoch.Before(s[j].Epoch) })
	return &StaticSource{snapshots: s}
}

type snapshotFile struct {
	Snapshots []snapshotDoc `yaml:"snapshots"`
}

type snapshotDoc struct {
	Epoch        time.Time        `yaml:"epoch"`
	Observations []observationDoc `yaml:"observations"`
}

// observationDoc lets recordings omit the line of sight, which is then
// derived from azimuth and elevation.
type observationDoc struct {
	ID            model.SatelliteID     `yaml:"id"`
	Constellation model.ConstellationID `yaml:"constellation"`
	Elevation     float64               `yaml:"elevation"`
	Azimuth       float64               `yaml:"azimuth"`
	LineOfSight   *[3]float64           `yaml:"line_of_sight"`
	Residual      float64               `yaml:"residual"`
}

// LoadSnapshots decodes a YAML recording of the form
//
//	snapshots:
//	  - epoch: 2024-03-01T12:00:00Z
//	    observations:
//	      - {id: GPS01, constellation: GPS, elevation: 45, azimuth: 120, residual: 0.3}
func LoadSnapshots(r io.Reader) ([]model.MeasurementSnapshot, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc snapshotFile
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}

	out := make([]model.MeasurementSnapshot, 0, len(doc.Snapshots))
	for i, s := range doc.Snapshots {
		if s.Epoch.IsZero() {
			return nil, fmt.Errorf("snapshot %d: missing epoch", i)
		}
		snap := model.MeasurementSnapshot{Epoch: s.Epoch.UTC()}
		for _, o := range s.Observations {
			if o.ID == "" || o.Constellation == "" {
				return nil, fmt.Errorf("snapshot %d: observation requires id and constellation", i)
			}
			obs := model.SatelliteObservation{
				ID:            o.ID,
				Constellation: o.Constellation,
				Elevation:     o.Elevation,
				Azimuth:       o.Azimuth,
				Residual:      o.Residual,
			}
			if o.LineOfSight != nil {
				obs.LineOfSight = *o.LineOfSight
			} else {
				obs.LineOfSight = model.LineOfSightFromAzEl(o.Azimuth, o.Elevation)
			}
			snap.Observations = append(snap.Observations, obs)
		}
		out = append(out, snap)
	}
	return out, nil
}

// Snapshot implements Source.
func (s *StaticSource) Snapshot(ctx context.Context, epoch time.Time) (*model.MeasurementSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx := sort.Search(len(s.snapshots), func(i int) bool { return s.snapshots[i].Epoch.After(epoch) }) - 1
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, epoch.Format(time.RFC3339))
	}
	snap := s.snapshots[idx]
	return &model.MeasurementSnapshot{
		Epoch:        snap.Epoch,
		Observations: append([]model.SatelliteObservation(nil), snap.Observations...),
	}, nil
}

// Start returns the epoch of the earliest recording, or the zero time.
func (s *StaticSource) Start() time.Time {
	if len(s.snapshots) == 0 {
		return time.Time{}
	}
	return s.snapshots[0].Epoch
}

// Satellites lists every satellite seen in the recording, sorted.
func (s *StaticSource) Satellites() []model.SatelliteID {
	seen := make(map[model.SatelliteID]struct{})
	for _, snap := range s.snapshots {
		for _, o := range snap.Observations {
			seen[o.ID] = struct{}{}
		}
	}
	out := make([]model.SatelliteID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
