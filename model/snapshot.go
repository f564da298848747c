package model

import (
	"sort"
	"time"
)

// MeasurementSnapshot is the per-epoch input delivered by a measurement
// source. The engine treats it as read-only.
type MeasurementSnapshot struct {
	Epoch        time.Time              `json:"epoch" yaml:"epoch"`
	Observations []SatelliteObservation `json:"observations" yaml:"observations"`
}

// SatelliteIDs returns the observed satellites in snapshot order.
func (s *MeasurementSnapshot) SatelliteIDs() []SatelliteID {
	if s == nil {
		return nil
	}
	ids := make([]SatelliteID, 0, len(s.Observations))
	for _, o := range s.Observations {
		ids = append(ids, o.ID)
	}
	return ids
}

// Constellations returns the distinct constellations present, sorted.
func (s *MeasurementSnapshot) Constellations() []ConstellationID {
	if s == nil {
		return nil
	}
	seen := make(map[ConstellationID]struct{})
	for _, o := range s.Observations {
		seen[o.Constellation] = struct{}{}
	}
	out := make([]ConstellationID, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
