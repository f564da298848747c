package core

import (
	"sort"
	"time"

	"github.com/signalsfoundry/araim-monitor/model"
)

// SatelliteStatus is the exclusion status of one satellite.
type SatelliteStatus int

const (
	StatusActive SatelliteStatus = iota
	StatusExcludedPendingRecovery
	StatusExcludedPermanently
)

func (s SatelliteStatus) String() string {
	switch s {
	case StatusExcludedPendingRecovery:
		return "excluded-pending-recovery"
	case StatusExcludedPermanently:
		return "excluded-permanently"
	default:
		return "active"
	}
}

// ExclusionRecord tracks one satellite across epochs.
type ExclusionRecord struct {
	Status       SatelliteStatus `json:"status"`
	ExcludedAt   time.Time       `json:"excluded_at,omitempty"`
	LastCheck    time.Time       `json:"last_check,omitempty"`
	FailedChecks int             `json:"failed_checks,omitempty"`
}

// ExclusionState is the only state carried between epochs. The engine
// mutates a private clone and callers commit the returned copy atomically.
type ExclusionState struct {
	LastEpoch time.Time                             `json:"last_epoch"`
	Records   map[model.SatelliteID]ExclusionRecord `json:"records"`
}

// NewExclusionState returns an empty state.
func NewExclusionState() *ExclusionState {
	return &ExclusionState{Records: make(map[model.SatelliteID]ExclusionRecord)}
}

// Clone returns a deep copy.
func (s *ExclusionState) Clone() *ExclusionState {
	out := NewExclusionState()
	if s == nil {
		return out
	}
	out.LastEpoch = s.LastEpoch
	for id, r := range s.Records {
		out.Records[id] = r
	}
	return out
}

// Status returns the status of id; unknown satellites are active.
func (s *ExclusionState) Status(id model.SatelliteID) SatelliteStatus {
	if s == nil {
		return StatusActive
	}
	return s.Records[id].Status
}

// IsExcluded reports whether id is currently omitted from the active set.
func (s *ExclusionState) IsExcluded(id model.SatelliteID) bool {
	return s.Status(id) != StatusActive
}

// Excluded returns every excluded satellite, sorted.
func (s *ExclusionState) Excluded() []model.SatelliteID {
	if s == nil {
		return nil
	}
	var out []model.SatelliteID
	for id, r := range s.Records {
		if r.Status != StatusActive {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *ExclusionState) exclude(id model.SatelliteID, at time.Time) {
	s.Records[id] = ExclusionRecord{
		Status:     StatusExcludedPendingRecovery,
		ExcludedAt: at,
		LastCheck:  at,
	}
}

// recoveryDue reports whether id has served its recovery period and is due
// a consistency check at epoch.
func (s *ExclusionState) recoveryDue(id model.SatelliteID, epoch time.Time, cfg *Config) bool {
	r, ok := s.Records[id]
	if !ok || r.Status != StatusExcludedPendingRecovery {
		return false
	}
	if epoch.Sub(r.ExcludedAt) < cfg.RecoveryPeriod {
		return false
	}
	return epoch.Sub(r.LastCheck) >= cfg.ConsistencyCheckPeriod
}

func (s *ExclusionState) restore(id model.SatelliteID) {
	delete(s.Records, id)
}

// deferCheck records an inconclusive consistency check.
func (s *ExclusionState) deferCheck(id model.SatelliteID, at time.Time) {
	r := s.Records[id]
	r.LastCheck = at
	s.Records[id] = r
}

// failCheck records a failed consistency check and reports whether the
// satellite is now excluded for the rest of the session.
func (s *ExclusionState) failCheck(id model.SatelliteID, at time.Time, maxAttempts int) bool {
	r := s.Records[id]
	r.LastCheck = at
	r.FailedChecks++
	if maxAttempts > 0 && r.FailedChecks >= maxAttempts {
		r.Status = StatusExcludedPermanently
	}
	s.Records[id] = r
	return r.Status == StatusExcludedPermanently
}
