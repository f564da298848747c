package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/araim-monitor/model"
)

// FDEState is a state of the fault detection and exclusion machine.
type FDEState int

const (
	StateNominal FDEState = iota
	StateFaultDetected
	StateCandidateSelection
	StateCandidateTesting
	StateExcluded
	StateIntegrityUnavailable
)

func (s FDEState) String() string {
	switch s {
	case StateNominal:
		return "nominal"
	case StateFaultDetected:
		return "fault_detected"
	case StateCandidateSelection:
		return "candidate_selection"
	case StateCandidateTesting:
		return "candidate_testing"
	case StateExcluded:
		return "excluded"
	case StateIntegrityUnavailable:
		return "integrity_unavailable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// UnavailableReason explains an IntegrityUnavailable outcome.
type UnavailableReason string

const (
	ReasonUnmonitoredRisk         UnavailableReason = "unmonitored_risk"
	ReasonNoPLRoot                UnavailableReason = "no_pl_root"
	ReasonNoExclusionCandidate    UnavailableReason = "no_exclusion_candidate"
	ReasonNumerical               UnavailableReason = "numerical"
	ReasonInsufficientSatellites  UnavailableReason = "insufficient_satellites"
	ReasonEffectiveMonitorTooHigh UnavailableReason = "emt_limit"
)

// Unavailability is the explicit signal that no certified position or
// protection level exists for an epoch.
type Unavailability struct {
	Reason UnavailableReason
	Err    error
}

func (u *Unavailability) Error() string {
	if u.Err == nil {
		return "integrity unavailable: " + string(u.Reason)
	}
	return fmt.Sprintf("integrity unavailable (%s): %v", u.Reason, u.Err)
}

func (u *Unavailability) Unwrap() error { return u.Err }

// RejectedSatellite is an observation dropped before monitoring.
type RejectedSatellite struct {
	ID  model.SatelliteID
	Err error
}

// EpochOutput is everything the engine reports for one epoch.
type EpochOutput struct {
	Epoch time.Time
	State FDEState
	// Trace lists every state visited this epoch, in order.
	Trace []FDEState

	Solution         *PositionSolution
	ProtectionLevels *ProtectionLevels
	Separation       *SeparationResult

	ActiveSatellites []model.SatelliteID
	Rejected         []RejectedSatellite
	Excluded         []model.SatelliteID
	Recovered        []model.SatelliteID
	Exclusions       map[model.SatelliteID]ExclusionRecord

	// Unavailable is set exactly when State is StateIntegrityUnavailable.
	Unavailable *Unavailability
}

// Available reports whether the epoch produced a certified solution.
func (o *EpochOutput) Available() bool {
	return o != nil && o.Unavailable == nil
}

func (o *EpochOutput) enter(s FDEState) {
	o.State = s
	o.Trace = append(o.Trace, s)
}
