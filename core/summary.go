package core

import (
	"time"

	"github.com/signalsfoundry/araim-monitor/model"
)

// EpochSummary is the flat, serialisable view of an EpochOutput used by
// the archive, the status service and logs.
type EpochSummary struct {
	Epoch     time.Time `json:"epoch"`
	State     string    `json:"state"`
	Trace     []string  `json:"trace"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`

	// Position is nil when the epoch has no certified solution.
	Position *[3]float64 `json:"position,omitempty"`
	VPL      float64     `json:"vpl,omitempty"`
	HPL      float64     `json:"hpl,omitempty"`
	EMT      float64     `json:"emt,omitempty"`
	Accuracy float64     `json:"accuracy,omitempty"`

	MonitoredModes         int     `json:"monitored_modes"`
	UnmonitoredProbability float64 `json:"unmonitored_probability"`
	ChiSquared             float64 `json:"chi_squared"`

	Active    []model.SatelliteID `json:"active"`
	Rejected  []model.SatelliteID `json:"rejected,omitempty"`
	Excluded  []model.SatelliteID `json:"excluded,omitempty"`
	Recovered []model.SatelliteID `json:"recovered,omitempty"`
	// Held lists every satellite the exclusion state keeps out of the
	// active set after this epoch.
	Held []model.SatelliteID `json:"held,omitempty"`
}

// Summary flattens o.
func (o *EpochOutput) Summary() EpochSummary {
	s := EpochSummary{
		Epoch:     o.Epoch,
		State:     o.State.String(),
		Available: o.Available(),
		Active:    o.ActiveSatellites,
		Excluded:  o.Excluded,
		Recovered: o.Recovered,
	}
	for _, st := range o.Trace {
		s.Trace = append(s.Trace, st.String())
	}
	for _, r := range o.Rejected {
		s.Rejected = append(s.Rejected, r.ID)
	}
	if o.Unavailable != nil {
		s.Reason = string(o.Unavailable.Reason)
		if o.Unavailable.Err != nil {
			s.Error = o.Unavailable.Err.Error()
		}
	}
	if o.Solution != nil {
		pos := o.Solution.Position()
		s.Position = &pos
	}
	if pl := o.ProtectionLevels; pl != nil {
		s.VPL, s.HPL, s.EMT, s.Accuracy = pl.Vertical, pl.Horizontal, pl.EMT, pl.Accuracy
	}
	if sep := o.Separation; sep != nil {
		s.MonitoredModes = len(sep.Modes)
		s.UnmonitoredProbability = sep.UnmonitoredProbability
		s.ChiSquared = sep.ChiSquared
	}
	held := &ExclusionState{Records: o.Exclusions}
	s.Held = held.Excluded()
	return s
}
