package model

import "time"

// SatelliteIntegrity holds the ISM parameters broadcast for one satellite.
type SatelliteIntegrity struct {
	// SigmaURA bounds clock and ephemeris error for integrity (metres).
	SigmaURA float64 `json:"sigma_ura" yaml:"sigma_ura"`
	// SigmaURE bounds clock and ephemeris error for accuracy and
	// continuity (metres).
	SigmaURE float64 `json:"sigma_ure" yaml:"sigma_ure"`
	// MaxBias is the maximum nominal bias (metres).
	MaxBias float64 `json:"max_bias" yaml:"max_bias"`
	// PSat is the prior probability of a satellite fault.
	PSat float64 `json:"p_sat" yaml:"p_sat"`
}

// IntegritySupportMessage is the per-epoch integrity feed payload.
type IntegritySupportMessage struct {
	Epoch          time.Time                          `json:"epoch" yaml:"epoch"`
	Satellites     map[SatelliteID]SatelliteIntegrity `json:"satellites" yaml:"satellites"`
	Constellations map[ConstellationID]float64        `json:"constellations" yaml:"constellations"`
}

// Satellite returns the ISM entry for id.
func (m *IntegritySupportMessage) Satellite(id SatelliteID) (SatelliteIntegrity, bool) {
	if m == nil {
		return SatelliteIntegrity{}, false
	}
	s, ok := m.Satellites[id]
	return s, ok
}

// ConstellationFault returns the constellation fault probability for c.
func (m *IntegritySupportMessage) ConstellationFault(c ConstellationID) (float64, bool) {
	if m == nil {
		return 0, false
	}
	p, ok := m.Constellations[c]
	return p, ok
}
