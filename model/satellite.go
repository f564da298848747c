package model

import "math"

// SatelliteID identifies a ranging source, e.g. "G07" or "E11".
type SatelliteID string

// ConstellationID identifies a GNSS constellation, e.g. "GPS" or "Galileo".
type ConstellationID string

// SatelliteObservation is one row of a measurement snapshot.
type SatelliteObservation struct {
	ID            SatelliteID     `json:"id" yaml:"id"`
	Constellation ConstellationID `json:"constellation" yaml:"constellation"`

	// Elevation and Azimuth are in degrees as seen from the receiver.
	Elevation float64 `json:"elevation" yaml:"elevation"`
	Azimuth   float64 `json:"azimuth" yaml:"azimuth"`

	// LineOfSight is the receiver-to-satellite unit vector in the local
	// East/North/Up frame.
	LineOfSight [3]float64 `json:"line_of_sight" yaml:"line_of_sight"`

	// Residual is the pseudorange residual in metres after applying the
	// linearisation point.
	Residual float64 `json:"residual" yaml:"residual"`
}

// LineOfSightFromAzEl returns the ENU unit vector for the given azimuth
// and elevation, both in degrees.
func LineOfSightFromAzEl(azimuthDeg, elevationDeg float64) [3]float64 {
	az := azimuthDeg * math.Pi / 180
	el := elevationDeg * math.Pi / 180
	return [3]float64{
		math.Cos(el) * math.Sin(az),
		math.Cos(el) * math.Cos(az),
		math.Sin(el),
	}
}
