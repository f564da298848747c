package core

import "errors"

var (
	// ErrDomain indicates an input value (elevation, probability, sigma) lies
	// outside its valid range. Only the offending value is rejected.
	ErrDomain = errors.New("value out of domain")
	// ErrConfig indicates malformed or inconsistent configuration.
	ErrConfig = errors.New("invalid configuration")
	// ErrGeometry indicates a rank-deficient or under-determined WLS system.
	ErrGeometry = errors.New("rank-deficient or under-determined geometry")
	// ErrNumerical indicates a numerical failure that invalidates the epoch.
	ErrNumerical = errors.New("numerical failure")
	// ErrNonConvergence indicates the integrity equation has no root within
	// the configured protection level search bound.
	ErrNonConvergence = errors.New("protection level not bracketed")
	// ErrStaleEpoch indicates a snapshot that is not newer than the last
	// committed epoch.
	ErrStaleEpoch = errors.New("stale epoch")
)
