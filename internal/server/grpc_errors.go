package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/araim-monitor/core"
)

// ErrNoEpoch is returned before the first epoch has been published.
var ErrNoEpoch = errors.New("no epoch processed yet")

// ToStatusError maps monitor errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var unavailable *core.Unavailability
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, ErrNoEpoch),
		errors.As(err, &unavailable):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, core.ErrConfig),
		errors.Is(err, core.ErrDomain):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrStaleEpoch):
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
