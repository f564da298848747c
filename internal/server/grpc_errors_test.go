package server

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/araim-monitor/core"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "no epoch", err: ErrNoEpoch, code: codes.Unavailable},
		{name: "integrity unavailable", err: &core.Unavailability{Reason: core.ReasonUnmonitoredRisk}, code: codes.Unavailable},
		{name: "config", err: fmt.Errorf("%w: bad budget", core.ErrConfig), code: codes.InvalidArgument},
		{name: "stale epoch", err: core.ErrStaleEpoch, code: codes.FailedPrecondition},
		{name: "cancelled", err: fmt.Errorf("epoch: %w", context.Canceled), code: codes.Canceled},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
