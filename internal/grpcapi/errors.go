package grpcapi

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rbright/reelnote/internal/session"
)

// toStatus maps session errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, session.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, session.ErrAlreadyStarted):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, session.ErrResetRequired):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, session.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, session.ErrSupervisorClosed):
		return status.Error(codes.Unavailable, err.Error())
	case session.IsMalformed(err):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus maps a gRPC status back onto the session sentinel errors so
// callers can use errors.Is on either side of the wire.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = session.ErrSessionNotFound
	case codes.AlreadyExists:
		sentinel = session.ErrAlreadyStarted
	case codes.FailedPrecondition:
		sentinel = session.ErrResetRequired
	case codes.ResourceExhausted:
		sentinel = session.ErrQueueFull
	default:
		return err
	}
	return fmt.Errorf("%s: %w", st.Message(), sentinel)
}
