package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/cascade/internal/core/pipeline"
	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/types"
)

// Auth errors are mapped by the auth interceptor.
// Request shape errors map to INVALID_ARGUMENT.
// A full queue maps to RESOURCE_EXHAUSTED, a closed pipeline to UNAVAILABLE.
// Rule validation failures map to FAILED_PRECONDITION.
// Context timeouts map to DEADLINE_EXCEEDED.

// ErrInvalidRequest indicates a request struct that cannot become an Event.
var ErrInvalidRequest = errors.New("invalid request")

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var report *rules.ValidationReport
	if errors.As(err, &report) {
		return status.Error(codes.FailedPrecondition, report.Error())
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, types.ErrPayloadNotObject),
		errors.Is(err, types.ErrPayloadTooLarge),
		errors.Is(err, types.ErrUnsupportedValue):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, pipeline.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, pipeline.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
