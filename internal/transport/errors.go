package transport

import (
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// mapError turns a gRPC status into the matching sentinel.
func mapError(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	var sentinel error
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		sentinel = common.ErrUnreachable
	case codes.Unauthenticated, codes.PermissionDenied:
		sentinel = common.ErrUnauthorized
	case codes.ResourceExhausted:
		sentinel = common.ErrBusy
	case codes.FailedPrecondition:
		sentinel = common.ErrProtocol
	case codes.Canceled:
		sentinel = common.ErrCancelled
	default:
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}

// toStatus is the server-side counterpart of mapError.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		code = codes.Unauthenticated
	case errors.Is(err, common.ErrBusy):
		code = codes.ResourceExhausted
	case errors.Is(err, common.ErrProtocol), errors.Is(err, common.ErrCursorRegressed):
		code = codes.FailedPrecondition
	case errors.Is(err, common.ErrCancelled):
		code = codes.Canceled
	case errors.Is(err, common.ErrNotFound):
		code = codes.NotFound
	}
	return status.Error(code, err.Error())
}
