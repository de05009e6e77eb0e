package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinels_AreDistinct(t *testing.T) {
	all := []error{
		ErrNotFound, ErrConflict, ErrStoreFull, ErrInvalidRecord, ErrCompacted, ErrUnreachable,
		ErrSessionFailed, ErrCursorRegressed, ErrProtocol, ErrBusy, ErrCancelled,
		ErrUnauthorized, ErrInvalidToken, ErrTokenExpired,
	}
	for i, a := range all {
		for j, b := range all {
			if i == j {
				continue
			}
			require.False(t, errors.Is(a, b), "%v must not match %v", a, b)
		}
	}
}

func TestSentinels_SurviveWrapping(t *testing.T) {
	err := fmt.Errorf("put p1: %w", ErrConflict)
	require.ErrorIs(t, err, ErrConflict)
}
