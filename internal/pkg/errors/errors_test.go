package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsHelpers_MatchWrapped(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not ready", ErrNotReady, IsNotReady},
		{"timeout", ErrTimeout, IsTimeout},
		{"worker", ErrWorker, IsWorkerError},
		{"crashed", ErrWorkerCrashed, IsWorkerCrashed},
		{"shutdown", ErrShutdown, IsShutdown},
		{"dimension", ErrDimensionMismatch, IsDimensionMismatch},
		{"storage", ErrStorage, IsStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("embed %q: %w", "hello", tt.err)
			require.True(t, tt.check(wrapped))
			require.False(t, tt.check(errors.New("other")))
		})
	}
}

func TestIsHelpers_Distinct(t *testing.T) {
	err := fmt.Errorf("request 1: %w", ErrTimeout)
	require.False(t, IsWorkerError(err))
	require.False(t, IsWorkerCrashed(err))
	require.False(t, IsShutdown(err))
}
