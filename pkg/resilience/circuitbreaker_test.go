package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitsbeam/cosmonauts/pkg/resilience"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	failing := func(ctx context.Context) error { return errors.New("boom") }

	require.Error(t, cb.Execute(context.Background(), failing))
	require.Equal(t, resilience.StateClosed, cb.State())
	require.Error(t, cb.Execute(context.Background(), failing))
	require.Equal(t, resilience.StateOpen, cb.State())

	err := cb.Execute(context.Background(), failing)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestCircuitBreakerRecoversAfterTimeout(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          5 * time.Millisecond,
	})

	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.Equal(t, resilience.StateOpen, cb.State())

	time.Sleep(10 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	}))
	require.Equal(t, resilience.StateClosed, cb.State())
}
