package libroutine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/contenox/analyst/libroutine"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_ClosedState_AllowsExecution(t *testing.T) {
	rm := libroutine.NewRoutine(3, time.Second)
	require.True(t, rm.Allow())
	require.NoError(t, rm.Execute(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	rm := libroutine.NewRoutine(1, time.Minute)
	err := rm.Execute(context.Background(), func(ctx context.Context) error { return errors.New("test error") })
	require.Error(t, err)
	require.False(t, rm.Allow())
	require.ErrorIs(t, rm.Execute(context.Background(), func(ctx context.Context) error { return nil }), libroutine.ErrCircuitOpen)
}

func TestCircuitBreaker_RecoversFromHalfOpenOnSuccess(t *testing.T) {
	rm := libroutine.NewRoutine(1, 20*time.Millisecond)
	_ = rm.Execute(context.Background(), func(ctx context.Context) error { return errors.New("test error") })

	require.Eventually(t, rm.Allow, time.Second, 5*time.Millisecond)
	require.Equal(t, libroutine.HalfOpen, rm.GetState())

	require.NoError(t, rm.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	require.Equal(t, libroutine.Closed, rm.GetState())
}

func TestCircuitBreaker_ReopensAfterFailureInHalfOpen(t *testing.T) {
	rm := libroutine.NewRoutine(3, 20*time.Millisecond)
	rm.ForceOpen()
	require.Eventually(t, rm.Allow, time.Second, 5*time.Millisecond)

	_ = rm.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still down") })
	require.Equal(t, libroutine.Open, rm.GetState())
}

func TestCircuitBreaker_ForceOpenAndClose(t *testing.T) {
	rm := libroutine.NewRoutine(2, time.Minute)
	rm.ForceOpen()
	require.Equal(t, libroutine.Open, rm.GetState())
	require.False(t, rm.Allow())
	rm.ForceClose()
	require.Equal(t, libroutine.Closed, rm.GetState())
	require.True(t, rm.Allow())
	require.Equal(t, 2, rm.GetThreshold())
	require.Equal(t, time.Minute, rm.GetResetTimeout())
}
