package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingOp(context.Context) (interface{}, error) {
	return nil, errors.New("boom")
}

func TestCircuitBreakerTripsAndReturnsOpenError(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{
		Name:             "trip-breaker",
		Timeout:          50 * time.Millisecond,
		Interval:         50 * time.Millisecond,
		FailureThreshold: 2,
		SuccessThreshold: 1,
	}, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := breaker.Execute(ctx, failingOp)
		require.Error(t, err)
	}

	assert.False(t, breaker.Allow(), "breaker should be open after consecutive failures")

	_, err := breaker.Execute(ctx, func(context.Context) (interface{}, error) {
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerPassesThroughOnSuccess(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{
		Name:             "success-breaker",
		Timeout:          time.Second,
		Interval:         time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	}, nil)

	result, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return "response", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "response", result)
	assert.True(t, breaker.Allow())
}

func TestCircuitBreakerServesFallbackWhenOpen(t *testing.T) {
	fallbackErr := errors.New("service unavailable")
	breaker := NewCircuitBreaker(Settings{
		Name:             "fallback-breaker",
		Timeout:          time.Second,
		Interval:         time.Second,
		FailureThreshold: 1,
		SuccessThreshold: 1,
	}, func(ctx context.Context, err error) (interface{}, error) {
		return nil, fallbackErr
	})

	ctx := context.Background()
	_, err := breaker.Execute(ctx, failingOp)
	require.Error(t, err)
	require.False(t, breaker.Allow())

	// Open circuit: the operation must not run, the fallback answers.
	_, err = breaker.Execute(ctx, func(context.Context) (interface{}, error) {
		t.Fatal("operation must not execute while open")
		return nil, nil
	})
	assert.ErrorIs(t, err, fallbackErr)
}

func TestCircuitBreakerRejectsNilOperation(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{Name: "nil-breaker"}, nil)
	_, err := breaker.Execute(context.Background(), nil)
	assert.Error(t, err)
}
