package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return NewCircuitBreaker("test-breaker", config, logrus.New())
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := testBreaker(CircuitBreakerConfig{})

	assert.Equal(t, 5, cb.config.FailureThreshold)
	assert.Equal(t, 2, cb.config.SuccessThreshold)
	assert.Equal(t, 60*time.Second, cb.config.OpenTimeout)
	assert.Equal(t, 3, cb.config.HalfOpenMaxCalls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_Execute_Success(t *testing.T) {
	cb := testBreaker(CircuitBreakerConfig{})

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	assert.NoError(t, err)
	stats := cb.GetStats()
	assert.Equal(t, int64(1), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.SuccessfulCalls)
}

func TestCircuitBreaker_Execute_PassesError(t *testing.T) {
	cb := testBreaker(CircuitBreakerConfig{})
	sendErr := errors.New("chat not found")

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return sendErr
	})

	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, int64(1), cb.GetStats().FailedCalls)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := testBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	fail := func(ctx context.Context) error { return errors.New("timeout") }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}

	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("open breaker must not run the call")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int64(1), cb.GetStats().RejectedCalls)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := testBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	// Two successful probes close the circuit again.
	ok := func(ctx context.Context) error { return nil }
	assert.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := testBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenTimeout:      10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	time.Sleep(20 * time.Millisecond)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still down") })

	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb := testBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 10,
		OpenTimeout:      10 * time.Millisecond,
		HalfOpenMaxCalls: 2,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	time.Sleep(20 * time.Millisecond)

	ok := func(ctx context.Context) error { return nil }
	assert.NoError(t, cb.Execute(context.Background(), ok))
	assert.NoError(t, cb.Execute(context.Background(), ok))

	err := cb.Execute(context.Background(), ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_FailureWindowExpires(t *testing.T) {
	cb := testBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		FailureWindow:    10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("blip") })
	time.Sleep(20 * time.Millisecond)

	// The old failure aged out, so one more failure does not trip.
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("blip") })
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := testBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()

	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestCircuitBreaker_ConcurrentCalls(t *testing.T) {
	cb := testBreaker(CircuitBreakerConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = cb.Execute(context.Background(), func(ctx context.Context) error {
					if (n+j)%2 == 0 {
						return errors.New("flaky")
					}
					return nil
				})
			}
		}(i)
	}
	wg.Wait()

	stats := cb.GetStats()
	assert.Equal(t, int64(200), stats.TotalCalls)
	assert.Equal(t, int64(200), stats.SuccessfulCalls+stats.FailedCalls)
}
