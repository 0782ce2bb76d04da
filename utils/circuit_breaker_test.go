package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func newTestBreaker(clock *FakeClock) *CircuitBreaker {
	return NewCircuitBreaker("test",
		WithBreakerClock(clock),
		WithTripThreshold(4, 0.5),
		WithCooldown(10*time.Second),
	)
}

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("pubnub")

	assert.Equal(t, "pubnub", cb.name)
	assert.Equal(t, uint32(20), cb.minRequests)
	assert.Equal(t, 0.6, cb.failureRatio)
	assert.Equal(t, 30*time.Second, cb.cooldown)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := newTestBreaker(NewFakeClock(time.Now()))

	err := cb.Execute(context.Background(), succeed)

	assert.NoError(t, err)
	counts := cb.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteFailurePassesErrorThrough(t *testing.T) {
	cb := newTestBreaker(NewFakeClock(time.Now()))

	err := cb.Execute(context.Background(), fail)

	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterFailureRatio(t *testing.T) {
	clock := NewFakeClock(time.Now())
	cb := newTestBreaker(clock)
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, succeed))
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State(), "below the request threshold")

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := NewFakeClock(time.Now())
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(10 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	t.Run("failed probe reopens", func(t *testing.T) {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("successful probe closes", func(t *testing.T) {
		clock.Advance(10 * time.Second)
		require.Equal(t, StateHalfOpen, cb.State())
		assert.NoError(t, cb.Execute(ctx, succeed))
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, Counts{}, cb.Counts())
	})
}

func TestCircuitBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	clock := NewFakeClock(time.Now())
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(10 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyHalfOpen)
	close(release)
}

func TestCircuitBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	cb := newTestBreaker(NewFakeClock(time.Now()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 4; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().TotalFailures)
}

func TestCircuitBreaker_WindowResetsCounts(t *testing.T) {
	clock := NewFakeClock(time.Now())
	cb := newTestBreaker(clock)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.Advance(61 * time.Second)
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	cb := newTestBreaker(NewFakeClock(time.Now()))

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
}

func TestCircuitBreaker_ConcurrentExecute(t *testing.T) {
	cb := NewCircuitBreaker("concurrent", WithBreakerClock(NewFakeClock(time.Now())))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(ctx, succeed)
		}()
	}
	wg.Wait()

	counts := cb.Counts()
	assert.Equal(t, uint32(50), counts.Requests)
	assert.Equal(t, uint32(50), counts.TotalSuccesses)
}

func BenchmarkCircuitBreaker_Execute(b *testing.B) {
	cb := NewCircuitBreaker("benchmark")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cb.Execute(ctx, succeed)
	}
}
