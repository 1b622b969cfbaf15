package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSink = errors.New("sink unavailable")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker() (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Second,
		HalfOpenMaxRequests: 1,
	}).WithClock(clock.now)
	return cb, clock
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	cb, clock := newTestBreaker()
	fail := func() error { return errSink }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Execute(fail), errSink)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(fail), errSink)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)

	clock.advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Execute(ok))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker()
	_ = cb.Execute(func() error { return errSink })
	_ = cb.Execute(func() error { return errSink })
	clock.advance(2 * time.Second)

	assert.ErrorIs(t, cb.Execute(func() error { return errSink }), errSink)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker()
	_ = cb.Execute(func() error { return errSink })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errSink })
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		err := cb.ExecuteContext(ctx, func(ctx context.Context) error { return ctx.Err() })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker()
	_ = cb.Execute(func() error { return errSink })
	_ = cb.Execute(func() error { return errSink })
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "closed", cb.GetState().String())
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb, clock := newTestBreaker()
	_ = cb.Execute(func() error { return errSink })
	_ = cb.Execute(func() error { return errSink })
	clock.advance(time.Second)

	probing := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(probing)
			time.Sleep(20 * time.Millisecond)
			return nil
		})
	}()
	<-probing

	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitBreakerOpen)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := NewCircuitBreaker(Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	}).WithClock(clock.now)

	_ = cb.Execute(func() error { return errSink })
	clock.advance(time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	cb.Reset()

	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}
