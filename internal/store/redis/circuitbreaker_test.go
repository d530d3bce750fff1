package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

// fakeClock lets tests move past the reset timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 8, 30, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, reset)
	cb.now = clk.now
	return cb, clk
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.Equal(t, errFail, cb.Execute(func() error { return errFail }))
	}
	assert.Equal(t, StateOpen, cb.CurrentState())

	// Calls should be rejected immediately
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clk := newTestBreaker(2, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errFail })
	}
	require.Equal(t, StateOpen, cb.CurrentState())

	clk.advance(60 * time.Millisecond)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_HalfOpenFailure(t *testing.T) {
	cb, clk := newTestBreaker(2, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errFail })
	}

	clk.advance(60 * time.Millisecond)
	_ = cb.Execute(func() error { return errFail })

	assert.Equal(t, StateOpen, cb.CurrentState())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 100*time.Millisecond)

	// 2 failures, then a success
	_ = cb.Execute(func() error { return errFail })
	_ = cb.Execute(func() error { return errFail })
	_ = cb.Execute(func() error { return nil })

	// 2 more failures shouldn't trip because counter was reset
	_ = cb.Execute(func() error { return errFail })
	_ = cb.Execute(func() error { return errFail })

	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_OnStateChangeCallback(t *testing.T) {
	var transitions []State
	cb, clk := newTestBreaker(1, 50*time.Millisecond)
	cb.OnStateChange = func(from, to State) {
		transitions = append(transitions, to)
	}

	_ = cb.Execute(func() error { return errFail })
	assert.Equal(t, []State{StateOpen}, transitions)

	clk.advance(60 * time.Millisecond)
	_ = cb.Execute(func() error { return nil })

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
