package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      50 * time.Millisecond,
		HalfOpenMax:      2,
	}
}

func fail() error { return errBoom }
func ok() error   { return nil }

func TestStaysClosedOnSuccess(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Do(ok))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(fail), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	// While open, calls are rejected without running fn.
	ran := false
	err := b.Do(func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, ran)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b := New(testConfig())
	b.Do(fail)
	b.Do(fail)
	b.Do(ok)
	b.Do(fail)
	b.Do(fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenProbeAfterTimeout(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.Do(fail)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)

	// First probe goes through; a second success closes the circuit.
	require.NoError(t, b.Do(ok))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Do(ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.Do(fail)
	}
	time.Sleep(60 * time.Millisecond)

	assert.ErrorIs(t, b.Do(fail), errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Do(ok), ErrOpen)
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.Do(fail)
	}
	time.Sleep(60 * time.Millisecond)

	// HalfOpenMax is 2: after two probes the third is rejected even though
	// nothing has resolved the state yet.
	slow := func() error { return nil }
	require.NoError(t, b.Do(slow))
	require.Equal(t, StateHalfOpen, b.State())

	// SuccessThreshold is 2, so the second success closes; use a fresh open
	// circuit to observe the probe cap instead.
	b2 := New(Config{FailureThreshold: 1, SuccessThreshold: 5, OpenTimeout: 10 * time.Millisecond, HalfOpenMax: 2})
	b2.Do(fail)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b2.Do(ok))
	require.NoError(t, b2.Do(ok))
	assert.ErrorIs(t, b2.Do(ok), ErrOpen)
}

func TestReset(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.Do(fail)
	}
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Do(ok))
}

func TestStateChangeCallback(t *testing.T) {
	b := New(testConfig())
	transitions := make(chan [2]State, 4)
	b.OnStateChange(func(from, to State) {
		transitions <- [2]State{from, to}
	})

	for i := 0; i < 3; i++ {
		b.Do(fail)
	}

	select {
	case tr := <-transitions:
		assert.Equal(t, StateClosed, tr[0])
		assert.Equal(t, StateOpen, tr[1])
	case <-time.After(time.Second):
		t.Fatal("state change callback never fired")
	}
}
