package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelaySequence(t *testing.T) {
	p := Policy{Initial: 1 * time.Second, Max: 30 * time.Second, Multiplier: 2.0}

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, p.Delay(i+1), "attempt %d", i+1)
	}
}

func TestDelayMonotonicUpToCap(t *testing.T) {
	p := Default()
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, p.Max)
		prev = d
	}
}

func TestDelayClampsBadAttempt(t *testing.T) {
	p := Default()
	assert.Equal(t, p.Initial, p.Delay(0))
	assert.Equal(t, p.Initial, p.Delay(-3))
}

func TestJitterStaysUnderCap(t *testing.T) {
	p := Policy{Initial: 20 * time.Second, Max: 30 * time.Second, Multiplier: 2.0, Jitter: true}
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, p.Delay(5), p.Max)
	}
}

func TestExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	assert.False(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))

	unlimited := Policy{MaxAttempts: 0}
	assert.False(t, unlimited.Exhausted(1000))
}
