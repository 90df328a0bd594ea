package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/divertscan/fieldsync/internal/config"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, config.RetryBackoffExponential, p.Mode)
	assert.Equal(t, time.Second, p.Initial)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.NoError(t, p.Validate())
}

func TestExponentialDelaysStrictlyIncrease(t *testing.T) {
	p := DefaultPolicy()

	expected := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, want := range expected {
		assert.Equal(t, want, p.Delay(i+1), "attempt %d", i+1)
	}
}

func TestDelayCappedAtMax(t *testing.T) {
	p := NewPolicy(config.RetryBackoffExponential, time.Second, 5*time.Second, 5)
	assert.Equal(t, 5*time.Second, p.Delay(10))
}

func TestDelayModes(t *testing.T) {
	fixed := NewPolicy(config.RetryBackoffFixed, 2*time.Second, time.Minute, 5)
	assert.Equal(t, 2*time.Second, fixed.Delay(1))
	assert.Equal(t, 2*time.Second, fixed.Delay(4))

	linear := NewPolicy(config.RetryBackoffLinear, time.Second, time.Minute, 5)
	assert.Equal(t, time.Second, linear.Delay(1))
	assert.Equal(t, 3*time.Second, linear.Delay(3))
}

func TestDelayZeroForNonPositiveAttempts(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Duration(0), p.Delay(-1))
}

func TestExhausted(t *testing.T) {
	p := NewPolicy(config.RetryBackoffExponential, time.Second, time.Minute, 5)
	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
	assert.True(t, p.Exhausted(6))
}

func TestNewPolicyFallsBackOnInvalidInput(t *testing.T) {
	p := NewPolicy("bogus", 0, 0, 0)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestInitialClampedToMax(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Minute, time.Second, 3)
	assert.Equal(t, time.Second, p.Initial)
}
