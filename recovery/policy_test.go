package recovery_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-session-keeper/recovery"
	"github.com/stretchr/testify/assert"
)

func TestDelayDoublesUpToCeiling(t *testing.T) {
	p := recovery.DefaultPolicy()

	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		5 * time.Minute,
		5 * time.Minute,
	}
	for attempt, w := range want {
		assert.Equal(t, w, p.Delay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 5*time.Minute, p.Delay(500))
	assert.Equal(t, 10*time.Second, p.Delay(-1))
}

func TestWithDefaults(t *testing.T) {
	p := recovery.Policy{MaxAttempts: 3}.WithDefaults()
	assert.Equal(t, recovery.DefaultBaseDelay, p.BaseDelay)
	assert.Equal(t, recovery.DefaultMaxDelay, p.MaxDelay)
	assert.Equal(t, 3, p.MaxAttempts)

	p = recovery.Policy{BaseDelay: time.Minute, MaxDelay: time.Second}.WithDefaults()
	assert.Equal(t, time.Minute, p.MaxDelay)
}

func TestExhausted(t *testing.T) {
	p := recovery.DefaultPolicy()
	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
}
