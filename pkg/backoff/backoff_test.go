package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextGrowsToCap(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	assert.Equal(t, 100*time.Millisecond, b.Next(1))
	assert.Equal(t, 200*time.Millisecond, b.Next(2))
	assert.Equal(t, 400*time.Millisecond, b.Next(3))
	assert.Equal(t, 800*time.Millisecond, b.Next(4))
	// Capped from here on.
	assert.Equal(t, time.Second, b.Next(5))
	assert.Equal(t, time.Second, b.Next(50))
}

func TestNextTreatsBadAttemptAsFirst(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	assert.Equal(t, b.Next(1), b.Next(0))
	assert.Equal(t, b.Next(1), b.Next(-3))
}

func TestJitterStaysWithinBand(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.2}
	for i := 0; i < 100; i++ {
		d := b.Next(2) // 200ms nominal
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}
}

func TestZeroValueUsesDefaults(t *testing.T) {
	var b Backoff
	d := b.Next(1)
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 5*time.Second)
}

func TestDefaultIsBounded(t *testing.T) {
	b := Default()
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.Next(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}
