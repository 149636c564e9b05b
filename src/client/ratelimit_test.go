package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterReservesHeadroomForPriorityFrames(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := newLimiter(10, 2, time.Minute)
	l.reset(now)

	for i := 0; i < 8; i++ {
		assert.True(t, l.take(now, false), "take %d", i)
	}
	assert.False(t, l.take(now, false))
	assert.True(t, l.take(now, true))
	assert.True(t, l.take(now, true))
	assert.False(t, l.take(now, true))
}

func TestLimiterWindowResets(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := newLimiter(2, 0, time.Minute)
	l.reset(now)

	assert.True(t, l.take(now, false))
	assert.True(t, l.take(now, false))
	assert.False(t, l.take(now.Add(59*time.Second), false))
	assert.True(t, l.take(now.Add(time.Minute), false))
}

func TestLimiterStartsEmptyUntilReset(t *testing.T) {
	l := newLimiter(120, 5, time.Minute)
	// a zero resetAt is in the past, so the first take opens a window
	assert.True(t, l.take(time.Unix(1700000000, 0), false))
}
