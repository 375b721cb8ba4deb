package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayDoubles(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	assert.Equal(t, 1*time.Second, backoffDelay(1, base, max))
	assert.Equal(t, 2*time.Second, backoffDelay(2, base, max))
	assert.Equal(t, 4*time.Second, backoffDelay(3, base, max))
	assert.Equal(t, 8*time.Second, backoffDelay(4, base, max))
	assert.Equal(t, 16*time.Second, backoffDelay(5, base, max))
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	assert.Equal(t, max, backoffDelay(6, base, max), "32s caps to 30s")
	assert.Equal(t, max, backoffDelay(10, base, max))
	assert.Equal(t, max, backoffDelay(100, base, max))
}

func TestBackoffDelayClampsBadAttempts(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	assert.Equal(t, base, backoffDelay(0, base, max), "attempt 0 behaves like attempt 1")
	assert.Equal(t, base, backoffDelay(-5, base, max))
}

func TestBackoffDelayNoOverflow(t *testing.T) {
	base := time.Hour
	max := 24 * time.Hour

	// Shifting a large base by a large attempt count must not wrap.
	assert.Equal(t, max, backoffDelay(29, base, max))
	assert.Equal(t, max, backoffDelay(31, base, max))
	assert.Equal(t, max, backoffDelay(64, base, max))
}
