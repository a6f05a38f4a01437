package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedAlwaysReturnsSameInstant(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFixed(at)
	assert.Equal(t, at, c.Now())
	assert.Equal(t, at, c.Now())
}

func TestAdvancingAccumulatesElapsedTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewAdvancing(base)
	assert.Equal(t, base, c.Now())

	c.Advance(10 * time.Second)
	assert.Equal(t, base.Add(10*time.Second), c.Now())

	c.Advance(5 * time.Second)
	assert.Equal(t, base.Add(15*time.Second), c.Now())
}

func TestRealReturnsCurrentTime(t *testing.T) {
	before := time.Now()
	got := Real{}.Now()
	after := time.Now()
	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}
