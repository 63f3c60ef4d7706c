package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewClock()
	c.now = func() time.Time { return now }

	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	now = now.Add(1500 * time.Millisecond)
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)

	c.Stop()
	now = now.Add(time.Second)
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)
}

func TestFrameMetrics(t *testing.T) {
	var m FrameMetrics
	for i := 0; i < 29; i++ {
		assert.False(t, m.Update(0.010))
	}
	assert.Zero(t, m.FrameTime())

	m.Update(0.010)
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)

	var reported bool
	for i := 0; i < 100 && !reported; i++ {
		reported = m.Update(0.010)
	}
	assert.True(t, reported)
	assert.InDelta(t, 101, m.FPS(), 1)
}
