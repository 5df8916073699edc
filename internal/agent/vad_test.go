package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const ms = time.Millisecond

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.InDelta(t, 0.5, RMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
}

func TestVADFiresOnceAfterSilence(t *testing.T) {
	v := NewVAD(0.01, 1200*ms)

	assert.False(t, v.Observe(0, 0.2))
	assert.False(t, v.Observe(100*ms, 0.001), "silence starts")
	assert.False(t, v.Observe(1200*ms, 0.001))
	assert.True(t, v.Observe(1300*ms, 0.001))
	assert.True(t, v.Latched())
	assert.False(t, v.Observe(2000*ms, 0.001), "fires once per phase")
}

func TestVADSpeechRestartsSilenceWindow(t *testing.T) {
	v := NewVAD(0.01, 1200*ms)

	assert.False(t, v.Observe(0, 0))
	assert.False(t, v.Observe(1000*ms, 0.5))
	assert.False(t, v.Observe(1100*ms, 0))
	assert.False(t, v.Observe(2200*ms, 0))
	assert.True(t, v.Observe(2300*ms, 0))
}

func TestVADLatchAndReset(t *testing.T) {
	v := NewVAD(0.01, 100*ms)
	v.Latch()
	assert.False(t, v.Observe(0, 0))
	assert.False(t, v.Observe(time.Second, 0))

	v.Reset()
	assert.False(t, v.Latched())
	assert.False(t, v.Observe(2*time.Second, 0))
	assert.True(t, v.Observe(2*time.Second+100*ms, 0))
}
