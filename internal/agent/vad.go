package agent

import (
	"math"
	"time"
)

// RMS is the root-mean-square amplitude of normalized samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// VAD detects the end of an utterance: RMS below threshold for at least
// silenceMin. It fires at most once per listening phase.
type VAD struct {
	threshold  float64
	silenceMin time.Duration

	silent      bool
	silentSince time.Duration
	latched     bool
}

// NewVAD 创建能量阈值端点检测器
func NewVAD(threshold float64, silenceMin time.Duration) *VAD {
	return &VAD{threshold: threshold, silenceMin: silenceMin}
}

// Reset starts a new listening phase and clears the latch.
func (v *VAD) Reset() {
	v.silent = false
	v.latched = false
}

// Latch marks the turn as ended by another trigger so silence cannot fire.
func (v *VAD) Latch() {
	v.latched = true
}

// Latched reports whether this phase already ended.
func (v *VAD) Latched() bool {
	return v.latched
}

// Observe feeds one frame level sampled at now and reports whether the
// silence window just elapsed.
func (v *VAD) Observe(now time.Duration, rms float64) bool {
	if v.latched {
		return false
	}
	if rms >= v.threshold {
		v.silent = false
		return false
	}
	if !v.silent {
		v.silent = true
		v.silentSince = now
		return false
	}
	if now-v.silentSince >= v.silenceMin {
		v.latched = true
		return true
	}
	return false
}
