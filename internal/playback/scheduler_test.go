package playback

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	buffers []Buffer
}

func (s *recordingSink) Play(buf Buffer) error {
	s.buffers = append(s.buffers, buf)
	return nil
}

func silentChunk(samples int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, samples*2))
}

func TestSchedulerSingleChunkStartsNow(t *testing.T) {
	clock := &ManualClock{}
	clock.Advance(5 * time.Second)
	sink := &recordingSink{}
	s := NewScheduler(clock, sink)
	s.Reset()

	buf, err := s.Enqueue("audio/L16; rate=16000", silentChunk(16))
	require.NoError(t, err)

	require.Len(t, sink.buffers, 1)
	assert.Equal(t, 5*time.Second, buf.StartAt)
	assert.Equal(t, time.Millisecond, buf.Duration)
	assert.Equal(t, 5*time.Second+time.Millisecond, s.ScheduledAt())
}

func TestSchedulerBuffersAreSequential(t *testing.T) {
	testCases := []struct {
		name    string
		samples []int
		rate    int
	}{
		{name: "equal chunks", samples: []int{160, 160, 160}, rate: 16000},
		{name: "mixed chunks", samples: []int{48, 2400, 24, 960}, rate: 24000},
		{name: "single sample", samples: []int{1, 1}, rate: 8000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock := &ManualClock{}
			sink := &recordingSink{}
			s := NewScheduler(clock, sink)
			s.Reset()

			format := Format{SampleRate: tc.rate, Channels: 1, BitsPerSample: 16}
			var elapsed time.Duration
			for i, n := range tc.samples {
				buf, err := s.Enqueue(format.String(), silentChunk(n))
				require.NoError(t, err)
				assert.Equal(t, elapsed, buf.StartAt, "buffer %d", i)
				elapsed += Duration(n, format)
			}

			for i := 1; i < len(sink.buffers); i++ {
				assert.GreaterOrEqual(t, sink.buffers[i].StartAt, sink.buffers[i-1].End(), "buffers %d and %d overlap", i-1, i)
			}
		})
	}
}

func TestSchedulerClampsToNowWhenBehind(t *testing.T) {
	clock := &ManualClock{}
	s := NewScheduler(clock, nil)
	s.Reset()

	first, err := s.Enqueue("audio/L16; rate=16000", silentChunk(160))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), first.StartAt)

	clock.Advance(50 * time.Millisecond)
	second, err := s.Enqueue("audio/L16; rate=16000", silentChunk(160))
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, second.StartAt)
	assert.Equal(t, 60*time.Millisecond, s.ScheduledAt())
}

func TestSchedulerRemainingAndReset(t *testing.T) {
	clock := &ManualClock{}
	s := NewScheduler(clock, nil)
	s.Reset()

	_, err := s.Enqueue("audio/L16; rate=16000", silentChunk(1600))
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, s.Remaining())

	clock.Advance(40 * time.Millisecond)
	assert.Equal(t, 60*time.Millisecond, s.Remaining())

	clock.Advance(time.Second)
	assert.Equal(t, time.Duration(0), s.Remaining())

	cursor := s.ScheduledAt()
	s.Reset()
	assert.Greater(t, s.ScheduledAt(), cursor)
}

func TestSchedulerResetNeverMovesBackwards(t *testing.T) {
	clock := &ManualClock{}
	s := NewScheduler(clock, nil)

	_, err := s.Enqueue("audio/L16; rate=16000", silentChunk(16000))
	require.NoError(t, err)

	s.Reset()
	assert.Equal(t, time.Second, s.ScheduledAt())
}

func TestSchedulerRejectsUndecodableChunk(t *testing.T) {
	clock := &ManualClock{}
	sink := &recordingSink{}
	s := NewScheduler(clock, sink)

	_, err := s.Enqueue("audio/L16; rate=16000", "not base64!!")
	require.Error(t, err)
	assert.Empty(t, sink.buffers)
	assert.Equal(t, time.Duration(0), s.ScheduledAt())
}
