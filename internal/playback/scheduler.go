package playback

import (
	"fmt"
	"time"
)

// Buffer is one decoded chunk placed on the audio clock.
type Buffer struct {
	Samples  []float32
	Format   Format
	StartAt  time.Duration
	Duration time.Duration
}

// End is the clock time at which b finishes playing.
func (b Buffer) End() time.Duration {
	return b.StartAt + b.Duration
}

// Sink accepts buffers that must start exactly at Buffer.StartAt.
type Sink interface {
	Play(buf Buffer) error
}

// Scheduler lays streamed PCM chunks end to end on the audio clock.
// It is driven from a single goroutine and does no locking.
type Scheduler struct {
	clock       Clock
	sink        Sink
	scheduledAt time.Duration
}

// NewScheduler 创建播放调度器
func NewScheduler(clock Clock, sink Sink) *Scheduler {
	return &Scheduler{clock: clock, sink: sink, scheduledAt: clock.Now()}
}

// Reset moves the cursor to the current clock time. Called at the start of
// every reply. The cursor never moves backwards.
func (s *Scheduler) Reset() {
	if now := s.clock.Now(); now > s.scheduledAt {
		s.scheduledAt = now
	}
}

// Enqueue decodes a base64 L16 chunk and schedules it at
// max(scheduledAt, now). Undecodable chunks return an error and leave the
// cursor untouched.
func (s *Scheduler) Enqueue(mime, data string) (Buffer, error) {
	samples, err := DecodeBase64PCM(data)
	if err != nil {
		return Buffer{}, err
	}
	return s.Schedule(samples, ParseMime(mime))
}

// Schedule places already decoded samples.
func (s *Scheduler) Schedule(samples []float32, format Format) (Buffer, error) {
	buf := Buffer{
		Samples:  samples,
		Format:   format,
		Duration: Duration(len(samples), format),
	}

	startAt := s.scheduledAt
	if now := s.clock.Now(); now > startAt {
		startAt = now
	}
	buf.StartAt = startAt
	s.scheduledAt = buf.End()

	if s.sink != nil {
		if err := s.sink.Play(buf); err != nil {
			return buf, fmt.Errorf("play buffer at %s: %w", buf.StartAt, err)
		}
	}
	return buf, nil
}

// ScheduledAt returns the clock time at which queued audio runs out.
func (s *Scheduler) ScheduledAt() time.Duration {
	return s.scheduledAt
}

// Remaining is how long queued audio keeps playing from now; zero when drained.
func (s *Scheduler) Remaining() time.Duration {
	if rest := s.scheduledAt - s.clock.Now(); rest > 0 {
		return rest
	}
	return 0
}
