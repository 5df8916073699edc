package agent

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/voiceloop/backend/internal/model/speech"
	"github.com/zhouzirui/voiceloop/backend/internal/playback"
)

// ErrMicrophoneUnavailable is returned when capture cannot start.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

// Recording is one capture phase. Both channels close after Stop or when
// the device runs out of input.
type Recording interface {
	// Chunks carries encoded audio at the chunk interval.
	Chunks() <-chan []byte
	// Frames carries short normalized sample frames for VAD.
	Frames() <-chan []float32
	Stop()
}

// Microphone is the exclusively owned capture device.
type Microphone interface {
	Record() (Recording, error)
	// Encoding describes the chunks produced by Record.
	Encoding() speech.RecognitionConfig
	Close() error
}

// FileMicrophone replays a LINEAR16 recording in real time, as if spoken
// into a microphone, followed by trailing silence. Successive recordings
// continue where the previous one stopped.
type FileMicrophone struct {
	format        playback.Format
	chunkInterval time.Duration
	frameInterval time.Duration
	padding       time.Duration

	mu      sync.Mutex
	samples []float32
	pos     int
	padLeft int
	active  *fileRecording
	closed  bool
}

// NewFileMicrophone 读取 WAV 或裸 PCM16 数据；裸数据按 fallback 格式解释
func NewFileMicrophone(data []byte, fallback playback.Format, chunkInterval, frameInterval, padding time.Duration) (*FileMicrophone, error) {
	pcm, format, err := playback.DecodeWAV(data, fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	if format.Channels > 1 {
		return nil, fmt.Errorf("%w: %d channels, mono required", ErrMicrophoneUnavailable, format.Channels)
	}
	if chunkInterval < frameInterval {
		chunkInterval = frameInterval
	}
	return &FileMicrophone{
		format:        format,
		chunkInterval: chunkInterval,
		frameInterval: frameInterval,
		padding:       padding,
		samples:       playback.DecodePCM16(pcm),
		padLeft:       int(padding * time.Duration(format.SampleRate) / time.Second),
	}, nil
}

// Format is the PCM format of the recording.
func (m *FileMicrophone) Format() playback.Format {
	return m.format
}

func (m *FileMicrophone) Encoding() speech.RecognitionConfig {
	return speech.RecognitionConfig{
		Encoding:        speech.EncodingLinear16,
		SampleRateHertz: m.format.SampleRate,
		ChannelCount:    1,
	}
}

// Record starts a capture phase, stopping any earlier one first.
func (m *FileMicrophone) Record() (Recording, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrMicrophoneUnavailable
	}
	previous := m.active
	m.mu.Unlock()
	if previous != nil {
		previous.Stop()
	}

	r := &fileRecording{
		mic:    m,
		chunks: make(chan []byte, 16),
		frames: make(chan []float32, 64),
		stop:   make(chan struct{}),
	}
	m.mu.Lock()
	m.active = r
	m.mu.Unlock()

	go r.run()
	return r, nil
}

func (m *FileMicrophone) Close() error {
	m.mu.Lock()
	active := m.active
	m.closed = true
	m.active = nil
	m.mu.Unlock()
	if active != nil {
		active.Stop()
	}
	return nil
}

// next takes up to n samples of input, then padding silence. It returns
// nil once both are used up.
func (m *FileMicrophone) next(n int) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rest := len(m.samples) - m.pos; rest > 0 {
		take := min(n, rest)
		frame := m.samples[m.pos : m.pos+take]
		m.pos += take
		return frame
	}
	if m.padLeft > 0 {
		take := min(n, m.padLeft)
		m.padLeft -= take
		return make([]float32, take)
	}
	return nil
}

type fileRecording struct {
	mic    *FileMicrophone
	chunks chan []byte
	frames chan []float32
	stop   chan struct{}
	once   sync.Once
}

func (r *fileRecording) Chunks() <-chan []byte    { return r.chunks }
func (r *fileRecording) Frames() <-chan []float32 { return r.frames }

func (r *fileRecording) Stop() {
	r.once.Do(func() { close(r.stop) })
}

func (r *fileRecording) run() {
	defer close(r.chunks)
	defer close(r.frames)

	frameSamples := int(r.mic.frameInterval * time.Duration(r.mic.format.SampleRate) / time.Second)
	frameSamples = max(frameSamples, 1)
	framesPerChunk := max(int(r.mic.chunkInterval/r.mic.frameInterval), 1)

	ticker := time.NewTicker(r.mic.frameInterval)
	defer ticker.Stop()

	var pending []byte
	flush := func() bool {
		if len(pending) == 0 {
			return true
		}
		select {
		case r.chunks <- pending:
			pending = nil
			return true
		case <-r.stop:
			return false
		}
	}

	for n := 1; ; n++ {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		frame := r.mic.next(frameSamples)
		if frame == nil {
			flush()
			return
		}
		pending = append(pending, playback.EncodePCM16(frame)...)

		select {
		case r.frames <- frame:
		case <-r.stop:
			return
		}
		if n%framesPerChunk == 0 && !flush() {
			return
		}
	}
}
