package playback

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const wavHeaderSize = 44

// EncodeWAV prefixes raw little-endian PCM with a RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	bits := f.BitsPerSample
	if bits <= 0 {
		bits = 16
	}
	rate := f.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}

	byteRate := rate * channels * bits / 8
	blockAlign := channels * bits / 8

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(rate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bits))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV returns the PCM payload and format of a canonical 16-bit WAV.
// Non-WAV input is returned unchanged with the fallback format.
func DecodeWAV(data []byte, fallback Format) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return data, fallback, nil
	}

	f := fallback
	r := bytes.NewReader(data[12:])
	for {
		var id [4]byte
		var size uint32
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return nil, f, fmt.Errorf("wav: missing data chunk")
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, f, fmt.Errorf("wav: read chunk size: %w", err)
		}
		switch string(id[:]) {
		case "fmt ":
			chunk := make([]byte, size)
			if _, err := io.ReadFull(r, chunk); err != nil {
				return nil, f, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			if len(chunk) < 16 {
				return nil, f, fmt.Errorf("wav: short fmt chunk")
			}
			f.Channels = int(binary.LittleEndian.Uint16(chunk[2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(chunk[14:]))
		case "data":
			pcm := make([]byte, size)
			n, err := io.ReadFull(r, pcm)
			if err != nil && err != io.ErrUnexpectedEOF {
				return nil, f, fmt.Errorf("wav: read data chunk: %w", err)
			}
			return pcm[:n], f, nil
		default:
			if _, err := r.Seek(int64(size), io.SeekCurrent); err != nil {
				return nil, f, fmt.Errorf("wav: skip chunk: %w", err)
			}
		}
	}
}

// WAVSink renders scheduled buffers into a single timeline and writes it as
// a WAV file on Close. Gaps between buffers become silence. A sink created
// with a zero sample rate takes the format of the first buffer it plays;
// buffers at any other rate are resampled to the sink's rate.
type WAVSink struct {
	mu      sync.Mutex
	path    string
	format  Format
	origin  time.Duration
	started bool
	pcm     []byte
}

// NewWAVSink 创建写入 WAV 文件的播放端
func NewWAVSink(path string, format Format) *WAVSink {
	return &WAVSink{path: path, format: format}
}

func (s *WAVSink) Play(buf Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.origin = buf.StartAt
		s.started = true
		if s.format.SampleRate <= 0 {
			s.format = buf.Format
		}
	}

	samples := buf.Samples
	if from := buf.Format.SampleRate; from > 0 && s.format.SampleRate > 0 && from != s.format.SampleRate {
		samples = Resample(samples, from, s.format.SampleRate)
	}

	frameBytes := 2 * max(s.format.Channels, 1)
	offsetFrames := int((buf.StartAt - s.origin) * time.Duration(s.format.SampleRate) / time.Second)
	offset := offsetFrames * frameBytes
	if gap := offset - len(s.pcm); gap > 0 {
		s.pcm = append(s.pcm, make([]byte, gap)...)
	}
	s.pcm = append(s.pcm, EncodePCM16(samples)...)
	return nil
}

// Format is the sink's output format; zero until the first buffer when the
// sink was created without a rate.
func (s *WAVSink) Format() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Close flushes the rendered timeline to disk.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path, EncodeWAV(s.pcm, s.format), 0o644)
}

// Resample converts mono samples between rates by linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
