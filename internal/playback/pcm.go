package playback

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// DecodeBase64PCM turns a base64 payload of signed 16-bit little-endian
// samples into floats clamped to [-1, 1]. A trailing odd byte is dropped.
func DecodeBase64PCM(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return DecodePCM16(raw), nil
}

// DecodePCM16 converts little-endian int16 bytes to normalized floats.
func DecodePCM16(raw []byte) []float32 {
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = clamp(float32(v) / 32768)
	}
	return samples
}

// EncodePCM16 is the inverse of DecodePCM16.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = clamp(s)
		var v int16
		if s >= 1 {
			v = 32767
		} else {
			v = int16(s * 32768)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Duration is the play time of n interleaved samples in format f.
func Duration(n int, f Format) time.Duration {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	rate := f.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	frames := n / channels
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
