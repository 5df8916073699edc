package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voiceloop/backend/internal/model/speech"
	"github.com/zhouzirui/voiceloop/backend/internal/playback"
)

var mono16k = playback.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

func constantPCM(n int, v float32) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return playback.EncodePCM16(samples)
}

func drain(t *testing.T, rec Recording) ([][]float32, []byte) {
	t.Helper()
	var frames [][]float32
	var chunks []byte
	timeout := time.After(2 * time.Second)
	framesCh, chunksCh := rec.Frames(), rec.Chunks()
	for framesCh != nil || chunksCh != nil {
		select {
		case f, ok := <-framesCh:
			if !ok {
				framesCh = nil
				continue
			}
			frames = append(frames, f)
		case c, ok := <-chunksCh:
			if !ok {
				chunksCh = nil
				continue
			}
			chunks = append(chunks, c...)
		case <-timeout:
			t.Fatal("recording did not finish")
		}
	}
	return frames, chunks
}

func TestFileMicrophoneReplaysInputThenSilence(t *testing.T) {
	mic, err := NewFileMicrophone(constantPCM(80, 0.5), mono16k, 2*ms, ms, 2*ms)
	require.NoError(t, err)
	assert.Equal(t, speech.RecognitionConfig{
		Encoding:        speech.EncodingLinear16,
		SampleRateHertz: 16000,
		ChannelCount:    1,
	}, mic.Encoding())

	rec, err := mic.Record()
	require.NoError(t, err)
	frames, chunks := drain(t, rec)

	// 80 samples of speech and 32 of padding in 16-sample frames
	require.Len(t, frames, 7)
	assert.InDelta(t, 0.5, RMS(frames[0]), 1e-3)
	assert.Zero(t, RMS(frames[6]))
	assert.Len(t, chunks, 112*2)

	again, err := mic.Record()
	require.NoError(t, err)
	frames, chunks = drain(t, again)
	assert.Empty(t, frames, "input is consumed once")
	assert.Empty(t, chunks)
}

func TestFileMicrophoneReadsWAV(t *testing.T) {
	format := playback.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}
	mic, err := NewFileMicrophone(playback.EncodeWAV(constantPCM(8, 0.25), format), mono16k, ms, ms, 0)
	require.NoError(t, err)
	assert.Equal(t, 8000, mic.Format().SampleRate)

	rec, err := mic.Record()
	require.NoError(t, err)
	frames, _ := drain(t, rec)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0], 8)
}

func TestFileMicrophoneRejectsStereo(t *testing.T) {
	stereo := playback.Format{SampleRate: 16000, Channels: 2, BitsPerSample: 16}
	_, err := NewFileMicrophone(playback.EncodeWAV(constantPCM(32, 0), stereo), mono16k, ms, ms, 0)
	assert.ErrorIs(t, err, ErrMicrophoneUnavailable)
}

func TestFileMicrophoneClosed(t *testing.T) {
	mic, err := NewFileMicrophone(constantPCM(16000, 0.1), mono16k, 10*ms, ms, 0)
	require.NoError(t, err)

	rec, err := mic.Record()
	require.NoError(t, err)
	require.NoError(t, mic.Close())
	drain(t, rec)

	_, err = mic.Record()
	assert.ErrorIs(t, err, ErrMicrophoneUnavailable)
}
