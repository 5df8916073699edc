package transcribe

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voiceloop/backend/internal/config"
	"github.com/zhouzirui/voiceloop/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/voiceloop/backend/internal/service/speech"
)

type fakeStream struct {
	mu        sync.Mutex
	chunks    [][]byte
	closeSend bool
	closed    bool
	handler   speechsvc.StreamHandler
	// onCloseSend 在 CloseSend 后异步触发，用于模拟供应商收尾
	onCloseSend func(h speechsvc.StreamHandler)
}

func (s *fakeStream) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	return nil
}

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	s.closeSend = true
	s.mu.Unlock()
	if s.onCloseSend != nil {
		go s.onCloseSend(s.handler)
	}
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

type fakeRecognizer struct {
	mu          sync.Mutex
	streams     []*fakeStream
	configs     []speech.RecognitionConfig
	openErr     error
	onCloseSend func(h speechsvc.StreamHandler)
}

func (r *fakeRecognizer) Open(_ context.Context, cfg speech.RecognitionConfig, h speechsvc.StreamHandler) (speechsvc.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return nil, r.openErr
	}
	stream := &fakeStream{handler: h, onCloseSend: r.onCloseSend}
	r.streams = append(r.streams, stream)
	r.configs = append(r.configs, cfg)
	return stream, nil
}

func (r *fakeRecognizer) stream(i int) *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.streams) {
		return nil
	}
	return r.streams[i]
}

func (r *fakeRecognizer) opened() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func newRelay(t *testing.T, recognizer Recognizer, fallback time.Duration) (*Handler, *websocket.Conn) {
	t.Helper()

	h := New(recognizer, config.RelayConfig{StopFallback: fallback})
	router := chi.NewRouter()
	h.RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/transcribe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ready := readEvent(t, conn)
	require.Equal(t, speech.EventReady, ready.Type)
	require.NotEmpty(t, ready.SessionID)
	return h, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) speech.RelayEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev speech.RelayEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// expectSilence 断言在 window 内没有任何事件到达；读超时后连接不可再读
func expectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(window))
	var ev speech.RelayEvent
	err := conn.ReadJSON(&ev)
	require.Error(t, err, "unexpected event %+v", ev)
}

func sendControl(t *testing.T, conn *websocket.Conn, msg speech.ControlMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func start(t *testing.T, conn *websocket.Conn, cfg *speech.RecognitionConfig) {
	t.Helper()
	sendControl(t, conn, speech.ControlMessage{Type: speech.SignalStart, Config: cfg})
	require.Equal(t, speech.EventStarted, readEvent(t, conn).Type)
}

func TestAudioBeforeStartIsRejected(t *testing.T) {
	recognizer := &fakeRecognizer{}
	_, conn := newRelay(t, recognizer, time.Second)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))

	ev := readEvent(t, conn)
	assert.Equal(t, speech.EventError, ev.Type)
	assert.Equal(t, ErrNotStarted, ev.Message)
	assert.Zero(t, recognizer.opened())
}

func TestStartMergesDefaults(t *testing.T) {
	recognizer := &fakeRecognizer{}
	_, conn := newRelay(t, recognizer, time.Second)

	start(t, conn, &speech.RecognitionConfig{Encoding: speech.EncodingLinear16, SampleRateHertz: 16000})

	require.Equal(t, 1, recognizer.opened())
	cfg := recognizer.configs[0]
	assert.Equal(t, speech.EncodingLinear16, cfg.Encoding)
	assert.Equal(t, 16000, cfg.SampleRateHertz)
	assert.Equal(t, "en-US", cfg.LanguageCode)
	assert.Equal(t, 1, cfg.ChannelCount)
	assert.True(t, cfg.InterimResults)
	assert.True(t, cfg.Punctuation())
}

func TestAudioIsForwardedInOrder(t *testing.T) {
	recognizer := &fakeRecognizer{}
	_, conn := newRelay(t, recognizer, time.Second)
	start(t, conn, nil)

	for i := byte(0); i < 5; i++ {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{i, i}))
	}

	stream := recognizer.stream(0)
	require.Eventually(t, func() bool { return len(stream.received()) == 5 }, time.Second, 5*time.Millisecond)
	for i, chunk := range stream.received() {
		assert.Equal(t, []byte{byte(i), byte(i)}, chunk)
	}
}

func TestTranscriptsAreRelayedInProviderOrder(t *testing.T) {
	recognizer := &fakeRecognizer{}
	_, conn := newRelay(t, recognizer, time.Second)
	start(t, conn, nil)

	h := recognizer.stream(0).handler
	go func() {
		h.OnResult(speech.TranscriptEvent{Text: "hel"})
		h.OnResult(speech.TranscriptEvent{Text: "hello"})
		h.OnResult(speech.TranscriptEvent{Text: "hello world", IsFinal: true})
	}()

	want := []speech.TranscriptEvent{
		{Text: "hel"},
		{Text: "hello"},
		{Text: "hello world", IsFinal: true},
	}
	for _, w := range want {
		ev := readEvent(t, conn)
		require.Equal(t, speech.EventTranscript, ev.Type)
		require.NotNil(t, ev.Data)
		assert.Equal(t, w, *ev.Data)
	}
}

func TestStopWithoutStreamEmitsStoppedImmediately(t *testing.T) {
	_, conn := newRelay(t, &fakeRecognizer{}, time.Hour)

	sendControl(t, conn, speech.ControlMessage{Type: speech.SignalStop})
	assert.Equal(t, speech.EventStopped, readEvent(t, conn).Type)

	sendControl(t, conn, speech.ControlMessage{Type: speech.SignalStop})
	assert.Equal(t, speech.EventStopped, readEvent(t, conn).Type)
}

func TestStopFallbackWhenProviderNeverEnds(t *testing.T) {
	recognizer := &fakeRecognizer{}
	_, conn := newRelay(t, recognizer, 100*time.Millisecond)
	start(t, conn, nil)

	began := time.Now()
	sendControl(t, conn, speech.ControlMessage{Type: speech.SignalStop})

	ev := readEvent(t, conn)
	assert.Equal(t, speech.EventStopped, ev.Type)
	assert.GreaterOrEqual(t, time.Since(began), 100*time.Millisecond)

	stream := recognizer.stream(0)
	assert.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.closeSend && stream.closed
	}, time.Second, 5*time.Millisecond)

	expectSilence(t, conn, 300*time.Millisecond)
}

func TestStoppedIsEmittedOnceWhenProviderEndsAfterFallback(t *testing.T) {
	recognizer := &fakeRecognizer{
		onCloseSend: func(h speechsvc.StreamHandler) {
			time.Sleep(150 * time.Millisecond)
			h.OnEnd()
		},
	}
	_, conn := newRelay(t, recognizer, 50*time.Millisecond)
	start(t, conn, nil)

	sendControl(t, conn, speech.ControlMessage{Type: speech.SignalStop})
	assert.Equal(t, speech.EventStopped, readEvent(t, conn).Type)
	expectSilence(t, conn, 300*time.Millisecond)
}

func TestFinalTranscriptPrecedesStopped(t *testing.T) {
	recognizer := &fakeRecognizer{
		onCloseSend: func(h speechsvc.StreamHandler) {
			h.OnResult(speech.TranscriptEvent{Text: "done", IsFinal: true})
			h.OnEnd()
		},
	}
	_, conn := newRelay(t, recognizer, time.Second)
	start(t, conn, nil)

	sendControl(t, conn, speech.ControlMessage{Type: speech.SignalStop})

	first := readEvent(t, conn)
	require.Equal(t, speech.EventTranscript, first.Type)
	assert.Equal(t, "done", first.Data.Text)
	assert.Equal(t, speech.EventStopped, readEvent(t, conn).Type)
	expectSilence(t, conn, 200*time.Millisecond)
}

func TestProviderErrorTearsDownSession(t *testing.T) {
	recognizer := &fakeRecognizer{}
	_, conn := newRelay(t, recognizer, time.Second)
	start(t, conn, nil)

	stream := recognizer.stream(0)
	go stream.handler.OnError(errors.New("quota exceeded"))

	ev := readEvent(t, conn)
	assert.Equal(t, speech.EventError, ev.Type)
	assert.Contains(t, ev.Message, "quota exceeded")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{9}))
	ev = readEvent(t, conn)
	assert.Equal(t, ErrNotStarted, ev.Message)
	assert.Empty(t, stream.received())
}

func TestProviderErrorWhileDrainingStillAnswersStop(t *testing.T) {
	recognizer := &fakeRecognizer{
		onCloseSend: func(h speechsvc.StreamHandler) {
			h.OnError(errors.New("connection reset"))
		},
	}
	_, conn := newRelay(t, recognizer, time.Hour)
	start(t, conn, nil)

	sendControl(t, conn, speech.ControlMessage{Type: speech.SignalStop})

	ev := readEvent(t, conn)
	require.Equal(t, speech.EventError, ev.Type)
	assert.Contains(t, ev.Message, "connection reset")
	assert.Equal(t, speech.EventStopped, readEvent(t, conn).Type)

	stream := recognizer.stream(0)
	stream.mu.Lock()
	assert.True(t, stream.closed)
	stream.mu.Unlock()
	expectSilence(t, conn, 200*time.Millisecond)
}

func TestRestartWhileDrainingAnswersPendingStop(t *testing.T) {
	recognizer := &fakeRecognizer{}
	_, conn := newRelay(t, recognizer, time.Hour)
	start(t, conn, nil)

	sendControl(t, conn, speech.ControlMessage{Type: speech.SignalStop})
	sendControl(t, conn, speech.ControlMessage{Type: speech.SignalStart})

	assert.Equal(t, speech.EventStopped, readEvent(t, conn).Type)
	assert.Equal(t, speech.EventStarted, readEvent(t, conn).Type)
	require.Equal(t, 2, recognizer.opened())

	old := recognizer.stream(0)
	old.mu.Lock()
	assert.True(t, old.closed)
	old.mu.Unlock()

	// the drained stream ending late must not answer twice
	go old.handler.OnEnd()
	expectSilence(t, conn, 200*time.Millisecond)
}

func TestOpenFailureIsReported(t *testing.T) {
	recognizer := &fakeRecognizer{openErr: errors.New("缺少语音识别凭证")}
	_, conn := newRelay(t, recognizer, time.Second)

	sendControl(t, conn, speech.ControlMessage{Type: speech.SignalStart})
	ev := readEvent(t, conn)
	assert.Equal(t, speech.EventError, ev.Type)
	assert.Contains(t, ev.Message, "缺少语音识别凭证")
}

func TestRestartReplacesStreamAndIgnoresStaleCallbacks(t *testing.T) {
	recognizer := &fakeRecognizer{}
	_, conn := newRelay(t, recognizer, time.Second)
	start(t, conn, nil)
	start(t, conn, nil)

	require.Equal(t, 2, recognizer.opened())
	old := recognizer.stream(0)
	old.mu.Lock()
	assert.True(t, old.closed)
	old.mu.Unlock()

	fresh := recognizer.stream(1).handler
	go func() {
		old.handler.OnResult(speech.TranscriptEvent{Text: "stale", IsFinal: true})
		old.handler.OnEnd()
		fresh.OnResult(speech.TranscriptEvent{Text: "fresh", IsFinal: true})
	}()

	ev := readEvent(t, conn)
	require.Equal(t, speech.EventTranscript, ev.Type)
	assert.Equal(t, "fresh", ev.Data.Text)
}

func TestUnknownControlMessage(t *testing.T) {
	_, conn := newRelay(t, &fakeRecognizer{}, time.Second)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, speech.EventError, readEvent(t, conn).Type)

	sendControl(t, conn, speech.ControlMessage{Type: "pause"})
	ev := readEvent(t, conn)
	assert.Equal(t, speech.EventError, ev.Type)
	assert.Contains(t, ev.Message, "pause")
}

func TestDisconnectClosesStream(t *testing.T) {
	recognizer := &fakeRecognizer{}
	h, conn := newRelay(t, recognizer, time.Second)
	start(t, conn, nil)
	require.Equal(t, 1, h.Connections())

	conn.Close()

	stream := recognizer.stream(0)
	assert.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.closed
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return h.Connections() == 0 }, time.Second, 5*time.Millisecond)
}
