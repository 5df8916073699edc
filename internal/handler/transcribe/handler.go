package transcribe

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voiceloop/backend/internal/config"
	"github.com/zhouzirui/voiceloop/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/voiceloop/backend/internal/service/speech"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// ErrNotStarted is the message sent for audio that arrives outside a session.
const ErrNotStarted = "streaming not started: send start before audio"

// Recognizer opens provider recognition streams.
type Recognizer interface {
	Open(ctx context.Context, cfg speech.RecognitionConfig, h speechsvc.StreamHandler) (speechsvc.Stream, error)
}

// Handler is the transcription relay: one websocket per client, one
// provider stream per start/stop cycle.
type Handler struct {
	recognizer   Recognizer
	defaults     speech.RecognitionConfig
	stopFallback time.Duration
	registry     *Registry
	upgrader     websocket.Upgrader
}

// New 创建转写中继处理器
func New(recognizer Recognizer, cfg config.RelayConfig) *Handler {
	defaults := speech.DefaultRecognitionConfig()
	defaults = defaults.Merge(&speech.RecognitionConfig{
		Encoding:        cfg.DefaultEncoding,
		SampleRateHertz: cfg.DefaultSampleRate,
		LanguageCode:    cfg.DefaultLanguage,
	})

	fallback := cfg.StopFallback
	if fallback <= 0 {
		fallback = time.Second
	}

	return &Handler{
		recognizer:   recognizer,
		defaults:     defaults,
		stopFallback: fallback,
		registry:     NewRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册转写中继路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/transcribe", h.handleWebSocket)
}

// Connections 当前中继连接数
func (h *Handler) Connections() int {
	return h.registry.Count()
}

// CloseAll 关闭所有中继连接
func (h *Handler) CloseAll() {
	h.registry.CloseAll()
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[transcribe] upgrade failed: %v", err)
		return
	}

	s := &session{
		id:       uuid.NewString(),
		conn:     conn,
		handler:  h,
		fallback: h.stopFallback,
	}
	h.registry.add(s)
	defer func() {
		h.registry.remove(s.id)
		s.teardown()
		conn.Close()
		log.Printf("[transcribe] connection closed session=%s", s.id)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	go s.pingLoop(ctx)

	log.Printf("[transcribe] new connection session=%s", s.id)
	s.send(speech.RelayEvent{Type: speech.EventReady, SessionID: s.id})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[transcribe] read error session=%s: %v", s.id, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			s.audio(data)
		case websocket.TextMessage:
			var msg speech.ControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.sendError("invalid control message")
				continue
			}
			switch msg.Type {
			case speech.SignalStart:
				s.start(ctx, h.defaults.Merge(msg.Config))
			case speech.SignalStop:
				s.stop()
			default:
				s.sendError("unsupported message type: " + msg.Type)
			}
		}
	}
}

// session is the relay state of one client connection. gen identifies the
// current provider stream; callbacks of older streams are ignored.
type session struct {
	id       string
	conn     *websocket.Conn
	handler  *Handler
	fallback time.Duration

	writeMu sync.Mutex

	mu             sync.Mutex
	gen            uint64
	stream         speechsvc.Stream
	draining       speechsvc.Stream
	active         bool
	stoppedEmitted bool
	stopTimer      *time.Timer
}

func (s *session) start(ctx context.Context, cfg speech.RecognitionConfig) {
	s.mu.Lock()
	// a stop still draining is answered before its stream is dropped
	owed := s.draining != nil && !s.stoppedEmitted
	s.teardownLocked()
	s.gen++
	gen := s.gen
	s.stoppedEmitted = false
	s.mu.Unlock()

	if owed {
		s.send(speech.RelayEvent{Type: speech.EventStopped})
	}

	stream, err := s.handler.recognizer.Open(ctx, cfg, speechsvc.StreamHandler{
		OnResult: func(ev speech.TranscriptEvent) {
			if !s.current(gen) || ev.Text == "" {
				return
			}
			s.send(speech.RelayEvent{Type: speech.EventTranscript, Data: &ev})
		},
		OnError: func(err error) { s.providerError(gen, err) },
		OnEnd:   func() { s.emitStopped(gen) },
	})
	if err != nil {
		log.Printf("[transcribe] start failed session=%s: %v", s.id, err)
		s.sendError(err.Error())
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		stream.Close()
		return
	}
	s.stream = stream
	s.active = true
	s.mu.Unlock()

	log.Printf("[transcribe] started session=%s encoding=%s rate=%d language=%s", s.id, cfg.Encoding, cfg.SampleRateHertz, cfg.LanguageCode)
	s.send(speech.RelayEvent{Type: speech.EventStarted})
}

// audio forwards chunk while holding mu so chunks reach the provider in
// arrival order.
func (s *session) audio(chunk []byte) {
	s.mu.Lock()
	if !s.active || s.stream == nil {
		s.mu.Unlock()
		s.sendError(ErrNotStarted)
		return
	}
	gen := s.gen
	err := s.stream.Write(chunk)
	s.mu.Unlock()

	if err != nil {
		s.providerError(gen, err)
	}
}

// stop half-closes the provider stream and arms the fallback that
// synthesizes stopped if the provider stays silent.
func (s *session) stop() {
	s.mu.Lock()
	if s.stream == nil {
		s.active = false
		s.mu.Unlock()
		s.send(speech.RelayEvent{Type: speech.EventStopped})
		return
	}

	stream := s.stream
	gen := s.gen
	s.stream = nil
	s.draining = stream
	s.active = false
	if s.stopTimer != nil {
		s.stopTimer.Stop()
	}
	s.stopTimer = time.AfterFunc(s.fallback, func() {
		if s.emitStopped(gen) {
			log.Printf("[transcribe] provider silent, synthesized stopped session=%s", s.id)
		}
	})
	s.mu.Unlock()

	if err := stream.CloseSend(); err != nil {
		log.Printf("[transcribe] close send session=%s: %v", s.id, err)
	}
}

// emitStopped sends stopped at most once per stream and releases it.
func (s *session) emitStopped(gen uint64) bool {
	s.mu.Lock()
	if gen != s.gen || s.stoppedEmitted {
		s.mu.Unlock()
		return false
	}
	s.stoppedEmitted = true
	s.active = false
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
	released := []speechsvc.Stream{s.stream, s.draining}
	s.stream = nil
	s.draining = nil
	s.mu.Unlock()

	s.send(speech.RelayEvent{Type: speech.EventStopped})
	for _, stream := range released {
		if stream != nil {
			stream.Close()
		}
	}
	return true
}

// providerError is session-fatal: the client is told and the stream is gone.
// A failure while draining still owes the pending stop its stopped.
func (s *session) providerError(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	owed := s.draining != nil && !s.stoppedEmitted
	s.teardownLocked()
	s.stoppedEmitted = true
	s.mu.Unlock()

	log.Printf("[transcribe] provider error session=%s: %v", s.id, err)
	s.sendError(err.Error())
	if owed {
		s.send(speech.RelayEvent{Type: speech.EventStopped})
	}
}

func (s *session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

func (s *session) teardown() {
	s.mu.Lock()
	s.teardownLocked()
	s.gen++
	s.mu.Unlock()
}

func (s *session) teardownLocked() {
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			log.Printf("[transcribe] close stream session=%s: %v", s.id, err)
		}
		s.stream = nil
	}
	if s.draining != nil {
		s.draining.Close()
		s.draining = nil
	}
	s.active = false
}

func (s *session) send(ev speech.RelayEvent) {
	ev.Timestamp = time.Now().UnixMilli()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(ev); err != nil {
		log.Printf("[transcribe] write %s failed session=%s: %v", ev.Type, s.id, err)
	}
}

func (s *session) sendError(message string) {
	s.send(speech.RelayEvent{Type: speech.EventError, Message: message})
}

func (s *session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
