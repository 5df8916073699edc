package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voiceloop/backend/internal/model/speech"
	"github.com/zhouzirui/voiceloop/backend/internal/playback"
)

const defaultASRURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"

// one-shot 识别按 200ms 分包（16kHz 16bit 单声道）
const oneShotChunkBytes = 6400

// StreamHandler receives provider output for one recognition stream.
// OnError and OnEnd are mutually exclusive and called at most once.
type StreamHandler struct {
	OnResult func(speech.TranscriptEvent)
	OnError  func(error)
	OnEnd    func()
}

// Stream is one open provider recognition stream.
type Stream interface {
	// Write forwards an audio chunk; chunks reach the provider in call order.
	Write(chunk []byte) error
	// CloseSend marks the end of audio. The provider answers with its last
	// results and then OnEnd.
	CloseSend() error
	// Close tears the stream down without waiting for the provider.
	Close() error
}

// VolcengineASRClient 火山引擎大模型流式识别客户端
type VolcengineASRClient struct {
	config *speech.SpeechConfig
	dialer *websocket.Dialer

	// oneShotInterval 一次性识别时音频分包的发送间隔，模拟实时流
	oneShotInterval time.Duration
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

// asrRequest 首帧请求参数（按火山引擎文档格式）
type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// NewVolcengineASRClient 创建火山引擎ASR客户端
func NewVolcengineASRClient(config *speech.SpeechConfig) *VolcengineASRClient {
	return &VolcengineASRClient{
		config:          config,
		dialer:          &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		oneShotInterval: 200 * time.Millisecond,
	}
}

// providerAudio maps a recognition encoding onto the provider's format and
// codec. The provider reads raw PCM and Ogg containers only; WebM is refused.
func providerAudio(encoding string) (format, codec string, err error) {
	switch strings.ToUpper(strings.TrimSpace(encoding)) {
	case speech.EncodingLinear16:
		return "pcm", "raw", nil
	case speech.EncodingOggOpus:
		return "ogg", "opus", nil
	default:
		return "", "", fmt.Errorf("unsupported encoding %q", encoding)
	}
}

func (c *VolcengineASRClient) buildRequest(sessionID string, cfg speech.RecognitionConfig) (*asrRequest, error) {
	format, codec, err := providerAudio(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	req := &asrRequest{}
	req.User.UID = sessionID
	req.Audio.Format = format
	req.Audio.Codec = codec
	req.Audio.Language = cfg.LanguageCode
	req.Audio.Rate = cfg.SampleRateHertz
	req.Audio.Bits = 16
	req.Audio.Channel = max(cfg.ChannelCount, 1)

	req.Request.ModelName = c.config.ASRModel
	if req.Request.ModelName == "" {
		req.Request.ModelName = "bigmodel"
	}
	req.Request.EnableITN = true
	req.Request.EnablePunc = cfg.Punctuation()
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req, nil
}

func (c *VolcengineASRClient) url() string {
	if u := strings.TrimSpace(c.config.ASRURL); u != "" {
		return u
	}
	return defaultASRURL
}

// Open starts a provider stream configured by cfg. Results are delivered on
// h from a dedicated reader goroutine.
func (c *VolcengineASRClient) Open(ctx context.Context, cfg speech.RecognitionConfig, h StreamHandler) (Stream, error) {
	connectID := uuid.New().String()
	header, err := providerHeader(c.config, asrResourceID(c.config), connectID)
	if err != nil {
		return nil, err
	}

	asrReq, err := c.buildRequest(connectID, cfg)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(asrReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	frame, err := encodeGzipFrame(func(p []byte) *Message {
		return CreateFullClientRequest(p, GzipCompression)
	}, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ASR request: %w", err)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[asr] connected with logid: %s", logid)
		}
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	s := &volcengineStream{
		conn:     conn,
		handler:  h,
		sequence: 1,
		done:     make(chan struct{}),
	}
	go s.receive()
	return s, nil
}

// volcengineStream 一条识别流；写入由 writeMu 串行化，读取在独立 goroutine
type volcengineStream struct {
	conn    *websocket.Conn
	handler StreamHandler

	writeMu  sync.Mutex
	sequence int32
	sendDone bool

	closeMu sync.Mutex
	closed  bool

	finishOnce sync.Once
	done       chan struct{}

	finalsSeen  int
	lastInterim string
}

var errStreamClosed = errors.New("recognition stream closed")

func (s *volcengineStream) Write(chunk []byte) error {
	return s.writeAudio(chunk, false)
}

func (s *volcengineStream) CloseSend() error {
	return s.writeAudio(nil, true)
}

func (s *volcengineStream) writeAudio(chunk []byte, last bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.sendDone {
		return errStreamClosed
	}
	s.sequence++
	frame, err := encodeGzipFrame(func(p []byte) *Message {
		return CreateAudioOnlyRequest(p, s.sequence, last, GzipCompression)
	}, chunk)
	if err != nil {
		return fmt.Errorf("failed to encode audio chunk: %w", err)
	}
	if last {
		s.sendDone = true
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	return nil
}

func (s *volcengineStream) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.writeMu.Lock()
	s.sendDone = true
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *volcengineStream) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

func (s *volcengineStream) finish(err error) {
	s.finishOnce.Do(func() {
		close(s.done)
		if s.isClosed() {
			return
		}
		if err != nil {
			if s.handler.OnError != nil {
				s.handler.OnError(err)
			}
			return
		}
		if s.handler.OnEnd != nil {
			s.handler.OnEnd()
		}
	})
}

func (s *volcengineStream) receive() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(fmt.Errorf("failed to read ASR response: %w", err))
			return
		}

		msg, err := DecodeFrame(data)
		if err != nil {
			log.Printf("[asr] skip undecodable frame: %v", err)
			continue
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, _ := payloadOf(msg)
			s.finish(fmt.Errorf("ASR error %d: %s", msg.ErrorCode, string(payload)))
			return

		case FullServerResponse:
			payload, err := payloadOf(msg)
			if err != nil {
				log.Printf("[asr] failed to decompress payload: %v", err)
				continue
			}
			var resp asrServerMessage
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &resp); err != nil {
					log.Printf("[asr] failed to unmarshal response: %v", err)
					continue
				}
			}
			if resp.Code != 0 && resp.Code != 20000000 {
				s.finish(fmt.Errorf("ASR API error %d: %s", resp.Code, resp.Message))
				return
			}

			s.publish(resp, msg.IsLastPacket())

			if msg.IsLastPacket() || resp.Sequence < 0 {
				s.finish(nil)
				return
			}
		}
	}
}

// publish turns a full-result response into transcript events: every newly
// definite utterance becomes a final, the trailing open one an interim.
func (s *volcengineStream) publish(resp asrServerMessage, last bool) {
	if s.handler.OnResult == nil {
		return
	}

	utterances := resp.Result.Utterances
	if len(utterances) == 0 && resp.Result.Text != "" {
		utterances = []asrUtterance{{Text: resp.Result.Text, Definite: last}}
	}

	for i, u := range utterances {
		text := strings.TrimSpace(u.Text)
		if i < s.finalsSeen {
			continue
		}
		if u.Definite || (last && i == len(utterances)-1) {
			s.finalsSeen = i + 1
			s.lastInterim = ""
			if text != "" {
				s.handler.OnResult(speech.TranscriptEvent{Text: text, IsFinal: true})
			}
			continue
		}
		if i == len(utterances)-1 && text != "" && text != s.lastInterim {
			s.lastInterim = text
			s.handler.OnResult(speech.TranscriptEvent{Text: text})
		}
	}
}

// TranscribeAudioWS 一次性识别：把整段音频按实时节奏送入流式接口，汇总最终结果
func (c *VolcengineASRClient) TranscribeAudioWS(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio data to send")
	}

	cfg := speech.DefaultRecognitionConfig()
	cfg.Encoding = req.Encoding
	if cfg.Encoding == "" {
		cfg.Encoding = speech.EncodingLinear16
	}
	if req.Language != "" {
		cfg.LanguageCode = req.Language
	} else if c.config.ASRLanguage != "" {
		cfg.LanguageCode = c.config.ASRLanguage
	}
	if cfg.Encoding == speech.EncodingLinear16 {
		fallback := playback.Format{SampleRate: playback.DefaultSampleRate, Channels: 1, BitsPerSample: 16}
		pcm, format, err := playback.DecodeWAV(audio, fallback)
		if err != nil {
			return nil, err
		}
		audio = pcm
		cfg.SampleRateHertz = format.SampleRate
		cfg.ChannelCount = format.Channels
	}

	var (
		mu      sync.Mutex
		finals  []string
		interim string
	)
	result := make(chan error, 1)
	stream, err := c.Open(ctx, cfg, StreamHandler{
		OnResult: func(ev speech.TranscriptEvent) {
			mu.Lock()
			defer mu.Unlock()
			if ev.IsFinal {
				finals = append(finals, ev.Text)
				interim = ""
				return
			}
			interim = ev.Text
		},
		OnError: func(err error) { result <- err },
		OnEnd:   func() { result <- nil },
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	for off := 0; off < len(audio); off += oneShotChunkBytes {
		end := min(off+oneShotChunkBytes, len(audio))
		if err := stream.Write(audio[off:end]); err != nil {
			return nil, err
		}
		if c.oneShotInterval > 0 && end < len(audio) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case err := <-result:
				if err == nil {
					err = fmt.Errorf("ASR stream ended before audio was sent")
				}
				return nil, err
			case <-time.After(c.oneShotInterval):
			}
		}
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-result:
		if err != nil {
			return nil, err
		}
	}

	mu.Lock()
	parts := finals
	if interim != "" {
		parts = append(parts, interim)
	}
	transcript := strings.Join(parts, " ")
	mu.Unlock()

	if transcript == "" {
		log.Printf("[asr] empty transcript for session %s", req.SessionID)
	}
	return &speech.ASRResponse{
		SessionID:  req.SessionID,
		Transcript: transcript,
		Duration:   audioMillis(len(audio), cfg),
		RequestID:  req.SessionID,
		CreatedAt:  time.Now(),
	}, nil
}

// audioMillis estimates the play time of LINEAR16 input; compressed input reports 0.
func audioMillis(n int, cfg speech.RecognitionConfig) int64 {
	if cfg.Encoding != speech.EncodingLinear16 || cfg.SampleRateHertz <= 0 {
		return 0
	}
	format := playback.Format{SampleRate: cfg.SampleRateHertz, Channels: max(cfg.ChannelCount, 1), BitsPerSample: 16}
	return playback.Duration(n/2, format).Milliseconds()
}
