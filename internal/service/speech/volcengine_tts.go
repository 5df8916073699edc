package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zhouzirui/voiceloop/backend/internal/model/speech"
	"github.com/zhouzirui/voiceloop/backend/internal/playback"
)

const (
	defaultTTSURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

	// ttsSampleRate 合成音频采样率
	ttsSampleRate = 24000

	// ttsCodeSynthesized is the provider's "ok, more to come" code.
	ttsCodeSynthesized = 3000
)

var errEmptyTTSAudio = errors.New("TTS audio is empty")

// voiceAliases map friendly names onto provider speaker ids. An empty value
// stands for the configured voice.
var voiceAliases = map[string]string{
	"default":    "",
	"assistant":  "en_female_amy_jupiter_bigtts",
	"en_default": "en_female_amy_jupiter_bigtts",
	"zh_default": "zh_female_vv_uranus_bigtts",
}

// VolcengineTTSClient 火山引擎TTS WebSocket客户端
type VolcengineTTSClient struct {
	config *speech.SpeechConfig
	dialer *websocket.Dialer
}

// NewVolcengineTTSClient 创建火山引擎TTS客户端
func NewVolcengineTTSClient(config *speech.SpeechConfig) *VolcengineTTSClient {
	return &VolcengineTTSClient{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
	}
}

type synthesisBody struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams synthesisParams `json:"req_params"`
}

type synthesisParams struct {
	Speaker     string      `json:"speaker"`
	Text        string      `json:"text"`
	AudioParams audioParams `json:"audio_params"`
	Additions   string      `json:"additions,omitempty"`
	Language    string      `json:"language,omitempty"`
}

type audioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
}

// SynthesizeSpeechWS 使用WebSocket协议进行语音合成。format 为 wav 时以 pcm 合成后补 WAV 头
func (c *VolcengineTTSClient) SynthesizeSpeechWS(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}

	wantWAV := strings.EqualFold(strings.TrimSpace(req.Format), "wav")
	encoding := wireEncoding(req.Format)

	var lastErr error
	for _, a := range c.attempts(req.Voice) {
		resp, err := c.synthesizeOnce(ctx, req, a, encoding)
		if resourceMismatch(err) {
			log.Printf("[tts] voice %s rejected by %s, trying next", a.speaker, a.resource)
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		if wantWAV {
			resp.AudioData = playback.EncodeWAV(resp.AudioData, pcmFormat())
			resp.Format = "wav"
		}
		return resp, nil
	}
	return nil, lastErr
}

// SynthesizePCM renders text as 16-bit mono PCM and returns the mime that
// describes it, ready for the playback scheduler.
func (c *VolcengineTTSClient) SynthesizePCM(ctx context.Context, text string) (string, []byte, error) {
	resp, err := c.SynthesizeSpeechWS(ctx, &speech.TTSRequest{Text: text, Format: "pcm"})
	if err != nil {
		return "", nil, err
	}
	return pcmFormat().String(), resp.AudioData, nil
}

func pcmFormat() playback.Format {
	return playback.Format{SampleRate: ttsSampleRate, Channels: 1, BitsPerSample: 16}
}

// wireEncoding is the format asked of the provider. WAV is produced locally
// from PCM, and mp3 is the provider default.
func wireEncoding(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "":
		return "mp3"
	case "wav":
		return "pcm"
	default:
		return f
	}
}

// attempt is one speaker under one resource id.
type attempt struct {
	speaker  string
	resource string
}

// attempts lists every (speaker, resource) pair in the order they are tried:
// the requested voice first, then the configured one, each across the
// resources its id suggests. With no voice at all the provider default is
// tried under every resource.
func (c *VolcengineTTSClient) attempts(requested string) []attempt {
	voices := voiceCandidates(requested, c.config.TTSVoice)
	if len(voices) == 0 {
		voices = []string{""}
	}
	var out []attempt
	for _, v := range voices {
		for _, r := range ttsResources(v) {
			out = append(out, attempt{speaker: v, resource: r})
		}
	}
	return out
}

// voiceCandidates resolves aliases and drops blanks and case-insensitive
// duplicates.
func voiceCandidates(requested, configured string) []string {
	configured = strings.TrimSpace(configured)
	var out []string
	for _, v := range []string{requested, configured} {
		v = strings.TrimSpace(v)
		if mapped, ok := voiceAliases[strings.ToLower(v)]; ok {
			v = mapped
			if v == "" {
				v = configured
			}
		}
		if v == "" || containsFold(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func (c *VolcengineTTSClient) synthesizeOnce(ctx context.Context, req *speech.TTSRequest, a attempt, encoding string) (*speech.TTSResponse, error) {
	connectID := uuid.New().String()
	header, err := providerHeader(c.config, a.resource, connectID)
	if err != nil {
		return nil, err
	}

	wsURL := strings.TrimSpace(c.config.TTSURL)
	if wsURL == "" {
		wsURL = defaultTTSURL
	}
	conn, hs, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()
	if hs != nil && hs.Header.Get("X-Tt-Logid") != "" {
		log.Printf("[tts] connected with logid: %s", hs.Header.Get("X-Tt-Logid"))
	}
	// a cancelled caller unblocks the read below by closing the socket
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	body := c.requestBody(req, a.speaker, encoding)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	frame, err := EncodeMessage(CreateFullClientRequest(payload, NoCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	var col ttsCollector
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}
		msg, err := DecodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}
		done, err := col.handle(msg)
		if err != nil {
			return nil, err
		}
		if !done {
			continue
		}
		if col.reqID == "" {
			col.reqID = connectID
		}
		return &speech.TTSResponse{
			SessionID:  body.User.UID,
			AudioData:  col.audio.Bytes(),
			Duration:   col.duration,
			Format:     encoding,
			SampleRate: ttsSampleRate,
			RequestID:  col.reqID,
			CreatedAt:  time.Now(),
		}, nil
	}
}

// requestBody fills the provider request. Speed, volume and language fall
// back to the configured values; ratios of exactly 1 are left out.
func (c *VolcengineTTSClient) requestBody(req *speech.TTSRequest, speaker, encoding string) *synthesisBody {
	body := &synthesisBody{}
	body.User.UID = strings.TrimSpace(req.SessionID)
	if body.User.UID == "" {
		body.User.UID = uuid.New().String()
	}

	p := &body.ReqParams
	p.Speaker = firstNonEmpty(speaker, c.config.TTSVoice)
	p.Text = req.Text
	p.Language = firstNonEmpty(req.Language, c.config.TTSLanguage)
	p.Additions = `{"disable_markdown_filter":false}`

	p.AudioParams.Format = encoding
	if encoding == "" || encoding == "wav" {
		p.AudioParams.Format = "mp3"
	}
	p.AudioParams.SampleRate = ttsSampleRate
	p.AudioParams.EnableTimestamp = true
	p.AudioParams.SpeedRatio = ratio(req.Speed, c.config.TTSSpeed)
	p.AudioParams.VolumeRatio = ratio(req.Volume, c.config.TTSVolume)
	return body
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func ratio(requested, configured float32) float32 {
	if requested <= 0 {
		requested = configured
	}
	if requested <= 0 || requested == 1 {
		return 0
	}
	return requested
}

// ttsCollector accumulates one synthesis response across frames.
type ttsCollector struct {
	audio    bytes.Buffer
	reqID    string
	duration int64
}

type ttsReply struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// handle folds msg into the collector and reports whether the response is
// complete. Completion without audio is an error.
func (t *ttsCollector) handle(msg *Message) (bool, error) {
	payload, err := payloadOf(msg)
	if err != nil {
		return false, fmt.Errorf("failed to decompress TTS frame: %w", err)
	}

	switch msg.Header.MessageType {
	case ErrorMessage:
		return false, fmt.Errorf("TTS error: %s", payload)
	case AudioOnlyServerResponse:
		t.audio.Write(payload)
		return false, nil
	case FullServerResponse:
	default:
		log.Printf("[tts] unexpected message type: %d", msg.Header.MessageType)
		return false, nil
	}

	var reply ttsReply
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &reply); err != nil {
			log.Printf("[tts] failed to unmarshal response payload: %v", err)
		}
	}
	if reply.Code != 0 && reply.Code != ttsCodeSynthesized {
		return false, fmt.Errorf("TTS API error %d: %s", reply.Code, reply.Message)
	}
	if reply.ReqID != "" {
		t.reqID = reply.ReqID
	}
	if d, err := strconv.ParseInt(reply.Addition.Duration, 10, 64); err == nil {
		t.duration = d
	}
	if reply.Data != "" {
		chunk, err := base64.StdEncoding.DecodeString(reply.Data)
		if err != nil {
			return false, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
		}
		t.audio.Write(chunk)
	}

	finished := msg.Header.MessageFlags == WithEvent && msg.EventType == EventTypeSessionFinished
	if !finished && msg.Header.MessageFlags == WithEvent {
		log.Printf("[tts] server event: %d", msg.EventType)
	}
	if !finished && !msg.IsLastPacket() && reply.Sequence >= 0 {
		return false, nil
	}
	if t.audio.Len() == 0 {
		return false, errEmptyTTSAudio
	}
	return true, nil
}
