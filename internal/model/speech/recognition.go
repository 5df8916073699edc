package speech

// 识别音频编码
const (
	EncodingWebmOpus = "WEBM_OPUS"
	EncodingOggOpus  = "OGG_OPUS"
	EncodingLinear16 = "LINEAR16"
)

// RecognitionConfig 流式识别参数，对应 start 信号中的 config
type RecognitionConfig struct {
	Encoding                   string `json:"encoding,omitempty"`
	SampleRateHertz            int    `json:"sampleRateHertz,omitempty"`
	ChannelCount               int    `json:"channelCount,omitempty"`
	LanguageCode               string `json:"languageCode,omitempty"`
	EnableAutomaticPunctuation *bool  `json:"enableAutomaticPunctuation,omitempty"`
	InterimResults             bool   `json:"interimResults"`
}

// DefaultRecognitionConfig returns the relay defaults used when the client omits fields.
func DefaultRecognitionConfig() RecognitionConfig {
	punctuation := true
	return RecognitionConfig{
		Encoding:                   EncodingLinear16,
		SampleRateHertz:            16000,
		ChannelCount:               1,
		LanguageCode:               "en-US",
		EnableAutomaticPunctuation: &punctuation,
		InterimResults:             true,
	}
}

// Merge overlays the non-zero fields of override onto c. Interim results stay on.
func (c RecognitionConfig) Merge(override *RecognitionConfig) RecognitionConfig {
	merged := c
	if override == nil {
		return merged
	}
	if override.Encoding != "" {
		merged.Encoding = override.Encoding
	}
	if override.SampleRateHertz > 0 {
		merged.SampleRateHertz = override.SampleRateHertz
	}
	if override.ChannelCount > 0 {
		merged.ChannelCount = override.ChannelCount
	}
	if override.LanguageCode != "" {
		merged.LanguageCode = override.LanguageCode
	}
	if override.EnableAutomaticPunctuation != nil {
		punctuation := *override.EnableAutomaticPunctuation
		merged.EnableAutomaticPunctuation = &punctuation
	}
	merged.InterimResults = true
	return merged
}

// Punctuation reports whether automatic punctuation is requested.
func (c RecognitionConfig) Punctuation() bool {
	return c.EnableAutomaticPunctuation == nil || *c.EnableAutomaticPunctuation
}

// TranscriptEvent 识别结果；interim 结果会被同一句后续结果覆盖
type TranscriptEvent struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// 控制通道信号与事件类型
const (
	SignalStart = "start"
	SignalStop  = "stop"

	EventReady      = "ready"
	EventStarted    = "started"
	EventTranscript = "transcript"
	EventStopped    = "stopped"
	EventError      = "error"
)

// ControlMessage 客户端发往转写中继的 JSON 信号；音频以二进制帧发送
type ControlMessage struct {
	Type   string             `json:"type"`
	Config *RecognitionConfig `json:"config,omitempty"`
}

// RelayEvent 转写中继发往客户端的事件
type RelayEvent struct {
	Type      string           `json:"type"`
	SessionID string           `json:"sessionId,omitempty"`
	Data      *TranscriptEvent `json:"data,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp int64            `json:"timestamp"`
}
