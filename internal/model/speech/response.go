package speech

import "time"

// ASRResponse 一次性语音识别响应
type ASRResponse struct {
	SessionID  string    `json:"sessionId"`
	Transcript string    `json:"transcript"`
	Duration   int64     `json:"duration"` // milliseconds
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TTSResponse 语音合成响应
type TTSResponse struct {
	SessionID  string    `json:"sessionId"`
	AudioData  []byte    `json:"-"`
	Duration   int64     `json:"duration"` // milliseconds
	Format     string    `json:"format"`
	SampleRate int       `json:"sampleRate"`
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
