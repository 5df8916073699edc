package speech

import (
	"bytes"
	"context"

	"github.com/zhouzirui/voiceloop/backend/internal/model/speech"
)

// Service 语音服务门面：流式识别、一次性识别与合成
type Service struct {
	config    *speech.SpeechConfig
	ttsClient *VolcengineTTSClient
	asrClient *VolcengineASRClient
}

// NewService 创建语音服务实例
func NewService(config *speech.SpeechConfig) *Service {
	return &Service{
		config:    config,
		ttsClient: NewVolcengineTTSClient(config),
		asrClient: NewVolcengineASRClient(config),
	}
}

// Configured reports whether provider credentials are present.
func (s *Service) Configured() bool {
	_, _, err := resolveCredentials(s.config)
	return err == nil
}

// Open 打开一条流式识别
func (s *Service) Open(ctx context.Context, cfg speech.RecognitionConfig, h StreamHandler) (Stream, error) {
	return s.asrClient.Open(ctx, cfg, h)
}

// TranscribeAudio 一次性语音识别
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	return s.asrClient.TranscribeAudioWS(ctx, req)
}

// TranscribeBuffer 语音转文字（使用字节数组）
func (s *Service) TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, encoding, language string) (*speech.ASRResponse, error) {
	return s.TranscribeAudio(ctx, &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(audioData),
		Encoding:  encoding,
		Language:  language,
	})
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	return s.ttsClient.SynthesizeSpeechWS(ctx, req)
}

// SynthesizePCM 合成可直接交给播放调度器的 PCM
func (s *Service) SynthesizePCM(ctx context.Context, text string) (string, []byte, error) {
	return s.ttsClient.SynthesizePCM(ctx, text)
}
