package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhouzirui/voiceloop/backend/internal/config"
	speechmodel "github.com/zhouzirui/voiceloop/backend/internal/model/speech"
	"github.com/zhouzirui/voiceloop/backend/internal/service/speech"
)

// ASRCmd 一次性识别音频文件
type ASRCmd struct {
	Audio    string        `short:"a" long:"audio"    description:"audio file to transcribe" required:"true"`
	Encoding string        `short:"e" long:"encoding" description:"LINEAR16 or OGG_OPUS (default: from file extension)"`
	Language string        `short:"l" long:"lang"     description:"language code (default: SPEECH_ASR_LANGUAGE)"`
	Session  string        `long:"session"            description:"session id, generated when empty"`
	Timeout  time.Duration `long:"timeout"            description:"request timeout" default:"45s"`
}

func (c *ASRCmd) Execute(_ []string) error {
	svc, cfg, err := speechService()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.Audio)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	encoding := c.Encoding
	if encoding == "" {
		encoding = encodingFromExt(c.Audio)
	}
	language := c.Language
	if language == "" {
		language = cfg.ASRLanguage
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	resp, err := svc.TranscribeBuffer(ctx, sessionOrDefault(c.Session), data, encoding, language)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	fmt.Printf("%s\n", resp.Transcript)
	return nil
}

func speechService() (*speech.Service, config.SpeechConfig, error) {
	cfg, err := config.LoadSpeech()
	if err != nil {
		return nil, cfg, err
	}
	if !cfg.Enabled {
		return nil, cfg, fmt.Errorf("speech service not configured: set SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")
	}
	return speech.NewService(cfg.Provider()), cfg, nil
}

func encodingFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		return speechmodel.EncodingWebmOpus
	case ".ogg", ".opus":
		return speechmodel.EncodingOggOpus
	default:
		return speechmodel.EncodingLinear16
	}
}

func sessionOrDefault(id string) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("manual-%d", time.Now().UnixNano())
}
