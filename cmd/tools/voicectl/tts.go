package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	speechmodel "github.com/zhouzirui/voiceloop/backend/internal/model/speech"
)

// TTSCmd 合成文本到音频文件
type TTSCmd struct {
	Text     string        `short:"t" long:"text"   description:"text to synthesize" required:"true"`
	Output   string        `short:"o" long:"output" description:"output file (default: tts-output-<unix>.<format>)"`
	Voice    string        `long:"voice"            description:"voice id (default: SPEECH_TTS_VOICE)"`
	Format   string        `long:"format"           description:"mp3 or pcm" default:"mp3"`
	Language string        `long:"lang"             description:"language code (default: SPEECH_TTS_LANGUAGE)"`
	Timeout  time.Duration `long:"timeout"          description:"request timeout" default:"45s"`
}

func (c *TTSCmd) Execute(_ []string) error {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("text is empty")
	}
	svc, cfg, err := speechService()
	if err != nil {
		return err
	}

	req := &speechmodel.TTSRequest{
		SessionID: sessionOrDefault(""),
		Text:      c.Text,
		Voice:     c.Voice,
		Format:    c.Format,
		Language:  c.Language,
	}
	if req.Voice == "" {
		req.Voice = cfg.TTSVoice
	}
	if req.Language == "" {
		req.Language = cfg.TTSLanguage
	}
	output := c.Output
	if output == "" {
		output = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), c.Format)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	resp, err := svc.SynthesizeSpeech(ctx, req)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if err := os.WriteFile(output, resp.AudioData, 0o644); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	log.Printf("[voicectl] wrote %s (%dms)", output, resp.Duration)
	return nil
}
