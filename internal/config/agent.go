package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig 描述客户端采集与端点检测代理的参数。
type AgentConfig struct {
	ServerURL      string        `yaml:"serverUrl"`
	Encoding       string        `yaml:"encoding"`
	SampleRate     int           `yaml:"sampleRate"`
	Language       string        `yaml:"language"`
	VADThreshold   float64       `yaml:"vadThreshold"`
	SilenceMin     time.Duration `yaml:"silenceMin"`
	StopAckTimeout time.Duration `yaml:"stopAckTimeout"`
	ChunkInterval  time.Duration `yaml:"chunkInterval"`
	FrameInterval  time.Duration `yaml:"frameInterval"`
	FallbackVoice  string        `yaml:"fallbackVoice"`
}

// DefaultAgentConfig 返回默认参数。
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		ServerURL:      "http://localhost:8080",
		Encoding:       "LINEAR16",
		SampleRate:     16000,
		Language:       "en-US",
		VADThreshold:   0.015,
		SilenceMin:     1200 * time.Millisecond,
		StopAckTimeout: 1500 * time.Millisecond,
		ChunkInterval:  250 * time.Millisecond,
		FrameInterval:  16 * time.Millisecond,
	}
}

// LoadAgent 在默认值之上叠加环境变量。
func LoadAgent() (AgentConfig, error) {
	cfg := DefaultAgentConfig()
	cfg.ServerURL = strings.TrimRight(getEnvOrDefault("VOICE_SERVER_URL", cfg.ServerURL), "/")
	cfg.Encoding = getEnvOrDefault("VOICE_ENCODING", cfg.Encoding)
	cfg.Language = getEnvOrDefault("VOICE_LANGUAGE", cfg.Language)
	cfg.FallbackVoice = getEnvOrDefault("VOICE_FALLBACK_VOICE", cfg.FallbackVoice)

	rate, err := parseOptionalIntEnv("VOICE_SAMPLE_RATE")
	if err != nil {
		return AgentConfig{}, err
	}
	if rate != nil {
		cfg.SampleRate = *rate
	}

	threshold, err := parseOptionalFloatEnv("VOICE_VAD_THRESHOLD")
	if err != nil {
		return AgentConfig{}, err
	}
	if threshold != nil {
		cfg.VADThreshold = *threshold
	}

	silence, err := parseOptionalDurationEnv("VOICE_VAD_SILENCE")
	if err != nil {
		return AgentConfig{}, err
	}
	if silence != nil {
		cfg.SilenceMin = *silence
	}

	ack, err := parseOptionalDurationEnv("VOICE_STOP_ACK_TIMEOUT")
	if err != nil {
		return AgentConfig{}, err
	}
	if ack != nil {
		cfg.StopAckTimeout = *ack
	}

	return cfg, cfg.Validate()
}

// LoadAgentFile 读取 YAML 调参文件，未出现的字段沿用 base。
func LoadAgentFile(path string, base AgentConfig) (AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AgentConfig{}, fmt.Errorf("read agent config %s: %w", path, err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AgentConfig{}, fmt.Errorf("parse agent config %s: %w", path, err)
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	return cfg, cfg.Validate()
}

// Validate 校验取值范围。
func (c AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("agent server url is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.VADThreshold <= 0 || c.VADThreshold >= 1 {
		return fmt.Errorf("invalid vad threshold %v: must be within (0, 1)", c.VADThreshold)
	}
	if c.SilenceMin <= 0 || c.StopAckTimeout <= 0 || c.ChunkInterval <= 0 || c.FrameInterval <= 0 {
		return fmt.Errorf("agent durations must be positive")
	}
	return nil
}
