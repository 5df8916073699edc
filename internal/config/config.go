package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	speechModel "github.com/zhouzirui/voiceloop/backend/internal/model/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Dialogue DialogueConfig
	AI       AIConfig
	Speech   SpeechConfig
	Relay    RelayConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	dialogue, err := loadDialogueConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Dialogue: dialogue, AI: ai, Speech: speech, Relay: relay}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// 文本兜底后端
const (
	TextBackendGemini = "gemini"
	TextBackendArk    = "ark"
)

// DialogueConfig 描述 Gemini Live 对话引擎配置。
type DialogueConfig struct {
	APIKey             string
	Model              string
	Voice              string
	CompressionTrigger int64
	CompressionTarget  int64
	HistoryLimit       int
	TextBackend        string
}

// Enabled 表示是否配置了 Gemini 密钥。
func (c DialogueConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadDialogueConfig() (DialogueConfig, error) {
	trigger, err := parseOptionalIntEnv("GEMINI_COMPRESSION_TRIGGER_TOKENS")
	if err != nil {
		return DialogueConfig{}, err
	}
	target, err := parseOptionalIntEnv("GEMINI_COMPRESSION_TARGET_TOKENS")
	if err != nil {
		return DialogueConfig{}, err
	}
	limit, err := parseOptionalIntEnv("DIALOGUE_HISTORY_LIMIT")
	if err != nil {
		return DialogueConfig{}, err
	}

	cfg := DialogueConfig{
		APIKey:             strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:              getEnvOrDefault("GEMINI_LIVE_MODEL", "models/gemini-2.0-flash-live-001"),
		Voice:              getEnvOrDefault("GEMINI_VOICE", "Zephyr"),
		CompressionTrigger: 25600,
		CompressionTarget:  12800,
		HistoryLimit:       8,
		TextBackend:        strings.ToLower(getEnvOrDefault("DIALOGUE_TEXT_BACKEND", TextBackendGemini)),
	}
	if trigger != nil {
		cfg.CompressionTrigger = int64(*trigger)
	}
	if target != nil {
		cfg.CompressionTarget = int64(*target)
	}
	if limit != nil && *limit > 0 {
		cfg.HistoryLimit = *limit
	}

	switch cfg.TextBackend {
	case TextBackendGemini, TextBackendArk:
	default:
		return DialogueConfig{}, fmt.Errorf("invalid DIALOGUE_TEXT_BACKEND value %q", cfg.TextBackend)
	}

	return cfg, nil
}

// AIConfig 描述 Ark 大模型配置，作为文本兜底的可选后端。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID          string
	AccessToken    string
	APIKey         string
	ConcurrentMode bool
	ASRModel       string
	ASRLanguage    string
	ASRURL         string
	TTSVoice       string
	TTSSpeed       float32
	TTSVolume      float32
	TTSLanguage    string
	TTSURL         string
	Timeout        int
	Enabled        bool
}

// LoadSpeech 单独加载语音配置，供命令行工具使用。
func LoadSpeech() (SpeechConfig, error) {
	return loadSpeechConfig()
}

// Provider 转换为语音服务使用的配置结构。
func (c SpeechConfig) Provider() *speechModel.SpeechConfig {
	return &speechModel.SpeechConfig{
		AppID:          c.AppID,
		AccessToken:    c.AccessToken,
		APIKey:         c.APIKey,
		ConcurrentMode: c.ConcurrentMode,
		ASRModel:       c.ASRModel,
		ASRLanguage:    c.ASRLanguage,
		ASRURL:         c.ASRURL,
		TTSVoice:       c.TTSVoice,
		TTSSpeed:       c.TTSSpeed,
		TTSVolume:      c.TTSVolume,
		TTSLanguage:    c.TTSLanguage,
		TTSURL:         c.TTSURL,
		Timeout:        c.Timeout,
	}
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	// 解析TTS速度和音量
	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	concurrent, err := parseBoolEnv("SPEECH_CONCURRENT_MODE", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	enabled := appID != "" && accessToken != ""

	return SpeechConfig{
		AppID:          appID,
		AccessToken:    accessToken,
		APIKey:         apiKey,
		ConcurrentMode: concurrent,
		ASRModel:       getEnvOrDefault("SPEECH_ASR_MODEL", "bigmodel"),
		ASRLanguage:    getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		ASRURL:         getEnvOrDefault("SPEECH_ASR_URL", ""),
		TTSVoice:       getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSSpeed:       ttsSpeed,
		TTSVolume:      ttsVolume,
		TTSLanguage:    getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		TTSURL:         getEnvOrDefault("SPEECH_TTS_URL", ""),
		Timeout:        timeoutSeconds,
		Enabled:        enabled,
	}, nil
}

// RelayConfig 描述转写中继的默认参数。
type RelayConfig struct {
	StopFallback      time.Duration
	DefaultEncoding   string
	DefaultSampleRate int
	DefaultLanguage   string
}

func loadRelayConfig() (RelayConfig, error) {
	fallback, err := parseOptionalDurationEnv("STT_STOP_FALLBACK")
	if err != nil {
		return RelayConfig{}, err
	}
	rate, err := parseOptionalIntEnv("STT_DEFAULT_SAMPLE_RATE")
	if err != nil {
		return RelayConfig{}, err
	}

	cfg := RelayConfig{
		StopFallback:      time.Second,
		DefaultEncoding:   getEnvOrDefault("STT_DEFAULT_ENCODING", "LINEAR16"),
		DefaultSampleRate: 16000,
		DefaultLanguage:   getEnvOrDefault("STT_DEFAULT_LANGUAGE", "en-US"),
	}
	if fallback != nil {
		cfg.StopFallback = *fallback
	}
	if rate != nil {
		cfg.DefaultSampleRate = *rate
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}

// parseOptionalDurationEnv 接受 Go duration 字符串（"1500ms"）或纯毫秒数（"1500"）。
func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	if ms, err := strconv.Atoi(value); err == nil {
		d := time.Duration(ms) * time.Millisecond
		return &d, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &d, nil
}
