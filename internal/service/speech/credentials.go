package speech

import (
	"fmt"
	"net/http"
	"strings"

	speechmodel "github.com/zhouzirui/voiceloop/backend/internal/model/speech"
)

const (
	asrResourceDuration   = "volc.bigasr.sauc.duration"
	asrResourceConcurrent = "volc.bigasr.sauc.concurrent"

	ttsResourceLegacy = "volc.service_type.10029"
	ttsResourceClone  = "volc.megatts.default"
	ttsResourceSeed   = "seed-tts-2.0"
)

// seedVoiceHints mark speaker ids that belong to the 2.0 resource.
var seedVoiceHints = []string{
	"bigtts", "seed", "megatts", "uranus", "venus", "jupiter",
	"saturn", "neptune", "mercury", "pluto", "mars",
}

// resolveCredentials 返回规范化后的 AppID 与 AccessToken，缺失时给出明确错误。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", fmt.Errorf("火山引擎语音配置未初始化")
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}

	if appID == "" || token == "" {
		return "", "", fmt.Errorf("火山引擎语音配置缺少 AppID 或 AccessToken")
	}

	return appID, token, nil
}

// providerHeader builds the handshake headers shared by ASR and TTS.
func providerHeader(cfg *speechmodel.SpeechConfig, resourceID, connectID string) (http.Header, error) {
	appID, token, err := resolveCredentials(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)
	return header, nil
}

func asrResourceID(cfg *speechmodel.SpeechConfig) string {
	if cfg != nil && cfg.ConcurrentMode {
		return asrResourceConcurrent
	}
	return asrResourceDuration
}

// ttsResources orders the resource ids worth trying for a speaker. Cloned
// voices (S_ prefix) only live under the clone resource.
func ttsResources(voice string) []string {
	if strings.HasPrefix(voice, "S_") {
		return []string{ttsResourceClone}
	}
	lower := strings.ToLower(voice)
	for _, hint := range seedVoiceHints {
		if strings.Contains(lower, hint) {
			return []string{ttsResourceSeed, ttsResourceLegacy}
		}
	}
	return []string{ttsResourceLegacy, ttsResourceSeed}
}

// resourceMismatch reports the handshake error returned when a speaker is
// sent under a resource id it does not belong to.
func resourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker")
}
