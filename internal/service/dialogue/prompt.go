package dialogue

import (
	"encoding/json"
	"strings"

	"github.com/zhouzirui/voiceloop/backend/internal/model/dialogue"
)

// DefaultHistoryLimit 组装 prompt 时保留的历史轮数
const DefaultHistoryLimit = 8

// SanitizeHistory keeps the entries of raw whose role is user, model or
// system and whose content is a string, in their original order. Anything
// that is not a JSON array yields no history.
func SanitizeHistory(raw json.RawMessage) []dialogue.Turn {
	if len(raw) == 0 {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	turns := make([]dialogue.Turn, 0, len(entries))
	for _, entry := range entries {
		var fields struct {
			Role    json.RawMessage `json:"role"`
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(entry, &fields); err != nil {
			continue
		}

		var role, content string
		if json.Unmarshal(fields.Role, &role) != nil {
			continue
		}
		if json.Unmarshal(fields.Content, &content) != nil {
			continue
		}
		if !dialogue.Role(role).Valid() {
			continue
		}
		turns = append(turns, dialogue.Turn{Role: dialogue.Role(role), Content: content})
	}
	return turns
}

// BuildPrompt renders the last limit turns as "<Role>: <content>" lines,
// followed by the user's input and an open assistant cue.
func BuildPrompt(history []dialogue.Turn, input string, limit int) string {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	lines := make([]string, 0, len(history)+2)
	for _, turn := range history {
		lines = append(lines, speakerLabel(turn.Role)+": "+turn.Content)
	}
	lines = append(lines, "User: "+input, "Assistant:")
	return strings.Join(lines, "\n")
}

func speakerLabel(role dialogue.Role) string {
	switch role {
	case dialogue.RoleModel:
		return "Assistant"
	case dialogue.RoleSystem:
		return "System"
	default:
		return "User"
	}
}
