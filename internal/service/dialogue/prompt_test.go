package dialogue

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voiceloop/backend/internal/model/dialogue"
)

func TestSanitizeHistoryDropsInvalidEntries(t *testing.T) {
	raw := json.RawMessage(`[
		{"role":"user","content":"hi"},
		{"role":"model"},
		{"role":"admin","content":"sudo"},
		{"role":"model","content":42},
		"not an object",
		{"role":"system","content":"be brief"},
		{"role":"model","content":"hello!"}
	]`)

	got := SanitizeHistory(raw)

	assert.Equal(t, []dialogue.Turn{
		{Role: dialogue.RoleUser, Content: "hi"},
		{Role: dialogue.RoleSystem, Content: "be brief"},
		{Role: dialogue.RoleModel, Content: "hello!"},
	}, got)
}

func TestSanitizeHistoryNonArray(t *testing.T) {
	testCases := []string{``, `null`, `{"role":"user","content":"hi"}`, `"history"`}
	for _, tc := range testCases {
		assert.Empty(t, SanitizeHistory(json.RawMessage(tc)), tc)
	}
}

func TestBuildPromptFormat(t *testing.T) {
	history := []dialogue.Turn{
		{Role: dialogue.RoleSystem, Content: "be brief"},
		{Role: dialogue.RoleUser, Content: "hi"},
		{Role: dialogue.RoleModel, Content: "hello!"},
	}

	got := BuildPrompt(history, "what time is it", 8)

	assert.Equal(t, "System: be brief\nUser: hi\nAssistant: hello!\nUser: what time is it\nAssistant:", got)
}

func TestBuildPromptKeepsLastTurns(t *testing.T) {
	var entries []map[string]any
	for i := 0; i < 12; i++ {
		entries = append(entries, map[string]any{"role": "user", "content": fmt.Sprintf("turn-%d", i)})
	}
	entries = append(entries, map[string]any{"role": "admin", "content": "dropped"})
	raw, err := json.Marshal(entries)
	require.NoError(t, err)

	prompt := BuildPrompt(SanitizeHistory(raw), "latest", DefaultHistoryLimit)
	lines := strings.Split(prompt, "\n")

	require.Len(t, lines, 10)
	assert.Equal(t, "User: turn-4", lines[0])
	assert.Equal(t, "User: turn-11", lines[7])
	assert.Equal(t, "User: latest", lines[8])
	assert.Equal(t, "Assistant:", lines[9])
	assert.NotContains(t, prompt, "dropped")
}

func TestBuildPromptWithoutHistory(t *testing.T) {
	assert.Equal(t, "User: hello world\nAssistant:", BuildPrompt(nil, "hello world", 0))
}
