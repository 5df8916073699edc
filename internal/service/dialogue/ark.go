package dialogue

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/voiceloop/backend/internal/config"
)

const arkSystemPrompt = "You are a friendly voice assistant. Answer in one or two short spoken sentences without markdown."

// ArkTextEngine answers text-only requests through a Volcengine Ark chat
// model composed with eino.
type ArkTextEngine struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewArkTextEngine 使用 Ark 配置创建文本引擎
func NewArkTextEngine(ctx context.Context, cfg config.AIConfig) (*ArkTextEngine, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewTextEngineWithModel(ctx, chatModel)
}

// NewTextEngineWithModel composes the prompt template with any eino chat model.
func NewTextEngineWithModel(ctx context.Context, chatModel model.BaseChatModel) (*ArkTextEngine, error) {
	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("turns", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return &ArkTextEngine{chain: runnable}, nil
}

// Reply sends the rendered prompt as a single user message. The prompt goes
// through the placeholder so braces in user text are never interpreted.
func (e *ArkTextEngine) Reply(ctx context.Context, rendered string) ([]string, error) {
	resp, err := e.chain.Invoke(ctx, map[string]any{
		"system": arkSystemPrompt,
		"turns":  []*schema.Message{schema.UserMessage(rendered)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run chat chain: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	log.Printf("[dialogue] ark reply length=%d", len(text))
	if text == "" {
		return nil, nil
	}
	return []string{text}, nil
}
