package dialogue

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	input []*schema.Message
	reply string
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.input = input
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(m.reply, nil)}), nil
}

func TestTextEngineSendsRenderedPrompt(t *testing.T) {
	chatModel := &fakeChatModel{reply: "  It is noon.  "}
	engine, err := NewTextEngineWithModel(context.Background(), chatModel)
	require.NoError(t, err)

	prompt := "User: what is {time}?\nAssistant:"
	texts, err := engine.Reply(context.Background(), prompt)
	require.NoError(t, err)

	assert.Equal(t, []string{"It is noon."}, texts)
	require.Len(t, chatModel.input, 2)
	assert.Equal(t, schema.System, chatModel.input[0].Role)
	assert.Equal(t, arkSystemPrompt, chatModel.input[0].Content)
	assert.Equal(t, schema.User, chatModel.input[1].Role)
	assert.Equal(t, prompt, chatModel.input[1].Content)
}

func TestTextEngineEmptyReply(t *testing.T) {
	engine, err := NewTextEngineWithModel(context.Background(), &fakeChatModel{reply: " "})
	require.NoError(t, err)

	texts, err := engine.Reply(context.Background(), "User: hi\nAssistant:")
	require.NoError(t, err)
	assert.Empty(t, texts)
}
