package dialogue

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/zhouzirui/voiceloop/backend/internal/config"
)

// GeminiEngine opens Gemini Live sessions.
type GeminiEngine struct {
	client *genai.Client
	cfg    config.DialogueConfig
}

// NewGeminiEngine 创建 Gemini Live 引擎
func NewGeminiEngine(ctx context.Context, cfg config.DialogueConfig) (*GeminiEngine, error) {
	if !cfg.Enabled() {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create genai client")
	}
	return &GeminiEngine{client: client, cfg: cfg}, nil
}

// liveConfig builds the session settings: fixed voice and a sliding-window
// compression policy for long conversations.
func (e *GeminiEngine) liveConfig(mode Mode) *genai.LiveConnectConfig {
	modalities := []genai.Modality{genai.ModalityAudio, genai.ModalityText}
	if mode == ModeText {
		modalities = []genai.Modality{genai.ModalityText}
	}

	cfg := &genai.LiveConnectConfig{
		ResponseModalities: modalities,
		MediaResolution:    genai.MediaResolutionMedium,
		ContextWindowCompression: &genai.ContextWindowCompressionConfig{
			TriggerTokens: genai.Ptr(e.cfg.CompressionTrigger),
			SlidingWindow: &genai.SlidingWindow{
				TargetTokens: genai.Ptr(e.cfg.CompressionTarget),
			},
		},
	}
	if mode == ModeAudioText && e.cfg.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: e.cfg.Voice},
			},
		}
	}
	return cfg
}

func (e *GeminiEngine) Connect(ctx context.Context, mode Mode) (Session, error) {
	session, err := e.client.Live.Connect(ctx, e.cfg.Model, e.liveConfig(mode))
	if err != nil {
		return nil, errors.Wrapf(err, "connect live model %s", e.cfg.Model)
	}
	return &geminiSession{session: session}, nil
}

type geminiSession struct {
	session *genai.Session
}

func (s *geminiSession) Send(_ context.Context, prompt string) error {
	err := s.session.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
	})
	return errors.Wrap(err, "send prompt")
}

func (s *geminiSession) Receive(_ context.Context) (*Message, error) {
	msg, err := s.session.Receive()
	if err != nil {
		return nil, errors.Wrap(err, "receive live message")
	}
	return convertServerMessage(msg), nil
}

func (s *geminiSession) Close() error {
	return s.session.Close()
}

// convertServerMessage keeps the model-turn parts in order. Within one part
// inline data comes first, then text, then the file reference.
func convertServerMessage(msg *genai.LiveServerMessage) *Message {
	out := &Message{}
	if msg == nil || msg.ServerContent == nil {
		return out
	}

	sc := msg.ServerContent
	out.TurnComplete = sc.TurnComplete
	if sc.ModelTurn == nil {
		return out
	}

	for _, part := range sc.ModelTurn.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			out.Parts = append(out.Parts, Part{Mime: part.InlineData.MIMEType, Data: part.InlineData.Data})
		}
		if part.Text != "" {
			out.Parts = append(out.Parts, Part{Text: part.Text})
		}
		if part.FileData != nil && part.FileData.FileURI != "" {
			out.Parts = append(out.Parts, Part{FileURI: part.FileData.FileURI})
		}
	}
	return out
}
