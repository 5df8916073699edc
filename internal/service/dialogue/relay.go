package dialogue

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/zhouzirui/voiceloop/backend/internal/model/dialogue"
)

var (
	// ErrEmptyInput is returned when the request carries no input text.
	ErrEmptyInput = errors.New("missing or invalid 'input' string")
	// ErrEngineUnavailable is returned when no engine is configured.
	ErrEngineUnavailable = errors.New("dialogue engine is not configured")
)

// Service drives one engine session per request and republishes its output.
type Service struct {
	engine       Engine
	text         TextEngine
	historyLimit int
}

// NewService 创建对话中继服务；text 为空时文本请求同样走 engine
func NewService(engine Engine, text TextEngine, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Service{engine: engine, text: text, historyLimit: historyLimit}
}

// Prompt renders req into the engine prompt.
func (s *Service) Prompt(req dialogue.Request) string {
	return BuildPrompt(SanitizeHistory(req.History), req.Input, s.historyLimit)
}

// Stream emits the reply to req as StreamEvents in engine order. The last
// event is always done or error. A failing emit (client gone) aborts the
// session without further events.
func (s *Service) Stream(ctx context.Context, req dialogue.Request, emit func(dialogue.StreamEvent) error) error {
	if req.Input == "" {
		return ErrEmptyInput
	}

	var emitErr error
	send := func(ev dialogue.StreamEvent) error {
		if err := emit(ev); err != nil {
			emitErr = err
			return err
		}
		return nil
	}

	err := s.run(ctx, ModeAudioText, s.Prompt(req), func(msg *Message) error {
		for _, part := range msg.Parts {
			ev, ok := eventFor(part)
			if !ok {
				continue
			}
			if err := send(ev); err != nil {
				return err
			}
		}
		if msg.TurnComplete {
			return send(dialogue.DoneEvent())
		}
		return nil
	})
	if err != nil && emitErr == nil {
		log.Printf("[dialogue] stream failed: %v", err)
		_ = emit(dialogue.ErrorEvent(err.Error()))
	}
	return err
}

// Text answers req with text only, through the text engine when one is set.
func (s *Service) Text(ctx context.Context, req dialogue.Request) ([]string, error) {
	if req.Input == "" {
		return nil, ErrEmptyInput
	}

	prompt := s.Prompt(req)
	if s.text != nil {
		return s.text.Reply(ctx, prompt)
	}

	texts := []string{}
	err := s.run(ctx, ModeText, prompt, func(msg *Message) error {
		for _, part := range msg.Parts {
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return texts, nil
}

func eventFor(part Part) (dialogue.StreamEvent, bool) {
	switch {
	case len(part.Data) > 0:
		mime := part.Mime
		if mime == "" {
			mime = dialogue.DefaultAudioMime
		}
		return dialogue.AudioEvent(mime, base64.StdEncoding.EncodeToString(part.Data)), true
	case part.Text != "":
		return dialogue.TextEvent(part.Text), true
	case part.FileURI != "":
		return dialogue.FileEvent(part.FileURI), true
	default:
		return dialogue.StreamEvent{}, false
	}
}

// run opens a session, sends prompt and hands every message to handle until
// the engine completes the turn.
func (s *Service) run(ctx context.Context, mode Mode, prompt string, handle func(*Message) error) error {
	if s.engine == nil {
		return ErrEngineUnavailable
	}

	session, err := s.engine.Connect(ctx, mode)
	if err != nil {
		return fmt.Errorf("open dialogue session: %w", err)
	}
	turn := newLiveTurn(session)
	defer turn.close()

	if err := session.Send(ctx, prompt); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}
	go turn.pump(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-turn.received:
			if r.err != nil {
				return r.err
			}
			if err := handle(r.msg); err != nil {
				return err
			}
			if r.msg.TurnComplete {
				return nil
			}
		}
	}
}

type receiveResult struct {
	msg *Message
	err error
}

// liveTurn owns the state of one session: its receive loop feeds received
// until the turn completes, fails or the turn is closed.
type liveTurn struct {
	session  Session
	received chan receiveResult
	stop     chan struct{}
	once     sync.Once
}

func newLiveTurn(session Session) *liveTurn {
	return &liveTurn{
		session:  session,
		received: make(chan receiveResult),
		stop:     make(chan struct{}),
	}
}

func (t *liveTurn) pump(ctx context.Context) {
	for {
		msg, err := t.session.Receive(ctx)
		if err == nil && msg == nil {
			msg = &Message{}
		}
		select {
		case t.received <- receiveResult{msg: msg, err: err}:
		case <-t.stop:
			return
		}
		if err != nil || msg.TurnComplete {
			return
		}
	}
}

func (t *liveTurn) close() {
	t.once.Do(func() {
		close(t.stop)
		if err := t.session.Close(); err != nil {
			log.Printf("[dialogue] close session: %v", err)
		}
	})
}
