package dialogue

import "context"

// Mode selects the reply modalities of an engine session.
type Mode int

const (
	// ModeAudioText 同时返回音频与文本
	ModeAudioText Mode = iota
	// ModeText 仅返回文本
	ModeText
)

// Part is one classified piece of a model turn. Exactly one of Data, Text
// or FileURI is meaningful; a part carrying several is split by the relay.
type Part struct {
	Text    string
	Mime    string
	Data    []byte
	FileURI string
}

// Message is one server message of a live session.
type Message struct {
	Parts        []Part
	TurnComplete bool
}

// Session is a single conversation with the dialogue engine.
type Session interface {
	Send(ctx context.Context, prompt string) error
	// Receive blocks for the next server message. It returns an error once
	// the session is closed.
	Receive(ctx context.Context) (*Message, error)
	Close() error
}

// Engine opens sessions against an external dialogue engine.
type Engine interface {
	Connect(ctx context.Context, mode Mode) (Session, error)
}

// TextEngine answers a rendered prompt with text only.
type TextEngine interface {
	Reply(ctx context.Context, prompt string) ([]string, error)
}
