package dialogue

// 流事件类型
const (
	EventText  = "text"
	EventAudio = "audio"
	EventFile  = "file"
	EventError = "error"
	EventDone  = "done"
)

// DefaultAudioMime is assumed for audio events that carry no mime.
const DefaultAudioMime = "audio/L16; rate=16000"

// StreamEvent is one line of the dialogue relay stream. Only the fields of
// the tagged Type are populated.
type StreamEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Mime    string `json:"mime,omitempty"`
	Data    string `json:"data,omitempty"`
	URI     string `json:"uri,omitempty"`
	Message string `json:"message,omitempty"`
}

func TextEvent(text string) StreamEvent { return StreamEvent{Type: EventText, Text: text} }

func AudioEvent(mime, data string) StreamEvent {
	return StreamEvent{Type: EventAudio, Mime: mime, Data: data}
}

func FileEvent(uri string) StreamEvent { return StreamEvent{Type: EventFile, URI: uri} }

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}

func DoneEvent() StreamEvent { return StreamEvent{Type: EventDone} }

// Terminal reports whether no further events follow e.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
