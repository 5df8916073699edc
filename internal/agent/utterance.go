package agent

import (
	"strings"

	"github.com/zhouzirui/voiceloop/backend/internal/model/speech"
)

// Utterance accumulates the transcripts of one turn.
type Utterance struct {
	finals    []string
	interim   string
	lastKnown string
}

// Observe applies one transcript event. A final closes the open interim.
func (u *Utterance) Observe(ev speech.TranscriptEvent) {
	text := strings.TrimSpace(ev.Text)
	if ev.IsFinal {
		if text != "" {
			u.finals = append(u.finals, text)
		}
		u.interim = ""
	} else {
		u.interim = text
	}
	if current := u.Text(); current != "" {
		u.lastKnown = current
	}
}

// Text is the finals so far followed by the live interim.
func (u *Utterance) Text() string {
	parts := make([]string, 0, len(u.finals)+1)
	parts = append(parts, u.finals...)
	if u.interim != "" {
		parts = append(parts, u.interim)
	}
	return strings.Join(parts, " ")
}

// Interim returns the live interim text.
func (u *Utterance) Interim() string {
	return u.interim
}

// Finalize returns the utterance to send. When nothing is live it falls
// back to the last non-empty text seen during the turn.
func (u *Utterance) Finalize() string {
	if text := u.Text(); text != "" {
		return text
	}
	return u.lastKnown
}

// Reset clears the turn.
func (u *Utterance) Reset() {
	u.finals = nil
	u.interim = ""
	u.lastKnown = ""
}
