package agent

import "fmt"

// TurnState is the single turn-taking state of the agent.
type TurnState int

const (
	StateIdle TurnState = iota
	StateListening
	StateProcessing
	StateSpeaking
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("TurnState(%d)", int(s))
	}
}

// Trigger 驱动状态迁移的事件
type Trigger int

const (
	// TriggerListen opens a listening phase: explicit start or automatic resume.
	TriggerListen Trigger = iota
	// TriggerEndTurn is an explicit stop or VAD silence.
	TriggerEndTurn
	// TriggerReply is the first reply event of the dialogue stream.
	TriggerReply
	// TriggerTeardown releases everything from any state.
	TriggerTeardown
)

func (t Trigger) String() string {
	switch t {
	case TriggerListen:
		return "listen"
	case TriggerEndTurn:
		return "end-turn"
	case TriggerReply:
		return "reply"
	case TriggerTeardown:
		return "teardown"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}

// transitions lists every legal move. processing → listening covers both
// the empty utterance and a failed reply.
var transitions = map[TurnState]map[Trigger]TurnState{
	StateIdle: {
		TriggerListen: StateListening,
	},
	StateListening: {
		TriggerEndTurn: StateProcessing,
	},
	StateProcessing: {
		TriggerReply:  StateSpeaking,
		TriggerListen: StateListening,
	},
	StateSpeaking: {
		TriggerListen: StateListening,
	},
}

// Transition returns the state reached from from on t.
func Transition(from TurnState, t Trigger) (TurnState, error) {
	if t == TriggerTeardown {
		return StateIdle, nil
	}
	if to, ok := transitions[from][t]; ok {
		return to, nil
	}
	return from, fmt.Errorf("invalid transition %s on %s", from, t)
}
