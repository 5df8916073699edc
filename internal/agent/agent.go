// Package agent is the capture and endpointing agent: it owns the
// microphone and the turn-taking state, drives the transcription relay,
// decides when an utterance ends and plays the dialogue reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/voiceloop/backend/internal/config"
	"github.com/zhouzirui/voiceloop/backend/internal/model/dialogue"
	"github.com/zhouzirui/voiceloop/backend/internal/model/speech"
	"github.com/zhouzirui/voiceloop/backend/internal/playback"
	"github.com/zhouzirui/voiceloop/backend/internal/service/conversation"
)

const (
	historyWindow = 8
	eventBuffer   = 256
)

var (
	// ErrTranscription marks session-fatal errors of the transcription relay.
	ErrTranscription = errors.New("transcription failed")
	// ErrDialogue marks a failed reply; the session continues.
	ErrDialogue = errors.New("dialogue failed")
)

// Transcriber is the client side of the transcription relay.
type Transcriber interface {
	Start(cfg *speech.RecognitionConfig) error
	SendAudio(chunk []byte) error
	Stop() error
	Events() <-chan speech.RelayEvent
	Close() error
}

// DialTranscriber opens the relay connection.
type DialTranscriber func(ctx context.Context) (Transcriber, error)

// Dialogue is the client side of the dialogue relay.
type Dialogue interface {
	Stream(ctx context.Context, req dialogue.Request, handle func(dialogue.StreamEvent) error) error
	Text(ctx context.Context, req dialogue.Request) ([]string, error)
}

// Synthesizer produces speech locally for the text-only fallback.
type Synthesizer interface {
	SynthesizePCM(ctx context.Context, text string) (mime string, pcm []byte, err error)
}

// EventKind 代理事件类型
type EventKind int

const (
	EventState EventKind = iota
	EventInterim
	EventFinal
	EventUtterance
	EventReply
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventUtterance:
		return "utterance"
	case EventReply:
		return "reply"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is what the agent reports to the UI layer.
type Event struct {
	Kind  EventKind
	State TurnState
	Text  string
	Err   error
}

// Options wires the agent to its collaborators. Synthesizer, History,
// Clock and After are optional.
type Options struct {
	Config      config.AgentConfig
	Microphone  Microphone
	Dial        DialTranscriber
	Dialogue    Dialogue
	Synthesizer Synthesizer
	Scheduler   *playback.Scheduler
	Clock       playback.Clock
	History     *conversation.Service
	After       func(time.Duration) <-chan time.Time
}

// Agent runs turns until stopped. All turn state is owned by the Run
// goroutine; Stop and StopSession only post commands.
type Agent struct {
	cfg       config.AgentConfig
	mic       Microphone
	dial      DialTranscriber
	dialogue  Dialogue
	synth     Synthesizer
	scheduler *playback.Scheduler
	clock     playback.Clock
	history   *conversation.Service
	after     func(time.Duration) <-chan time.Time

	conversationID string

	state       TurnState
	vad         *VAD
	utterance   Utterance
	transcriber Transcriber
	recording   Recording
	chunks      <-chan []byte
	frames      <-chan []float32

	commands    chan struct{}
	stopSession atomic.Bool
	events      chan Event
}

// New 创建采集代理
func New(opts Options) (*Agent, error) {
	if opts.Microphone == nil || opts.Dial == nil || opts.Dialogue == nil || opts.Scheduler == nil {
		return nil, errors.New("agent needs a microphone, a transcriber dialer, a dialogue client and a scheduler")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = playback.NewSystemClock()
	}
	after := opts.After
	if after == nil {
		after = time.After
	}
	history := opts.History
	if history == nil {
		history = conversation.NewService()
	}

	return &Agent{
		cfg:            opts.Config,
		mic:            opts.Microphone,
		dial:           opts.Dial,
		dialogue:       opts.Dialogue,
		synth:          opts.Synthesizer,
		scheduler:      opts.Scheduler,
		clock:          clock,
		history:        history,
		after:          after,
		conversationID: history.CreateSession(context.Background()).ID,
		vad:            NewVAD(opts.Config.VADThreshold, opts.Config.SilenceMin),
		commands:       make(chan struct{}, 1),
		events:         make(chan Event, eventBuffer),
	}, nil
}

// Events is closed when Run returns.
func (a *Agent) Events() <-chan Event {
	return a.events
}

// ConversationID identifies the turns recorded by this agent.
func (a *Agent) ConversationID() string {
	return a.conversationID
}

// Stop ends the current turn now, as if silence had been detected.
func (a *Agent) Stop() {
	select {
	case a.commands <- struct{}{}:
	default:
	}
}

// StopSession ends the current turn and returns to idle after its reply.
func (a *Agent) StopSession() {
	a.stopSession.Store(true)
	a.Stop()
}

// Run starts listening and loops over turns until StopSession, ctx
// cancellation or a fatal error. It always leaves the agent idle.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.events)
	defer a.teardown()

	if err := a.listen(ctx); err != nil {
		a.fail(err)
		return err
	}

	for {
		done, err := a.step(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.fail(err)
			}
			return err
		}
		if done {
			return nil
		}
	}
}

// step handles one input of the listening phase.
func (a *Agent) step(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()

	case <-a.commands:
		a.vad.Latch()
		log.Printf("[agent] turn ended by stop command")
		return a.endTurn(ctx)

	case chunk, ok := <-a.chunks:
		if !ok {
			a.chunks = nil
			return false, nil
		}
		if err := a.transcriber.SendAudio(chunk); err != nil {
			return false, fmt.Errorf("%w: %v", ErrTranscription, err)
		}

	case frame, ok := <-a.frames:
		if !ok {
			// 输入设备耗尽：结束本轮并在回复后退出
			a.frames = nil
			a.stopSession.Store(true)
			a.vad.Latch()
			log.Printf("[agent] microphone input ended")
			return a.endTurn(ctx)
		}
		if a.vad.Observe(a.clock.Now(), RMS(frame)) {
			log.Printf("[agent] silence for %s, ending turn", a.cfg.SilenceMin)
			return a.endTurn(ctx)
		}

	case ev, ok := <-a.relayEvents():
		if !ok {
			return false, fmt.Errorf("%w: relay connection closed", ErrTranscription)
		}
		if err := a.observeRelay(ev); err != nil {
			return false, err
		}
	}
	return false, nil
}

// listen opens a listening phase, reusing the relay connection.
func (a *Agent) listen(ctx context.Context) error {
	if a.transcriber == nil {
		transcriber, err := a.dial(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTranscription, err)
		}
		a.transcriber = transcriber
	}
	a.discardStale()

	recording, err := a.mic.Record()
	if err != nil {
		if errors.Is(err, ErrMicrophoneUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}

	cfg := a.recognitionConfig()
	if err := a.transcriber.Start(&cfg); err != nil {
		recording.Stop()
		return fmt.Errorf("%w: %v", ErrTranscription, err)
	}

	a.recording = recording
	a.chunks = recording.Chunks()
	a.frames = recording.Frames()
	a.vad.Reset()
	a.utterance.Reset()
	select {
	case <-a.commands:
	default:
	}
	return a.transition(TriggerListen)
}

// endTurn finalizes the utterance, plays the reply and resumes listening.
// It reports true when the session is over.
func (a *Agent) endTurn(ctx context.Context) (bool, error) {
	if err := a.transition(TriggerEndTurn); err != nil {
		return false, err
	}
	a.stopRecording()

	if err := a.transcriber.Stop(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	if err := a.awaitStopped(ctx); err != nil {
		return false, err
	}

	text := a.utterance.Finalize()
	a.utterance.Reset()
	if text == "" {
		log.Printf("[agent] empty utterance, resuming")
	} else {
		a.emit(Event{Kind: EventUtterance, Text: text})
		a.reply(ctx, text)
	}

	if err := ctx.Err(); err != nil {
		return true, err
	}
	if a.stopSession.Load() {
		return true, nil
	}
	return false, a.listen(ctx)
}

// awaitStopped waits for the relay's stopped acknowledgment, bounded by
// the stop timeout. Transcripts arriving meanwhile still count.
func (a *Agent) awaitStopped(ctx context.Context) error {
	timeout := a.after(a.cfg.StopAckTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			log.Printf("[agent] no stopped acknowledgment within %s, finalizing", a.cfg.StopAckTimeout)
			return nil
		case ev, ok := <-a.relayEvents():
			if !ok {
				return fmt.Errorf("%w: relay connection closed", ErrTranscription)
			}
			if ev.Type == speech.EventStopped {
				return nil
			}
			if err := a.observeRelay(ev); err != nil {
				return err
			}
		}
	}
}

func (a *Agent) observeRelay(ev speech.RelayEvent) error {
	switch ev.Type {
	case speech.EventTranscript:
		if ev.Data == nil {
			return nil
		}
		a.utterance.Observe(*ev.Data)
		kind := EventInterim
		if ev.Data.IsFinal {
			kind = EventFinal
		}
		a.emit(Event{Kind: kind, Text: ev.Data.Text})
	case speech.EventError:
		return fmt.Errorf("%w: %s", ErrTranscription, ev.Message)
	}
	return nil
}

// reply streams the dialogue answer into the scheduler and records the
// exchange once it completed.
func (a *Agent) reply(ctx context.Context, input string) {
	history, err := a.history.Recent(ctx, a.conversationID, historyWindow)
	if err != nil {
		log.Printf("[agent] load history: %v", err)
	}
	req, err := dialogue.NewRequest(input, history)
	if err != nil {
		a.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrDialogue, err)})
		return
	}

	a.scheduler.Reset()
	var texts []string
	sawText := false
	err = a.dialogue.Stream(ctx, req, func(ev dialogue.StreamEvent) error {
		switch ev.Type {
		case dialogue.EventText:
			a.speaking()
			sawText = true
			if ev.Text != "" {
				texts = append(texts, ev.Text)
				a.emit(Event{Kind: EventReply, Text: ev.Text})
			}
		case dialogue.EventAudio:
			a.speaking()
			mime := ev.Mime
			if mime == "" {
				mime = dialogue.DefaultAudioMime
			}
			if _, err := a.scheduler.Enqueue(mime, ev.Data); err != nil {
				log.Printf("[agent] skip audio chunk: %v", err)
			}
		case dialogue.EventFile:
			a.speaking()
			log.Printf("[agent] reply references file %s", ev.URI)
		}
		return nil
	})
	if err != nil {
		a.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrDialogue, err)})
		a.awaitDrain(ctx)
		return
	}

	replyText := strings.TrimSpace(strings.Join(texts, " "))
	if !sawText {
		replyText = a.fallback(ctx, req)
	}
	a.awaitDrain(ctx)

	if replyText != "" {
		if err := a.history.AppendExchange(ctx, a.conversationID, input, replyText); err != nil {
			log.Printf("[agent] record exchange: %v", err)
		}
	}
}

// fallback asks for a text-only answer when the stream carried no text
// and speaks it locally.
func (a *Agent) fallback(ctx context.Context, req dialogue.Request) string {
	log.Printf("[agent] reply carried no text, requesting text fallback")
	texts, err := a.dialogue.Text(ctx, req)
	if err != nil {
		log.Printf("[agent] text fallback failed: %v", err)
		return ""
	}
	text := strings.TrimSpace(strings.Join(texts, " "))
	if text == "" {
		return ""
	}
	a.emit(Event{Kind: EventReply, Text: text})

	if a.synth == nil {
		return text
	}
	mime, pcm, err := a.synth.SynthesizePCM(ctx, text)
	if err != nil {
		log.Printf("[agent] fallback synthesis failed: %v", err)
		return text
	}
	a.speaking()
	if _, err := a.scheduler.Schedule(playback.DecodePCM16(pcm), playback.ParseMime(mime)); err != nil {
		log.Printf("[agent] play fallback speech: %v", err)
	}
	return text
}

// awaitDrain waits until queued audio has played out, computed from the
// scheduler cursor.
func (a *Agent) awaitDrain(ctx context.Context) {
	remaining := a.scheduler.Remaining()
	if remaining <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-a.after(remaining):
	}
}

func (a *Agent) speaking() {
	if a.state == StateProcessing {
		a.mustTransition(TriggerReply)
	}
}

func (a *Agent) recognitionConfig() speech.RecognitionConfig {
	punctuation := true
	cfg := a.mic.Encoding()
	if cfg.Encoding == "" {
		cfg.Encoding = a.cfg.Encoding
		cfg.SampleRateHertz = a.cfg.SampleRate
	}
	cfg.LanguageCode = a.cfg.Language
	cfg.EnableAutomaticPunctuation = &punctuation
	cfg.InterimResults = true
	return cfg
}

func (a *Agent) relayEvents() <-chan speech.RelayEvent {
	if a.transcriber == nil {
		return nil
	}
	return a.transcriber.Events()
}

// discardStale drops relay events left over from the previous stream.
func (a *Agent) discardStale() {
	events := a.relayEvents()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			log.Printf("[agent] discard stale %s event", ev.Type)
		default:
			return
		}
	}
}

func (a *Agent) stopRecording() {
	if a.recording != nil {
		a.recording.Stop()
		a.recording = nil
	}
	a.chunks = nil
	a.frames = nil
}

// teardown releases the microphone and the relay connection.
func (a *Agent) teardown() {
	a.stopRecording()
	if a.transcriber != nil {
		if err := a.transcriber.Close(); err != nil {
			log.Printf("[agent] close relay: %v", err)
		}
		a.transcriber = nil
	}
	if err := a.mic.Close(); err != nil {
		log.Printf("[agent] close microphone: %v", err)
	}
	a.mustTransition(TriggerTeardown)
}

func (a *Agent) transition(t Trigger) error {
	next, err := Transition(a.state, t)
	if err != nil {
		return err
	}
	if next != a.state {
		log.Printf("[agent] %s -> %s", a.state, next)
		a.state = next
		a.emit(Event{Kind: EventState, State: next})
	}
	return nil
}

func (a *Agent) mustTransition(t Trigger) {
	if err := a.transition(t); err != nil {
		log.Printf("[agent] %v", err)
	}
}

func (a *Agent) fail(err error) {
	log.Printf("[agent] %v", err)
	a.emit(Event{Kind: EventError, Err: err})
}

func (a *Agent) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		log.Printf("[agent] event buffer full, dropped %s event", ev.Kind)
	}
}
