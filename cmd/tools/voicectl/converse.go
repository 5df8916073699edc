package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zhouzirui/voiceloop/backend/internal/agent"
	dialogueclient "github.com/zhouzirui/voiceloop/backend/internal/client/dialogue"
	transcribeclient "github.com/zhouzirui/voiceloop/backend/internal/client/transcribe"
	"github.com/zhouzirui/voiceloop/backend/internal/config"
	"github.com/zhouzirui/voiceloop/backend/internal/playback"
	"github.com/zhouzirui/voiceloop/backend/internal/service/speech"
)

// ConverseCmd plays a recording into the agent and renders the replies.
type ConverseCmd struct {
	Input       string        `short:"i" long:"input"   description:"WAV or raw LINEAR16 file used as microphone" required:"true"`
	Output      string        `short:"o" long:"output"  description:"WAV file the reply audio is rendered into" default:"reply.wav"`
	Config      string        `short:"c" long:"config"  description:"agent tuning YAML"`
	Server      string        `short:"s" long:"server"  description:"relay server URL, overrides VOICE_SERVER_URL"`
	Padding     time.Duration `long:"padding"           description:"silence appended after the input (default: silence window plus 500ms)"`
	SpeakerRate int           `long:"speaker-rate"      description:"sample rate of the rendered reply (default: rate of the first reply)"`
}

func (c *ConverseCmd) Execute(_ []string) error {
	cfg, err := config.LoadAgent()
	if err != nil {
		return err
	}
	if c.Config != "" {
		if cfg, err = config.LoadAgentFile(c.Config, cfg); err != nil {
			return err
		}
	}
	if c.Server != "" {
		cfg.ServerURL = c.Server
	}

	data, err := os.ReadFile(c.Input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	padding := c.Padding
	if padding <= 0 {
		padding = cfg.SilenceMin + 500*time.Millisecond
	}
	fallback := playback.Format{SampleRate: cfg.SampleRate, Channels: 1, BitsPerSample: 16}
	mic, err := agent.NewFileMicrophone(data, fallback, cfg.ChunkInterval, cfg.FrameInterval, padding)
	if err != nil {
		return err
	}

	clock := playback.NewSystemClock()
	// with no --speaker-rate the file takes the rate of the first reply
	var sinkFormat playback.Format
	if c.SpeakerRate > 0 {
		sinkFormat = playback.Format{SampleRate: c.SpeakerRate, Channels: 1, BitsPerSample: 16}
	}
	sink := playback.NewWAVSink(c.Output, sinkFormat)

	va, err := agent.New(agent.Options{
		Config:     cfg,
		Microphone: mic,
		Dial: func(ctx context.Context) (agent.Transcriber, error) {
			client, err := transcribeclient.Dial(ctx, cfg.ServerURL)
			if err != nil {
				return nil, err
			}
			log.Printf("[voicectl] relay session %s", client.SessionID())
			return client, nil
		},
		Dialogue:    dialogueclient.New(cfg.ServerURL, &http.Client{}),
		Synthesizer: localSynthesizer(cfg),
		Scheduler:   playback.NewScheduler(clock, sink),
		Clock:       clock,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range va.Events() {
			printEvent(ev)
		}
	}()

	runErr := va.Run(ctx)
	<-printed

	if err := sink.Close(); err != nil {
		return fmt.Errorf("write reply audio: %w", err)
	}
	log.Printf("[voicectl] reply audio written to %s (%s)", c.Output, sink.Format())
	return runErr
}

// localSynthesizer returns nil when speech credentials are missing; the
// text-only fallback is then shown but not spoken.
func localSynthesizer(cfg config.AgentConfig) agent.Synthesizer {
	speechCfg, err := config.LoadSpeech()
	if err != nil {
		log.Printf("[voicectl] speech config: %v", err)
		return nil
	}
	if !speechCfg.Enabled {
		return nil
	}
	if cfg.FallbackVoice != "" {
		speechCfg.TTSVoice = cfg.FallbackVoice
	}
	return speech.NewService(speechCfg.Provider())
}

func printEvent(ev agent.Event) {
	switch ev.Kind {
	case agent.EventState:
		fmt.Printf("[%s]\n", ev.State)
	case agent.EventInterim:
		fmt.Printf("  … %s\n", ev.Text)
	case agent.EventFinal:
		fmt.Printf("  ✓ %s\n", ev.Text)
	case agent.EventUtterance:
		fmt.Printf("you: %s\n", ev.Text)
	case agent.EventReply:
		fmt.Printf("model: %s\n", ev.Text)
	case agent.EventError:
		fmt.Printf("error: %v\n", ev.Err)
	}
}
