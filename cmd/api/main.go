package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/voiceloop/backend/internal/config"
	"github.com/zhouzirui/voiceloop/backend/internal/handler"
	"github.com/zhouzirui/voiceloop/backend/internal/handler/transcribe"
	"github.com/zhouzirui/voiceloop/backend/internal/service/dialogue"
	"github.com/zhouzirui/voiceloop/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	deps := handler.Dependencies{Language: cfg.Relay.DefaultLanguage}

	// Speech provider backs both the relay and the one-shot endpoints
	speechService := speech.NewService(cfg.Speech.Provider())
	if cfg.Speech.Enabled {
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，转写中继将在 start 时返回错误")
	}
	deps.Speech = speechService

	relay := transcribe.New(speechService, cfg.Relay)
	deps.Transcribe = relay

	dialogueService, err := newDialogueService(ctx, cfg)
	if err != nil {
		log.Printf("warning: dialogue engine unavailable: %v", err)
	} else {
		deps.Dialogue = dialogueService
	}

	router := handler.NewRouter(deps)

	startServer(ctx, cfg.Server, router, relay)
}

// newDialogueService 组装 Gemini Live 引擎与可选的 Ark 文本后端
func newDialogueService(ctx context.Context, cfg *config.Config) (*dialogue.Service, error) {
	var engine dialogue.Engine
	if cfg.Dialogue.Enabled() {
		gemini, err := dialogue.NewGeminiEngine(ctx, cfg.Dialogue)
		if err != nil {
			return nil, err
		}
		engine = gemini
		log.Printf("Gemini Live engine initialized model=%s voice=%s", cfg.Dialogue.Model, cfg.Dialogue.Voice)
	}

	var text dialogue.TextEngine
	if cfg.Dialogue.TextBackend == config.TextBackendArk {
		ark, err := dialogue.NewArkTextEngine(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize Ark text engine: %v", err)
			log.Println("continuing without Ark - 请检查 Ark 模型相关环境变量")
		} else {
			text = ark
			log.Println("Ark text engine initialized successfully")
		}
	}

	if engine == nil && text == nil {
		return nil, errors.New("neither GEMINI_API_KEY nor an Ark text backend is configured")
	}
	return dialogue.NewService(engine, text, cfg.Dialogue.HistoryLimit), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, relay *transcribe.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Shutdown 不会关闭被劫持的 websocket 连接
	srv.RegisterOnShutdown(relay.CloseAll)

	log.Printf("voiceloop backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
