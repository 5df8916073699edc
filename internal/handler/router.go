package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/voiceloop/backend/internal/handler/dialogue"
	"github.com/zhouzirui/voiceloop/backend/internal/handler/speech"
	"github.com/zhouzirui/voiceloop/backend/internal/handler/transcribe"
	middlewarePkg "github.com/zhouzirui/voiceloop/backend/internal/middleware"
	"github.com/zhouzirui/voiceloop/backend/pkg/utils"
)

// Dependencies 路由所需的处理器；为 nil 的部分不注册路由
type Dependencies struct {
	Transcribe *transcribe.Handler
	Dialogue   dialogue.Relay
	Speech     speech.SpeechService
	// Language 一次性识别的默认语言
	Language string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// 长连接不经过访问日志中间件
	if deps.Transcribe != nil {
		deps.Transcribe.RegisterRoutes(r)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Logger)

		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			connections := 0
			if deps.Transcribe != nil {
				connections = deps.Transcribe.Connections()
			}
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":      "ok",
				"connections": connections,
				"dialogue":    deps.Dialogue != nil,
				"speech":      deps.Speech != nil,
			})
		})

		if deps.Dialogue != nil {
			dialogue.New(deps.Dialogue).RegisterRoutes(api)
		} else {
			unavailable := func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "dialogue engine unavailable")
			}
			api.Post("/dialogue", unavailable)
			api.Post("/dialogue/stream", unavailable)
		}

		if deps.Speech != nil {
			speech.New(deps.Speech, deps.Language).RegisterRoutes(api)
		}
	})

	return r
}
