package dialogue

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voiceloop/backend/internal/model/dialogue"
	"github.com/zhouzirui/voiceloop/backend/pkg/utils"
)

// invalidInputMessage is the body of every 400 answer; clients match on it.
const invalidInputMessage = "Missing or invalid 'input' string."

// Relay is the dialogue relay service behind the HTTP surface.
type Relay interface {
	Stream(ctx context.Context, req dialogue.Request, emit func(dialogue.StreamEvent) error) error
	Text(ctx context.Context, req dialogue.Request) ([]string, error)
}

// Handler 对话中继 HTTP 处理器
type Handler struct {
	relay Relay
}

// New 创建对话处理器
func New(relay Relay) *Handler {
	return &Handler{relay: relay}
}

// RegisterRoutes 注册对话相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/dialogue", h.handleText)
	r.Post("/dialogue/stream", h.handleStream)
}

// handleStream 以 NDJSON 逐行推送回复；最后一行必为 done 或 error
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	writer := utils.NewNDJSONWriter(w)
	if writer == nil {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupNDJSONHeaders(w)
	w.WriteHeader(http.StatusOK)

	emit := func(ev dialogue.StreamEvent) error {
		return writer.Send(ev)
	}
	if err := h.relay.Stream(r.Context(), req, emit); err != nil {
		if r.Context().Err() != nil {
			log.Printf("[dialogue] client went away: %v", err)
			return
		}
		log.Printf("[dialogue] stream ended with error: %v", err)
	}
}

// handleText 非流式文本兜底
func (h *Handler) handleText(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	texts, err := h.relay.Text(r.Context(), req)
	if err != nil {
		log.Printf("[dialogue] text request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, dialogue.TextReply{Texts: texts})
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (dialogue.Request, bool) {
	var req dialogue.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input == "" {
		utils.RespondError(w, http.StatusBadRequest, invalidInputMessage)
		return dialogue.Request{}, false
	}
	return req, true
}

