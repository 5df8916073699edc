package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voiceloop/backend/internal/model/speech"
	"github.com/zhouzirui/voiceloop/backend/pkg/utils"
)

const maxAudioBytes = 32 << 20

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
	Configured() bool
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	language  string
}

// New 创建语音处理器；language 为一次性识别的默认语言
func New(speechSvc SpeechService, language string) *Handler {
	if language == "" {
		language = "en-US"
	}
	return &Handler{speechSvc: speechSvc, language: language}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		// ASR 端点
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/transcribe/{sessionID}", h.handleTranscribeWithSession)

		// TTS 端点
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Post("/synthesize/{sessionID}", h.handleSynthesizeWithSession)

		// 健康检查
		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	h.processTranscribe(w, r, "")
}

// handleTranscribeWithSession 处理带会话ID的语音转文本请求
func (h *Handler) handleTranscribeWithSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}

	h.processTranscribe(w, r, sessionID)
}

// handleSynthesize 处理文本转语音请求
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, "")
}

// handleSynthesizeWithSession 处理带会话ID的文本转语音请求
func (h *Handler) handleSynthesizeWithSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}

	h.processSynthesize(w, r, sessionID)
}

// audioUpload 是一次性识别的输入：multipart 的 audio 字段或原始请求体
type audioUpload struct {
	data     []byte
	encoding string
	session  string
	language string
}

func (h *Handler) readUpload(r *http.Request) (*audioUpload, int, string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
			return nil, http.StatusBadRequest, "failed to parse multipart form: " + err.Error()
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("audio")
		if err != nil {
			return nil, http.StatusBadRequest, "audio file is required"
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxAudioBytes))
		if err != nil {
			return nil, http.StatusBadRequest, "failed to read audio file"
		}
		encoding := inferEncoding(header.Header.Get("Content-Type"))
		if encoding == "" {
			encoding = inferEncodingFromName(header.Filename)
		}
		return &audioUpload{
			data:     data,
			encoding: encoding,
			session:  r.FormValue("sessionId"),
			language: r.FormValue("language"),
		}, 0, ""
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBytes))
	if err != nil {
		return nil, http.StatusBadRequest, "failed to read audio body"
	}
	return &audioUpload{
		data:     data,
		encoding: inferEncoding(mediaType),
		session:  r.URL.Query().Get("sessionId"),
		language: r.URL.Query().Get("language"),
	}, 0, ""
}

func (h *Handler) processTranscribe(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	upload, status, message := h.readUpload(r)
	if upload == nil {
		utils.RespondError(w, status, message)
		return
	}
	if len(upload.data) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "Empty audio body.")
		return
	}

	sessionID := overrideSessionID
	if sessionID == "" {
		sessionID = upload.session
	}
	if sessionID == "" {
		sessionID = "default"
	}

	language := upload.language
	if language == "" {
		language = h.language
	}

	encoding := upload.encoding
	if encoding == "" {
		encoding = speech.EncodingLinear16
	}
	if encoding == speech.EncodingWebmOpus {
		utils.RespondError(w, http.StatusUnsupportedMediaType, "WebM audio is not supported; send WAV or Ogg Opus.")
		return
	}

	asrReq := &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(upload.data),
		Encoding:  encoding,
		Language:  language,
	}

	resp, err := h.speechSvc.TranscribeAudio(r.Context(), asrReq)
	if err != nil {
		log.Printf("[speech] ASR error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "speech recognition failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) processSynthesize(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	var req speech.TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if overrideSessionID != "" {
		req.SessionID = overrideSessionID
	}

	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	if req.SessionID == "" {
		req.SessionID = "default"
	}

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &req)
	if err != nil {
		log.Printf("[speech] TTS error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}

	if len(resp.AudioData) == 0 {
		utils.RespondJSON(w, http.StatusOK, resp)
		return
	}

	format := resp.Format
	if format == "" {
		format = "octet-stream"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		log.Printf("[speech] failed to write audio response: %v", err)
	}
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !h.speechSvc.Configured() {
		status = "unconfigured"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"service": "speech",
	})
}

// inferEncoding 从 Content-Type 推断识别编码
func inferEncoding(contentType string) string {
	contentType = strings.ToLower(contentType)
	switch {
	case strings.Contains(contentType, "webm"):
		return speech.EncodingWebmOpus
	case strings.Contains(contentType, "wav"):
		return speech.EncodingLinear16
	case strings.Contains(contentType, "ogg"), strings.Contains(contentType, "opus"):
		return speech.EncodingOggOpus
	default:
		return ""
	}
}

// inferEncodingFromName 从文件名推断识别编码
func inferEncodingFromName(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".webm":
		return speech.EncodingWebmOpus
	case ".wav":
		return speech.EncodingLinear16
	case ".ogg", ".opus":
		return speech.EncodingOggOpus
	default:
		return ""
	}
}
