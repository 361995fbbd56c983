package speech

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/verdantsentinel/backend/internal/model/locale"
	"github.com/verdantsentinel/backend/internal/model/speech"
	chatservice "github.com/verdantsentinel/backend/internal/service/chat"
	speechsvc "github.com/verdantsentinel/backend/internal/service/speech"
	"github.com/verdantsentinel/backend/pkg/dataref"
	"github.com/verdantsentinel/backend/pkg/utils"
)

const maxUpload = 32 << 20

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	sessions  *chatservice.Service
	languages locale.Store
}

// New 创建语音处理器. sessions and languages may be nil; they only pick
// the default language and voice for session-scoped requests.
func New(speechSvc SpeechService, sessions *chatservice.Service, languages locale.Store) *Handler {
	return &Handler{speechSvc: speechSvc, sessions: sessions, languages: languages}
}

// RegisterRoutes 注册语音相关的路由. live may be nil when the turn
// pipeline is unavailable.
func (h *Handler) RegisterRoutes(r chi.Router, live *WebSocketHandler) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Get("/health", h.handleHealth)

		if h.speechSvc != nil {
			speechRouter.Post("/transcribe", h.handleTranscribe)
			speechRouter.Post("/transcribe/{sessionID}", h.handleTranscribeWithSession)
			speechRouter.Post("/synthesize", h.handleSynthesize)
			speechRouter.Post("/synthesize/{sessionID}", h.handleSynthesizeWithSession)
		} else {
			unavailable := func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "speech service is not configured")
			}
			speechRouter.Post("/transcribe", unavailable)
			speechRouter.Post("/transcribe/{sessionID}", unavailable)
			speechRouter.Post("/synthesize", unavailable)
			speechRouter.Post("/synthesize/{sessionID}", unavailable)
		}

		if live != nil {
			live.RegisterWebSocketRoutes(speechRouter)
		} else {
			speechRouter.Get("/ws/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusNotImplemented, "speech websocket not available")
			})
		}
	})
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	h.processTranscribe(w, r, "")
}

func (h *Handler) handleTranscribeWithSession(w http.ResponseWriter, r *http.Request) {
	h.processTranscribe(w, r, chi.URLParam(r, "sessionID"))
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, "")
}

func (h *Handler) handleSynthesizeWithSession(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, chi.URLParam(r, "sessionID"))
}

func (h *Handler) processTranscribe(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	sessionID := overrideSessionID
	if sessionID == "" {
		sessionID = r.FormValue("sessionId")
	}
	if sessionID == "" {
		sessionID = "default"
	}

	language := r.FormValue("language")
	if language == "" {
		language = h.sessionLanguage(r.Context(), sessionID).Code
	}

	format := inferAudioFormat(header.Header.Get("Content-Type"), header.Filename)
	resp, err := h.speechSvc.TranscribeAudio(r.Context(), &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    format,
		Language:  language,
	})
	if err != nil {
		h.respondProviderError(w, err, "speech recognition failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

// processSynthesize returns raw audio bytes, or a data reference when the
// client asks for JSON.
func (h *Handler) processSynthesize(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	var req speech.TTSRequest
	if err := utils.DecodeJSON(w, r, 0, &req); err != nil {
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

	lang := h.sessionLanguage(r.Context(), req.SessionID)
	if req.Language == "" {
		req.Language = lang.Code
	} else if h.languages != nil {
		lang = h.languages.Resolve(req.Language)
	}
	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = lang.VoiceID
	}
	req.Voice = speechsvc.NormalizeVoiceAlias(req.Voice)

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &req)
	if err != nil {
		h.respondProviderError(w, err, "speech synthesis failed")
		return
	}

	format := resp.Format
	if format == "" {
		format = "mp3"
	}
	contentType := "audio/" + format
	if format == "mp3" {
		contentType = "audio/mpeg"
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") || len(resp.AudioData) == 0 {
		out := speech.Synthesis{Format: format, Duration: resp.Duration}
		if len(resp.AudioData) > 0 {
			out.AudioRef, _ = dataref.Encode(contentType, resp.AudioData)
		}
		utils.RespondJSON(w, http.StatusOK, out)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		log.Debug().Err(err).Str("component", "speech").Msg("failed to write audio response")
	}
}

func (h *Handler) respondProviderError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, speechsvc.ErrEmptyText), errors.Is(err, speechsvc.ErrNoAudio):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, speechsvc.ErrMissingCredentials):
		utils.RespondError(w, http.StatusServiceUnavailable, "speech service is not configured")
	default:
		log.Error().Err(err).Str("component", "speech").Msg(message)
		utils.RespondError(w, http.StatusBadGateway, message)
	}
}

// sessionLanguage returns the session's language, or the default one.
func (h *Handler) sessionLanguage(ctx context.Context, sessionID string) locale.Language {
	code := locale.DefaultCode
	if h.sessions != nil {
		if session, err := h.sessions.GetSession(ctx, sessionID); err == nil {
			code = session.Language
		}
	}
	if h.languages == nil {
		return locale.Language{Code: code}
	}
	return h.languages.Resolve(code)
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if h.speechSvc == nil {
		status = "disabled"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"service": "speech",
		"asr":     h.speechSvc != nil,
		"tts":     h.speechSvc != nil,
	})
}

// inferAudioFormat 优先使用上传的 MIME 类型，其次是文件扩展名
func inferAudioFormat(mimeType, filename string) string {
	if mimeType != "" && dataref.IsAudio(mimeType) {
		return dataref.AudioFormat(mimeType)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3":
		return "mp3"
	case ".webm":
		return "webm"
	case ".ogg", ".opus":
		return "ogg"
	case ".m4a", ".mp4":
		return "m4a"
	case ".aac":
		return "aac"
	case ".pcm":
		return "pcm"
	default:
		return "wav"
	}
}
