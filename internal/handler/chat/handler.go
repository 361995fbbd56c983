package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/verdantsentinel/backend/internal/handler/apierr"
	"github.com/verdantsentinel/backend/internal/model/chat"
	"github.com/verdantsentinel/backend/internal/model/locale"
	chatservice "github.com/verdantsentinel/backend/internal/service/chat"
	"github.com/verdantsentinel/backend/internal/service/conversation"
	"github.com/verdantsentinel/backend/pkg/utils"
)

// maxVoiceUpload caps recorded clips sent to the voice endpoint.
const maxVoiceUpload = 16 << 20

// Handler 聊天服务的HTTP处理器
type Handler struct {
	sessions  *chatservice.Service
	turns     *conversation.Service
	languages locale.Store
}

// New 创建聊天处理器
func New(sessions *chatservice.Service, turns *conversation.Service, languages locale.Store) *Handler {
	return &Handler{sessions: sessions, turns: turns, languages: languages}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Delete("/", h.handleDeleteSession)
			r.Put("/language", h.handleSetLanguage)
			r.Get("/messages", h.handleListMessages)
			r.Post("/messages", h.handleSendMessage)
			r.Post("/voice", h.handleSendVoice)
			r.Post("/messages/{messageID}/playback", h.handlePlayback)
			r.Post("/messages/{messageID}/speak", h.handleSpeak)
		})
	})
}

type sessionView struct {
	chat.Session
	Messages []chat.Message `json:"messages"`
}

type turnView struct {
	conversation.TurnResult
	// AudioPending is true when speech is still rendering; poll the
	// messages endpoint or use the stream to pick it up.
	AudioPending bool `json:"audioPending"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(w, r, 0, &payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.sessions.CreateSession(r.Context(), h.resolveLanguage(payload.Language))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	messages, err := h.sessions.Messages(r.Context(), sessionID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessionView{Session: session, Messages: messages})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")) {
		apierr.Write(w, chatservice.ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(w, r, 0, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Language) == "" {
		utils.RespondError(w, http.StatusBadRequest, "language is required")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := h.sessions.SetLanguage(r.Context(), sessionID, h.resolveLanguage(payload.Language)); err != nil {
		apierr.Write(w, err)
		return
	}
	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.sessions.Messages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleSendMessage runs a typed turn. With ?waitAudio=true the response is
// held until speech rendering finished.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := utils.DecodeJSON(w, r, 0, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.turns.SendText(r.Context(), chi.URLParam(r, "sessionID"), payload.Content, nil)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.view(r, result))
}

// handleSendVoice runs a voice turn from a multipart "audio" upload.
func (h *Handler) handleSendVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVoiceUpload)
	if err := r.ParseMultipartForm(maxVoiceUpload); err != nil {
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

	blob, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	result, err := h.turns.SendAudio(r.Context(), chi.URLParam(r, "sessionID"), blob, header.Header.Get("Content-Type"), nil)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if result.Fallback && result.FallbackMessage != "" {
		// the clip produced no text; nothing was added to the session
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"fallback": true,
			"message":  result.FallbackMessage,
		})
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.view(r, result))
}

// handlePlayback accepts either an audio element event or a raw patch:
//
//	{"event":"timeupdate","progress":42}
//	{"isPlaying":false}
func (h *Handler) handlePlayback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Event    string   `json:"event"`
		Progress float64  `json:"progress"`
		Playing  *bool    `json:"isPlaying"`
		Patch    *float64 `json:"playbackProgress"`
	}
	if err := utils.DecodeJSON(w, r, 0, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	messageID := chi.URLParam(r, "messageID")
	if _, err := h.messageInSession(r.Context(), chi.URLParam(r, "sessionID"), messageID); err != nil {
		apierr.Write(w, err)
		return
	}

	var changed []chat.Message
	if payload.Event != "" {
		event, err := chat.ParsePlaybackEvent(payload.Event)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		changed = h.sessions.HandlePlaybackEvent(r.Context(), messageID, event, payload.Progress)
	} else {
		changed = h.sessions.UpdatePlaybackState(r.Context(), messageID, chat.PlaybackPatch{
			IsPlaying: payload.Playing,
			Progress:  payload.Patch,
		})
	}
	if changed == nil {
		changed = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, changed)
}

// handleSpeak renders a model message again, e.g. after a failed render.
func (h *Handler) handleSpeak(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	if _, err := h.messageInSession(r.Context(), chi.URLParam(r, "sessionID"), messageID); err != nil {
		apierr.Write(w, err)
		return
	}

	done, err := h.turns.Speak(r.Context(), messageID, nil)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	select {
	case <-done:
	case <-r.Context().Done():
		return
	}

	msg, ok := h.sessions.Message(r.Context(), messageID)
	if !ok {
		apierr.Write(w, chatservice.ErrMessageNotFound)
		return
	}
	if !msg.HasAudio() {
		utils.RespondError(w, http.StatusBadGateway, conversation.AudioFailureNotice)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}

func (h *Handler) view(r *http.Request, result conversation.TurnResult) turnView {
	if r.URL.Query().Get("waitAudio") == "true" && result.AudioDone != nil {
		select {
		case <-result.AudioDone:
		case <-r.Context().Done():
		}
		if msg, ok := h.sessions.Message(r.Context(), result.Reply.ID); ok {
			result.Reply = msg
		}
	}

	pending := false
	if result.AudioDone != nil {
		select {
		case <-result.AudioDone:
		default:
			pending = true
		}
	}
	return turnView{TurnResult: result, AudioPending: pending}
}

func (h *Handler) messageInSession(ctx context.Context, sessionID, messageID string) (chat.Message, error) {
	msg, ok := h.sessions.Message(ctx, messageID)
	if !ok || msg.SessionID != sessionID {
		return chat.Message{}, chatservice.ErrMessageNotFound
	}
	return msg, nil
}

func (h *Handler) resolveLanguage(code string) string {
	if h.languages == nil {
		return strings.TrimSpace(code)
	}
	return h.languages.Resolve(code).Code
}
