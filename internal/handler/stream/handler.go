package stream

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/verdantsentinel/backend/internal/handler/apierr"
	"github.com/verdantsentinel/backend/internal/service/conversation"
	"github.com/verdantsentinel/backend/pkg/utils"
)

// TurnRunner runs one typed turn and reports its progress to sink.
type TurnRunner interface {
	SendText(ctx context.Context, sessionID, text string, sink conversation.Sink) (conversation.TurnResult, error)
}

// Handler streams a conversation turn as Server-Sent Events.
type Handler struct {
	turns TurnRunner
}

// New creates a new stream handler
func New(turns TurnRunner) *Handler {
	return &Handler{turns: turns}
}

// StreamResponse is the payload of the start, end and error events.
type StreamResponse struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterRoutes mounts GET /stream/{sessionID}?message=.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	message := r.URL.Query().Get("message")
	if strings.TrimSpace(message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, sessionID, message); err != nil {
		log.Warn().Err(err).Str("component", "stream").Str("session", sessionID).Msg("stream turn failed")
	}
}

// HandleStreamRequest runs the turn and keeps the stream open until the
// reply audio is attached or the client goes away. Events arrive in the
// order start, user, reply, audio|notice, end.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, message string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return errors.New("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	utils.SendSSEEvent(w, flusher, "start", StreamResponse{Event: "start", SessionID: sessionID})

	sink := conversation.NewGuardedSink(func(e conversation.Event) {
		utils.SendSSEEvent(w, flusher, string(e.Type), e)
	})
	defer sink.Close()

	result, err := h.turns.SendText(ctx, sessionID, message, sink)
	if err != nil {
		sink.Close()
		_, msg, known := apierr.Status(err)
		if !known {
			msg = "turn failed"
		}
		utils.SendSSEEvent(w, flusher, "error", StreamResponse{Event: "error", SessionID: sessionID, Error: msg})
		return err
	}

	select {
	case <-result.AudioDone:
	case <-ctx.Done():
		return nil
	}

	sink.Close()
	utils.SendSSEEvent(w, flusher, "end", StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		Finished:  true,
		Fallback:  result.Fallback,
	})
	return nil
}
