// Package apierr maps service errors onto HTTP responses.
package apierr

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	historymodel "github.com/verdantsentinel/backend/internal/model/history"
	"github.com/verdantsentinel/backend/internal/service/analysis"
	chatservice "github.com/verdantsentinel/backend/internal/service/chat"
	"github.com/verdantsentinel/backend/internal/service/conversation"
	"github.com/verdantsentinel/backend/internal/service/history"
	"github.com/verdantsentinel/backend/internal/service/input"
	"github.com/verdantsentinel/backend/pkg/utils"
)

// Status returns the status code and client message for err. ok is false
// when err is not a known service error.
func Status(err error) (status int, message string, ok bool) {
	switch {
	case errors.Is(err, input.ErrEmptyInput):
		return http.StatusBadRequest, "message is empty", true
	case errors.Is(err, analysis.ErrInvalidInput), errors.Is(err, historymodel.ErrVariantMismatch):
		return http.StatusBadRequest, err.Error(), true
	case errors.Is(err, chatservice.ErrSessionNotFound):
		return http.StatusNotFound, "session not found", true
	case errors.Is(err, chatservice.ErrMessageNotFound):
		return http.StatusNotFound, "message not found", true
	case errors.Is(err, history.ErrRecordNotFound):
		return http.StatusNotFound, "history record not found", true
	case errors.Is(err, chatservice.ErrTurnInFlight):
		return http.StatusConflict, "a reply is already being generated for this session", true
	case errors.Is(err, input.ErrEmptyTranscription):
		return http.StatusUnprocessableEntity, input.FallbackMessage, true
	case errors.Is(err, input.ErrTranscriptionDisabled):
		return http.StatusServiceUnavailable, "speech recognition is not configured", true
	case errors.Is(err, conversation.ErrTurnCanceled):
		return http.StatusRequestTimeout, "turn canceled", true
	case errors.Is(err, conversation.ErrTranscriptionFailed):
		return http.StatusBadGateway, "could not transcribe the recording", true
	}
	return 0, "", false
}

// Write responds with the mapped error, or 500 for unknown errors.
func Write(w http.ResponseWriter, err error) {
	WriteProvider(w, err, http.StatusInternalServerError, "internal error")
}

// WriteProvider responds with the mapped error, or with status and the
// fixed message for unknown errors. Unknown errors are logged, never echoed.
func WriteProvider(w http.ResponseWriter, err error, status int, message string) {
	if code, msg, ok := Status(err); ok {
		utils.RespondError(w, code, msg)
		return
	}
	log.Error().Err(err).Str("component", "http").Int("status", status).Msg(message)
	utils.RespondError(w, status, message)
}
