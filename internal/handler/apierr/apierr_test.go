package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	chatservice "github.com/verdantsentinel/backend/internal/service/chat"
	"github.com/verdantsentinel/backend/internal/service/conversation"
	"github.com/verdantsentinel/backend/internal/service/input"
)

func TestStatusMapsWrappedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("turn: %w", chatservice.ErrTurnInFlight), http.StatusConflict},
		{chatservice.ErrSessionNotFound, http.StatusNotFound},
		{input.ErrEmptyInput, http.StatusBadRequest},
		{input.ErrEmptyTranscription, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: %w", conversation.ErrTranscriptionFailed, input.ErrTranscriptionDisabled), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", conversation.ErrTranscriptionFailed, errors.New("asr down")), http.StatusBadGateway},
		{conversation.ErrTurnCanceled, http.StatusRequestTimeout},
	}
	for _, tc := range cases {
		got, _, ok := Status(tc.err)
		if !ok || got != tc.want {
			t.Fatalf("Status(%v) = %d, %v; want %d", tc.err, got, ok, tc.want)
		}
	}
}

func TestWriteProviderHidesUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteProvider(rec, errors.New("upstream said: secret detail"), http.StatusBadGateway, "analysis failed")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "{\"error\":\"analysis failed\"}\n" {
		t.Fatalf("unexpected body %q", body)
	}
}
