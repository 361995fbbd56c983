package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/verdantsentinel/backend/internal/model/chat"
	"github.com/verdantsentinel/backend/internal/model/locale"
	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
	"github.com/verdantsentinel/backend/internal/service/ai"
	chatservice "github.com/verdantsentinel/backend/internal/service/chat"
	"github.com/verdantsentinel/backend/internal/service/conversation"
	"github.com/verdantsentinel/backend/internal/service/input"
)

type echoResponder struct{}

func (echoResponder) Respond(_ context.Context, req ai.Request) ai.Response {
	return ai.Response{Response: "You said: " + req.Message}
}

type fakeRenderer struct{}

func (fakeRenderer) Synthesize(context.Context, speechmodel.SynthesisRequest) (speechmodel.Synthesis, error) {
	return speechmodel.Synthesis{AudioRef: "data:audio/mpeg;base64,SUQz", Format: "mp3"}, nil
}

type stubTranscriber struct{ text string }

func (s stubTranscriber) Transcribe(context.Context, speechmodel.TranscriptionRequest) (speechmodel.Transcription, error) {
	return speechmodel.Transcription{Text: s.text}, nil
}

func setupRouter(t *testing.T, transcript string) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	sessions, err := chatservice.NewService(16)
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	turns := conversation.NewService(sessions, input.NewNormalizer(stubTranscriber{text: transcript}), echoResponder{}, fakeRenderer{}, conversation.Options{SpeakReplies: true})
	handler := New(sessions, turns, locale.NewMemoryStore(locale.Seed()))

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, sessions
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createSession(t *testing.T, r http.Handler, language string) chat.Session {
	t.Helper()
	resp := doJSON(r, http.MethodPost, "/sessions/", map[string]string{"language": language})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var session chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session
}

func TestCreateSessionResolvesLanguage(t *testing.T) {
	r, _ := setupRouter(t, "")

	if got := createSession(t, r, "es").Language; got != "es-ES" {
		t.Fatalf("expected es-ES, got %s", got)
	}
	if got := createSession(t, r, "xx-YY").Language; got != locale.DefaultCode {
		t.Fatalf("expected default language, got %s", got)
	}
}

func TestCreateSessionWithoutBody(t *testing.T) {
	r, _ := setupRouter(t, "")
	req := httptest.NewRequest(http.MethodPost, "/sessions/", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := setupRouter(t, "")
	resp := doJSON(r, http.MethodGet, "/sessions/missing/", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSendMessageWaitsForAudio(t *testing.T) {
	r, _ := setupRouter(t, "")
	session := createSession(t, r, "en-US")

	resp := doJSON(r, http.MethodPost, "/sessions/"+session.ID+"/messages?waitAudio=true", map[string]string{"content": "hello"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var view struct {
		User         chat.Message `json:"user"`
		Reply        chat.Message `json:"reply"`
		AudioPending bool         `json:"audioPending"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Reply.Content != "You said: hello" {
		t.Fatalf("unexpected reply %q", view.Reply.Content)
	}
	if view.AudioPending || view.Reply.AudioRef == "" {
		t.Fatalf("expected audio attached, got pending=%v ref=%q", view.AudioPending, view.Reply.AudioRef)
	}

	list := doJSON(r, http.MethodGet, "/sessions/"+session.ID+"/messages", nil)
	var messages []chat.Message
	_ = json.Unmarshal(list.Body.Bytes(), &messages)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
}

func TestSendEmptyMessage(t *testing.T) {
	r, _ := setupRouter(t, "")
	session := createSession(t, r, "en-US")

	resp := doJSON(r, http.MethodPost, "/sessions/"+session.ID+"/messages", map[string]string{"content": "   "})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func voiceRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="clip.webm"`)
	header.Set("Content-Type", "audio/webm")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write([]byte{0x1a, 0x45, 0xdf, 0xa3, 0x01, 0x02})
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSendVoiceTurn(t *testing.T) {
	r, _ := setupRouter(t, "my basil is wilting")
	session := createSession(t, r, "en-US")

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, voiceRequest(t, "/sessions/"+session.ID+"/voice"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("You said: my basil is wilting")) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestSendVoiceEmptyTranscription(t *testing.T) {
	r, sessions := setupRouter(t, "")
	session := createSession(t, r, "en-US")

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, voiceRequest(t, "/sessions/"+session.ID+"/voice"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(`"fallback":true`)) {
		t.Fatalf("expected fallback body, got %s", resp.Body.String())
	}

	messages, _ := sessions.Messages(context.Background(), session.ID)
	if len(messages) != 0 {
		t.Fatalf("expected no messages after fallback, got %d", len(messages))
	}
}

func TestPlaybackEvents(t *testing.T) {
	r, sessions := setupRouter(t, "")
	session := createSession(t, r, "en-US")
	ctx := context.Background()

	first, _ := sessions.AppendModelMessage(ctx, session.ID, "one")
	second, _ := sessions.AppendModelMessage(ctx, session.ID, "two")
	sessions.AttachAudio(ctx, first.ID, "data:audio/mpeg;base64,SUQz")
	sessions.AttachAudio(ctx, second.ID, "data:audio/mpeg;base64,SUQz")

	base := "/sessions/" + session.ID + "/messages/"
	if resp := doJSON(r, http.MethodPost, base+first.ID+"/playback", map[string]any{"event": "play"}); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp := doJSON(r, http.MethodPost, base+second.ID+"/playback", map[string]any{"event": "play"})
	var changed []chat.Message
	_ = json.Unmarshal(resp.Body.Bytes(), &changed)
	if len(changed) != 2 || changed[0].ID != first.ID || changed[0].IsPlaying {
		t.Fatalf("expected first message stopped, got %+v", changed)
	}

	if resp := doJSON(r, http.MethodPost, base+second.ID+"/playback", map[string]any{"event": "rewind"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown event, got %d", resp.Code)
	}

	other := createSession(t, r, "en-US")
	if resp := doJSON(r, http.MethodPost, "/sessions/"+other.ID+"/messages/"+first.ID+"/playback", map[string]any{"event": "pause"}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign message, got %d", resp.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	r, _ := setupRouter(t, "")
	session := createSession(t, r, "en-US")

	if resp := doJSON(r, http.MethodDelete, "/sessions/"+session.ID+"/", nil); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp := doJSON(r, http.MethodDelete, "/sessions/"+session.ID+"/", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
