package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/verdantsentinel/backend/internal/model/locale"
	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
	chatservice "github.com/verdantsentinel/backend/internal/service/chat"
	speechsvc "github.com/verdantsentinel/backend/internal/service/speech"
)

type fakeSpeechService struct {
	transcribeSession  string
	transcribeLanguage string
	transcribeFormat   string
	synthSession       string
	synthVoice         string
	synthLanguage      string
	audio              []byte
	err                error
}

func (f *fakeSpeechService) TranscribeAudio(_ context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	f.transcribeSession = req.SessionID
	f.transcribeLanguage = req.Language
	f.transcribeFormat = req.Format
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.ASRResponse{SessionID: req.SessionID, Text: "ok"}, nil
}

func (f *fakeSpeechService) SynthesizeSpeech(_ context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.synthSession = req.SessionID
	f.synthVoice = req.Voice
	f.synthLanguage = req.Language
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.TTSResponse{SessionID: req.SessionID, AudioData: f.audio, Format: "mp3"}, nil
}

func transcribeRequest(t *testing.T, path string, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", "sample.webm")
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("audio")); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestProcessTranscribeOverridesSession(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	handler := New(fakeSvc, nil, nil)

	rr := httptest.NewRecorder()
	handler.processTranscribe(rr, transcribeRequest(t, "/speech/transcribe/test", map[string]string{"sessionId": "ignored"}), "session-override")

	if fakeSvc.transcribeSession != "session-override" {
		t.Fatalf("expected override session, got %s", fakeSvc.transcribeSession)
	}
	if fakeSvc.transcribeFormat != "webm" {
		t.Fatalf("expected webm from the file extension, got %s", fakeSvc.transcribeFormat)
	}
	if fakeSvc.transcribeLanguage != locale.DefaultCode {
		t.Fatalf("expected default language, got %s", fakeSvc.transcribeLanguage)
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}

func TestProcessTranscribeUsesSessionLanguage(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	chatSvc, err := chatservice.NewService(4)
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	session, _ := chatSvc.CreateSession(context.Background(), "ja-JP")
	handler := New(fakeSvc, chatSvc, locale.NewMemoryStore(locale.Seed()))

	rr := httptest.NewRecorder()
	handler.processTranscribe(rr, transcribeRequest(t, "/speech/transcribe", map[string]string{"sessionId": session.ID}), "")
	if fakeSvc.transcribeLanguage != "ja-JP" {
		t.Fatalf("expected ja-JP, got %s", fakeSvc.transcribeLanguage)
	}

	handler.processTranscribe(httptest.NewRecorder(), transcribeRequest(t, "/speech/transcribe", map[string]string{"sessionId": session.ID, "language": "fr-FR"}), "")
	if fakeSvc.transcribeLanguage != "fr-FR" {
		t.Fatalf("expected explicit language to win, got %s", fakeSvc.transcribeLanguage)
	}
}

func TestProcessSynthesizeUsesSessionVoice(t *testing.T) {
	fakeSvc := &fakeSpeechService{audio: []byte("ID3")}
	chatSvc, err := chatservice.NewService(4)
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	session, err := chatSvc.CreateSession(context.Background(), "es-ES")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	handler := New(fakeSvc, chatSvc, locale.NewMemoryStore(locale.Seed()))

	buf, _ := json.Marshal(map[string]any{"text": "hola"})
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize/test", bytes.NewReader(buf))
	rr := httptest.NewRecorder()

	handler.processSynthesize(rr, req, session.ID)

	if fakeSvc.synthSession != session.ID {
		t.Fatalf("expected override session, got %s", fakeSvc.synthSession)
	}
	if fakeSvc.synthVoice != "multi_female_maomao_conversation_wvae_bigtts" {
		t.Fatalf("unexpected voice %s", fakeSvc.synthVoice)
	}
	if fakeSvc.synthLanguage != "es-ES" {
		t.Fatalf("expected es-ES, got %s", fakeSvc.synthLanguage)
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg, got %s", ct)
	}
	if rr.Body.String() != "ID3" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestProcessSynthesizeVoiceAlias(t *testing.T) {
	fakeSvc := &fakeSpeechService{audio: []byte("ID3")}
	handler := New(fakeSvc, nil, nil)

	buf, _ := json.Marshal(map[string]any{"text": "hello", "voice": "verdant"})
	handler.processSynthesize(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader(buf)), "")

	if want := speechsvc.NormalizeVoiceAlias("verdant"); fakeSvc.synthVoice != want {
		t.Fatalf("expected voice %s, got %s", want, fakeSvc.synthVoice)
	}
}

func TestProcessSynthesizeJSON(t *testing.T) {
	fakeSvc := &fakeSpeechService{audio: []byte("ID3")}
	handler := New(fakeSvc, nil, nil)

	buf, _ := json.Marshal(map[string]any{"text": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader(buf))
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	handler.processSynthesize(rr, req, "")

	var out speechmodel.Synthesis
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.AudioRef != "data:audio/mpeg;base64,SUQz" {
		t.Fatalf("unexpected audio ref %q", out.AudioRef)
	}
}

func TestProcessSynthesizeErrors(t *testing.T) {
	handler := New(&fakeSpeechService{}, nil, nil)

	buf, _ := json.Marshal(map[string]any{"text": "  "})
	rr := httptest.NewRecorder()
	handler.processSynthesize(rr, httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader(buf)), "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", rr.Code)
	}

	handler = New(&fakeSpeechService{err: speechsvc.ErrMissingCredentials}, nil, nil)
	buf, _ = json.Marshal(map[string]any{"text": "hello"})
	rr = httptest.NewRecorder()
	handler.processSynthesize(rr, httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader(buf)), "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without credentials, got %d", rr.Code)
	}
}

func TestRoutesWithoutSpeechService(t *testing.T) {
	handler := New(nil, nil, nil)
	r := chi.NewRouter()
	handler.RegisterRoutes(r, nil)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/speech/ws/abc", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 status, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/speech/synthesize", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 status, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/speech/health", nil))
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"disabled"`)) {
		t.Fatalf("expected disabled health, got %s", rr.Body.String())
	}
}

func TestInferAudioFormat(t *testing.T) {
	cases := map[[2]string]string{
		{"audio/webm;codecs=opus", "clip.bin"}: "webm",
		{"", "clip.mp3"}:                       "mp3",
		{"application/octet-stream", "a.ogg"}:  "ogg",
		{"", "clip"}:                           "wav",
	}
	for in, want := range cases {
		if got := inferAudioFormat(in[0], in[1]); got != want {
			t.Fatalf("inferAudioFormat(%q, %q) = %s, want %s", in[0], in[1], got, want)
		}
	}
}
