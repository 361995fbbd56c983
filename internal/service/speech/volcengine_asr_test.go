package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
)

type asrCapture struct {
	request   asrPayload
	resource  string
	audio     []byte
	sequences []int32
}

func TestASRClientTranscribe(t *testing.T) {
	captured := make(chan asrCapture, 1)
	url := fakeProvider(t, func(conn *websocket.Conn, r *http.Request) {
		c := asrCapture{resource: r.Header.Get("X-Api-Resource-Id")}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		f, err := parseFrame(raw)
		if err != nil {
			t.Errorf("parse request: %v", err)
			return
		}
		body, err := f.decodedPayload()
		if err != nil {
			t.Errorf("decompress request: %v", err)
			return
		}
		if err := json.Unmarshal(body, &c.request); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		var audio bytes.Buffer
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				t.Errorf("read audio: %v", err)
				return
			}
			f, err := parseFrame(raw)
			if err != nil {
				t.Errorf("parse audio: %v", err)
				return
			}
			chunk, err := f.decodedPayload()
			if err != nil {
				t.Errorf("decompress audio: %v", err)
				return
			}
			audio.Write(chunk)
			c.sequences = append(c.sequences, f.sequence)
			if f.isLast() {
				break
			}
		}
		c.audio = audio.Bytes()
		captured <- c

		result, _ := compressPayload([]byte(`{"code":0,"result":{"text":" Water the basil weekly. "},"audio_info":{"duration":2100}}`), compressGzip)
		writeFrame(t, conn, &frame{kind: frameFullServer, flags: flagNegativeSeq, sequence: -3, serial: serialJSON, compress: compressGzip, payload: result})
	})

	client := newASRClient(testSpeechConfig())
	client.endpoint = url

	audio := bytes.Repeat([]byte{0x01}, asrChunkSize+600)
	resp, err := client.transcribe(context.Background(), &speechmodel.ASRRequest{
		SessionID: "s1",
		AudioData: bytes.NewReader(audio),
		Format:    "webm",
	})
	if err != nil {
		t.Fatalf("transcribe err: %v", err)
	}
	if resp.Text != "Water the basil weekly." || resp.Duration != 2100 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	c := <-captured
	if c.resource != "volc.bigasr.sauc.duration" {
		t.Fatalf("unexpected resource %q", c.resource)
	}
	if c.request.Audio.Codec != "opus" || c.request.Audio.Language != "en-US" || c.request.Request.ModelName != "bigmodel" {
		t.Fatalf("unexpected request payload: %+v", c.request)
	}
	if !bytes.Equal(c.audio, audio) {
		t.Fatalf("server received %d bytes, want %d", len(c.audio), len(audio))
	}
	if len(c.sequences) != 2 || c.sequences[0] != 2 || c.sequences[1] != -3 {
		t.Fatalf("unexpected sequences %v", c.sequences)
	}
}

func TestASRClientConcurrentResource(t *testing.T) {
	resources := make(chan string, 1)
	url := fakeProvider(t, func(conn *websocket.Conn, r *http.Request) {
		resources <- r.Header.Get("X-Api-Resource-Id")
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if f, err := parseFrame(raw); err == nil && f.kind == frameAudioOnly && f.isLast() {
				break
			}
		}
		writeFrame(t, conn, &frame{kind: frameFullServer, flags: flagLastNoSeq, serial: serialJSON, payload: []byte(`{"code":20000000,"result":{"utterances":[{"text":"hello"},{"text":"plant"}]}}`)})
	})

	cfg := testSpeechConfig()
	cfg.ConcurrentMode = true
	client := newASRClient(cfg)
	client.endpoint = url

	resp, err := client.transcribe(context.Background(), &speechmodel.ASRRequest{AudioData: bytes.NewReader([]byte("pcm"))})
	if err != nil {
		t.Fatalf("transcribe err: %v", err)
	}
	if resp.Text != "hello plant" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if got := <-resources; got != "volc.bigasr.sauc.concurrent" {
		t.Fatalf("unexpected resource %q", got)
	}
}

func TestASRClientProviderError(t *testing.T) {
	url := fakeProvider(t, func(conn *websocket.Conn, r *http.Request) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		writeFrame(t, conn, &frame{kind: frameError, errorCode: 45000081, payload: []byte("invalid audio")})
	})

	client := newASRClient(testSpeechConfig())
	client.endpoint = url

	_, err := client.transcribe(context.Background(), &speechmodel.ASRRequest{AudioData: bytes.NewReader([]byte("junk"))})
	if err == nil || !strings.Contains(err.Error(), "invalid audio") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestASRClientRejectsEmptyAudio(t *testing.T) {
	client := newASRClient(testSpeechConfig())
	if _, err := client.transcribe(context.Background(), &speechmodel.ASRRequest{}); err != ErrNoAudio {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
	if _, err := client.transcribe(context.Background(), &speechmodel.ASRRequest{AudioData: bytes.NewReader(nil)}); err != ErrNoAudio {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
}

func TestServiceTranscribeRejectsNonAudio(t *testing.T) {
	svc := NewService(testSpeechConfig())
	_, err := svc.Transcribe(context.Background(), speechmodel.TranscriptionRequest{AudioRef: "data:image/png;base64,iVBORw0KGgo="})
	if err == nil {
		t.Fatal("expected unsupported audio type error")
	}
	if _, err := svc.Transcribe(context.Background(), speechmodel.TranscriptionRequest{AudioRef: "not-a-data-ref"}); err == nil {
		t.Fatal("expected decode error")
	}
}
