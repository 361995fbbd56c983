package speech

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/verdantsentinel/backend/internal/model/locale"
	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
	"github.com/verdantsentinel/backend/pkg/dataref"
)

type fakeSynth struct {
	got  *speechmodel.TTSRequest
	resp *speechmodel.TTSResponse
	err  error
}

func (f *fakeSynth) SynthesizeSpeech(_ context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.got = req
	return f.resp, f.err
}

func TestRendererSynthesizeEncodesDataRef(t *testing.T) {
	synth := &fakeSynth{resp: &speechmodel.TTSResponse{AudioData: []byte("ID3audio"), Format: "mp3", Duration: 900}}
	r := NewRenderer(synth, locale.NewMemoryStore(locale.Seed()), "en_female_amy_jupiter_bigtts")

	out, err := r.Synthesize(context.Background(), speechmodel.SynthesisRequest{
		SessionID: "s1",
		Text:      "Great news, your monstera looks healthy and thriving!",
		Language:  "en-US",
	})
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if !strings.HasPrefix(out.AudioRef, "data:audio/mpeg;base64,") {
		t.Fatalf("unexpected audio ref %q", out.AudioRef)
	}
	ref, err := dataref.Decode(out.AudioRef)
	if err != nil || string(ref.Data) != "ID3audio" {
		t.Fatalf("decode audio ref: %v %q", err, ref.Data)
	}
	if out.Duration != 900 {
		t.Fatalf("unexpected duration %d", out.Duration)
	}

	if synth.got.Voice != "en_female_skye_emo_v2_mars_bigtts" {
		t.Fatalf("expected en-US language voice, got %q", synth.got.Voice)
	}
	if synth.got.Emotion != "happy" || synth.got.EmotionScale < 1 {
		t.Fatalf("expected happy emotion, got %q %v", synth.got.Emotion, synth.got.EmotionScale)
	}
}

func TestRendererFallsBackToDefaultVoice(t *testing.T) {
	synth := &fakeSynth{resp: &speechmodel.TTSResponse{AudioData: []byte("x"), Format: "mp3"}}
	r := NewRenderer(synth, locale.NewMemoryStore(locale.Seed()), "en_female_amy_jupiter_bigtts")

	if _, err := r.Synthesize(context.Background(), speechmodel.SynthesisRequest{Text: "Guten Tag", Language: "de-DE"}); err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if synth.got.Voice != "en_female_amy_jupiter_bigtts" || synth.got.Language != "de-DE" {
		t.Fatalf("unexpected request %+v", synth.got)
	}
	if synth.got.Emotion != "" {
		t.Fatalf("non-emotional voice should not carry emotion, got %q", synth.got.Emotion)
	}
}

func TestRendererErrors(t *testing.T) {
	r := NewRenderer(&fakeSynth{}, nil, "v")
	if _, err := r.Synthesize(context.Background(), speechmodel.SynthesisRequest{Text: " "}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}

	r = NewRenderer(&fakeSynth{resp: &speechmodel.TTSResponse{}}, nil, "v")
	if _, err := r.Synthesize(context.Background(), speechmodel.SynthesisRequest{Text: "hi"}); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}

	boom := errors.New("provider down")
	r = NewRenderer(&fakeSynth{err: boom}, nil, "v")
	if _, err := r.Synthesize(context.Background(), speechmodel.SynthesisRequest{Text: "hi"}); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}
