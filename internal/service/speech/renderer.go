package speech

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/verdantsentinel/backend/internal/analysis/tone"
	"github.com/verdantsentinel/backend/internal/model/locale"
	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
	"github.com/verdantsentinel/backend/pkg/dataref"
)

// Synthesizer is the TTS capability the renderer drives.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// VoiceResolver maps a language code to its configured voice.
type VoiceResolver interface {
	Resolve(code string) locale.Language
}

// Renderer turns reply text into an audio data reference.
type Renderer struct {
	synth        Synthesizer
	voices       VoiceResolver
	defaultVoice string
}

// NewRenderer wires a renderer. voices may be nil, in which case the
// default voice is always used.
func NewRenderer(synth Synthesizer, voices VoiceResolver, defaultVoice string) *Renderer {
	return &Renderer{synth: synth, voices: voices, defaultVoice: defaultVoice}
}

// Synthesize renders req.Text and returns it as a data reference.
func (r *Renderer) Synthesize(ctx context.Context, req speechmodel.SynthesisRequest) (speechmodel.Synthesis, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return speechmodel.Synthesis{}, ErrEmptyText
	}

	ttsReq := &speechmodel.TTSRequest{
		SessionID: req.SessionID,
		Text:      text,
		Voice:     r.defaultVoice,
		Language:  req.Language,
	}
	if r.voices != nil {
		lang := r.voices.Resolve(req.Language)
		ttsReq.Language = lang.Code
		if lang.VoiceID != "" {
			ttsReq.Voice = lang.VoiceID
		}
	}

	decision := tone.Analyze(req.UserText, text)
	if label, scale, ok := emotionParameters(NormalizeVoiceAlias(ttsReq.Voice), decision); ok {
		ttsReq.Emotion = label
		ttsReq.EmotionScale = scale
	}

	resp, err := r.synth.SynthesizeSpeech(ctx, ttsReq)
	if err != nil {
		return speechmodel.Synthesis{}, err
	}
	if resp == nil || len(resp.AudioData) == 0 {
		return speechmodel.Synthesis{}, ErrEmptyAudio
	}

	ref, err := dataref.Encode(audioMIME(resp.Format), resp.AudioData)
	if err != nil {
		return speechmodel.Synthesis{}, fmt.Errorf("encode audio: %w", err)
	}

	log.Debug().
		Str("session", req.SessionID).
		Str("voice", ttsReq.Voice).
		Str("emotion", ttsReq.Emotion).
		Int("bytes", len(resp.AudioData)).
		Msg("reply rendered to speech")

	return speechmodel.Synthesis{AudioRef: ref, Format: resp.Format, Duration: resp.Duration}, nil
}

func audioMIME(format string) string {
	switch strings.ToLower(format) {
	case "mp3", "":
		return "audio/mpeg"
	case "ogg_opus", "ogg":
		return "audio/ogg"
	case "pcm":
		return "audio/pcm"
	case "wav":
		return "audio/wav"
	default:
		return "audio/" + strings.ToLower(format)
	}
}
