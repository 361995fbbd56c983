// Package input turns typed text or a recorded clip into one text message.
package input

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
	"github.com/verdantsentinel/backend/pkg/dataref"
)

// FallbackMessage is shown when a clip produced no usable text. It is a
// terminal response and never becomes a conversation turn.
const FallbackMessage = "I'm sorry, I couldn't understand that. Could you please repeat?"

var (
	ErrEmptyInput            = errors.New("input is empty")
	ErrEmptyTranscription    = errors.New("transcription returned no text")
	ErrTranscriptionDisabled = errors.New("speech recognition is not configured")
)

// Transcriber is the speech recognition capability.
type Transcriber interface {
	Transcribe(ctx context.Context, req speechmodel.TranscriptionRequest) (speechmodel.Transcription, error)
}

// Normalizer 统一文本与语音两种输入。
type Normalizer struct {
	transcriber Transcriber
}

// NewNormalizer returns a normalizer; a nil transcriber disables FromAudio.
func NewNormalizer(transcriber Transcriber) *Normalizer {
	return &Normalizer{transcriber: transcriber}
}

// FromText trims text and reports whether anything actionable is left.
func (n *Normalizer) FromText(text string) (string, bool) {
	text = strings.TrimSpace(text)
	return text, text != ""
}

// CanTranscribe reports whether FromAudio is usable.
func (n *Normalizer) CanTranscribe() bool {
	return n != nil && n.transcriber != nil
}

// FromAudio transcribes a recorded clip. mimeType may be empty, in which
// case the container is sniffed from the bytes.
func (n *Normalizer) FromAudio(ctx context.Context, sessionID string, blob []byte, mimeType, language string) (string, error) {
	if len(blob) == 0 {
		return "", ErrEmptyInput
	}
	if !n.CanTranscribe() {
		return "", ErrTranscriptionDisabled
	}

	ref, err := dataref.Encode(mimeType, blob)
	if err != nil {
		return "", fmt.Errorf("encode audio: %w", err)
	}
	return n.FromAudioRef(ctx, sessionID, ref, language)
}

// FromAudioRef transcribes an already encoded data reference.
func (n *Normalizer) FromAudioRef(ctx context.Context, sessionID, audioRef, language string) (string, error) {
	if strings.TrimSpace(audioRef) == "" {
		return "", ErrEmptyInput
	}
	if !n.CanTranscribe() {
		return "", ErrTranscriptionDisabled
	}

	result, err := n.transcriber.Transcribe(ctx, speechmodel.TranscriptionRequest{
		SessionID: sessionID,
		AudioRef:  audioRef,
		Language:  language,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		log.Info().Str("component", "input").Str("session", sessionID).Msg("empty transcription")
		return "", ErrEmptyTranscription
	}
	return text, nil
}
