package input

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
)

type stubTranscriber struct {
	text string
	err  error
	got  speechmodel.TranscriptionRequest
}

func (s *stubTranscriber) Transcribe(_ context.Context, req speechmodel.TranscriptionRequest) (speechmodel.Transcription, error) {
	s.got = req
	return speechmodel.Transcription{Text: s.text}, s.err
}

func TestFromText(t *testing.T) {
	n := NewNormalizer(nil)

	text, ok := n.FromText("  why are my leaves curling?  ")
	assert.True(t, ok)
	assert.Equal(t, "why are my leaves curling?", text)

	_, ok = n.FromText(" \n\t ")
	assert.False(t, ok)
}

func TestFromAudioEncodesAndTrims(t *testing.T) {
	stub := &stubTranscriber{text: "  water the orchid  "}
	n := NewNormalizer(stub)

	text, err := n.FromAudio(context.Background(), "s1", []byte("OggS\x00\x02fake"), "audio/ogg; codecs=opus", "fr-FR")
	require.NoError(t, err)
	assert.Equal(t, "water the orchid", text)
	assert.True(t, strings.HasPrefix(stub.got.AudioRef, "data:audio/ogg;base64,"), stub.got.AudioRef)
	assert.Equal(t, "fr-FR", stub.got.Language)
	assert.Equal(t, "s1", stub.got.SessionID)
}

func TestFromAudioEmptyTranscription(t *testing.T) {
	n := NewNormalizer(&stubTranscriber{text: "   "})
	_, err := n.FromAudio(context.Background(), "s1", []byte("RIFFxxxxWAVE"), "audio/wav", "")
	assert.ErrorIs(t, err, ErrEmptyTranscription)
}

func TestFromAudioErrors(t *testing.T) {
	_, err := NewNormalizer(&stubTranscriber{}).FromAudio(context.Background(), "s1", nil, "audio/wav", "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = NewNormalizer(nil).FromAudio(context.Background(), "s1", []byte("x"), "audio/wav", "")
	assert.ErrorIs(t, err, ErrTranscriptionDisabled)

	boom := errors.New("asr down")
	_, err = NewNormalizer(&stubTranscriber{err: boom}).FromAudio(context.Background(), "s1", []byte("x"), "audio/wav", "")
	assert.ErrorIs(t, err, boom)
}
