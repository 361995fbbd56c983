package speech

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/verdantsentinel/backend/internal/metrics"
	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
	"github.com/verdantsentinel/backend/pkg/dataref"
)

// Service 语音服务核心业务逻辑
type Service struct {
	config *speechmodel.SpeechConfig
	tts    *ttsClient
	asr    *asrClient
}

// NewService 创建语音服务实例
func NewService(cfg *speechmodel.SpeechConfig) *Service {
	return &Service{
		config: cfg,
		tts:    newTTSClient(cfg),
		asr:    newASRClient(cfg),
	}
}

// TranscribeAudio 语音转文字
func (s *Service) TranscribeAudio(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout())
	defer cancel()

	start := time.Now()
	resp, err := s.asr.transcribe(ctx, req)
	metrics.ObserveProvider("asr", start, err)
	return resp, err
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout())
	defer cancel()

	start := time.Now()
	resp, err := s.tts.synthesize(ctx, req)
	metrics.ObserveProvider("tts", start, err)
	return resp, err
}

// TranscribeBuffer 语音转文字（使用字节数组）
func (s *Service) TranscribeBuffer(ctx context.Context, sessionID string, audio []byte, format, language string) (*speechmodel.ASRResponse, error) {
	return s.TranscribeAudio(ctx, &speechmodel.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(audio),
		Format:    format,
		Language:  language,
	})
}

// Transcribe recognises an encoded voice clip. The container format is
// taken from the data reference MIME type.
func (s *Service) Transcribe(ctx context.Context, req speechmodel.TranscriptionRequest) (speechmodel.Transcription, error) {
	ref, err := dataref.Decode(req.AudioRef)
	if err != nil {
		return speechmodel.Transcription{}, fmt.Errorf("decode audio reference: %w", err)
	}
	if !dataref.IsAudio(ref.MIME) {
		return speechmodel.Transcription{}, fmt.Errorf("unsupported audio type %q", ref.MIME)
	}

	resp, err := s.TranscribeBuffer(ctx, req.SessionID, ref.Data, dataref.AudioFormat(ref.MIME), req.Language)
	if err != nil {
		return speechmodel.Transcription{}, err
	}
	return speechmodel.Transcription{Text: strings.TrimSpace(resp.Text)}, nil
}

// DefaultVoice returns the configured fallback speaker.
func (s *Service) DefaultVoice() string {
	return s.config.TTSVoice
}
