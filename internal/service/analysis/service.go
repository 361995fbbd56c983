// Package analysis runs the one-shot plant analyses: photo diagnosis, voice
// recommendations, feedback refinement and health reports.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/verdantsentinel/backend/internal/metrics"
	historymodel "github.com/verdantsentinel/backend/internal/model/history"
	"github.com/verdantsentinel/backend/internal/model/locale"
	"github.com/verdantsentinel/backend/pkg/dataref"
)

var ErrInvalidInput = errors.New("invalid analysis input")

// Transcriber turns an encoded voice clip into text.
type Transcriber interface {
	FromAudioRef(ctx context.Context, sessionID, audioRef, language string) (string, error)
}

// LanguageResolver maps a language code to its display entry.
type LanguageResolver interface {
	Resolve(code string) locale.Language
}

// Recorder persists completed analyses.
type Recorder interface {
	Add(ctx context.Context, rec historymodel.Record) (historymodel.Record, error)
}

// ImageRequest asks for a photo diagnosis. ImageRef is a data reference.
type ImageRequest struct {
	ImageRef    string `json:"photoDataUri"`
	Description string `json:"description"`
	History     string `json:"history,omitempty"`
	Language    string `json:"language,omitempty"`
}

// VoiceRequest asks for recommendations from a recorded question.
type VoiceRequest struct {
	VoiceRef string `json:"voiceDataUri"`
	Language string `json:"language"`
}

// VoiceResult is the recommendation plus what was heard.
type VoiceResult struct {
	Transcription string `json:"transcription"`
	Text          string `json:"text"`
}

// FeedbackRequest asks to refine an earlier recommendation.
type FeedbackRequest struct {
	PlantName      string `json:"plantName"`
	Recommendation string `json:"recommendation"`
	Feedback       string `json:"feedback"`
	HistoricalData string `json:"historicalData,omitempty"`
}

// FeedbackResult carries the refined recommendation.
type FeedbackResult struct {
	ImprovedRecommendation string `json:"improvedRecommendation"`
}

// ReportRequest asks for a health report.
type ReportRequest struct {
	PlantName        string `json:"plantName"`
	PlantDescription string `json:"plantDescription"`
	HistoricalData   string `json:"historicalData"`
}

// HealthReport 是植物健康报告。
type HealthReport struct {
	OverallHealth   string `json:"overallHealth"`
	PotentialIssues string `json:"potentialIssues"`
	Recommendations string `json:"recommendations"`
}

// Service runs analyses against the chat and vision models.
type Service struct {
	chat        model.BaseChatModel
	vision      model.BaseChatModel
	transcriber Transcriber
	languages   LanguageResolver
	records     Recorder
	now         func() time.Time

	diagnosis prompt.ChatTemplate
	voice     prompt.ChatTemplate
	feedback  prompt.ChatTemplate
	report    prompt.ChatTemplate
}

// NewService wires the analysis flows. vision falls back to chatModel;
// transcriber and records may be nil.
func NewService(chatModel, vision model.BaseChatModel, transcriber Transcriber, languages LanguageResolver, records Recorder) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if vision == nil {
		vision = chatModel
	}
	return &Service{
		chat:        chatModel,
		vision:      vision,
		transcriber: transcriber,
		languages:   languages,
		records:     records,
		now:         time.Now,
		diagnosis:   newDiagnosisTemplate(),
		voice:       newVoiceTemplate(),
		feedback:    newFeedbackTemplate(),
		report:      newReportTemplate(),
	}, nil
}

// DiagnoseImage identifies the plant in a photo and suggests treatment.
// The result is recorded in the history store.
func (s *Service) DiagnoseImage(ctx context.Context, req ImageRequest) (historymodel.ImageOutput, error) {
	ref, err := dataref.Decode(req.ImageRef)
	if err != nil {
		return historymodel.ImageOutput{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !dataref.IsImage(ref.MIME) {
		return historymodel.ImageOutput{}, fmt.Errorf("%w: %s is not an image", ErrInvalidInput, ref.MIME)
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = DefaultImageDescription
	}

	messages, err := s.diagnosis.Format(ctx, map[string]any{
		"language":    s.languageName(req.Language),
		"description": description,
		"history":     optionalLine("History", strings.TrimSpace(req.History)),
	})
	if err != nil {
		return historymodel.ImageOutput{}, fmt.Errorf("format prompt: %w", err)
	}
	messages = withImage(messages, req.ImageRef, ref.MIME)

	var out historymodel.ImageOutput
	if err := s.generate(ctx, "diagnosis", s.vision, messages, &out); err != nil {
		return historymodel.ImageOutput{}, err
	}
	if err := requireFields(map[string]string{"diagnosis": out.Diagnosis, "treatmentRecommendations": out.TreatmentRecommendations}); err != nil {
		return historymodel.ImageOutput{}, err
	}

	s.record(ctx, historymodel.NewImageRecord(strings.TrimSpace(req.ImageRef), out, s.now().UTC()))
	return out, nil
}

// withImage turns the trailing user message into a text plus image message.
func withImage(messages []*schema.Message, imageRef, mimeType string) []*schema.Message {
	last := len(messages) - 1
	text := messages[last].Content
	messages[last] = &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: text},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{
				URL:      strings.TrimSpace(imageRef),
				MIMEType: mimeType,
			}},
		},
	}
	return messages
}

// RecommendFromVoice transcribes a spoken question and answers it in the
// same language. The result is recorded in the history store.
func (s *Service) RecommendFromVoice(ctx context.Context, req VoiceRequest) (VoiceResult, error) {
	if strings.TrimSpace(req.VoiceRef) == "" {
		return VoiceResult{}, fmt.Errorf("%w: voice clip is required", ErrInvalidInput)
	}
	if s.transcriber == nil {
		return VoiceResult{}, errors.New("speech recognition is not configured")
	}

	transcript, err := s.transcriber.FromAudioRef(ctx, "", req.VoiceRef, req.Language)
	if err != nil {
		return VoiceResult{}, err
	}

	messages, err := s.voice.Format(ctx, map[string]any{
		"language":   s.languageName(req.Language),
		"transcript": transcript,
	})
	if err != nil {
		return VoiceResult{}, fmt.Errorf("format prompt: %w", err)
	}

	var out historymodel.VoiceOutput
	if err := s.generate(ctx, "recommendation", s.chat, messages, &out); err != nil {
		return VoiceResult{}, err
	}
	if err := requireFields(map[string]string{"text": out.Text}); err != nil {
		return VoiceResult{}, err
	}

	s.record(ctx, historymodel.NewVoiceRecord(strings.TrimSpace(req.VoiceRef), out, s.now().UTC()))
	return VoiceResult{Transcription: transcript, Text: out.Text}, nil
}

// ImproveRecommendation rewrites a recommendation after user feedback.
func (s *Service) ImproveRecommendation(ctx context.Context, req FeedbackRequest) (FeedbackResult, error) {
	recommendation := strings.TrimSpace(req.Recommendation)
	feedback := strings.TrimSpace(req.Feedback)
	if recommendation == "" || feedback == "" {
		return FeedbackResult{}, fmt.Errorf("%w: recommendation and feedback are required", ErrInvalidInput)
	}
	plant := strings.TrimSpace(req.PlantName)
	if plant == "" {
		plant = defaultPlantName
	}

	messages, err := s.feedback.Format(ctx, map[string]any{
		"recommendation": recommendation,
		"feedback":       feedback,
		"plantName":      plant,
		"historicalData": optionalLine("Historical Data", strings.TrimSpace(req.HistoricalData)),
	})
	if err != nil {
		return FeedbackResult{}, fmt.Errorf("format prompt: %w", err)
	}

	var out FeedbackResult
	if err := s.generate(ctx, "feedback", s.chat, messages, &out); err != nil {
		return FeedbackResult{}, err
	}
	if err := requireFields(map[string]string{"improvedRecommendation": out.ImprovedRecommendation}); err != nil {
		return FeedbackResult{}, err
	}
	return out, nil
}

// HealthReport summarises a plant's health from its history.
func (s *Service) HealthReport(ctx context.Context, req ReportRequest) (HealthReport, error) {
	history := strings.TrimSpace(req.HistoricalData)
	if history == "" {
		return HealthReport{}, fmt.Errorf("%w: historical data is required", ErrInvalidInput)
	}
	plant := strings.TrimSpace(req.PlantName)
	if plant == "" {
		plant = defaultPlantName
	}
	description := strings.TrimSpace(req.PlantDescription)
	if description == "" {
		description = defaultPlantDescription
	}

	messages, err := s.report.Format(ctx, map[string]any{
		"plantName":        plant,
		"plantDescription": description,
		"historicalData":   history,
	})
	if err != nil {
		return HealthReport{}, fmt.Errorf("format prompt: %w", err)
	}

	var out HealthReport
	if err := s.generate(ctx, "report", s.chat, messages, &out); err != nil {
		return HealthReport{}, err
	}
	if err := requireFields(map[string]string{
		"overallHealth":   out.OverallHealth,
		"potentialIssues": out.PotentialIssues,
		"recommendations": out.Recommendations,
	}); err != nil {
		return HealthReport{}, err
	}
	return out, nil
}

// ReportFromRecord builds a report request whose historical data is the
// record's output.
func ReportFromRecord(rec historymodel.Record) (ReportRequest, error) {
	var variant any
	switch rec.Type {
	case historymodel.TypeImage:
		variant = rec.Output.Image
	case historymodel.TypeVoice:
		variant = rec.Output.Voice
	}
	if err := rec.Validate(); err != nil {
		return ReportRequest{}, err
	}
	data, err := json.Marshal(variant)
	if err != nil {
		return ReportRequest{}, fmt.Errorf("encode record output: %w", err)
	}
	return ReportRequest{
		PlantName:        "User's Plant",
		PlantDescription: defaultPlantDescription,
		HistoricalData:   string(data),
	}, nil
}

func (s *Service) generate(ctx context.Context, flow string, m model.BaseChatModel, messages []*schema.Message, dst any) error {
	start := time.Now()
	reply, err := m.Generate(ctx, messages)
	metrics.ObserveProvider("analysis_"+flow, start, err)
	if err != nil {
		log.Error().Err(err).Str("component", "analysis").Str("flow", flow).Msg("analysis generation failed")
		return fmt.Errorf("generate %s: %w", flow, err)
	}
	if reply == nil {
		return fmt.Errorf("%w: empty reply", ErrMalformedOutput)
	}
	if err := decodeReply(reply.Content, dst); err != nil {
		log.Warn().Err(err).Str("component", "analysis").Str("flow", flow).Int("length", len(reply.Content)).Msg("unusable analysis reply")
		return err
	}
	return nil
}

// record 写入历史失败只记录日志，不影响分析结果。
func (s *Service) record(ctx context.Context, rec historymodel.Record) {
	if s.records == nil {
		return
	}
	saved, err := s.records.Add(ctx, rec)
	if err != nil {
		log.Error().Err(err).Str("component", "analysis").Str("type", string(rec.Type)).Msg("failed to record analysis")
		return
	}
	log.Info().Str("component", "analysis").Str("type", string(saved.Type)).Str("record", saved.ID).Msg("analysis recorded")
}

func (s *Service) languageName(code string) string {
	if code == "" {
		code = locale.DefaultCode
	}
	if s.languages == nil {
		return code
	}
	lang := s.languages.Resolve(code)
	if lang.Label == "" || lang.Label == lang.Code {
		return lang.Code
	}
	return fmt.Sprintf("%s (%s)", lang.Label, lang.Code)
}
