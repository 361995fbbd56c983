// Package conversation runs one chat turn across the session holder, the
// input normalizer, the responder and the speech renderer.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verdantsentinel/backend/internal/config"
	"github.com/verdantsentinel/backend/internal/metrics"
	"github.com/verdantsentinel/backend/internal/model/chat"
	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
	"github.com/verdantsentinel/backend/internal/service/ai"
	chatservice "github.com/verdantsentinel/backend/internal/service/chat"
	"github.com/verdantsentinel/backend/internal/service/input"
)

// AudioFailureNotice is published when a reply could not be spoken.
const AudioFailureNotice = "Could not generate audio for this reply."

var (
	ErrTranscriptionFailed = errors.New("could not transcribe the recording")
	// ErrTurnCanceled means the caller went away before the reply was ready.
	// The user message of that turn is rolled back.
	ErrTurnCanceled = errors.New("turn canceled")
)

// Normalizer turns raw input into message text.
type Normalizer interface {
	FromText(text string) (string, bool)
	FromAudio(ctx context.Context, sessionID string, blob []byte, mimeType, language string) (string, error)
}

// Responder produces the reply to a turn.
type Responder interface {
	Respond(ctx context.Context, req ai.Request) ai.Response
}

// Renderer speaks a reply.
type Renderer interface {
	Synthesize(ctx context.Context, req speechmodel.SynthesisRequest) (speechmodel.Synthesis, error)
}

// Options 控制回复是否朗读以及朗读超时。
type Options struct {
	SpeakReplies  bool
	RenderTimeout time.Duration
}

// OptionsFromConfig derives turn options from the chat configuration.
func OptionsFromConfig(cfg config.ChatConfig) Options {
	return Options{SpeakReplies: cfg.SpeakReplies, RenderTimeout: cfg.RenderTimeout}
}

// TurnResult is the outcome of one turn. AudioDone closes once speech
// rendering has finished, or immediately when nothing is rendered.
type TurnResult struct {
	User            chat.Message    `json:"user"`
	Reply           chat.Message    `json:"reply"`
	Fallback        bool            `json:"fallback"`
	FallbackMessage string          `json:"fallbackMessage,omitempty"`
	AudioDone       <-chan struct{} `json:"-"`
}

// Service coordinates turns.
type Service struct {
	sessions   *chatservice.Service
	normalizer Normalizer
	responder  Responder
	renderer   Renderer
	opts       Options

	wg sync.WaitGroup
}

// NewService wires a turn flow. renderer may be nil to disable speech.
func NewService(sessions *chatservice.Service, normalizer Normalizer, responder Responder, renderer Renderer, opts Options) *Service {
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 30 * time.Second
	}
	return &Service{
		sessions:   sessions,
		normalizer: normalizer,
		responder:  responder,
		renderer:   renderer,
		opts:       opts,
	}
}

// SendText runs a typed turn.
func (s *Service) SendText(ctx context.Context, sessionID, text string, sink Sink) (TurnResult, error) {
	if sink == nil {
		sink = Discard
	}
	message, ok := s.normalizer.FromText(text)
	if !ok {
		metrics.TurnsTotal.WithLabelValues("text", "rejected").Inc()
		return TurnResult{}, input.ErrEmptyInput
	}

	session, err := s.begin(ctx, sessionID)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("text", "rejected").Inc()
		return TurnResult{}, err
	}
	defer s.sessions.EndTurn(ctx, sessionID)

	history, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	user, err := s.sessions.AppendUserMessage(ctx, sessionID, message)
	if err != nil {
		return TurnResult{}, err
	}
	sink.Publish(Event{Type: EventUser, SessionID: sessionID, Message: &user})

	return s.reply(ctx, "text", session, history, user, sink)
}

// SendAudio runs a voice turn. The user message is shown as a pending
// placeholder while transcription runs and removed again if it fails.
func (s *Service) SendAudio(ctx context.Context, sessionID string, blob []byte, mimeType string, sink Sink) (TurnResult, error) {
	if sink == nil {
		sink = Discard
	}
	if len(blob) == 0 {
		metrics.TurnsTotal.WithLabelValues("audio", "rejected").Inc()
		return TurnResult{}, input.ErrEmptyInput
	}

	session, err := s.begin(ctx, sessionID)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("audio", "rejected").Inc()
		return TurnResult{}, err
	}
	defer s.sessions.EndTurn(ctx, sessionID)

	placeholder, err := s.sessions.AppendPendingUserMessage(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	sink.Publish(Event{Type: EventUser, SessionID: sessionID, Message: &placeholder})

	text, err := s.normalizer.FromAudio(ctx, sessionID, blob, mimeType, session.Language)
	if err != nil {
		s.sessions.RemoveMessage(ctx, placeholder.ID)

		if errors.Is(err, input.ErrEmptyTranscription) {
			metrics.TurnsTotal.WithLabelValues("audio", "fallback").Inc()
			sink.Publish(Event{Type: EventFallback, SessionID: sessionID, MessageID: placeholder.ID, Content: input.FallbackMessage})
			return TurnResult{Fallback: true, FallbackMessage: input.FallbackMessage, AudioDone: closedChan()}, nil
		}

		metrics.TurnsTotal.WithLabelValues("audio", "failed").Inc()
		log.Warn().Err(err).Str("component", "conversation").Str("session", sessionID).Msg("transcription failed, placeholder rolled back")
		return TurnResult{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}

	// the placeholder is still pending here, so it is not part of history
	history, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	user, ok := s.sessions.FinalizeUserMessage(ctx, placeholder.ID, text)
	if !ok {
		return TurnResult{}, chatservice.ErrSessionNotFound
	}
	sink.Publish(Event{Type: EventUser, SessionID: sessionID, Message: &user})

	return s.reply(ctx, "audio", session, history, user, sink)
}

func (s *Service) begin(ctx context.Context, sessionID string) (chat.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if err := s.sessions.BeginTurn(ctx, sessionID); err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

func (s *Service) reply(ctx context.Context, kind string, session chat.Session, history []chat.Turn, user chat.Message, sink Sink) (TurnResult, error) {
	resp := s.responder.Respond(ctx, ai.Request{
		SessionID: session.ID,
		History:   history,
		Message:   user.Content,
		Language:  session.Language,
	})
	if resp.Canceled || ctx.Err() != nil {
		s.sessions.RemoveMessage(context.WithoutCancel(ctx), user.ID)
		metrics.TurnsTotal.WithLabelValues(kind, "canceled").Inc()
		log.Debug().Str("component", "conversation").Str("session", session.ID).Msg("turn canceled, user message rolled back")
		return TurnResult{}, ErrTurnCanceled
	}

	reply, err := s.sessions.AppendModelMessage(ctx, session.ID, resp.Response)
	if err != nil {
		return TurnResult{}, err
	}
	sink.Publish(Event{Type: EventReply, SessionID: session.ID, Message: &reply})

	outcome := "ok"
	if resp.Fallback {
		outcome = "fallback"
	}
	metrics.TurnsTotal.WithLabelValues(kind, outcome).Inc()

	return TurnResult{
		User:      user,
		Reply:     reply,
		Fallback:  resp.Fallback,
		AudioDone: s.speak(ctx, session, reply, user.Content, sink),
	}, nil
}

// speak renders reply in the background. The render outlives the request
// context but is bounded by RenderTimeout.
func (s *Service) speak(ctx context.Context, session chat.Session, reply chat.Message, userText string, sink Sink) <-chan struct{} {
	if s.renderer == nil || !s.opts.SpeakReplies {
		return closedChan()
	}

	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)

		renderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RenderTimeout)
		defer cancel()

		out, err := s.renderer.Synthesize(renderCtx, speechmodel.SynthesisRequest{
			SessionID: session.ID,
			Text:      reply.Content,
			Language:  session.Language,
			UserText:  userText,
		})
		if err != nil {
			metrics.SpeechRenderFailures.Inc()
			log.Warn().Err(err).Str("component", "conversation").Str("session", session.ID).Str("message", reply.ID).Msg("speech rendering failed")
			sink.Publish(Event{Type: EventNotice, SessionID: session.ID, MessageID: reply.ID, Content: AudioFailureNotice})
			return
		}

		msg, ok := s.sessions.AttachAudio(renderCtx, reply.ID, out.AudioRef)
		if !ok {
			log.Debug().Str("component", "conversation").Str("message", reply.ID).Msg("reply gone before audio was ready")
			return
		}
		sink.Publish(Event{Type: EventAudio, SessionID: session.ID, MessageID: msg.ID, Message: &msg})
	}()
	return done
}

// Speak renders an existing model message on demand, e.g. to retry after a
// failed render.
func (s *Service) Speak(ctx context.Context, messageID string, sink Sink) (<-chan struct{}, error) {
	if sink == nil {
		sink = Discard
	}
	msg, ok := s.sessions.Message(ctx, messageID)
	if !ok || msg.Role != chat.RoleModel {
		return nil, chatservice.ErrMessageNotFound
	}
	session, err := s.sessions.GetSession(ctx, msg.SessionID)
	if err != nil {
		return nil, err
	}
	return s.speak(ctx, session, msg, "", sink), nil
}

// Wait blocks until background rendering finishes or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
