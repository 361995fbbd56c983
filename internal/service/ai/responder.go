package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/verdantsentinel/backend/internal/config"
	"github.com/verdantsentinel/backend/internal/metrics"
	"github.com/verdantsentinel/backend/internal/model/chat"
	"github.com/verdantsentinel/backend/internal/model/locale"
	"github.com/verdantsentinel/backend/internal/service/input"
	"github.com/verdantsentinel/backend/internal/service/market"
)

// FallbackReply replaces any reply the provider failed to produce.
const FallbackReply = "I'm sorry, I'm having trouble answering right now. Please try again in a moment."

var (
	ErrEmptyReply         = errors.New("model returned an empty reply")
	ErrToolRoundsExceeded = errors.New("model kept requesting tools")
)

// LanguageResolver maps a language code to its display entry.
type LanguageResolver interface {
	Resolve(code string) locale.Language
}

// Transcriber turns an encoded clip into text.
type Transcriber interface {
	FromAudioRef(ctx context.Context, sessionID, audioRef, language string) (string, error)
}

// Options 控制回复生成的重试与上下文窗口。
type Options struct {
	HistoryLimit   int
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxToolRounds  int
}

// OptionsFromConfig derives responder options from the chat configuration.
func OptionsFromConfig(cfg config.ChatConfig) Options {
	return Options{
		HistoryLimit:   cfg.HistoryLimit,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		MaxToolRounds:  cfg.MaxToolRounds,
	}
}

// Request is one responder call. History must not contain Message.
type Request struct {
	SessionID string
	History   []chat.Turn
	Message   string
	AudioRef  string
	Language  string
}

// Response carries the reply text. Fallback marks a fixed message produced
// instead of a model reply.
type Response struct {
	Response           string `json:"response"`
	TranscribedMessage string `json:"transcribedMessage,omitempty"`
	Fallback           bool   `json:"-"`
	// Canceled is set when the caller's context ended before a reply was
	// produced. Response is empty then and must not be stored.
	Canceled bool `json:"-"`
}

// Responder answers conversation turns with the Verdant prompt and the
// market price tool.
type Responder struct {
	model       model.BaseChatModel
	template    prompt.ChatTemplate
	tools       *compose.ToolsNode
	languages   LanguageResolver
	transcriber Transcriber
	opts        Options
}

// NewResponder binds the price tool to chatModel and prepares the prompt.
// transcriber may be nil when speech recognition is unavailable.
func NewResponder(ctx context.Context, chatModel model.BaseChatModel, prices market.PriceOracle, languages LanguageResolver, transcriber Transcriber, opts Options) (*Responder, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	priceTool, err := newMarketPriceTool(prices)
	if err != nil {
		return nil, fmt.Errorf("build market price tool: %w", err)
	}
	info, err := priceTool.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe market price tool: %w", err)
	}

	bound, err := bindTools(chatModel, []*schema.ToolInfo{info})
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}

	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{Tools: []tool.BaseTool{priceTool}})
	if err != nil {
		return nil, fmt.Errorf("create tools node: %w", err)
	}

	if opts.MaxToolRounds < 1 {
		opts.MaxToolRounds = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}

	return &Responder{
		model:       bound,
		template:    newConversationTemplate(),
		tools:       toolsNode,
		languages:   languages,
		transcriber: transcriber,
		opts:        opts,
	}, nil
}

func bindTools(m model.BaseChatModel, infos []*schema.ToolInfo) (model.BaseChatModel, error) {
	switch typed := m.(type) {
	case model.ToolCallingChatModel:
		withTools, err := typed.WithTools(infos)
		if err != nil {
			return nil, err
		}
		return withTools, nil
	case model.ChatModel:
		if err := typed.BindTools(infos); err != nil {
			return nil, err
		}
		return typed, nil
	default:
		log.Warn().Str("component", "ai").Msg("chat model does not support tools; price questions will be answered without quotes")
		return m, nil
	}
}

// Respond produces the reply to one turn. It never fails: provider errors
// turn into FallbackReply and an empty transcription into the input
// fallback message. A canceled ctx yields Canceled instead of a fallback.
func (r *Responder) Respond(ctx context.Context, req Request) Response {
	message := strings.TrimSpace(req.Message)
	var transcribed string

	if message == "" && req.AudioRef != "" && r.transcriber != nil {
		text, err := r.transcriber.FromAudioRef(ctx, req.SessionID, req.AudioRef, req.Language)
		if err != nil {
			if ctx.Err() != nil {
				return Response{Canceled: true}
			}
			log.Warn().Err(err).Str("component", "ai").Str("session", req.SessionID).Msg("transcription before reply failed")
			return Response{Response: input.FallbackMessage, Fallback: true}
		}
		message, transcribed = text, text
	}
	if message == "" {
		return Response{Response: input.FallbackMessage, Fallback: true}
	}

	start := time.Now()
	reply, err := r.generate(ctx, req, message)
	metrics.ObserveProvider("chat", start, err)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug().Err(err).Str("component", "ai").Str("session", req.SessionID).Msg("turn canceled by caller")
			return Response{TranscribedMessage: transcribed, Canceled: true}
		}
		log.Error().Err(err).Str("component", "ai").Str("session", req.SessionID).Msg("reply generation failed")
		return Response{Response: FallbackReply, TranscribedMessage: transcribed, Fallback: true}
	}

	log.Info().
		Str("component", "ai").
		Str("session", req.SessionID).
		Int("history", len(req.History)).
		Int("length", len(reply)).
		Msg("generated reply")
	return Response{Response: reply, TranscribedMessage: transcribed}
}

func (r *Responder) generate(ctx context.Context, req Request, message string) (string, error) {
	code := req.Language
	if code == "" {
		code = locale.DefaultCode
	}
	label := code
	if r.languages != nil {
		lang := r.languages.Resolve(code)
		code, label = lang.Code, lang.Label
	}

	messages, err := r.template.Format(ctx, map[string]any{
		"language": languageInstruction(label, code),
		"history":  historyMessages(req.History, r.opts.HistoryLimit),
		"message":  message,
	})
	if err != nil {
		return "", fmt.Errorf("format prompt: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.RetryBaseDelay
	policy.MaxInterval = 8 * r.opts.RetryBaseDelay

	var reply string
	attempt := 0
	op := func() error {
		attempt++
		out, err := r.runToolLoop(ctx, messages)
		if err == nil {
			reply = out
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, ErrToolRoundsExceeded) {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Str("component", "ai").Int("attempt", attempt).Msg("reply attempt failed")
		return err
	}

	maxRetries := r.opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx)); err != nil {
		return "", err
	}
	return reply, nil
}

// runToolLoop 调用模型，执行其请求的工具并回填结果，直到得到文本回复。
func (r *Responder) runToolLoop(ctx context.Context, messages []*schema.Message) (string, error) {
	conversation := append(make([]*schema.Message, 0, len(messages)+4), messages...)

	for round := 0; ; round++ {
		out, err := r.model.Generate(ctx, conversation)
		if err != nil {
			return "", fmt.Errorf("generate: %w", err)
		}
		if out == nil {
			return "", ErrEmptyReply
		}

		if len(out.ToolCalls) == 0 {
			reply := strings.TrimSpace(out.Content)
			if reply == "" {
				return "", ErrEmptyReply
			}
			return reply, nil
		}

		if round >= r.opts.MaxToolRounds {
			return "", ErrToolRoundsExceeded
		}

		results, err := r.tools.Invoke(ctx, out)
		if err != nil {
			return "", fmt.Errorf("run tools: %w", err)
		}
		conversation = append(conversation, out)
		conversation = append(conversation, results...)
	}
}

// Unavailable answers every turn with FallbackReply. It stands in for the
// responder when no model is configured.
type Unavailable struct{}

// Respond implements the conversation responder.
func (Unavailable) Respond(context.Context, Request) Response {
	return Response{Response: FallbackReply, Fallback: true}
}
