package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/verdantsentinel/backend/internal/config"
	"github.com/verdantsentinel/backend/internal/handler"
	speechhandler "github.com/verdantsentinel/backend/internal/handler/speech"
	"github.com/verdantsentinel/backend/internal/logger"
	"github.com/verdantsentinel/backend/internal/model/locale"
	"github.com/verdantsentinel/backend/internal/service/ai"
	"github.com/verdantsentinel/backend/internal/service/analysis"
	"github.com/verdantsentinel/backend/internal/service/chat"
	"github.com/verdantsentinel/backend/internal/service/conversation"
	"github.com/verdantsentinel/backend/internal/service/history"
	"github.com/verdantsentinel/backend/internal/service/input"
	"github.com/verdantsentinel/backend/internal/service/market"
	"github.com/verdantsentinel/backend/internal/service/speech"
	"github.com/verdantsentinel/backend/internal/storage/memory"
	redisstore "github.com/verdantsentinel/backend/internal/storage/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Setup(cfg.Log)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}

	languages := locale.NewMemoryStore(locale.Seed())
	sessions, err := chat.NewService(cfg.Chat.MaxSessions)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session registry")
	}

	// Initialize Speech service
	var (
		speechService *speech.Service
		speechAPI     speechhandler.SpeechService
		transcriber   input.Transcriber
		renderer      conversation.Renderer
	)
	if cfg.Speech.Enabled {
		speechService = speech.NewService(cfg.Speech.Provider())
		speechAPI = speechService
		transcriber = speechService
		renderer = speech.NewRenderer(speechService, languages, speechService.DefaultVoice())
		log.Info().Str("component", "speech").Msg("speech service initialized")
	} else {
		log.Warn().Str("component", "speech").Msg("语音服务凭证未配置，跳过语音功能初始化")
	}
	normalizer := input.NewNormalizer(transcriber)

	historyStore, closeStore := openHistory(ctx, cfg.Storage)
	defer closeStore()

	// Initialize AI services
	var (
		responder conversation.Responder = ai.Unavailable{}
		analyzer  *analysis.Service
	)
	if cfg.AI.Enabled() {
		responder, analyzer = buildAI(ctx, cfg, languages, normalizer, historyStore)
	} else {
		log.Warn().Str("component", "ai").Msg("Ark 凭证未配置，回复将使用固定的降级文本")
	}

	turns := conversation.NewService(sessions, normalizer, responder, renderer, conversation.OptionsFromConfig(cfg.Chat))

	router := handler.NewRouter(cfg.Server, handler.Dependencies{
		Languages: languages,
		Sessions:  sessions,
		Turns:     turns,
		Speech:    speechAPI,
		Analysis:  analyzer,
		History:   historyStore,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", srv.Addr).Msg("Verdant Sentinel backend listening")
	if err := runServer(ctx, srv, turns, cfg.Server.ShutdownTimeout); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}

// buildAI creates the responder and the analysis service. Failures leave
// the server running with the fallback responder.
func buildAI(ctx context.Context, cfg *config.Config, languages locale.Store, normalizer *input.Normalizer, records *history.Store) (conversation.Responder, *analysis.Service) {
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "ai").Msg("failed to initialize chat model, continuing without AI functionality")
		return ai.Unavailable{}, nil
	}

	var vision model.BaseChatModel
	if visionModel, err := cfg.AI.NewVisionModel(ctx); err != nil {
		log.Warn().Err(err).Str("component", "ai").Msg("vision model unavailable, using the chat model for photos")
	} else {
		vision = visionModel
	}

	oracle := market.NewSimulatedOracle(cfg.Market, uint64(time.Now().UnixNano()))

	var aiTranscriber ai.Transcriber
	var analysisTranscriber analysis.Transcriber
	if normalizer.CanTranscribe() {
		aiTranscriber = normalizer
		analysisTranscriber = normalizer
	}

	var responder conversation.Responder = ai.Unavailable{}
	if r, err := ai.NewResponder(ctx, chatModel, oracle, languages, aiTranscriber, ai.OptionsFromConfig(cfg.Chat)); err != nil {
		log.Error().Err(err).Str("component", "ai").Msg("failed to initialize responder")
	} else {
		responder = r
		log.Info().Str("component", "ai").Msg("responder initialized")
	}

	analyzer, err := analysis.NewService(chatModel, vision, analysisTranscriber, languages, records)
	if err != nil {
		log.Error().Err(err).Str("component", "analysis").Msg("failed to initialize analysis service")
		return responder, nil
	}
	return responder, analyzer
}

// openHistory uses Redis when REDIS_URL is set and falls back to memory.
func openHistory(ctx context.Context, cfg config.StorageConfig) (*history.Store, func()) {
	if cfg.RedisURL == "" {
		log.Info().Str("component", "history").Msg("REDIS_URL not set, history is kept in memory")
		return history.NewStore(memory.NewSlot(), cfg.WriteAttempts), func() {}
	}

	client, err := redisstore.Open(ctx, cfg.RedisURL)
	if err != nil {
		log.Error().Err(err).Str("component", "history").Msg("redis unavailable, history is kept in memory")
		return history.NewStore(memory.NewSlot(), cfg.WriteAttempts), func() {}
	}
	log.Info().Str("component", "history").Str("key", cfg.HistoryKey).Msg("history stored in redis")
	return history.NewStore(redisstore.NewSlot(client, cfg.HistoryKey), cfg.WriteAttempts), func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Str("component", "history").Msg("closing redis client")
		}
	}
}

func runServer(ctx context.Context, srv *http.Server, turns *conversation.Service, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if err := turns.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("speech rendering still running at shutdown")
		}
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
