package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/verdantsentinel/backend/internal/config"
	analysishandler "github.com/verdantsentinel/backend/internal/handler/analysis"
	"github.com/verdantsentinel/backend/internal/handler/chat"
	historyhandler "github.com/verdantsentinel/backend/internal/handler/history"
	localehandler "github.com/verdantsentinel/backend/internal/handler/locale"
	"github.com/verdantsentinel/backend/internal/handler/speech"
	"github.com/verdantsentinel/backend/internal/handler/stream"
	"github.com/verdantsentinel/backend/internal/metrics"
	"github.com/verdantsentinel/backend/internal/middleware"
	"github.com/verdantsentinel/backend/internal/model/locale"
	"github.com/verdantsentinel/backend/internal/service/analysis"
	chatservice "github.com/verdantsentinel/backend/internal/service/chat"
	"github.com/verdantsentinel/backend/internal/service/conversation"
	"github.com/verdantsentinel/backend/internal/service/history"
	"github.com/verdantsentinel/backend/pkg/utils"
)

// Dependencies are the services the HTTP surface is built on. Speech and
// Analysis are nil when their providers are not configured.
type Dependencies struct {
	Languages locale.Store
	Sessions  *chatservice.Service
	Turns     *conversation.Service
	Speech    speech.SpeechService
	Analysis  *analysis.Service
	History   *history.Store
}

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg config.ServerConfig, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": deps.Sessions.Len(),
			"speech":   deps.Speech != nil,
			"analysis": deps.Analysis != nil,
		})
	})
	r.Handle("/metrics", metrics.Handler())

	languageHandler := localehandler.New(deps.Languages)
	chatHandler := chat.New(deps.Sessions, deps.Turns, deps.Languages)
	streamHandler := stream.New(deps.Turns)
	speechHandler := speech.New(deps.Speech, deps.Sessions, deps.Languages)
	liveHandler := speech.NewWebSocketHandler(deps.Sessions, deps.Turns, deps.Languages)

	var reporter historyhandler.Reporter
	if deps.Analysis != nil {
		reporter = deps.Analysis
	}
	historyHandler := historyhandler.New(deps.History, reporter)

	r.Route("/api", func(api chi.Router) {
		languageHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api, liveHandler)
		historyHandler.RegisterRoutes(api)

		if deps.Analysis != nil {
			analysishandler.New(deps.Analysis).RegisterRoutes(api)
		} else {
			api.Post("/analysis/*", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "analysis is not configured")
			})
		}
	})

	return r
}
