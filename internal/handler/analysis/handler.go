package analysis

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verdantsentinel/backend/internal/handler/apierr"
	historymodel "github.com/verdantsentinel/backend/internal/model/history"
	"github.com/verdantsentinel/backend/internal/service/analysis"
	"github.com/verdantsentinel/backend/pkg/utils"
)

// maxMediaBody caps JSON bodies that embed a photo or voice data reference.
const maxMediaBody = 16 << 20

// Analyzer is the analysis capability the handler drives.
type Analyzer interface {
	DiagnoseImage(ctx context.Context, req analysis.ImageRequest) (historymodel.ImageOutput, error)
	RecommendFromVoice(ctx context.Context, req analysis.VoiceRequest) (analysis.VoiceResult, error)
	ImproveRecommendation(ctx context.Context, req analysis.FeedbackRequest) (analysis.FeedbackResult, error)
}

// Handler 植物分析的HTTP处理器
type Handler struct {
	analyzer Analyzer
}

// New 创建分析处理器
func New(analyzer Analyzer) *Handler {
	return &Handler{analyzer: analyzer}
}

// RegisterRoutes 注册分析相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/analysis", func(r chi.Router) {
		r.Post("/image", h.handleImage)
		r.Post("/voice", h.handleVoice)
		r.Post("/feedback", h.handleFeedback)
	})
}

func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	var req analysis.ImageRequest
	if err := utils.DecodeJSON(w, r, maxMediaBody, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.analyzer.DiagnoseImage(r.Context(), req)
	if err != nil {
		apierr.WriteProvider(w, err, http.StatusBadGateway, "analysis failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	var req analysis.VoiceRequest
	if err := utils.DecodeJSON(w, r, maxMediaBody, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.analyzer.RecommendFromVoice(r.Context(), req)
	if err != nil {
		apierr.WriteProvider(w, err, http.StatusBadGateway, "analysis failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req analysis.FeedbackRequest
	if err := utils.DecodeJSON(w, r, 0, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.analyzer.ImproveRecommendation(r.Context(), req)
	if err != nil {
		apierr.WriteProvider(w, err, http.StatusBadGateway, "analysis failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, out)
}
