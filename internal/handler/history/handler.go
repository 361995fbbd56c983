package history

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verdantsentinel/backend/internal/handler/apierr"
	historymodel "github.com/verdantsentinel/backend/internal/model/history"
	"github.com/verdantsentinel/backend/internal/service/analysis"
	"github.com/verdantsentinel/backend/pkg/utils"
)

// Records is the history store the handler reads and clears.
type Records interface {
	List(ctx context.Context) ([]historymodel.Record, error)
	Get(ctx context.Context, id string) (historymodel.Record, error)
	Clear(ctx context.Context) error
}

// Reporter builds a health report from historical data.
type Reporter interface {
	HealthReport(ctx context.Context, req analysis.ReportRequest) (analysis.HealthReport, error)
}

// Handler 分析历史的HTTP处理器
type Handler struct {
	records  Records
	reporter Reporter
}

// New 创建历史处理器. reporter may be nil when no model is configured.
func New(records Records, reporter Reporter) *Handler {
	return &Handler{records: records, reporter: reporter}
}

// RegisterRoutes 注册历史相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/history", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Delete("/", h.handleClear)
		r.Get("/{recordID}", h.handleGet)
		r.Post("/{recordID}/report", h.handleReport)
	})
}

// handleList returns records newest first.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.records.List(r.Context())
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if records == nil {
		records = []historymodel.Record{}
	}
	utils.RespondJSON(w, http.StatusOK, records)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Get(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.records.Clear(r.Context()); err != nil {
		apierr.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReport generates a health report from one stored record.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "analysis is not configured")
		return
	}

	rec, err := h.records.Get(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	req, err := analysis.ReportFromRecord(rec)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	report, err := h.reporter.HealthReport(r.Context(), req)
	if err != nil {
		apierr.WriteProvider(w, err, http.StatusBadGateway, "report generation failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, report)
}
