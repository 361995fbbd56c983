package locale

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verdantsentinel/backend/internal/model/locale"
	"github.com/verdantsentinel/backend/pkg/utils"
)

// Handler 语言列表的HTTP处理器
type Handler struct {
	languages locale.Store
}

// New 创建语言处理器
func New(languages locale.Store) *Handler {
	return &Handler{
		languages: languages,
	}
}

// RegisterRoutes 注册语言相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/languages", h.handleListLanguages)
}

// handleListLanguages 列出所有支持的语言
func (h *Handler) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"default":   locale.DefaultCode,
		"languages": h.languages.List(),
	})
}
