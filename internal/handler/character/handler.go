package character

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/relay/internal/model/character"
	"github.com/zhouzirui/z-tavern/relay/pkg/utils"
)

// Handler character服务的HTTP处理器
type Handler struct {
	characters character.Store
}

// New 创建character处理器
func New(characters character.Store) *Handler {
	return &Handler{
		characters: characters,
	}
}

// RegisterRoutes 注册character相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/characters", h.handleListCharacters)
}

// handleListCharacters 列出所有角色
func (h *Handler) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	characters := h.characters.List()
	if characters == nil {
		characters = []character.Character{}
	}
	utils.RespondJSON(w, http.StatusOK, characters)
}
