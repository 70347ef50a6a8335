package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/relay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/relay/pkg/logger"
	"github.com/zhouzirui/z-tavern/relay/pkg/utils"
)

// maxBodyBytes caps a summary request body.
const maxBodyBytes = 1 << 20

// Summarizer condenses a client-supplied history. It never fails.
type Summarizer interface {
	Summarize(ctx context.Context, turns []chat.Turn) string
}

// Handler serves the stateless summary endpoint.
type Handler struct {
	summarizer Summarizer
	log        *slog.Logger
}

// New 创建摘要处理器
func New(summarizer Summarizer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{summarizer: summarizer, log: log.With("component", "summary")}
}

// RegisterRoutes 注册摘要路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/summary", h.handleSummary)
}

type summaryRequest struct {
	History     []map[string]string `json:"history"`
	CharacterID string              `json:"character_id"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.log)

	var req summaryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		log.Warn("decode summary request", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("An error occurred: %v", err))
		return
	}

	turns, err := toTurns(req.History)
	if err != nil {
		log.Warn("reject summary history", "character", req.CharacterID, "error", err)
		utils.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("An error occurred: %v", err))
		return
	}

	summary := h.summarizer.Summarize(r.Context(), turns)
	log.Info("summary generated", "character", req.CharacterID, "turns", len(turns), "length", len(summary))
	utils.RespondJSON(w, http.StatusOK, summaryResponse{Summary: summary})
}

// toTurns keeps entry order; role strings pass through untouched.
func toTurns(history []map[string]string) ([]chat.Turn, error) {
	turns := make([]chat.Turn, 0, len(history))
	for i, entry := range history {
		role, ok := entry["role"]
		if !ok {
			return nil, fmt.Errorf("history[%d] is missing %q", i, "role")
		}
		parts, ok := entry["parts"]
		if !ok {
			return nil, fmt.Errorf("history[%d] is missing %q", i, "parts")
		}
		turns = append(turns, chat.Turn{Role: role, Parts: parts})
	}
	return turns, nil
}
