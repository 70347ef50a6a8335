package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	characterhandler "github.com/zhouzirui/z-tavern/relay/internal/handler/character"
	chathandler "github.com/zhouzirui/z-tavern/relay/internal/handler/chat"
	summaryhandler "github.com/zhouzirui/z-tavern/relay/internal/handler/summary"
	"github.com/zhouzirui/z-tavern/relay/internal/metrics"
	middlewarePkg "github.com/zhouzirui/z-tavern/relay/internal/middleware"
	"github.com/zhouzirui/z-tavern/relay/internal/model/character"
	chatservice "github.com/zhouzirui/z-tavern/relay/internal/service/chat"
	"github.com/zhouzirui/z-tavern/relay/pkg/logger"
	"github.com/zhouzirui/z-tavern/relay/pkg/utils"
)

// Deps are the services the router exposes.
type Deps struct {
	Characters     character.Store
	Sessions       *chatservice.Registry
	Chat           *chathandler.Handler
	Summarizer     summaryhandler.Summarizer
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	characterhandler.New(deps.Characters).RegisterRoutes(r)
	summaryhandler.New(deps.Summarizer, log).RegisterRoutes(r)
	deps.Chat.RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"characters": len(deps.Characters.List()),
			"sessions":   deps.Sessions.Len(),
		})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}
