package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-think/backend/internal/handler/chat"
	"github.com/zhouzirui/z-think/backend/internal/handler/persona"
	"github.com/zhouzirui/z-think/backend/internal/handler/room"
	"github.com/zhouzirui/z-think/backend/internal/handler/stream"
	"github.com/zhouzirui/z-think/backend/internal/handler/tools"
	personaModel "github.com/zhouzirui/z-think/backend/internal/model/persona"
	chatService "github.com/zhouzirui/z-think/backend/internal/service/chat"
	"github.com/zhouzirui/z-think/backend/internal/service/loop"
	"github.com/zhouzirui/z-think/backend/pkg/utils"
)

// Deps 汇总路由所需的服务。未配置密钥时服务照常注册，调用时返回 missing_credential。
type Deps struct {
	AIEnabled bool

	Catalog  *personaModel.Catalog
	Sessions *chatService.Service
	Rooms    *loop.Registry

	Dialogue     stream.Dialogue
	ThinkTank    room.ThinkTank
	Debates      room.Debates
	Orchestrator tools.Orchestrator
	FiveWhys     tools.FiveWhys
	Lens         tools.Lens

	Logger zerolog.Logger
}

// 浏览器前端可能部署在任意域名下，且不携带 cookie。
var corsOptions = cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
	ExposedHeaders: []string{"Content-Disposition"},
	MaxAge:         300,
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ai":     deps.AIEnabled,
		})
	})

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Catalog).RegisterRoutes(api)
		chat.New(deps.Sessions).RegisterRoutes(api)

		stream.New(deps.Dialogue, deps.Logger).RegisterRoutes(api)
		room.New(deps.Rooms, deps.ThinkTank, deps.Debates, deps.Logger).RegisterRoutes(api)
		tools.New(deps.Orchestrator, deps.FiveWhys, deps.Lens, deps.Logger).RegisterRoutes(api)
	})

	return r
}
