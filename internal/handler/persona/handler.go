package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/model/persona"
	"github.com/zhouzirui/z-think/backend/pkg/utils"
)

// Handler 暴露固定角色目录，前端据此渲染模式、意图与难度选项。
type Handler struct {
	catalog  *persona.Catalog
	personas persona.Store
}

// CatalogResponse 是 GET /catalog 的返回体。语气指令不对外暴露。
type CatalogResponse struct {
	Welcome      string            `json:"welcome"`
	Modes        []persona.Persona `json:"modes"`
	Intents      []persona.Intent  `json:"intents"`
	Difficulties []persona.Persona `json:"difficulties"`
	Board        []persona.Persona `json:"board"`
	Hats         []persona.Hat     `json:"hats"`
}

// New 创建persona处理器
func New(catalog *persona.Catalog) *Handler {
	return &Handler{
		catalog:  catalog,
		personas: persona.NewCatalogStore(catalog),
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/catalog", h.handleCatalog)
	r.Get("/personas", h.handleListPersonas)
	r.Get("/personas/{personaID}", h.handleGetPersona)
}

func (h *Handler) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, CatalogResponse{
		Welcome:      h.catalog.Welcome,
		Modes:        public(h.catalog.Modes),
		Intents:      h.catalog.Intents,
		Difficulties: public(h.catalog.Debate),
		Board:        public(h.catalog.Board),
		Hats:         h.catalog.Hats,
	})
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, public(h.personas.List()))
}

func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, ok := h.personas.FindByID(chi.URLParam(r, "personaID"))
	if !ok {
		utils.RespondErr(w, errs.ErrNotFound)
		return
	}
	p.VoiceInstruction = ""
	utils.RespondJSON(w, http.StatusOK, p)
}

func public(items []persona.Persona) []persona.Persona {
	out := make([]persona.Persona, len(items))
	for i, p := range items {
		p.VoiceInstruction = ""
		out[i] = p
	}
	return out
}
