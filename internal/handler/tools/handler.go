// Package tools 暴露一次性思维工具：决策实验室、六顶思考帽、五问法与视角镜头。
package tools

import (
	"context"
	"iter"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-think/backend/internal/logging"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
	"github.com/zhouzirui/z-think/backend/internal/service/fivewhys"
	"github.com/zhouzirui/z-think/backend/internal/service/scripted"
	"github.com/zhouzirui/z-think/backend/pkg/utils"
)

// Orchestrator runs the scripted multi-phase tools.
type Orchestrator interface {
	RunDecisionLab(ctx context.Context, problem, options string) (artifact.Decision, error)
	RunSixHats(ctx context.Context, topic string) (artifact.SixHats, error)
}

// FiveWhys drives root-cause investigations.
type FiveWhys interface {
	Start(ctx context.Context, problem string) (fivewhys.Investigation, error)
	Answer(ctx context.Context, id, text string) (fivewhys.Investigation, error)
	Analyze(ctx context.Context, id string) (fivewhys.Investigation, error)
	Get(id string) (fivewhys.Investigation, error)
}

// Lens 单次调用的视角工具。
type Lens interface {
	FirstPrinciples(ctx context.Context, problem string) (string, error)
	DevilsDictionary(ctx context.Context, word string) (artifact.DevilsDefinition, error)
}

// Handler 工具处理器
type Handler struct {
	orchestrator Orchestrator
	fiveWhys     FiveWhys
	lens         Lens
	pacing       scripted.Pacing
	logger       zerolog.Logger
}

// Option customises a Handler.
type Option func(*Handler)

// WithPacing 覆盖揭示节奏，测试中用零延迟。
func WithPacing(p scripted.Pacing) Option {
	return func(h *Handler) { h.pacing = p }
}

// New 创建工具处理器
func New(orchestrator Orchestrator, fiveWhys FiveWhys, lens Lens, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		orchestrator: orchestrator,
		fiveWhys:     fiveWhys,
		lens:         lens,
		pacing:       scripted.DefaultPacing(),
		logger:       logging.Component(logger, "tools"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes 注册工具路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/decision-lab", h.handleDecisionLab)
	r.Post("/six-hats", h.handleSixHats)

	r.Post("/five-whys", h.handleStartFiveWhys)
	r.Get("/five-whys/{investigationID}", h.handleGetFiveWhys)
	r.Post("/five-whys/{investigationID}/answers", h.handleAnswerFiveWhys)
	r.Post("/five-whys/{investigationID}/analyze", h.handleAnalyzeFiveWhys)

	r.Post("/lens/first-principles", h.handleFirstPrinciples)
	r.Post("/lens/devils-dictionary", h.handleDevilsDictionary)
}

// RevealResponse is the payload of every reveal SSE event.
type RevealResponse struct {
	Reveal   *scripted.RevealEvent `json:"reveal,omitempty"`
	Artifact any                   `json:"artifact,omitempty"`
	Finished bool                  `json:"finished"`
}

func (h *Handler) handleDecisionLab(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Problem string `json:"problem"`
		Options string `json:"options"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil || payload.Problem == "" {
		utils.RespondError(w, http.StatusBadRequest, "problem is required")
		return
	}

	decision, err := h.orchestrator.RunDecisionLab(r.Context(), payload.Problem, payload.Options)
	if err != nil {
		h.logger.Warn().Err(err).Msg("decision lab failed")
		utils.RespondErr(w, err)
		return
	}
	h.reveal(w, r, decision, scripted.Reveal(r.Context(), decision, h.pacing))
}

func (h *Handler) handleSixHats(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Topic string `json:"topic"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil || payload.Topic == "" {
		utils.RespondError(w, http.StatusBadRequest, "topic is required")
		return
	}

	hats, err := h.orchestrator.RunSixHats(r.Context(), payload.Topic)
	if err != nil {
		h.logger.Warn().Err(err).Msg("six hats failed")
		utils.RespondErr(w, err)
		return
	}
	h.reveal(w, r, hats, scripted.RevealSixHats(r.Context(), hats, h.pacing))
}

// reveal 先整体下发产物，再按节奏逐个推送揭示事件。
func (h *Handler) reveal(w http.ResponseWriter, r *http.Request, result any, events iter.Seq[scripted.RevealEvent]) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	utils.SendSSEEvent(w, flusher, "artifact", RevealResponse{Artifact: result})
	for ev := range events {
		utils.SendSSEEvent(w, flusher, string(ev.Kind), RevealResponse{Reveal: &ev})
	}
	if r.Context().Err() != nil {
		h.logger.Debug().Msg("reveal aborted by client")
		return
	}
	utils.SendSSEEvent(w, flusher, "end", RevealResponse{Finished: true})
}

func (h *Handler) handleStartFiveWhys(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Problem string `json:"problem"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv, err := h.fiveWhys.Start(r.Context(), payload.Problem)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, inv)
}

func (h *Handler) handleGetFiveWhys(w http.ResponseWriter, r *http.Request) {
	inv, err := h.fiveWhys.Get(chi.URLParam(r, "investigationID"))
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleAnswerFiveWhys(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Answer string `json:"answer"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv, err := h.fiveWhys.Answer(r.Context(), chi.URLParam(r, "investigationID"), payload.Answer)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleAnalyzeFiveWhys(w http.ResponseWriter, r *http.Request) {
	inv, err := h.fiveWhys.Analyze(r.Context(), chi.URLParam(r, "investigationID"))
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleFirstPrinciples(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Problem string `json:"problem"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	content, err := h.lens.FirstPrinciples(r.Context(), payload.Problem)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"content": content})
}

func (h *Handler) handleDevilsDictionary(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Word string `json:"word"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	def, err := h.lens.DevilsDictionary(r.Context(), payload.Word)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, def)
}
