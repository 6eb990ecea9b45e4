// Package room 暴露轮流发言房间（思想智库与辩论场）的 REST 与 WebSocket 接口。
package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/logging"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
	"github.com/zhouzirui/z-think/backend/internal/service/debate"
	"github.com/zhouzirui/z-think/backend/internal/service/loop"
	"github.com/zhouzirui/z-think/backend/internal/service/thinktank"
	"github.com/zhouzirui/z-think/backend/pkg/utils"
)

// ThinkTank starts think tank rooms.
type ThinkTank interface {
	Create(ctx context.Context, idea string) (thinktank.Room, error)
}

// Debates starts and looks up debate arenas.
type Debates interface {
	Create(ctx context.Context, setup debate.Setup) (*debate.Arena, error)
	Get(id string) (*debate.Arena, error)
}

// Handler 房间处理器
type Handler struct {
	rooms     *loop.Registry
	thinkTank ThinkTank
	debates   Debates
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
	now       func() time.Time
}

// New 创建房间处理器。thinkTank 或 debates 为 nil 时对应路由返回 503。
func New(rooms *loop.Registry, thinkTank ThinkTank, debates Debates, logger zerolog.Logger) *Handler {
	return &Handler{
		rooms:     rooms,
		thinkTank: thinkTank,
		debates:   debates,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logging.Component(logger, "room"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes 注册房间相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/thinktank", h.handleCreateThinkTank)

	r.Post("/debates", h.handleCreateDebate)
	r.Post("/debates/import", h.handleImportDebate)
	r.Get("/debates/{roomID}", h.handleGetDebate)
	r.Post("/debates/{roomID}/messages", h.handleDebateMessage)
	r.Put("/debates/{roomID}/autoplay", h.handleDebateAutoplay)
	r.Get("/debates/{roomID}/export", h.handleExportDebate)

	r.Get("/rooms/{roomID}", h.handleGetRoom)
	r.Delete("/rooms/{roomID}", h.handleDeleteRoom)
	r.Post("/rooms/{roomID}/{action}", h.handleRoomAction)

	r.Get("/ws/rooms/{roomID}", h.handleWebSocket)
}

// RoomResponse 是创建房间与查询房间的返回体。
type RoomResponse struct {
	ID    string        `json:"id"`
	State loop.Snapshot `json:"state"`
}

// DebateResponse adds the debate setup and the verdict when there is one.
type DebateResponse struct {
	RoomResponse
	Setup     debate.Setup        `json:"setup"`
	Scorecard *artifact.Scorecard `json:"scorecard,omitempty"`
}

// actionPayload 是房间控制指令的参数，REST 与 WebSocket 共用。
type actionPayload struct {
	Text    string `json:"text"`
	Seat    *int   `json:"seat,omitempty"`
	Enabled bool   `json:"enabled"`
}

func (h *Handler) handleCreateThinkTank(w http.ResponseWriter, r *http.Request) {
	if h.thinkTank == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "think tank unavailable")
		return
	}
	var payload struct {
		Idea string `json:"idea"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	room, err := h.thinkTank.Create(r.Context(), payload.Idea)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, RoomResponse{ID: room.ID, State: room.Engine.State()})
}

func (h *Handler) handleCreateDebate(w http.ResponseWriter, r *http.Request) {
	if h.debates == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "debate arena unavailable")
		return
	}
	var setup debate.Setup
	if err := utils.DecodeJSON(r, &setup); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	arena, err := h.debates.Create(r.Context(), setup)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, debateResponse(arena))
}

func (h *Handler) handleGetDebate(w http.ResponseWriter, r *http.Request) {
	arena, ok := h.arena(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, debateResponse(arena))
}

func (h *Handler) handleDebateMessage(w http.ResponseWriter, r *http.Request) {
	arena, ok := h.arena(w, r)
	if !ok {
		return
	}
	var payload actionPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turn, err := arena.Send(payload.Text)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, turn)
}

func (h *Handler) handleDebateAutoplay(w http.ResponseWriter, r *http.Request) {
	arena, ok := h.arena(w, r)
	if !ok {
		return
	}
	var payload actionPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := arena.Engine.SetAutoplay(debate.UserSeat, payload.Enabled); err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, debateResponse(arena))
}

func (h *Handler) handleExportDebate(w http.ResponseWriter, r *http.Request) {
	arena, ok := h.arena(w, r)
	if !ok {
		return
	}
	now := h.now()
	data, err := arena.Export(now)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="debate-%d.json"`, now.Unix()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn().Err(err).Str("room", arena.ID).Msg("failed to write export")
	}
}

// handleImportDebate 校验并回显导出的辩论记录，供只读回放。
func (h *Handler) handleImportDebate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc, err := debate.ParseExport(data)
	if err != nil {
		utils.RespondJSON(w, http.StatusBadRequest, utils.ErrorBody{Error: err.Error(), Kind: errs.Kind(err)})
		return
	}
	utils.RespondJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	engine, err := h.rooms.Get(roomID)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, RoomResponse{ID: roomID, State: engine.State()})
}

func (h *Handler) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.rooms.Remove(chi.URLParam(r, "roomID")); err != nil {
		utils.RespondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRoomAction 处理 pause / resume / stop / interject / submit / autoplay。
func (h *Handler) handleRoomAction(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	engine, err := h.rooms.Get(roomID)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}

	var payload actionPayload
	if err := utils.DecodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := apply(engine, chi.URLParam(r, "action"), payload); err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, RoomResponse{ID: roomID, State: engine.State()})
}

func (h *Handler) arena(w http.ResponseWriter, r *http.Request) (*debate.Arena, bool) {
	if h.debates == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "debate arena unavailable")
		return nil, false
	}
	arena, err := h.debates.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		utils.RespondErr(w, err)
		return nil, false
	}
	return arena, true
}

func debateResponse(arena *debate.Arena) DebateResponse {
	resp := DebateResponse{
		RoomResponse: RoomResponse{ID: arena.ID, State: arena.Engine.State()},
		Setup:        arena.Setup,
	}
	if card, ok := arena.Scorecard(); ok {
		resp.Scorecard = &card
	}
	return resp
}

// apply 把控制指令映射到引擎操作。
func apply(engine *loop.Engine, action string, p actionPayload) error {
	switch action {
	case "pause":
		return engine.Pause()
	case "resume":
		return engine.Resume()
	case "stop":
		return engine.Stop()
	case "interject":
		_, err := engine.Interject(p.Text)
		return err
	case "submit":
		if p.Seat == nil {
			return fmt.Errorf("%w: submit needs a seat", errs.ErrPrecondition)
		}
		_, err := engine.Submit(*p.Seat, p.Text)
		return err
	case "autoplay":
		if p.Seat == nil {
			return fmt.Errorf("%w: autoplay needs a seat", errs.ErrPrecondition)
		}
		return engine.SetAutoplay(*p.Seat, p.Enabled)
	default:
		return fmt.Errorf("%w: unsupported action %q", errs.ErrPrecondition, action)
	}
}
