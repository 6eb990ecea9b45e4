package chat

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-think/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-think/backend/internal/service/chat"
	"github.com/zhouzirui/z-think/backend/pkg/utils"
)

// Handler 会话记录的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建会话处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/active", h.handleActiveSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Put("/sessions/{sessionID}/active", h.handleSetActive)
	r.Get("/sessions/{sessionID}/snapshot", h.handleSnapshot)
	r.Delete("/sessions/{sessionID}/turns/{turnID}", h.handleDeleteTurn)
}

// handleCreateSession 创建会话，body 可省略，默认苏格拉底模式
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Mode chat.Mode `json:"mode"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch payload.Mode {
	case "", chat.ModeSocratic, chat.ModeShadow:
	default:
		utils.RespondError(w, http.StatusBadRequest, "mode must be socratic or shadow")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.Mode)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.ListSessions(r.Context()))
}

func (h *Handler) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.Active(r.Context())
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleDeleteSession 删除会话，响应体为新的活动会话
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	active, err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"active": active})
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.SetActive(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	text, err := h.chatSvc.Snapshot(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"transcript": text})
}

func (h *Handler) handleDeleteTurn(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.DeleteTurn(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "turnID"))
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}
