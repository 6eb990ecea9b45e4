package stream

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/logging"
	"github.com/zhouzirui/z-think/backend/internal/model/chat"
	"github.com/zhouzirui/z-think/backend/pkg/utils"
)

// Dialogue is the slice of the dialogue engine the handler drives.
type Dialogue interface {
	Send(ctx context.Context, sessionID, text string, onChunk func(string)) (chat.Session, error)
	SendIntent(ctx context.Context, sessionID, templateID string, onChunk func(string)) (chat.Session, error)
	Synthesize(ctx context.Context, sessionID string) (chat.Session, error)
}

// Handler manages streaming dialogue replies via Server-Sent Events
type Handler struct {
	dialogue Dialogue
	logger   zerolog.Logger
}

// New creates a new stream handler
func New(dialogue Dialogue, logger zerolog.Logger) *Handler {
	return &Handler{dialogue: dialogue, logger: logging.Component(logger, "stream")}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string        `json:"event"`
	Content   string        `json:"content,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Finished  bool          `json:"finished,omitempty"`
	Error     string        `json:"error,omitempty"`
	Kind      string        `json:"kind,omitempty"`
	Session   *chat.Session `json:"session,omitempty"`
}

// RegisterRoutes 注册对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{sessionID}/messages", h.handleSend)
	r.Post("/sessions/{sessionID}/intents/{template}", h.handleIntent)
	r.Post("/sessions/{sessionID}/synthesize", h.handleSynthesize)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	h.stream(w, sessionID, func(onChunk func(string)) (chat.Session, error) {
		return h.dialogue.Send(r.Context(), sessionID, payload.Text, onChunk)
	})
}

func (h *Handler) handleIntent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	template := chi.URLParam(r, "template")
	h.stream(w, sessionID, func(onChunk func(string)) (chat.Session, error) {
		return h.dialogue.SendIntent(r.Context(), sessionID, template, onChunk)
	})
}

// handleSynthesize 生成笔记，结果作为 ARTIFACT 发言返回
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	session, err := h.dialogue.Synthesize(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// stream 在第一块内容到达时才切换为 SSE；此前失败的请求按普通 JSON 错误返回。
func (h *Handler) stream(w http.ResponseWriter, sessionID string, run func(onChunk func(string)) (chat.Session, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		utils.SetupSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		h.sendSSE(w, flusher, StreamResponse{Event: "start", SessionID: sessionID})
	}

	session, err := run(func(chunk string) {
		begin()
		h.sendSSE(w, flusher, StreamResponse{Event: "delta", SessionID: sessionID, Content: chunk})
	})

	if err != nil && !started {
		h.logger.Debug().Err(err).Str("session", sessionID).Msg("dialogue request rejected")
		utils.RespondErr(w, err)
		return
	}

	begin()
	if len(session.Turns) > 0 {
		last := session.Turns[len(session.Turns)-1]
		h.sendSSE(w, flusher, StreamResponse{Event: "message", SessionID: sessionID, Content: last.Content})
	}
	if err != nil {
		h.sendSSEError(w, flusher, err)
	}
	h.sendSSE(w, flusher, StreamResponse{Event: "end", SessionID: sessionID, Finished: true, Session: &session})
}

// sendSSE sends a Server-Sent Event
func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}

// sendSSEError sends an error via Server-Sent Events
func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, err error) {
	h.sendSSE(w, flusher, StreamResponse{
		Event: "error",
		Error: err.Error(),
		Kind:  errs.Kind(err),
	})
}
