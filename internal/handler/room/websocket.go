package room

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/service/loop"
	"github.com/zhouzirui/z-think/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

type inboundMessage struct {
	Type   string          `json:"type"`
	RoomID string          `json:"roomId"`
	Data   json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	RoomID    string      `json:"roomId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection 持有单个 WebSocket 连接。gorilla 连接只允许一个写者，
// 所有写操作都经 out 交给 writePump。
type connection struct {
	roomID string
	conn   *websocket.Conn
	engine *loop.Engine
	out    chan outgoingMessage
	logger zerolog.Logger
}

// handleWebSocket 推送房间事件，并接收控制指令。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	engine, err := h.rooms.Get(roomID)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("room", roomID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.logger.Info().Str("room", roomID).Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	c := &connection{
		roomID: roomID,
		conn:   conn,
		engine: engine,
		out:    make(chan outgoingMessage, 16),
		logger: h.logger.With().Str("room", roomID).Logger(),
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancel()
		c.writePump(ctx, events)
	})

	c.send(ctx, "snapshot", engine.State())
	c.readPump(ctx)

	cancel()
	wg.Wait()
	h.logger.Info().Str("room", roomID).Msg("websocket closed")
}

func (c *connection) readPump(ctx context.Context) {
	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.RoomID != "" && msg.RoomID != c.roomID {
			c.sendError(ctx, "room mismatch", errs.ErrPrecondition)
			continue
		}
		c.handleMessage(ctx, &msg)
	}
}

func (c *connection) handleMessage(ctx context.Context, msg *inboundMessage) {
	if msg.Type == "state" {
		c.send(ctx, "snapshot", c.engine.State())
		return
	}

	var payload actionPayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError(ctx, "invalid payload", errs.ErrPrecondition)
			return
		}
	}

	if err := apply(c.engine, msg.Type, payload); err != nil {
		c.sendError(ctx, err.Error(), err)
		return
	}
	c.send(ctx, "ack", map[string]any{"action": msg.Type, "phase": c.engine.State().Phase})
}

// writePump 是连接唯一的写者：转发引擎事件、应答与心跳。
func (c *connection) writePump(ctx context.Context, events <-chan loop.Event) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	// 写失败后关闭底层连接，让 readPump 的阻塞读返回。
	defer c.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.write(outgoingMessage{Type: "closed", RoomID: c.roomID, Timestamp: time.Now().UnixMilli()})
				return
			}
			if err := c.write(outgoingMessage{Type: string(ev.Type), RoomID: c.roomID, Data: ev, Timestamp: time.Now().UnixMilli()}); err != nil {
				return
			}
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (c *connection) write(msg outgoingMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug().Err(err).Str("type", msg.Type).Msg("websocket write failed")
		return err
	}
	return nil
}

func (c *connection) send(ctx context.Context, msgType string, data any) {
	select {
	case c.out <- outgoingMessage{Type: msgType, RoomID: c.roomID, Data: data, Timestamp: time.Now().UnixMilli()}:
	case <-ctx.Done():
	}
}

func (c *connection) sendError(ctx context.Context, message string, err error) {
	c.send(ctx, "error", utils.ErrorBody{Error: message, Kind: errs.Kind(err)})
}
