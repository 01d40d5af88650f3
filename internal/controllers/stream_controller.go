package controllers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/secureflow/backend/internal/logger"
	"github.com/secureflow/backend/internal/services"
	"github.com/secureflow/backend/internal/stream"
)

// Transport names reported in logs and metrics.
const (
	TransportSSE = "sse"
	TransportWS  = "ws"
)

const wsWriteWait = 10 * time.Second

type StreamController struct {
	logs     *services.LogService
	upgrader websocket.Upgrader
}

// NewStreamController creates the live subscription endpoints. An empty
// allowedOrigin accepts WebSocket upgrades from any origin.
func NewStreamController(logs *services.LogService, allowedOrigin string) *StreamController {
	return &StreamController{
		logs: logs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// Events streams the snapshot and live updates as server-sent events.
func (sc *StreamController) Events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub := sc.logs.Subscribe(TransportSSE)
	defer sc.logs.Unsubscribe(sub)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return false
			}
			c.SSEvent(string(msg.Type), msg)
			return true
		case <-ctx.Done():
			return false
		}
	})

	logger.WithSubscriber(sub.ID(), sub.Transport()).WithField("reason", sub.Reason()).Debug("Event stream closed")
}

// WebSocket streams the same messages as Events over a WebSocket. Frames
// sent by the client are read and discarded.
func (sc *StreamController) WebSocket(c *gin.Context) {
	conn, err := sc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade websocket", map[string]interface{}{
			"error":     err.Error(),
			"client_ip": c.ClientIP(),
		})
		return
	}
	defer conn.Close()

	sub := sc.logs.Subscribe(TransportWS)
	defer sc.logs.Unsubscribe(sub)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				sc.closeWebSocket(conn, sub)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.WithSubscriber(sub.ID(), sub.Transport()).WithField("error", err.Error()).Debug("Websocket write failed")
				return
			}
		case <-closed:
			return
		}
	}
}

// closeWebSocket tells the client why the server dropped it.
func (sc *StreamController) closeWebSocket(conn *websocket.Conn, sub *stream.Subscriber) {
	code := websocket.CloseNormalClosure
	switch sub.Reason() {
	case stream.ReasonOverflow:
		code = websocket.ClosePolicyViolation
	case stream.ReasonShutdown:
		code = websocket.CloseGoingAway
	}
	msg := websocket.FormatCloseMessage(code, sub.Reason())
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
