package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/narvanalabs/formlog/internal/stream"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// StreamHandler pushes newly appended lines to WebSocket viewers.
type StreamHandler struct {
	broker   *stream.Broker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(broker *stream.Broker, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Stream handles GET /stream.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", "error", err)
		return
	}
	defer conn.Close()

	sub := h.broker.Subscribe()
	defer h.broker.Unsubscribe(sub)

	h.logger.Info("stream viewer connected", "subscriber_id", sub.ID, "remote_addr", r.RemoteAddr)

	// The read loop only handles control frames; it ends when the client goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Info("stream viewer disconnected", "subscriber_id", sub.ID)
			return
		case <-r.Context().Done():
			return
		case line, ok := <-sub.Ch:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
