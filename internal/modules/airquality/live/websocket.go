// Package live pushes accepted readings to browsers over WebSocket.
//
// Every connection is its own hub subscriber. A connection whose peer goes
// away, or whose write fails, is unsubscribed without affecting the others.
package live

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"airdetect/internal/modules/airquality/types"
	"airdetect/internal/pubsub"
)

// Path is the fixed live-update topic endpoint.
const Path = "/ws/air-data"

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxReadSize  = 512
)

// Hub is the subset of *pubsub.Hub the handler needs.
type Hub interface {
	Subscribe(name string, buffer int) (*pubsub.Subscription[types.Reading], error)
	Unsubscribe(sub *pubsub.Subscription[types.Reading])
}

type Handler struct {
	hub      Hub
	buffer   int
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub Hub, buffer int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:    hub,
		buffer: buffer,
		logger: logger.With("component", "live-ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard may be served from another origin; the feed is read-only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET "+Path, h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub, err := h.hub.Subscribe("ws", h.buffer)
	if err != nil {
		h.logger.Warn("websocket subscribe failed", "remote", r.RemoteAddr, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	h.logger.Info("websocket client connected", "remote", r.RemoteAddr, "subscription", sub.ID())
	h.serve(conn, sub)
	h.logger.Info("websocket client disconnected", "remote", r.RemoteAddr, "subscription", sub.ID(), "dropped", sub.Dropped())
}

func (h *Handler) serve(conn *websocket.Conn, sub *pubsub.Subscription[types.Reading]) {
	defer func() { _ = conn.Close() }()
	defer h.hub.Unsubscribe(sub)

	peerGone := make(chan struct{})
	go readPump(conn, peerGone)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case reading, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(reading); err != nil {
				h.logger.Warn("websocket write failed", "subscription", sub.ID(), "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debug("websocket ping failed", "subscription", sub.ID(), "error", err)
				return
			}
		case <-peerGone:
			return
		}
	}
}

// readPump discards client frames; it exists to process control frames and
// notice when the peer closes.
func readPump(conn *websocket.Conn, peerGone chan<- struct{}) {
	defer close(peerGone)
	conn.SetReadLimit(maxReadSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
