package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"aeroclock/internal/domain"
)

// Hub pushes ring state frames to connected panel clients.
// Params: none beyond logger.
// Returns: broadcast fan-out over WebSocket connections.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates the panel hub.
// Params: logger.
// Returns: ready hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// HandleConnection upgrades one panel client to WebSocket.
// The read loop only drains client frames to detect disconnects.
// Params: HTTP request/response pair.
// Returns: blocks until the connection closes.
func (h *Hub) HandleConnection(writer http.ResponseWriter, request *http.Request) {
	conn, err := h.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		h.logger.Warn("panel upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("panel connected", "remote", conn.RemoteAddr().String())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
	h.logger.Debug("panel disconnected", "remote", conn.RemoteAddr().String())
}

// Present broadcasts one ring frame to all panels.
// Params: ring event payload.
// Returns: none, failed connections are dropped.
func (h *Hub) Present(event domain.RingEvent) {
	h.broadcast(event)
}

// Clear broadcasts a session-cleared frame to all panels.
// Params: resolved session id.
// Returns: none.
func (h *Hub) Clear(sessionID string) {
	h.broadcast(domain.RingEvent{Kind: "cleared", SessionID: sessionID})
}

// broadcast writes one JSON frame to every connection.
// Params: frame payload.
// Returns: none, write failures evict the connection.
func (h *Hub) broadcast(frame any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteJSON(frame); err != nil {
			h.logger.Warn("panel write failed", "remote", conn.RemoteAddr().String(), "error", err)
			_ = conn.Close()
			delete(h.conns, conn)
		}
	}
}

// Close drops all panel connections on shutdown.
// Params: none.
// Returns: none.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.Close()
		delete(h.conns, conn)
	}
}
