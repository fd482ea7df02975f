package handler

import (
	"net/http"
	"time"

	"duel_arena/internal/api/middleware"
	"duel_arena/internal/platform/eventbus"
	"duel_arena/internal/platform/logger"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// EventHandler streams a participant's events over a WebSocket.
type EventHandler struct {
	hub      *eventbus.Hub
	upgrader websocket.Upgrader
}

// NewEventHandler accepts browser origins from allowedOrigins; "*" allows any.
func NewEventHandler(hub *eventbus.Hub, allowedOrigins []string) *EventHandler {
	h := &EventHandler{hub: hub}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func (h *EventHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/ws", h.stream)
}

func (h *EventHandler) stream(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	// Subscribed before the handshake completes so nothing published right after it is missed.
	sub := h.hub.Subscribe(pid)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		h.hub.Unsubscribe(sub)
		logger.Warn(r.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	ctx := r.Context()
	logger.Info(ctx, "event stream opened")

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)

	h.hub.Unsubscribe(sub)
	conn.Close()
	logger.Info(ctx, "event stream closed")
}

// readPump only services control frames; anything the client sends is ignored. It
// closes done when the peer goes away.
func (h *EventHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHandler) writePump(conn *websocket.Conn, sub *eventbus.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case e, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
