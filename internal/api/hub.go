package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one websocket subscriber. An empty userID receives every signal.
type client struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// Hub pushes new signals to websocket subscribers.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	logger  ports.Logger
}

var _ ports.SignalBroadcaster = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger ports.Logger) *Hub {
	return &Hub{clients: make(map[*client]bool), logger: logger}
}

// Broadcast queues sig for every matching subscriber. Subscribers whose
// buffer is full are disconnected rather than blocking the caller.
func (h *Hub) Broadcast(sig *domain.Signal) {
	msg, err := json.Marshal(signalEvent{Type: "signal", Signal: toSignalView(sig)})
	if err != nil {
		h.logger.Error(context.Background(), err, "Failed to encode signal for websocket", map[string]interface{}{"signal_id": sig.ID})
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.userID != "" && c.userID != sig.UserID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.removeLocked(c)
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// serve upgrades the request and pumps signals until the peer goes away.
func (h *Hub) serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn(c.Request.Context(), "Websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	cl := &client{conn: conn, userID: c.Query("user_id"), send: make(chan []byte, clientSendSize)}
	h.add(cl)
	h.logger.Debug(c.Request.Context(), "Websocket subscriber connected", map[string]interface{}{"user_id": cl.userID})

	go h.readPump(cl)
	h.writePump(cl)
}

// readPump discards inbound frames and unregisters the client on close.
func (h *Hub) readPump(cl *client) {
	defer h.remove(cl)
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(cl)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(cl)
				return
			}
		}
	}
}
