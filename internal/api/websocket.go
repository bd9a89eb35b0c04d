package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"weex-trading-bot/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens at the route level; origins are filtered by CORS config
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans status updates out to connected websocket clients. Slow clients
// are dropped rather than allowed to back-pressure the trading loop.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]chan []byte
	broadcast chan []byte
	logger    *logging.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]chan []byte),
		broadcast: make(chan []byte, 64),
		logger:    logging.Default().WithComponent("websocket"),
	}
}

// Broadcast queues a message for all clients. Never blocks; drops the
// message if the queue is full.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Run pumps broadcast messages to clients until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn, ch := range h.clients {
				select {
				case ch <- msg:
				default:
					h.logger.Warn("Dropping slow websocket client", "remote", conn.RemoteAddr().String())
					delete(h.clients, conn)
					close(ch)
				}
			}
			h.mu.Unlock()
		}
	}
}

// HandleConnection upgrades the request and registers the client.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	h.logger.Info("Websocket client connected", "remote", conn.RemoteAddr().String())

	go h.writer(conn, ch)
	go h.reader(conn)
}

func (h *Hub) writer(conn *websocket.Conn, ch chan []byte) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	defer conn.Close()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(conn)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(conn)
				return
			}
		}
	}
}

// reader discards client messages and detects disconnects.
func (h *Hub) reader(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		close(ch)
		conn.Close()
		delete(h.clients, conn)
	}
}
