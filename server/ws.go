package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// eventHub fans run-completion events out to websocket subscribers.
type eventHub struct {
	logger    *log.Logger
	upgrader  websocket.Upgrader
	clients   sync.Map // *websocket.Conn -> struct{}
	broadcast chan []byte
	done      chan struct{}
}

func newEventHub(logger *log.Logger) *eventHub {
	return &eventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
	}
}

func (h *eventHub) start() {
	go h.handleBroadcasts()
}

func (h *eventHub) stop() {
	close(h.done)
	h.clients.Range(func(key, _ any) bool {
		key.(*websocket.Conn).Close()
		return true
	})
}

func (h *eventHub) handleBroadcasts() {
	for {
		select {
		case msg := <-h.broadcast:
			h.clients.Range(func(key, _ any) bool {
				conn := key.(*websocket.Conn)
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.clients.Delete(conn)
					conn.Close()
				}
				return true
			})
		case <-h.done:
			return
		}
	}
}

// publish queues an event for every connected client. Events are dropped
// when the broadcast buffer is full rather than blocking a solver run.
func (h *eventHub) publish(event string, data any) {
	msg, err := json.Marshal(map[string]any{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	})
	if err != nil {
		h.logger.Printf("[SERVER] event marshal failed: %v", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Printf("[SERVER] event dropped, broadcast buffer full")
	}
}

func (h *eventHub) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[SERVER] websocket upgrade failed: %v", err)
		return
	}

	h.clients.Store(conn, struct{}{})
	h.logger.Printf("[SERVER] websocket client connected from %s", r.RemoteAddr)

	defer func() {
		h.clients.Delete(conn)
		conn.Close()
		h.logger.Printf("[SERVER] websocket client disconnected")
	}()

	// Clients are listen-only; the read loop just detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
