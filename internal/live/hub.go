// Package live broadcasts scheduler notifications to connected
// WebSocket clients, so a UI can watch download state changes without
// polling the REST API.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/tinoosan/streamctl/internal/data"
	"github.com/tinoosan/streamctl/internal/scheduler"
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans scheduler events out to every connected WebSocket client.
// It is itself a scheduler.Listener, registered via Manager.AddListener;
// ordinary HTTP handlers call ServeWS to accept new clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     *slog.Logger

	scheduler.BaseListener
}

// NewHub starts the hub's own goroutine and returns it ready to accept
// clients and receive listener callbacks.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.logger.Debug("ws client connected", "total", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("ws client disconnected", "total", len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// Close disconnects every client and stops the hub's goroutine.
func (h *Hub) Close() {
	close(h.done)
}

// Broadcast marshals a typed message and fans it out to every
// connected client. Never blocks: if the broadcast channel is full,
// the update is dropped rather than stalling the caller.
func (h *Hub) Broadcast(msgType string, data any) {
	if len(h.clients) == 0 {
		return
	}
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", "err", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

// OnDownloadStateChanged implements scheduler.Listener.
func (h *Hub) OnDownloadStateChanged(rec data.DownloadRecord) {
	h.Broadcast("state", rec)
}

// OnRequirementsStateChanged implements scheduler.Listener.
func (h *Hub) OnRequirementsStateChanged(req data.Requirements, notMet uint32) {
	h.Broadcast("requirements", map[string]any{"requirements": req, "notMet": notMet})
}

// OnIdle implements scheduler.Listener.
func (h *Hub) OnIdle() {
	h.Broadcast("idle", nil)
}

var _ scheduler.Listener = (*Hub)(nil)

var acceptOptions = &websocket.AcceptOptions{
	OriginPatterns: []string{"*"},
}

// ServeWS upgrades the request to a WebSocket connection and registers
// the resulting client with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, acceptOptions)
	if err != nil {
		h.logger.Error("ws accept failed", "err", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	go c.writePump()
	c.readPump(r.Context())
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
			writeCtx, cancel := writeContext()
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := writeContext()
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(ctx context.Context) {
	defer func() { c.hub.unregister <- c }()
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func writeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
