package tick

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/atmx/flow-engine/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// inboundBuffer bounds frames queued between the read pump and the
	// session goroutine.
	inboundBuffer = 16
)

// wsConn adapts a gorilla connection to Conn. The session goroutine is the
// only data writer; pings go through WriteControl, which gorilla allows
// concurrently.
type wsConn struct {
	conn    *websocket.Conn
	inbound chan []byte
	done    chan struct{}
	once    sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn:    conn,
		inbound: make(chan []byte, inboundBuffer),
		done:    make(chan struct{}),
	}
}

func (c *wsConn) Send(_ context.Context, frame []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Inbound() <-chan []byte {
	return c.inbound
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump forwards client frames until the connection fails.
func (c *wsConn) readPump() {
	defer close(c.inbound)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

// pingLoop keeps the connection alive through proxies.
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Hub tracks open WebSocket sessions and runs the protocol on each.
type Hub struct {
	coord      *Coordinator
	clients    map[string]*wsConn
	register   chan registration
	unregister chan string
	stopped    chan struct{}
	mu         sync.RWMutex
}

type registration struct {
	id   string
	conn *wsConn
}

// NewHub creates a hub serving coord's protocol.
func NewHub(coord *Coordinator) *Hub {
	return &Hub{
		coord:      coord,
		clients:    make(map[string]*wsConn),
		register:   make(chan registration),
		unregister: make(chan string),
		stopped:    make(chan struct{}),
	}
}

// Run is the hub's bookkeeping loop. Must be called in a goroutine. When
// ctx is cancelled every open connection is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.id] = reg.conn
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "session", reg.id, "total", n)

		case id := <-h.unregister:
			h.mu.Lock()
			if c, ok := h.clients[id]; ok {
				delete(h.clients, id)
				c.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				c.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return
		}
	}
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws and serves
// the protocol until the client leaves. The session id is returned in the
// X-Session-ID response header.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()
	conn, err := upgrader.Upgrade(w, r, http.Header{"X-Session-ID": []string{id}})
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := newWSConn(conn)
	select {
	case h.register <- registration{id: id, conn: c}:
	case <-h.stopped:
		c.Close()
		return
	}
	defer func() {
		select {
		case h.unregister <- id:
		case <-h.stopped:
			c.Close()
		}
	}()

	go c.readPump()
	go c.pingLoop()

	// The session outlives request-scoped timeouts; it ends when the client
	// disconnects or the hub closes the connection.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	if err := h.coord.Serve(ctx, id, c); err != nil {
		slog.Warn("session ended with error", "session", id, "err", err)
	}
}
