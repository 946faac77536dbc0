package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"exitexecutor/src/controller"
	"exitexecutor/src/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 512
)

// PlanEvent is the message pushed to feed clients for every committed change.
type PlanEvent struct {
	Type     string              `json:"type"`
	Strategy model.Strategy      `json:"strategy"`
	Event    string              `json:"event"`
	From     model.State         `json:"from"`
	Removed  bool                `json:"removed"`
	At       time.Time           `json:"at"`
	Plan     controller.PlanView `json:"plan"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans plan changes out to websocket clients. A client that cannot keep
// up with its send buffer is disconnected.
type Hub struct {
	mu       sync.Mutex
	clients  map[*feedClient]struct{}
	buffer   int
	upgrader websocket.Upgrader
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		clients: make(map[*feedClient]struct{}),
		buffer:  buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// PlanChanged implements controller.Observer.
func (h *Hub) PlanChanged(_ context.Context, ch controller.Change) {
	msg, err := json.Marshal(PlanEvent{
		Type:     "plan_changed",
		Strategy: ch.Plan.Strategy,
		Event:    ch.Event,
		From:     ch.From,
		Removed:  ch.Removed,
		At:       ch.At,
		Plan:     controller.NewPlanView(ch.Plan),
	})
	if err != nil {
		logger.WithError(err).Error("failed to encode plan event")
		return
	}
	h.broadcast(msg)
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			logger.WithField("remote", c.conn.RemoteAddr().String()).Warn("Plan feed client too slow, disconnecting")
			h.dropLocked(c)
		}
	}
}

// Clients returns the number of connected feed clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) drop(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *feedClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}

// ServeWS upgrades the request and subscribes the connection to the feed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	logger.WithField("remote", conn.RemoteAddr().String()).Info("Plan feed client connected")

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only exists to process control frames and notice disconnects.
func (h *Hub) readPump(c *feedClient) {
	defer func() {
		h.drop(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxClientFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("Plan feed client closed unexpectedly")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
