package presentation

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// UI event types sent by renderers.
const (
	EventReady = "ready"
	EventClick = "click"
	EventError = "error"
)

// UIEvent is a message from a renderer.
type UIEvent struct {
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
}

// ClickHandler reacts to a click on the companion.
type ClickHandler interface {
	Click()
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

// Hub fans state changes out to every connected renderer. A renderer that
// cannot keep up is disconnected instead of blocking the others.
type Hub struct {
	state    *State
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	clicks  ClickHandler
	unsub   func()
}

func NewHub(state *State) *Hub {
	h := &Hub{
		state: state,
		upgrader: websocket.Upgrader{
			// Renderers are local webviews and terminals; the API layer
			// authenticates the upgrade request.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  slog.Default(),
		clients: make(map[*client]struct{}),
	}
	h.unsub = state.Subscribe(h.broadcast)
	return h
}

// SetClickHandler sets the receiver of renderer clicks.
func (h *Hub) SetClickHandler(c ClickHandler) {
	h.mu.Lock()
	h.clicks = c
	h.mu.Unlock()
}

// Clients returns the number of connected renderers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves one renderer until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan Message, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("renderer connected", "renderer_id", c.id)

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every renderer and stops listening to state changes.
func (h *Hub) Close() {
	h.unsub()
	h.mu.Lock()
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(c)
		h.mu.Unlock()
		c.conn.Close()
		h.logger.Info("renderer disconnected", "renderer_id", c.id)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev UIEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("renderer read failed", "renderer_id", c.id, "error", err)
			}
			return
		}
		h.handleEvent(c, ev)
	}
}

func (h *Hub) handleEvent(c *client, ev UIEvent) {
	switch ev.Type {
	case EventReady:
		snap := h.state.Snapshot()
		h.sendTo(c, Message{Type: MessageState, State: &snap})
	case EventClick:
		h.mu.Lock()
		clicks := h.clicks
		h.mu.Unlock()
		if clicks != nil {
			clicks.Click()
		}
	case EventError:
		h.logger.Warn("renderer failed to load asset, switching to fallback", "renderer_id", c.id, "detail", ev.Detail)
		h.state.SetFallback()
	default:
		h.logger.Debug("ignoring unknown renderer event", "renderer_id", c.id, "type", ev.Type)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Warn("renderer write failed", "renderer_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.enqueueLocked(c, msg)
	}
}

func (h *Hub) sendTo(c *client, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.enqueueLocked(c, msg)
	}
}

func (h *Hub) enqueueLocked(c *client, msg Message) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("renderer too slow, disconnecting", "renderer_id", c.id)
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}
