// Package ws pushes transaction events to connected dashboards over
// WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be below pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
	replayLimit    = 50
)

// recentSource is implemented by buses that keep a short history.
type recentSource interface {
	Recent(ctx context.Context, channel string, n int) ([][]byte, error)
}

// Config describes the hub's environment.
type Config struct {
	Mode      string
	Account   string
	StartedAt time.Time
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
}

// Hub fans transaction events from the event bus out to WebSocket clients.
// Clients may narrow the stream to specific assets.
type Hub struct {
	bus      domain.EventBus
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	assets map[string]bool // empty means every asset
}

// subscribeMsg narrows or widens a client's asset filter:
//
//	{"action":"subscribe","assets":["tower"]}
type subscribeMsg struct {
	Action string   `json:"action"`
	Assets []string `json:"assets"`
}

// envelope is what clients receive.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.EventBus, cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ws")),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Run forwards bus events until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, domain.ChannelTransactions)
	if err != nil {
		return err
	}
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			h.broadcast(data)
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	var ev domain.TxEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.logger.Warn("dropping malformed event", slog.String("error", err.Error()))
		return
	}
	msg, err := json.Marshal(envelope{Type: ev.Kind, Payload: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev.Transaction.AssetID) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		assets: make(map[string]bool),
	}
	if a := r.URL.Query().Get("assets"); a != "" {
		for _, id := range strings.Split(a, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.assets[id] = true
			}
		}
	}

	c.sendHello()
	n, ok := h.register(c, h.backlog(r.Context(), c))
	if !ok {
		_ = conn.Close()
		return
	}
	h.logger.Info("client connected", slog.Int("clients", n))

	go c.writePump()
	go c.readPump()
}

// register queues backlog and adds c in one step, so live broadcasts land
// after the replayed events. It refuses clients once the hub has shut down.
func (h *Hub) register(c *client, backlog [][]byte) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, false
	}
	for _, msg := range backlog {
		select {
		case c.send <- msg:
		default:
		}
	}
	h.clients[c] = struct{}{}
	return len(h.clients), true
}

// backlog returns recent events for c, oldest first, when the bus keeps
// history.
func (h *Hub) backlog(ctx context.Context, c *client) [][]byte {
	src, ok := h.bus.(recentSource)
	if !ok {
		return nil
	}
	recent, err := src.Recent(ctx, domain.ChannelTransactions, replayLimit)
	if err != nil {
		h.logger.Warn("replay failed", slog.String("error", err.Error()))
		return nil
	}
	out := make([][]byte, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		var ev domain.TxEvent
		if json.Unmarshal(recent[i], &ev) != nil || !c.wants(ev.Transaction.AssetID) {
			continue
		}
		msg, err := json.Marshal(envelope{Type: ev.Kind, Payload: recent[i]})
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *client) wants(assetID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.assets) == 0 || c.assets[assetID]
}

func (c *client) sendHello() {
	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.cfg.Mode,
		"account":        c.hub.cfg.Account,
		"uptime_seconds": int64(time.Since(c.hub.cfg.StartedAt).Seconds()),
	})
	if err != nil {
		return
	}
	msg, err := json.Marshal(envelope{Type: "hello", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.apply(sub)
		}
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Assets {
			c.assets[id] = true
		}
	case "unsubscribe":
		for _, id := range msg.Assets {
			delete(c.assets, id)
		}
	case "all":
		clear(c.assets)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
