// Package ws pushes live market events over WebSocket. The hub bridges
// the in-process news feed to connected clients so dashboards and bots
// can react without polling.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/aiverse/aiverse-api/internal/news"
)

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1024

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Agents connect from anywhere inside the sandbox.
		return true
	},
}

// client is a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	kind string // "", "news" or "trade"
}

// filterMsg lets a client narrow the stream to one event kind.
// {"filter":"trade"} or {"filter":""} to reset.
type filterMsg struct {
	Filter string `json:"filter"`
}

// Hub fans events from the feed out to every connected client.
type Hub struct {
	feed       *news.Feed
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

func NewHub(feed *news.Feed) *Hub {
	return &Hub{
		feed:       feed,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run drives the hub until the context is cancelled. Call it in its
// own goroutine before the server starts accepting connections.
func (h *Hub) Run(ctx context.Context) error {
	events, cancel := h.feed.Subscribe(sendBufferSize)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			log.Info().Int("total_clients", h.clientCount()).Msg("ws client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			log.Info().Int("total_clients", h.clientCount()).Msg("ws client disconnected")

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(ev.Kind) {
					continue
				}
				select {
				case c.send <- data:
				default:
					log.Warn().Msg("ws dropping event for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Handler upgrades the request and registers the client.
// GET /ws
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Msg("ws upgrade failed")
			return
		}

		cl := &client{
			hub:  h,
			conn: conn,
			send: make(chan []byte, sendBufferSize),
		}
		h.register <- cl

		go cl.writePump()
		go cl.readPump()
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) wants(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kind == "" || c.kind == kind
}

// readPump consumes client frames. The only message clients send is an
// optional stream filter.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("ws unexpected close")
			}
			return
		}

		var f filterMsg
		if err := json.Unmarshal(message, &f); err == nil {
			c.mu.Lock()
			c.kind = f.Filter
			c.mu.Unlock()
		}
	}
}

// writePump sends queued events as text frames and periodic pings for
// keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
