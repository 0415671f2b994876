package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"torrentd/internal/events"
	"torrentd/internal/metrics"
)

type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type wsClient struct {
	hub  *wsHub
	conn *websocket.Conn
	send chan []byte
}

// wsHub fans bus envelopes out to connected WebSocket clients. A pump
// goroutine holds one bus subscription; slow clients are dropped rather than
// ever stalling the pump.
type wsHub struct {
	bus        *events.Bus
	clients    map[*wsClient]bool
	total      atomic.Int64
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	cancel     context.CancelFunc
	logger     *slog.Logger
}

func newWSHub(logger *slog.Logger, bus *events.Bus) *wsHub {
	return &wsHub{
		bus:        bus,
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *wsHub) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.run()
	if h.bus != nil {
		go h.pump(ctx)
	}
}

// run owns h.clients; no other goroutine may touch the map. Everyone else
// observes the hub through h.total.
func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				close(client.send)
				delete(h.clients, client)
			}
			h.setTotal()
			h.logger.Debug("ws hub stopped, all clients disconnected")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.setTotal()
			h.logger.Debug("ws client connected", slog.Int("total", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.setTotal()
				h.logger.Debug("ws client disconnected", slog.Int("total", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.setTotal()
		}
	}
}

func (h *wsHub) setTotal() {
	n := len(h.clients)
	h.total.Store(int64(n))
	metrics.WSClientsConnected.Set(float64(n))
}

// pump relays bus envelopes into the broadcast channel. A lagged subscription
// just means missed envelopes; the stream resumes from wherever the bus is.
func (h *wsHub) pump(ctx context.Context) {
	sub := h.bus.Subscribe()
	defer sub.Cancel()
	for {
		env, err := sub.Next(ctx)
		if err != nil {
			var lagged *events.LaggedError
			if errors.As(err, &lagged) {
				h.logger.Debug("ws pump lagged", slog.Uint64("missed", lagged.Missed))
				continue
			}
			return
		}
		h.Broadcast("event", env)
	}
}

// Close signals the hub to stop and disconnect all clients.
func (h *wsHub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	close(h.done)
}

func (h *wsHub) clientCount() int {
	return int(h.total.Load())
}

// Broadcast sends a typed JSON message to all connected WebSocket clients.
func (h *wsHub) Broadcast(msgType string, data interface{}) {
	if h.total.Load() == 0 {
		return
	}
	msg := wsMessage{Type: msgType, Data: data}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
