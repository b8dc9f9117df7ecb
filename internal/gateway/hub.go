package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/khive-ai/khive-gateway/internal/coordination"
	"github.com/khive-ai/khive-gateway/internal/metrics"
	"github.com/khive-ai/khive-gateway/internal/models"
)

const (
	// Frame types pushed to dashboard clients.
	frameSnapshot = "snapshot"
	frameState    = "state"

	hubSendBuffer   = 16
	hubWriteTimeout = 10 * time.Second
	hubPingInterval = 15 * time.Second
	hubPongWait     = 40 * time.Second
	hubReadLimit    = 512
)

// stateFrame is one message on the dashboard stream. Clients get a snapshot
// frame on attach and a state frame per store change after that.
type stateFrame struct {
	Type  string               `json:"type"`
	State models.StateSnapshot `json:"state"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans the reconciled state out to dashboard WebSocket clients. A single
// goroutine owns the client set; attach, detach, and broadcast all go through
// its channels. Clients that cannot keep up are dropped rather than allowed
// to stall the stream for everyone else.
type Hub struct {
	coord   coordination.ClientInterface
	logger  *log.Logger
	metrics *metrics.CoordinationMetrics

	upgrader websocket.Upgrader

	register   chan *hubClient
	unregister chan *hubClient
	broadcast  chan models.StateSnapshot

	started atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub creates a state fan-out hub over the coordination client.
func NewHub(coord coordination.ClientInterface, logger *log.Logger, m *metrics.CoordinationMetrics) *Hub {
	return &Hub{
		coord:   coord,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				// Dashboard origins are not pinned; auth happens via JWT
				// before the upgrade.
				return true
			},
		},
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		broadcast:  make(chan models.StateSnapshot, 1),
		done:       make(chan struct{}),
	}
}

// Start subscribes the hub to state changes and launches the fan-out loop.
func (h *Hub) Start(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	unsubscribe := h.coord.OnChange(h.publish)
	go h.run(runCtx, unsubscribe)
}

// Stop detaches every client and waits for the fan-out loop to exit.
func (h *Hub) Stop() {
	if !h.started.Load() || !h.stopped.CompareAndSwap(false, true) {
		return
	}
	h.cancel()
	<-h.done
}

// publish hands a fresh snapshot to the fan-out loop. The broadcast slot
// holds one snapshot; a newer one displaces an unconsumed older one, so
// clients always converge on the latest state even when changes outpace the
// loop.
func (h *Hub) publish(snap models.StateSnapshot) {
	for {
		select {
		case h.broadcast <- snap:
			return
		case <-h.done:
			return
		default:
		}
		select {
		case <-h.broadcast:
		default:
		}
	}
}

func (h *Hub) run(ctx context.Context, unsubscribe func()) {
	defer close(h.done)
	defer unsubscribe()

	clients := make(map[*hubClient]struct{})
	detach := func(client *hubClient) {
		if _, ok := clients[client]; !ok {
			return
		}
		delete(clients, client)
		close(client.send)
		client.conn.Close()
		h.metrics.RecordClientDetached(ctx)
	}

	for {
		select {
		case client := <-h.register:
			clients[client] = struct{}{}
			h.metrics.RecordClientAttached(ctx)
			data, err := json.Marshal(stateFrame{Type: frameSnapshot, State: h.coord.State()})
			if err != nil {
				h.logger.Error("failed to marshal snapshot frame", "error", err)
				detach(client)
				continue
			}
			// The send buffer of a freshly attached client is empty; the
			// snapshot frame always fits.
			client.send <- data
			h.logger.Debug("state stream client attached", "clients", len(clients))

		case client := <-h.unregister:
			detach(client)

		case snap := <-h.broadcast:
			data, err := json.Marshal(stateFrame{Type: frameState, State: snap})
			if err != nil {
				h.logger.Error("failed to marshal state frame", "seq", snap.Seq, "error", err)
				continue
			}
			for client := range clients {
				select {
				case client.send <- data:
				default:
					h.logger.Warn("dropping slow state stream client")
					detach(client)
				}
			}

		case <-ctx.Done():
			for client := range clients {
				detach(client)
			}
			return
		}
	}
}

// Attach handles WebSocket /api/ws/state
// @Summary Stream reconciled state
// @Description WebSocket endpoint pushing a snapshot frame on attach, then one state frame per change
// @Tags state
// @Param token query string false "JWT token (alternative to the Authorization header)"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /ws/state [get]
func (h *Hub) Attach(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", "error", err, "client", c.ClientIP())
		return
	}

	client := &hubClient{
		conn: conn,
		send: make(chan []byte, hubSendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	operatorID, _ := c.Get("operator_id")
	h.logger.Info("state stream attached", "operator_id", operatorID, "client", c.ClientIP())

	go h.writeLoop(client)
	go h.readLoop(client)
}

// writeLoop is the only writer on the client connection. It pushes queued
// frames and keepalive pings until the send channel closes or a write fails.
func (h *Hub) writeLoop(client *hubClient) {
	ticker := time.NewTicker(hubPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.detach(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.detach(client)
				return
			}
		}
	}
}

// readLoop discards inbound messages; the stream is one-way. It exists to
// notice closed connections and answer pings.
func (h *Hub) readLoop(client *hubClient) {
	client.conn.SetReadLimit(hubReadLimit)
	client.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.detach(client)
}

func (h *Hub) detach(client *hubClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
