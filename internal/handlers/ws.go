package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/landrop/server/internal/middleware"
	"github.com/landrop/server/internal/models"
	"github.com/landrop/server/internal/session"
	"github.com/landrop/server/internal/store"
	"github.com/landrop/server/internal/syncer"
	"github.com/landrop/server/pkg/logger"
)

const (
	wsPingInterval = 20 * time.Second
	wsPongWait     = 60 * time.Second
	wsWriteWait    = 10 * time.Second
)

// WSHandler upgrades paired devices onto the live record feed. Every
// connection first gets a full snapshot, then incremental events; a client
// that missed events while disconnected reconciles through the next snapshot.
type WSHandler struct {
	Store *store.RecordStore
	Hub   *syncer.Hub

	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
}

func NewWSHandler(recordStore *store.RecordStore, hub *syncer.Hub) *WSHandler {
	return &WSHandler{
		Store:        recordStore,
		Hub:          hub,
		pingInterval: wsPingInterval,
		pongWait:     wsPongWait,
		writeWait:    wsWriteWait,
	}
}

// Upgrade gates GET /ws. The session middleware has already resolved the
// device; its context is carried into the connection via Locals.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// Serve returns the connection handler for the upgraded socket.
func (h *WSHandler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		device, _ := conn.Locals(middleware.DeviceContextKey).(*session.DeviceContext)
		if device == nil {
			conn.Close()
			return
		}
		h.serve(conn, device)
	})
}

func (h *WSHandler) serve(conn *websocket.Conn, device *session.DeviceContext) {
	scope := store.DeviceScope(device.DeviceID)
	if device.Desktop {
		scope = store.DesktopScope()
	}

	// Snapshot before subscribing: an event raced between the two is
	// delivered twice at worst, never lost.
	if err := h.sendSnapshot(conn, scope, device.Desktop); err != nil {
		conn.Close()
		return
	}
	client := h.Hub.Subscribe(scope)
	defer h.Hub.Unsubscribe(client)

	pong := make(chan struct{}, 1)
	done := make(chan struct{})
	go h.readLoop(conn, pong, done)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(h.pongWait)
	defer deadline.Stop()

	for {
		select {
		case payload, ok := <-client.Outbound():
			if !ok {
				// Dropped by the hub for falling behind.
				logger.WarnWithDevice(device.DeviceID, "sync_client_stalled", nil)
				conn.Close()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
				conn.Close()
				return
			}
		case <-pong:
			if !deadline.Stop() {
				<-deadline.C
			}
			deadline.Reset(h.pongWait)
		case <-deadline.C:
			logger.WarnWithDevice(device.DeviceID, "sync_client_timeout", nil)
			conn.Close()
			return
		case <-done:
			return
		}
	}
}

// readLoop drains inbound frames. The only application message clients send
// is the keepalive answer.
func (h *WSHandler) readLoop(conn *websocket.Conn, pong chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(payload, &msg) != nil {
			continue
		}
		if msg.Type == "pong" {
			select {
			case pong <- struct{}{}:
			default:
			}
		}
	}
}

func (h *WSHandler) sendSnapshot(conn *websocket.Conn, scope store.Scope, includePath bool) error {
	records, err := h.Store.List(scope)
	if err != nil {
		return err
	}
	views := make([]models.PublicView, 0, len(records))
	for _, record := range records {
		views = append(views, store.PublicView(record, includePath))
	}
	payload, err := json.Marshal(map[string]interface{}{
		"type":    "init",
		"records": views,
	})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
