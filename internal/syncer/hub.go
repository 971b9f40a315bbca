// Package syncer fans record store mutations out to connected websocket
// clients. One hub goroutine owns the subscriber set, so subscription
// churn and broadcasting never race; events reach each subscriber in the
// order the store appended them.
package syncer

import (
	"context"
	"encoding/json"

	"github.com/landrop/server/internal/models"
	"github.com/landrop/server/internal/store"
	"github.com/landrop/server/pkg/logger"
)

const (
	// clientQueueSize bounds the per-client outbound buffer. A client that
	// falls this far behind is dropped rather than allowed to stall the hub;
	// it reconciles through a snapshot fetch when it reconnects.
	clientQueueSize = 64
)

type envelope struct {
	Type   string            `json:"type"`
	Record models.PublicView `json:"record"`
}

// Client is one live subscription. Messages arrive on Outbound as marshaled
// JSON frames; the channel closes when the hub drops the client.
type Client struct {
	scope store.Scope
	send  chan []byte
}

func (c *Client) Outbound() <-chan []byte {
	return c.send
}

func (c *Client) Scope() store.Scope {
	return c.scope
}

type Hub struct {
	events     <-chan store.Event
	register   chan *Client
	unregister chan *Client
	clients    map[*Client]struct{}
}

func NewHub(events <-chan store.Event) *Hub {
	return &Hub{
		events:     events,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]struct{}),
	}
}

// Run owns the subscriber set until ctx is done. It must be running before
// Subscribe is called.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case event, ok := <-h.events:
			if !ok {
				return
			}
			h.broadcast(event)
		}
	}
}

// Subscribe registers a new client for events matching scope.
func (h *Hub) Subscribe(scope store.Scope) *Client {
	client := &Client{
		scope: scope,
		send:  make(chan []byte, clientQueueSize),
	}
	h.register <- client
	return client
}

// Unsubscribe detaches a client; safe to call for an already-dropped client.
func (h *Hub) Unsubscribe(client *Client) {
	h.unregister <- client
}

func (h *Hub) broadcast(event store.Event) {
	// Two renderings of the same event: desktop subscribers see the file
	// path, device-scoped subscribers do not.
	var withPath, withoutPath []byte
	var marshalFailed bool
	var stalled []*Client

	for client := range h.clients {
		if !client.scope.Includes(event.Record.DeviceID) {
			continue
		}

		var frame []byte
		if client.scope.All {
			if withPath == nil && !marshalFailed {
				withPath = marshalEvent(event, true)
				marshalFailed = withPath == nil
			}
			frame = withPath
		} else {
			if withoutPath == nil && !marshalFailed {
				withoutPath = marshalEvent(event, false)
				marshalFailed = withoutPath == nil
			}
			frame = withoutPath
		}
		if frame == nil {
			// An unmarshalable event is skipped; the rest of the broadcast,
			// and the stalled-client cleanup below, still run.
			continue
		}

		select {
		case client.send <- frame:
		default:
			// Never let one stalled client hold back the rest.
			stalled = append(stalled, client)
		}
	}

	for _, client := range stalled {
		logger.Warn("sync_client_dropped", map[string]interface{}{
			"scope_all": client.scope.All,
			"device_id": client.scope.DeviceID,
		})
		h.drop(client)
	}
}

// marshalEvent is an indirection for tests.
var marshalEvent = marshal

func marshal(event store.Event, includePath bool) []byte {
	frame, err := json.Marshal(envelope{
		Type:   string(event.Kind),
		Record: store.PublicView(event.Record, includePath),
	})
	if err != nil {
		logger.Error("sync_marshal_failed", map[string]interface{}{"error": err})
		return nil
	}
	return frame
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
}
