package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/observability"
)

const DefaultSendBuffer = 256

// Hub tracks live websocket clients and is the single funnel through which
// the coordinator delivers events. Delivery never blocks: a client whose
// outbound queue is full is dropped.
type Hub struct {
	clients    map[string]*Client
	sendBuffer int
	mu         sync.RWMutex
	// closeSlow closes a dropped client. It runs on its own goroutine since
	// the close handshake may wait on a stalled peer.
	closeSlow func(*Client)
}

// NewHub creates an empty hub.
func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Hub{
		clients:    make(map[string]*Client),
		sendBuffer: sendBuffer,
		closeSlow:  (*Client).close,
	}
}

// Register adds a websocket connection under info.ConnID.
func (h *Hub) Register(conn *websocket.Conn, info ConnInfo) *Client {
	client := &Client{
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		info: info,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[info.ConnID] = client
	return client
}

// Unregister removes a client and closes its outbound queue.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[connID]; ok {
		delete(h.clients, connID)
		close(client.send)
	}
}

// Len reports the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendTo delivers an event to one connection.
func (h *Hub) SendTo(connID string, eventType string, payload any) {
	h.SendToMany([]string{connID}, eventType, payload)
}

// SendToMany delivers an event to each listed connection.
func (h *Hub) SendToMany(connIDs []string, eventType string, payload any) {
	if len(connIDs) == 0 {
		return
	}
	frame, ok := encodeFrame(eventType, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	var slow []*Client
	for _, id := range connIDs {
		if client, exists := h.clients[id]; exists && !client.enqueue(frame) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	h.drop(slow)
}

// Broadcast delivers an event to every connection.
func (h *Hub) Broadcast(eventType string, payload any) {
	frame, ok := encodeFrame(eventType, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	var slow []*Client
	for _, client := range h.clients {
		if !client.enqueue(frame) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	h.drop(slow)
}

// CloseAll closes every connection; read loops then run their own cleanup.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.close()
	}
	log.Printf("closed %d websocket connections", len(clients))
}

// drop closes connections that cannot keep up without waiting for them.
// Their read loops observe the closed socket and disconnect them from the
// coordinator.
func (h *Hub) drop(slow []*Client) {
	for _, client := range slow {
		log.Printf("websocket send buffer full, dropping conn_id=%s", client.info.ConnID)
		observability.IncWSDropped()
		h.publishWSError(client.info, "send buffer full")
		go h.closeSlow(client)
	}
}

func encodeFrame(eventType string, payload any) ([]byte, bool) {
	env, err := models.NewEnvelope(eventType, payload)
	if err != nil {
		log.Printf("websocket encode error: %v", err)
		return nil, false
	}
	frame, err := json.Marshal(env)
	if err != nil {
		log.Printf("websocket encode error: %v", err)
		return nil, false
	}
	return frame, true
}

func (h *Hub) publishWSError(info ConnInfo, reason string) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), observability.WSRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   info.event("ws_error", reason, time.Now()),
	}, headers)
	observability.IncWSEvent("ws_error")
}
