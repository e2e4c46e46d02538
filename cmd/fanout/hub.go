package main

import (
	"sync"
)

// Message is one event payload addressed to a tenant's subscribers.
type Message struct {
	TenantID   string
	WorkflowID string
	RunID      string
	Data       []byte
}

// Hub tracks live WebSocket subscribers per tenant and routes event payloads
// to the ones whose filters match.
type Hub struct {
	log Logger

	mu      sync.RWMutex
	tenants map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
}

// NewHub creates a hub.
func NewHub(log Logger) *Hub {
	return &Hub{
		log:        log,
		tenants:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
	}
}

// Run routes registrations and broadcasts until the channel feeding broadcast
// closes the process down.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.tenants[client.tenantID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.tenants[client.tenantID] = set
	}
	set[client] = struct{}{}
	h.log.Info("subscriber connected", "tenant_id", client.tenantID,
		"workflow_filter", client.workflowID, "run_filter", client.runID)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.tenants[client.tenantID]
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.tenants, client.tenantID)
	}
	h.log.Info("subscriber disconnected", "tenant_id", client.tenantID)
}

// deliver fans one message out to every matching subscriber. A subscriber
// that cannot keep up is dropped rather than allowed to stall the hub.
func (h *Hub) deliver(msg *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.tenants[msg.TenantID] {
		if !client.wants(msg) {
			continue
		}
		select {
		case client.send <- msg.Data:
		default:
			h.log.Warn("subscriber too slow, dropping", "tenant_id", msg.TenantID)
			close(client.send)
			delete(h.tenants[msg.TenantID], client)
		}
	}
}

// ConnectionCount reports the number of live subscribers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.tenants {
		n += len(set)
	}
	return n
}
