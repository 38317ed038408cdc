// Package ws implements the websocket fanout for agent dashboards and
// widget sessions. Agents receive every conversation update; widget
// sessions receive only messages addressed to their contact id.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

type targetedMessage struct {
	contactID string
	data      []byte
}

// Hub tracks connected websocket clients and fans events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	targeted   chan targetedMessage
	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		targeted:   make(chan targetedMessage, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With("component", "ws_hub"),
	}
}

// Run processes hub events until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.logger.Info("Hub stopped, all clients disconnected")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("Client connected", "contact_id", client.contactID, "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug("Client disconnected", "total", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if client.contactID != "" {
					continue // widget sessions only get targeted messages
				}
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}

		case tm := <-h.targeted:
			for client := range h.clients {
				if client.contactID != tm.contactID {
					continue
				}
				select {
				case client.send <- tm.data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Broadcast sends an event to all connected agent clients.
func (h *Hub) Broadcast(message any) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast channel full, dropping event")
	}
}

// Push sends a payload to the widget sessions of one contact. It satisfies
// the web-chat adapter's sink contract.
func (h *Hub) Push(contactID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal targeted message", "error", err)
		return
	}
	select {
	case h.targeted <- targetedMessage{contactID: contactID, data: data}:
	default:
		h.logger.Warn("Targeted channel full, dropping message", "contact_id", contactID)
	}
}
