// Package events fans out engine activity to dashboard clients over
// Server-Sent Events: one event per decision, fill, status transition,
// and account snapshot.
package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perp-agent/logger"
)

// Type tags the kind of activity an event describes.
type Type string

const (
	TypeDecision Type = "decision"
	TypeTrade    Type = "trade"
	TypeStatus   Type = "status"
	TypeAccount  Type = "account"
	TypeError    Type = "error"
)

// Event is one notification pushed to connected clients.
type Event struct {
	Type      Type        `json:"type"`
	Coin      string      `json:"coin,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Hub maintains the set of connected clients and broadcasts events to
// them. Slow clients are disconnected rather than allowed to block the
// trading loop.
type Hub struct {
	clients map[chan []byte]bool

	broadcast  chan []byte
	register   chan chan []byte
	unregister chan chan []byte

	mu  sync.Mutex
	log zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[chan []byte]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		log:        logger.Component("events"),
	}
}

// Run owns the client registry. Start it once, in its own goroutine,
// before the first Broadcast.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", n).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", n).Msg("client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					close(client)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an event for all connected clients. It never blocks:
// if the hub is saturated the event is dropped, since the store remains
// the durable record.
func (h *Hub) Broadcast(evt Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(evt.Type)).Msg("marshal event")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.log.Warn().Str("type", string(evt.Type)).Msg("event dropped, hub saturated")
	}
}

// ServeHTTP handles one SSE connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := make(chan []byte, 256)
	h.register <- client
	defer func() { h.unregister <- client }()

	fmt.Fprintf(w, "data: %s\n\n", `{"type":"sys","message":"connected"}`)
	flusher.Flush()

	// Comment lines keep idle connections alive through proxies.
	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case msg, ok := <-client:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
