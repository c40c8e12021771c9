package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
	"github.com/hochfrequenz/bundle-orch/internal/notify"
)

const clientBuffer = 32

// Hub fans events out to subscribed clients. Broadcast never blocks: a client
// whose buffer is full is dropped.
type Hub struct {
	mu      sync.Mutex
	clients map[chan domain.Event]struct{}
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{clients: make(map[chan domain.Event]struct{})}
}

// Subscribe registers a client. The returned channel is closed when the
// client is dropped or cancel is called.
func (h *Hub) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, clientBuffer)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() { h.remove(ch) }
}

func (h *Hub) remove(ch chan domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Broadcast sends an event to all clients
func (h *Hub) Broadcast(event domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			delete(h.clients, ch)
			close(ch)
		}
	}
}

// Publish stamps and broadcasts a pipeline event
func (h *Hub) Publish(event domain.Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	h.Broadcast(event)
}

// Send mirrors an operator notification onto the feed
func (h *Hub) Send(n notify.Notification) error {
	h.Publish(domain.Event{
		Type:    domain.EventNotification,
		Title:   n.Title,
		Message: n.Message,
		Passed:  n.Type == notify.NotifySuccess,
		URL:     n.Open,
	})
	return nil
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Disconnect drops every current client. Later subscribers are still accepted.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		events, cancel := s.hub.Subscribe()
		defer cancel()

		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				fmt.Fprintf(w, "event: %s\n", event.Type)
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}
