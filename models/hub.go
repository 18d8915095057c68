package models

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub handles WebSocket connections and broadcasts job updates
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
	log        zerolog.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		log:        logger.With().Str("component", "ws-hub").Logger(),
	}
}

// Start begins the hub's broadcast loop
func (h *Hub) Start() {
	go func() {
		for {
			select {
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Debug().Int("clients", total).Msg("websocket client connected")
			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					client.Close()
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Debug().Int("clients", total).Msg("websocket client disconnected")
			case message := <-h.broadcast:
				h.mu.Lock()
				for client := range h.clients {
					if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
						h.log.Warn().Err(err).Msg("dropping websocket client")
						client.Close()
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}()
}

// BroadcastJobUpdate sends a job update to all connected clients. It takes
// a copy of the job so transitions can keep rewriting the tracked one.
func (h *Hub) BroadcastJobUpdate(job ConversionJob) {
	update := map[string]interface{}{
		"type":   "job_update",
		"job_id": job.ID,
		"status": job.Status,
	}

	if job.Status == StatusFailed || job.Status == StatusTimedOut {
		update["error"] = job.ErrorMessage
	}
	if job.Status == StatusSucceeded {
		update["pdf_size"] = job.PDFSize
	}

	data, err := json.Marshal(update)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal job update")
		return
	}

	// Never stall a job transition on slow websocket delivery.
	select {
	case h.broadcast <- data:
	default:
	}
}

// RegisterClient registers a new WebSocket client
func (h *Hub) RegisterClient(conn *websocket.Conn) {
	h.register <- conn
}

// UnregisterClient unregisters a WebSocket client
func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.unregister <- conn
}
