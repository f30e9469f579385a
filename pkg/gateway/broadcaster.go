package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"switchboard/pkg/jobs"
)

// EventMessage is the wire shape of a pushed job event. Only final results
// are pushed; partial agent output is never streamed.
type EventMessage struct {
	Type      string   `json:"type"`
	Event     string   `json:"event"`
	Job       jobs.Job `json:"job"`
	Timestamp int64    `json:"timestamp"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcaster pushes job lifecycle events to connected WebSocket clients.
type Broadcaster struct {
	clients map[string]*wsClient
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewBroadcaster creates a new broadcaster
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*wsClient),
		logger:  logger,
	}
}

// Add registers a connection and returns its client id.
func (b *Broadcaster) Add(conn *websocket.Conn) string {
	id, _ := gonanoid.New()
	b.mu.Lock()
	b.clients[id] = &wsClient{id: id, conn: conn}
	b.mu.Unlock()
	b.logger.Debug().Str("client_id", id).Msg("WebSocket client connected")
	return id
}

// Remove drops a connection.
func (b *Broadcaster) Remove(id string) {
	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
	b.logger.Debug().Str("client_id", id).Msg("WebSocket client disconnected")
}

// Count returns the number of connected clients.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// BroadcastJobEvent pushes one job lifecycle event to every client.
func (b *Broadcaster) BroadcastJobEvent(event jobs.Event) {
	msg := EventMessage{
		Type:      "event",
		Event:     "job." + event.Type,
		Job:       event.Job,
		Timestamp: time.Now().UnixMilli(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to marshal job event")
		return
	}

	b.mu.RLock()
	clients := make([]*wsClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(data); err != nil {
			b.logger.Warn().
				Err(err).
				Str("client_id", client.id).
				Msg("Failed to push job event")
		}
	}
}

// CloseAll closes every client connection.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, client := range b.clients {
		client.conn.Close()
		delete(b.clients, id)
	}
}
