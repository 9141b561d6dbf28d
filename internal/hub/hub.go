package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/weiawesome/friendlychat/internal/metrics"
	"github.com/weiawesome/friendlychat/pkg/log"
)

// ErrHubStopped is returned once the hub loop has exited.
var ErrHubStopped = errors.New("hub stopped")

// Hub tracks WebSocket clients and the browser session each belongs to.
// One browser session may hold several connections (tabs).
type Hub struct {
	clients    map[string]*Client            // clientID -> client
	sessions   map[string]map[string]*Client // sessionKey -> clientID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *sessionMessage
	done       chan struct{}
	mu         sync.RWMutex
	metrics    *metrics.Metrics
}

type sessionMessage struct {
	SessionKey string
	Message    []byte
}

func NewHub(m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		sessions:   make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *sessionMessage, 256),
		done:       make(chan struct{}),
		metrics:    m,
	}
}

// Run serves registrations and session messages until ctx is done, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			if _, ok := h.sessions[client.SessionKey]; !ok {
				h.sessions[client.SessionKey] = make(map[string]*Client)
			}
			h.sessions[client.SessionKey][client.ID] = client
			h.mu.Unlock()
			h.metrics.WebSocketClients.Inc()
			l := log.L()
			l.Debug().Str(log.FieldClientID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				h.drop(client)
			}
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldClientID, client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.sessions[msg.SessionKey] {
				if !client.offer(msg.Message) {
					go h.removeClient(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// drop removes client from the indexes and closes it. Callers hold h.mu.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client.ID)
	if sc, ok := h.sessions[client.SessionKey]; ok {
		delete(sc, client.ID)
		if len(sc) == 0 {
			delete(h.sessions, client.SessionKey)
		}
	}
	client.close()
	h.metrics.WebSocketClients.Dec()
}

func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		client.close()
		return ErrHubStopped
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SendToSession delivers message to every connection of a browser session.
func (h *Hub) SendToSession(sessionKey string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.broadcast <- &sessionMessage{SessionKey: sessionKey, Message: data}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SessionClientCount(sessionKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionKey])
}

func (h *Hub) removeClient(client *Client) {
	h.Unregister(client)
}
