package realtime

import (
	"context"
	"errors"

	"github.com/oaa-dev/service-system-sub003/internal/metrics"
	"github.com/rs/zerolog"
)

var ErrHubStopped = errors.New("realtime hub stopped")

// Publisher delivers an encoded envelope to every session of one user.
type Publisher interface {
	Publish(ctx context.Context, userID int64, payload []byte) error
}

type delivery struct {
	userID  int64
	payload []byte
}

// Hub tracks the websocket sessions connected to this instance, keyed by
// user id. All map access happens on the Run goroutine.
type Hub struct {
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan delivery
	done       chan struct{}
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan delivery, 256),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Run serves registrations and deliveries until ctx is cancelled, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for userID, set := range h.clients {
				for client := range set {
					h.drop(set, client)
				}
				delete(h.clients, userID)
			}
			return
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			metrics.WebsocketClients.Inc()
			h.log.Debug().Int64("user_id", client.userID).Str("client_id", client.id).Msg("client registered")
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				h.drop(set, client)
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
			}
		case d := <-h.broadcast:
			h.sendToUser(d.userID, d.payload)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues payload for userID's sessions on this instance. Users with
// no session here are skipped silently.
func (h *Hub) Publish(ctx context.Context, userID int64, payload []byte) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.broadcast <- delivery{userID: userID, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) drop(set map[*Client]struct{}, client *Client) {
	delete(set, client)
	client.close()
	metrics.WebsocketClients.Dec()
}

func (h *Hub) sendToUser(userID int64, payload []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		if !client.enqueue(payload) {
			h.log.Warn().Int64("user_id", userID).Str("client_id", client.id).Msg("client too slow, dropping")
			h.drop(set, client)
		}
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}
