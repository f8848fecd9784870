package delivery

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"notifyhub/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Broadcast addresses every connected subscriber.
const Broadcast = "*"

// Event is one push message addressed to a room.
type Event struct {
	Name   string    `json:"event"`
	Room   string    `json:"room,omitempty"`
	Data   any       `json:"data,omitempty"`
	SentAt time.Time `json:"sentAt"`
}

// Publisher is the only capability the core needs from a delivery channel.
// Publish is fire-and-forget: no acknowledgement, no buffering for absent subscribers.
type Publisher interface {
	Publish(ctx context.Context, address string, event Event)
}

// Sender is a publisher that can report transport failures.
type Sender interface {
	Send(ctx context.Context, address string, event Event) error
}

// Client is one live subscriber connection.
type Client struct {
	ID    string
	send  chan []byte
	rooms map[string]struct{}
}

func (c *Client) Messages() <-chan []byte {
	return c.send
}

// Hub fans events out to clients joined to rooms.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	buffer  int
	logger  *zerolog.Logger
}

func NewHub(buffer int, logger *zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		buffer:  buffer,
		logger:  logger,
	}
}

// Register adds a new client that is not yet joined to any room.
func (h *Hub) Register() *Client {
	c := &Client{
		ID:    uuid.NewString(),
		send:  make(chan []byte, h.buffer),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.AddConnections(1)
	return c
}

// Unregister removes the client from every room and closes its queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c)
	close(c.send)
	metrics.AddConnections(-1)
}

// Join subscribes the client to address. The broadcast address is implicit.
func (h *Hub) Join(c *Client, address string) bool {
	address = strings.TrimSpace(address)
	if address == "" || address == Broadcast {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	members, ok := h.rooms[address]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[address] = members
	}
	members[c] = struct{}{}
	c.rooms[address] = struct{}{}
	return true
}

func (h *Hub) Leave(c *Client, address string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, strings.TrimSpace(address))
}

func (h *Hub) leaveLocked(c *Client, address string) {
	delete(c.rooms, address)
	members, ok := h.rooms[address]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, address)
	}
}

// RoomSize reports how many clients are joined to address.
func (h *Hub) RoomSize(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if address == Broadcast {
		return len(h.clients)
	}
	return len(h.rooms[address])
}

// Publish delivers event to the room's current members. Events for empty rooms
// and for clients with a full queue are dropped.
func (h *Hub) Publish(_ context.Context, address string, event Event) {
	if event.SentAt.IsZero() {
		event.SentAt = time.Now()
	}
	if event.Room == "" {
		event.Room = address
	}
	raw, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event.Name).Msg("encode push event")
		return
	}
	h.deliver(address, event.Name, raw)
}

// Send implements Sender for the local hub; it never fails.
func (h *Hub) Send(ctx context.Context, address string, event Event) error {
	h.Publish(ctx, address, event)
	return nil
}

func (h *Hub) deliver(address, name string, raw []byte) {
	// Sends happen under the read lock so Unregister cannot close a queue mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()

	var recipients map[*Client]struct{}
	if address == Broadcast {
		recipients = h.clients
	} else {
		recipients = h.rooms[address]
	}

	if len(recipients) == 0 {
		metrics.IncDelivery(metrics.DeliveryNoSubscriber)
		h.logger.Debug().Str("room", address).Str("event", name).Msg("no subscriber, event dropped")
		return
	}

	for c := range recipients {
		select {
		case c.send <- raw:
			metrics.IncDelivery(metrics.DeliveryDelivered)
		default:
			metrics.IncDelivery(metrics.DeliveryBufferFull)
			h.logger.Warn().Str("room", address).Str("client", c.ID).Msg("client queue full, event dropped")
		}
	}
}
