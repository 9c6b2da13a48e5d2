// Package events delivers committed inventory, sale and transfer deltas to
// subscribers grouped in rooms. Delivery is best-effort and at-most-once.
package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	TypeInventoryUpdate  = "inventoryUpdate"
	TypeNewSale          = "newSale"
	TypeSaleDeleted      = "saleDeleted"
	TypeTransferUpdate   = "transferUpdate"
	TypePurchaseReceived = "purchaseReceived"
	TypeProductUpdate    = "productUpdate"
	TypeStockAlert       = "stockAlert"
)

const (
	RoomProducts = "products"
	RoomSales    = "sales"
)

func LocationRoom(locationID string) string {
	return "location_" + locationID
}

type Event struct {
	Type        string         `json:"type"`
	EntityType  string         `json:"entityType"`
	EntityID    string         `json:"entityId"`
	LocationIDs []string       `json:"locationIds,omitempty"`
	Delta       map[string]any `json:"delta,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Rooms       []string       `json:"rooms"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

const clientBuffer = 64

type Client struct {
	ID     string
	UserID string
	Events chan Event

	rooms []string
}

func (c *Client) Rooms() []string { return slices.Clone(c.rooms) }

// Hub fans events out to in-process subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *zap.Logger
	dropped func()
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), log: log}
}

// OnDrop registers a callback invoked whenever a slow client misses an event.
func (h *Hub) OnDrop(fn func()) {
	h.mu.Lock()
	h.dropped = fn
	h.mu.Unlock()
}

func (h *Hub) Subscribe(clientID, userID string, rooms []string) *Client {
	c := &Client{
		ID:     clientID,
		UserID: userID,
		Events: make(chan Event, clientBuffer),
		rooms:  slices.Compact(slices.Sorted(slices.Values(rooms))),
	}
	h.mu.Lock()
	h.clients[c.ID] = c
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("sse client registered", zap.String("client_id", c.ID), zap.String("user_id", userID), zap.Strings("rooms", c.rooms), zap.Int("total", total))
	return c
}

func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		close(c.Events)
		delete(h.clients, clientID)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.log.Debug("sse client unregistered", zap.String("client_id", clientID), zap.Int("total", total))
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers ev once to every client subscribed to at least one of its
// rooms. A client whose buffer is full misses the event.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !slices.ContainsFunc(ev.Rooms, func(room string) bool {
			_, found := slices.BinarySearch(c.rooms, room)
			return found
		}) {
			continue
		}
		select {
		case c.Events <- ev:
		default:
			h.log.Warn("sse client buffer full, dropping event", zap.String("client_id", c.ID), zap.String("type", ev.Type))
			if h.dropped != nil {
				h.dropped()
			}
		}
	}
	return nil
}
