package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"backend-routewars/internal/track"

	"github.com/redis/go-redis/v9"
)

// Hub fans partial route snapshots out to websocket clients, to redis (for
// other nodes), and to in-process subscribers such as the tracking session's
// reconciler. Keyed by route id.
type Hub struct {
	redis       *redis.Client
	clients     map[string]map[*Client]struct{}
	subscribers map[string]map[*Subscription]struct{}
	last        map[string][]byte
	mu          sync.RWMutex
}

// Client is a websocket consumer; it receives raw JSON payloads.
type Client struct {
	RouteID string
	Send    chan []byte
}

// Subscription is an in-process consumer; it receives decoded snapshots.
// Slow subscribers are skipped, never blocked on.
type Subscription struct {
	RouteID string
	C       chan track.Snapshot
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:       redisClient,
		clients:     map[string]map[*Client]struct{}{},
		subscribers: map[string]map[*Subscription]struct{}{},
		last:        map[string][]byte{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(routeID string) *Client {
	client := &Client{
		RouteID: routeID,
		Send:    make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[routeID] == nil {
		h.clients[routeID] = map[*Client]struct{}{}
	}
	h.clients[routeID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if routeClients, ok := h.clients[client.RouteID]; ok {
		delete(routeClients, client)
		if len(routeClients) == 0 {
			delete(h.clients, client.RouteID)
		}
	}
	close(client.Send)
}

// Subscribe attaches an in-process snapshot consumer for a route id.
func (h *Hub) Subscribe(routeID string) *Subscription {
	sub := &Subscription{
		RouteID: routeID,
		C:       make(chan track.Snapshot, 16),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[routeID] == nil {
		h.subscribers[routeID] = map[*Subscription]struct{}{}
	}
	h.subscribers[routeID][sub] = struct{}{}
	return sub
}

// SubscribeRoute is the channel-and-cancel form of Subscribe used by the
// tracking session's push view.
func (h *Hub) SubscribeRoute(routeID string) (<-chan track.Snapshot, func()) {
	sub := h.Subscribe(routeID)
	return sub.C, func() { h.Unsubscribe(sub) }
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if routeSubs, ok := h.subscribers[sub.RouteID]; ok {
		delete(routeSubs, sub)
		if len(routeSubs) == 0 {
			delete(h.subscribers, sub.RouteID)
		}
	}
	close(sub.C)
}

// Broadcast delivers a snapshot to every consumer of its route id.
func (h *Hub) Broadcast(snapshot track.Snapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("snapshot marshal error: %v", err)
		return
	}
	h.deliver(snapshot.RouteID, snapshot, payload)

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(snapshot.RouteID), payload).Err()
		if err != nil {
			log.Printf("redis publish error: %v", err)
		}
	}
}

// LastPayload returns the most recent snapshot payload for a route, so a
// client connecting mid-route gets current state before the live feed.
func (h *Hub) LastPayload(routeID string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	payload, ok := h.last[routeID]
	return payload, ok
}

func (h *Hub) deliver(routeID string, snapshot track.Snapshot, payload []byte) {
	h.mu.Lock()
	h.last[routeID] = payload
	clients := h.clients[routeID]
	subs := h.subscribers[routeID]
	h.mu.Unlock()

	for client := range clients {
		select {
		case client.Send <- payload:
		default:
		}
	}
	for sub := range subs {
		select {
		case sub.C <- snapshot:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "routes:*:snapshots")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		routeID := routeIDFromChannel(msg.Channel)
		if routeID == "" {
			continue
		}
		var snapshot track.Snapshot
		if err := json.Unmarshal([]byte(msg.Payload), &snapshot); err != nil {
			log.Printf("snapshot decode error: %v", err)
			continue
		}
		h.deliver(routeID, snapshot, []byte(msg.Payload))
	}
}

func redisChannel(routeID string) string {
	return "routes:" + routeID + ":snapshots"
}

func routeIDFromChannel(ch string) string {
	// routes:{route}:snapshots
	const prefix = "routes:"
	const suffix = ":snapshots"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
