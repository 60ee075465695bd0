// Package room tracks which live connections are subscribed to each chat's
// broadcasts. It is purely in-process transport state: membership has no
// effect on durable chat or message data, and a disconnect simply removes
// the connection from every room.
package room

import (
	"log/slog"
	"sync"

	"github.com/lahorneada/supportchat/internal/metrics"
)

// Subscriber is a live connection that can receive room broadcasts.
// Deliver must not block; it reports false when the payload was dropped
// because the connection is closing or its buffer is full.
type Subscriber interface {
	ID() string
	Deliver(data []byte) bool
}

// Registry maps chat IDs to their subscribed connections. All methods are
// safe for concurrent use from any number of connection goroutines.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[uint]map[string]Subscriber
	byConn map[string]map[uint]struct{}
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[uint]map[string]Subscriber),
		byConn: make(map[string]map[uint]struct{}),
		logger: log.WithGroup("room"),
	}
}

// Join subscribes the connection to the chat's room. Joining twice is a no-op.
func (r *Registry) Join(chatID uint, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[chatID] == nil {
		r.rooms[chatID] = make(map[string]Subscriber)
	}
	r.rooms[chatID][sub.ID()] = sub

	if r.byConn[sub.ID()] == nil {
		r.byConn[sub.ID()] = make(map[uint]struct{})
	}
	r.byConn[sub.ID()][chatID] = struct{}{}

	r.logger.Debug("Connection joined room",
		"chat_id", chatID,
		"connection_id", sub.ID(),
		"room_size", len(r.rooms[chatID]))
}

// Leave unsubscribes the connection from one room.
func (r *Registry) Leave(chatID uint, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(chatID, connID)
}

// RemoveConnection unsubscribes the connection from every room it joined.
// Called on disconnect.
func (r *Registry) RemoveConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for chatID := range r.byConn[connID] {
		r.leaveLocked(chatID, connID)
	}
}

func (r *Registry) leaveLocked(chatID uint, connID string) {
	if members, ok := r.rooms[chatID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, chatID)
		}
	}
	if joined, ok := r.byConn[connID]; ok {
		delete(joined, chatID)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// Broadcast enqueues data to every member of the chat's room and returns the
// number of successful deliveries. The lock is held across the enqueue loop
// so concurrent broadcasts to the same chat cannot interleave deliveries;
// ordering across broadcast calls is the caller's responsibility (the relay
// serializes persist+broadcast per chat). Deliver is a non-blocking
// channel enqueue, so the hold is short. The exclusive lock (not RLock)
// matters: two concurrent broadcasts under read locks could interleave.
func (r *Registry) Broadcast(chatID uint, data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for _, sub := range r.rooms[chatID] {
		if sub.Deliver(data) {
			delivered++
			metrics.BroadcastsDelivered.Inc()
		} else {
			metrics.BroadcastsDropped.Inc()
			r.logger.Warn("Broadcast dropped for connection",
				"chat_id", chatID,
				"connection_id", sub.ID())
		}
	}
	return delivered
}

// RoomSize returns the number of connections subscribed to the chat.
func (r *Registry) RoomSize(chatID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[chatID])
}

// Joined reports whether the connection is subscribed to the chat.
func (r *Registry) Joined(chatID uint, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[chatID][connID]
	return ok
}
