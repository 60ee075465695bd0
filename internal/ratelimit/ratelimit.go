// Package ratelimit bounds per-user resource consumption: concurrent
// WebSocket connections and message throughput over a sliding window.
package ratelimit

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// ConnectionLimiter caps concurrent connections per user.
type ConnectionLimiter struct {
	mu          sync.RWMutex
	connections map[uint]int
	maxPerUser  int
}

// NewConnectionLimiter creates a limiter allowing maxPerUser concurrent
// connections for each user.
func NewConnectionLimiter(maxPerUser int) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections: make(map[uint]int),
		maxPerUser:  maxPerUser,
	}
}

// Allow reserves a connection slot for the user. The caller must pair a
// successful Allow with a Release when the connection ends.
func (cl *ConnectionLimiter) Allow(userID uint) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.connections[userID] >= cl.maxPerUser {
		return false
	}
	cl.connections[userID]++
	return true
}

// Release returns a previously reserved slot.
func (cl *ConnectionLimiter) Release(userID uint) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	count, ok := cl.connections[userID]
	if !ok {
		return
	}
	if count <= 1 {
		delete(cl.connections, userID)
		return
	}
	cl.connections[userID] = count - 1
}

// Count reports the user's current connection count.
func (cl *ConnectionLimiter) Count(userID uint) int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.connections[userID]
}

// MessageLimiter enforces a sliding-window message rate per user.
type MessageLimiter struct {
	mu     sync.RWMutex
	events map[uint][]time.Time
	window time.Duration
	limit  int

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	cleanupWg       sync.WaitGroup
}

// NewMessageLimiter creates a limiter allowing limit messages per user
// within the given window.
func NewMessageLimiter(window time.Duration, limit int) *MessageLimiter {
	return &MessageLimiter{
		events:          make(map[uint][]time.Time),
		window:          window,
		limit:           limit,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}
}

// Allow records a message attempt and reports whether it fits in the window.
func (ml *MessageLimiter) Allow(userID uint) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-ml.window)

	recent := lo.Filter(ml.events[userID], func(t time.Time, _ int) bool {
		return t.After(cutoff)
	})
	if len(recent) >= ml.limit {
		ml.events[userID] = recent
		return false
	}

	ml.events[userID] = append(recent, now)
	return true
}

// RetryAfter reports how long, in milliseconds, until the user's next
// message would be accepted. Zero means immediately.
func (ml *MessageLimiter) RetryAfter(userID uint) int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	events := ml.events[userID]
	if len(events) < ml.limit {
		return 0
	}

	now := time.Now()
	cutoff := now.Add(-ml.window)

	inWindow := lo.Filter(events, func(t time.Time, _ int) bool {
		return t.After(cutoff)
	})
	oldest := lo.MinBy(inWindow, func(a, b time.Time) bool {
		return a.Before(b)
	})
	if oldest.IsZero() {
		return 0
	}

	wait := oldest.Add(ml.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return int(wait.Milliseconds())
}

// Reset clears the user's message history.
func (ml *MessageLimiter) Reset(userID uint) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.events, userID)
}

// Cleanup drops events that have aged out of every user's window.
func (ml *MessageLimiter) Cleanup() {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	cutoff := time.Now().Add(-ml.window)
	for userID, events := range ml.events {
		recent := lo.Filter(events, func(t time.Time, _ int) bool {
			return t.After(cutoff)
		})
		if len(recent) == 0 {
			delete(ml.events, userID)
			continue
		}
		ml.events[userID] = recent
	}
}

// StartCleanup launches a background goroutine that periodically evicts
// expired events. Stop it with StopCleanup.
func (ml *MessageLimiter) StartCleanup() {
	ml.cleanupWg.Add(1)
	go func() {
		defer ml.cleanupWg.Done()
		ticker := time.NewTicker(ml.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ml.Cleanup()
			case <-ml.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup stops the cleanup goroutine and waits for it to exit.
// Safe to call more than once.
func (ml *MessageLimiter) StopCleanup() {
	ml.stopOnce.Do(func() {
		close(ml.stopCleanup)
	})
	ml.cleanupWg.Wait()
}
