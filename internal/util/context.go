package util

import (
	"context"
	"time"
)

// NewTimeoutContext creates a context with the given timeout for a single
// store round-trip or broadcast.
func NewTimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
