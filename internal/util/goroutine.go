// Package util provides small helpers shared across the service.
package util

import (
	"fmt"
	"log/slog"
)

// SafeGo launches a goroutine with panic recovery. A panic is recovered and
// logged instead of crashing the process; connection pumps and broadcast
// side effects run under it.
func SafeGo(logger *slog.Logger, component string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in goroutine",
					"component", component,
					"panic", fmt.Sprintf("%v", r))
			}
		}()
		fn()
	}()
}
