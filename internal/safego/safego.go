// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go launches fn in a new goroutine under the given task name. A panic inside
// fn is recovered and logged with its stack so one failing background task
// (metrics listener, pool stats sampler, orphan sweep) cannot take the server down.
func Go(task string, fn func()) {
	go func() {
		defer Recover(task)
		fn()
	}()
}

// Recover logs and swallows a panic. It must be deferred directly.
func Recover(task string) {
	if r := recover(); r != nil {
		slog.Error("recovered panic in background goroutine",
			"task", task,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}
