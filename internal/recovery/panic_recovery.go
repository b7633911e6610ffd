package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Go runs fn on its own goroutine and turns a panic into an error log
// instead of a process crash. Persistent failure of any background worker
// (prober, hub, journal writer) degrades gracefully, never fatally.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("goroutine_panic_recovered",
					slog.String("worker_name", name),
					slog.String("error", fmt.Sprintf("%v", r)),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		fn()
	}()
}

// WithRecoverySync runs fn inline, recovering any panic.
func WithRecoverySync(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sync_panic_recovered",
				slog.String("worker_name", name),
				slog.String("error", fmt.Sprintf("%v", r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}
