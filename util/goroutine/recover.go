// Package goroutine provides panic-recovery and leak-detection helpers for
// the engine's background goroutines (expiry timers, janitor, worker pools,
// notification fan-out).
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"warden/metrics"

	"go.uber.org/zap"
)

// StackTraceBufferSize is the buffer size for stack trace collection.
const StackTraceBufferSize = 4096

// Recover recovers a panicking goroutine, logs the panic with a stack trace,
// and counts it. Meant to be deferred first in every goroutine the engine
// launches. If logger is nil the panic is written to stderr so it is never
// lost.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, StackTraceBufferSize)
		n := runtime.Stack(buf, false)
		metrics.GoroutinePanics.WithLabelValues(name).Inc()

		if logger != nil {
			logger.Errorw("Goroutine panic recovered",
				"goroutine", name,
				"panic", r,
				"stack", string(buf[:n]))
		} else {
			fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
				name, r, string(buf[:n]))
		}
	}
}
