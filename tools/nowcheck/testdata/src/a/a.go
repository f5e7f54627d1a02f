// Package a contains test cases for the nowcheck analyzer.
package a

import "time"

// window is a clock-injected type; its presence makes the package subject
// to the analyzer.
type window struct {
	start time.Time
	now   func() time.Time
}

// Regular method - time.Now() should be flagged
func (w *window) elapsed() time.Duration {
	return time.Now().Sub(w.start) // want "time.Now\\(\\) used in elapsed"
}

// Regular function - time.Now() should be flagged
func stamp() time.Time {
	return time.Now() // want "time.Now\\(\\) used in stamp"
}

// Multiple violations in one function
func multipleViolations() {
	t1 := time.Now() // want "time.Now\\(\\) used in multipleViolations"
	t2 := time.Now() // want "time.Now\\(\\) used in multipleViolations"
	_, _ = t1, t2
}

// Nested call - inner time.Now() should be flagged
func nestedCall() time.Duration {
	return time.Since(time.Now()) // want "time.Now\\(\\) used in nestedCall"
}
