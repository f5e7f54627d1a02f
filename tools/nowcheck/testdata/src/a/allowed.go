// Package a contains test cases for allowed time.Now() usage.
package a

import "time"

// NewWindow is a constructor - wiring the default clock is allowed
func NewWindow() *window {
	return &window{
		start: time.Now(), // OK - constructor wires the default clock
		now:   time.Now,
	}
}

// init function - time.Now() is allowed
func init() {
	_ = time.Now() // OK - init function is allowed
}

// Exempted with comment - time.Now() is allowed
func exemptedWithComment() time.Time {
	// nowcheck:exempt reason="wall-clock timestamp for audit record"
	return time.Now() // OK - has exemption comment
}

// Another exemption style
func anotherExemption() {
	t := time.Now() /* nowcheck:exempt */ // OK
	_ = t
}
