// Package core defines the domain model shared across the engine: threat
// events and their enums, response actions and aggregates, incident and
// audit records, and the small concurrency primitives (worker pool, circuit
// breaker) the rest of the engine leans on.
//
// Types here carry no behavior beyond validation and construction; the
// containment, detect, respond, and storage packages own the semantics.
package core
