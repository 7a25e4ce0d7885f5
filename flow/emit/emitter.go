package emit

// Emitter receives observability events from run execution.
//
// Emitters enable pluggable backends: logging, OpenTelemetry spans,
// in-memory buffers for tests and dashboards. Implementations must be
// safe for concurrent use (distinct runs emit concurrently) and should be
// non-blocking and resilient: a misbehaving backend must not fail a run,
// so Emit has no error return and must not panic.
type Emitter interface {
	// Emit sends one event to the configured backend.
	Emit(event Event)
}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
