// Package emit provides observability event emitters for workflow runs.
package emit

// Event is an observability event emitted during run execution: executor
// firings, suspensions, reply deliveries, checkpoint saves, and terminal
// transitions. Events are engine-internal telemetry; outward notifications
// to users travel through the flow.Notifier instead.
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Seq is the event's position in the run's stream (1-indexed). The
	// sequence is part of the run's checkpoint, so a resumed run continues
	// numbering where it left off.
	Seq int

	// Node is the executor or port the event originated from. Empty for
	// run-level events.
	Node string

	// Msg names the event, e.g. "executor_completed", "request_info",
	// "checkpoint_saved", "workflow_failed".
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "duration_ms": handler execution time
	//   - "error": failure details
	//   - "payload_kind": envelope kind involved
	//   - "checkpoint_id": checkpoint identifier
	Meta map[string]any
}
