package flow

// EventType discriminates the events a run's stream can produce.
type EventType string

const (
	// EventRequestInfo signals that a request port suspended the run. The
	// event carries the typed request payload and the persisted-form
	// ExternalRequest used to correlate the eventual reply.
	EventRequestInfo EventType = "request_info"

	// EventOutput signals that the terminal executor produced the workflow's
	// final output. The run is Completed.
	EventOutput EventType = "workflow_output"

	// EventError signals that the run failed: an executor returned an error,
	// a produced value matched no edge, or a reply mismatched its port. The
	// run is Failed.
	EventError EventType = "workflow_error"
)

// Event is one item of a run's event stream, consumed by the Orchestrator's
// event loop. The stream interface is identical for fresh and resumed runs.
type Event struct {
	// Type discriminates the event.
	Type EventType

	// RunID identifies the run that produced the event.
	RunID string

	// Node is the executor or port the event originated from.
	Node string

	// Payload carries the typed request payload (EventRequestInfo) or the
	// final output value (EventOutput).
	Payload any

	// Request is the persisted-form record of the outstanding request.
	// Set only for EventRequestInfo.
	Request *ExternalRequest

	// Err carries the failure. Set only for EventError.
	Err error
}
