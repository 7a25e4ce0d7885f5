// Package flow provides a resumable workflow execution engine.
//
// A Workflow is an immutable directed graph of typed executors and request
// ports. A Run drives one execution of a Workflow message by message; when a
// run reaches a RequestPort it suspends, and the Orchestrator persists a
// checkpoint plus the outstanding ExternalRequest so the run can be resumed
// later, possibly in a different process.
package flow

import "errors"

// ErrMissingInput is returned when a start is requested for a run id that has
// no persisted checkpoint and no input payload was supplied. The request is
// rejected before any state mutation, so the caller can retry with an input.
var ErrMissingInput = errors.New("no checkpoint found and no input supplied")

// ErrSessionNotFound is returned when a resume is requested for a run id with
// no persisted checkpoint, or when a reply is delivered but no pending request
// exists (for example, a duplicate reply after the request was already
// answered). It is recoverable: no state is corrupted and the same entry point
// can be called again.
var ErrSessionNotFound = errors.New("session not found")

// ErrProtocolViolation is returned when a run's event stream ends without ever
// producing an output, an error, or a suspension. This indicates a malformed
// workflow graph rather than a bad request; the run's persisted state is left
// in place for inspection.
var ErrProtocolViolation = errors.New("event stream ended without a terminal event")

// ErrNoPendingRequest is returned by Run.Deliver when the run has no
// outstanding request to answer. The Orchestrator surfaces this to callers as
// ErrSessionNotFound.
var ErrNoPendingRequest = errors.New("run has no pending request")

// GraphValidationError reports a workflow graph that failed build-time
// validation: mismatched edge types, unreachable nodes, an unreachable
// terminal, or orchestrator configuration that does not cover every port.
//
// Graph validation errors are fatal to process startup. A graph that builds
// successfully never fails mid-run for a structural reason.
type GraphValidationError struct {
	// Code is a machine-readable error code for programmatic handling.
	Code string

	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface.
func (e *GraphValidationError) Error() string {
	if e.Code != "" {
		return "graph validation: " + e.Message + " (" + e.Code + ")"
	}
	return "graph validation: " + e.Message
}

// RoutingError reports a produced value that matched no outgoing edge. It is
// fatal to the run (surfaced as a workflow error event), not to the process.
type RoutingError struct {
	// Node is the executor or port whose output could not be routed.
	Node string

	// Kind is the payload kind that no downstream node accepts.
	Kind string
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return "no route from " + e.Node + " for payload kind " + e.Kind
}

// TypeMismatchError reports a reply whose type does not match the declared
// reply type of the port it was delivered to. It is fatal to the run.
type TypeMismatchError struct {
	// Port is the request port the reply was addressed to.
	Port string

	// Want is the reply kind the port declares.
	Want string

	// Got is the kind of the reply that was actually delivered.
	Got string
}

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	return "port " + e.Port + ": reply kind mismatch: want " + e.Want + ", got " + e.Got
}

// PortBusyError reports a second suspension while a request is still
// outstanding. This guards against double-prompting the same external actor
// and is fatal to the run.
type PortBusyError struct {
	// Port is the request port that attempted to suspend.
	Port string

	// Pending is the port whose request is still unanswered.
	Pending string

	// RunID identifies the affected run.
	RunID string
}

// Error implements the error interface.
func (e *PortBusyError) Error() string {
	if e.Port == e.Pending {
		return "port " + e.Port + ": request already outstanding for run " + e.RunID
	}
	return "port " + e.Port + ": run " + e.RunID + " is already suspended at port " + e.Pending
}

// ExecutorError wraps an error returned (or panicked) by an executor's
// handling function. The engine never retries on the executor's behalf; the
// run terminates with a workflow error event carrying this error.
type ExecutorError struct {
	// Node is the executor that failed.
	Node string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ExecutorError) Error() string {
	return "executor " + e.Node + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *ExecutorError) Unwrap() error {
	return e.Cause
}
