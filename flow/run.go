package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tripflow-ai/tripflow/flow/emit"
)

// RunStatus describes where a run is in its lifecycle.
type RunStatus string

const (
	// StatusRunning means messages are pending in the mailbox.
	StatusRunning RunStatus = "running"

	// StatusPendingRequests means the run is suspended at a request port,
	// waiting for an external reply. No resources are held; the run's state
	// lives entirely in its checkpoint.
	StatusPendingRequests RunStatus = "pending_requests"

	// StatusIdle means the mailbox drained without a suspension or a terminal
	// event. A well-formed graph never produces this; the Orchestrator
	// reports it as a protocol violation.
	StatusIdle RunStatus = "idle"

	// StatusCompleted means the terminal executor produced the final output.
	StatusCompleted RunStatus = "completed"

	// StatusFailed means the run terminated with a workflow error.
	StatusFailed RunStatus = "failed"
)

// message is one mailbox entry: an envelope addressed to a node.
type message struct {
	target string
	env    Envelope
}

// Run is one execution instance of a Workflow.
//
// A run proceeds strictly sequentially: Next pops one mailbox message at a
// time, fires the addressed node, and enqueues whatever the node produced to
// every type-matching downstream edge. No two handlers within one run ever
// execute concurrently, which eliminates intra-run races by construction.
//
// Runs are an explicit state machine rather than a blocked goroutine: Next
// advances the stream, Deliver answers the suspended port, and the
// CheckpointManager can snapshot and reconstruct the whole thing between the
// two. Callers cannot tell from the stream whether a run was started fresh or
// resumed from a checkpoint.
type Run struct {
	wf      *Workflow
	id      string
	mailbox []message
	state   map[string]json.RawMessage
	pending *ExternalRequest
	status  RunStatus
	seq     int
	emitter emit.Emitter
	now     func() time.Time
}

// NewRun creates a fresh run of the workflow with the given caller-supplied
// run id. Feed the initial input before calling Next.
func (w *Workflow) NewRun(id string) *Run {
	return &Run{
		wf:     w,
		id:     id,
		state:  make(map[string]json.RawMessage),
		status: StatusIdle,
		now:    time.Now,
	}
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.id
}

// Status returns the run's current lifecycle status.
func (r *Run) Status() RunStatus {
	return r.status
}

// SetEmitter attaches an observability emitter. Events are emitted for every
// executor firing, suspension, and terminal transition. A nil emitter
// disables emission.
func (r *Run) SetEmitter(e emit.Emitter) {
	r.emitter = e
}

// Feed enqueues the workflow's initial input to the entry node. The input's
// type must be accepted by the entry node.
func (r *Run) Feed(input any) error {
	kind, err := kindOf(input)
	if err != nil {
		return err
	}
	entry := r.wf.nodes[r.wf.entry]
	if !entry.accepts[kind] {
		return &RoutingError{Node: r.wf.entry, Kind: kind}
	}
	r.mailbox = append(r.mailbox, message{target: r.wf.entry, env: Envelope{Kind: kind, Payload: input}})
	r.status = StatusRunning
	return nil
}

// Next advances the run until it produces the next event or the stream ends.
//
// It returns (event, true) for each request-info, output, or error event, and
// (zero, false) when the mailbox has drained, at which point Status reports
// PendingRequests (suspended) or Idle, and the caller is expected to
// checkpoint the run and return control to its own caller. Next never blocks
// waiting for external input.
func (r *Run) Next(ctx context.Context) (Event, bool) {
	if r.status == StatusCompleted || r.status == StatusFailed {
		return Event{}, false
	}

	for len(r.mailbox) > 0 {
		if err := ctx.Err(); err != nil {
			return r.fail("", err), true
		}

		msg := r.mailbox[0]
		r.mailbox = r.mailbox[1:]
		n := r.wf.nodes[msg.target]

		if n.port != nil {
			ev, err := r.suspend(n, msg.env)
			if err != nil {
				return r.fail(n.name, err), true
			}
			return ev, true
		}

		handler, ok := n.handlers[msg.env.Kind]
		if !ok {
			return r.fail(n.name, &RoutingError{Node: n.name, Kind: msg.env.Kind}), true
		}

		start := r.now()
		out, err := r.invoke(ctx, n.name, handler, msg.env.Payload)
		if err != nil {
			return r.fail(n.name, &ExecutorError{Node: n.name, Cause: err}), true
		}
		r.emit(n.name, "executor_completed", map[string]any{
			"in_kind":     msg.env.Kind,
			"duration_ms": r.now().Sub(start).Milliseconds(),
		})

		outKind, err := kindOf(out)
		if err != nil {
			return r.fail(n.name, &ExecutorError{Node: n.name, Cause: err}), true
		}
		outEnv := Envelope{Kind: outKind, Payload: out}

		if n.name == r.wf.terminal {
			r.status = StatusCompleted
			r.emit(n.name, "workflow_completed", map[string]any{"out_kind": outKind})
			return Event{Type: EventOutput, RunID: r.id, Node: n.name, Payload: out}, true
		}

		if err := r.dispatch(n.name, outEnv); err != nil {
			return r.fail(n.name, err), true
		}
	}

	if r.pending != nil {
		r.status = StatusPendingRequests
	} else {
		r.status = StatusIdle
	}
	return Event{}, false
}

// Deliver answers the run's outstanding request with a typed reply envelope,
// normally built via ExternalRequest.CreateResponse. The reply becomes the
// suspended port's output and is dispatched downstream; the run returns to
// Running.
func (r *Run) Deliver(env Envelope) error {
	if r.pending == nil {
		return ErrNoPendingRequest
	}
	if env.Kind != r.pending.ReplyKind {
		return &TypeMismatchError{Port: r.pending.PortID, Want: r.pending.ReplyKind, Got: env.Kind}
	}
	portID := r.pending.PortID
	if err := r.dispatch(portID, env); err != nil {
		// Guarded by build-time validation (every port can reach the
		// terminal); fail the run rather than lose the reply silently.
		r.fail(portID, err)
		return err
	}
	r.pending = nil
	r.status = StatusRunning
	r.emit(portID, "reply_delivered", map[string]any{"reply_kind": env.Kind})
	return nil
}

// Pending returns the run's outstanding request, or nil when the run is not
// suspended.
func (r *Run) Pending() *ExternalRequest {
	return r.pending
}

// suspend packages a port's input as an ExternalRequest and halts the run.
func (r *Run) suspend(n *node, env Envelope) (Event, error) {
	if r.pending != nil {
		return Event{}, &PortBusyError{Port: n.name, Pending: r.pending.PortID, RunID: r.id}
	}
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("port %s: encode request payload: %w", n.name, err)
	}
	respKind, err := kindFor(n.port.resp)
	if err != nil {
		return Event{}, err
	}
	req := &ExternalRequest{
		PortID:      n.name,
		RunID:       r.id,
		PayloadKind: env.Kind,
		Payload:     raw,
		ReplyKind:   respKind,
		CreatedAt:   r.now().UTC(),
	}
	r.pending = req
	r.status = StatusPendingRequests
	r.emit(n.name, "request_info", map[string]any{"payload_kind": env.Kind})
	return Event{Type: EventRequestInfo, RunID: r.id, Node: n.name, Payload: env.Payload, Request: req}, nil
}

// dispatch enqueues a produced envelope to every downstream edge whose
// destination accepts the envelope's kind. Zero matches is a RoutingError,
// fatal for the run.
func (r *Run) dispatch(from string, env Envelope) error {
	matched := 0
	for _, to := range r.wf.adj[from] {
		if r.wf.nodes[to].accepts[env.Kind] {
			r.mailbox = append(r.mailbox, message{target: to, env: env})
			matched++
		}
	}
	if matched == 0 {
		return &RoutingError{Node: from, Kind: env.Kind}
	}
	return nil
}

// invoke runs a handler, converting a panic into an ordinary error so a
// misbehaving executor fails its run instead of the process.
func (r *Run) invoke(ctx context.Context, nodeName string, h Handler, in any) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(ctx, &RunContext{run: r, node: nodeName}, in)
}

// fail transitions the run to Failed and returns the error event.
func (r *Run) fail(nodeName string, err error) Event {
	r.status = StatusFailed
	r.emit(nodeName, "workflow_failed", map[string]any{"error": err.Error()})
	return Event{Type: EventError, RunID: r.id, Node: nodeName, Err: err}
}

// emit sends an observability event if an emitter is attached.
func (r *Run) emit(nodeName, msg string, meta map[string]any) {
	r.seq++
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(emit.Event{
		RunID: r.id,
		Seq:   r.seq,
		Node:  nodeName,
		Msg:   msg,
		Meta:  meta,
	})
}
