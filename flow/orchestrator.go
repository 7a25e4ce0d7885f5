package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tripflow-ai/tripflow/flow/emit"
	"github.com/tripflow-ai/tripflow/flow/store"
)

// StateStore key layout. All per-run keys are partitioned by run id and only
// ever touched by that run's own loop; KeyPendingApprovals is the one
// process-wide key, mutated by multiple runs through the store's atomic
// Append.
const (
	checkpointKeyPrefix = "checkpoint-info:"
	pendingKeyPrefix    = "pending-request:"

	// KeyPendingApprovals holds the ordered list of outstanding
	// admin-approval payloads. The engine appends and never deduplicates;
	// dedup, if desired, is the consuming UI's concern.
	KeyPendingApprovals = "pending-approvals"
)

// CheckpointKey returns the StateStore key holding a run's CheckpointInfo.
func CheckpointKey(runID string) string {
	return checkpointKeyPrefix + runID
}

// PendingRequestKey returns the StateStore key holding a run's outstanding
// ExternalRequest.
func PendingRequestKey(runID string) string {
	return pendingKeyPrefix + runID
}

// PendingApproval is one entry of the pending-approvals collection: the
// suspended request plus its correlation metadata, in the persisted form a
// consuming UI needs to render and answer it.
type PendingApproval struct {
	RunID     string          `json:"run_id"`
	PortID    string          `json:"port_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// PortBinding configures how the Orchestrator treats one request port's
// suspensions.
type PortBinding struct {
	// CollectApproval mirrors each request into the process-wide
	// pending-approvals collection, in addition to the per-run pending
	// request record and the outward notification.
	CollectApproval bool
}

// OrchestratorOptions configures an Orchestrator. Zero values are valid:
// notifications are discarded, observability is off.
type OrchestratorOptions struct {
	// Ports maps every request port id in the workflow to its binding.
	// NewOrchestrator rejects a workflow port without a binding: an unknown
	// port is a configuration error caught at startup, never a run-time
	// surprise.
	Ports map[string]PortBinding

	// Notifier receives outward notifications. Nil discards them.
	Notifier Notifier

	// Emitter receives observability events. Nil disables emission.
	Emitter emit.Emitter

	// Metrics collects Prometheus metrics. Nil disables collection.
	Metrics *Metrics
}

// Orchestrator drives workflow runs against a StateStore: it decides
// start-vs-resume, persists and loads checkpoints, delivers external
// replies to suspended ports, and translates run events into outward
// notifications.
//
// Distinct runs may be driven concurrently; each run id is serialized with
// its own lock, so a run's StateStore keys are only ever touched by one
// in-flight trigger at a time.
type Orchestrator struct {
	wf       *Workflow
	store    store.Store
	cp       *CheckpointManager
	ports    map[string]PortBinding
	notifier Notifier
	emitter  emit.Emitter
	metrics  *Metrics

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
}

// NewOrchestrator wires a workflow to a state store.
//
// It validates the port bindings against the workflow: every port must be
// bound. This resolves what happens on an unrecognized port id: it cannot
// happen at run time, because the configuration is rejected at startup.
func NewOrchestrator(wf *Workflow, st store.Store, opts OrchestratorOptions) (*Orchestrator, error) {
	if wf == nil {
		return nil, &GraphValidationError{Code: "NO_WORKFLOW", Message: "workflow is required"}
	}
	if st == nil {
		return nil, &GraphValidationError{Code: "NO_STORE", Message: "state store is required"}
	}
	for _, portID := range wf.Ports() {
		if _, ok := opts.Ports[portID]; !ok {
			return nil, &GraphValidationError{Code: "UNBOUND_PORT", Message: "port " + portID + " has no orchestrator binding"}
		}
	}
	for portID := range opts.Ports {
		if n, ok := wf.nodes[portID]; !ok || n.port == nil {
			return nil, &GraphValidationError{Code: "UNKNOWN_PORT", Message: "binding refers to unknown port " + portID}
		}
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = NullNotifier{}
	}

	return &Orchestrator{
		wf:       wf,
		store:    st,
		cp:       NewCheckpointManager(),
		ports:    opts.Ports,
		notifier: notifier,
		emitter:  opts.Emitter,
		metrics:  opts.Metrics,
		runLocks: make(map[string]*sync.Mutex),
	}, nil
}

// StartOrResume handles an inbound intent for a run id.
//
// With no checkpoint present this starts a fresh run from input; a nil input
// is rejected with ErrMissingInput before any state mutation. With a
// checkpoint present the run is reconstructed and event processing resumes;
// the input, if any, is ignored (an external reply belongs in Resume).
func (o *Orchestrator) StartOrResume(ctx context.Context, runID string, input any) error {
	unlock := o.lockRun(runID)
	defer unlock()

	info, found, err := store.GetAs[CheckpointInfo](ctx, o.store, CheckpointKey(runID))
	if err != nil {
		return fmt.Errorf("run %s: load checkpoint: %w", runID, err)
	}

	var run *Run
	if !found {
		if input == nil {
			return ErrMissingInput
		}
		run = o.wf.NewRun(runID)
		run.SetEmitter(o.emitter)
		if err := run.Feed(input); err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		o.metrics.runStarted(o.wf.name)
		o.notify(ctx, Notification{
			Kind:    NotificationRunStarted,
			RunID:   runID,
			Message: "working on it",
		})
	} else {
		run, err = o.cp.Restore(o.wf, info)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		run.SetEmitter(o.emitter)
		if input != nil {
			o.emit(runID, "", "input_ignored", map[string]any{
				"reason": "run already has a checkpoint; replies go through Resume",
			})
		}
	}

	return o.drive(ctx, run)
}

// Resume delivers an external reply to a suspended run.
//
// Both a checkpoint and a pending request must exist for the run id;
// otherwise ErrSessionNotFound is returned with no state mutation, including
// for duplicate deliveries of a reply that was already answered, which makes
// the entry point idempotent. A reply whose type mismatches the port's
// declared reply type fails the run.
func (o *Orchestrator) Resume(ctx context.Context, runID string, reply any) error {
	unlock := o.lockRun(runID)
	defer unlock()

	info, found, err := store.GetAs[CheckpointInfo](ctx, o.store, CheckpointKey(runID))
	if err != nil {
		return fmt.Errorf("run %s: load checkpoint: %w", runID, err)
	}
	if !found {
		return fmt.Errorf("run %s: %w", runID, ErrSessionNotFound)
	}

	req, found, err := store.GetAs[ExternalRequest](ctx, o.store, PendingRequestKey(runID))
	if err != nil {
		return fmt.Errorf("run %s: load pending request: %w", runID, err)
	}
	if !found {
		return fmt.Errorf("run %s: %w", runID, ErrSessionNotFound)
	}

	run, err := o.cp.Restore(o.wf, info)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	run.SetEmitter(o.emitter)

	env, err := req.CreateResponse(reply)
	if err != nil {
		// A mistyped reply is fatal to the run.
		return o.failRun(ctx, run, err)
	}
	if err := run.Deliver(env); err != nil {
		if run.Status() == StatusFailed {
			return o.failRun(ctx, run, err)
		}
		if errors.Is(err, ErrNoPendingRequest) {
			// The store had a pending request but the checkpoint does not:
			// treat it as an unanswerable session rather than corrupt state.
			return fmt.Errorf("run %s: %w", runID, ErrSessionNotFound)
		}
		return fmt.Errorf("run %s: %w", runID, err)
	}
	o.metrics.resumed()

	return o.drive(ctx, run)
}

// drive consumes the run's event stream until it terminates or drains, then
// persists the checkpoint if the run is still alive.
func (o *Orchestrator) drive(ctx context.Context, run *Run) error {
	runID := run.ID()

	for {
		start := time.Now()
		ev, ok := run.Next(ctx)
		if !ok {
			break
		}
		o.metrics.observeEvent(ev.Node, time.Since(start))

		switch ev.Type {
		case EventRequestInfo:
			if err := o.handleRequestInfo(ctx, ev); err != nil {
				// Fail-stop: the run's previously persisted state is
				// untouched, so retrying the same trigger reproduces the
				// same attempt.
				return fmt.Errorf("run %s: persist pending request: %w", runID, err)
			}
			// Suspension does not stop the loop; the stream is drained until
			// it reports no more same-tick events.

		case EventOutput:
			if err := o.cleanup(ctx, runID); err != nil {
				return fmt.Errorf("run %s: cleanup: %w", runID, err)
			}
			o.metrics.runFinished(o.wf.name, StatusCompleted)
			o.notify(ctx, Notification{
				Kind:    NotificationCompleted,
				RunID:   runID,
				Payload: ev.Payload,
			})
			return nil

		case EventError:
			if err := o.cleanup(ctx, runID); err != nil {
				return fmt.Errorf("run %s: cleanup: %w", runID, err)
			}
			o.metrics.runFinished(o.wf.name, StatusFailed)
			o.notify(ctx, Notification{
				Kind:    NotificationFailed,
				RunID:   runID,
				Message: ev.Err.Error(),
			})
			// The trigger itself was processed; the failure is surfaced
			// through the notification sink.
			return nil
		}
	}

	// Stream drained without a terminal event: checkpoint and hand control
	// back. The next event only arrives on the next external trigger.
	info, err := o.cp.Capture(run)
	if err != nil {
		return fmt.Errorf("run %s: capture checkpoint: %w", runID, err)
	}
	if err := o.store.Set(ctx, CheckpointKey(runID), info); err != nil {
		return fmt.Errorf("run %s: persist checkpoint: %w", runID, err)
	}
	o.emit(runID, "", "checkpoint_saved", map[string]any{
		"checkpoint_id": info.CheckpointID,
		"status":        string(run.Status()),
	})

	if run.Status() == StatusIdle {
		// No output, no error, no suspension: the graph is malformed. The
		// persisted state is left in place for manual inspection.
		o.emit(runID, "", "protocol_violation", map[string]any{
			"error": ErrProtocolViolation.Error(),
		})
		return fmt.Errorf("run %s: %w", runID, ErrProtocolViolation)
	}
	return nil
}

// handleRequestInfo persists the outstanding request, mirrors it into the
// pending-approvals collection when the port is bound to it, and notifies
// the external actor.
func (o *Orchestrator) handleRequestInfo(ctx context.Context, ev Event) error {
	req := ev.Request
	if err := o.store.Set(ctx, PendingRequestKey(req.RunID), req); err != nil {
		return err
	}
	binding := o.ports[req.PortID]
	if binding.CollectApproval {
		if err := o.store.Append(ctx, KeyPendingApprovals, PendingApproval{
			RunID:     req.RunID,
			PortID:    req.PortID,
			Payload:   req.Payload,
			CreatedAt: req.CreatedAt,
		}); err != nil {
			return err
		}
	}
	o.metrics.suspended(req.PortID)
	o.notify(ctx, Notification{
		Kind:    NotificationRequest,
		RunID:   req.RunID,
		PortID:  req.PortID,
		Payload: ev.Payload,
	})
	return nil
}

// failRun deletes the run's persisted state and notifies the failure. Used
// for failures that occur outside the run's own event stream, e.g. a
// mistyped reply.
func (o *Orchestrator) failRun(ctx context.Context, run *Run, cause error) error {
	runID := run.ID()
	if err := o.cleanup(ctx, runID); err != nil {
		return fmt.Errorf("run %s: cleanup: %w", runID, err)
	}
	o.metrics.runFinished(o.wf.name, StatusFailed)
	o.emit(runID, "", "workflow_failed", map[string]any{"error": cause.Error()})
	o.notify(ctx, Notification{
		Kind:    NotificationFailed,
		RunID:   runID,
		Message: cause.Error(),
	})
	return nil
}

// cleanup deletes every per-run StateStore key. Terminal runs leave nothing
// behind that could be resumed into an inconsistent state.
func (o *Orchestrator) cleanup(ctx context.Context, runID string) error {
	if err := o.store.Delete(ctx, CheckpointKey(runID)); err != nil {
		return err
	}
	return o.store.Delete(ctx, PendingRequestKey(runID))
}

// notify publishes one outward notification. The sink has no feedback into
// the engine: failures are emitted as observability events and otherwise
// ignored.
func (o *Orchestrator) notify(ctx context.Context, n Notification) {
	if err := o.notifier.Notify(ctx, n); err != nil {
		o.emit(n.RunID, "", "notify_failed", map[string]any{
			"kind":  string(n.Kind),
			"error": err.Error(),
		})
	}
}

// emit sends an orchestrator-level observability event.
func (o *Orchestrator) emit(runID, node, msg string, meta map[string]any) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(emit.Event{RunID: runID, Node: node, Msg: msg, Meta: meta})
}

// lockRun serializes triggers for one run id.
func (o *Orchestrator) lockRun(runID string) func() {
	o.mu.Lock()
	lock, ok := o.runLocks[runID]
	if !ok {
		lock = &sync.Mutex{}
		o.runLocks[runID] = lock
	}
	o.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
