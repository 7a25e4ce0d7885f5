package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/tripflow-ai/tripflow/flow/store"
)

// newTestOrchestrator wires the shipping workflow to the given store with a
// buffer notifier, binding the confirm port to the approvals collection.
func newTestOrchestrator(t *testing.T, st store.Store) (*Orchestrator, *BufferNotifier) {
	t.Helper()
	notifier := NewBufferNotifier()
	orch, err := NewOrchestrator(shippingWorkflow(t), st, OrchestratorOptions{
		Ports: map[string]PortBinding{
			"confirm": {CollectApproval: true},
		},
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() error: %v", err)
	}
	return orch, notifier
}

func TestNewOrchestratorRejectsUnboundPort(t *testing.T) {
	_, err := NewOrchestrator(shippingWorkflow(t), store.NewMemStore(), OrchestratorOptions{})
	var gv *GraphValidationError
	if !errors.As(err, &gv) || gv.Code != "UNBOUND_PORT" {
		t.Fatalf("NewOrchestrator() error = %v, want UNBOUND_PORT", err)
	}
}

func TestNewOrchestratorRejectsUnknownPortBinding(t *testing.T) {
	_, err := NewOrchestrator(shippingWorkflow(t), store.NewMemStore(), OrchestratorOptions{
		Ports: map[string]PortBinding{
			"confirm": {},
			"ghost":   {},
		},
	})
	var gv *GraphValidationError
	if !errors.As(err, &gv) || gv.Code != "UNKNOWN_PORT" {
		t.Fatalf("NewOrchestrator() error = %v, want UNKNOWN_PORT", err)
	}
}

func TestStartOrResumeRequiresInputForFreshRun(t *testing.T) {
	st := store.NewMemStore()
	orch, _ := newTestOrchestrator(t, st)
	err := orch.StartOrResume(context.Background(), "run-1", nil)
	if !errors.Is(err, ErrMissingInput) {
		t.Fatalf("StartOrResume(nil) error = %v, want ErrMissingInput", err)
	}
	if st.Len() != 0 {
		t.Errorf("store mutated on rejected start: %d keys", st.Len())
	}
}

func TestStartSuspendAndResumeToCompletion(t *testing.T) {
	st := store.NewMemStore()
	orch, notifier := newTestOrchestrator(t, st)
	ctx := context.Background()

	if err := orch.StartOrResume(ctx, "run-1", orderPlaced{SKU: "A-1"}); err != nil {
		t.Fatalf("StartOrResume() error: %v", err)
	}

	// Suspended: checkpoint and pending request are persisted, and the
	// request was mirrored into the approvals collection.
	if _, found, _ := store.GetAs[CheckpointInfo](ctx, st, CheckpointKey("run-1")); !found {
		t.Fatal("no checkpoint persisted after suspension")
	}
	req, found, err := store.GetAs[ExternalRequest](ctx, st, PendingRequestKey("run-1"))
	if err != nil || !found {
		t.Fatalf("no pending request persisted: found=%v err=%v", found, err)
	}
	if req.PortID != "confirm" || req.RunID != "run-1" {
		t.Errorf("pending request = %+v", req)
	}
	approvals, found, err := store.GetAs[[]PendingApproval](ctx, st, KeyPendingApprovals)
	if err != nil || !found || len(approvals) != 1 {
		t.Fatalf("approvals = %v (found=%v err=%v), want 1 entry", approvals, found, err)
	}
	if approvals[0].RunID != "run-1" || approvals[0].PortID != "confirm" {
		t.Errorf("approval entry = %+v", approvals[0])
	}

	kinds := notificationKinds(notifier.ForRun("run-1"))
	if len(kinds) != 2 || kinds[0] != NotificationRunStarted || kinds[1] != NotificationRequest {
		t.Fatalf("notification kinds = %v", kinds)
	}

	if err := orch.Resume(ctx, "run-1", pickConfirmed{OK: true}); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}

	// Terminal: per-run keys are cleaned up.
	if _, found, _ := store.GetAs[CheckpointInfo](ctx, st, CheckpointKey("run-1")); found {
		t.Error("checkpoint still present after completion")
	}
	if _, found, _ := store.GetAs[ExternalRequest](ctx, st, PendingRequestKey("run-1")); found {
		t.Error("pending request still present after completion")
	}

	kinds = notificationKinds(notifier.ForRun("run-1"))
	if kinds[len(kinds)-1] != NotificationCompleted {
		t.Fatalf("final notification = %v, want %s", kinds, NotificationCompleted)
	}
	final := notifier.ForRun("run-1")[len(kinds)-1]
	if s, ok := final.Payload.(shipment); !ok || s.Tracking != "TRK-1" {
		t.Errorf("completion payload = %#v", final.Payload)
	}
}

func TestResumeUnknownRun(t *testing.T) {
	orch, _ := newTestOrchestrator(t, store.NewMemStore())
	err := orch.Resume(context.Background(), "nope", pickConfirmed{OK: true})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Resume() error = %v, want ErrSessionNotFound", err)
	}
}

func TestDuplicateReplyIsRejectedWithoutStateMutation(t *testing.T) {
	st := store.NewMemStore()
	orch, _ := newTestOrchestrator(t, st)
	ctx := context.Background()

	if err := orch.StartOrResume(ctx, "run-1", orderPlaced{SKU: "A-1"}); err != nil {
		t.Fatalf("StartOrResume() error: %v", err)
	}
	if err := orch.Resume(ctx, "run-1", pickConfirmed{OK: true}); err != nil {
		t.Fatalf("first Resume() error: %v", err)
	}

	// The request was already answered and the run completed; a duplicate
	// reply finds no session and mutates nothing.
	err := orch.Resume(ctx, "run-1", pickConfirmed{OK: true})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("duplicate Resume() error = %v, want ErrSessionNotFound", err)
	}
}

func TestMistypedReplyFailsRun(t *testing.T) {
	st := store.NewMemStore()
	orch, notifier := newTestOrchestrator(t, st)
	ctx := context.Background()

	if err := orch.StartOrResume(ctx, "run-1", orderPlaced{SKU: "A-1"}); err != nil {
		t.Fatalf("StartOrResume() error: %v", err)
	}

	if err := orch.Resume(ctx, "run-1", orderPlaced{SKU: "wrong"}); err != nil {
		t.Fatalf("Resume() with mistyped reply returned transport error: %v", err)
	}

	// The run failed: state cleaned up, failure notified.
	if _, found, _ := store.GetAs[CheckpointInfo](ctx, st, CheckpointKey("run-1")); found {
		t.Error("checkpoint still present after failure")
	}
	kinds := notificationKinds(notifier.ForRun("run-1"))
	if kinds[len(kinds)-1] != NotificationFailed {
		t.Fatalf("notifications = %v, want trailing %s", kinds, NotificationFailed)
	}

	// And the session is gone.
	err := orch.Resume(ctx, "run-1", pickConfirmed{OK: true})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Resume() after failure error = %v, want ErrSessionNotFound", err)
	}
}

func TestResumeAcrossOrchestratorRestart(t *testing.T) {
	// The store is the only shared state; a second orchestrator instance
	// stands in for a restarted process.
	st := store.NewMemStore()
	ctx := context.Background()

	first, _ := newTestOrchestrator(t, st)
	if err := first.StartOrResume(ctx, "run-1", orderPlaced{SKU: "A-1"}); err != nil {
		t.Fatalf("StartOrResume() error: %v", err)
	}

	second, notifier := newTestOrchestrator(t, st)
	if err := second.Resume(ctx, "run-1", pickConfirmed{OK: true}); err != nil {
		t.Fatalf("Resume() after restart error: %v", err)
	}

	kinds := notificationKinds(notifier.ForRun("run-1"))
	if len(kinds) != 1 || kinds[0] != NotificationCompleted {
		t.Fatalf("notifications after restart = %v, want [%s]", kinds, NotificationCompleted)
	}
}

func TestStartOrResumeIgnoresInputForExistingRun(t *testing.T) {
	st := store.NewMemStore()
	orch, notifier := newTestOrchestrator(t, st)
	ctx := context.Background()

	if err := orch.StartOrResume(ctx, "run-1", orderPlaced{SKU: "A-1"}); err != nil {
		t.Fatalf("StartOrResume() error: %v", err)
	}
	before := len(notifier.ForRun("run-1"))

	// A second message while suspended must not feed new input or answer the
	// port; the run simply resumes its (empty) stream and re-checkpoints.
	if err := orch.StartOrResume(ctx, "run-1", orderPlaced{SKU: "B-2"}); err != nil {
		t.Fatalf("second StartOrResume() error: %v", err)
	}

	req, found, err := store.GetAs[ExternalRequest](ctx, st, PendingRequestKey("run-1"))
	if err != nil || !found {
		t.Fatalf("pending request lost: found=%v err=%v", found, err)
	}
	if req.PortID != "confirm" {
		t.Errorf("pending request = %+v", req)
	}
	after := notifier.ForRun("run-1")
	if len(after) != before {
		t.Errorf("second trigger produced notifications: %v", notificationKinds(after[before:]))
	}

	// The original reply still completes the run.
	if err := orch.Resume(ctx, "run-1", pickConfirmed{OK: true}); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
}

func TestApprovalsCollectionIsAppendOnly(t *testing.T) {
	st := store.NewMemStore()
	orch, _ := newTestOrchestrator(t, st)
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if err := orch.StartOrResume(ctx, id, orderPlaced{SKU: "A"}); err != nil {
			t.Fatalf("StartOrResume(%s) error: %v", id, err)
		}
	}

	approvals, _, err := store.GetAs[[]PendingApproval](ctx, st, KeyPendingApprovals)
	if err != nil {
		t.Fatalf("load approvals: %v", err)
	}
	if len(approvals) != 3 {
		t.Fatalf("got %d approvals, want 3", len(approvals))
	}
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		if approvals[i].RunID != id {
			t.Errorf("approvals[%d].RunID = %q, want %q (order lost)", i, approvals[i].RunID, id)
		}
	}
}

func notificationKinds(ns []Notification) []NotificationKind {
	kinds := make([]NotificationKind, 0, len(ns))
	for _, n := range ns {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}
