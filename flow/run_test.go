package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tripflow-ai/tripflow/flow/emit"
)

// drain advances the run until its stream ends, returning every event.
func drain(ctx context.Context, r *Run) []Event {
	var events []Event
	for {
		ev, ok := r.Next(ctx)
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

func TestRunSuspendAndDeliver(t *testing.T) {
	wf := shippingWorkflow(t)
	run := wf.NewRun("run-1")
	ctx := context.Background()

	if err := run.Feed(orderPlaced{SKU: "A-1", Qty: 2}); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if run.Status() != StatusRunning {
		t.Fatalf("status after Feed = %s, want %s", run.Status(), StatusRunning)
	}

	events := drain(ctx, run)
	if len(events) != 1 {
		t.Fatalf("got %d events before suspension, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != EventRequestInfo {
		t.Fatalf("event type = %s, want %s", ev.Type, EventRequestInfo)
	}
	if ev.Node != "confirm" {
		t.Errorf("event node = %q, want %q", ev.Node, "confirm")
	}
	if run.Status() != StatusPendingRequests {
		t.Fatalf("status after drain = %s, want %s", run.Status(), StatusPendingRequests)
	}

	req := run.Pending()
	if req == nil {
		t.Fatal("Pending() = nil while suspended")
	}
	if req.PortID != "confirm" || req.RunID != "run-1" {
		t.Errorf("pending request = %+v", req)
	}
	if req.PayloadKind != "flow.pickList" {
		t.Errorf("PayloadKind = %q, want flow.pickList", req.PayloadKind)
	}
	if req.ReplyKind != "flow.pickConfirmed" {
		t.Errorf("ReplyKind = %q, want flow.pickConfirmed", req.ReplyKind)
	}

	env, err := req.CreateResponse(pickConfirmed{OK: true})
	if err != nil {
		t.Fatalf("CreateResponse() error: %v", err)
	}
	if err := run.Deliver(env); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if run.Status() != StatusRunning {
		t.Fatalf("status after Deliver = %s, want %s", run.Status(), StatusRunning)
	}
	if run.Pending() != nil {
		t.Error("Pending() != nil after Deliver")
	}

	events = drain(ctx, run)
	if len(events) != 1 {
		t.Fatalf("got %d events after resume, want 1", len(events))
	}
	out := events[0]
	if out.Type != EventOutput {
		t.Fatalf("event type = %s, want %s", out.Type, EventOutput)
	}
	if s, ok := out.Payload.(shipment); !ok || s.Tracking != "TRK-1" {
		t.Errorf("output payload = %#v", out.Payload)
	}
	if run.Status() != StatusCompleted {
		t.Errorf("final status = %s, want %s", run.Status(), StatusCompleted)
	}

	// A completed run's stream stays ended.
	if _, ok := run.Next(ctx); ok {
		t.Error("Next() produced an event after completion")
	}
}

func TestFeedRejectsWrongInputType(t *testing.T) {
	wf := shippingWorkflow(t)
	run := wf.NewRun("run-1")

	err := run.Feed(pickConfirmed{OK: true})
	var re *RoutingError
	if !errors.As(err, &re) {
		t.Fatalf("Feed() error = %v, want *RoutingError", err)
	}
	if re.Node != "prepare" || re.Kind != "flow.pickConfirmed" {
		t.Errorf("RoutingError = %+v", re)
	}
}

func TestDeliverWithoutPendingRequest(t *testing.T) {
	wf := shippingWorkflow(t)
	run := wf.NewRun("run-1")

	err := run.Deliver(Envelope{Kind: "flow.pickConfirmed", Payload: pickConfirmed{}})
	if !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("Deliver() error = %v, want ErrNoPendingRequest", err)
	}
}

func TestDeliverRejectsMismatchedReply(t *testing.T) {
	wf := shippingWorkflow(t)
	run := wf.NewRun("run-1")
	ctx := context.Background()

	if err := run.Feed(orderPlaced{SKU: "A-1"}); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	drain(ctx, run)

	req := run.Pending()
	if _, err := req.CreateResponse(orderPlaced{SKU: "X"}); err != nil {
		var tm *TypeMismatchError
		if !errors.As(err, &tm) {
			t.Fatalf("CreateResponse() error = %v, want *TypeMismatchError", err)
		}
		if tm.Want != "flow.pickConfirmed" || tm.Got != "flow.orderPlaced" {
			t.Errorf("TypeMismatchError = %+v", tm)
		}
	} else {
		t.Fatal("CreateResponse() accepted a mismatched reply")
	}

	// Delivering a hand-built mismatched envelope is caught by the run too,
	// and leaves the suspension intact.
	err := run.Deliver(Envelope{Kind: "flow.orderPlaced", Payload: orderPlaced{}})
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("Deliver() error = %v, want *TypeMismatchError", err)
	}
	if run.Pending() == nil {
		t.Error("mismatched delivery cleared the pending request")
	}
}

func TestSecondSuspensionFailsWithPortBusy(t *testing.T) {
	// prepare fans out to two ports in one tick; the second suspension must
	// fail rather than double-prompt.
	b := NewBuilder("wf")
	b.AddExecutor(passThrough("prepare", func(in orderPlaced) pickList { return pickList{} }))
	b.AddPort(NewRequestPort[pickList, pickConfirmed]("first"))
	b.AddPort(NewRequestPort[pickList, pickConfirmed]("second"))
	b.AddExecutor(passThrough("ship", func(in pickConfirmed) shipment { return shipment{} }))
	b.Connect("prepare", "first")
	b.Connect("prepare", "second")
	b.Connect("first", "ship")
	b.Connect("second", "ship")
	b.SetEntry("prepare")
	b.SetTerminal("ship")
	wf, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	run := wf.NewRun("run-1")
	if err := run.Feed(orderPlaced{}); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	events := drain(context.Background(), run)
	if len(events) != 2 {
		t.Fatalf("got %d events, want suspension then error", len(events))
	}
	if events[0].Type != EventRequestInfo || events[0].Node != "first" {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[1].Type != EventError {
		t.Fatalf("second event = %+v", events[1])
	}
	var pb *PortBusyError
	if !errors.As(events[1].Err, &pb) {
		t.Fatalf("error = %v, want *PortBusyError", events[1].Err)
	}
	if pb.Port != "second" || pb.Pending != "first" {
		t.Errorf("PortBusyError = %+v", pb)
	}
}

func TestExecutorErrorFailsRun(t *testing.T) {
	boom := errors.New("boom")
	b := NewBuilder("wf")
	b.AddExecutor(NewExecutor("explode", func(ctx context.Context, rc *RunContext, in orderPlaced) (shipment, error) {
		return shipment{}, boom
	}))
	b.SetEntry("explode")
	b.SetTerminal("explode")
	wf, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	run := wf.NewRun("run-1")
	if err := run.Feed(orderPlaced{}); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	events := drain(context.Background(), run)
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want one EventError", events)
	}
	var ee *ExecutorError
	if !errors.As(events[0].Err, &ee) {
		t.Fatalf("error = %v, want *ExecutorError", events[0].Err)
	}
	if !errors.Is(events[0].Err, boom) {
		t.Error("ExecutorError does not unwrap to the cause")
	}
	if run.Status() != StatusFailed {
		t.Errorf("status = %s, want %s", run.Status(), StatusFailed)
	}
}

func TestExecutorPanicIsContained(t *testing.T) {
	b := NewBuilder("wf")
	b.AddExecutor(NewExecutor("panics", func(ctx context.Context, rc *RunContext, in orderPlaced) (shipment, error) {
		panic("unexpected")
	}))
	b.SetEntry("panics")
	b.SetTerminal("panics")
	wf, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	run := wf.NewRun("run-1")
	if err := run.Feed(orderPlaced{}); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	events := drain(context.Background(), run)
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want one EventError", events)
	}
	if run.Status() != StatusFailed {
		t.Errorf("status = %s, want %s", run.Status(), StatusFailed)
	}
}

func TestCancelledContextFailsRun(t *testing.T) {
	wf := shippingWorkflow(t)
	run := wf.NewRun("run-1")
	if err := run.Feed(orderPlaced{}); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev, ok := run.Next(ctx)
	if !ok || ev.Type != EventError {
		t.Fatalf("Next() = (%+v, %v), want EventError", ev, ok)
	}
	if !errors.Is(ev.Err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", ev.Err)
	}
}

func TestPolymorphicDispatch(t *testing.T) {
	// classify emits either a pickList or a shipment; each payload follows
	// only the type-matching edge.
	classify := NewExecutor("classify", func(ctx context.Context, rc *RunContext, in orderPlaced) (pickList, error) {
		return pickList{Items: []string{in.SKU}}, nil
	})
	finish := NewExecutor("finish", func(ctx context.Context, rc *RunContext, in pickList) (shipment, error) {
		return shipment{Tracking: fmt.Sprintf("TRK-%d", len(in.Items))}, nil
	})
	WithRoute(finish, func(ctx context.Context, rc *RunContext, in pickConfirmed) (shipment, error) {
		return shipment{Tracking: "TRK-direct"}, nil
	})

	b := NewBuilder("wf")
	b.AddExecutor(classify)
	b.AddExecutor(finish)
	b.Connect("classify", "finish")
	b.SetEntry("classify")
	b.SetTerminal("finish")
	wf, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	run := wf.NewRun("run-1")
	if err := run.Feed(orderPlaced{SKU: "A"}); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	events := drain(context.Background(), run)
	if len(events) != 1 || events[0].Type != EventOutput {
		t.Fatalf("events = %+v, want one EventOutput", events)
	}
	if s := events[0].Payload.(shipment); s.Tracking != "TRK-1" {
		t.Errorf("Tracking = %q, want TRK-1", s.Tracking)
	}
}

func TestRunContextStateScopes(t *testing.T) {
	first := NewExecutor("first", func(ctx context.Context, rc *RunContext, in orderPlaced) (pickList, error) {
		if err := rc.Set(ScopeWorkflow, "sku", in.SKU); err != nil {
			return pickList{}, err
		}
		if err := rc.Set(ScopeExecutor, "private", 42); err != nil {
			return pickList{}, err
		}
		return pickList{}, nil
	})
	second := NewExecutor("second", func(ctx context.Context, rc *RunContext, in pickList) (shipment, error) {
		var sku string
		found, err := rc.Get(ScopeWorkflow, "sku", &sku)
		if err != nil || !found {
			return shipment{}, fmt.Errorf("workflow state missing: found=%v err=%v", found, err)
		}
		var private int
		found, err = rc.Get(ScopeExecutor, "private", &private)
		if err != nil {
			return shipment{}, err
		}
		if found {
			return shipment{}, errors.New("executor-scoped state leaked across nodes")
		}
		return shipment{Tracking: sku}, nil
	})

	b := NewBuilder("wf")
	b.AddExecutor(first)
	b.AddExecutor(second)
	b.Connect("first", "second")
	b.SetEntry("first")
	b.SetTerminal("second")
	wf, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	run := wf.NewRun("run-1")
	if err := run.Feed(orderPlaced{SKU: "A-9"}); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	events := drain(context.Background(), run)
	if len(events) != 1 || events[0].Type != EventOutput {
		t.Fatalf("events = %+v, want one EventOutput", events)
	}
	if s := events[0].Payload.(shipment); s.Tracking != "A-9" {
		t.Errorf("Tracking = %q, want A-9", s.Tracking)
	}
}

func TestRunEmitsObservabilityEvents(t *testing.T) {
	wf := shippingWorkflow(t)
	buf := emit.NewBufferedEmitter()
	run := wf.NewRun("run-1")
	run.SetEmitter(buf)

	if err := run.Feed(orderPlaced{SKU: "A"}); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	drain(context.Background(), run)

	history := buf.History("run-1")
	if len(history) == 0 {
		t.Fatal("no events emitted")
	}
	// Seq must be strictly increasing within the run.
	for i := 1; i < len(history); i++ {
		if history[i].Seq <= history[i-1].Seq {
			t.Fatalf("seq not increasing: %d then %d", history[i-1].Seq, history[i].Seq)
		}
	}
	suspensions := buf.HistoryWithFilter("run-1", emit.HistoryFilter{Msg: "request_info"})
	if len(suspensions) != 1 {
		t.Errorf("got %d request_info events, want 1", len(suspensions))
	}
}
