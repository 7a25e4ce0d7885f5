package trip

import (
	"context"
	"fmt"

	"github.com/tripflow-ai/tripflow/flow"
	"github.com/tripflow-ai/tripflow/flow/emit"
	"github.com/tripflow-ai/tripflow/flow/model"
	"github.com/tripflow-ai/tripflow/flow/store"
)

// NewWorkflow builds the trip-planning graph:
//
//	Planner -> UserSelection -> RequestBuilder -> AdminApproval -> Finalizer
//
// The run suspends twice, once per port, and each suspension survives a
// process restart through the orchestrator's checkpoints.
func NewWorkflow(m model.ChatModel) (*flow.Workflow, error) {
	b := flow.NewBuilder("trip-planner")
	b.AddExecutor(NewPlanner(m))
	b.AddPort(flow.NewRequestPort[TripOptions, ItinerarySelected](PortUserSelection))
	b.AddExecutor(NewRequestBuilder())
	b.AddPort(flow.NewRequestPort[TripRequest, TripRequestResult](PortAdminApproval))
	b.AddExecutor(NewFinalizer())

	b.Connect(NodePlanner, PortUserSelection)
	b.Connect(PortUserSelection, NodeRequestBuilder)
	b.Connect(NodeRequestBuilder, PortAdminApproval)
	b.Connect(PortAdminApproval, NodeFinalizer)

	b.SetEntry(NodePlanner)
	b.SetTerminal(NodeFinalizer)
	return b.Build()
}

// ServiceOptions configures a Service. Model and Store are required; the
// observability fields follow OrchestratorOptions semantics.
type ServiceOptions struct {
	Model    model.ChatModel
	Store    store.Store
	Notifier flow.Notifier
	Emitter  emit.Emitter
	Metrics  *flow.Metrics
}

// Service is the application-facing surface of the trip planner: it maps
// inbound user messages and decisions onto orchestrator triggers, keyed by
// trip id (one trip is one run).
type Service struct {
	orch  *flow.Orchestrator
	store store.Store
}

// NewService builds the workflow and orchestrator from the given options.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("trip: chat model is required")
	}
	wf, err := NewWorkflow(opts.Model)
	if err != nil {
		return nil, fmt.Errorf("trip: build workflow: %w", err)
	}
	orch, err := flow.NewOrchestrator(wf, opts.Store, flow.OrchestratorOptions{
		Ports: map[string]flow.PortBinding{
			PortUserSelection: {},
			PortAdminApproval: {CollectApproval: true},
		},
		Notifier: opts.Notifier,
		Emitter:  opts.Emitter,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("trip: %w", err)
	}
	return &Service{orch: orch, store: opts.Store}, nil
}

// HandleMessage processes an inbound user message for a trip. A first message
// starts the run; a message for a trip that is already in flight resumes its
// event processing without consuming the text.
func (s *Service) HandleMessage(ctx context.Context, tripID, text string) error {
	return s.orch.StartOrResume(ctx, tripID, UserMessage{Text: text})
}

// HandleSelection delivers the user's itinerary choice to a trip suspended at
// the selection port.
func (s *Service) HandleSelection(ctx context.Context, tripID string, optionID int) error {
	return s.orch.Resume(ctx, tripID, ItinerarySelected{OptionID: optionID})
}

// HandleApproval delivers an administrator's decision to a trip suspended at
// the approval port.
func (s *Service) HandleApproval(ctx context.Context, tripID string, status ApprovalStatus, comment string) error {
	return s.orch.Resume(ctx, tripID, TripRequestResult{Status: status, Comment: comment})
}

// HandleDecision delivers a typed reply to whichever port the trip is
// suspended at. HandleSelection and HandleApproval are the typed helpers for
// the two standard ports.
func (s *Service) HandleDecision(ctx context.Context, tripID string, reply any) error {
	return s.orch.Resume(ctx, tripID, reply)
}

// PendingApprovals returns the process-wide list of outstanding approval
// requests, oldest first. Entries are never deduplicated by the engine.
func (s *Service) PendingApprovals(ctx context.Context) ([]flow.PendingApproval, error) {
	list, _, err := store.GetAs[[]flow.PendingApproval](ctx, s.store, flow.KeyPendingApprovals)
	if err != nil {
		return nil, err
	}
	return list, nil
}
