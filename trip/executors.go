package trip

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tripflow-ai/tripflow/flow"
	"github.com/tripflow-ai/tripflow/flow/model"
)

// Node names and port ids of the trip-planning workflow.
const (
	NodePlanner        = "Planner"
	NodeRequestBuilder = "RequestBuilder"
	NodeFinalizer      = "Finalizer"
	PortUserSelection  = "UserSelection"
	PortAdminApproval  = "AdminApproval"
)

// stateKeyOptions is the workflow-scoped state key under which the planner
// stores its generated options. RequestBuilder resolves the user's selection
// against it, possibly in a later process after a checkpoint restore.
const stateKeyOptions = "options"

const plannerSystemPrompt = `You are a travel planner. Given a trip request,
respond with a JSON object of the form
{"options": [{"id": 1, "title": "...", "city": "...", "days": 3, "summary": "...", "highlights": ["..."], "estimated_cost": 1200.0}]}
containing exactly 3 distinct itinerary options. Respond with JSON only.`

// plannerReply is the envelope the model is prompted to produce.
type plannerReply struct {
	Options []TripOption `json:"options"`
}

// NewPlanner returns the entry executor. It turns the user's free-form trip
// request into a list of itinerary options via the chat model, stores the
// list in workflow state, and forwards it to the selection port.
func NewPlanner(m model.ChatModel) *flow.Executor {
	return flow.NewExecutor(NodePlanner, func(ctx context.Context, rc *flow.RunContext, in UserMessage) (TripOptions, error) {
		if strings.TrimSpace(in.Text) == "" {
			return nil, fmt.Errorf("empty trip request")
		}

		out, err := m.Chat(ctx, []model.Message{
			{Role: model.RoleSystem, Content: plannerSystemPrompt},
			{Role: model.RoleUser, Content: in.Text},
		})
		if err != nil {
			return nil, fmt.Errorf("plan trip: %w", err)
		}

		var reply plannerReply
		if err := json.Unmarshal([]byte(cleanJSON(out.Text)), &reply); err != nil {
			return nil, fmt.Errorf("parse planner reply: %w", err)
		}
		if len(reply.Options) == 0 {
			return nil, fmt.Errorf("planner returned no options")
		}
		for i := range reply.Options {
			if reply.Options[i].ID == 0 {
				reply.Options[i].ID = i + 1
			}
		}

		opts := TripOptions(reply.Options)
		if err := rc.Set(flow.ScopeWorkflow, stateKeyOptions, opts); err != nil {
			return nil, err
		}
		return opts, nil
	})
}

// NewRequestBuilder returns the executor that resolves the user's selection
// against the stored options and assembles the booking request for approval.
func NewRequestBuilder() *flow.Executor {
	return flow.NewExecutor(NodeRequestBuilder, func(ctx context.Context, rc *flow.RunContext, in ItinerarySelected) (TripRequest, error) {
		var opts TripOptions
		found, err := rc.Get(flow.ScopeWorkflow, stateKeyOptions, &opts)
		if err != nil {
			return TripRequest{}, err
		}
		if !found {
			return TripRequest{}, fmt.Errorf("no stored options for run %s", rc.RunID())
		}

		for _, opt := range opts {
			if opt.ID == in.OptionID {
				req := TripRequest{
					TripID:        rc.RunID(),
					Option:        opt,
					RequestedTrip: opt.Title,
				}
				// Stored so the finalizer can recover the chosen option after
				// the admin-approval suspension.
				if err := rc.Set(flow.ScopeWorkflow, stateKeyRequest, req); err != nil {
					return TripRequest{}, err
				}
				return req, nil
			}
		}
		return TripRequest{}, fmt.Errorf("unknown option id %d", in.OptionID)
	})
}

// NewFinalizer returns the terminal executor. Its primary route turns an
// approval decision into the final plan. A second route accepts a TripRequest
// directly, for graphs that skip the approval port (e.g. pre-approved trips).
func NewFinalizer() *flow.Executor {
	e := flow.NewExecutor(NodeFinalizer, func(ctx context.Context, rc *flow.RunContext, in TripRequestResult) (TripPlan, error) {
		req, err := loadRequest(rc)
		if err != nil {
			return TripPlan{}, err
		}
		plan := TripPlan{
			TripID:   req.TripID,
			Status:   in.Status,
			Option:   req.Option,
			Approved: in.Status == StatusApproved,
		}
		if plan.Approved {
			plan.Message = "Trip approved: " + req.Option.Title
		} else {
			plan.Message = "Trip rejected"
			if in.Comment != "" {
				plan.Message += ": " + in.Comment
			}
		}
		return plan, nil
	})
	return flow.WithRoute(e, func(ctx context.Context, rc *flow.RunContext, in TripRequest) (TripPlan, error) {
		return TripPlan{
			TripID:   in.TripID,
			Status:   StatusApproved,
			Option:   in.Option,
			Approved: true,
			Message:  "Trip approved: " + in.Option.Title,
		}, nil
	})
}

// stateKeyRequest holds the pending TripRequest between RequestBuilder and
// the finalizer.
const stateKeyRequest = "request"

func loadRequest(rc *flow.RunContext) (TripRequest, error) {
	var req TripRequest
	found, err := rc.Get(flow.ScopeWorkflow, stateKeyRequest, &req)
	if err != nil {
		return TripRequest{}, err
	}
	if !found {
		return TripRequest{}, fmt.Errorf("no stored trip request for run %s", rc.RunID())
	}
	return req, nil
}

// cleanJSON strips markdown code fences that models sometimes wrap around
// JSON output despite instructions.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
