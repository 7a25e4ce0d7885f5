// Package trip implements the trip-planning workflow on top of the flow
// engine: a planner stage generates itinerary options with a language model,
// a user picks one, an administrator approves the resulting request, and a
// finalizer produces the trip plan.
package trip

// UserMessage is the workflow input: a free-form trip request from the user,
// e.g. "3-day trip to Denver".
type UserMessage struct {
	Text string `json:"text"`
}

// TripOption is one generated itinerary candidate.
type TripOption struct {
	ID            int      `json:"id"`
	Title         string   `json:"title"`
	City          string   `json:"city"`
	Days          int      `json:"days"`
	Summary       string   `json:"summary"`
	Highlights    []string `json:"highlights,omitempty"`
	EstimatedCost float64  `json:"estimated_cost"`
}

// TripOptions is the list of candidates presented to the user for selection.
type TripOptions []TripOption

// ItinerarySelected is the user's reply to the selection request: the id of
// the chosen option.
type ItinerarySelected struct {
	OptionID int `json:"option_id"`
}

// ApprovalStatus is an administrator's decision on a trip request.
type ApprovalStatus string

const (
	// StatusApproved clears the trip for booking.
	StatusApproved ApprovalStatus = "approved"

	// StatusRejected declines the trip.
	StatusRejected ApprovalStatus = "rejected"
)

// TripRequest is the booking request assembled from the chosen option. It is
// what an administrator sees in the pending-approvals list.
type TripRequest struct {
	TripID        string     `json:"trip_id"`
	Option        TripOption `json:"option"`
	RequestedTrip string     `json:"requested_trip"`
}

// TripRequestResult is the administrator's reply to an approval request.
type TripRequestResult struct {
	Status  ApprovalStatus `json:"status"`
	Comment string         `json:"comment,omitempty"`
}

// TripPlan is the workflow's final output.
type TripPlan struct {
	TripID   string         `json:"trip_id"`
	Status   ApprovalStatus `json:"status"`
	Option   TripOption     `json:"option"`
	Message  string         `json:"message"`
	Approved bool           `json:"approved"`
}
