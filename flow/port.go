package flow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// RequestPort is a suspension point in a workflow graph: the
// human-in-the-loop primitive.
//
// A port never computes a result itself. When a run delivers the port's
// declared request type to it, the run emits a RequestInfoEvent carrying the
// payload and transitions to PendingRequests. It stays suspended until a
// reply of the declared reply type is delivered via Run.Deliver, at which
// point the reply becomes the port's output and normal dispatch continues.
//
// At most one request may be outstanding per port per run; a second
// suspension before the first is answered fails the run with PortBusyError.
type RequestPort struct {
	id   string
	req  reflect.Type
	resp reflect.Type
}

// NewRequestPort declares a request port with the given id, request payload
// type Req, and expected reply type Resp.
//
// Example:
//
//	approval := flow.NewRequestPort[TripRequest, TripRequestResult]("AdminApproval")
func NewRequestPort[Req, Resp any](id string) *RequestPort {
	return &RequestPort{
		id:   id,
		req:  reflect.TypeOf((*Req)(nil)).Elem(),
		resp: reflect.TypeOf((*Resp)(nil)).Elem(),
	}
}

// ID returns the port's unique id within its workflow.
func (p *RequestPort) ID() string {
	return p.id
}

// ExternalRequest is the persisted record of a port's outstanding request.
//
// It carries the request payload for the external actor plus enough metadata
// to construct a typed reply envelope later, after an arbitrary delay and
// possibly in a different process. The Orchestrator stores it under
// "pending-request:{runID}" while the run is suspended and deletes it once
// the request is answered.
type ExternalRequest struct {
	// PortID identifies the suspended request port.
	PortID string `json:"port_id"`

	// RunID identifies the suspended run.
	RunID string `json:"run_id"`

	// PayloadKind names the request payload variant.
	PayloadKind string `json:"payload_kind"`

	// Payload is the JSON-encoded request payload shown to the external actor.
	Payload json.RawMessage `json:"payload"`

	// ReplyKind names the payload variant the port will accept as a reply.
	ReplyKind string `json:"reply_kind"`

	// CreatedAt records when the run suspended.
	CreatedAt time.Time `json:"created_at"`
}

// CreateResponse wraps a raw reply in a typed envelope addressed to the
// suspended port. The reply's dynamic type must match the port's declared
// reply type; otherwise a TypeMismatchError is returned and nothing is
// delivered.
func (r *ExternalRequest) CreateResponse(reply any) (Envelope, error) {
	kind, err := kindOf(reply)
	if err != nil {
		return Envelope{}, fmt.Errorf("port %s: %w", r.PortID, err)
	}
	if kind != r.ReplyKind {
		return Envelope{}, &TypeMismatchError{Port: r.PortID, Want: r.ReplyKind, Got: kind}
	}
	return Envelope{Kind: kind, Payload: reply}, nil
}
