package flow

import (
	"context"
	"reflect"
)

// Handler is the untyped form of an executor's handling function. Typed
// handlers supplied to NewExecutor and WithRoute are adapted to this form
// once, at declaration time; the engine never inspects types at dispatch.
type Handler func(ctx context.Context, rc *RunContext, in any) (any, error)

// route is one entry in an executor's dispatch table: a concrete input type,
// the output type it produces, and the adapted handler.
type route struct {
	in      reflect.Type
	out     reflect.Type
	handler Handler
}

// Executor is a named, typed processing unit in a workflow graph.
//
// An executor declares one primary input/output pair via NewExecutor and may
// register additional typed routes via WithRoute for graphs that carry a
// union-typed payload between stages. Executors hold no per-run state:
// instances may be shared across concurrent runs, so anything that must
// survive between messages goes through the RunContext, never through
// instance fields.
//
// Example:
//
//	double := flow.NewExecutor("double", func(ctx context.Context, rc *flow.RunContext, in Amount) (Amount, error) {
//	    return Amount{Value: in.Value * 2}, nil
//	})
type Executor struct {
	name   string
	routes []route
}

// NewExecutor creates an executor with the given name and primary handling
// function. The input and output types must be named Go types; Build rejects
// anonymous payload types because they cannot round-trip a checkpoint.
func NewExecutor[In, Out any](name string, fn func(ctx context.Context, rc *RunContext, in In) (Out, error)) *Executor {
	e := &Executor{name: name}
	return WithRoute(e, fn)
}

// WithRoute registers an additional typed route on the executor and returns
// it for chaining. Each route accepts one concrete input type; delivering a
// payload the executor has no route for is a routing defect caught at build
// time (edges) or dispatch time (fan-in of an undeclared kind).
func WithRoute[In, Out any](e *Executor, fn func(ctx context.Context, rc *RunContext, in In) (Out, error)) *Executor {
	e.routes = append(e.routes, route{
		in:  reflect.TypeOf((*In)(nil)).Elem(),
		out: reflect.TypeOf((*Out)(nil)).Elem(),
		handler: func(ctx context.Context, rc *RunContext, in any) (any, error) {
			typed, ok := in.(In)
			if !ok {
				// Guarded by build-time validation; reaching this means the
				// dispatch tables are corrupt.
				k, _ := kindOf(in)
				return nil, &RoutingError{Node: e.name, Kind: k}
			}
			return fn(ctx, rc, typed)
		},
	})
	return e
}

// Name returns the executor's unique name within its workflow.
func (e *Executor) Name() string {
	return e.name
}
