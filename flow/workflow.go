package flow

import (
	"sort"
)

// node is the built form of an executor or request port: dispatch table,
// accepted input kinds, and produced output kinds, all resolved at build
// time so the run loop is pure map lookups.
type node struct {
	name     string
	port     *RequestPort
	handlers map[string]Handler
	accepts  map[string]bool
	produces []string
}

// Workflow is an immutable directed graph of executors and request ports.
//
// A workflow accepts one input type at its entry node and ultimately yields
// one output type from its terminal node, with request ports as the only
// external stop points. Topology is fixed at build time; Build validates
// every edge's type compatibility and the reachability invariants, so a
// workflow that constructs successfully never fails mid-run for a structural
// reason.
type Workflow struct {
	name     string
	nodes    map[string]*node
	adj      map[string][]string
	entry    string
	terminal string
	kinds    kindTable
}

// Name returns the workflow's name.
func (w *Workflow) Name() string {
	return w.name
}

// Ports returns the ids of all request ports in the workflow, sorted. The
// Orchestrator uses this to validate its port bindings at construction.
func (w *Workflow) Ports() []string {
	var ids []string
	for name, n := range w.nodes {
		if n.port != nil {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids
}

// Builder accumulates executors, ports, and directed edges, and produces an
// immutable Workflow. All validation happens in Build so graphs can be
// declared in any order.
//
// Example:
//
//	b := flow.NewBuilder("trip-planner")
//	b.AddExecutor(planner)
//	b.AddPort(selection)
//	b.Connect("Planner", "UserSelection")
//	b.SetEntry("Planner")
//	b.SetTerminal("Finalizer")
//	wf, err := b.Build()
type Builder struct {
	name      string
	executors []*Executor
	ports     []*RequestPort
	edges     [][2]string
	entry     string
	terminal  string
}

// NewBuilder creates a workflow builder with the given workflow name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// AddExecutor registers an executor node.
func (b *Builder) AddExecutor(e *Executor) *Builder {
	b.executors = append(b.executors, e)
	return b
}

// AddPort registers a request port node.
func (b *Builder) AddPort(p *RequestPort) *Builder {
	b.ports = append(b.ports, p)
	return b
}

// Connect adds a directed edge from one node to another. The edge is matched
// at dispatch time by payload kind; Build rejects edges whose source produces
// nothing the destination accepts.
func (b *Builder) Connect(from, to string) *Builder {
	b.edges = append(b.edges, [2]string{from, to})
	return b
}

// SetEntry designates the node that receives the workflow's initial input.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// SetTerminal designates the executor whose output completes the workflow.
func (b *Builder) SetTerminal(name string) *Builder {
	b.terminal = name
	return b
}

// Build validates the accumulated graph and returns an immutable Workflow.
//
// Validation rules:
//   - node names and port ids are unique, payload types are named types
//   - entry and terminal are set; the terminal is an executor
//   - every edge connects existing nodes and is type-compatible
//   - the terminal has no outgoing edges (its output is the final result)
//   - every node is reachable from the entry node
//   - the terminal is reachable from every request port (a run that suspends
//     must be resumable to completion)
//
// Violations fail with a GraphValidationError; none of them can surface
// mid-run.
func (b *Builder) Build() (*Workflow, error) {
	if b.name == "" {
		return nil, &GraphValidationError{Code: "MISSING_NAME", Message: "workflow name is required"}
	}

	nodes := make(map[string]*node)
	kinds := make(kindTable)

	for _, e := range b.executors {
		if e.name == "" {
			return nil, &GraphValidationError{Code: "MISSING_NODE_NAME", Message: "executor name cannot be empty"}
		}
		if _, dup := nodes[e.name]; dup {
			return nil, &GraphValidationError{Code: "DUPLICATE_NODE", Message: "duplicate node name: " + e.name}
		}
		n := &node{
			name:     e.name,
			handlers: make(map[string]Handler),
			accepts:  make(map[string]bool),
		}
		if len(e.routes) == 0 {
			return nil, &GraphValidationError{Code: "NO_ROUTES", Message: "executor " + e.name + " declares no routes"}
		}
		for _, r := range e.routes {
			inKind, err := kinds.add(r.in)
			if err != nil {
				return nil, &GraphValidationError{Code: "BAD_PAYLOAD_TYPE", Message: "executor " + e.name + ": " + err.Error()}
			}
			outKind, err := kinds.add(r.out)
			if err != nil {
				return nil, &GraphValidationError{Code: "BAD_PAYLOAD_TYPE", Message: "executor " + e.name + ": " + err.Error()}
			}
			if n.accepts[inKind] {
				return nil, &GraphValidationError{Code: "DUPLICATE_ROUTE", Message: "executor " + e.name + " has two routes for kind " + inKind}
			}
			n.handlers[inKind] = r.handler
			n.accepts[inKind] = true
			n.produces = append(n.produces, outKind)
		}
		nodes[e.name] = n
	}

	for _, p := range b.ports {
		if p.id == "" {
			return nil, &GraphValidationError{Code: "MISSING_NODE_NAME", Message: "port id cannot be empty"}
		}
		if _, dup := nodes[p.id]; dup {
			return nil, &GraphValidationError{Code: "DUPLICATE_NODE", Message: "duplicate node name: " + p.id}
		}
		reqKind, err := kinds.add(p.req)
		if err != nil {
			return nil, &GraphValidationError{Code: "BAD_PAYLOAD_TYPE", Message: "port " + p.id + ": " + err.Error()}
		}
		respKind, err := kinds.add(p.resp)
		if err != nil {
			return nil, &GraphValidationError{Code: "BAD_PAYLOAD_TYPE", Message: "port " + p.id + ": " + err.Error()}
		}
		nodes[p.id] = &node{
			name:     p.id,
			port:     p,
			accepts:  map[string]bool{reqKind: true},
			produces: []string{respKind},
		}
	}

	if b.entry == "" {
		return nil, &GraphValidationError{Code: "NO_ENTRY", Message: "entry node not set"}
	}
	if _, ok := nodes[b.entry]; !ok {
		return nil, &GraphValidationError{Code: "NODE_NOT_FOUND", Message: "entry node does not exist: " + b.entry}
	}
	if b.terminal == "" {
		return nil, &GraphValidationError{Code: "NO_TERMINAL", Message: "terminal node not set"}
	}
	term, ok := nodes[b.terminal]
	if !ok {
		return nil, &GraphValidationError{Code: "NODE_NOT_FOUND", Message: "terminal node does not exist: " + b.terminal}
	}
	if term.port != nil {
		return nil, &GraphValidationError{Code: "TERMINAL_IS_PORT", Message: "terminal node " + b.terminal + " must be an executor, not a port"}
	}

	adj := make(map[string][]string)
	for _, edge := range b.edges {
		from, to := edge[0], edge[1]
		src, ok := nodes[from]
		if !ok {
			return nil, &GraphValidationError{Code: "NODE_NOT_FOUND", Message: "edge source does not exist: " + from}
		}
		dst, ok := nodes[to]
		if !ok {
			return nil, &GraphValidationError{Code: "NODE_NOT_FOUND", Message: "edge destination does not exist: " + to}
		}
		if from == b.terminal {
			return nil, &GraphValidationError{Code: "TERMINAL_EDGE", Message: "terminal node " + from + " cannot have outgoing edges"}
		}
		compatible := false
		for _, k := range src.produces {
			if dst.accepts[k] {
				compatible = true
				break
			}
		}
		if !compatible {
			return nil, &GraphValidationError{
				Code:    "EDGE_TYPE_MISMATCH",
				Message: "edge " + from + " -> " + to + ": destination accepts none of the source's output kinds",
			}
		}
		adj[from] = append(adj[from], to)
	}

	// Every node must be reachable from the entry node.
	reachable := reach(adj, b.entry)
	for name := range nodes {
		if !reachable[name] {
			return nil, &GraphValidationError{Code: "UNREACHABLE_NODE", Message: "node " + name + " is not reachable from entry node " + b.entry}
		}
	}

	// A run suspended at any port must be resumable to completion.
	for name, n := range nodes {
		if n.port == nil {
			continue
		}
		if !reach(adj, name)[b.terminal] {
			return nil, &GraphValidationError{Code: "PORT_DEAD_END", Message: "terminal node " + b.terminal + " is not reachable from port " + name}
		}
	}

	return &Workflow{
		name:     b.name,
		nodes:    nodes,
		adj:      adj,
		entry:    b.entry,
		terminal: b.terminal,
		kinds:    kinds,
	}, nil
}

// reach returns the set of nodes reachable from start, including start.
func reach(adj map[string][]string, start string) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}
