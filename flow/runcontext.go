package flow

import (
	"encoding/json"
	"fmt"
)

// StateScope selects the visibility of a run-scoped state entry.
type StateScope string

const (
	// ScopeWorkflow state is shared by every node in the run. Use it for data
	// that must cross a checkpoint boundary between stages, e.g. generated
	// options that a later stage resolves a selection against.
	ScopeWorkflow StateScope = "workflow"

	// ScopeExecutor state is private to the node that wrote it.
	ScopeExecutor StateScope = "executor"
)

// RunContext is the handle an executor receives for everything beyond its
// input payload: the run's identity and the keyed state that survives
// checkpoints.
//
// Executors must not hold mutable state in instance fields: instances are
// shared across concurrent runs, and anything outside the RunContext escapes
// the checkpoint and is lost on resume. Values stored here are serialized at
// Set time, which both enforces serializability up front and makes the
// checkpoint a plain snapshot of already-encoded bytes.
type RunContext struct {
	run  *Run
	node string
}

// RunID returns the id of the run this message belongs to.
func (rc *RunContext) RunID() string {
	return rc.run.id
}

// Set stores a value under the given scope and key. The value must be
// JSON-serializable; a value that cannot be encoded is rejected here rather
// than at checkpoint time.
func (rc *RunContext) Set(scope StateScope, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state %s/%s: %w", scope, key, err)
	}
	rc.run.state[rc.stateKey(scope, key)] = raw
	return nil
}

// Get loads the value stored under the given scope and key into out, which
// must be a pointer. It reports whether the key was present.
func (rc *RunContext) Get(scope StateScope, key string, out any) (bool, error) {
	raw, ok := rc.run.state[rc.stateKey(scope, key)]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state %s/%s: %w", scope, key, err)
	}
	return true, nil
}

// Delete removes the value stored under the given scope and key.
func (rc *RunContext) Delete(scope StateScope, key string) {
	delete(rc.run.state, rc.stateKey(scope, key))
}

func (rc *RunContext) stateKey(scope StateScope, key string) string {
	if scope == ScopeExecutor {
		return string(scope) + "/" + rc.node + "/" + key
	}
	return string(scope) + "/" + key
}
