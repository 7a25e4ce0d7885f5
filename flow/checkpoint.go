package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// CheckpointInfo is an opaque, serializable snapshot of a run: everything
// needed to reconstruct its exact mailbox, keyed state, and suspension point
// after an arbitrary delay or a process restart.
//
// The checkpoint id is a content checksum of the snapshot, so capturing the
// same run state twice yields the same id, useful both as an integrity check
// on restore and to make duplicate captures observable.
type CheckpointInfo struct {
	// RunID identifies the checkpointed run.
	RunID string `json:"run_id"`

	// CheckpointID is "sha256:" plus the hex checksum of the snapshot.
	CheckpointID string `json:"checkpoint_id"`

	// Workflow is the name of the workflow the run belongs to. Restore
	// refuses a checkpoint captured from a different workflow.
	Workflow string `json:"workflow"`

	// CreatedAt records when the checkpoint was captured.
	CreatedAt time.Time `json:"created_at"`

	// Snapshot is the serialized run state. Opaque to callers.
	Snapshot json.RawMessage `json:"snapshot"`
}

// runSnapshot is the explicit serializable form of a run's internal state.
// It is the only thing checkpointed: executors hold no instance state, so
// mailbox + keyed state + pending request is the complete run.
type runSnapshot struct {
	Status  RunStatus                  `json:"status"`
	Seq     int                        `json:"seq"`
	Mailbox []snapshotMessage          `json:"mailbox"`
	State   map[string]json.RawMessage `json:"state"`
	Pending *ExternalRequest           `json:"pending,omitempty"`
}

type snapshotMessage struct {
	Target  string          `json:"target"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// CheckpointManager captures runs into CheckpointInfo values and
// reconstructs runs from them.
//
// Capture is atomic with respect to the run's own processing: the engine is
// strictly sequential, so a capture between two Next calls sees a mailbox
// with no message dropped or duplicated. Restore is pure: restoring the same
// checkpoint twice without intervening progress reconstructs identical state.
type CheckpointManager struct {
	now func() time.Time
}

// NewCheckpointManager creates a CheckpointManager.
func NewCheckpointManager() *CheckpointManager {
	return &CheckpointManager{now: time.Now}
}

// Capture serializes the run's complete internal state into a CheckpointInfo.
func (m *CheckpointManager) Capture(r *Run) (CheckpointInfo, error) {
	snap := runSnapshot{
		Status:  r.status,
		Seq:     r.seq,
		Mailbox: make([]snapshotMessage, 0, len(r.mailbox)),
		State:   r.state,
		Pending: r.pending,
	}
	for _, msg := range r.mailbox {
		raw, err := json.Marshal(msg.env.Payload)
		if err != nil {
			return CheckpointInfo{}, fmt.Errorf("checkpoint run %s: encode mailbox payload %s: %w", r.id, msg.env.Kind, err)
		}
		snap.Mailbox = append(snap.Mailbox, snapshotMessage{Target: msg.target, Kind: msg.env.Kind, Payload: raw})
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return CheckpointInfo{}, fmt.Errorf("checkpoint run %s: %w", r.id, err)
	}

	return CheckpointInfo{
		RunID:        r.id,
		CheckpointID: checksum(r.id, data),
		Workflow:     r.wf.name,
		CreatedAt:    m.now().UTC(),
		Snapshot:     data,
	}, nil
}

// Restore reconstructs a run in exactly the state it was captured in. The
// returned run's event stream is of the same type as a freshly started run's;
// callers cannot tell the difference.
func (m *CheckpointManager) Restore(wf *Workflow, info CheckpointInfo) (*Run, error) {
	if info.Workflow != wf.name {
		return nil, fmt.Errorf("restore run %s: checkpoint belongs to workflow %q, not %q", info.RunID, info.Workflow, wf.name)
	}
	var snap runSnapshot
	if err := json.Unmarshal(info.Snapshot, &snap); err != nil {
		return nil, fmt.Errorf("restore run %s: %w", info.RunID, err)
	}

	r := wf.NewRun(info.RunID)
	r.status = snap.Status
	r.seq = snap.Seq
	r.pending = snap.Pending
	if snap.State != nil {
		r.state = snap.State
	}
	for _, msg := range snap.Mailbox {
		if _, ok := wf.nodes[msg.Target]; !ok {
			return nil, fmt.Errorf("restore run %s: checkpoint addresses unknown node %s", info.RunID, msg.Target)
		}
		payload, err := wf.kinds.decode(msg.Kind, msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("restore run %s: %w", info.RunID, err)
		}
		r.mailbox = append(r.mailbox, message{target: msg.Target, env: Envelope{Kind: msg.Kind, Payload: payload}})
	}
	return r, nil
}

// checksum computes the checkpoint id for a snapshot.
func checksum(runID string, snapshot []byte) string {
	h := sha256.New()
	h.Write([]byte(runID))
	h.Write(snapshot)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
