package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// LogEmitter implements Emitter by writing structured output to a writer.
//
// Two output modes:
//   - Text (default): human-readable, one "[msg] key=value ..." line per event
//   - JSON: machine-readable, one JSON object per line
//
// Example text output:
//
//	[request_info] run=T1 seq=4 node=UserSelection payload_kind=trip.TripOptions
//
// Example:
//
//	emitter := emit.NewLogEmitter(os.Stderr, false)
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to w. A nil writer defaults to
// os.Stdout. Set jsonMode for one-JSON-object-per-line output.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{writer: w, jsonMode: jsonMode}
}

// Emit implements the Emitter interface. Write failures are swallowed; a
// broken log destination must not fail the run.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		data, err := json.Marshal(struct {
			RunID string         `json:"run_id"`
			Seq   int            `json:"seq"`
			Node  string         `json:"node,omitempty"`
			Msg   string         `json:"msg"`
			Meta  map[string]any `json:"meta,omitempty"`
		}{event.RunID, event.Seq, event.Node, event.Msg, event.Meta})
		if err != nil {
			return
		}
		fmt.Fprintln(l.writer, string(data))
		return
	}

	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(event.Msg)
	sb.WriteString("] run=")
	sb.WriteString(event.RunID)
	fmt.Fprintf(&sb, " seq=%d", event.Seq)
	if event.Node != "" {
		sb.WriteString(" node=")
		sb.WriteString(event.Node)
	}
	// Deterministic meta ordering keeps the output diffable.
	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, event.Meta[k])
	}
	fmt.Fprintln(l.writer, sb.String())
}
