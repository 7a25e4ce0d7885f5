package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// NotificationKind discriminates outward notifications.
type NotificationKind string

const (
	// NotificationRunStarted acknowledges that a fresh run was accepted.
	NotificationRunStarted NotificationKind = "run_started"

	// NotificationRequest asks an external actor to answer a suspended port.
	// Payload carries whatever the port's request type holds, e.g. a list of
	// options or a pending-approval descriptor.
	NotificationRequest NotificationKind = "request"

	// NotificationCompleted carries the run's final typed output.
	NotificationCompleted NotificationKind = "completed"

	// NotificationFailed carries a plain-language failure message.
	NotificationFailed NotificationKind = "failed"
)

// Notification is one outward message from the Orchestrator: run-start ack,
// a port suspension, a completion, or a failure.
type Notification struct {
	// Kind discriminates the notification.
	Kind NotificationKind `json:"kind"`

	// RunID identifies the run.
	RunID string `json:"run_id"`

	// PortID names the suspended port. Set only for NotificationRequest.
	PortID string `json:"port_id,omitempty"`

	// Payload carries the request payload or the final output.
	Payload any `json:"payload,omitempty"`

	// Message is the plain-language text for failures and acks.
	Message string `json:"message,omitempty"`
}

// Notifier is the append-only sink the Orchestrator publishes notifications
// to, typically a chat transcript or a push channel. It has no feedback into
// the engine: a failing notifier never fails a run, the error is only
// surfaced through the observability emitter.
type Notifier interface {
	// Notify delivers one notification. Implementations should be fast or
	// hand off asynchronously; the run loop calls this inline.
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a writer, one JSON object per line.
// Useful for development and as a transcript stand-in.
type LogNotifier struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogNotifier creates a LogNotifier writing to w.
func NewLogNotifier(w io.Writer) *LogNotifier {
	return &LogNotifier{writer: w}
}

// Notify implements the Notifier interface.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = fmt.Fprintln(l.writer, string(data))
	return err
}

// BufferNotifier records notifications in memory for inspection. Intended
// for tests and small dashboards.
type BufferNotifier struct {
	mu            sync.RWMutex
	notifications []Notification
}

// NewBufferNotifier creates an empty BufferNotifier.
func NewBufferNotifier() *BufferNotifier {
	return &BufferNotifier{}
}

// Notify implements the Notifier interface.
func (b *BufferNotifier) Notify(_ context.Context, n Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, n)
	return nil
}

// All returns a copy of every recorded notification in delivery order.
func (b *BufferNotifier) All() []Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Notification, len(b.notifications))
	copy(out, b.notifications)
	return out
}

// ForRun returns the recorded notifications for one run id, in order.
func (b *BufferNotifier) ForRun(runID string) []Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Notification
	for _, n := range b.notifications {
		if n.RunID == runID {
			out = append(out, n)
		}
	}
	return out
}

// NullNotifier discards all notifications.
type NullNotifier struct{}

// Notify implements the Notifier interface.
func (NullNotifier) Notify(context.Context, Notification) error {
	return nil
}
