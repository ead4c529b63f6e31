// Package stream maintains one duplex event channel per backend task and
// delivers a fixed taxonomy of server events to registered callbacks.
//
// The channel owns its transport lifecycle: heartbeat while open, exponential
// backoff reconnection after abnormal closes, and deterministic teardown on
// Disconnect. It never performs aggregation or layout itself; each event maps
// to exactly one callback so caller-side reducers stay simple.
package stream

import "planview/pkg/model"

// EventType discriminates server-to-client messages.
type EventType string

const (
	EventConnectionAck   EventType = "connection-ack"
	EventStatusSnapshot  EventType = "current-status-snapshot"
	EventProgress        EventType = "progress"
	EventHumanReview     EventType = "human-review-required"
	EventItemStart       EventType = "item-start"
	EventItemComplete    EventType = "item-complete"
	EventItemFailed      EventType = "item-failed"
	EventBatchStart      EventType = "batch-start"
	EventBatchComplete   EventType = "batch-complete"
	EventTaskCompleted   EventType = "task-completed"
	EventTaskFailed      EventType = "task-failed"
	EventClosingNotice   EventType = "closing-notice"
	EventError           EventType = "error"
	EventHeartbeatAck    EventType = "heartbeat-ack"
)

// Client-to-server control message types.
const (
	ControlHeartbeatPing        = "heartbeat-ping"
	ControlRequestCurrentStatus = "request-current-status"
)

// Event is the wire envelope. Fields are populated per type; consumers must
// ignore fields that do not apply.
type Event struct {
	Type       EventType `json:"type"`
	TaskID     string    `json:"task_id,omitempty"`
	Step       string    `json:"step,omitempty"`
	EditSource string    `json:"edit_source,omitempty"`
	Message    string    `json:"message,omitempty"`
	ItemID     string    `json:"item_id,omitempty"`
	BatchID    string    `json:"batch_id,omitempty"`
	Error      string    `json:"error,omitempty"`

	// Snapshot payload for current-status-snapshot.
	Items      map[string]string `json:"items,omitempty"`
	TaskStatus string            `json:"task_status,omitempty"`

	// Review payload for human-review-required.
	Review *ReviewRequest `json:"review,omitempty"`

	// Seq is a server-side sequence number when present. The channel does not
	// reorder on it; it exists for logging and the history store.
	Seq int64 `json:"seq,omitempty"`
}

// ReviewRequest carries what the caller needs to render a review prompt.
type ReviewRequest struct {
	ItemID  string `json:"item_id"`
	Prompt  string `json:"prompt"`
	Choices []string `json:"choices,omitempty"`
}

// Snapshot is the decoded current-status-snapshot payload: one status per
// item plus the overall task status at the time the server emitted it.
type Snapshot struct {
	Items      map[string]model.Status
	TaskStatus model.TaskStatus
	Step       string
	EditSource string
}

// ItemStatus maps an item event type to the status it implies.
func (e Event) ItemStatus() model.Status {
	switch e.Type {
	case EventItemStart:
		return model.StatusLoading
	case EventItemComplete:
		return model.StatusCompleted
	case EventItemFailed:
		return model.StatusFailed
	}
	return model.StatusPending
}

// Callbacks receive dispatched events. Each wire event invokes at most one of
// them; nil callbacks are skipped. All callbacks run on the channel's reader
// goroutine, in wire-receipt order.
type Callbacks struct {
	// OnOpen fires after connection-ack.
	OnOpen func()
	// OnSnapshot fires for current-status-snapshot, typically first after a
	// replaying (re)connect.
	OnSnapshot func(Snapshot)
	// OnPhase fires for progress events: the coarse pipeline position moved.
	OnPhase func(step, editSource, message string)
	// OnItem fires for item-start/item-complete/item-failed.
	OnItem func(itemID string, status model.Status, errMsg string)
	// OnBatch fires for batch-start/batch-complete.
	OnBatch func(batchID string, done bool)
	// OnTask fires for task-completed/task-failed: the overall terminal state.
	OnTask func(status model.TaskStatus)
	// OnReview fires for human-review-required.
	OnReview func(ReviewRequest)
	// OnClosing fires for a server closing-notice.
	OnClosing func(message string)
	// OnError receives transport failures and the terminal
	// ErrReconnectExhausted. Per-message protocol errors are logged and
	// dropped without reaching here.
	OnError func(error)
	// OnEvent, when set, observes every decoded event after its specific
	// callback ran. The history store hangs off this.
	OnEvent func(Event)
}
