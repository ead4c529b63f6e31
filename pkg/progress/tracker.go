// Package progress is the mutable projection the event channel writes into
// and the aggregation and layout passes read from. One tracker serves one
// task id; multiple simultaneous observers of the same task must multiplex
// above this package.
package progress

import (
	"sync"
	"time"

	"planview/pkg/model"
	"planview/pkg/stream"
	"planview/pkg/watcher"
)

// Entry is one received event as remembered by the tracker. The phase
// machine's branch memory and the history store are both fed from this log.
type Entry struct {
	Type       stream.EventType
	ItemID     string
	Step       string
	EditSource string
	At         time.Time
}

// Tracker accumulates per-item statuses (last-write-wins by item id), the
// coarse pipeline position, and the overall task status. Writes come from
// exactly one dispatcher; reads happen between writes, so a single mutex is
// all the coordination needed.
type Tracker struct {
	mu         sync.Mutex
	items      map[string]model.Status
	task       model.TaskStatus
	step       string
	editSource string
	log        []Entry

	debounce *watcher.Debouncer
	onChange func()
}

// NewTracker creates an empty tracker. onChange, if non-nil, runs debounced
// after state changes so a burst of events costs one recompute.
func NewTracker(onChange func()) *Tracker {
	return &Tracker{
		items:    make(map[string]model.Status),
		task:     model.TaskPending,
		debounce: watcher.NewDebouncer(0),
		onChange: onChange,
	}
}

// Callbacks wires the tracker into a stream channel. Each callback updates
// one slice of tracker state.
func (t *Tracker) Callbacks() stream.Callbacks {
	return stream.Callbacks{
		OnSnapshot: t.ApplySnapshot,
		OnPhase:    t.ApplyPhase,
		OnItem: func(id string, status model.Status, _ string) {
			t.ApplyItem(id, status)
		},
		OnTask: t.ApplyTask,
	}
}

// ApplyItem records an item status. Application is idempotent and
// last-write-wins: re-delivering a terminal status for an item already in
// that state is a no-op, and a later terminal event always replaces an
// earlier one. An item completing without a prior item-start is recorded
// normally; forward application does not require the start to have been seen.
func (t *Tracker) ApplyItem(id string, status model.Status) {
	if id == "" {
		return
	}
	t.mu.Lock()
	status = status.Normalize()
	changed := t.items[id] != status
	t.items[id] = status
	t.log = append(t.log, Entry{Type: itemEventType(status), ItemID: id, At: time.Now()})
	if t.task == model.TaskPending {
		t.task = model.TaskRunning
	}
	t.mu.Unlock()
	if changed {
		t.notify()
	}
}

// ApplySnapshot replaces item state with a full current-status snapshot.
// Used on (re)connect with backlog replay to resynchronize without racing
// in-flight events.
func (t *Tracker) ApplySnapshot(snap stream.Snapshot) {
	t.mu.Lock()
	t.items = make(map[string]model.Status, len(snap.Items))
	for id, s := range snap.Items {
		t.items[id] = s.Normalize()
	}
	if snap.TaskStatus != "" {
		t.task = snap.TaskStatus
	}
	if snap.Step != "" {
		t.step = snap.Step
		t.editSource = snap.EditSource
	}
	t.mu.Unlock()
	t.notify()
}

// ApplyPhase records the coarse pipeline position.
func (t *Tracker) ApplyPhase(step, editSource, _ string) {
	t.mu.Lock()
	t.step = step
	t.editSource = editSource
	t.log = append(t.log, Entry{Type: stream.EventProgress, Step: step, EditSource: editSource, At: time.Now()})
	if t.task == model.TaskPending {
		t.task = model.TaskRunning
	}
	t.mu.Unlock()
	t.notify()
}

// ApplyTask records the overall task status.
func (t *Tracker) ApplyTask(status model.TaskStatus) {
	t.mu.Lock()
	t.task = status
	t.mu.Unlock()
	t.notify()
}

// ItemStatus returns the recorded status for an item, pending if unseen.
func (t *Tracker) ItemStatus(id string) model.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.items[id]; ok {
		return s
	}
	return model.StatusPending
}

// Items returns a copy of the item status map.
func (t *Tracker) Items() map[string]model.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]model.Status, len(t.items))
	for k, v := range t.items {
		out[k] = v
	}
	return out
}

// Task returns the overall task status.
func (t *Tracker) Task() model.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.task
}

// Position returns the current step and edit source.
func (t *Tracker) Position() (step, editSource string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.step, t.editSource
}

// Log returns a copy of the event log in receipt order.
func (t *Tracker) Log() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.log))
	copy(out, t.log)
	return out
}

// BranchSeen reports whether any logged event carried the given edit source.
// This is the remembered-branch-completion input to the phase machine: once a
// branch has been entered its steps stay completed, regardless of where the
// pipeline is now.
func (t *Tracker) BranchSeen(editSource string) bool {
	if editSource == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.log {
		if e.EditSource == editSource {
			return true
		}
	}
	return false
}

// ApplyToTree copies recorded item statuses onto matching concept leaves and
// re-aggregates composite statuses bottom-up. Leaves without a recorded
// status are left untouched.
func (t *Tracker) ApplyToTree(stages []*model.Node) {
	items := t.Items()
	for _, s := range stages {
		s.Walk(func(n *model.Node) bool {
			if n.Kind == model.KindConcept {
				if st, ok := items[n.ID]; ok {
					n.Status = st
				}
			}
			return true
		})
	}
	model.AggregateForest(stages)
}

// Close cancels any pending change notification.
func (t *Tracker) Close() {
	t.debounce.Cancel()
}

func (t *Tracker) notify() {
	if t.onChange == nil {
		return
	}
	t.debounce.Trigger(t.onChange)
}

func itemEventType(s model.Status) stream.EventType {
	switch s {
	case model.StatusCompleted:
		return stream.EventItemComplete
	case model.StatusFailed:
		return stream.EventItemFailed
	}
	return stream.EventItemStart
}
