package history

import (
	"path/filepath"
	"testing"
	"time"

	"planview/pkg/stream"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndEvents(t *testing.T) {
	s := openTestStore(t)

	evs := []stream.Event{
		{Type: stream.EventProgress, Step: "module_build"},
		{Type: stream.EventItemStart, ItemID: "c1"},
		{Type: stream.EventItemComplete, ItemID: "c1"},
	}
	for _, ev := range evs {
		if err := s.Append("t1", ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Append("other", stream.Event{Type: stream.EventTaskFailed}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Events("t1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("event count = %d, want 3", len(got))
	}
	// Receipt order preserved.
	if got[0].Type != stream.EventProgress || got[2].Type != stream.EventItemComplete {
		t.Errorf("order wrong: %v, %v", got[0].Type, got[2].Type)
	}
	if got[1].ItemID != "c1" {
		t.Errorf("item id = %q", got[1].ItemID)
	}
}

func TestBranchSeen(t *testing.T) {
	s := openTestStore(t)

	if err := s.Append("t1", stream.Event{Type: stream.EventProgress, Step: "regenerate", EditSource: "module-edit"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	seen, err := s.BranchSeen("t1", "module-edit")
	if err != nil {
		t.Fatalf("BranchSeen: %v", err)
	}
	if !seen {
		t.Error("branch not found after append")
	}

	seen, err = s.BranchSeen("t1", "concept-edit")
	if err != nil {
		t.Fatalf("BranchSeen: %v", err)
	}
	if seen {
		t.Error("unrelated edit source reported seen")
	}

	// Edit sources are scoped per task.
	seen, err = s.BranchSeen("t2", "module-edit")
	if err != nil {
		t.Fatalf("BranchSeen: %v", err)
	}
	if seen {
		t.Error("edit source leaked across tasks")
	}

	seen, err = s.BranchSeen("t1", "")
	if err != nil || seen {
		t.Errorf("empty edit source: seen=%v err=%v", seen, err)
	}
}

func TestTasks(t *testing.T) {
	s := openTestStore(t)

	s.Append("t1", stream.Event{Type: stream.EventProgress})
	s.Append("t1", stream.Event{Type: stream.EventTaskCompleted})
	s.Append("t2", stream.Event{Type: stream.EventProgress})

	runs, err := s.Tasks()
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("run count = %d, want 2", len(runs))
	}
	for _, run := range runs {
		switch run.TaskID {
		case "t1":
			if run.EventCount != 2 {
				t.Errorf("t1 events = %d", run.EventCount)
			}
		case "t2":
			if run.EventCount != 1 {
				t.Errorf("t2 events = %d", run.EventCount)
			}
		default:
			t.Errorf("unexpected task %q", run.TaskID)
		}
		if run.LastEvent.IsZero() {
			t.Errorf("%s has zero LastEvent", run.TaskID)
		}
	}
}

func TestTasksOrderWithinOneSecond(t *testing.T) {
	s := openTestStore(t)

	// Fractional seconds chosen so a trailing-zero-trimming encoding
	// (RFC3339Nano) would invert the text ordering: ".5Z" sorts after ".51Z".
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	earlier := base.Add(500 * time.Millisecond)
	later := base.Add(510 * time.Millisecond)

	if err := s.appendAt("first", stream.Event{Type: stream.EventProgress}, earlier); err != nil {
		t.Fatalf("appendAt: %v", err)
	}
	if err := s.appendAt("second", stream.Event{Type: stream.EventProgress}, later); err != nil {
		t.Fatalf("appendAt: %v", err)
	}

	runs, err := s.Tasks()
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("run count = %d, want 2", len(runs))
	}
	if runs[0].TaskID != "second" || runs[1].TaskID != "first" {
		t.Errorf("recency order = %s, %s; want second, first", runs[0].TaskID, runs[1].TaskID)
	}
	if !runs[0].LastEvent.Equal(later) {
		t.Errorf("LastEvent = %v, want %v", runs[0].LastEvent, later)
	}
}

func TestTimestampEncodingFixedWidth(t *testing.T) {
	a := time.Date(2026, 8, 25, 10, 0, 0, 500_000_000, time.UTC).Format(timeLayout)
	b := time.Date(2026, 8, 25, 10, 0, 0, 510_000_000, time.UTC).Format(timeLayout)
	if len(a) != len(b) {
		t.Fatalf("encoded widths differ: %q vs %q", a, b)
	}
	if a >= b {
		t.Errorf("text order inverted: %q >= %q", a, b)
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)

	s.Append("old", stream.Event{Type: stream.EventTaskCompleted})
	time.Sleep(10 * time.Millisecond)

	if err := s.Prune(time.Millisecond); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	runs, err := s.Tasks()
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("runs after prune = %d, want 0", len(runs))
	}
}
