package ui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"planview/pkg/model"
	"planview/pkg/progress"
)

func sampleStages() []*model.Node {
	return []*model.Node{
		{
			ID: "s1", Kind: model.KindStage, Name: "Foundations", Expanded: true,
			Children: []*model.Node{
				{
					ID: "m1", Kind: model.KindModule, Name: "Basics", Expanded: false,
					Children: []*model.Node{
						{ID: "c1", Kind: model.KindConcept, Name: "Variables"},
						{ID: "c2", Kind: model.KindConcept, Name: "Functions"},
					},
				},
			},
		},
		{ID: "s2", Kind: model.KindStage, Name: "Advanced"},
	}
}

func press(m Model, key string) Model {
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	return updated.(Model)
}

func TestFlattenRespectsExpansion(t *testing.T) {
	m := NewModel(sampleStages(), nil, nil, false)

	// Collapsed module: s1, m1, s2 visible but not the concepts.
	if got := len(m.visible); got != 3 {
		t.Fatalf("visible rows = %d, want 3", got)
	}

	// Expand m1: cursor down to it, toggle.
	m = press(m, "j")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(" ")})
	m = updated.(Model)
	if got := len(m.visible); got != 5 {
		t.Fatalf("visible rows after expand = %d, want 5", got)
	}
	if m.flat[m.visible[2]].Node.ID != "c1" {
		t.Errorf("row 2 = %s, want c1", m.flat[m.visible[2]].Node.ID)
	}
}

func TestToggleOnLeafIsNoop(t *testing.T) {
	stages := sampleStages()
	stages[0].Children[0].Expanded = true
	m := NewModel(stages, nil, nil, false)

	// Move to concept c1 and try to toggle it.
	m = press(m, "j")
	m = press(m, "j")
	if m.selected().ID != "c1" {
		t.Fatalf("selected = %s, want c1", m.selected().ID)
	}
	before := len(m.visible)
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(" ")})
	m = updated.(Model)
	if got := len(m.visible); got != before {
		t.Errorf("visible rows changed on leaf toggle: %d -> %d", before, got)
	}
}

func TestCursorClamping(t *testing.T) {
	m := NewModel(sampleStages(), nil, nil, false)
	for i := 0; i < 10; i++ {
		m = press(m, "j")
	}
	if m.cursor != len(m.visible)-1 {
		t.Errorf("cursor = %d, want %d", m.cursor, len(m.visible)-1)
	}
	for i := 0; i < 10; i++ {
		m = press(m, "k")
	}
	if m.cursor != 0 {
		t.Errorf("cursor = %d, want 0", m.cursor)
	}
}

func TestFuzzyFilter(t *testing.T) {
	m := NewModel(sampleStages(), nil, nil, false)
	m = press(m, "/")
	if !m.filtering {
		t.Fatal("expected filter mode after /")
	}
	for _, r := range "adv" {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = updated.(Model)
	}
	if got := len(m.visible); got != 1 {
		t.Fatalf("filtered rows = %d, want 1", got)
	}
	if m.flat[m.visible[0]].Node.ID != "s2" {
		t.Errorf("filtered row = %s, want s2", m.flat[m.visible[0]].Node.ID)
	}

	// Esc clears the filter.
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)
	if got := len(m.visible); got != 3 {
		t.Errorf("rows after clearing filter = %d, want 3", got)
	}
}

func TestRefreshReprojectsTracker(t *testing.T) {
	stages := sampleStages()
	stages[0].Children[0].Expanded = true
	tr := progress.NewTracker(nil)
	defer tr.Close()
	m := NewModel(stages, tr, nil, false)

	tr.ApplyItem("c1", model.StatusCompleted)
	tr.ApplyItem("c2", model.StatusCompleted)
	updated, _ := m.Update(RefreshMsg{})
	m = updated.(Model)

	if got := stages[0].Children[0].Status; got != model.StatusCompleted {
		t.Errorf("module status = %s, want completed", got)
	}
	counts := m.counts()
	if counts[model.StatusCompleted] != 2 {
		t.Errorf("completed count = %d, want 2", counts[model.StatusCompleted])
	}
}
