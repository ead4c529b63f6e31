// Package ui renders the live plan view: the tree with aggregated statuses,
// the pipeline step bar, and the connection state, updating as events arrive.
package ui

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"planview/pkg/model"
	"planview/pkg/phase"
	"planview/pkg/progress"
	"planview/pkg/stream"
)

// FlatNode is a single visible row in the flattened tree.
type FlatNode struct {
	Node       *model.Node
	TreePrefix string // Visual tree prefix (├─, └─, │ )
	Depth      int
}

// Messages pushed into the program by the stream wiring.
type (
	// RefreshMsg signals that tracker state changed and the tree should be
	// re-projected.
	RefreshMsg struct{}
	// TreeMsg replaces the whole forest, used when the snapshot is reloaded
	// from disk.
	TreeMsg struct{ Stages []*model.Node }
	// ConnStateMsg carries a channel state transition.
	ConnStateMsg stream.State
	// NoticeMsg carries a transient status-line message.
	NoticeMsg string
	// ReviewMsg carries a pending human-review request, nil to clear.
	ReviewMsg *stream.ReviewRequest
)

// Model is the main plan-view model.
type Model struct {
	stages  []*model.Node
	tracker *progress.Tracker
	machine *phase.Machine

	flat    []FlatNode
	visible []int // indexes into flat, narrowed by the filter

	cursor int
	scroll int
	width  int
	height int

	spin      spinner.Model
	connState stream.State
	live      bool

	filtering   bool
	filterQuery string

	notice   string
	review   *stream.ReviewRequest
	quitting bool
}

// NewModel creates the plan view. tracker and machine may be nil for a static
// (snapshot-only) view; live controls whether connection state is shown.
func NewModel(stages []*model.Node, tracker *progress.Tracker, machine *phase.Machine, live bool) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = s.Style.Foreground(ColorInfo)

	m := Model{
		stages:    stages,
		tracker:   tracker,
		machine:   machine,
		spin:      s,
		live:      live,
		connState: stream.StateClosed,
		width:     80,
		height:    24,
	}
	m.rebuildFlat()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	if m.live {
		return m.spin.Tick
	}
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.clampScroll()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case RefreshMsg:
		if m.tracker != nil {
			m.tracker.ApplyToTree(m.stages)
		}
		m.rebuildFlat()
		return m, nil

	case TreeMsg:
		m.stages = msg.Stages
		if m.tracker != nil {
			m.tracker.ApplyToTree(m.stages)
		}
		m.rebuildFlat()
		return m, nil

	case ConnStateMsg:
		m.connState = stream.State(msg)
		return m, nil

	case NoticeMsg:
		m.notice = string(msg)
		return m, nil

	case ReviewMsg:
		m.review = msg
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering {
		switch msg.Type {
		case tea.KeyEsc:
			m.filtering = false
			m.filterQuery = ""
			m.applyFilter()
		case tea.KeyEnter:
			m.filtering = false
		case tea.KeyBackspace:
			if len(m.filterQuery) > 0 {
				runes := []rune(m.filterQuery)
				m.filterQuery = string(runes[:len(runes)-1])
			}
			m.applyFilter()
		case tea.KeyRunes:
			m.filterQuery += string(msg.Runes)
			m.applyFilter()
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		m.clampScroll()

	case "down", "j":
		if m.cursor < len(m.visible)-1 {
			m.cursor++
		}
		m.clampScroll()

	case " ", "enter":
		if n := m.selected(); n != nil && n.Kind.IsComposite() {
			n.Expanded = !n.Expanded
			m.rebuildFlat()
		}

	case "e":
		m.setExpandedAll(true)
		m.rebuildFlat()

	case "E":
		m.setExpandedAll(false)
		m.rebuildFlat()

	case "c":
		if n := m.selected(); n != nil {
			if err := clipboard.WriteAll(n.ID); err != nil {
				m.notice = "copy failed: " + err.Error()
			} else {
				m.notice = "copied " + n.ID
			}
		}

	case "/":
		m.filtering = true
		m.filterQuery = ""
		m.applyFilter()

	case "esc":
		m.filterQuery = ""
		m.notice = ""
		m.applyFilter()
	}
	return m, nil
}

// Selected returns the node under the cursor, nil when the view is empty.
func (m Model) selected() *model.Node {
	if m.cursor < 0 || m.cursor >= len(m.visible) {
		return nil
	}
	return m.flat[m.visible[m.cursor]].Node
}

func (m *Model) setExpandedAll(expanded bool) {
	for _, s := range m.stages {
		s.Walk(func(n *model.Node) bool {
			if n.Kind.IsComposite() {
				n.Expanded = expanded
			}
			return true
		})
	}
}

// rebuildFlat flattens the expanded tree into display rows.
func (m *Model) rebuildFlat() {
	m.flat = m.flat[:0]

	var flatten func(n *model.Node, prefix string, depth int, isLast bool)
	flatten = func(n *model.Node, prefix string, depth int, isLast bool) {
		rowPrefix := prefix
		if depth > 0 {
			if isLast {
				rowPrefix += "└─ "
			} else {
				rowPrefix += "├─ "
			}
		}
		m.flat = append(m.flat, FlatNode{Node: n, TreePrefix: rowPrefix, Depth: depth})

		if !n.Expanded {
			return
		}
		childPrefix := prefix
		if depth > 0 {
			if isLast {
				childPrefix += "   "
			} else {
				childPrefix += "│  "
			}
		}
		for i, c := range n.Children {
			flatten(c, childPrefix, depth+1, i == len(n.Children)-1)
		}
	}
	for i, s := range m.stages {
		flatten(s, "", 0, i == len(m.stages)-1)
	}

	m.applyFilter()
}

// applyFilter narrows visible rows to fuzzy matches on node names. An empty
// query shows everything.
func (m *Model) applyFilter() {
	m.visible = m.visible[:0]
	if m.filterQuery == "" {
		for i := range m.flat {
			m.visible = append(m.visible, i)
		}
	} else {
		names := make([]string, len(m.flat))
		for i, fn := range m.flat {
			names[i] = fn.Node.Name
		}
		for _, match := range fuzzy.Find(m.filterQuery, names) {
			m.visible = append(m.visible, match.Index)
		}
	}

	if m.cursor >= len(m.visible) {
		m.cursor = len(m.visible) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	m.clampScroll()
}

func (m *Model) clampScroll() {
	rows := m.listHeight()
	if rows < 1 {
		rows = 1
	}
	if m.cursor < m.scroll {
		m.scroll = m.cursor
	}
	if m.cursor >= m.scroll+rows {
		m.scroll = m.cursor - rows + 1
	}
	if m.scroll < 0 {
		m.scroll = 0
	}
}

// listHeight is the number of rows available for the tree after the chrome
// (title, pipeline bar, divider, status line, optional review banner).
func (m Model) listHeight() int {
	chrome := 4
	if m.machine != nil {
		chrome++
	}
	if m.review != nil {
		chrome++
	}
	return m.height - chrome
}

// Counts sums leaf statuses across the whole forest for the status line.
func (m Model) counts() map[model.Status]int {
	total := make(map[model.Status]int)
	for _, s := range m.stages {
		for k, v := range s.CountByStatus() {
			total[k] += v
		}
	}
	return total
}

func (m Model) connLabel() string {
	switch m.connState {
	case stream.StateOpen:
		return "live"
	case stream.StateConnecting:
		return fmt.Sprintf("%s connecting", m.spin.View())
	case stream.StateClosing:
		return "closing"
	default:
		return "offline"
	}
}
