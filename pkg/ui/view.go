package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"planview/pkg/model"
	"planview/pkg/phase"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderTitle())
	b.WriteString("\n")
	if m.machine != nil {
		b.WriteString(m.renderPipeline())
		b.WriteString("\n")
	}
	b.WriteString(RenderDivider(m.width))
	b.WriteString("\n")

	if m.review != nil {
		b.WriteString(m.renderReviewBanner())
		b.WriteString("\n")
	}

	b.WriteString(m.renderRows())
	b.WriteString(m.renderStatusLine())

	return b.String()
}

func (m Model) renderTitle() string {
	title := TitleStyle.Render("Plan")
	right := StatusLineStyle.Render(m.connLabel())
	if m.tracker != nil {
		right = StatusLineStyle.Render(fmt.Sprintf("task %s · %s", m.tracker.Task(), m.connLabel()))
	}
	gap := m.width - lipgloss.Width(title) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + right
}

// renderPipeline draws the main path, and the active or remembered branch
// beneath it when one applies.
func (m Model) renderPipeline() string {
	step, editSource := "", ""
	task := model.TaskPending
	if m.tracker != nil {
		step, editSource = m.tracker.Position()
		task = m.tracker.Task()
	}
	pos := m.machine.Resolve(step, editSource)
	statuses := m.machine.MainStatuses(pos, task)

	parts := make([]string, len(statuses))
	for i, p := range m.machine.Main() {
		parts[i] = renderStep(p.Name, statuses[i])
	}
	line := strings.Join(parts, StepPendingStyle.Render(" → "))

	if pos.OnBranch {
		b := m.machine.Branches()[pos.BranchIdx]
		entered := m.tracker != nil && m.tracker.BranchSeen(b.EditSource)
		bs := m.machine.BranchStatuses(pos.BranchIdx, pos, task, entered)
		bparts := make([]string, len(bs))
		for i, s := range b.Steps {
			bparts[i] = renderStep(s, bs[i])
		}
		line += "\n" + StepPendingStyle.Render("  ↳ "+b.Name+": ") +
			strings.Join(bparts, StepPendingStyle.Render(" → "))
	}
	return line
}

func renderStep(name string, s phase.StepStatus) string {
	switch s {
	case phase.StepCompleted:
		return StepDoneStyle.Render(name)
	case phase.StepCurrent:
		return StepCurrentStyle.Render(name)
	case phase.StepFailed:
		return StepFailedStyle.Render(name)
	default:
		return StepPendingStyle.Render(name)
	}
}

func (m Model) renderReviewBanner() string {
	msg := m.review.Prompt
	if msg == "" {
		msg = "human review required"
	}
	if m.review.ItemID != "" {
		msg = m.review.ItemID + ": " + msg
	}
	return lipgloss.NewStyle().
		Foreground(ColorWarning).
		Bold(true).
		Render("⚠ " + msg)
}

func (m Model) renderRows() string {
	rows := m.listHeight()
	if rows < 1 {
		rows = 1
	}

	var b strings.Builder
	end := m.scroll + rows
	if end > len(m.visible) {
		end = len(m.visible)
	}
	for vi := m.scroll; vi < end; vi++ {
		fn := m.flat[m.visible[vi]]
		b.WriteString(m.renderRow(fn, vi == m.cursor))
		b.WriteString("\n")
	}
	// Pad so the status line stays pinned to the bottom.
	for i := end - m.scroll; i < rows; i++ {
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderRow(fn FlatNode, selected bool) string {
	marker := "  "
	if fn.Node.Kind.IsComposite() {
		if fn.Node.Expanded {
			marker = "▾ "
		} else {
			marker = "▸ "
		}
	}

	name := fn.Node.Name
	if fn.Node.Kind.IsComposite() && !fn.Node.Expanded && fn.Node.HasChildren() {
		name = fmt.Sprintf("%s (%d)", name, len(fn.Node.Children))
	}

	row := fmt.Sprintf("%s%s%s %s", fn.TreePrefix, marker, RenderStatusBadge(fn.Node.Status), name)
	if selected {
		return CursorStyle.Render(row)
	}
	return lipgloss.NewStyle().
		Foreground(StatusColor(fn.Node.Status)).
		Render(fn.TreePrefix+marker) +
		RenderStatusBadge(fn.Node.Status) + " " +
		lipgloss.NewStyle().Foreground(ColorText).Render(name)
}

func (m Model) renderStatusLine() string {
	if m.filtering {
		return FilterStyle.Render("/" + m.filterQuery + "▌")
	}

	counts := m.counts()
	left := fmt.Sprintf("✓%d ●%d ✗%d ◌%d",
		counts[model.StatusCompleted],
		counts[model.StatusLoading],
		counts[model.StatusFailed]+counts[model.StatusPartialFailure],
		counts[model.StatusPending])
	if m.notice != "" {
		left += "  " + m.notice
	}

	hints := "j/k move · space toggle · c copy id · / filter · q quit"
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(hints)
	if gap < 1 {
		gap = 1
	}
	return StatusLineStyle.Render(left + strings.Repeat(" ", gap) + hints)
}
