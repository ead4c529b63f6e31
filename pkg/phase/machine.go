// Package phase derives "where is the pipeline now" from the event stream: an
// ordered main path of phases plus up to two side branches, each anchored at
// a trigger phase and disambiguated by an edit-source discriminator.
//
// Everything here is pure derivation. The one piece of remembered state,
// whether a branch has ever been entered, is computed elsewhere (from the
// historical event log) and passed in as an input.
package phase

import "planview/pkg/model"

// StepStatus is the reported state of a phase or branch step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCurrent   StepStatus = "current"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Machine holds the pipeline shape. It is immutable once built; position and
// statuses are derived per call.
type Machine struct {
	main     []model.Phase
	branches []model.Branch
}

// MaxBranches bounds how many side branches a pipeline may carry.
const MaxBranches = 2

// Position locates the pipeline on the main path or a branch. MainIdx always
// points at a main-path phase: for branch positions it is the branch's
// trigger phase, which stays current while the branch runs.
type Position struct {
	MainIdx   int
	OnBranch  bool
	BranchIdx int
	StepIdx   int
}

// New builds a machine. Branches beyond MaxBranches are dropped.
func New(main []model.Phase, branches []model.Branch) *Machine {
	if len(branches) > MaxBranches {
		branches = branches[:MaxBranches]
	}
	return &Machine{main: main, branches: branches}
}

// Main returns the main-path phases.
func (m *Machine) Main() []model.Phase { return m.main }

// Branches returns the side branches.
func (m *Machine) Branches() []model.Branch { return m.branches }

// Resolve maps (currentStep, editSource) to a position. The main path is
// searched first; then each branch, breaking step-name ties between branches
// by comparing editSource against each branch's discriminator. An
// unresolvable position degrades to the first main-path phase rather than
// failing.
func (m *Machine) Resolve(currentStep, editSource string) Position {
	if currentStep != "" {
		for i, p := range m.main {
			if p.ContainsStep(currentStep) >= 0 {
				return Position{MainIdx: i}
			}
		}

		matched := -1
		matchedStep := -1
		for bi, b := range m.branches {
			si := b.ContainsStep(currentStep)
			if si < 0 {
				continue
			}
			if matched < 0 {
				matched, matchedStep = bi, si
				continue
			}
			// Tie between branches sharing a step name: the edit source
			// decides.
			if b.EditSource == editSource {
				matched, matchedStep = bi, si
			}
		}
		if matched >= 0 {
			return Position{
				MainIdx:   m.triggerIndex(m.branches[matched]),
				OnBranch:  true,
				BranchIdx: matched,
				StepIdx:   matchedStep,
			}
		}
	}
	return Position{MainIdx: 0}
}

// MainStatuses derives the status of every main-path phase.
//
// Failed task: the phase at the current position is failed, earlier phases
// are completed, later ones pending. Terminal success: everything completed.
// In progress: completed before, current at, pending after the position.
func (m *Machine) MainStatuses(pos Position, task model.TaskStatus) []StepStatus {
	out := make([]StepStatus, len(m.main))
	switch {
	case task == model.TaskFailed:
		for i := range out {
			switch {
			case i < pos.MainIdx:
				out[i] = StepCompleted
			case i == pos.MainIdx:
				out[i] = StepFailed
			default:
				out[i] = StepPending
			}
		}
	case task.IsSuccess():
		for i := range out {
			out[i] = StepCompleted
		}
	default:
		for i := range out {
			switch {
			case i < pos.MainIdx:
				out[i] = StepCompleted
			case i == pos.MainIdx:
				out[i] = StepCurrent
			default:
				out[i] = StepPending
			}
		}
	}
	return out
}

// BranchStatuses derives the status of one branch's steps. entered is the
// remembered-completion flag: once a branch has ever been observed in the
// event log, its steps report completed even after control returns to the
// main path and advances further.
func (m *Machine) BranchStatuses(branchIdx int, pos Position, task model.TaskStatus, entered bool) []StepStatus {
	if branchIdx < 0 || branchIdx >= len(m.branches) {
		return nil
	}
	b := m.branches[branchIdx]
	out := make([]StepStatus, len(b.Steps))

	onThisBranch := pos.OnBranch && pos.BranchIdx == branchIdx && !task.IsSuccess()
	if onThisBranch {
		for i := range out {
			switch {
			case i < pos.StepIdx:
				out[i] = StepCompleted
			case i == pos.StepIdx:
				out[i] = StepCurrent
			default:
				out[i] = StepPending
			}
		}
		if task == model.TaskFailed {
			out[pos.StepIdx] = StepFailed
		}
		return out
	}

	for i := range out {
		if entered {
			out[i] = StepCompleted
		} else {
			out[i] = StepPending
		}
	}
	return out
}

func (m *Machine) triggerIndex(b model.Branch) int {
	for i, p := range m.main {
		if p.ID == b.Trigger {
			return i
		}
	}
	return 0
}
