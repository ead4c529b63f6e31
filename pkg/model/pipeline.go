package model

// Phase is one step group on the pipeline's main path. Steps are the backend
// step names that resolve to this phase.
type Phase struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

// Branch is a short side-sequence of backend steps that departs from the main
// path at Trigger and returns to it. Branches may reuse step names of other
// branches; EditSource disambiguates which branch an event belongs to.
type Branch struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Trigger    string   `json:"trigger"` // main-path phase id this branch departs from
	EditSource string   `json:"edit_source"`
	Steps      []string `json:"steps"`
}

// ContainsStep returns the index of step within the phase, or -1.
func (p Phase) ContainsStep(step string) int {
	for i, s := range p.Steps {
		if s == step {
			return i
		}
	}
	return -1
}

// ContainsStep returns the index of step within the branch, or -1.
func (b Branch) ContainsStep(step string) int {
	for i, s := range b.Steps {
		if s == step {
			return i
		}
	}
	return -1
}
