package model

import "fmt"

// Kind discriminates the three levels of the plan tree, leaf to root:
// concepts belong to modules, modules belong to stages.
type Kind string

const (
	KindStage   Kind = "stage"
	KindModule  Kind = "module"
	KindConcept Kind = "concept"
)

// IsValid returns true if the kind is a recognized value.
func (k Kind) IsValid() bool {
	switch k {
	case KindStage, KindModule, KindConcept:
		return true
	}
	return false
}

// IsComposite returns true for kinds whose status is derived from children.
func (k Kind) IsComposite() bool {
	return k == KindStage || k == KindModule
}

// Status represents the generation state of a single node.
type Status string

const (
	StatusPending        Status = "pending"
	StatusLoading        Status = "loading"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusPartialFailure Status = "partial_failure"
	StatusModified       Status = "modified"
)

// IsValid returns true if the status is a recognized value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusLoading, StatusCompleted, StatusFailed, StatusPartialFailure, StatusModified:
		return true
	}
	return false
}

// Normalize maps unrecognized values to pending. The backend is free to grow
// new statuses; the viewer must not break when it does.
func (s Status) Normalize() Status {
	if s.IsValid() {
		return s
	}
	return StatusPending
}

// IsTerminal returns true for statuses that will not change without a new event.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartialFailure
}

// TaskStatus is the overall state of a backend generation task.
type TaskStatus string

const (
	TaskPending          TaskStatus = "pending"
	TaskRunning          TaskStatus = "running"
	TaskCompleted        TaskStatus = "completed"
	TaskCompletedPartial TaskStatus = "completed_with_failures"
	TaskFailed           TaskStatus = "failed"
)

// IsTerminal returns true once the task can emit no further events.
func (t TaskStatus) IsTerminal() bool {
	return t == TaskCompleted || t == TaskCompletedPartial || t == TaskFailed
}

// IsSuccess returns true for terminal states that finished the plan,
// including runs where individual items failed.
func (t TaskStatus) IsSuccess() bool {
	return t == TaskCompleted || t == TaskCompletedPartial
}

// Node is one entry in the plan tree. Children are ordered and owned
// exclusively by their parent; there are no back-references, so the tree is
// acyclic by construction.
type Node struct {
	ID          string  `json:"id"`
	Kind        Kind    `json:"kind"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Status      Status  `json:"status"`
	Expanded    bool    `json:"expanded,omitempty"`
	Children    []*Node `json:"children,omitempty"`
}

// HasChildren returns true if the node has at least one child.
func (n *Node) HasChildren() bool {
	return len(n.Children) > 0
}

// Walk visits n and all descendants in pre-order. Traversal stops early if
// visit returns false.
func (n *Node) Walk(visit func(*Node) bool) bool {
	if !visit(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(visit) {
			return false
		}
	}
	return true
}

// Find returns the node with the given id, or nil.
func (n *Node) Find(id string) *Node {
	var found *Node
	n.Walk(func(node *Node) bool {
		if node.ID == id {
			found = node
			return false
		}
		return true
	})
	return found
}

// Clone creates a deep copy of the node and its descendants.
func (n *Node) Clone() *Node {
	clone := *n
	if n.Children != nil {
		clone.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			clone.Children[i] = c.Clone()
		}
	}
	return &clone
}

// Validate checks the node subtree for structural problems: empty or
// duplicate ids, unknown kinds. Statuses are not validated here because
// unknown statuses normalize rather than fail.
func (n *Node) Validate() error {
	seen := make(map[string]bool)
	var err error
	n.Walk(func(node *Node) bool {
		if node.ID == "" {
			err = fmt.Errorf("node %q has empty id", node.Name)
			return false
		}
		if seen[node.ID] {
			err = fmt.Errorf("duplicate node id: %s", node.ID)
			return false
		}
		seen[node.ID] = true
		if !node.Kind.IsValid() {
			err = fmt.Errorf("node %s has unknown kind %q", node.ID, node.Kind)
			return false
		}
		return true
	})
	return err
}

// CountByStatus tallies concept (leaf) statuses across the subtree.
func (n *Node) CountByStatus() map[Status]int {
	counts := make(map[Status]int)
	n.Walk(func(node *Node) bool {
		if node.Kind == KindConcept {
			counts[node.Status.Normalize()]++
		}
		return true
	})
	return counts
}
