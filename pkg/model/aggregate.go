package model

// Aggregate derives a composite status from a multiset of child statuses.
//
// Precedence, first match wins:
// failed > partial_failure > loading > modified > completed > pending.
// completed requires every child to be completed; pending is the default,
// including the empty-children case. Unknown statuses count as pending.
func Aggregate(children []Status) Status {
	if len(children) == 0 {
		return StatusPending
	}

	var hasPartial, hasLoading, hasModified bool
	allCompleted := true
	for _, s := range children {
		switch s.Normalize() {
		case StatusFailed:
			return StatusFailed
		case StatusPartialFailure:
			hasPartial = true
			allCompleted = false
		case StatusLoading:
			hasLoading = true
			allCompleted = false
		case StatusModified:
			hasModified = true
			allCompleted = false
		case StatusPending:
			allCompleted = false
		}
	}

	switch {
	case hasPartial:
		return StatusPartialFailure
	case hasLoading:
		return StatusLoading
	case hasModified:
		return StatusModified
	case allCompleted:
		return StatusCompleted
	}
	return StatusPending
}

// AggregateTree recomputes composite statuses bottom-up, in place.
// Concept leaves keep their intrinsic status; stage and module statuses are
// always a function of their children and are never set directly.
func AggregateTree(n *Node) Status {
	if n == nil {
		return StatusPending
	}
	if !n.Kind.IsComposite() {
		return n.Status.Normalize()
	}
	statuses := make([]Status, len(n.Children))
	for i, c := range n.Children {
		statuses[i] = AggregateTree(c)
	}
	n.Status = Aggregate(statuses)
	return n.Status
}

// AggregateForest recomputes every tree in a top-level stage list.
func AggregateForest(stages []*Node) {
	for _, s := range stages {
		AggregateTree(s)
	}
}
