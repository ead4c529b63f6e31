// Package layout converts a plan tree plus expansion and highlight state into
// absolute node positions, connector geometry, and a canvas size.
//
// Compute is pure and deterministic: identical inputs yield structurally
// identical output, so callers can memoize on the (tree, options) tuple.
// Positions are valid only for the exact inputs that produced them.
package layout

import "planview/pkg/model"

// Geometry constants, in canvas units (pixels at 1x).
const (
	LeftMargin   = 40.0
	TopMargin    = 40.0
	CanvasMargin = 40.0

	HorizontalGap = 60.0
	VerticalGap   = 24.0

	StageHeight   = 56.0
	ModuleHeight  = 48.0
	ConceptHeight = 40.0

	StageMinWidth   = 160.0
	ModuleMinWidth  = 140.0
	ConceptMinWidth = 120.0

	// Horizontal padding inside a node box, both sides combined.
	TextPadding = 24.0

	// BaseCharWidth is the width of one latin character at the node font size.
	BaseCharWidth = 8.0
	// CJKWidthFactor scales characters from CJK ranges, which render wider.
	CJKWidthFactor = 1.6

	// Icon allowances: room reserved for the expand affordance and/or the
	// status glyph. Four discrete cases; see iconAllowance.
	AllowanceNone       = 0.0
	AllowanceExpandOnly = 20.0
	AllowanceStatusOnly = 20.0
	AllowanceBoth       = 36.0

	StartNodeWidth  = 96.0
	StartNodeHeight = 40.0

	// DefaultMaxDepth bounds recursion. The tree is acyclic by construction,
	// but layout must not blow the stack on malformed input regardless.
	DefaultMaxDepth = 32
)

// StartNodeID identifies the synthetic start node in results.
const StartNodeID = "__start__"

// Point is a position on the canvas.
type Point struct {
	X float64
	Y float64
}

// PlacedNode is a node with computed geometry. It is a value snapshot:
// mutating the source tree after Compute does not affect it.
type PlacedNode struct {
	ID          string
	Kind        model.Kind
	Name        string
	Status      model.Status
	X           float64
	Y           float64
	Width       float64
	Height      float64
	Expanded    bool
	HasChildren bool
	Highlighted bool
}

// Connector links a parent's right-edge center to a child's left-edge center.
type Connector struct {
	FromID      string
	ToID        string
	From        Point
	To          Point
	Highlighted bool
}

// Options controls a layout pass. Expansion state is read from the nodes
// themselves; highlights mark nodes without affecting geometry.
type Options struct {
	// Highlights marks node ids to flag in the output.
	Highlights map[string]bool
	// ShowStart inserts a synthetic start node in a column left of the stages,
	// vertically centered on the stage extent.
	ShowStart bool
	// MaxDepth bounds recursion; zero means DefaultMaxDepth.
	MaxDepth int
}

// Result is the full output of one layout pass.
type Result struct {
	Nodes       []PlacedNode
	Connectors  []Connector
	TotalWidth  float64
	TotalHeight float64
}

// NodeByID returns the placed node with the given id, or nil.
func (r *Result) NodeByID(id string) *PlacedNode {
	for i := range r.Nodes {
		if r.Nodes[i].ID == id {
			return &r.Nodes[i]
		}
	}
	return nil
}

// Compute lays out the given top-level stages. It never mutates the tree and
// never fails: an empty input produces an empty node list and a minimal canvas.
func Compute(stages []*model.Node, opts Options) Result {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	res := Result{}
	stageX := LeftMargin
	if opts.ShowStart {
		stageX = LeftMargin + StartNodeWidth + HorizontalGap
		// Placeholder position; centered on the stage extent once stages are
		// placed.
		res.Nodes = append(res.Nodes, PlacedNode{
			ID:     StartNodeID,
			Name:   "Start",
			Width:  StartNodeWidth,
			Height: StartNodeHeight,
			X:      LeftMargin,
			Y:      TopMargin,
		})
	}

	bandY := TopMargin
	firstStage := len(res.Nodes)
	for _, stage := range stages {
		if stage == nil {
			continue
		}
		h := subtreeHeight(stage, maxDepth)
		idx := len(res.Nodes)
		place(&res, stage, stageX, bandY, h, maxDepth, opts.Highlights)
		if opts.ShowStart && idx < len(res.Nodes) {
			top := res.Nodes[idx]
			res.Connectors = append(res.Connectors, Connector{
				FromID: StartNodeID,
				ToID:   top.ID,
				From:   Point{X: LeftMargin + StartNodeWidth, Y: 0}, // Y patched below
				To:     Point{X: top.X, Y: top.Y + top.Height/2},
			})
		}
		bandY += h + VerticalGap
	}

	if opts.ShowStart {
		centerStartNode(&res, firstStage)
	}

	res.TotalWidth, res.TotalHeight = canvasSize(res.Nodes)
	return res
}

// place positions n centered in the vertical band [bandY, bandY+bandHeight),
// then recurses into its children when expanded. Pre-order: the parent is
// appended before its subtree.
func place(res *Result, n *model.Node, x, bandY, bandHeight float64, depth int, highlights map[string]bool) {
	w := nodeWidth(n)
	h := nodeHeight(n.Kind)
	y := bandY + (bandHeight-h)/2

	res.Nodes = append(res.Nodes, PlacedNode{
		ID:          n.ID,
		Kind:        n.Kind,
		Name:        n.Name,
		Status:      n.Status.Normalize(),
		X:           x,
		Y:           y,
		Width:       w,
		Height:      h,
		Expanded:    n.Expanded,
		HasChildren: n.HasChildren(),
		Highlighted: highlights[n.ID],
	})

	if !n.Expanded || !n.HasChildren() || depth <= 1 {
		return
	}

	childrenTotal := 0.0
	heights := make([]float64, len(n.Children))
	for i, c := range n.Children {
		heights[i] = subtreeHeight(c, depth-1)
		childrenTotal += heights[i]
	}
	childrenTotal += float64(len(n.Children)-1) * VerticalGap

	childX := x + w + HorizontalGap
	childBandY := bandY + (bandHeight-childrenTotal)/2
	for i, c := range n.Children {
		childTop := len(res.Nodes)
		place(res, c, childX, childBandY, heights[i], depth-1, highlights)
		child := res.Nodes[childTop]
		res.Connectors = append(res.Connectors, Connector{
			FromID:      n.ID,
			ToID:        c.ID,
			From:        Point{X: x + w, Y: y + h/2},
			To:          Point{X: child.X, Y: child.Y + child.Height/2},
			Highlighted: highlights[n.ID] && highlights[c.ID],
		})
		childBandY += heights[i] + VerticalGap
	}
}

// subtreeHeight is the vertical band a node claims: its own height when
// collapsed or a leaf, otherwise the larger of its height and its stacked
// children.
func subtreeHeight(n *model.Node, depth int) float64 {
	h := nodeHeight(n.Kind)
	if !n.Expanded || !n.HasChildren() || depth <= 1 {
		return h
	}
	total := 0.0
	for _, c := range n.Children {
		total += subtreeHeight(c, depth-1)
	}
	total += float64(len(n.Children)-1) * VerticalGap
	if total > h {
		return total
	}
	return h
}

// centerStartNode recenters the synthetic start node on the min/max Y extent
// of the placed stage nodes and patches its outgoing connector anchors.
// Stages occupy index firstStage onward; stage nodes are the ones in the
// start column's neighbor column, which are exactly the nodes with
// Kind == KindStage.
func centerStartNode(res *Result, firstStage int) {
	minY, maxY := 0.0, 0.0
	found := false
	for _, n := range res.Nodes[firstStage:] {
		if n.Kind != model.KindStage {
			continue
		}
		if !found {
			minY, maxY = n.Y, n.Y+n.Height
			found = true
			continue
		}
		if n.Y < minY {
			minY = n.Y
		}
		if n.Y+n.Height > maxY {
			maxY = n.Y + n.Height
		}
	}
	if !found {
		return
	}

	startY := (minY+maxY)/2 - StartNodeHeight/2
	res.Nodes[0].Y = startY
	anchorY := startY + StartNodeHeight/2
	for i := range res.Connectors {
		if res.Connectors[i].FromID == StartNodeID {
			res.Connectors[i].From.Y = anchorY
		}
	}
}

func canvasSize(nodes []PlacedNode) (float64, float64) {
	if len(nodes) == 0 {
		return LeftMargin + CanvasMargin, TopMargin + CanvasMargin
	}
	maxX, maxY := 0.0, 0.0
	for _, n := range nodes {
		if n.X+n.Width > maxX {
			maxX = n.X + n.Width
		}
		if n.Y+n.Height > maxY {
			maxY = n.Y + n.Height
		}
	}
	return maxX + CanvasMargin, maxY + CanvasMargin
}
