package layout

import "planview/pkg/model"

// nodeHeight is fixed per kind; the synthetic start node has its own constant.
func nodeHeight(k model.Kind) float64 {
	switch k {
	case model.KindStage:
		return StageHeight
	case model.KindModule:
		return ModuleHeight
	}
	return ConceptHeight
}

func minWidth(k model.Kind) float64 {
	switch k {
	case model.KindStage:
		return StageMinWidth
	case model.KindModule:
		return ModuleMinWidth
	}
	return ConceptMinWidth
}

// nodeWidth sizes a node to its label plus padding and icon room, floored at
// the per-kind minimum.
func nodeWidth(n *model.Node) float64 {
	w := TextPadding + iconAllowance(n) + TextWidth(n.Name)
	if min := minWidth(n.Kind); w < min {
		return min
	}
	return w
}

// iconAllowance reserves space for the expand affordance (nodes with
// children) and the status glyph (nodes past pending). Both together need
// less than the sum of the two, since they share edge padding.
func iconAllowance(n *model.Node) float64 {
	expand := n.HasChildren()
	status := n.Status.Normalize() != model.StatusPending
	switch {
	case expand && status:
		return AllowanceBoth
	case expand:
		return AllowanceExpandOnly
	case status:
		return AllowanceStatusOnly
	}
	return AllowanceNone
}

// TextWidth estimates the rendered width of a label. Characters from CJK
// ranges count CJKWidthFactor times the base character width; everything
// else counts once.
func TextWidth(s string) float64 {
	w := 0.0
	for _, r := range s {
		if isCJK(r) {
			w += BaseCharWidth * CJKWidthFactor
		} else {
			w += BaseCharWidth
		}
	}
	return w
}

// isCJK covers the unified ideographs, CJK punctuation, and full-width forms.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FA5:
		return true
	case r >= 0x3000 && r <= 0x303F:
		return true
	case r >= 0xFF00 && r <= 0xFFEF:
		return true
	}
	return false
}
