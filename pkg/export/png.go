package export

import (
	"fmt"

	"git.sr.ht/~sbinet/gg"
	"github.com/mattn/go-runewidth"

	"planview/pkg/layout"
)

func savePNG(res layout.Result, opts Options) error {
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}

	w := int(res.TotalWidth * scale)
	h := int(res.TotalHeight * scale)
	if w < 1 || h < 1 {
		return fmt.Errorf("degenerate canvas %dx%d", w, h)
	}

	dc := gg.NewContext(w, h)
	dc.Scale(scale, scale)
	dc.SetHexColor(colorCanvas)
	dc.Clear()

	if opts.Title != "" {
		dc.SetHexColor(colorText)
		dc.DrawString(opts.Title, layout.LeftMargin, 24)
	}

	for _, c := range res.Connectors {
		if c.Highlighted {
			dc.SetHexColor(colorHighlight)
			dc.SetLineWidth(2.5)
		} else {
			dc.SetHexColor(colorConnector)
			dc.SetLineWidth(1.5)
		}
		dc.DrawLine(c.From.X, c.From.Y, c.To.X, c.To.Y)
		dc.Stroke()
	}

	for _, n := range res.Nodes {
		if n.ID == layout.StartNodeID {
			dc.SetHexColor(colorStart)
		} else {
			dc.SetHexColor(colorNodeFill)
		}
		dc.DrawRoundedRectangle(n.X, n.Y, n.Width, n.Height, 8)
		dc.Fill()

		if n.Highlighted {
			dc.SetHexColor(colorHighlight)
			dc.SetLineWidth(3)
		} else {
			dc.SetHexColor(statusColor(n.Status))
			dc.SetLineWidth(1.5)
		}
		dc.DrawRoundedRectangle(n.X, n.Y, n.Width, n.Height, 8)
		dc.Stroke()

		dc.SetHexColor(colorText)
		label := runewidth.Truncate(n.Name, MaxLabelChars, "…")
		dc.DrawStringAnchored(label, n.X+n.Width/2, n.Y+n.Height/2, 0.5, 0.5)
	}

	if err := dc.SavePNG(opts.Path); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}
