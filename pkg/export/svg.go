package export

import (
	"fmt"
	"os"

	svg "github.com/ajstarks/svgo"
	"github.com/mattn/go-runewidth"

	"planview/pkg/layout"
)

func saveSVG(res layout.Result, opts Options) error {
	f, err := os.Create(opts.Path)
	if err != nil {
		return fmt.Errorf("create svg: %w", err)
	}
	defer f.Close()

	w := int(res.TotalWidth)
	h := int(res.TotalHeight)
	canvas := svg.New(f)
	canvas.Start(w, h)
	canvas.Rect(0, 0, w, h, "fill:"+colorCanvas)

	if opts.Title != "" {
		canvas.Text(int(layout.LeftMargin), 24, opts.Title,
			"fill:"+colorText+";font-family:sans-serif;font-size:16px;font-weight:bold")
	}

	// Connectors under nodes.
	for _, c := range res.Connectors {
		stroke := colorConnector
		width := 1.5
		if c.Highlighted {
			stroke = colorHighlight
			width = 2.5
		}
		canvas.Line(int(c.From.X), int(c.From.Y), int(c.To.X), int(c.To.Y),
			fmt.Sprintf("stroke:%s;stroke-width:%.1f;fill:none", stroke, width))
	}

	for _, n := range res.Nodes {
		fill := colorNodeFill
		if n.ID == layout.StartNodeID {
			fill = colorStart
		}
		border := statusColor(n.Status)
		strokeWidth := 1.5
		if n.Highlighted {
			border = colorHighlight
			strokeWidth = 3
		}
		canvas.Roundrect(int(n.X), int(n.Y), int(n.Width), int(n.Height), 8, 8,
			fmt.Sprintf("fill:%s;stroke:%s;stroke-width:%.1f", fill, border, strokeWidth))

		label := runewidth.Truncate(n.Name, MaxLabelChars, "…")
		canvas.Text(int(n.X+n.Width/2), int(n.Y+n.Height/2)+4, label,
			"fill:"+colorText+";font-family:sans-serif;font-size:12px;text-anchor:middle")
	}

	canvas.End()
	return nil
}
