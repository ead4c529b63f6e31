// Package export renders a computed layout to image files. It consumes the
// layout engine's geometry as-is; all positioning decisions were made before
// the result reaches this package.
package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"planview/pkg/layout"
	"planview/pkg/model"
)

// MaxLabelChars bounds node labels in rendered output; longer names are
// truncated with an ellipsis.
const MaxLabelChars = 28

// Options configures a snapshot render.
type Options struct {
	// Path is the output file; its extension selects the format
	// (.svg or .png) unless Format overrides it.
	Path   string
	Format string
	// Title is drawn above the plan when non-empty.
	Title string
	// Scale multiplies canvas units into PNG pixels. Zero means 1.
	Scale float64
}

func (o Options) format() string {
	if o.Format != "" {
		return strings.ToLower(o.Format)
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(o.Path)), ".")
}

// SaveSnapshot renders the layout result to the requested file.
func SaveSnapshot(res layout.Result, opts Options) error {
	switch opts.format() {
	case "svg":
		return saveSVG(res, opts)
	case "png":
		return savePNG(res, opts)
	default:
		return fmt.Errorf("unsupported export format %q (want svg or png)", opts.format())
	}
}

// SaveBoth renders SVG and PNG siblings of the given base path concurrently.
func SaveBoth(ctx context.Context, res layout.Result, basePath, title string) error {
	base := strings.TrimSuffix(basePath, filepath.Ext(basePath))
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return SaveSnapshot(res, Options{Path: base + ".svg", Title: title})
	})
	g.Go(func() error {
		return SaveSnapshot(res, Options{Path: base + ".png", Title: title})
	})
	return g.Wait()
}

// Render colors, dark theme matching the live view.
const (
	colorCanvas    = "#1E1F29"
	colorNodeFill  = "#282A36"
	colorText      = "#F8F8F2"
	colorConnector = "#6272A4"
	colorHighlight = "#BD93F9"
	colorStart     = "#44475A"
)

// statusColor is the border accent per node status.
func statusColor(s model.Status) string {
	switch s {
	case model.StatusLoading:
		return "#8BE9FD"
	case model.StatusCompleted:
		return "#50FA7B"
	case model.StatusFailed:
		return "#FF5555"
	case model.StatusPartialFailure:
		return "#FFB86C"
	case model.StatusModified:
		return "#F1FA8C"
	}
	return "#6272A4"
}
