// Package postprocess - Filters and groups the raw windows emitted by a sliding-window detector.
package postprocess

import (
	"github.com/nvr-ai/go-verify/detector"
	"github.com/nvr-ai/go-verify/images"
)

// Thresholding keeps the box of every window scoring strictly above th.
//
// Arguments:
//   - windows: The scored windows, in detector order.
//   - th: The score cutoff.
//
// Returns:
//   - The surviving boxes in their original order. Never nil.
func Thresholding(windows []detector.Window, th float32) []images.Rect {
	rects := make([]images.Rect, 0, len(windows))
	for _, w := range windows {
		if w.Score > th {
			rects = append(rects, w.Box)
		}
	}
	return rects
}
