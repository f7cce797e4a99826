// Package detector - The boundary between a sliding-window detector and the verifier.
package detector

import (
	"fmt"

	"github.com/nvr-ai/go-verify/images"
)

// Window is a candidate window proposed by a detector, together with its confidence.
type Window struct {
	// The bounding box of the window.
	Box images.Rect `json:"box" yaml:"box"`
	// The confidence score of the window.
	Score float32 `json:"score" yaml:"score"`
}

func (w Window) String() string {
	return fmt.Sprintf("%v (score %f)", w.Box, w.Score)
}

// Detections is anything that can list every candidate window it scanned,
// before any thresholding.
type Detections interface {
	All() []Window
}

// Result is the output of a detector for one frame.
type Result struct {
	// Windows holds every scored window, unfiltered.
	Windows []Window `json:"windows" yaml:"windows"`
}

// All returns every window of the result.
func (r Result) All() []Window {
	return r.Windows
}
