package verifier

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-verify/detector"
	"github.com/nvr-ai/go-verify/images"
	"github.com/nvr-ai/go-verify/postprocess"
)

// TruthRect is one hand-labelled object.
type TruthRect struct {
	Rect images.Rect `json:"box" yaml:"box"`
	// Confident is false for ambiguous labels (heavy occlusion, borderline scale).
	Confident bool `json:"confident" yaml:"confident"`
}

// VerificationResult is the per-frame outcome of Verify. Each flag slice is
// parallel to the rectangle slice before it.
type VerificationResult struct {
	// The number of detection windows before thresholding.
	TotalWindows int `json:"total_windows"`

	// Windows thresholded without grouping, and whether each matched ground truth.
	Windows []images.Rect `json:"windows"`
	TPFlags []bool        `json:"tp_flags"`

	// Windows thresholded with grouping, and whether each matched ground truth.
	WindowsGrouped []images.Rect `json:"windows_grouped"`
	TPGroupedFlags []bool        `json:"tp_grouped_flags"`

	// The ground truth, and whether each entry was found by a grouped window.
	GroundTruth []TruthRect `json:"ground_truth"`
	FoundFlags  []bool      `json:"found_flags"`

	// MissPolicy is carried over from the Params used to build the result.
	MissPolicy MissPolicy `json:"miss_policy,omitempty"`
}

// ToEval reduces the frame to counters.
//
// Returns:
//   - TP/FP: matched/unmatched grouped windows.
//   - FN: unmatched ground truth, restricted by MissPolicy.
//   - FPW: unmatched ungrouped windows.
//   - Windows: TotalWindows. Images: 1.
func (vr *VerificationResult) ToEval() EvaluationResult {
	eval := EvaluationResult{
		Windows: int64(vr.TotalWindows),
		Images:  1,
	}
	for _, tp := range vr.TPGroupedFlags {
		if tp {
			eval.TP++
		} else {
			eval.FP++
		}
	}
	for _, tp := range vr.TPFlags {
		if !tp {
			eval.FPW++
		}
	}
	for i, found := range vr.FoundFlags {
		if !found && vr.MissPolicy.countsMiss(vr.GroundTruth[i].Confident) {
			eval.FN++
		}
	}
	return eval
}

// Verify matches the windows of one frame against its ground truth.
//
// Windows scoring above p.Threshold form the ungrouped candidate set; grouping
// that set (p.GroupTh, p.Eps) forms the grouped set. Each set is matched
// independently: candidates are visited in order and each takes the first
// still-unmatched ground-truth entry that is equivalent under p.OverwrapTh.
// This greedy first-fit is deliberately not an optimal assignment, so that
// scores stay comparable with earlier runs.
//
// Arguments:
//   - detection: The detector output. nil is treated as no windows.
//   - truth: The ground truth of the frame. It is copied, not retained.
//   - p: The evaluation parameters.
//
// Returns:
//   - A fresh VerificationResult.
//   - ErrInvalidParams (wrapped) if p does not validate.
func Verify(detection detector.Detections, truth []TruthRect, p Params) (*VerificationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var all []detector.Window
	if detection != nil {
		all = detection.All()
	}

	windows := postprocess.Thresholding(all, p.Threshold)
	grouped, err := postprocess.Grouping(windows, p.GroupTh, p.Eps)
	if err != nil {
		return nil, errors.Wrap(err, "grouping windows")
	}

	gt := make([]TruthRect, len(truth))
	copy(gt, truth)
	truthRects := make([]images.Rect, len(gt))
	for i, t := range gt {
		truthRects[i] = t.Rect
	}
	truthRects = p.normalize(truthRects)

	tpFlags, _ := match(p.normalize(windows), truthRects, p.OverwrapTh)
	tpGrouped, found := match(p.normalize(grouped), truthRects, p.OverwrapTh)

	policy := p.MissPolicy
	if policy == "" {
		policy = MissConfidentOnly
	}

	return &VerificationResult{
		TotalWindows:   len(all),
		Windows:        windows,
		TPFlags:        tpFlags,
		WindowsGrouped: grouped,
		TPGroupedFlags: tpGrouped,
		GroundTruth:    gt,
		FoundFlags:     found,
		MissPolicy:     policy,
	}, nil
}

// Evaluate runs Verify and reduces the result with ToEval.
func Evaluate(detection detector.Detections, truth []TruthRect, p Params) (EvaluationResult, error) {
	vr, err := Verify(detection, truth, p)
	if err != nil {
		return EvaluationResult{}, err
	}
	return vr.ToEval(), nil
}

// normalize returns the rectangles to compare. The input is never modified.
func (p Params) normalize(rects []images.Rect) []images.Rect {
	if p.Normalization == nil {
		return rects
	}
	out := make([]images.Rect, len(rects))
	for i, r := range rects {
		out[i] = images.Normalize(r, p.Normalization.HeightToWidthRatio, p.Normalization.HeightRatio)
	}
	return out
}

// match pairs candidates with ground truth, greedily and first-fit.
//
// Returns:
//   - hits: hits[i] is true if candidates[i] took a ground-truth entry.
//   - found: found[j] is true if truth[j] was taken.
func match(candidates, truth []images.Rect, overwrapTh float64) (hits, found []bool) {
	hits = make([]bool, len(candidates))
	found = make([]bool, len(truth))

	unmatched := make([]int, len(truth))
	for j := range unmatched {
		unmatched[j] = j
	}

	for i, c := range candidates {
		for k, j := range unmatched {
			if images.IsEquivalent(c, truth[j], overwrapTh) {
				hits[i] = true
				found[j] = true
				unmatched = append(unmatched[:k], unmatched[k+1:]...)
				break
			}
		}
	}
	return hits, found
}
