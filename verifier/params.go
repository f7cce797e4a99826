// Package verifier - Scores detector output against ground truth.
//
// Verify classifies every thresholded window (with and without grouping) and every
// ground-truth entry of one frame. ToEval reduces that to counters which add up
// across frames into an EvaluationResult.
package verifier

import (
	"math"

	"github.com/pkg/errors"
)

// ErrInvalidParams is returned when evaluation parameters are out of range.
var ErrInvalidParams = errors.New("invalid verification parameters")

// MissPolicy decides which unmatched ground-truth entries count as false negatives.
type MissPolicy string

const (
	// MissConfidentOnly counts only unmatched confident entries. Non-confident
	// entries are "don't care": finding them is a true positive, missing them
	// costs nothing. This is the default (the empty policy behaves the same).
	MissConfidentOnly MissPolicy = "confident"
	// MissAll counts every unmatched entry, confident or not.
	MissAll MissPolicy = "all"
)

// countsMiss reports whether an unmatched entry with the given confidence is a false negative.
func (p MissPolicy) countsMiss(confident bool) bool {
	return confident || p == MissAll
}

// Normalization reshapes rectangles before they are compared (see images.Normalize).
type Normalization struct {
	HeightToWidthRatio float32 `json:"height_to_width_ratio" yaml:"height_to_width_ratio"`
	HeightRatio        float32 `json:"height_ratio"          yaml:"height_ratio"`
}

// Params holds every tunable of one evaluation run.
type Params struct {
	// Threshold is the score cutoff. Windows scoring strictly above it are kept.
	Threshold float32 `json:"threshold" yaml:"threshold"`
	// OverwrapTh is the minimum IoU for a candidate to match a ground-truth entry, in [0, 1].
	OverwrapTh float64 `json:"overwrap_th" yaml:"overwrap_th"`
	// GroupTh is the minimum number of windows a group needs to be kept. At least 1.
	GroupTh int `json:"group_th" yaml:"group_th"`
	// Eps is the grouping tolerance. Not negative.
	Eps float64 `json:"eps" yaml:"eps"`
	// Normalization, when set, is applied to candidates and ground truth before matching.
	Normalization *Normalization `json:"normalization,omitempty" yaml:"normalization,omitempty"`
	// MissPolicy selects how unmatched ground truth is counted.
	MissPolicy MissPolicy `json:"miss_policy,omitempty" yaml:"miss_policy,omitempty"`
}

// DefaultParams returns the parameters used when nothing else is configured.
func DefaultParams() Params {
	return Params{
		Threshold:  0,
		OverwrapTh: 0.5,
		GroupTh:    2,
		Eps:        0.2,
		MissPolicy: MissConfidentOnly,
	}
}

// Validate rejects out-of-range parameters. Nothing is clamped: a miscalibrated
// run should fail loudly instead of producing numbers that look plausible.
func (p Params) Validate() error {
	if math.IsNaN(float64(p.Threshold)) {
		return errors.Wrap(ErrInvalidParams, "threshold is NaN")
	}
	if !(p.OverwrapTh >= 0 && p.OverwrapTh <= 1) {
		return errors.Wrapf(ErrInvalidParams, "overwrap_th %v is outside [0, 1]", p.OverwrapTh)
	}
	if p.GroupTh < 1 {
		return errors.Wrapf(ErrInvalidParams, "group_th %d is below 1", p.GroupTh)
	}
	if !(p.Eps >= 0) {
		return errors.Wrapf(ErrInvalidParams, "eps %v is negative", p.Eps)
	}
	if n := p.Normalization; n != nil {
		if !(n.HeightToWidthRatio > 0) || !(n.HeightRatio > 0) {
			return errors.Wrapf(ErrInvalidParams, "normalization ratios %v/%v must be positive",
				n.HeightToWidthRatio, n.HeightRatio)
		}
	}
	switch p.MissPolicy {
	case "", MissConfidentOnly, MissAll:
	default:
		return errors.Wrapf(ErrInvalidParams, "unknown miss_policy %q", p.MissPolicy)
	}
	return nil
}
