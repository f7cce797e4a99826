package verifier

import (
	"fmt"
	"strings"
)

// EvaluationResult holds the statistics of one or more frames.
//
// The zero value is the empty result. Results combine with Add, which is plain
// addition of every counter, so per-frame results can be reduced in any order.
type EvaluationResult struct {
	// The total number of TPs, FPs, FNs with grouping of detection results.
	TP int `json:"tp" yaml:"tp"`
	FP int `json:"fp" yaml:"fp"`
	FN int `json:"fn" yaml:"fn"`

	// The total number of FPs without grouping (for FPPW).
	FPW int `json:"fpw" yaml:"fpw"`

	// The total number of detection windows, and frames.
	Windows int64 `json:"windows" yaml:"windows"`
	Images  int   `json:"images"  yaml:"images"`
}

// Add returns the sum of e and o.
func (e EvaluationResult) Add(o EvaluationResult) EvaluationResult {
	return EvaluationResult{
		TP:      e.TP + o.TP,
		FP:      e.FP + o.FP,
		FN:      e.FN + o.FN,
		FPW:     e.FPW + o.FPW,
		Windows: e.Windows + o.Windows,
		Images:  e.Images + o.Images,
	}
}

// Accumulate adds o into e.
func (e *EvaluationResult) Accumulate(o EvaluationResult) {
	*e = e.Add(o)
}

// All rates below return 0 when their denominator is 0, for example recall on
// frames without ground truth. They never return NaN or Inf.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Precision is TP / (TP + FP).
func (e EvaluationResult) Precision() float64 {
	return ratio(float64(e.TP), float64(e.TP+e.FP))
}

// Recall is TP / (TP + FN).
func (e EvaluationResult) Recall() float64 {
	return ratio(float64(e.TP), float64(e.TP+e.FN))
}

// Missrate is 1 - Recall, or 0 when recall is undefined.
func (e EvaluationResult) Missrate() float64 {
	if e.TP+e.FN == 0 {
		return 0
	}
	return 1 - e.Recall()
}

// FValue is the harmonic mean of precision and recall.
func (e EvaluationResult) FValue() float64 {
	p, r := e.Precision(), e.Recall()
	return ratio(2*p*r, p+r)
}

// FPPW is the number of ungrouped false positives per scanned window.
func (e EvaluationResult) FPPW() float64 {
	return ratio(float64(e.FPW), float64(e.Windows))
}

// FPPF is the number of false positives per frame.
func (e EvaluationResult) FPPF() float64 {
	return ratio(float64(e.FP), float64(e.Images))
}

// FPRate is FP / (FP + TP).
func (e EvaluationResult) FPRate() float64 {
	return ratio(float64(e.FP), float64(e.FP+e.TP))
}

func (e EvaluationResult) fields() [][2]string {
	return [][2]string{
		{"TP", fmt.Sprintf("%d", e.TP)},
		{"FP", fmt.Sprintf("%d", e.FP)},
		{"FN", fmt.Sprintf("%d", e.FN)},
		{"FPW", fmt.Sprintf("%d", e.FPW)},
		{"Wnd", fmt.Sprintf("%d", e.Windows)},
		{"Img", fmt.Sprintf("%d", e.Images)},
		{"Precision", fmt.Sprintf("%.4f", e.Precision())},
		{"Recall", fmt.Sprintf("%.4f", e.Recall())},
		{"Missrate", fmt.Sprintf("%.4f", e.Missrate())},
		{"F", fmt.Sprintf("%.4f", e.FValue())},
		{"FPPW", fmt.Sprintf("%.4e", e.FPPW())},
		{"FPPF", fmt.Sprintf("%.4f", e.FPPF())},
		{"FPRate", fmt.Sprintf("%.4f", e.FPRate())},
	}
}

// Summary renders the counters followed by the derived rates, always in the order
// TP FP FN FPW Wnd Img Precision Recall Missrate F FPPW FPPF FPRate.
// Rates have 4 decimals, FPPW is in exponent form.
//
// With oneLine, fields are "key=value" separated by single spaces. Otherwise each
// field is "key: value" on its own line, with a trailing newline.
func (e EvaluationResult) Summary(oneLine bool) string {
	var sb strings.Builder
	for i, kv := range e.fields() {
		if oneLine {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(kv[0] + "=" + kv[1])
		} else {
			sb.WriteString(kv[0] + ": " + kv[1] + "\n")
		}
	}
	return sb.String()
}

func (e EvaluationResult) String() string {
	return e.Summary(true)
}
