// Package benchmark - Evaluates a dataset of frames under one or more scenarios.
package benchmark

import (
	"time"

	"github.com/nvr-ai/go-verify/verifier"
)

// ScenarioResult captures the outcome of one scenario over the whole dataset.
type ScenarioResult struct {
	Scenario        Scenario                  `json:"scenario"`
	Timestamp       time.Time                 `json:"timestamp"`
	TotalDuration   time.Duration             `json:"total_duration"`
	FramesPerSecond float64                   `json:"frames_per_second"`
	Eval            verifier.EvaluationResult `json:"eval"`
	Rates           Rates                     `json:"rates"`
	Frames          []FrameResult             `json:"frames,omitempty"`
}

// Rates are the derived rates of an EvaluationResult, kept for the saved results.
type Rates struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Missrate  float64 `json:"missrate"`
	FValue    float64 `json:"f_value"`
	FPPW      float64 `json:"fppw"`
	FPPF      float64 `json:"fppf"`
	FPRate    float64 `json:"fp_rate"`
}

// NewRates computes every rate of e.
func NewRates(e verifier.EvaluationResult) Rates {
	return Rates{
		Precision: e.Precision(),
		Recall:    e.Recall(),
		Missrate:  e.Missrate(),
		FValue:    e.FValue(),
		FPPW:      e.FPPW(),
		FPPF:      e.FPPF(),
		FPRate:    e.FPRate(),
	}
}

// FrameResult is the detailed outcome of one frame.
type FrameResult struct {
	Index        int                          `json:"index"`
	Image        string                       `json:"image,omitempty"`
	Verification *verifier.VerificationResult `json:"verification"`
	Eval         verifier.EvaluationResult    `json:"eval"`
}
