package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-verify/metric"
	"github.com/nvr-ai/go-verify/util"
	"github.com/nvr-ai/go-verify/verifier"
)

// Suite manages and executes evaluation scenarios over one dataset.
type Suite struct {
	log        logs.Log
	metrics    *metric.Metric
	outputDir  string
	workers    int
	keepFrames bool

	mu        sync.RWMutex
	frames    []util.Frame
	scenarios []Scenario
	results   []ScenarioResult
}

// SuiteArgs represents the arguments for creating a new suite.
type SuiteArgs struct {
	// Log receives progress messages. A stdout log is created when nil.
	Log logs.Log
	// Metrics, if not nil, observes every finished scenario.
	Metrics *metric.Metric
	// OutputDir receives SaveResults output.
	OutputDir string
	// MaxConcurrency is the number of frame workers. Values below 1 mean 1.
	MaxConcurrency int
	// KeepFrames keeps the per-frame results in each ScenarioResult.
	KeepFrames bool
}

// NewSuite creates a new suite.
//
// Arguments:
//   - args: The arguments for creating a new suite.
//
// Returns:
//   - *Suite: The suite, without frames or scenarios.
//   - error: Error if no Log was given and the default log cannot be created.
func NewSuite(args SuiteArgs) (*Suite, error) {
	log := args.Log
	if log == nil {
		var err error
		if log, err = logs.NewLog(); err != nil {
			return nil, errors.Wrap(err, "failed to create log")
		}
	}
	workers := args.MaxConcurrency
	if workers < 1 {
		workers = 1
	}

	return &Suite{
		log:        log,
		metrics:    args.Metrics,
		outputDir:  args.OutputDir,
		workers:    workers,
		keepFrames: args.KeepFrames,
		scenarios:  make([]Scenario, 0),
		results:    make([]ScenarioResult, 0),
	}, nil
}

// SetFrames sets the dataset every scenario is evaluated on.
func (bs *Suite) SetFrames(frames []util.Frame) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.frames = frames
}

// AddScenario adds a scenario to the suite.
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// Scenarios returns a copy of the configured scenarios.
func (bs *Suite) Scenarios() []Scenario {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	scenarios := make([]Scenario, len(bs.scenarios))
	copy(scenarios, bs.scenarios)
	return scenarios
}

// RunScenario evaluates every frame under one scenario.
//
// Frames are fed to a pool of workers. Each worker sums its own frames and
// adds its total into the scenario total under one lock, which is exact since
// EvaluationResult addition is associative and commutative.
//
// Arguments:
//   - ctx: Cancelling it stops dispatching frames.
//   - scenario: The scenario to run.
//
// Returns:
//   - *ScenarioResult: The reduced result.
//   - error: verifier.ErrInvalidParams (wrapped) before any work, or ctx.Err().
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*ScenarioResult, error) {
	if err := scenario.Params.Validate(); err != nil {
		return nil, errors.Wrapf(err, "scenario %q", scenario.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bs.mu.RLock()
	frames := bs.frames
	bs.mu.RUnlock()

	result := &ScenarioResult{
		Scenario:  scenario,
		Timestamp: time.Now(),
	}
	if bs.keepFrames {
		result.Frames = make([]FrameResult, len(frames))
	}

	var (
		reduceMu sync.Mutex
		total    verifier.EvaluationResult
	)

	startTime := time.Now()
	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range frames {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < bs.workers; w++ {
		g.Go(func() error {
			var local verifier.EvaluationResult
			for i := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				frame := &frames[i]
				vr, err := verifier.Verify(frame.Detections, frame.Truth, scenario.Params)
				if err != nil {
					return errors.Wrapf(err, "frame %d", frame.Index)
				}
				eval := vr.ToEval()
				local.Accumulate(eval)

				// Each index is handed to exactly one worker.
				if result.Frames != nil {
					result.Frames[i] = FrameResult{
						Index:        frame.Index,
						Image:        frame.Image,
						Verification: vr,
						Eval:         eval,
					}
				}
			}

			reduceMu.Lock()
			total.Accumulate(local)
			reduceMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.TotalDuration = time.Since(startTime)
	if secs := result.TotalDuration.Seconds(); secs > 0 {
		result.FramesPerSecond = float64(len(frames)) / secs
	}
	result.Eval = total
	result.Rates = NewRates(total)

	bs.metrics.Observe(scenario.Name, total)
	bs.metrics.ObserveDuration(scenario.Name, result.TotalDuration)

	return result, nil
}

// RunAllScenarios runs every configured scenario in order, then saves the results.
//
// A failing scenario is logged and skipped. Cancellation of ctx ends the run
// early and is returned without saving.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	scenarios := bs.Scenarios()

	bs.mu.RLock()
	bs.log.Infof("Running %d scenarios over %d frames with %d workers", len(scenarios), len(bs.frames), bs.workers)
	bs.mu.RUnlock()

	for _, scenario := range scenarios {
		result, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				bs.log.Warnf("Evaluation interrupted at scenario %s: %v", scenario.Name, err)
				return err
			}
			bs.log.Errorf("Scenario %s failed: %v", scenario.Name, err)
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *result)
		bs.mu.Unlock()

		bs.log.Infof("Scenario %s completed: %v", scenario.Name, result.Eval)
	}

	return bs.SaveResults()
}

// SaveResults persists the results as a detailed JSON file and a CSV summary.
func (bs *Suite) SaveResults() error {
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("verify_results_%s.json", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal results")
	}

	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write results file")
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("verify_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return errors.Wrap(err, "failed to save summary CSV")
	}

	bs.log.Infof("Results saved to: %s", resultsFile)
	bs.log.Infof("Summary saved to: %s", summaryFile)

	return nil
}

var summaryHeader = []string{
	"Scenario", "Threshold", "Overwrap_Th", "Group_Th", "Eps", "Miss_Policy",
	"TP", "FP", "FN", "FPW", "Windows", "Images",
	"Precision", "Recall", "Missrate", "F", "FPPW", "FPPF", "FP_Rate", "Total_Duration_ms",
}

func saveSummaryCSV(filename string, results []ScenarioResult) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(summaryHeader); err != nil {
		return err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for _, result := range results {
		p := result.Scenario.Params
		e := result.Eval
		row := []string{
			result.Scenario.Name,
			strconv.FormatFloat(float64(p.Threshold), 'g', -1, 32),
			strconv.FormatFloat(p.OverwrapTh, 'g', -1, 64),
			strconv.Itoa(p.GroupTh),
			strconv.FormatFloat(p.Eps, 'g', -1, 64),
			string(p.MissPolicy),
			strconv.Itoa(e.TP),
			strconv.Itoa(e.FP),
			strconv.Itoa(e.FN),
			strconv.Itoa(e.FPW),
			strconv.FormatInt(e.Windows, 10),
			strconv.Itoa(e.Images),
			f(result.Rates.Precision),
			f(result.Rates.Recall),
			f(result.Rates.Missrate),
			f(result.Rates.FValue),
			strconv.FormatFloat(result.Rates.FPPW, 'e', 4, 64),
			f(result.Rates.FPPF),
			f(result.Rates.FPRate),
			strconv.FormatFloat(float64(result.TotalDuration.Nanoseconds())/1e6, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// GetResults returns all scenario results.
func (bs *Suite) GetResults() []ScenarioResult {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	results := make([]ScenarioResult, len(bs.results))
	copy(results, bs.results)
	return results
}
