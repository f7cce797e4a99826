package benchmark

import (
	"context"
	"encoding/csv"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-verify/detector"
	"github.com/nvr-ai/go-verify/images"
	"github.com/nvr-ai/go-verify/metric"
	"github.com/nvr-ai/go-verify/util"
	"github.com/nvr-ai/go-verify/verifier"
)

// randomFrames builds frames whose windows jitter around their ground truth,
// plus some background windows.
func randomFrames(rng *rand.Rand, n int) []util.Frame {
	frames := make([]util.Frame, n)
	for i := range frames {
		nTruth := rng.Intn(4)
		nNoise := rng.Intn(6)

		var truth []verifier.TruthRect
		var windows []detector.Window
		for j := 0; j < nTruth; j++ {
			x, y := rng.Intn(500), rng.Intn(300)
			w := 20 + rng.Intn(40)
			h := 2 * w
			truth = append(truth, verifier.TruthRect{Rect: images.XYWH(x, y, w, h), Confident: rng.Intn(4) != 0})
			for k := 0; k < 3; k++ {
				windows = append(windows, detector.Window{
					Box:   images.XYWH(x+rng.Intn(5)-2, y+rng.Intn(5)-2, w, h),
					Score: rng.Float32(),
				})
			}
		}
		for j := 0; j < nNoise; j++ {
			windows = append(windows, detector.Window{
				Box:   images.XYWH(rng.Intn(600), rng.Intn(400), 30, 60),
				Score: rng.Float32(),
			})
		}

		frames[i] = util.Frame{
			Index:      i,
			Image:      filepath.Join("frames", "frame.png"),
			Detections: detector.Result{Windows: windows},
			Truth:      truth,
		}
	}
	return frames
}

func sequentialTotal(t *testing.T, frames []util.Frame, p verifier.Params) verifier.EvaluationResult {
	t.Helper()
	var total verifier.EvaluationResult
	for _, f := range frames {
		e, err := verifier.Evaluate(f.Detections, f.Truth, p)
		require.NoError(t, err)
		total.Accumulate(e)
	}
	return total
}

func newTestSuite(t *testing.T, args SuiteArgs) *Suite {
	t.Helper()
	suite, err := NewSuite(args)
	require.NoError(t, err)
	return suite
}

func TestNewSuite(t *testing.T) {
	outputDir := t.TempDir()

	suite := newTestSuite(t, SuiteArgs{Log: logs.NewTestingLog(t), OutputDir: outputDir})

	assert.NotNil(t, suite)
	assert.Equal(t, outputDir, suite.outputDir)
	assert.Equal(t, 1, suite.workers)
	assert.Empty(t, suite.scenarios)
	assert.Empty(t, suite.results)

	// Without a log the suite creates its own.
	suite, err := NewSuite(SuiteArgs{MaxConcurrency: -3})
	require.NoError(t, err)
	assert.NotNil(t, suite.log)
	assert.Equal(t, 1, suite.workers)
}

func TestScenarioBuilder(t *testing.T) {
	scenario := NewScenarioBuilder("test_scenario").
		WithThreshold(0.25).
		WithOverlap(0.4).
		WithGrouping(3, 0.1).
		WithNormalization(2, 0.8).
		WithMissPolicy(verifier.MissAll).
		Build()

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, float32(0.25), scenario.Params.Threshold)
	assert.Equal(t, 0.4, scenario.Params.OverwrapTh)
	assert.Equal(t, 3, scenario.Params.GroupTh)
	assert.Equal(t, 0.1, scenario.Params.Eps)
	require.NotNil(t, scenario.Params.Normalization)
	assert.Equal(t, verifier.Normalization{HeightToWidthRatio: 2, HeightRatio: 0.8}, *scenario.Params.Normalization)
	assert.Equal(t, verifier.MissAll, scenario.Params.MissPolicy)
	assert.NoError(t, scenario.Params.Validate())

	defaults := NewScenarioBuilder("defaults").Build()
	assert.Equal(t, verifier.DefaultParams(), defaults.Params)
}

func TestScenarioBuilder_BuildCopiesNormalization(t *testing.T) {
	builder := NewScenarioBuilder("n").WithNormalization(2, 1)
	a := builder.Build()
	b := builder.Build()

	a.Params.Normalization.HeightRatio = 0.5
	assert.Equal(t, float32(1), b.Params.Normalization.HeightRatio)
}

func TestThresholdSweep(t *testing.T) {
	base := NewScenarioBuilder("base").WithGrouping(3, 0.3).WithNormalization(2, 1).Build()

	set := ThresholdSweep(base, []float32{0, 0.5, 1.5})

	require.Len(t, set.Scenarios, 3)
	assert.Contains(t, set.Name, "base")
	assert.Equal(t, "base_th0", set.Scenarios[0].Name)
	assert.Equal(t, "base_th0.5", set.Scenarios[1].Name)
	assert.Equal(t, "base_th1.5", set.Scenarios[2].Name)
	for i, th := range []float32{0, 0.5, 1.5} {
		s := set.Scenarios[i]
		assert.Equal(t, th, s.Params.Threshold)
		assert.Equal(t, 3, s.Params.GroupTh)
		assert.Equal(t, 0.3, s.Params.Eps)
	}

	set.Scenarios[0].Params.Normalization.HeightRatio = 0.5
	assert.Equal(t, float32(1), set.Scenarios[1].Params.Normalization.HeightRatio)
	assert.Equal(t, float32(1), base.Params.Normalization.HeightRatio)

	assert.Empty(t, ThresholdSweep(base, nil).Scenarios)
}

func TestSaveLoadScenarioSet(t *testing.T) {
	set := ThresholdSweep(NewScenarioBuilder("base").WithNormalization(2, 0.9).Build(), []float32{0.5, 1})

	for _, name := range []string{"scenarios.json", "scenarios.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, SaveScenarioSet(set, path))

			loaded, err := LoadScenarioSet(path)
			require.NoError(t, err)
			assert.Equal(t, set, loaded)
		})
	}
}

func TestLoadScenarioSet_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
name: bad
scenarios:
  - name: negative-eps
    params:
      overwrap_th: 0.5
      group_th: 1
      eps: -1
`), 0o644))
	_, err := LoadScenarioSet(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, verifier.ErrInvalidParams))

	_, err = LoadScenarioSet(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestConfig(t *testing.T) {
	config := DefaultConfig()
	assert.NotNil(t, config)
	assert.Equal(t, "./verify_results", config.OutputDir)
	assert.Equal(t, "./frames", config.FramesPath)
	assert.Equal(t, 1, config.MaxConcurrency)
	assert.Equal(t, 3600.0, config.TimeoutSeconds)
	assert.False(t, config.SaveDetailedLog)
	assert.Equal(t, verifier.DefaultParams(), config.Scenario.Params)
	assert.Equal(t, time.Hour, config.Timeout())

	config.TimeoutSeconds = 0.5
	assert.Equal(t, 500*time.Millisecond, config.Timeout())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
frames_path: /data/frames
max_concurrency: 8
sweep: [0.1, 0.2]
scenario:
  name: tuned
  params:
    threshold: 0.3
    overwrap_th: 0.6
    group_th: 2
    eps: 0.2
    miss_policy: all
`), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/frames", config.FramesPath)
	assert.Equal(t, 8, config.MaxConcurrency)
	assert.Equal(t, []float32{0.1, 0.2}, config.Sweep)
	assert.Equal(t, "tuned", config.Scenario.Name)
	assert.Equal(t, float32(0.3), config.Scenario.Params.Threshold)
	assert.Equal(t, verifier.MissAll, config.Scenario.Params.MissPolicy)
	// Absent keys keep their defaults.
	assert.Equal(t, "./verify_results", config.OutputDir)
	assert.Equal(t, 3600.0, config.TimeoutSeconds)

	// JSON round trip.
	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, config.SaveConfig(jsonPath))
	reloaded, err := LoadConfig(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, config, reloaded)
}

func TestLoadConfig_Timeout(t *testing.T) {
	tests := []struct {
		body string
		want time.Duration
	}{
		{body: "timeout_seconds: 0.5\n", want: 500 * time.Millisecond},
		{body: "timeout_seconds: 90\n", want: 90 * time.Second},
		{body: "timeout_seconds: 0\n", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			config, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, config.Timeout())
		})
	}
}

func TestLoadConfig_InvalidScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scenario:\n  params:\n    group_th: 0\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, verifier.ErrInvalidParams))
}

func TestAddScenario(t *testing.T) {
	suite := newTestSuite(t, SuiteArgs{Log: logs.NewTestingLog(t), OutputDir: t.TempDir()})

	scenario := NewScenarioBuilder("test").WithThreshold(0.5).Build()
	suite.AddScenario(scenario)

	assert.Len(t, suite.Scenarios(), 1)
	assert.Equal(t, scenario, suite.Scenarios()[0])
}

func TestRunScenario_MatchesSequentialSum(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	frames := randomFrames(rng, 60)
	scenario := NewScenarioBuilder("grouped").WithThreshold(0.3).WithGrouping(2, 0.2).Build()
	want := sequentialTotal(t, frames, scenario.Params)

	for _, workers := range []int{1, 3, 16} {
		suite := newTestSuite(t, SuiteArgs{Log: logs.NewTestingLog(t), MaxConcurrency: workers})
		suite.SetFrames(frames)

		result, err := suite.RunScenario(context.Background(), scenario)
		require.NoError(t, err)
		assert.Equal(t, want, result.Eval, "workers=%d", workers)
		assert.Equal(t, 60, result.Eval.Images)
		assert.Equal(t, NewRates(want), result.Rates)
		assert.Equal(t, scenario, result.Scenario)
		assert.Nil(t, result.Frames)
	}
}

func TestRunScenario_KeepFrames(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	frames := randomFrames(rng, 10)
	scenario := NewScenarioBuilder("detailed").Build()

	suite := newTestSuite(t, SuiteArgs{Log: logs.NewTestingLog(t), MaxConcurrency: 4, KeepFrames: true})
	suite.SetFrames(frames)

	result, err := suite.RunScenario(context.Background(), scenario)
	require.NoError(t, err)
	require.Len(t, result.Frames, len(frames))

	var total verifier.EvaluationResult
	for i, fr := range result.Frames {
		assert.Equal(t, frames[i].Index, fr.Index)
		assert.Equal(t, frames[i].Image, fr.Image)
		require.NotNil(t, fr.Verification)
		assert.Equal(t, fr.Verification.ToEval(), fr.Eval)
		total.Accumulate(fr.Eval)
	}
	assert.Equal(t, result.Eval, total)
}

func TestRunScenario_NoFrames(t *testing.T) {
	suite := newTestSuite(t, SuiteArgs{Log: logs.NewTestingLog(t), MaxConcurrency: 2})

	result, err := suite.RunScenario(context.Background(), NewScenarioBuilder("empty").Build())
	require.NoError(t, err)
	assert.Equal(t, verifier.EvaluationResult{}, result.Eval)
	assert.Equal(t, 0.0, result.Rates.Precision)
}

func TestRunScenario_InvalidParams(t *testing.T) {
	suite := newTestSuite(t, SuiteArgs{Log: logs.NewTestingLog(t)})
	suite.SetFrames(randomFrames(rand.New(rand.NewSource(1)), 3))

	_, err := suite.RunScenario(context.Background(), NewScenarioBuilder("bad").WithGrouping(0, 0.2).Build())
	require.Error(t, err)
	assert.True(t, errors.Is(err, verifier.ErrInvalidParams))
}

func TestRunScenario_Cancelled(t *testing.T) {
	suite := newTestSuite(t, SuiteArgs{Log: logs.NewTestingLog(t), MaxConcurrency: 2})
	suite.SetFrames(randomFrames(rand.New(rand.NewSource(2)), 20))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := suite.RunScenario(ctx, NewScenarioBuilder("cancelled").Build())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

// countingDetections counts All calls and runs onAll, if set, on each of them.
type countingDetections struct {
	detector.Result
	calls *atomic.Int32
	onAll func()
}

func (c countingDetections) All() []detector.Window {
	c.calls.Add(1)
	if c.onAll != nil {
		c.onAll()
	}
	return c.Result.All()
}

func TestRunScenario_CancelledWhileRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	frames := randomFrames(rand.New(rand.NewSource(7)), 200)
	for i := range frames {
		d := countingDetections{Result: frames[i].Detections.(detector.Result), calls: &calls}
		if i == 0 {
			d.onAll = cancel
		}
		frames[i].Detections = d
	}

	reg := prometheus.NewRegistry()
	m, err := metric.New(reg, nil)
	require.NoError(t, err)

	suite := newTestSuite(t, SuiteArgs{Log: logs.NewTestingLog(t), Metrics: m, MaxConcurrency: 1})
	suite.SetFrames(frames)

	result, err := suite.RunScenario(ctx, NewScenarioBuilder("interrupted").Build())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, result)
	// The single worker stops after the frame that cancelled.
	assert.Equal(t, int32(1), calls.Load())

	n, err := testutil.GatherAndCount(reg, "verify_true_positives_total")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunScenario_ObservesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metric.New(reg, nil)
	require.NoError(t, err)

	frames := randomFrames(rand.New(rand.NewSource(3)), 15)
	scenario := NewScenarioBuilder("observed").WithThreshold(0.2).Build()

	suite := newTestSuite(t, SuiteArgs{Log: logs.NewTestingLog(t), Metrics: m, MaxConcurrency: 3})
	suite.SetFrames(frames)

	result, err := suite.RunScenario(context.Background(), scenario)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, mm := range f.GetMetric() {
			if mm.GetCounter() != nil {
				values[f.GetName()] = mm.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(result.Eval.TP), values["verify_true_positives_total"])
	assert.Equal(t, float64(result.Eval.FP), values["verify_false_positives_total"])
	assert.Equal(t, float64(result.Eval.FN), values["verify_false_negatives_total"])
	assert.Equal(t, float64(result.Eval.Images), values["verify_frames_total"])
	n, err := testutil.GatherAndCount(reg, "verify_scenario_run_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunAllScenarios_SavesResults(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "out")
	frames := randomFrames(rand.New(rand.NewSource(4)), 8)

	suite := newTestSuite(t, SuiteArgs{Log: logs.NewTestingLog(t), OutputDir: outputDir, MaxConcurrency: 2})
	suite.SetFrames(frames)
	for _, s := range ThresholdSweep(NewScenarioBuilder("sweep").Build(), []float32{0.2, 0.8}).Scenarios {
		suite.AddScenario(s)
	}
	// Invalid scenarios are logged and skipped.
	suite.AddScenario(NewScenarioBuilder("bad").WithOverlap(2).Build())

	require.NoError(t, suite.RunAllScenarios(context.Background()))

	results := suite.GetResults()
	require.Len(t, results, 2)
	assert.Equal(t, "sweep_th0.2", results[0].Scenario.Name)
	assert.Equal(t, "sweep_th0.8", results[1].Scenario.Name)
	assert.Equal(t, 8, results[0].Eval.Images)
	assert.Equal(t, results[0].Eval.Windows, results[1].Eval.Windows)

	jsonFiles, err := filepath.Glob(filepath.Join(outputDir, "verify_results_*.json"))
	require.NoError(t, err)
	assert.Len(t, jsonFiles, 1)

	csvFiles, err := filepath.Glob(filepath.Join(outputDir, "verify_summary_*.csv"))
	require.NoError(t, err)
	require.Len(t, csvFiles, 1)

	f, err := os.Open(csvFiles[0])
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, summaryHeader, rows[0])
	assert.Equal(t, "sweep_th0.2", rows[1][0])
	assert.Equal(t, "0.2", rows[1][1])
}

func TestRunAllScenarios_Cancelled(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "out")
	suite := newTestSuite(t, SuiteArgs{Log: logs.NewTestingLog(t), OutputDir: outputDir})
	suite.SetFrames(randomFrames(rand.New(rand.NewSource(5)), 4))
	suite.AddScenario(NewScenarioBuilder("a").Build())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := suite.RunAllScenarios(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, suite.GetResults())
	_, statErr := os.Stat(outputDir)
	assert.True(t, os.IsNotExist(statErr))
}

func BenchmarkRunScenario(b *testing.B) {
	frames := randomFrames(rand.New(rand.NewSource(6)), 200)
	suite, err := NewSuite(SuiteArgs{MaxConcurrency: 4})
	if err != nil {
		b.Fatal(err)
	}
	suite.SetFrames(frames)
	scenario := NewScenarioBuilder("bench").WithThreshold(0.3).Build()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := suite.RunScenario(context.Background(), scenario); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkScenarioBuilder(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = NewScenarioBuilder("test").
			WithThreshold(0.5).
			WithGrouping(2, 0.2).
			WithNormalization(2, 1).
			Build()
	}
}
