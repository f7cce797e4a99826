package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvr-ai/go-verify/benchmark"
	"github.com/nvr-ai/go-verify/metric"
	"github.com/nvr-ai/go-verify/overlay"
	"github.com/nvr-ai/go-verify/util"
	"github.com/nvr-ai/go-verify/verifier"
)

func main() {
	var (
		configFile   = flag.String("config", "", "Path to configuration file (JSON or YAML)")
		scenarioFile = flag.String("scenarios", "", "Path to scenario set file (JSON or YAML)")
		framesPath   = flag.String("frames", "", "Directory of frame-<n>.json|yaml annotation files")
		outputDir    = flag.String("output", "", "Output directory for results")
		threshold    = flag.Float64("threshold", 0, "Score threshold; windows scoring above it are kept")
		overlap      = flag.Float64("overlap", 0.5, "Minimum IoU for a window to match ground truth")
		groupTh      = flag.Int("group", 2, "Minimum number of windows per group")
		eps          = flag.Float64("eps", 0.2, "Grouping tolerance")
		sweep        = flag.String("sweep", "", "Comma separated thresholds to sweep, e.g. -0.5,0,0.5")
		missAll      = flag.Bool("miss-all", false, "Count missed non-confident ground truth as false negatives")
		workers      = flag.Int("workers", 0, "Number of frame workers per scenario")
		timeout      = flag.Duration("timeout", 0, "Evaluation timeout duration")
		metricsFile  = flag.String("metrics-file", "", "Write Prometheus metrics of the run to this file")
		overlayDir   = flag.String("overlays", "", "Write annotated frames of the first scenario to this directory")
		detailed     = flag.Bool("detailed", false, "Keep per-frame results in the JSON output")
	)
	flag.Parse()

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	fatal := func(format string, args ...any) {
		logger.Errorf(format, args...)
		logger.Close()
		os.Exit(1)
	}

	config := benchmark.DefaultConfig()
	if *configFile != "" {
		config, err = benchmark.LoadConfig(*configFile)
		if err != nil {
			fatal("Failed to load config: %v", err)
		}
	}

	// Flags given on the command line override the config file.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	opts := options{
		framesPath:  *framesPath,
		outputDir:   *outputDir,
		threshold:   *threshold,
		overlap:     *overlap,
		groupTh:     *groupTh,
		eps:         *eps,
		sweep:       *sweep,
		missAll:     *missAll,
		workers:     *workers,
		timeout:     *timeout,
		metricsFile: *metricsFile,
		overlayDir:  *overlayDir,
		detailed:    *detailed,
	}
	if err := applyFlags(config, opts, set); err != nil {
		fatal("Invalid flags: %v", err)
	}
	if *scenarioFile != "" {
		if ignored := ignoredScenarioFlags(set); len(ignored) > 0 {
			logger.Warnf("Scenario file %s is used; ignoring -%s", *scenarioFile, strings.Join(ignored, ", -"))
		}
	}

	frames, err := util.LoadFrames(config.FramesPath)
	if err != nil {
		fatal("Failed to load frames: %v", err)
	}
	if len(frames) == 0 {
		logger.Warnf("No frame files found in %s", config.FramesPath)
	}
	logger.Infof("Loaded %d frames from %s", len(frames), config.FramesPath)

	reg := prometheus.NewRegistry()
	m, err := metric.New(reg, nil)
	if err != nil {
		fatal("Failed to register metrics: %v", err)
	}

	suite, err := benchmark.NewSuite(benchmark.SuiteArgs{
		Log:            logger,
		Metrics:        m,
		OutputDir:      config.OutputDir,
		MaxConcurrency: config.MaxConcurrency,
		KeepFrames:     config.SaveDetailedLog || config.OverlayDir != "",
	})
	if err != nil {
		fatal("Failed to create suite: %v", err)
	}
	suite.SetFrames(frames)

	scenarios, err := selectScenarios(config, *scenarioFile)
	if err != nil {
		fatal("Failed to build scenarios: %v", err)
	}
	for _, scenario := range scenarios {
		suite.AddScenario(scenario)
	}
	logger.Infof("Added %d scenarios", len(scenarios))

	ctx := context.Background()
	if timeout := config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := suite.RunAllScenarios(ctx); err != nil {
		fatal("Evaluation failed: %v", err)
	}
	logger.Infof("Evaluation completed in %v", time.Since(start))

	results := suite.GetResults()
	fmt.Printf("\n=== EVALUATION RESULTS SUMMARY ===\n")
	fmt.Printf("Total scenarios: %d\n", len(results))
	fmt.Printf("Results saved to: %s\n", config.OutputDir)

	var bestF float64
	var bestScenario string
	for _, result := range results {
		if bestScenario == "" || result.Rates.FValue > bestF {
			bestF = result.Rates.FValue
			bestScenario = result.Scenario.Name
		}
		fmt.Printf("  %s: %s\n", result.Scenario.Name, result.Eval.Summary(true))
	}
	if bestScenario != "" {
		fmt.Printf("\nBest scenario by F: %s (%.4f)\n", bestScenario, bestF)
	}

	if config.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(config.MetricsFile, reg); err != nil {
			fatal("Failed to write metrics: %v", err)
		}
		logger.Infof("Metrics saved to: %s", config.MetricsFile)
	}

	if config.OverlayDir != "" && len(results) > 0 {
		n, err := writeOverlays(config.OverlayDir, results[0])
		if err != nil {
			fatal("Failed to write overlays: %v", err)
		}
		logger.Infof("Wrote %d overlays of %s to %s", n, results[0].Scenario.Name, config.OverlayDir)
	}
}

// options holds the command line values that can override a Config.
type options struct {
	framesPath  string
	outputDir   string
	threshold   float64
	overlap     float64
	groupTh     int
	eps         float64
	sweep       string
	missAll     bool
	workers     int
	timeout     time.Duration
	metricsFile string
	overlayDir  string
	detailed    bool
}

// scenarioFlags only shape the configured scenario, so a scenario file makes them moot.
var scenarioFlags = []string{"threshold", "overlap", "group", "eps", "miss-all", "sweep"}

// applyFlags copies every flag named in set from o into config.
func applyFlags(config *benchmark.Config, o options, set map[string]bool) error {
	params := &config.Scenario.Params
	if set["frames"] {
		config.FramesPath = o.framesPath
	}
	if set["output"] {
		config.OutputDir = o.outputDir
	}
	if set["threshold"] {
		params.Threshold = float32(o.threshold)
	}
	if set["overlap"] {
		params.OverwrapTh = o.overlap
	}
	if set["group"] {
		params.GroupTh = o.groupTh
	}
	if set["eps"] {
		params.Eps = o.eps
	}
	if set["miss-all"] && o.missAll {
		params.MissPolicy = verifier.MissAll
	}
	if set["workers"] {
		config.MaxConcurrency = o.workers
	}
	if set["timeout"] {
		if o.timeout < 0 {
			return errors.Errorf("timeout %v is negative", o.timeout)
		}
		config.TimeoutSeconds = o.timeout.Seconds()
	}
	if set["metrics-file"] {
		config.MetricsFile = o.metricsFile
	}
	if set["overlays"] {
		config.OverlayDir = o.overlayDir
	}
	if set["detailed"] && o.detailed {
		config.SaveDetailedLog = true
	}
	if set["sweep"] {
		sweep, err := parseSweep(o.sweep)
		if err != nil {
			return errors.Wrap(err, "sweep")
		}
		config.Sweep = sweep
	}
	return nil
}

// ignoredScenarioFlags lists the scenario flags in set, in flag order.
func ignoredScenarioFlags(set map[string]bool) []string {
	var ignored []string
	for _, name := range scenarioFlags {
		if set[name] {
			ignored = append(ignored, name)
		}
	}
	return ignored
}

// parseSweep parses a comma separated list of thresholds.
func parseSweep(s string) ([]float32, error) {
	var out []float32
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "threshold %q", field)
		}
		out = append(out, float32(v))
	}
	return out, nil
}

// selectScenarios picks the scenarios to run: the scenario file if given, else
// a sweep of the configured scenario, else the configured scenario alone.
func selectScenarios(config *benchmark.Config, scenarioFile string) ([]benchmark.Scenario, error) {
	if scenarioFile != "" {
		set, err := benchmark.LoadScenarioSet(scenarioFile)
		if err != nil {
			return nil, err
		}
		return set.Scenarios, nil
	}

	if err := config.Scenario.Params.Validate(); err != nil {
		return nil, err
	}
	if len(config.Sweep) > 0 {
		return benchmark.ThresholdSweep(config.Scenario, config.Sweep).Scenarios, nil
	}
	return []benchmark.Scenario{config.Scenario}, nil
}

// writeOverlays renders every frame of result that names an image.
func writeOverlays(dir string, result benchmark.ScenarioResult) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrap(err, "failed to create overlay directory")
	}

	n := 0
	for _, frame := range result.Frames {
		if frame.Image == "" || frame.Verification == nil {
			continue
		}
		outPath := filepath.Join(dir, fmt.Sprintf("frame-%d%s", frame.Index, filepath.Ext(frame.Image)))
		if err := overlay.Render(frame.Image, outPath, frame.Verification, overlay.Options{Labels: true}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(os.Stderr, "Scores detector output against ground truth.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(
			os.Stderr,
			"  %s -frames ./frames -threshold 0.5 -group 2\n",
			filepath.Base(os.Args[0]),
		)
		fmt.Fprintf(
			os.Stderr,
			"  %s -config ./verify.yaml -sweep -1,-0.5,0,0.5,1 -metrics-file ./verify.prom\n",
			filepath.Base(os.Args[0]),
		)
		fmt.Fprintf(
			os.Stderr,
			"  %s -frames ./frames -scenarios ./scenarios.yaml -overlays ./overlays\n",
			filepath.Base(os.Args[0]),
		)
	}
}
