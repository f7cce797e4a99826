// Package metric - Prometheus export of evaluation statistics.
package metric

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvr-ai/go-verify/verifier"
)

// Metric publishes EvaluationResults as Prometheus series labelled by scenario.
// A nil *Metric accepts every call and records nothing.
type Metric struct {
	mu sync.Mutex

	truePositives       *prometheus.CounterVec
	falsePositives      *prometheus.CounterVec
	falseNegatives      *prometheus.CounterVec
	falsePositivesNoGrp *prometheus.CounterVec
	windows             *prometheus.CounterVec
	frames              *prometheus.CounterVec
	precision           *prometheus.GaugeVec
	recall              *prometheus.GaugeVec
	fppw                *prometheus.GaugeVec
	runTimeHistogram    *prometheus.HistogramVec
	totals              map[string]verifier.EvaluationResult
}

func counter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"scenario"})
}

func gauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"scenario"})
}

// New creates the series and registers them with reg.
//
// Arguments:
//   - reg: Where to register. Pass prometheus.DefaultRegisterer to use the global registry.
//   - buckets: Run time histogram buckets in seconds. nil means prometheus.DefBuckets.
//
// Returns:
//   - *Metric: The registered metrics.
//   - error: Error if any series is already registered.
func New(reg prometheus.Registerer, buckets []float64) (*Metric, error) {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}

	m := &Metric{
		truePositives:       counter("verify_true_positives_total", "Grouped windows matched to ground truth."),
		falsePositives:      counter("verify_false_positives_total", "Grouped windows matching no ground truth."),
		falseNegatives:      counter("verify_false_negatives_total", "Ground truth found by no grouped window."),
		falsePositivesNoGrp: counter("verify_false_positives_ungrouped_total", "Ungrouped windows matching no ground truth."),
		windows:             counter("verify_windows_total", "Detection windows scanned."),
		frames:              counter("verify_frames_total", "Frames evaluated."),
		precision:           gauge("verify_precision", "Precision of everything observed so far."),
		recall:              gauge("verify_recall", "Recall of everything observed so far."),
		fppw:                gauge("verify_fppw", "False positives per window of everything observed so far."),
		runTimeHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verify_scenario_run_seconds",
				Help:    "Histogram of scenario run times.",
				Buckets: buckets,
			},
			[]string{"scenario"},
		),
		totals: make(map[string]verifier.EvaluationResult),
	}

	for _, c := range []prometheus.Collector{
		m.truePositives, m.falsePositives, m.falseNegatives, m.falsePositivesNoGrp,
		m.windows, m.frames, m.precision, m.recall, m.fppw, m.runTimeHistogram,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe adds eval to the counters of scenario and refreshes its rate gauges.
func (m *Metric) Observe(scenario string, eval verifier.EvaluationResult) {
	if m == nil {
		return
	}
	m.lock()
	defer m.unlock()

	m.truePositives.WithLabelValues(scenario).Add(float64(eval.TP))
	m.falsePositives.WithLabelValues(scenario).Add(float64(eval.FP))
	m.falseNegatives.WithLabelValues(scenario).Add(float64(eval.FN))
	m.falsePositivesNoGrp.WithLabelValues(scenario).Add(float64(eval.FPW))
	m.windows.WithLabelValues(scenario).Add(float64(eval.Windows))
	m.frames.WithLabelValues(scenario).Add(float64(eval.Images))

	total := m.totals[scenario].Add(eval)
	m.totals[scenario] = total
	m.precision.WithLabelValues(scenario).Set(total.Precision())
	m.recall.WithLabelValues(scenario).Set(total.Recall())
	m.fppw.WithLabelValues(scenario).Set(total.FPPW())
}

// ObserveDuration records how long one run of scenario took.
func (m *Metric) ObserveDuration(scenario string, d time.Duration) {
	if m == nil {
		return
	}
	m.runTimeHistogram.WithLabelValues(scenario).Observe(d.Seconds())
}

func (m *Metric) lock() {
	m.mu.Lock()
}

func (m *Metric) unlock() {
	m.mu.Unlock()
}
