package benchmark

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

// Config represents the overall evaluation run configuration.
type Config struct {
	// OutputDir receives the JSON and CSV results.
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	// FramesPath is the directory holding frame-<n> annotation files.
	FramesPath string `json:"frames_path" yaml:"frames_path"`
	// Scenario is used when no scenario file is given.
	Scenario Scenario `json:"scenario" yaml:"scenario"`
	// Sweep, if not empty, expands Scenario into one scenario per threshold.
	Sweep []float32 `json:"sweep,omitempty" yaml:"sweep,omitempty"`
	// MaxConcurrency is the number of frame workers per scenario.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`
	// TimeoutSeconds bounds the whole run. Fractions are kept; 0 means no timeout.
	TimeoutSeconds float64 `json:"timeout_seconds" yaml:"timeout_seconds"`
	// SaveDetailedLog keeps every per-frame VerificationResult in the results.
	SaveDetailedLog bool `json:"save_detailed_log" yaml:"save_detailed_log"`
	// MetricsFile, if set, receives a Prometheus text exposition of the run.
	MetricsFile string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`
	// OverlayDir, if set, receives one annotated image per frame of the first scenario.
	OverlayDir string `json:"overlay_dir,omitempty" yaml:"overlay_dir,omitempty"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:      "./verify_results",
		FramesPath:     "./frames",
		Scenario:       NewScenarioBuilder("default").Build(),
		MaxConcurrency: 1,
		TimeoutSeconds: 3600, // 1 hour
	}
}

// Timeout returns TimeoutSeconds as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// SaveConfig saves the configuration as JSON, or YAML for .yaml/.yml files.
func (c *Config) SaveConfig(filename string) error {
	data, err := marshalFile(filename, c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// LoadConfig loads a configuration file over DefaultConfig, so absent keys keep
// their default values.
//
// Arguments:
//   - filename: Path to a JSON or YAML file.
//
// Returns:
//   - *Config: The loaded configuration.
//   - error: Error if the file cannot be read or parsed, or its scenario is invalid.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()
	if err := unmarshalFile(filename, config); err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	if err := config.Scenario.Params.Validate(); err != nil {
		return nil, errors.Wrapf(err, "scenario %q", config.Scenario.Name)
	}

	return config, nil
}
