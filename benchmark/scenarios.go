package benchmark

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-verify/verifier"
)

// Scenario is one named set of evaluation parameters.
type Scenario struct {
	Name   string          `json:"name"   yaml:"name"`
	Params verifier.Params `json:"params" yaml:"params"`
}

// ScenarioBuilder helps build scenarios with a fluent API.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder starting from verifier.DefaultParams.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:   name,
			Params: verifier.DefaultParams(),
		},
	}
}

// WithThreshold sets the score cutoff.
func (sb *ScenarioBuilder) WithThreshold(th float32) *ScenarioBuilder {
	sb.scenario.Params.Threshold = th
	return sb
}

// WithOverlap sets the IoU needed for a match.
func (sb *ScenarioBuilder) WithOverlap(overwrapTh float64) *ScenarioBuilder {
	sb.scenario.Params.OverwrapTh = overwrapTh
	return sb
}

// WithGrouping sets the grouping threshold and tolerance.
func (sb *ScenarioBuilder) WithGrouping(groupTh int, eps float64) *ScenarioBuilder {
	sb.scenario.Params.GroupTh = groupTh
	sb.scenario.Params.Eps = eps
	return sb
}

// WithNormalization reshapes every compared rectangle.
func (sb *ScenarioBuilder) WithNormalization(heightToWidthRatio, heightRatio float32) *ScenarioBuilder {
	sb.scenario.Params.Normalization = &verifier.Normalization{
		HeightToWidthRatio: heightToWidthRatio,
		HeightRatio:        heightRatio,
	}
	return sb
}

// WithMissPolicy sets how unmatched ground truth is counted.
func (sb *ScenarioBuilder) WithMissPolicy(policy verifier.MissPolicy) *ScenarioBuilder {
	sb.scenario.Params.MissPolicy = policy
	return sb
}

// Build returns the configured scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	s := sb.scenario
	if s.Params.Normalization != nil {
		n := *s.Params.Normalization
		s.Params.Normalization = &n
	}
	return s
}

// ScenarioSet is a collection of related scenarios.
type ScenarioSet struct {
	Name        string     `json:"name"        yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Scenarios   []Scenario `json:"scenarios"   yaml:"scenarios"`
}

// ThresholdSweep derives one scenario per threshold from base, keeping every
// other parameter. Sweeping the threshold traces the detector's
// precision/recall curve.
//
// Arguments:
//   - base: The scenario to copy.
//   - thresholds: The score cutoffs, in the order the scenarios are wanted.
//
// Returns:
//   - *ScenarioSet: One scenario per threshold, named "<base>_th<threshold>".
func ThresholdSweep(base Scenario, thresholds []float32) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(thresholds))
	for _, th := range thresholds {
		s := base
		s.Name = fmt.Sprintf("%s_th%g", base.Name, th)
		s.Params.Threshold = th
		if base.Params.Normalization != nil {
			n := *base.Params.Normalization
			s.Params.Normalization = &n
		}
		scenarios = append(scenarios, s)
	}

	return &ScenarioSet{
		Name:        fmt.Sprintf("Threshold sweep - %s", base.Name),
		Description: fmt.Sprintf("Evaluates %s at %d score thresholds", base.Name, len(thresholds)),
		Scenarios:   scenarios,
	}
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// marshalFile encodes v as YAML or indented JSON depending on the file extension.
func marshalFile(filename string, v any) ([]byte, error) {
	if isYAML(filename) {
		return yaml.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}

// unmarshalFile decodes JSON or YAML. JSON is decoded by the YAML parser too.
func unmarshalFile(filename string, v any) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "reading %s", filename)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "parsing %s", filename)
	}
	return nil
}

// SaveScenarioSet saves a scenario set as JSON, or YAML for .yaml/.yml files.
func SaveScenarioSet(scenarioSet *ScenarioSet, filename string) error {
	data, err := marshalFile(filename, scenarioSet)
	if err != nil {
		return errors.Wrap(err, "failed to marshal scenario set")
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write scenario file")
	}

	return nil
}

// LoadScenarioSet loads a scenario set from a JSON or YAML file.
//
// Every scenario is validated so a bad file fails before any evaluation starts.
func LoadScenarioSet(filename string) (*ScenarioSet, error) {
	var scenarioSet ScenarioSet
	if err := unmarshalFile(filename, &scenarioSet); err != nil {
		return nil, errors.Wrap(err, "failed to load scenario set")
	}

	for _, s := range scenarioSet.Scenarios {
		if err := s.Params.Validate(); err != nil {
			return nil, errors.Wrapf(err, "scenario %q", s.Name)
		}
	}

	return &scenarioSet, nil
}
