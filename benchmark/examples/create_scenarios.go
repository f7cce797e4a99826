package main

import (
	"fmt"
	"log"

	"github.com/nvr-ai/go-verify/benchmark"
	"github.com/nvr-ai/go-verify/verifier"
)

// Example program to create and save evaluation scenarios
func main() {
	base := benchmark.NewScenarioBuilder("pedestrian").
		WithOverlap(0.5).
		WithGrouping(2, 0.2).
		Build()

	// Precision/recall curve over the score cutoff
	sweep := benchmark.ThresholdSweep(base, []float32{-1, -0.5, 0, 0.5, 1, 1.5, 2})
	if err := benchmark.SaveScenarioSet(sweep, "sweep_scenarios.yaml"); err != nil {
		log.Fatalf("Failed to save sweep scenarios: %v", err)
	}
	fmt.Printf("Saved %d sweep scenarios\n", len(sweep.Scenarios))

	// Same detector output, scored with and without the ambiguous labels
	strict := benchmark.NewScenarioBuilder("pedestrian_strict").
		WithOverlap(0.5).
		WithGrouping(2, 0.2).
		WithMissPolicy(verifier.MissAll).
		Build()
	normalized := benchmark.NewScenarioBuilder("pedestrian_normalized").
		WithOverlap(0.5).
		WithGrouping(2, 0.2).
		WithNormalization(2, 0.9).
		Build()

	customSet := &benchmark.ScenarioSet{
		Name:        "Miss policy and normalization",
		Description: "Compares the default scoring against strict misses and normalized boxes",
		Scenarios:   []benchmark.Scenario{base, strict, normalized},
	}
	if err := benchmark.SaveScenarioSet(customSet, "custom_scenarios.json"); err != nil {
		log.Fatalf("Failed to save custom scenarios: %v", err)
	}
	fmt.Printf("Saved %d custom scenarios\n", len(customSet.Scenarios))

	fmt.Println("All scenario files created successfully!")
}
