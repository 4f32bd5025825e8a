// Copyright 2025 James Ross
package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

// linearSnapshot is the on-disk shape of a trained linear policy: one
// weight row and bias per action, scored against the observation vector
// and resolved by argmax. This is the narrow, training-agnostic contract
// spec §4.5 calls for: the core reads the snapshot and calls Act, nothing else.
type linearSnapshot struct {
	ObservationLength int         `json:"observation_length"`
	MaxActions        int         `json:"max_actions"`
	Weights           [][]float64 `json:"weights"` // MaxActions x ObservationLength
	Bias              []float64   `json:"bias"`     // MaxActions
}

// LinearPolicy is a loaded linear-scoring Policy implementation.
type LinearPolicy struct {
	snapshot linearSnapshot
}

// LoadSnapshot reads and validates a policy snapshot file. A missing file
// or one whose observation_length disagrees with expectedObservationLength
// yields a PolicyLoadError with no fallback, per spec §4.5/§7.
func LoadSnapshot(path string, expectedObservationLength int) (*LinearPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewPolicyLoadError(path, err.Error())
	}
	var snap linearSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, NewPolicyLoadError(path, fmt.Sprintf("malformed snapshot: %v", err))
	}
	if snap.ObservationLength != expectedObservationLength {
		return nil, NewPolicyLoadError(path, fmt.Sprintf(
			"observation length mismatch: snapshot declares %d, junction requires %d",
			snap.ObservationLength, expectedObservationLength))
	}
	if snap.MaxActions <= 0 || len(snap.Weights) != snap.MaxActions || len(snap.Bias) != snap.MaxActions {
		return nil, NewPolicyLoadError(path, "weights/bias dimensions do not match declared max_actions")
	}
	for i, row := range snap.Weights {
		if len(row) != snap.ObservationLength {
			return nil, NewPolicyLoadError(path, fmt.Sprintf("weight row %d has wrong length", i))
		}
	}
	return &LinearPolicy{snapshot: snap}, nil
}

// Act scores the observation against every action's weight row and returns
// the argmax index, breaking ties toward the lowest index.
func (p *LinearPolicy) Act(observation []float64) (int, error) {
	if len(observation) != p.snapshot.ObservationLength {
		return 0, fmt.Errorf("observation length %d does not match snapshot's %d", len(observation), p.snapshot.ObservationLength)
	}
	best := 0
	bestScore := score(p.snapshot.Weights[0], p.snapshot.Bias[0], observation)
	for i := 1; i < p.snapshot.MaxActions; i++ {
		s := score(p.snapshot.Weights[i], p.snapshot.Bias[i], observation)
		if s > bestScore {
			bestScore = s
			best = i
		}
	}
	return best, nil
}

func score(weights []float64, bias float64, observation []float64) float64 {
	sum := bias
	for i, w := range weights {
		sum += w * observation[i]
	}
	return sum
}

var _ Policy = (*LinearPolicy)(nil)
