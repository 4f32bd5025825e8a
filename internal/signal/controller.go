// Copyright 2025 James Ross
// Package signal is the adaptive signal controller (C5): a per-junction
// density/queue scheduler overlaid by the emergency coordinator's
// preemption decisions and, in RL modes, by a pluggable Policy.
//
// Grounded on the teacher's internal/worker package shape: a per-entity
// bookkeeping loop (here, per junction) that isolates failures so one
// faulted entity never stops its siblings, with phase timers playing the
// role the worker's per-job retry counters play there.
package signal

import (
	"time"

	"github.com/flyingrobots/vanet-signal-bridge/internal/emergency"
	"github.com/flyingrobots/vanet-signal-bridge/internal/policy"
	"github.com/flyingrobots/vanet-signal-bridge/internal/topology"
	"github.com/flyingrobots/vanet-signal-bridge/internal/vanet"
)

// Config bundles the controller's timing and density tunables (spec §4.1).
type Config struct {
	MinGreen      time.Duration
	MaxGreen      time.Duration
	Yellow        time.Duration
	ExtensionStep time.Duration
	DensityLow    float64
	DensityHigh   float64
}

// ActionKind is the controller's per-tick output kind.
type ActionKind int

const (
	ActionHold ActionKind = iota
	ActionAdvance
	ActionExtend
)

// Action is the concrete command to issue to C1 for one junction this tick.
type Action struct {
	Kind           ActionKind
	TargetPhaseIdx int
	PhaseDurationS float64
}

// LaneCount is the per-signal vehicle/halting count pulled from C1.
type LaneCount struct {
	VehicleCount int
	HaltingCount int
}

// Controller decides the next action for a junction each tick and records
// which junctions are Faulted. It holds no phase bookkeeping of its own:
// current_phase_index and time_in_phase live on vanet.Junction, and the tick
// loop refreshes and updates them.
type Controller struct {
	cfg     Config
	catalog *topology.Catalog
	faulted map[string]bool
}

// NewController returns a Controller for the given catalog. The
// phase-size guard from spec §4.1 is already enforced by the catalog at
// load time (invariant J1: one fixed phase-string length per junction);
// a runtime setPhase rejection is still handled per-junction via
// MarkFaulted, since the simulator's live program can diverge from the
// catalog's declared phases.
func NewController(cfg Config, catalog *topology.Catalog) (*Controller, error) {
	return &Controller{cfg: cfg, catalog: catalog, faulted: map[string]bool{}}, nil
}

// IsFaulted reports whether a junction has been marked Faulted after a
// rejected setPhase call.
func (c *Controller) IsFaulted(jID string) bool {
	return c.faulted[jID]
}

// MarkFaulted records a junction as Faulted per spec §7's PhaseSizeMismatch
// handling: logged once, skipped thereafter, other junctions unaffected.
func (c *Controller) MarkFaulted(jID string) {
	c.faulted[jID] = true
}

// densityMetric computes spec §4.1's green-density metric for the current
// phase: mean over green signal positions of (count + 0.5*halting).
func densityMetric(phase vanet.PhaseState, laneCounts map[int]LaneCount) float64 {
	sum := 0.0
	n := 0
	for i := 0; i < len(phase); i++ {
		if !phase.GreenAt(i) {
			continue
		}
		lc := laneCounts[i]
		sum += float64(lc.VehicleCount) + 0.5*float64(lc.HaltingCount)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Decide applies the density decision rule (spec §4.1 step 1-2) for one
// junction currently in Density mode. The Preempt and RL overlays are
// DecidePreempt and DecideRL; the tick loop picks one of the three from the
// junction's runtime mode.
func (c *Controller) Decide(j *vanet.Junction, laneCounts map[int]LaneCount) Action {
	current := j.Phases[j.CurrentPhaseIndex]
	minGreenS := c.cfg.MinGreen.Seconds()
	maxGreenS := c.cfg.MaxGreen.Seconds()
	yellowS := c.cfg.Yellow.Seconds()

	if current.IsYellow() {
		if j.TimeInPhase >= yellowS {
			next := nextIndex(j.CurrentPhaseIndex, len(j.Phases))
			return Action{Kind: ActionAdvance, TargetPhaseIdx: next, PhaseDurationS: minGreenS}
		}
		return Action{Kind: ActionHold, TargetPhaseIdx: j.CurrentPhaseIndex, PhaseDurationS: yellowS - j.TimeInPhase}
	}

	if j.TimeInPhase < minGreenS {
		return Action{Kind: ActionHold, TargetPhaseIdx: j.CurrentPhaseIndex, PhaseDurationS: minGreenS - j.TimeInPhase}
	}

	d := densityMetric(current, laneCounts)
	switch {
	case d >= c.cfg.DensityHigh && j.TimeInPhase < maxGreenS:
		return Action{Kind: ActionExtend, TargetPhaseIdx: j.CurrentPhaseIndex, PhaseDurationS: c.cfg.ExtensionStep.Seconds()}
	case d <= c.cfg.DensityLow:
		next := nextIndex(j.CurrentPhaseIndex, len(j.Phases))
		return Action{Kind: ActionAdvance, TargetPhaseIdx: next, PhaseDurationS: yellowS}
	default:
		low, high := c.cfg.DensityLow, c.cfg.DensityHigh
		target := minGreenS
		if high > low {
			target = minGreenS + (d-low)/(high-low)*(maxGreenS-minGreenS)
		}
		if target > maxGreenS {
			target = maxGreenS
		}
		if j.TimeInPhase >= target {
			next := nextIndex(j.CurrentPhaseIndex, len(j.Phases))
			return Action{Kind: ActionAdvance, TargetPhaseIdx: next, PhaseDurationS: yellowS}
		}
		return Action{Kind: ActionHold, TargetPhaseIdx: j.CurrentPhaseIndex, PhaseDurationS: target - j.TimeInPhase}
	}
}

// DecidePreempt implements the preempt-mode overlay (spec §4.1): reissue
// the same target phase and duration every tick until released. Re-setting
// the same phase is idempotent and must not reset time_in_phase (R2); the
// tick loop is responsible for not resetting TimeInPhase when the target
// equals the current phase.
func (c *Controller) DecidePreempt(j *vanet.Junction, d emergency.Decision, preemptDurationS float64) Action {
	return Action{Kind: ActionAdvance, TargetPhaseIdx: d.TargetPhaseIdx, PhaseDurationS: preemptDurationS}
}

// DecideRL implements the RL-mode overlay (spec §4.1): query the Policy
// with the junction's observation and map its action to a bounds-safe
// phase index via MapAction.
func (c *Controller) DecideRL(j *vanet.Junction, p policy.Policy, observation []float64) (Action, error) {
	action, err := p.Act(observation)
	if err != nil {
		return Action{}, err
	}
	idx := policy.MapAction(action, len(j.Phases))
	return Action{Kind: ActionAdvance, TargetPhaseIdx: idx, PhaseDurationS: c.cfg.MinGreen.Seconds()}, nil
}

func nextIndex(current, length int) int {
	if length == 0 {
		return 0
	}
	return (current + 1) % length
}
