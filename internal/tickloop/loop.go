// Copyright 2025 James Ross
// Package tickloop is the top-level tick-driven driver (C7): a single
// sequential loop with no background goroutines in the core, per spec §5.
//
// Grounded on the teacher's cmd/job-queue-system/main.go signal-handling
// shape (context cancellation on SIGINT/SIGTERM, force-exit on a second
// signal) generalized from a multi-worker server loop to this
// single-threaded, tick-driven simulation loop.
package tickloop

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/flyingrobots/vanet-signal-bridge/internal/bridge"
	"github.com/flyingrobots/vanet-signal-bridge/internal/config"
	"github.com/flyingrobots/vanet-signal-bridge/internal/emergency"
	"github.com/flyingrobots/vanet-signal-bridge/internal/metrics"
	"github.com/flyingrobots/vanet-signal-bridge/internal/obs"
	"github.com/flyingrobots/vanet-signal-bridge/internal/policy"
	"github.com/flyingrobots/vanet-signal-bridge/internal/signal"
	"github.com/flyingrobots/vanet-signal-bridge/internal/simclient"
	"github.com/flyingrobots/vanet-signal-bridge/internal/topology"
	"github.com/flyingrobots/vanet-signal-bridge/internal/vanet"
)

// Loop owns every component for the duration of a run and drives them
// through the sequence in spec §4.4. Not safe for concurrent use; it is
// the sole owner of the simulator client per spec §5.
type Loop struct {
	cfg        *config.Config
	client     simclient.Client
	catalog    *topology.Catalog
	coord      *emergency.Coordinator
	controller *signal.Controller
	bridge     *bridge.Bridge
	acc        *metrics.Accumulator
	pol        policy.Policy
	logger     *zap.Logger

	stopRequested bool
}

// New builds a Loop from its fully-constructed dependencies. The caller
// (cmd/vanet-sim) is responsible for config loading, catalog loading, and
// component construction; Loop only sequences them.
func New(
	cfg *config.Config,
	client simclient.Client,
	catalog *topology.Catalog,
	coord *emergency.Coordinator,
	controller *signal.Controller,
	br *bridge.Bridge,
	acc *metrics.Accumulator,
	pol policy.Policy,
	logger *zap.Logger,
) *Loop {
	return &Loop{
		cfg: cfg, client: client, catalog: catalog, coord: coord,
		controller: controller, bridge: br, acc: acc, pol: pol, logger: logger,
	}
}

// RequestStop sets the external stop flag consulted at the end of every
// tick (spec §5's cancellation model); typically wired to a signal handler.
func (l *Loop) RequestStop() {
	l.stopRequested = true
}

// Run executes the sequential tick loop until a stop condition is reached,
// per spec §4.4. It returns an error for SimulatorProtocol failures, or when
// closing the simulator client fails during shutdown; a cancelled context or
// a stop request takes the graceful shutdown path. Per-entity faults are
// handled internally and reflected in the metrics summary.
func (l *Loop) Run(ctx context.Context) error {
	for _, j := range l.catalog.Junctions() {
		l.logger.Info("observation length", obs.String("junction", j.ID), obs.Int("length", policy.ObservationLength(len(j.Phases))))
	}
	tick := 0
	for {
		if ctx.Err() != nil {
			return l.gracefulShutdown(tick)
		}
		if l.stopRequested {
			return l.gracefulShutdown(tick)
		}
		if l.cfg.MaxTicks > 0 && tick >= l.cfg.MaxTicks {
			return l.gracefulShutdown(tick)
		}

		stepCtx, cancel := context.WithTimeout(ctx, l.cfg.StepTimeout)
		newTick, err := l.client.Step(stepCtx)
		cancel()
		if err != nil {
			l.logger.Error("simulator protocol failure, aborting", obs.Err(err))
			l.fatalShutdown(tick)
			return err
		}
		tick = newTick

		tickCtx, span := obs.StartTickSpan(ctx, tick)

		vehicles, err := l.client.Vehicles(tickCtx)
		if err != nil {
			l.logger.Error("simulator protocol failure pulling vehicles", obs.Err(err))
			span.End()
			l.fatalShutdown(tick)
			return err
		}
		for i := range vehicles {
			vehicles[i].Kind = vanet.ClassifyVehicle(vehicles[i].ID, vehicles[i].Type, l.cfg.Emergency.Substrings)
		}

		lights, err := l.client.TrafficLights(tickCtx)
		if err != nil {
			l.logger.Error("simulator protocol failure pulling traffic lights", obs.Err(err))
			span.End()
			l.fatalShutdown(tick)
			return err
		}
		l.syncJunctionsFromSimulator(lights)

		var emergencyVehicles []vanet.Vehicle
		for _, v := range vehicles {
			if v.Kind == vanet.Emergency {
				emergencyVehicles = append(emergencyVehicles, v)
			}
		}
		decisions := l.coord.Update(tick, emergencyVehicles)

		for _, j := range l.catalog.Junctions() {
			l.applyJunction(tickCtx, tick, j, decisions[j.ID])
		}

		rsus := l.catalog.RSUs()
		_, bridgeSpan := obs.StartBridgeSpan(tickCtx, tick, len(vehicles), len(rsus))
		packets := l.bridge.Step(tick, vehicles, rsus)
		bridgeSpan.End()
		kindByID := map[string]vanet.VehicleKind{}
		for _, v := range vehicles {
			kindByID[v.ID] = v.Kind
		}
		for _, p := range packets {
			if err := l.acc.RecordPacket(p, kindByID[p.TxID]); err != nil {
				l.logger.Warn("metrics io failure recording packet", obs.Err(err))
			}
		}
		l.acc.ObserveVehicles(vehicles)

		if _, err := l.acc.MaybeFlushEpoch(tick); err != nil {
			l.logger.Warn("metrics io failure flushing epoch", obs.Err(err))
		}

		obs.SetSpanSuccess(tickCtx)
		span.End()
	}
}

// syncJunctionsFromSimulator refreshes current_phase_index/time_in_phase
// from the simulator's authoritative report before this tick's decision
// pass, since setPhase/setPhaseDuration calls are advisory (spec §4.1).
func (l *Loop) syncJunctionsFromSimulator(lights []simclient.TrafficLight) {
	for _, tl := range lights {
		j, ok := l.catalog.Junction(tl.ID)
		if !ok {
			continue
		}
		j.CurrentPhaseIndex = tl.CurrentPhaseIndex
		j.TimeInPhase = tl.TimeInPhase
	}
}

func (l *Loop) applyJunction(ctx context.Context, tick int, j *vanet.Junction, decision emergency.Decision) {
	if l.controller.IsFaulted(j.ID) {
		return
	}
	ctx, span := obs.StartSignalSpan(ctx, j.ID)
	defer span.End()

	laneCounts := l.laneCounts(ctx, j)

	if decision.Mode == vanet.ModeDensityCtl && l.cfg.Mode == config.ModeRL {
		decision.Mode = vanet.ModeRLCtl
	}

	var action signal.Action
	switch decision.Mode {
	case vanet.ModePreemptCtl:
		j.Runtime.Mode = vanet.ModePreemptCtl
		j.Runtime.PreemptVehicle = decision.PreemptVehicle
		j.Runtime.PreemptDeadline = decision.PreemptDeadline
		action = l.controller.DecidePreempt(j, decision, float64(decision.PreemptDeadline-tick))
	case vanet.ModeRLCtl:
		j.Runtime.Mode = vanet.ModeRLCtl
		if l.pol == nil {
			action = l.controller.Decide(j, laneCounts)
			break
		}
		observation := l.buildObservation(j, laneCounts, emergencyFeatures(decision))
		a, err := l.controller.DecideRL(j, l.pol, observation)
		if err != nil {
			l.logger.Warn("policy action failed, falling back to density rule", obs.String("junction", j.ID), obs.Err(err))
			action = l.controller.Decide(j, laneCounts)
		} else {
			action = a
		}
	default:
		j.Runtime.Mode = vanet.ModeDensityCtl
		action = l.controller.Decide(j, laneCounts)
	}

	if action.TargetPhaseIdx != j.CurrentPhaseIndex {
		if err := l.client.SetPhase(ctx, j.ID, action.TargetPhaseIdx); err != nil {
			l.logger.Warn("phase size mismatch, marking junction faulted", obs.String("junction", j.ID), obs.Err(err))
			l.controller.MarkFaulted(j.ID)
			l.acc.RecordFault(j.ID)
			return
		}
		j.CurrentPhaseIndex = action.TargetPhaseIdx
		j.TimeInPhase = 0
	}
	if err := l.client.SetPhaseDuration(ctx, j.ID, action.PhaseDurationS); err != nil {
		l.logger.Warn("set phase duration failed", obs.String("junction", j.ID), obs.Err(err))
	}
}

func (l *Loop) laneCounts(ctx context.Context, j *vanet.Junction) map[int]signal.LaneCount {
	counts := map[int]signal.LaneCount{}
	for i := 0; i < len(j.Phases[0]); i++ {
		lane := l.catalog.SignalLaneID(j.ID, i)
		if lane == "" {
			continue
		}
		vcount, _ := l.client.LaneVehicleCount(ctx, lane)
		hcount, _ := l.client.LaneHaltingCount(ctx, lane)
		counts[i] = signal.LaneCount{VehicleCount: vcount, HaltingCount: hcount}
	}
	return counts
}

func (l *Loop) buildObservation(j *vanet.Junction, laneCounts map[int]signal.LaneCount, emFeatures [4]policy.EmergencyFeature) []float64 {
	var laneStates [4]policy.LaneState
	directions := []vanet.Direction{vanet.North, vanet.South, vanet.East, vanet.West}
	for idx, dir := range directions {
		for sigIdx := 0; sigIdx < len(j.Phases[0]); sigIdx++ {
			if l.catalog.DirectionForSignal(j.ID, sigIdx) != dir {
				continue
			}
			c := laneCounts[sigIdx]
			laneStates[idx].QueueLength += c.VehicleCount
			laneStates[idx].Halting += c.HaltingCount
			laneStates[idx].Density += float64(c.VehicleCount) + 0.5*float64(c.HaltingCount)
		}
	}
	return policy.Observe(
		laneStates, l.cfg.Signal.MaxGreen.Seconds()*10, j.CurrentPhaseIndex, len(j.Phases),
		j.TimeInPhase, l.cfg.Signal.MaxGreen.Seconds(), emFeatures, l.cfg.Emergency.ProximityThresholdM,
	)
}

// emergencyFeatures gives the observation vector a coarse signal that some
// cardinal has an active preemption claim; the Decision type does not carry
// a per-direction breakdown, so every RL-mode junction under an active
// preempt sees the same flag on its first cardinal slot.
func emergencyFeatures(decision emergency.Decision) [4]policy.EmergencyFeature {
	var out [4]policy.EmergencyFeature
	if decision.Mode == vanet.ModePreemptCtl {
		out[0] = policy.EmergencyFeature{Approaching: true}
	}
	return out
}

func (l *Loop) gracefulShutdown(tick int) error {
	l.logger.Info("graceful shutdown", obs.Int("tick", tick))
	if err := l.acc.Flush(); err != nil {
		l.logger.Warn("metrics flush failed during shutdown", obs.Err(err))
	}
	summary := l.acc.BuildSummary(l.cfg.Seed, string(l.cfg.Mode), 1200, l.cfg.RunID)
	if err := metrics.WriteSummary(l.cfg.Metrics.SummaryJSON, summary); err != nil {
		l.logger.Warn("summary write failed", obs.Err(err))
	}
	if err := l.acc.Close(); err != nil {
		l.logger.Warn("metrics close failed", obs.Err(err))
	}
	if err := l.client.Close(context.Background()); err != nil {
		return fmt.Errorf("closing simulator client: %w", err)
	}
	return nil
}

func (l *Loop) fatalShutdown(tick int) {
	l.logger.Error("fatal shutdown", obs.Int("tick", tick))
	l.acc.Flush()
	summary := l.acc.BuildSummary(l.cfg.Seed, string(l.cfg.Mode), 1200, l.cfg.RunID)
	metrics.WriteSummary(l.cfg.Metrics.SummaryJSON, summary)
	l.acc.Close()
	l.client.Close(context.Background())
}
