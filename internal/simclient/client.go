// Copyright 2025 James Ross
// Package simclient is the typed wrapper over the external microsimulator
// (C1 in the component table). Every other component depends on it through
// the Client interface; nothing outside this package talks to the
// simulator process directly.
//
// Grounded on the teacher's internal/redisclient shape: a thin interface
// with one production implementation and one in-memory double, so the
// tick loop and its tests never depend on a live backend.
package simclient

import (
	"context"
	"time"

	"github.com/flyingrobots/vanet-signal-bridge/internal/vanet"
)

// TrafficLight is the per-tick snapshot of one junction's signal program as
// reported by the simulator, independent of the controller's own bookkeeping.
type TrafficLight struct {
	ID                string
	Phases            []vanet.PhaseState
	CurrentPhaseIndex int
	TimeInPhase       float64
}

// Client is the synchronous, non-thread-safe contract every simulator
// backend must satisfy. Per spec §5 it is touched only by the tick loop.
type Client interface {
	// Start opens a session against the given scenario configuration.
	Start(ctx context.Context, configPath string, gui bool) error
	// Step advances the simulator by one tick and returns the new tick number.
	Step(ctx context.Context) (int, error)
	// Vehicles returns the active vehicle population for the current tick.
	Vehicles(ctx context.Context) ([]vanet.Vehicle, error)
	// TrafficLights returns every junction's current signal program state.
	TrafficLights(ctx context.Context) ([]TrafficLight, error)
	// LaneVehicleCount returns the number of vehicles present on a lane.
	LaneVehicleCount(ctx context.Context, laneID string) (int, error)
	// LaneHaltingCount returns the number of halted (near-zero speed) vehicles on a lane.
	LaneHaltingCount(ctx context.Context, laneID string) (int, error)
	// SetPhase requests the traffic light switch to the given phase index.
	SetPhase(ctx context.Context, tlID string, index int) error
	// SetPhaseDuration advises the traffic light of the expected remaining hold time.
	SetPhaseDuration(ctx context.Context, tlID string, seconds float64) error
	// Close releases the session, idempotently.
	Close(ctx context.Context) error
}

// DefaultStepTimeout bounds a single Step call per spec §5's cancellation model.
// Callers should derive a context with this timeout before invoking Step.
const DefaultStepTimeout = 30 * time.Second
