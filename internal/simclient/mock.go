// Copyright 2025 James Ross
package simclient

import (
	"context"
	"fmt"
	"sort"

	"github.com/flyingrobots/vanet-signal-bridge/internal/vanet"
)

// MockClient is an in-memory Client double driven entirely by scripted
// per-tick snapshots, used by tests and by the tick loop's own test suite
// in place of a live SUMO/TraCI process.
type MockClient struct {
	started bool
	closed  bool
	tick    int

	// Ticks is consulted in order; each Step call advances to the next entry.
	Ticks []TickFixture

	lights map[string]TrafficLight

	// SetPhaseRejects, when non-nil, returns this error from SetPhase for the
	// named traffic light id — used to exercise PhaseSizeMismatch handling.
	SetPhaseRejects map[string]error
}

// TickFixture is one scripted tick's vehicle and traffic-light state.
type TickFixture struct {
	Vehicles []vanet.Vehicle
	Lights   []TrafficLight
	// LaneCounts maps lane id to (vehicle count, halting count).
	LaneCounts map[string][2]int
}

// NewMockClient builds a MockClient that will play back the given fixtures
// in order, one per Step call.
func NewMockClient(ticks []TickFixture) *MockClient {
	return &MockClient{Ticks: ticks, lights: map[string]TrafficLight{}}
}

func (m *MockClient) Start(ctx context.Context, configPath string, gui bool) error {
	m.started = true
	m.tick = 0
	if len(m.Ticks) > 0 {
		for _, l := range m.Ticks[0].Lights {
			m.lights[l.ID] = l
		}
	}
	return nil
}

func (m *MockClient) Step(ctx context.Context) (int, error) {
	if !m.started {
		return 0, NewSimulatorProtocolError("step", "session not started", nil)
	}
	if m.tick >= len(m.Ticks) {
		return 0, NewSimulatorProtocolError("step", "no more scripted ticks", nil)
	}
	for _, l := range m.Ticks[m.tick].Lights {
		m.lights[l.ID] = l
	}
	m.tick++
	return m.tick, nil
}

func (m *MockClient) current() TickFixture {
	idx := m.tick - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(m.Ticks) {
		return TickFixture{}
	}
	return m.Ticks[idx]
}

func (m *MockClient) Vehicles(ctx context.Context) ([]vanet.Vehicle, error) {
	return m.current().Vehicles, nil
}

func (m *MockClient) TrafficLights(ctx context.Context) ([]TrafficLight, error) {
	out := make([]TrafficLight, 0, len(m.lights))
	for _, l := range m.lights {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockClient) LaneVehicleCount(ctx context.Context, laneID string) (int, error) {
	c, ok := m.current().LaneCounts[laneID]
	if !ok {
		return 0, nil
	}
	return c[0], nil
}

func (m *MockClient) LaneHaltingCount(ctx context.Context, laneID string) (int, error) {
	c, ok := m.current().LaneCounts[laneID]
	if !ok {
		return 0, nil
	}
	return c[1], nil
}

func (m *MockClient) SetPhase(ctx context.Context, tlID string, index int) error {
	if err, ok := m.SetPhaseRejects[tlID]; ok && err != nil {
		return err
	}
	l, ok := m.lights[tlID]
	if !ok {
		return fmt.Errorf("unknown traffic light %q", tlID)
	}
	if index < 0 || index >= len(l.Phases) {
		return fmt.Errorf("phase index %d out of range for %q", index, tlID)
	}
	l.CurrentPhaseIndex = index
	l.TimeInPhase = 0
	m.lights[tlID] = l
	return nil
}

func (m *MockClient) SetPhaseDuration(ctx context.Context, tlID string, seconds float64) error {
	if _, ok := m.lights[tlID]; !ok {
		return fmt.Errorf("unknown traffic light %q", tlID)
	}
	return nil
}

func (m *MockClient) Close(ctx context.Context) error {
	m.closed = true
	return nil
}
