// Copyright 2025 James Ross
package simclient

import (
	"context"

	"github.com/flyingrobots/vanet-signal-bridge/internal/vanet"
)

// FaultyClient wraps a Client and injects a scripted failure into a chosen
// operation on a chosen call count, for exercising the tick loop's
// SimulatorProtocol handling without a real simulator misbehaving.
//
// Grounded on the fault-injection shape of the teacher's chaos harness:
// a decorator keyed by operation name with a trigger count, rather than a
// standalone fault-injecting process.
type FaultyClient struct {
	Client
	FailOp    string
	FailAfter int
	FailWith  error

	calls int
}

// NewFaultyClient wraps inner so that every call to the named operation,
// from the afterCalls-th (1-indexed) onward, returns err instead of
// delegating.
func NewFaultyClient(inner Client, op string, afterCalls int, err error) *FaultyClient {
	return &FaultyClient{Client: inner, FailOp: op, FailAfter: afterCalls, FailWith: err}
}

func (f *FaultyClient) shouldFail(op string) bool {
	if op != f.FailOp {
		return false
	}
	f.calls++
	return f.calls >= f.FailAfter
}

func (f *FaultyClient) Step(ctx context.Context) (int, error) {
	if f.shouldFail("step") {
		return 0, f.FailWith
	}
	return f.Client.Step(ctx)
}

func (f *FaultyClient) Vehicles(ctx context.Context) ([]vanet.Vehicle, error) {
	if f.shouldFail("vehicles") {
		return nil, f.FailWith
	}
	return f.Client.Vehicles(ctx)
}

func (f *FaultyClient) TrafficLights(ctx context.Context) ([]TrafficLight, error) {
	if f.shouldFail("traffic_lights") {
		return nil, f.FailWith
	}
	return f.Client.TrafficLights(ctx)
}

func (f *FaultyClient) SetPhase(ctx context.Context, tlID string, index int) error {
	if f.shouldFail("set_phase") {
		return f.FailWith
	}
	return f.Client.SetPhase(ctx, tlID, index)
}
