// Copyright 2025 James Ross
package simclient

import (
	"context"

	"github.com/flyingrobots/vanet-signal-bridge/internal/breaker"
)

// GuardedClient wraps a Client with a sliding-window circuit breaker so a
// run of SimulatorProtocol failures trips the breaker instead of letting
// the tick loop hammer a dead simulator process with repeated Step calls.
// Step is the only gated operation: it is the sole blocking external call
// per tick (spec §5), so it is where a dead process first surfaces.
type GuardedClient struct {
	Client
	cb *breaker.CircuitBreaker
}

// NewGuardedClient wraps inner with the given, already configured circuit
// breaker.
func NewGuardedClient(inner Client, cb *breaker.CircuitBreaker) *GuardedClient {
	return &GuardedClient{Client: inner, cb: cb}
}

func (g *GuardedClient) Step(ctx context.Context) (int, error) {
	if !g.cb.Allow() {
		return 0, NewSimulatorProtocolError("step", "circuit breaker open", nil)
	}
	tick, err := g.Client.Step(ctx)
	g.cb.Record(err == nil)
	return tick, err
}

var _ Client = (*GuardedClient)(nil)
