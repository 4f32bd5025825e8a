// Copyright 2025 James Ross
package simclient

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeAdapter runs a tiny scripted server speaking the same newline-JSON
// protocol TraCIClient expects, standing in for the real TraCI-to-JSON
// adapter process during tests.
func fakeAdapter(t *testing.T, handle func(req wireRequest) wireResponse) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		w := bufio.NewWriter(conn)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				return
			}
			var req wireRequest
			if err := json.Unmarshal(line, &req); err != nil {
				return
			}
			resp := handle(req)
			data, _ := json.Marshal(resp)
			data = append(data, '\n')
			if _, err := w.Write(data); err != nil {
				return
			}
			w.Flush()
			if req.Cmd == "close" {
				return
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestTraCIClientStartStepVehiclesClose(t *testing.T) {
	tick := 0
	addr := fakeAdapter(t, func(req wireRequest) wireResponse {
		switch req.Cmd {
		case "start":
			return wireResponse{OK: true}
		case "step":
			tick++
			return wireResponse{OK: true, Tick: tick}
		case "vehicles":
			return wireResponse{OK: true, Vehicles: []wireVehicle{
				{ID: "v0", Type: "passenger", X: 1, Y: 2},
			}}
		case "close":
			return wireResponse{OK: true}
		default:
			return wireResponse{OK: false, Error: "unknown cmd"}
		}
	})

	c := NewTraCIClient(TraCIConfig{Addr: addr, DialTimeout: 2 * time.Second})
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, "scenario.sumocfg", false))

	n, err := c.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	vs, err := c.Vehicles(ctx)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	require.Equal(t, "v0", vs[0].ID)
	require.Equal(t, "passenger", vs[0].Type, "expected declared vehicle type to carry through")
	require.Equal(t, 1.0, vs[0].Position.X)
	require.Equal(t, 2.0, vs[0].Position.Y)

	require.NoError(t, c.Close(ctx))
}

func TestTraCIClientSurfacesProtocolErrorOnFailure(t *testing.T) {
	addr := fakeAdapter(t, func(req wireRequest) wireResponse {
		if req.Cmd == "start" {
			return wireResponse{OK: true}
		}
		return wireResponse{OK: false, Error: "simulator crashed"}
	})

	c := NewTraCIClient(TraCIConfig{Addr: addr})
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, "scenario.sumocfg", false))

	_, err := c.Step(ctx)
	require.True(t, IsSimulatorProtocolError(err), "expected SimulatorProtocolError")
}

func TestTraCIClientDialFailureIsProtocolError(t *testing.T) {
	c := NewTraCIClient(TraCIConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	err := c.Start(context.Background(), "scenario.sumocfg", false)
	require.True(t, IsSimulatorProtocolError(err), "expected SimulatorProtocolError on dial failure")
}

// Comment 3 regression: a call whose context deadline expires before the
// adapter responds must abort with a SimulatorProtocolError instead of
// blocking forever. The fake adapter here accepts the connection but never
// writes a response line.
func TestTraCIClientStepTimesOutOnHungAdapter(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		// Answer "start" so Start() succeeds, then go silent on every
		// subsequent request so Step's read blocks until its deadline.
		line, err := r.ReadBytes('\n')
		if err != nil {
			return
		}
		var req wireRequest
		json.Unmarshal(line, &req)
		resp := wireResponse{OK: true}
		data, _ := json.Marshal(resp)
		data = append(data, '\n')
		conn.Write(data)
		// Read and discard, but never reply, simulating a hung adapter.
		for {
			if _, err := r.ReadBytes('\n'); err != nil {
				return
			}
		}
	}()

	c := NewTraCIClient(TraCIConfig{Addr: ln.Addr().String(), DialTimeout: 2 * time.Second})
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, "scenario.sumocfg", false))

	stepCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Step(stepCtx)
	elapsed := time.Since(start)

	require.True(t, IsSimulatorProtocolError(err), "expected SimulatorProtocolError on timeout")
	require.Less(t, elapsed, 2*time.Second, "expected Step to abort at the context deadline, not block indefinitely")
}
