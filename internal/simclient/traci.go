// Copyright 2025 James Ross
package simclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/flyingrobots/vanet-signal-bridge/internal/vanet"
)

// TraCIConfig bundles the connection settings for the production Client
// implementation, a thin wrapper over a TraCI-speaking SUMO adapter process
// reachable over TCP. The adapter owns the real TraCI binary protocol; this
// client only exchanges newline-delimited JSON request/response frames with
// it, the way redisclient leaves the Redis wire protocol to go-redis and
// only supplies the dial options.
type TraCIConfig struct {
	Addr        string
	DialTimeout time.Duration
}

// TraCIClient is the production simclient.Client implementation.
type TraCIClient struct {
	cfg  TraCIConfig
	conn net.Conn
	rw   *bufio.ReadWriter
}

// NewTraCIClient builds a TraCIClient. Dial happens in Start, not here, so
// construction never blocks or fails.
func NewTraCIClient(cfg TraCIConfig) *TraCIClient {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &TraCIClient{cfg: cfg}
}

type wireRequest struct {
	Cmd        string `json:"cmd"`
	ConfigPath string `json:"config_path,omitempty"`
	GUI        bool   `json:"gui,omitempty"`
	LaneID     string `json:"lane_id,omitempty"`
	TLID       string `json:"tl_id,omitempty"`
	Index      int    `json:"index,omitempty"`
	Seconds    float64 `json:"seconds,omitempty"`
}

type wireResponse struct {
	OK      bool               `json:"ok"`
	Error   string             `json:"error,omitempty"`
	Tick    int                `json:"tick,omitempty"`
	Count   int                `json:"count,omitempty"`
	Vehicles []wireVehicle     `json:"vehicles,omitempty"`
	Lights   []wireTrafficLight `json:"lights,omitempty"`
}

type wireVehicle struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Speed    float64 `json:"speed"`
	Heading  float64 `json:"heading"`
	LaneID   string  `json:"lane_id"`
	EdgeID   string  `json:"edge_id"`
	Route    []string `json:"route"`
}

type wireTrafficLight struct {
	ID                string `json:"id"`
	Phases            []string `json:"phases"`
	CurrentPhaseIndex int    `json:"current_phase_index"`
	TimeInPhase       float64 `json:"time_in_phase"`
}

var _ Client = (*TraCIClient)(nil)

// Start dials the adapter process and requests a scenario load.
func (t *TraCIClient) Start(ctx context.Context, configPath string, gui bool) error {
	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return NewSimulatorProtocolError("start", "dial failed", err)
	}
	t.conn = conn
	t.rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	resp, err := t.call(ctx, wireRequest{Cmd: "start", ConfigPath: configPath, GUI: gui})
	if err != nil {
		return err
	}
	if !resp.OK {
		return NewSimulatorProtocolError("start", resp.Error, nil)
	}
	return nil
}

func (t *TraCIClient) Step(ctx context.Context) (int, error) {
	resp, err := t.call(ctx, wireRequest{Cmd: "step"})
	if err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, NewSimulatorProtocolError("step", resp.Error, nil)
	}
	return resp.Tick, nil
}

func (t *TraCIClient) Vehicles(ctx context.Context) ([]vanet.Vehicle, error) {
	resp, err := t.call(ctx, wireRequest{Cmd: "vehicles"})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, NewSimulatorProtocolError("vehicles", resp.Error, nil)
	}
	// Kind is left at its zero value (Normal): the tick loop is the
	// authoritative classifier since it alone knows the configured
	// emergency substrings (see vanet.ClassifyVehicle call in tickloop).
	// Type carries the declared simulator vehicle type through unparsed so
	// the tick loop can match it against those substrings too.
	out := make([]vanet.Vehicle, 0, len(resp.Vehicles))
	for _, wv := range resp.Vehicles {
		out = append(out, vanet.Vehicle{
			ID:       wv.ID,
			Type:     wv.Type,
			Position: vanet.Position{X: wv.X, Y: wv.Y},
			Speed:    wv.Speed,
			Heading:  wv.Heading,
			LaneID:   wv.LaneID,
			EdgeID:   wv.EdgeID,
			Route:    wv.Route,
		})
	}
	return out, nil
}

func (t *TraCIClient) TrafficLights(ctx context.Context) ([]TrafficLight, error) {
	resp, err := t.call(ctx, wireRequest{Cmd: "traffic_lights"})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, NewSimulatorProtocolError("traffic_lights", resp.Error, nil)
	}
	out := make([]TrafficLight, 0, len(resp.Lights))
	for _, wl := range resp.Lights {
		phases := make([]vanet.PhaseState, 0, len(wl.Phases))
		for _, p := range wl.Phases {
			phases = append(phases, vanet.PhaseState(p))
		}
		out = append(out, TrafficLight{
			ID: wl.ID, Phases: phases,
			CurrentPhaseIndex: wl.CurrentPhaseIndex, TimeInPhase: wl.TimeInPhase,
		})
	}
	return out, nil
}

func (t *TraCIClient) LaneVehicleCount(ctx context.Context, laneID string) (int, error) {
	resp, err := t.call(ctx, wireRequest{Cmd: "lane_vehicle_count", LaneID: laneID})
	if err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, NewSimulatorProtocolError("lane_vehicle_count", resp.Error, nil)
	}
	return resp.Count, nil
}

func (t *TraCIClient) LaneHaltingCount(ctx context.Context, laneID string) (int, error) {
	resp, err := t.call(ctx, wireRequest{Cmd: "lane_halting_count", LaneID: laneID})
	if err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, NewSimulatorProtocolError("lane_halting_count", resp.Error, nil)
	}
	return resp.Count, nil
}

func (t *TraCIClient) SetPhase(ctx context.Context, tlID string, index int) error {
	resp, err := t.call(ctx, wireRequest{Cmd: "set_phase", TLID: tlID, Index: index})
	if err != nil {
		return err
	}
	if !resp.OK {
		return NewSimulatorProtocolError("set_phase", resp.Error, nil)
	}
	return nil
}

func (t *TraCIClient) SetPhaseDuration(ctx context.Context, tlID string, seconds float64) error {
	resp, err := t.call(ctx, wireRequest{Cmd: "set_phase_duration", TLID: tlID, Seconds: seconds})
	if err != nil {
		return err
	}
	if !resp.OK {
		return NewSimulatorProtocolError("set_phase_duration", resp.Error, nil)
	}
	return nil
}

func (t *TraCIClient) Close(ctx context.Context) error {
	if t.conn == nil {
		return nil
	}
	_, _ = t.call(ctx, wireRequest{Cmd: "close"})
	err := t.conn.Close()
	t.conn = nil
	return err
}

// call sends one JSON request frame and blocks for its response frame. The
// connection deadline is derived from ctx so a hung adapter process aborts
// with a SimulatorProtocolError at the caller's configured timeout instead
// of blocking forever; a ctx with no deadline clears any prior deadline on
// the connection. Every connection-level failure (dial drop, deadline
// exceeded, malformed frame, EOF) surfaces as a SimulatorProtocolError; this
// package never retries or masks it, per the "never catches and swallows a
// simulator protocol error" policy.
func (t *TraCIClient) call(ctx context.Context, req wireRequest) (*wireResponse, error) {
	if t.conn == nil {
		return nil, NewSimulatorProtocolError(req.Cmd, "not connected", nil)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, NewSimulatorProtocolError(req.Cmd, "set deadline", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, NewSimulatorProtocolError(req.Cmd, "encode request", err)
	}
	data = append(data, '\n')
	if _, err := t.rw.Write(data); err != nil {
		return nil, t.callErr(ctx, req.Cmd, "write request", err)
	}
	if err := t.rw.Flush(); err != nil {
		return nil, t.callErr(ctx, req.Cmd, "flush request", err)
	}

	line, err := t.rw.ReadBytes('\n')
	if err != nil {
		return nil, t.callErr(ctx, req.Cmd, "read response", err)
	}
	var resp wireResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, NewSimulatorProtocolError(req.Cmd, fmt.Sprintf("decode response: %v", err), err)
	}
	return &resp, nil
}

// callErr reports ctx.Err() (deadline exceeded or cancellation) when it
// explains an I/O failure better than the raw net.Error, which only ever
// says "i/o timeout" without naming which context caused it.
func (t *TraCIClient) callErr(ctx context.Context, cmd, msg string, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return NewSimulatorProtocolError(cmd, msg+": "+ctxErr.Error(), ctxErr)
	}
	return NewSimulatorProtocolError(cmd, msg, cause)
}
