// Copyright 2025 James Ross
// Package topology is the static network catalog (C2): junction and RSU
// placements plus the lane-to-direction mapping, loaded once at startup
// and immutable thereafter. Other components receive read-only views.
//
// Grounded on the teacher's internal/config layered-loading shape, reduced
// to stdlib encoding/json since these catalogs are fixtures generated by
// the scenario author, not operator-facing config files that benefit from
// viper's env/flag layering.
package topology

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flyingrobots/vanet-signal-bridge/internal/vanet"
)

// JunctionSpec is the on-disk shape of one junction entry.
type JunctionSpec struct {
	ID      string              `json:"id"`
	X       float64             `json:"x"`
	Y       float64             `json:"y"`
	Phases  []string            `json:"phases"`
	Signals []SignalDirectionSpec `json:"signals"`
}

// SignalDirectionSpec maps one controlled-signal position to the cardinal
// approach direction it serves.
type SignalDirectionSpec struct {
	Index     int    `json:"index"`
	Direction string `json:"direction"`
	LaneID    string `json:"lane_id"`
}

// RSUSpec is the on-disk shape of one RSU entry.
type RSUSpec struct {
	ID             string  `json:"id"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Tier           int     `json:"tier"`
	CoverageRadius float64 `json:"coverage_radius"`
}

// Catalog is the immutable, loaded-once network topology: junctions, RSUs,
// and the lane-to-direction mapping each junction's signals serve.
type Catalog struct {
	junctions     map[string]*vanet.Junction
	junctionDirs  map[string][]vanet.Direction // parallel to junction.Phases signal positions
	signalLanes   map[string][]string          // junctionID -> signal index -> lane id
	laneDirs      map[string]map[string]vanet.Direction // junctionID -> laneID -> direction
	rsus          map[string]*vanet.RSU
	order         []string // junction ids in load order, for deterministic iteration
	rsuOrder     []string
}

// LoadJunctions reads a junction topology JSON file per spec §6.
func LoadJunctions(path string) ([]JunctionSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigurationError(path, "junction_topology_path", err.Error())
	}
	var specs []JunctionSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, NewConfigurationError(path, "junction_topology_path", err.Error())
	}
	return specs, nil
}

// LoadRSUs reads an RSU catalog JSON file per spec §6.
func LoadRSUs(path string) ([]RSUSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigurationError(path, "rsu_catalog_path", err.Error())
	}
	var specs []RSUSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, NewConfigurationError(path, "rsu_catalog_path", err.Error())
	}
	return specs, nil
}

// directionFromString parses a cardinal direction: a lowercase full name
// ("north", "south", "east", "west") or a single letter in either case.
func directionFromString(s string) (vanet.Direction, error) {
	switch s {
	case "north", "N", "n":
		return vanet.North, nil
	case "south", "S", "s":
		return vanet.South, nil
	case "east", "E", "e":
		return vanet.East, nil
	case "west", "W", "w":
		return vanet.West, nil
	default:
		return vanet.Unknown, fmt.Errorf("unrecognised direction %q", s)
	}
}

// NewCatalog builds an immutable Catalog from loaded specs. Invariant J1
// (fixed phase-string length per junction) is validated here: a junction
// whose declared phases vary in length is a configuration error, not a
// per-junction fault, since it can only arise from a malformed catalog.
func NewCatalog(junctions []JunctionSpec, rsus []RSUSpec) (*Catalog, error) {
	c := &Catalog{
		junctions:    map[string]*vanet.Junction{},
		junctionDirs: map[string][]vanet.Direction{},
		signalLanes:  map[string][]string{},
		laneDirs:     map[string]map[string]vanet.Direction{},
		rsus:         map[string]*vanet.RSU{},
	}
	for _, js := range junctions {
		if js.ID == "" {
			return nil, NewConfigurationError("junction.id", js.ID, "must not be empty")
		}
		if len(js.Phases) == 0 {
			return nil, NewConfigurationError("junction.phases", js.ID, "must declare at least one phase")
		}
		phaseLen := len(js.Phases[0])
		phases := make([]vanet.PhaseState, 0, len(js.Phases))
		for _, p := range js.Phases {
			if len(p) != phaseLen {
				return nil, NewConfigurationError("junction.phases", js.ID, "phase strings must share one fixed length")
			}
			phases = append(phases, vanet.PhaseState(p))
		}
		dirs := make([]vanet.Direction, phaseLen)
		lanes := make([]string, phaseLen)
		for i := range dirs {
			dirs[i] = vanet.Unknown
		}
		laneMap := map[string]vanet.Direction{}
		for _, sig := range js.Signals {
			if sig.Index < 0 || sig.Index >= phaseLen {
				return nil, NewConfigurationError("junction.signals.index", js.ID, "signal index out of phase-string range")
			}
			dir, err := directionFromString(sig.Direction)
			if err != nil {
				return nil, NewConfigurationError("junction.signals.direction", js.ID, err.Error())
			}
			dirs[sig.Index] = dir
			lanes[sig.Index] = sig.LaneID
			if sig.LaneID != "" {
				laneMap[sig.LaneID] = dir
			}
		}
		c.junctions[js.ID] = &vanet.Junction{
			ID:                js.ID,
			Position:          vanet.Position{X: js.X, Y: js.Y},
			Phases:            phases,
			CurrentPhaseIndex: 0,
			SignalToDirection: dirs,
		}
		c.junctionDirs[js.ID] = dirs
		c.signalLanes[js.ID] = lanes
		c.laneDirs[js.ID] = laneMap
		c.order = append(c.order, js.ID)
	}
	for _, rs := range rsus {
		if rs.ID == "" {
			return nil, NewConfigurationError("rsu.id", rs.ID, "must not be empty")
		}
		radius := rs.CoverageRadius
		if radius <= 0 {
			radius = 300
		}
		tier := vanet.Tier(rs.Tier)
		if tier != vanet.Tier1 && tier != vanet.Tier2 && tier != vanet.Tier3 {
			return nil, NewConfigurationError("rsu.tier", rs.ID, "tier must be 1, 2, or 3")
		}
		c.rsus[rs.ID] = &vanet.RSU{
			ID:             rs.ID,
			Position:       vanet.Position{X: rs.X, Y: rs.Y},
			Tier:           tier,
			CoverageRadius: radius,
		}
		c.rsuOrder = append(c.rsuOrder, rs.ID)
	}
	return c, nil
}

// Junction returns the catalog's own junction by id. The pointer is shared:
// the tick loop writes the junction's phase bookkeeping and runtime mode
// through it.
func (c *Catalog) Junction(id string) (*vanet.Junction, bool) {
	j, ok := c.junctions[id]
	return j, ok
}

// Junctions returns every junction in load order.
func (c *Catalog) Junctions() []*vanet.Junction {
	out := make([]*vanet.Junction, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.junctions[id])
	}
	return out
}

// RSUs returns every RSU in load order.
func (c *Catalog) RSUs() []*vanet.RSU {
	out := make([]*vanet.RSU, 0, len(c.rsuOrder))
	for _, id := range c.rsuOrder {
		out = append(out, c.rsus[id])
	}
	return out
}

// DirectionForSignal returns the cardinal direction signal position i of
// junction jID serves.
func (c *Catalog) DirectionForSignal(jID string, i int) vanet.Direction {
	dirs, ok := c.junctionDirs[jID]
	if !ok || i < 0 || i >= len(dirs) {
		return vanet.Unknown
	}
	return dirs[i]
}

// DirectionForLane returns the cardinal direction a lane feeds into at the
// named junction, or Unknown if unmapped.
func (c *Catalog) DirectionForLane(jID, laneID string) vanet.Direction {
	m, ok := c.laneDirs[jID]
	if !ok {
		return vanet.Unknown
	}
	if d, ok := m[laneID]; ok {
		return d
	}
	return vanet.Unknown
}

// SignalLaneID returns the lane id feeding signal position i of junction
// jID, or "" if unmapped.
func (c *Catalog) SignalLaneID(jID string, i int) string {
	lanes, ok := c.signalLanes[jID]
	if !ok || i < 0 || i >= len(lanes) {
		return ""
	}
	return lanes[i]
}

// SignalsForDirection returns the signal indices at junction jID that serve
// the given cardinal direction.
func (c *Catalog) SignalsForDirection(jID string, dir vanet.Direction) []int {
	dirs, ok := c.junctionDirs[jID]
	if !ok {
		return nil
	}
	var out []int
	for i, d := range dirs {
		if d == dir {
			out = append(out, i)
		}
	}
	return out
}
