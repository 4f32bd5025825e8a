// Copyright 2025 James Ross
// Package emergency is the preemption coordinator (C4): a per-junction
// state machine that consumes vehicle snapshots and produces preemption
// decisions for the signal controller (C5).
//
// Grounded on the teacher's internal/advanced-rate-limiting package: a
// priority-weighted admission shape (first claimant wins, later arrivals
// queue, a global limiter rate-gates admission) generalized here to
// per-junction priority-vehicle claims gated by a global cooldown limiter.
package emergency

import (
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/flyingrobots/vanet-signal-bridge/internal/topology"
	"github.com/flyingrobots/vanet-signal-bridge/internal/vanet"
)

// Band is a distance band around a junction, per spec §4.2.
type Band int

const (
	BandFar Band = iota
	BandRLActivate
	BandPreempt
	BandPassThrough
)

// Config bundles the tunables for band radii, cooldown, and preempt hold time.
type Config struct {
	ProximityThresholdM float64 // outer radius of RL-Activate band
	DetectionM          float64 // outer radius of Preempt band
	PassthroughM        float64 // outer radius of PassThrough band
	OverrideCooldown    time.Duration
	PreemptDuration     time.Duration
	ClearanceDistanceM  float64 // re-detection clearance distance (default 200)
	ClearanceTicks      int     // ticks absent before a served entry may clear
}

// classify maps a distance to its band using the closed-interval boundaries
// from spec §8 B1/B2: Preempt is (passthrough, detection], RL-Activate is
// (detection, proximity], Far is beyond proximity.
func classify(distance float64, cfg Config) Band {
	switch {
	case distance <= cfg.PassthroughM:
		return BandPassThrough
	case distance <= cfg.DetectionM:
		return BandPreempt
	case distance <= cfg.ProximityThresholdM:
		return BandRLActivate
	default:
		return BandFar
	}
}

// Track is the coordinator-owned per-active-vehicle bookkeeping.
type Track struct {
	VehicleID       string
	FirstSeenTick   int
	LastPosition    vanet.Position
	LastSeenTick    int
	LastDirection   vanet.Direction // direction of travel as of LastPosition
	RouteEdges      []string
	ServedJunctions map[string]bool
	WaitStartTick   map[string]int // junction id -> tick first queued
}

func newTrack(id string, tick int, pos vanet.Position) *Track {
	return &Track{
		VehicleID:       id,
		FirstSeenTick:   tick,
		LastPosition:    pos,
		LastSeenTick:    tick,
		ServedJunctions: map[string]bool{},
		WaitStartTick:   map[string]int{},
	}
}

// junctionQueue holds the claimant and any waiting emergency vehicles for one junction.
type junctionQueue struct {
	priorityVehicle string
	waiting         []string // vehicle ids queued behind the priority vehicle, in arrival order
	admitted        string   // priority vehicle whose claim has passed the cooldown limiter
}

// Coordinator implements C4. It is not safe for concurrent use; the tick
// loop owns it exclusively, per spec §5.
type Coordinator struct {
	cfg      Config
	catalog  *topology.Catalog
	tracks   map[string]*Track
	queues   map[string]*junctionQueue
	limiter  *rate.Limiter
	subMode  bool // Proximity sub-mode enabled: RL-Activate band switches controller mode
}

// NewCoordinator builds a Coordinator. proximitySubMode enables the
// RL-Activate band's mode-switch effect (otherwise that band is a no-op,
// per spec §4.2).
func NewCoordinator(cfg Config, catalog *topology.Catalog, proximitySubMode bool) *Coordinator {
	limiter := rate.NewLimiter(rate.Every(cfg.OverrideCooldown), 1)
	return &Coordinator{
		cfg:     cfg,
		catalog: catalog,
		tracks:  map[string]*Track{},
		queues:  map[string]*junctionQueue{},
		limiter: limiter,
		subMode: proximitySubMode,
	}
}

// Decision is the per-junction output of one Update pass: the runtime mode
// C5 should adopt and, for Preempt, the target phase and hold duration.
type Decision struct {
	Mode            vanet.RuntimeMode
	TargetPhaseIdx  int
	PreemptDeadline int
	PreemptVehicle  string
}

// Update consumes the current tick's emergency-vehicle snapshot and
// produces a Decision per junction. vehicles must contain only vehicles of
// kind Emergency; non-emergency vehicles never influence C4.
func (c *Coordinator) Update(tick int, vehicles []vanet.Vehicle) map[string]Decision {
	seen := map[string]bool{}
	for _, v := range vehicles {
		seen[v.ID] = true
		c.observe(tick, v)
	}
	c.expireUnseen(tick, seen)

	decisions := map[string]Decision{}
	for _, j := range c.catalog.Junctions() {
		decisions[j.ID] = c.decideJunction(tick, j, vehicles)
	}
	return decisions
}

func (c *Coordinator) observe(tick int, v vanet.Vehicle) {
	tr, ok := c.tracks[v.ID]
	if !ok {
		tr = newTrack(v.ID, tick, v.Position)
		c.tracks[v.ID] = tr
		return
	}
	tr.LastDirection = Approach(tr, v)
	tr.LastSeenTick = tick
	tr.LastPosition = v.Position
}

// expireUnseen implements the re-detection rule in §4.2: once a track has
// gone unseen for ClearanceTicks consecutive ticks, a served-junction entry
// clears only if the vehicle's last known position was at least
// ClearanceDistanceM beyond that junction and moving away from it. Entries
// that don't meet both conditions are left served, so a vehicle that drops
// out of the snapshot near a junction it already served (a simulator
// hiccup, not a real departure) cannot re-trigger Preempt there on
// reappearance. The priority queue is released unconditionally on absence,
// since a vehicle gone from the snapshot cannot hold a junction regardless
// of where it was last seen.
func (c *Coordinator) expireUnseen(tick int, seen map[string]bool) {
	for id, tr := range c.tracks {
		if seen[id] {
			continue
		}
		for _, q := range c.queues {
			c.releaseFromQueue(q, id)
		}
		if tick-tr.LastSeenTick < c.cfg.ClearanceTicks {
			continue
		}
		for jID := range tr.ServedJunctions {
			j, ok := c.catalog.Junction(jID)
			if !ok {
				delete(tr.ServedJunctions, jID)
				continue
			}
			distance := vanet.Distance(tr.LastPosition, j.Position)
			if distance >= c.cfg.ClearanceDistanceM && !isApproaching(j.Position, tr.LastPosition, tr.LastDirection) {
				delete(tr.ServedJunctions, jID)
			}
		}
		if len(tr.ServedJunctions) == 0 {
			delete(c.tracks, id)
		}
	}
}

func (c *Coordinator) releaseFromQueue(q *junctionQueue, vehicleID string) {
	if q.priorityVehicle == vehicleID {
		q.priorityVehicle = ""
		if len(q.waiting) > 0 {
			q.priorityVehicle = q.waiting[0]
			q.waiting = q.waiting[1:]
		}
		return
	}
	for i, id := range q.waiting {
		if id == vehicleID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) queueFor(jID string) *junctionQueue {
	q, ok := c.queues[jID]
	if !ok {
		q = &junctionQueue{}
		c.queues[jID] = q
	}
	return q
}

func (c *Coordinator) decideJunction(tick int, j *vanet.Junction, vehicles []vanet.Vehicle) Decision {
	q := c.queueFor(j.ID)
	directions := map[string]vanet.Direction{}

	for _, v := range vehicles {
		tr, ok := c.tracks[v.ID]
		if !ok {
			continue
		}
		distance := vanet.Distance(v.Position, j.Position)
		band := classify(distance, c.cfg)
		// observe already moved LastPosition to this tick's position, so the
		// movement-derived direction is the one it stored in LastDirection.
		dir := tr.LastDirection
		if tr.FirstSeenTick == tick {
			dir = Approach(tr, v)
		}
		directions[v.ID] = dir
		approaching := isApproaching(j.Position, v.Position, dir)

		switch band {
		case BandPassThrough:
			if q.priorityVehicle == v.ID {
				tr.ServedJunctions[j.ID] = true
				c.releaseFromQueue(q, v.ID)
			}
		case BandPreempt:
			if !approaching {
				continue
			}
			if tr.ServedJunctions[j.ID] {
				continue
			}
			if q.priorityVehicle == "" {
				q.priorityVehicle = v.ID
				tr.WaitStartTick[j.ID] = tick
			} else if q.priorityVehicle != v.ID && !contains(q.waiting, v.ID) {
				q.waiting = append(q.waiting, v.ID)
				tr.WaitStartTick[j.ID] = tick
			}
		case BandRLActivate:
			if c.subMode && approaching {
				return Decision{Mode: vanet.ModeRLCtl}
			}
		}
	}

	if q.priorityVehicle != "" {
		tr := c.tracks[q.priorityVehicle]
		if tr == nil {
			q.priorityVehicle = ""
			return Decision{Mode: vanet.ModeDensityCtl}
		}
		if q.admitted != q.priorityVehicle {
			if !c.limiter.AllowN(simClock(tick), 1) {
				// cooldown still active; the new claim is not admitted yet
				return Decision{Mode: vanet.ModeDensityCtl}
			}
			q.admitted = q.priorityVehicle
		}
		dir, ok := directions[q.priorityVehicle]
		if !ok {
			dir = headingToDirection(0)
		}
		targetIdx := TargetPhaseIndex(c.catalog, j, dir)
		return Decision{
			Mode:            vanet.ModePreemptCtl,
			TargetPhaseIdx:  targetIdx,
			PreemptDeadline: tick + ticksFromDuration(c.cfg.PreemptDuration),
			PreemptVehicle:  q.priorityVehicle,
		}
	}

	return Decision{Mode: vanet.ModeDensityCtl}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// simEpoch anchors the rate limiter's clock to the tick number rather than
// wall time, so preempt-command admission is a pure function of simulation
// state (required for P7's byte-identical reruns under a fixed seed).
var simEpoch = time.Unix(0, 0)

func simClock(tick int) time.Time {
	return simEpoch.Add(time.Duration(tick) * time.Second)
}

func ticksFromDuration(d time.Duration) int {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// isApproaching implements spec §4.2's symmetric approach test: for
// cardinal `east` at junction (jx,jy), the vehicle approaches iff vx < jx;
// symmetric for the other cardinals.
func isApproaching(junction, vehicle vanet.Position, dir vanet.Direction) bool {
	switch dir {
	case vanet.East:
		return vehicle.X < junction.X
	case vanet.West:
		return vehicle.X > junction.X
	case vanet.North:
		return vehicle.Y < junction.Y
	case vanet.South:
		return vehicle.Y > junction.Y
	default:
		return false
	}
}

// laneHeuristicMarkers maps lane/edge id substrings to cardinal directions.
var laneHeuristicMarkers = map[string]vanet.Direction{
	"_E": vanet.East, "toE": vanet.East, "East": vanet.East,
	"_W": vanet.West, "toW": vanet.West, "West": vanet.West,
	"_N": vanet.North, "toN": vanet.North, "North": vanet.North,
	"_S": vanet.South, "toS": vanet.South, "South": vanet.South,
}

// Approach determines a vehicle's cardinal direction of travel using the
// fallback chain from spec §4.2: movement-derived, then lane-id heuristic,
// then heading angle.
func Approach(tr *Track, v vanet.Vehicle) vanet.Direction {
	if tr != nil {
		dx := v.Position.X - tr.LastPosition.X
		dy := v.Position.Y - tr.LastPosition.Y
		if abs(dx) >= 5 || abs(dy) >= 5 {
			if abs(dx) >= abs(dy) {
				if dx > 0 {
					return vanet.East
				}
				return vanet.West
			}
			if dy > 0 {
				return vanet.North
			}
			return vanet.South
		}
	}
	for marker, dir := range laneHeuristicMarkers {
		if strings.Contains(v.LaneID, marker) || strings.Contains(v.EdgeID, marker) {
			return dir
		}
	}
	return headingToDirection(v.Heading)
}

// headingToDirection buckets a heading in degrees (0=east, ccw positive)
// into 90-degree quadrants centred on the four cardinals.
func headingToDirection(heading float64) vanet.Direction {
	h := normalizeDegrees(heading)
	switch {
	case h >= 315 || h < 45:
		return vanet.East
	case h >= 45 && h < 135:
		return vanet.North
	case h >= 135 && h < 225:
		return vanet.West
	default:
		return vanet.South
	}
}

func normalizeDegrees(h float64) float64 {
	for h < 0 {
		h += 360
	}
	for h >= 360 {
		h -= 360
	}
	return h
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// TargetPhaseIndex picks the lowest-index phase whose signal string has
// green on every signal serving the approach direction, per spec §4.2.
func TargetPhaseIndex(cat *topology.Catalog, j *vanet.Junction, dir vanet.Direction) int {
	signals := cat.SignalsForDirection(j.ID, dir)
	if len(signals) == 0 {
		return j.CurrentPhaseIndex
	}
	for idx, phase := range j.Phases {
		allGreen := true
		for _, s := range signals {
			if !phase.GreenAt(s) {
				allGreen = false
				break
			}
		}
		if allGreen {
			return idx
		}
	}
	return j.CurrentPhaseIndex
}
