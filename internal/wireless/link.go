// Copyright 2025 James Ross
// Package wireless is the wireless link model (C3): pure functions from
// (distance, link kind) to (delivered, latency ms), plus the bridge-owned
// seedable PRNG that drives the random draws. Grounded on the discrete-event
// simulator shape of the teacher's capacity-planning package: a struct that
// owns a single rand.Rand seeded once at construction, consulted by every
// subsequent draw so a run is reproducible end to end.
package wireless

import (
	"math"
	"math/rand"

	"github.com/flyingrobots/vanet-signal-bridge/internal/vanet"
)

// Ranges bundles the two link kinds' effective radii (metres).
type Ranges struct {
	ShortRangeM float64
	LongRangeM  float64
}

// Model draws delivery and latency outcomes for one tx/rx pair using a
// single-writer PRNG so repeated runs with the same seed are bit-identical.
type Model struct {
	ranges Ranges
	rng    *rand.Rand
}

// NewModel constructs a Model seeded for reproducibility (spec §8, R1/R2).
func NewModel(ranges Ranges, seed int64) *Model {
	return &Model{ranges: ranges, rng: rand.New(rand.NewSource(seed))}
}

// SelectLinkKind applies the per-pair link-kind rule from spec §4.3: an
// RSU endpoint with an emergency transmitter always uses LongRange; absent
// that, ShortRange applies if both endpoints are within short-range
// coverage of one another. A zero, false result means no link is attempted.
func SelectLinkKind(txKind vanet.VehicleKind, rxIsRSU bool, distance float64, ranges Ranges) (vanet.LinkKind, bool) {
	if rxIsRSU && txKind == vanet.Emergency {
		return vanet.LongRange, true
	}
	if distance < ranges.ShortRangeM {
		return vanet.ShortRange, true
	}
	return 0, false
}

// Attempt draws a (delivered, latencyMS) outcome for one transmission at
// the given distance and link kind. Beyond the link's effective range,
// delivery is always false and latency is zero.
func (m *Model) Attempt(distance float64, kind vanet.LinkKind) (delivered bool, latencyMS float64) {
	switch kind {
	case vanet.LongRange:
		if distance >= m.ranges.LongRangeM {
			return false, 0
		}
		p := longRangeDeliveryProbability(distance, m.ranges.LongRangeM)
		delivered = m.rng.Float64() < p
		if !delivered {
			return false, 0
		}
		return true, m.jitteredLatency(longRangeBaseLatency(distance, m.ranges.LongRangeM))
	default:
		if distance >= m.ranges.ShortRangeM {
			return false, 0
		}
		p := shortRangeDeliveryProbability(distance, m.ranges.ShortRangeM)
		delivered = m.rng.Float64() < p
		if !delivered {
			return false, 0
		}
		return true, m.jitteredLatency(shortRangeBaseLatency(distance, m.ranges.ShortRangeM))
	}
}

// shortRangeDeliveryProbability implements spec §4.3's short-range curve:
// p = clamp(1 - (distance/range)^2 * 0.06, 0.92, 0.98).
func shortRangeDeliveryProbability(distance, rangeM float64) float64 {
	ratio := distance / rangeM
	p := 1 - ratio*ratio*0.06
	return clamp(p, 0.92, 0.98)
}

// longRangeDeliveryProbability implements spec §4.3's long-range curve:
// p = clamp(1 - (distance/range)^2 * 0.04, 0.95, 0.99).
func longRangeDeliveryProbability(distance, rangeM float64) float64 {
	ratio := distance / rangeM
	p := 1 - ratio*ratio*0.04
	return clamp(p, 0.95, 0.99)
}

// shortRangeBaseLatency implements the 20->50 ms linear ramp across range.
func shortRangeBaseLatency(distance, rangeM float64) float64 {
	return 20 + (distance/rangeM)*30
}

// longRangeBaseLatency implements the 15->30 ms linear ramp across range.
func longRangeBaseLatency(distance, rangeM float64) float64 {
	return 15 + (distance/rangeM)*15
}

// jitteredLatency adds Gaussian jitter (sigma=2ms) clamped to a 1ms floor.
func (m *Model) jitteredLatency(base float64) float64 {
	jitter := m.rng.NormFloat64() * 2
	latency := base + jitter
	if latency < 1 {
		latency = 1
	}
	return latency
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
