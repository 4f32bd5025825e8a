// Copyright 2025 James Ross
// Package metrics is the bridge-owned metrics accumulator (§4.6): O(1)
// in-memory counters updated every tick, flushed to CSV at the configured
// epoch and to a final JSON summary at shutdown.
//
// Grounded on the teacher's internal/anomaly-radar-slo-budget package's
// rolling-counter shape, reduced from SLO-budget burn tracking to the
// fixed PDR/latency/emergency counters this spec names; CSV/JSON codecs
// use stdlib encoding/csv and encoding/json since the output schemas
// (spec §6) are small and fixed, with no pack-library offering anything
// beyond what the standard encoders already do for this shape.
package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/flyingrobots/vanet-signal-bridge/internal/vanet"
)

// EpochRecord is one flushed row of v2i_metrics.csv.
type EpochRecord struct {
	Tick                  int
	PDR                   float64
	AvgLatencyMS          float64
	EmergencyPDR          float64
	EmergencyAvgLatencyMS float64
	ActiveVehicles        int
	EmergencyCount        int
}

// Accumulator holds the running epoch counters and lifetime totals.
type Accumulator struct {
	epochTicks int

	sentTotal           int
	deliveredTotal      int
	sumLatencyDelivered float64
	emergencySent       int
	emergencyDelivered  int
	emergencySumLatency float64
	activeVehicles      int
	emergencyCount      int

	lifetimeSent              int
	lifetimeDelivered         int
	lifetimeSumLatency        float64
	lifetimeEmergencySent     int
	lifetimeEmergencyDelivered int
	lifetimeEmergencySumLatency float64
	lifetimeTotalVehiclesSeen  map[string]bool
	lifetimeEmergencyVehiclesSeen map[string]bool

	faultedJunctions     map[string]bool
	vehicleDisappearances int

	ticksRun int

	packetsWriter *csv.Writer
	packetsFile   *os.File
	metricsWriter *csv.Writer
	metricsFile   *os.File
}

// NewAccumulator builds an Accumulator flushing epoch rollups every
// epochTicks ticks.
func NewAccumulator(epochTicks int) *Accumulator {
	if epochTicks < 1 {
		epochTicks = 1
	}
	return &Accumulator{
		epochTicks:                    epochTicks,
		lifetimeTotalVehiclesSeen:     map[string]bool{},
		lifetimeEmergencyVehiclesSeen: map[string]bool{},
		faultedJunctions:              map[string]bool{},
	}
}

// OpenWriters opens the packets and metrics CSV files and writes headers.
// A failure here is a MetricsIO error: logged by the caller, non-fatal.
func (a *Accumulator) OpenWriters(packetsPath, metricsPath string) error {
	pf, err := os.Create(packetsPath)
	if err != nil {
		return NewMetricsIOError("open_packets_csv", err)
	}
	a.packetsFile = pf
	a.packetsWriter = csv.NewWriter(pf)
	if err := a.packetsWriter.Write([]string{"tick", "tx_id", "rx_id", "link_kind", "delivered", "latency_ms"}); err != nil {
		return NewMetricsIOError("write_packets_header", err)
	}

	mf, err := os.Create(metricsPath)
	if err != nil {
		return NewMetricsIOError("open_metrics_csv", err)
	}
	a.metricsFile = mf
	a.metricsWriter = csv.NewWriter(mf)
	if err := a.metricsWriter.Write([]string{
		"tick", "pdr", "avg_latency_ms", "emergency_pdr", "emergency_avg_latency_ms",
		"active_vehicles", "emergency_count",
	}); err != nil {
		return NewMetricsIOError("write_metrics_header", err)
	}
	return nil
}

// RecordPacket streams one packet row write-and-forget and folds it into
// the current epoch's counters.
func (a *Accumulator) RecordPacket(p vanet.Packet, txKind vanet.VehicleKind) error {
	a.sentTotal++
	a.lifetimeSent++
	isEmergency := txKind == vanet.Emergency
	if isEmergency {
		a.emergencySent++
		a.lifetimeEmergencySent++
	}
	if p.Delivered {
		a.deliveredTotal++
		a.lifetimeDelivered++
		a.sumLatencyDelivered += p.LatencyMS
		a.lifetimeSumLatency += p.LatencyMS
		if isEmergency {
			a.emergencyDelivered++
			a.lifetimeEmergencyDelivered++
			a.emergencySumLatency += p.LatencyMS
			a.lifetimeEmergencySumLatency += p.LatencyMS
		}
	}

	if a.packetsWriter == nil {
		return nil
	}
	delivered := "0"
	latency := ""
	if p.Delivered {
		delivered = "1"
		latency = fmt.Sprintf("%.3f", p.LatencyMS)
	}
	row := []string{
		fmt.Sprintf("%d", p.EmittedTick), p.TxID, p.RxID, p.LinkKind.String(), delivered, latency,
	}
	if err := a.packetsWriter.Write(row); err != nil {
		return NewMetricsIOError("write_packet_row", err)
	}
	return nil
}

// ObserveVehicles updates per-tick population counters and lifetime seen sets.
func (a *Accumulator) ObserveVehicles(vehicles []vanet.Vehicle) {
	a.activeVehicles = len(vehicles)
	a.emergencyCount = 0
	for _, v := range vehicles {
		a.lifetimeTotalVehiclesSeen[v.ID] = true
		if v.Kind == vanet.Emergency {
			a.emergencyCount++
			a.lifetimeEmergencyVehiclesSeen[v.ID] = true
		}
	}
}

// RecordFault records a junction transitioning to Faulted, for the final
// summary's faulted_junctions count (a supplement beyond the base schema).
func (a *Accumulator) RecordFault(junctionID string) {
	a.faultedJunctions[junctionID] = true
}

// RecordVehicleDisappearance increments the vehicle_disappearances counter
// (a supplement beyond the base schema) used by the final summary.
func (a *Accumulator) RecordVehicleDisappearance() {
	a.vehicleDisappearances++
}

// MaybeFlushEpoch emits and resets the epoch counters when tick is a
// multiple of epochTicks, per spec §4.3 step 4 / §4.4 step 6.
func (a *Accumulator) MaybeFlushEpoch(tick int) (*EpochRecord, error) {
	a.ticksRun = tick
	if tick%a.epochTicks != 0 {
		return nil, nil
	}
	rec := a.buildRecord(tick)
	a.sentTotal, a.deliveredTotal, a.sumLatencyDelivered = 0, 0, 0
	a.emergencySent, a.emergencyDelivered, a.emergencySumLatency = 0, 0, 0

	if a.metricsWriter != nil {
		row := []string{
			fmt.Sprintf("%d", rec.Tick),
			fmt.Sprintf("%.6f", rec.PDR),
			fmt.Sprintf("%.3f", rec.AvgLatencyMS),
			fmt.Sprintf("%.6f", rec.EmergencyPDR),
			fmt.Sprintf("%.3f", rec.EmergencyAvgLatencyMS),
			fmt.Sprintf("%d", rec.ActiveVehicles),
			fmt.Sprintf("%d", rec.EmergencyCount),
		}
		if err := a.metricsWriter.Write(row); err != nil {
			return rec, NewMetricsIOError("write_metrics_row", err)
		}
	}
	return rec, nil
}

func (a *Accumulator) buildRecord(tick int) *EpochRecord {
	pdr := ratio(a.deliveredTotal, a.sentTotal)
	avgLatency := safeAvg(a.sumLatencyDelivered, a.deliveredTotal)
	emPDR := ratio(a.emergencyDelivered, a.emergencySent)
	emAvgLatency := safeAvg(a.emergencySumLatency, a.emergencyDelivered)
	return &EpochRecord{
		Tick:                  tick,
		PDR:                   pdr,
		AvgLatencyMS:          avgLatency,
		EmergencyPDR:          emPDR,
		EmergencyAvgLatencyMS: emAvgLatency,
		ActiveVehicles:        a.activeVehicles,
		EmergencyCount:        a.emergencyCount,
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func safeAvg(sum float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Flush flushes any buffered CSV writers. Call after every row write that
// must survive a crash, and always before Close.
func (a *Accumulator) Flush() error {
	if a.packetsWriter != nil {
		a.packetsWriter.Flush()
		if err := a.packetsWriter.Error(); err != nil {
			return NewMetricsIOError("flush_packets_csv", err)
		}
	}
	if a.metricsWriter != nil {
		a.metricsWriter.Flush()
		if err := a.metricsWriter.Error(); err != nil {
			return NewMetricsIOError("flush_metrics_csv", err)
		}
	}
	return nil
}

// Close flushes and closes the CSV files. Idempotent-safe to call on a
// partially-opened Accumulator.
func (a *Accumulator) Close() error {
	err := a.Flush()
	if a.packetsFile != nil {
		a.packetsFile.Close()
	}
	if a.metricsFile != nil {
		a.metricsFile.Close()
	}
	return err
}

// Summary is the final shutdown JSON document, schema fixed by spec §6
// plus the faulted_junctions/vehicle_disappearances supplement.
type Summary struct {
	Combined struct {
		OverallPDR       float64 `json:"overall_pdr"`
		AverageDelayMS   float64 `json:"average_delay_ms"`
		ThroughputMbps   float64 `json:"throughput_mbps"`
	} `json:"combined"`
	Emergency struct {
		SuccessRate    float64 `json:"success_rate"`
		AverageDelayMS float64 `json:"average_delay_ms"`
		TotalEvents    int     `json:"total_events"`
	} `json:"emergency"`
	Vehicles struct {
		TotalSeen     int `json:"total_seen"`
		EmergencySeen int `json:"emergency_seen"`
	} `json:"vehicles"`
	Run struct {
		Ticks int    `json:"ticks"`
		Seed  int64  `json:"seed"`
		Mode  string `json:"mode"`
		RunID string `json:"run_id,omitempty"`
	} `json:"run"`
	Faults struct {
		FaultedJunctions      int `json:"faulted_junctions"`
		VehicleDisappearances int `json:"vehicle_disappearances"`
	} `json:"faults"`
}

// BuildSummary assembles the final summary document from lifetime totals.
func (a *Accumulator) BuildSummary(seed int64, mode string, avgPacketBits float64, runID string) *Summary {
	s := &Summary{}
	s.Combined.OverallPDR = ratio(a.lifetimeDelivered, a.lifetimeSent)
	s.Combined.AverageDelayMS = safeAvg(a.lifetimeSumLatency, a.lifetimeDelivered)
	if a.ticksRun > 0 {
		s.Combined.ThroughputMbps = float64(a.lifetimeDelivered) * avgPacketBits / float64(a.ticksRun) / 1e6
	}
	s.Emergency.SuccessRate = ratio(a.lifetimeEmergencyDelivered, a.lifetimeEmergencySent)
	s.Emergency.AverageDelayMS = safeAvg(a.lifetimeEmergencySumLatency, a.lifetimeEmergencyDelivered)
	s.Emergency.TotalEvents = a.lifetimeEmergencySent
	s.Vehicles.TotalSeen = len(a.lifetimeTotalVehiclesSeen)
	s.Vehicles.EmergencySeen = len(a.lifetimeEmergencyVehiclesSeen)
	s.Run.Ticks = a.ticksRun
	s.Run.Seed = seed
	s.Run.Mode = mode
	s.Run.RunID = runID
	s.Faults.FaultedJunctions = len(a.faultedJunctions)
	s.Faults.VehicleDisappearances = a.vehicleDisappearances
	return s
}

// WriteSummary writes the final JSON summary. Per spec §7 a MetricsIO
// failure here is logged; the caller has already attempted the write even
// if earlier CSV writes failed.
func WriteSummary(path string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return NewMetricsIOError("marshal_summary", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return NewMetricsIOError("write_summary", err)
	}
	return nil
}
