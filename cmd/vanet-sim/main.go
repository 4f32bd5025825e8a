// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flyingrobots/vanet-signal-bridge/internal/breaker"
	"github.com/flyingrobots/vanet-signal-bridge/internal/bridge"
	"github.com/flyingrobots/vanet-signal-bridge/internal/config"
	"github.com/flyingrobots/vanet-signal-bridge/internal/emergency"
	"github.com/flyingrobots/vanet-signal-bridge/internal/metrics"
	"github.com/flyingrobots/vanet-signal-bridge/internal/obs"
	"github.com/flyingrobots/vanet-signal-bridge/internal/policy"
	"github.com/flyingrobots/vanet-signal-bridge/internal/signal"
	"github.com/flyingrobots/vanet-signal-bridge/internal/simclient"
	"github.com/flyingrobots/vanet-signal-bridge/internal/tickloop"
	"github.com/flyingrobots/vanet-signal-bridge/internal/topology"
	"github.com/flyingrobots/vanet-signal-bridge/internal/wireless"
)

var version = "dev"

func main() {
	var configPath string
	var scenarioPath string
	var simAddr string
	var gui bool
	var showVersion bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&scenarioPath, "scenario", "scenario.sumocfg", "Path to the scenario config the simulator should load")
	fs.StringVar(&simAddr, "sim-addr", "127.0.0.1:9999", "TCP address of the simulator adapter process")
	fs.BoolVar(&gui, "gui", false, "Request the simulator run with its GUI attached")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.RunID = uuid.NewString()

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.With(obs.String("run_id", cfg.RunID))
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = obs.TracerShutdown(context.Background(), tp) }()
	}

	loop, err := buildLoop(cfg, scenarioPath, simAddr, gui, logger)
	if err != nil {
		logger.Fatal("failed to build simulation", obs.Err(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, requesting stop", obs.String("signal", sig.String()))
		loop.RequestStop()
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(10 * time.Second):
		}
	}()

	if err := loop.Run(ctx); err != nil {
		logger.Fatal("simulation aborted", obs.Err(err))
	}
	logger.Info("simulation complete")
}

// buildLoop wires every component per the catalog and config, the way a
// thin main composes a server's handlers in the teacher repo.
func buildLoop(cfg *config.Config, scenarioPath, simAddr string, gui bool, logger *zap.Logger) (*tickloop.Loop, error) {
	junctionSpecs, err := topology.LoadJunctions(cfg.JunctionTopologyPath)
	if err != nil {
		return nil, err
	}
	rsuSpecs, err := topology.LoadRSUs(cfg.RSUCatalogPath)
	if err != nil {
		return nil, err
	}
	catalog, err := topology.NewCatalog(junctionSpecs, rsuSpecs)
	if err != nil {
		return nil, err
	}

	raw := simclient.NewTraCIClient(simclient.TraCIConfig{Addr: simAddr, DialTimeout: cfg.StepTimeout})
	if err := raw.Start(context.Background(), scenarioPath, gui); err != nil {
		return nil, err
	}
	cb := breaker.New(cfg.Breaker.Window, cfg.Breaker.Cooldown, cfg.Breaker.FailureThresh, cfg.Breaker.MinSamples)
	client := simclient.NewGuardedClient(raw, cb)

	coord := emergency.NewCoordinator(emergency.Config{
		ProximityThresholdM: cfg.Emergency.ProximityThresholdM,
		DetectionM:          cfg.Emergency.DetectionM,
		PassthroughM:        cfg.Emergency.PassthroughM,
		OverrideCooldown:    cfg.Emergency.OverrideCooldown,
		PreemptDuration:     cfg.Emergency.PreemptDuration,
		ClearanceDistanceM:  cfg.Emergency.ClearanceDistanceM,
		ClearanceTicks:      cfg.Emergency.ClearanceTicks,
	}, catalog, cfg.Mode == config.ModeProximity)

	controller, err := signal.NewController(signal.Config{
		MinGreen: cfg.Signal.MinGreen, MaxGreen: cfg.Signal.MaxGreen,
		Yellow: cfg.Signal.Yellow, ExtensionStep: cfg.Signal.ExtensionStep,
		DensityLow: cfg.Signal.DensityLow, DensityHigh: cfg.Signal.DensityHigh,
	}, catalog)
	if err != nil {
		return nil, err
	}

	ranges := wireless.Ranges{ShortRangeM: cfg.Wireless.ShortRangeM, LongRangeM: cfg.Wireless.LongRangeM}
	model := wireless.NewModel(ranges, cfg.Seed)
	// The grid index pays for itself once a scenario has more than a
	// handful of vehicles; always enable it outside of tests.
	br := bridge.NewBridge(model, ranges, true)

	acc := metrics.NewAccumulator(cfg.Metrics.EpochTicks)
	if err := acc.OpenWriters(cfg.Metrics.PacketsCSV, cfg.Metrics.MetricsCSV); err != nil {
		logger.Warn("metrics writers unavailable", obs.Err(err))
	}

	var pol policy.Policy
	if cfg.Mode == config.ModeRL {
		junctions := catalog.Junctions()
		if len(junctions) == 0 {
			return nil, policy.NewPolicyLoadError(cfg.PolicySnapshotPath, "no junctions loaded, cannot size observation vector")
		}
		expectedLen := policy.ObservationLength(len(junctions[0].Phases))
		snapshot, err := policy.LoadSnapshot(cfg.PolicySnapshotPath, expectedLen)
		if err != nil {
			return nil, err
		}
		pol = snapshot
	}

	return tickloop.New(cfg, client, catalog, coord, controller, br, acc, pol, logger), nil
}
