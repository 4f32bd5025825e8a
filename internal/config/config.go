// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects the global signal-control strategy for junctions that
// have not been overridden to a per-junction mode by the emergency
// coordinator.
type Mode string

const (
	ModeDensity    Mode = "density"
	ModeRL         Mode = "rl"
	ModeHybrid     Mode = "hybrid"
	ModeProximity  Mode = "proximity"
)

type Signal struct {
	MinGreen       time.Duration `mapstructure:"min_green_s"`
	MaxGreen       time.Duration `mapstructure:"max_green_s"`
	Yellow         time.Duration `mapstructure:"yellow_s"`
	ExtensionStep  time.Duration `mapstructure:"extension_step_s"`
	DensityLow     float64       `mapstructure:"density_low"`
	DensityHigh    float64       `mapstructure:"density_high"`
}

type Emergency struct {
	ProximityThresholdM  float64       `mapstructure:"proximity_threshold_m"`
	DetectionM           float64       `mapstructure:"emergency_detection_m"`
	PassthroughM         float64       `mapstructure:"emergency_passthrough_m"`
	OverrideCooldown     time.Duration `mapstructure:"override_cooldown_s"`
	PreemptDuration      time.Duration `mapstructure:"preempt_duration_s"`
	ClearanceDistanceM   float64       `mapstructure:"clearance_distance_m"`
	ClearanceTicks       int           `mapstructure:"clearance_ticks"`
	Substrings           []string      `mapstructure:"emergency_substrings"`
}

type Wireless struct {
	ShortRangeM float64 `mapstructure:"short_range_m"`
	LongRangeM  float64 `mapstructure:"long_range_m"`
}

type Breaker struct {
	Window        time.Duration `mapstructure:"window_s"`
	Cooldown      time.Duration `mapstructure:"cooldown_s"`
	FailureThresh float64       `mapstructure:"failure_threshold"`
	MinSamples    int           `mapstructure:"min_samples"`
}

type Metrics struct {
	EpochTicks int    `mapstructure:"metrics_epoch_ticks"`
	PacketsCSV string `mapstructure:"packets_csv_path"`
	MetricsCSV string `mapstructure:"metrics_csv_path"`
	SummaryJSON string `mapstructure:"summary_json_path"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling_strategy"`
	SamplingRate     float64 `mapstructure:"sampling_rate"`
}

// Tracing is a backwards-compatible alias.
type Tracing = TracingConfig

type ObservabilityConfig struct {
	LogLevel string        `mapstructure:"log_level"`
	Tracing  TracingConfig `mapstructure:"tracing"`
}

// Observability is a backwards-compatible alias.
type Observability = ObservabilityConfig

type Config struct {
	Mode                  Mode          `mapstructure:"mode"`
	Signal                Signal        `mapstructure:"signal"`
	Emergency             Emergency     `mapstructure:"emergency"`
	Wireless              Wireless      `mapstructure:"wireless"`
	Breaker               Breaker       `mapstructure:"breaker"`
	Metrics               Metrics       `mapstructure:"metrics"`
	Observability         Observability `mapstructure:"observability"`
	RSUCatalogPath        string        `mapstructure:"rsu_catalog_path"`
	JunctionTopologyPath  string        `mapstructure:"junction_topology_path"`
	PolicySnapshotPath    string        `mapstructure:"policy_snapshot_path"`
	Seed                  int64         `mapstructure:"seed"`
	MaxTicks              int           `mapstructure:"max_ticks"`
	StepTimeout           time.Duration `mapstructure:"step_timeout"`

	// RunID identifies one execution of the simulator for correlation across
	// logs and the final summary document. Not read from the config file;
	// cmd/vanet-sim assigns it once at startup.
	RunID string `mapstructure:"-"`
}

func defaultConfig() *Config {
	return &Config{
		Mode: ModeDensity,
		Signal: Signal{
			MinGreen:      10 * time.Second,
			MaxGreen:      45 * time.Second,
			Yellow:        3 * time.Second,
			ExtensionStep: 3 * time.Second,
			DensityLow:    3,
			DensityHigh:   10,
		},
		Emergency: Emergency{
			ProximityThresholdM: 250,
			DetectionM:          150,
			PassthroughM:        30,
			OverrideCooldown:    3 * time.Second,
			PreemptDuration:     10 * time.Second,
			ClearanceDistanceM:  200,
			ClearanceTicks:      2,
			Substrings:          []string{"emergency", "ambulance", "fire", "police"},
		},
		Wireless: Wireless{
			ShortRangeM: 300,
			LongRangeM:  1000,
		},
		Breaker: Breaker{
			Window:        30 * time.Second,
			Cooldown:      10 * time.Second,
			FailureThresh: 0.5,
			MinSamples:    5,
		},
		Metrics: Metrics{
			EpochTicks:  1,
			PacketsCSV:  "v2i_packets.csv",
			MetricsCSV:  "v2i_metrics.csv",
			SummaryJSON: "integrated_simulation_results.json",
		},
		Observability: Observability{
			LogLevel: "info",
			Tracing:  Tracing{Enabled: false, SamplingStrategy: "probabilistic", SamplingRate: 0.1},
		},
		RSUCatalogPath:       "config/rsus.json",
		JunctionTopologyPath: "config/topology.json",
		Seed:                 1,
		MaxTicks:             3600,
		StepTimeout:          30 * time.Second,
	}
}

// Load reads configuration from a YAML file, layering env-var overrides
// on top of built-in defaults, the way internal/config does in the
// teacher repo.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("mode", string(def.Mode))

	v.SetDefault("signal.min_green_s", def.Signal.MinGreen)
	v.SetDefault("signal.max_green_s", def.Signal.MaxGreen)
	v.SetDefault("signal.yellow_s", def.Signal.Yellow)
	v.SetDefault("signal.extension_step_s", def.Signal.ExtensionStep)
	v.SetDefault("signal.density_low", def.Signal.DensityLow)
	v.SetDefault("signal.density_high", def.Signal.DensityHigh)

	v.SetDefault("emergency.proximity_threshold_m", def.Emergency.ProximityThresholdM)
	v.SetDefault("emergency.emergency_detection_m", def.Emergency.DetectionM)
	v.SetDefault("emergency.emergency_passthrough_m", def.Emergency.PassthroughM)
	v.SetDefault("emergency.override_cooldown_s", def.Emergency.OverrideCooldown)
	v.SetDefault("emergency.preempt_duration_s", def.Emergency.PreemptDuration)
	v.SetDefault("emergency.clearance_distance_m", def.Emergency.ClearanceDistanceM)
	v.SetDefault("emergency.clearance_ticks", def.Emergency.ClearanceTicks)
	v.SetDefault("emergency.emergency_substrings", def.Emergency.Substrings)

	v.SetDefault("wireless.short_range_m", def.Wireless.ShortRangeM)
	v.SetDefault("wireless.long_range_m", def.Wireless.LongRangeM)

	v.SetDefault("breaker.window_s", def.Breaker.Window)
	v.SetDefault("breaker.cooldown_s", def.Breaker.Cooldown)
	v.SetDefault("breaker.failure_threshold", def.Breaker.FailureThresh)
	v.SetDefault("breaker.min_samples", def.Breaker.MinSamples)

	v.SetDefault("metrics.metrics_epoch_ticks", def.Metrics.EpochTicks)
	v.SetDefault("metrics.packets_csv_path", def.Metrics.PacketsCSV)
	v.SetDefault("metrics.metrics_csv_path", def.Metrics.MetricsCSV)
	v.SetDefault("metrics.summary_json_path", def.Metrics.SummaryJSON)

	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.sampling_strategy", def.Observability.Tracing.SamplingStrategy)
	v.SetDefault("observability.tracing.sampling_rate", def.Observability.Tracing.SamplingRate)

	v.SetDefault("rsu_catalog_path", def.RSUCatalogPath)
	v.SetDefault("junction_topology_path", def.JunctionTopologyPath)
	v.SetDefault("seed", def.Seed)
	v.SetDefault("max_ticks", def.MaxTicks)
	v.SetDefault("step_timeout", def.StepTimeout)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints, returning a *ConfigurationError on
// the first invalid setting found.
func Validate(cfg *Config) error {
	switch cfg.Mode {
	case ModeDensity, ModeRL, ModeHybrid, ModeProximity:
	default:
		return NewConfigurationError("mode", cfg.Mode, "must be one of density|rl|hybrid|proximity")
	}
	if cfg.Signal.MinGreen <= 0 {
		return NewConfigurationError("signal.min_green_s", cfg.Signal.MinGreen, "must be > 0")
	}
	if cfg.Signal.MaxGreen < cfg.Signal.MinGreen {
		return NewConfigurationError("signal.max_green_s", cfg.Signal.MaxGreen, "must be >= min_green_s")
	}
	if cfg.Signal.Yellow <= 0 {
		return NewConfigurationError("signal.yellow_s", cfg.Signal.Yellow, "must be > 0")
	}
	if cfg.Signal.DensityHigh <= cfg.Signal.DensityLow {
		return NewConfigurationError("signal.density_high", cfg.Signal.DensityHigh, "must be > density_low")
	}
	if cfg.Emergency.PassthroughM <= 0 || cfg.Emergency.PassthroughM >= cfg.Emergency.DetectionM {
		return NewConfigurationError("emergency.emergency_passthrough_m", cfg.Emergency.PassthroughM, "must be > 0 and < emergency_detection_m")
	}
	if cfg.Emergency.DetectionM >= cfg.Emergency.ProximityThresholdM {
		return NewConfigurationError("emergency.emergency_detection_m", cfg.Emergency.DetectionM, "must be < proximity_threshold_m")
	}
	if cfg.Emergency.OverrideCooldown < 0 {
		return NewConfigurationError("emergency.override_cooldown_s", cfg.Emergency.OverrideCooldown, "must be >= 0")
	}
	if len(cfg.Emergency.Substrings) == 0 {
		return NewConfigurationError("emergency.emergency_substrings", cfg.Emergency.Substrings, "must be non-empty")
	}
	if cfg.Wireless.ShortRangeM <= 0 {
		return NewConfigurationError("wireless.short_range_m", cfg.Wireless.ShortRangeM, "must be > 0")
	}
	if cfg.Wireless.LongRangeM <= cfg.Wireless.ShortRangeM {
		return NewConfigurationError("wireless.long_range_m", cfg.Wireless.LongRangeM, "must be > short_range_m")
	}
	if cfg.Breaker.Window <= 0 {
		return NewConfigurationError("breaker.window_s", cfg.Breaker.Window, "must be > 0")
	}
	if cfg.Breaker.Cooldown <= 0 {
		return NewConfigurationError("breaker.cooldown_s", cfg.Breaker.Cooldown, "must be > 0")
	}
	if cfg.Breaker.FailureThresh <= 0 || cfg.Breaker.FailureThresh > 1 {
		return NewConfigurationError("breaker.failure_threshold", cfg.Breaker.FailureThresh, "must be in (0, 1]")
	}
	if cfg.Breaker.MinSamples < 1 {
		return NewConfigurationError("breaker.min_samples", cfg.Breaker.MinSamples, "must be >= 1")
	}
	if cfg.Metrics.EpochTicks < 1 {
		return NewConfigurationError("metrics.metrics_epoch_ticks", cfg.Metrics.EpochTicks, "must be >= 1")
	}
	if cfg.MaxTicks < 1 {
		return NewConfigurationError("max_ticks", cfg.MaxTicks, "must be >= 1")
	}
	if cfg.StepTimeout <= 0 {
		return NewConfigurationError("step_timeout", cfg.StepTimeout, "must be > 0")
	}
	if (cfg.Mode == ModeRL) && cfg.PolicySnapshotPath == "" {
		return NewConfigurationError("policy_snapshot_path", "", "required when mode is rl")
	}
	return nil
}
