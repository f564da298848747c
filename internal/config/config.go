// Package config loads the monitor configuration from YAML, ARAIM_*
// environment variables and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/internal/logging"
	"github.com/signalsfoundry/araim-monitor/internal/observability"
	"github.com/signalsfoundry/araim-monitor/model"
	"github.com/signalsfoundry/araim-monitor/timectrl"
)

// Config is the resolved monitor configuration.
type Config struct {
	Engine  EngineSettings  `mapstructure:"engine"`
	ISM     ISMSettings     `mapstructure:"ism"`
	Source  SourceSettings  `mapstructure:"source"`
	Feed    FeedSettings    `mapstructure:"feed"`
	Store   StoreSettings   `mapstructure:"store"`
	Archive ArchiveSettings `mapstructure:"archive"`
	Server  ServerSettings  `mapstructure:"server"`
	Run     RunSettings     `mapstructure:"run"`
	Tracing TracingSettings `mapstructure:"tracing"`
	Log     LogSettings     `mapstructure:"log"`
}

// EngineSettings mirror core.Config.
type EngineSettings struct {
	IntegrityBudget           float64 `mapstructure:"integrity_budget"`
	VerticalIntegrityBudget   float64 `mapstructure:"vertical_integrity_budget"`
	HorizontalIntegrityBudget float64 `mapstructure:"horizontal_integrity_budget"`

	FalseAlertBudget           float64 `mapstructure:"false_alert_budget"`
	VerticalContinuityBudget   float64 `mapstructure:"vertical_continuity_budget"`
	HorizontalContinuityBudget float64 `mapstructure:"horizontal_continuity_budget"`
	ChiSquaredContinuityBudget float64 `mapstructure:"chi_squared_continuity_budget"`
	ContinuityAllocation       string  `mapstructure:"continuity_allocation"`

	Tolerance          float64 `mapstructure:"tolerance"`
	MaxProtectionLevel float64 `mapstructure:"max_protection_level"`
	AccuracyStdDevs    float64 `mapstructure:"accuracy_std_devs"`
	FaultFreeStdDevs   float64 `mapstructure:"fault_free_std_devs"`
	EMTProbability     float64 `mapstructure:"emt_probability"`

	VerticalAlertLimit   float64 `mapstructure:"vertical_alert_limit"`
	HorizontalAlertLimit float64 `mapstructure:"horizontal_alert_limit"`
	EMTLimit             float64 `mapstructure:"emt_limit"`

	ConsistencyCheckPeriod time.Duration `mapstructure:"consistency_check_period"`
	RecoveryPeriod         time.Duration `mapstructure:"recovery_period"`
	MaxRecoveryAttempts    int           `mapstructure:"max_recovery_attempts"`

	MaxFaultOrder            int     `mapstructure:"max_fault_order"`
	NegligibleProbability    float64 `mapstructure:"negligible_probability"`
	UnmonitoredRiskAllowance float64 `mapstructure:"unmonitored_risk_allowance"`
	VarianceTolerance        float64 `mapstructure:"variance_tolerance"`
	Workers                  int     `mapstructure:"workers"`
}

// ISMEntry is one satellite's integrity parameters.
type ISMEntry struct {
	ID       string  `mapstructure:"id"`
	SigmaURA float64 `mapstructure:"sigma_ura"`
	SigmaURE float64 `mapstructure:"sigma_ure"`
	MaxBias  float64 `mapstructure:"max_bias"`
	PSat     float64 `mapstructure:"p_sat"`
}

// ConstellationFault is one constellation-wide fault probability.
// Lists are used instead of maps because viper lower-cases map keys.
type ConstellationFault struct {
	Name   string  `mapstructure:"name"`
	PConst float64 `mapstructure:"p_const"`
}

// ISMSettings configure the static integrity feed.
type ISMSettings struct {
	Default        ISMEntry             `mapstructure:"default"`
	Constellations []ConstellationFault `mapstructure:"constellations"`
	Overrides      []ISMEntry           `mapstructure:"overrides"`
}

// SourceSettings select the measurement source: "simulator" reads a
// scenario file, "static" replays recorded snapshots.
type SourceSettings struct {
	Kind      string `mapstructure:"kind"`
	Scenario  string `mapstructure:"scenario"`
	Snapshots string `mapstructure:"snapshots"`
}

// FeedSettings select the integrity feed: "static" or "websocket".
type FeedSettings struct {
	Kind   string        `mapstructure:"kind"`
	URL    string        `mapstructure:"url"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

// StoreSettings select the exclusion store: "memory" or "redis".
type StoreSettings struct {
	Kind     string        `mapstructure:"kind"`
	RedisURL string        `mapstructure:"redis_url"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ArchiveSettings enable the PostgreSQL epoch archive when DatabaseURL is set.
type ArchiveSettings struct {
	DatabaseURL string `mapstructure:"database_url"`
}

// ServerSettings configure the network listeners. Empty addresses disable
// the listener.
type ServerSettings struct {
	GRPCAddr    string `mapstructure:"grpc_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// RunSettings drive the epoch controller.
type RunSettings struct {
	Interval time.Duration `mapstructure:"interval"`
	Duration time.Duration `mapstructure:"duration"`
	Mode     string        `mapstructure:"mode"`
	// Start overrides the first epoch; empty uses the scenario epoch or
	// the current time.
	Start string `mapstructure:"start"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LogSettings configures the structured logger.
type LogSettings struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// flagBindings maps viper keys to pflag names.
var flagBindings = map[string]string{
	"server.grpc_addr":    "grpc-addr",
	"server.metrics_addr": "metrics-addr",
	"source.scenario":     "scenario",
	"run.duration":        "duration",
	"run.mode":            "mode",
	"log.level":           "log-level",
}

// Load resolves the configuration. Precedence: flags > env > file > defaults.
// path and flags may be empty.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", core.ErrConfig, path, err)
		}
	}

	v.SetEnvPrefix("ARAIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", core.ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := core.DefaultConfig()
	v.SetDefault("engine.integrity_budget", d.IntegrityBudget)
	v.SetDefault("engine.vertical_integrity_budget", d.VerticalIntegrityBudget)
	v.SetDefault("engine.horizontal_integrity_budget", d.HorizontalIntegrityBudget)
	v.SetDefault("engine.false_alert_budget", d.FalseAlertBudget)
	v.SetDefault("engine.vertical_continuity_budget", d.VerticalContinuityBudget)
	v.SetDefault("engine.horizontal_continuity_budget", d.HorizontalContinuityBudget)
	v.SetDefault("engine.chi_squared_continuity_budget", d.ChiSquaredContinuityBudget)
	v.SetDefault("engine.continuity_allocation", d.ContinuityAllocation.String())
	v.SetDefault("engine.tolerance", d.Tolerance)
	v.SetDefault("engine.max_protection_level", d.MaxProtectionLevel)
	v.SetDefault("engine.accuracy_std_devs", d.AccuracyStdDevs)
	v.SetDefault("engine.fault_free_std_devs", d.FaultFreeStdDevs)
	v.SetDefault("engine.emt_probability", d.EMTProbability)
	v.SetDefault("engine.vertical_alert_limit", d.VerticalAlertLimit)
	v.SetDefault("engine.horizontal_alert_limit", d.HorizontalAlertLimit)
	v.SetDefault("engine.emt_limit", d.EMTLimit)
	v.SetDefault("engine.consistency_check_period", d.ConsistencyCheckPeriod)
	v.SetDefault("engine.recovery_period", d.RecoveryPeriod)
	v.SetDefault("engine.max_recovery_attempts", d.MaxRecoveryAttempts)
	v.SetDefault("engine.max_fault_order", d.MaxFaultOrder)
	v.SetDefault("engine.negligible_probability", d.NegligibleProbability)
	v.SetDefault("engine.unmonitored_risk_allowance", d.UnmonitoredRiskAllowance)
	v.SetDefault("engine.variance_tolerance", d.VarianceTolerance)
	v.SetDefault("engine.workers", d.Workers)

	v.SetDefault("ism.default.sigma_ura", 0.75)
	v.SetDefault("ism.default.sigma_ure", 0.5)
	v.SetDefault("ism.default.max_bias", 0.5)
	v.SetDefault("ism.default.p_sat", 4e-8)
	v.SetDefault("ism.constellations", []map[string]any{
		{"name": "GPS", "p_const": 4e-8},
		{"name": "Galileo", "p_const": 4e-8},
	})

	v.SetDefault("source.kind", "simulator")
	v.SetDefault("source.scenario", "")
	v.SetDefault("source.snapshots", "")
	v.SetDefault("feed.kind", "static")
	v.SetDefault("feed.url", "")
	v.SetDefault("feed.max_age", 10*time.Minute)
	v.SetDefault("store.kind", "memory")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.prefix", "araim")
	v.SetDefault("store.ttl", 24*time.Hour)
	v.SetDefault("archive.database_url", "")
	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("run.interval", time.Second)
	v.SetDefault("run.duration", time.Duration(0))
	v.SetDefault("run.mode", "realtime")
	v.SetDefault("run.start", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.add_source", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "araim-monitor")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate checks every section; the engine section is checked by
// core.Config.Validate.
func (c *Config) Validate() error {
	if _, err := c.CoreConfig(); err != nil {
		return err
	}
	if _, err := c.DefaultIntegrity(); err != nil {
		return err
	}
	for _, o := range c.ISM.Overrides {
		if o.ID == "" {
			return fmt.Errorf("%w: ism override requires an id", core.ErrConfig)
		}
		if err := core.ValidateSatelliteIntegrity(o.integrity()); err != nil {
			return fmt.Errorf("%w: ism override %s: %v", core.ErrConfig, o.ID, err)
		}
	}
	for _, cf := range c.ISM.Constellations {
		if cf.Name == "" || cf.PConst < 0 || cf.PConst > 1 {
			return fmt.Errorf("%w: constellation fault %q = %g invalid", core.ErrConfig, cf.Name, cf.PConst)
		}
	}

	switch c.Source.Kind {
	case "simulator":
		if c.Source.Scenario == "" {
			return fmt.Errorf("%w: source.scenario is required for the simulator", core.ErrConfig)
		}
	case "static":
		if c.Source.Snapshots == "" {
			return fmt.Errorf("%w: source.snapshots is required for the static source", core.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %q", core.ErrConfig, c.Source.Kind)
	}

	switch c.Feed.Kind {
	case "static":
	case "websocket":
		if c.Feed.URL == "" {
			return fmt.Errorf("%w: feed.url is required for the websocket feed", core.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown feed kind %q", core.ErrConfig, c.Feed.Kind)
	}
	if c.Feed.MaxAge < 0 {
		return fmt.Errorf("%w: feed.max_age must be non-negative", core.ErrConfig)
	}

	switch c.Store.Kind {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("%w: store.redis_url is required for the redis store", core.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store kind %q", core.ErrConfig, c.Store.Kind)
	}

	if c.Run.Interval <= 0 {
		return fmt.Errorf("%w: run.interval must be positive", core.ErrConfig)
	}
	if c.Run.Duration < 0 {
		return fmt.Errorf("%w: run.duration must be non-negative", core.ErrConfig)
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if _, err := c.StartTime(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", core.ErrConfig, c.Log.Format)
	}
	return c.TracingConfig("").Validate()
}

// CoreConfig converts the engine section into a validated core.Config.
func (c *Config) CoreConfig() (*core.Config, error) {
	e := c.Engine
	alloc, err := core.ParseContinuityAllocation(e.ContinuityAllocation)
	if err != nil {
		return nil, err
	}
	cc := &core.Config{
		IntegrityBudget:            e.IntegrityBudget,
		VerticalIntegrityBudget:    e.VerticalIntegrityBudget,
		HorizontalIntegrityBudget:  e.HorizontalIntegrityBudget,
		FalseAlertBudget:           e.FalseAlertBudget,
		VerticalContinuityBudget:   e.VerticalContinuityBudget,
		HorizontalContinuityBudget: e.HorizontalContinuityBudget,
		ChiSquaredContinuityBudget: e.ChiSquaredContinuityBudget,
		ContinuityAllocation:       alloc,
		Tolerance:                  e.Tolerance,
		MaxProtectionLevel:         e.MaxProtectionLevel,
		AccuracyStdDevs:            e.AccuracyStdDevs,
		FaultFreeStdDevs:           e.FaultFreeStdDevs,
		EMTProbability:             e.EMTProbability,
		VerticalAlertLimit:         e.VerticalAlertLimit,
		HorizontalAlertLimit:       e.HorizontalAlertLimit,
		EMTLimit:                   e.EMTLimit,
		ConsistencyCheckPeriod:     e.ConsistencyCheckPeriod,
		RecoveryPeriod:             e.RecoveryPeriod,
		MaxRecoveryAttempts:        e.MaxRecoveryAttempts,
		MaxFaultOrder:              e.MaxFaultOrder,
		NegligibleProbability:      e.NegligibleProbability,
		UnmonitoredRiskAllowance:   e.UnmonitoredRiskAllowance,
		VarianceTolerance:          e.VarianceTolerance,
		Workers:                    e.Workers,
	}
	if err := cc.Validate(); err != nil {
		return nil, err
	}
	return cc, nil
}

func (e ISMEntry) integrity() model.SatelliteIntegrity {
	return model.SatelliteIntegrity{SigmaURA: e.SigmaURA, SigmaURE: e.SigmaURE, MaxBias: e.MaxBias, PSat: e.PSat}
}

// DefaultIntegrity returns the validated default ISM entry.
func (c *Config) DefaultIntegrity() (model.SatelliteIntegrity, error) {
	s := c.ISM.Default.integrity()
	if err := core.ValidateSatelliteIntegrity(s); err != nil {
		return s, fmt.Errorf("%w: ism.default: %v", core.ErrConfig, err)
	}
	return s, nil
}

// ConstellationFaults returns the constellation probabilities as a map.
func (c *Config) ConstellationFaults() map[model.ConstellationID]float64 {
	out := make(map[model.ConstellationID]float64, len(c.ISM.Constellations))
	for _, cf := range c.ISM.Constellations {
		out[model.ConstellationID(cf.Name)] = cf.PConst
	}
	return out
}

// IntegrityOverrides returns the per-satellite overrides as a map.
func (c *Config) IntegrityOverrides() map[model.SatelliteID]model.SatelliteIntegrity {
	out := make(map[model.SatelliteID]model.SatelliteIntegrity, len(c.ISM.Overrides))
	for _, o := range c.ISM.Overrides {
		out[model.SatelliteID(o.ID)] = o.integrity()
	}
	return out
}

// Mode parses run.mode.
func (c *Config) Mode() (timectrl.Mode, error) {
	switch strings.ToLower(c.Run.Mode) {
	case "", "realtime", "real-time":
		return timectrl.RealTime, nil
	case "accelerated", "fast":
		return timectrl.Accelerated, nil
	default:
		return timectrl.RealTime, fmt.Errorf("%w: unknown run mode %q", core.ErrConfig, c.Run.Mode)
	}
}

// StartTime parses run.start; the zero time means unset.
func (c *Config) StartTime() (time.Time, error) {
	if c.Run.Start == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.Run.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: run.start: %v", core.ErrConfig, err)
	}
	return t.UTC(), nil
}

// TracingConfig converts the tracing section, tagging spans with runID.
func (c *Config) TracingConfig(runID string) observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
		RunID:       runID,
	}
}

// Logger builds the configured logger writing to stderr.
func (c *Config) Logger() logging.Logger {
	return logging.New(logging.Config{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		AddSource: c.Log.AddSource,
	})
}
