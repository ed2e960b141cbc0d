// Package config defines the configuration of the PoseRank pipeline. This
// file holds plain data types and validation only.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/intelligence/forcefield"
	"github.com/turtacn/PoseRank/internal/intelligence/so3lr"
	"github.com/turtacn/PoseRank/internal/intelligence/xtb"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ScoringConfig selects how interaction and strain combine into total_score.
type ScoringConfig struct {
	Policy            string  `mapstructure:"policy" yaml:"policy"` // "sum" | "weighted"
	InteractionWeight float64 `mapstructure:"interaction_weight" yaml:"interaction_weight"`
	StrainWeight      float64 `mapstructure:"strain_weight" yaml:"strain_weight"`
}

// RankingConfig holds the batch defaults and orchestrator settings.
type RankingConfig struct {
	EnergyMethod         string            `mapstructure:"energy_method" yaml:"energy_method"`
	DistanceCutoff       float64           `mapstructure:"distance_cutoff" yaml:"distance_cutoff"`
	UseChopping          bool              `mapstructure:"use_chopping" yaml:"use_chopping"`
	OptimizeComplex      bool              `mapstructure:"optimize_complex" yaml:"optimize_complex"`
	OptimizeLigand       bool              `mapstructure:"optimize_ligand" yaml:"optimize_ligand"`
	LRCutoff             float64           `mapstructure:"lr_cutoff" yaml:"lr_cutoff"`
	Device               string            `mapstructure:"device" yaml:"device"`
	ForceCPU             bool              `mapstructure:"force_cpu" yaml:"force_cpu"`
	EnableDeviceFallback bool              `mapstructure:"enable_device_fallback" yaml:"enable_device_fallback"`
	Upload               pose.UploadTarget `mapstructure:"upload" yaml:"upload"`
	PoseTimeout          time.Duration     `mapstructure:"pose_timeout" yaml:"pose_timeout"`

	// ScratchDir is the parent of per-pose workspaces. Empty uses the
	// system temp directory.
	ScratchDir    string        `mapstructure:"scratch_dir" yaml:"scratch_dir"`
	LigandResName string        `mapstructure:"ligand_resname" yaml:"ligand_resname"`
	Scoring       ScoringConfig `mapstructure:"scoring" yaml:"scoring"`
}

// DeviceProbeConfig controls accelerator detection.
type DeviceProbeConfig struct {
	Command []string      `mapstructure:"command" yaml:"command"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EnginesConfig groups the force-field engine settings.
type EnginesConfig struct {
	XTB         xtb.Config                `mapstructure:"xtb" yaml:"xtb"`
	SO3LR       so3lr.Config              `mapstructure:"so3lr" yaml:"so3lr"`
	DeviceProbe DeviceProbeConfig         `mapstructure:"device_probe" yaml:"device_probe"`
	Hydrogens   forcefield.HydrogenConfig `mapstructure:"hydrogens" yaml:"hydrogens"`
}

// StorageConfig holds MinIO / S3-compatible object-storage parameters.
// An empty Endpoint restricts artifact transfer to local paths.
type StorageConfig struct {
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey     string        `mapstructure:"access_key" yaml:"access_key"`
	SecretKey     string        `mapstructure:"secret_key" yaml:"secret_key"`
	Region        string        `mapstructure:"region" yaml:"region"`
	UseSSL        bool          `mapstructure:"use_ssl" yaml:"use_ssl"`
	DefaultBucket string        `mapstructure:"default_bucket" yaml:"default_bucket"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// CacheConfig holds the Redis result cache parameters.
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr        string        `mapstructure:"addr" yaml:"addr"`
	Password    string        `mapstructure:"password" yaml:"password"`
	DB          int           `mapstructure:"db" yaml:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	TTL         time.Duration `mapstructure:"ttl" yaml:"ttl"`
	KeyPrefix   string        `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// EventsConfig holds the Kafka result stream parameters.
type EventsConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	ResultTopic  string        `mapstructure:"result_topic" yaml:"result_topic"`
	SummaryTopic string        `mapstructure:"summary_topic" yaml:"summary_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	Source       string        `mapstructure:"source" yaml:"source"`
}

// MetricsConfig holds Prometheus parameters. Metrics are pushed once per
// batch when PushgatewayURL is set.
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace      string `mapstructure:"namespace" yaml:"namespace"`
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	JobName        string `mapstructure:"job_name" yaml:"job_name"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration of a PoseRank process.
type Config struct {
	Log     logging.LogConfig `mapstructure:"log" yaml:"log"`
	Ranking RankingConfig     `mapstructure:"ranking" yaml:"ranking"`
	Engines EnginesConfig     `mapstructure:"engines" yaml:"engines"`
	Storage StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Cache   CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Events  EventsConfig      `mapstructure:"events" yaml:"events"`
	Metrics MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// ToBatchConfig converts the ranking section into batch defaults.
func (c *Config) ToBatchConfig() pose.BatchConfig {
	r := c.Ranking
	method := pose.Method(r.EnergyMethod)
	if m, err := pose.ParseMethod(r.EnergyMethod); err == nil {
		method = m
	}
	return pose.BatchConfig{
		EnergyMethod:         method,
		DistanceCutoff:       r.DistanceCutoff,
		UseChopping:          r.UseChopping,
		OptimizeComplex:      r.OptimizeComplex,
		OptimizeLigand:       r.OptimizeLigand,
		LRCutoff:             r.LRCutoff,
		Device:               r.Device,
		ForceCPU:             r.ForceCPU,
		EnableDeviceFallback: r.EnableDeviceFallback,
		Upload:               r.Upload,
		PoseTimeout:          r.PoseTimeout,
	}
}

// ScoringPolicy builds the configured scoring policy.
func (c *Config) ScoringPolicy() (forcefield.ScoringPolicy, error) {
	s := c.Ranking.Scoring
	return forcefield.NewScoringPolicy(s.Policy, s.InteractionWeight, s.StrainWeight)
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered.
func (c *Config) Validate() error {
	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	// Ranking
	if err := c.ToBatchConfig().Validate(); err != nil {
		return fmt.Errorf("config: ranking: %w", err)
	}
	if _, err := c.ScoringPolicy(); err != nil {
		return fmt.Errorf("config: ranking.scoring: %w", err)
	}

	// Engines
	if c.Engines.XTB.Binary == "" {
		return fmt.Errorf("config: engines.xtb.binary is required")
	}
	if c.Engines.SO3LR.Command == "" {
		return fmt.Errorf("config: engines.so3lr.command is required")
	}
	if c.Engines.SO3LR.MaxSteps < 0 {
		return fmt.Errorf("config: engines.so3lr.max_steps must be ≥ 0, got %d", c.Engines.SO3LR.MaxSteps)
	}

	if err := c.Engines.Hydrogens.Validate(); err != nil {
		return fmt.Errorf("config: engines.hydrogens: %w", err)
	}

	// Storage
	if c.Storage.Endpoint != "" && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		return fmt.Errorf("config: storage.access_key and storage.secret_key are required with storage.endpoint")
	}

	// Cache
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("config: cache.addr is required when the cache is enabled")
	}
	if c.Cache.DB < 0 {
		return fmt.Errorf("config: cache.db must be ≥ 0, got %d", c.Cache.DB)
	}

	// Events
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		return fmt.Errorf("config: events.brokers must contain at least one broker address")
	}

	// Metrics
	if c.Metrics.PushgatewayURL != "" && c.Metrics.JobName == "" {
		return fmt.Errorf("config: metrics.job_name is required with metrics.pushgateway_url")
	}

	return nil
}
