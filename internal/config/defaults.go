package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/turtacn/PoseRank/internal/domain/structure"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/internal/intelligence/forcefield"
	"github.com/turtacn/PoseRank/internal/intelligence/so3lr"
	"github.com/turtacn/PoseRank/internal/intelligence/xtb"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultProbeTimeout = 10 * time.Second

	DefaultStorageRegion  = "us-east-1"
	DefaultStorageTimeout = 5 * time.Minute

	DefaultCacheAddr      = "localhost:6379"
	DefaultCacheTTL       = 7 * 24 * time.Hour
	DefaultCacheKeyPrefix = "poserank:result:"
	DefaultDialTimeout    = 5 * time.Second

	DefaultResultTopic  = "poserank.pose.ranked"
	DefaultSummaryTopic = "poserank.batch.completed"
	DefaultWriteTimeout = 10 * time.Second
	DefaultEventSource  = "poserank"

	DefaultMetricsNamespace = "poserank"
	DefaultMetricsJob       = "poserank"
)

// Default returns a Config populated with every default, including the
// boolean switches that ApplyDefaults cannot infer from zero values.
func Default() *Config {
	batch := pose.DefaultBatchConfig()
	cfg := &Config{
		Log: logging.LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Ranking: RankingConfig{
			EnergyMethod:         string(batch.EnergyMethod),
			DistanceCutoff:       batch.DistanceCutoff,
			UseChopping:          batch.UseChopping,
			OptimizeComplex:      batch.OptimizeComplex,
			OptimizeLigand:       batch.OptimizeLigand,
			LRCutoff:             batch.LRCutoff,
			Device:               batch.Device,
			EnableDeviceFallback: batch.EnableDeviceFallback,
			Upload:               batch.Upload,
			PoseTimeout:          batch.PoseTimeout,
			LigandResName:        structure.DefaultLigandResName,
			Scoring:              ScoringConfig{Policy: forcefield.PolicySum, InteractionWeight: 1, StrainWeight: 1},
		},
		Engines: EnginesConfig{
			XTB:   xtb.DefaultConfig(),
			SO3LR: so3lr.DefaultConfig(),
			DeviceProbe: DeviceProbeConfig{
				Command: append([]string(nil), common.DefaultProbeCommand...),
				Timeout: DefaultProbeTimeout,
			},
			Hydrogens: forcefield.DefaultHydrogenConfig(),
		},
		Storage: StorageConfig{Region: DefaultStorageRegion, Timeout: DefaultStorageTimeout},
		Cache: CacheConfig{
			Addr:        DefaultCacheAddr,
			DialTimeout: DefaultDialTimeout,
			TTL:         DefaultCacheTTL,
			KeyPrefix:   DefaultCacheKeyPrefix,
		},
		Events: EventsConfig{
			ResultTopic:  DefaultResultTopic,
			SummaryTopic: DefaultSummaryTopic,
			WriteTimeout: DefaultWriteTimeout,
			Source:       DefaultEventSource,
		},
		Metrics: MetricsConfig{Namespace: DefaultMetricsNamespace, JobName: DefaultMetricsJob},
	}
	return cfg
}

// ApplyDefaults fills every zero-value field in cfg with the default.
// Fields that have already been set (non-zero values) are left unchanged so
// that explicit configuration always wins. Booleans are not touched; they
// get their defaults from the viper layer.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	d := Default()

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}

	// ── Ranking ───────────────────────────────────────────────────────────────
	r := &cfg.Ranking
	if r.EnergyMethod == "" {
		r.EnergyMethod = d.Ranking.EnergyMethod
	}
	if r.DistanceCutoff == 0 {
		r.DistanceCutoff = d.Ranking.DistanceCutoff
	}
	if r.Device == "" {
		r.Device = d.Ranking.Device
	}
	if r.Upload.Folder == "" {
		r.Upload.Folder = d.Ranking.Upload.Folder
	}
	if r.LigandResName == "" {
		r.LigandResName = d.Ranking.LigandResName
	}
	if r.Scoring.Policy == "" {
		r.Scoring.Policy = d.Ranking.Scoring.Policy
	}
	// PoseTimeout 0 is a valid explicit value (no deadline) and stays.

	// ── Engines ───────────────────────────────────────────────────────────────
	x := &cfg.Engines.XTB
	if x.Binary == "" {
		x.Binary = d.Engines.XTB.Binary
	}
	if x.ForceConstant == 0 {
		x.ForceConstant = d.Engines.XTB.ForceConstant
	}
	if x.VersionTimeout == 0 {
		x.VersionTimeout = d.Engines.XTB.VersionTimeout
	}
	if x.LigandResName == "" {
		x.LigandResName = r.LigandResName
	}

	s := &cfg.Engines.SO3LR
	if s.Command == "" {
		s.Command = d.Engines.SO3LR.Command
	}
	if s.FMax == 0 {
		s.FMax = d.Engines.SO3LR.FMax
	}
	if s.CheckTimeout == 0 {
		s.CheckTimeout = d.Engines.SO3LR.CheckTimeout
	}
	if s.LigandResName == "" {
		s.LigandResName = r.LigandResName
	}

	p := &cfg.Engines.DeviceProbe
	if len(p.Command) == 0 {
		p.Command = d.Engines.DeviceProbe.Command
	}
	if p.Timeout == 0 {
		p.Timeout = d.Engines.DeviceProbe.Timeout
	}

	hy := &cfg.Engines.Hydrogens
	if len(hy.Command) == 0 {
		hy.Command = d.Engines.Hydrogens.Command
	}
	if hy.Timeout == 0 {
		hy.Timeout = d.Engines.Hydrogens.Timeout
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = d.Storage.Region
	}
	if cfg.Storage.Timeout == 0 {
		cfg.Storage.Timeout = d.Storage.Timeout
	}
	if cfg.Storage.DefaultBucket == "" {
		cfg.Storage.DefaultBucket = r.Upload.Bucket
	}

	// ── Cache ─────────────────────────────────────────────────────────────────
	if cfg.Cache.Addr == "" {
		cfg.Cache.Addr = d.Cache.Addr
	}
	if cfg.Cache.DialTimeout == 0 {
		cfg.Cache.DialTimeout = d.Cache.DialTimeout
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = d.Cache.TTL
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = d.Cache.KeyPrefix
	}
	// DB is an int; 0 is both the default and a valid explicit value.

	// ── Events ────────────────────────────────────────────────────────────────
	if cfg.Events.ResultTopic == "" {
		cfg.Events.ResultTopic = d.Events.ResultTopic
	}
	if cfg.Events.SummaryTopic == "" {
		cfg.Events.SummaryTopic = d.Events.SummaryTopic
	}
	if cfg.Events.WriteTimeout == 0 {
		cfg.Events.WriteTimeout = d.Events.WriteTimeout
	}
	if cfg.Events.Source == "" {
		cfg.Events.Source = d.Events.Source
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = d.Metrics.Namespace
	}
	if cfg.Metrics.JobName == "" {
		cfg.Metrics.JobName = d.Metrics.JobName
	}
}

// registerDefaults seeds v with every key so that environment variables are
// honoured for keys absent from the config file and booleans default true
// where the pipeline expects it.
func registerDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output_paths", []string{})
	v.SetDefault("log.error_output_paths", []string{})

	v.SetDefault("ranking.energy_method", d.Ranking.EnergyMethod)
	v.SetDefault("ranking.distance_cutoff", d.Ranking.DistanceCutoff)
	v.SetDefault("ranking.use_chopping", d.Ranking.UseChopping)
	v.SetDefault("ranking.optimize_complex", d.Ranking.OptimizeComplex)
	v.SetDefault("ranking.optimize_ligand", d.Ranking.OptimizeLigand)
	v.SetDefault("ranking.lr_cutoff", d.Ranking.LRCutoff)
	v.SetDefault("ranking.device", d.Ranking.Device)
	v.SetDefault("ranking.force_cpu", d.Ranking.ForceCPU)
	v.SetDefault("ranking.enable_device_fallback", d.Ranking.EnableDeviceFallback)
	v.SetDefault("ranking.upload.bucket", d.Ranking.Upload.Bucket)
	v.SetDefault("ranking.upload.folder", d.Ranking.Upload.Folder)
	v.SetDefault("ranking.pose_timeout", d.Ranking.PoseTimeout)
	v.SetDefault("ranking.scratch_dir", d.Ranking.ScratchDir)
	v.SetDefault("ranking.ligand_resname", d.Ranking.LigandResName)
	v.SetDefault("ranking.scoring.policy", d.Ranking.Scoring.Policy)
	v.SetDefault("ranking.scoring.interaction_weight", d.Ranking.Scoring.InteractionWeight)
	v.SetDefault("ranking.scoring.strain_weight", d.Ranking.Scoring.StrainWeight)

	v.SetDefault("engines.xtb.binary", d.Engines.XTB.Binary)
	v.SetDefault("engines.xtb.solvent", d.Engines.XTB.Solvent)
	v.SetDefault("engines.xtb.force_constant", d.Engines.XTB.ForceConstant)
	v.SetDefault("engines.xtb.version_timeout", d.Engines.XTB.VersionTimeout)
	v.SetDefault("engines.xtb.ligand_resname", "")
	v.SetDefault("engines.xtb.fill_gaps", d.Engines.XTB.FillGaps)

	v.SetDefault("engines.so3lr.command", d.Engines.SO3LR.Command)
	v.SetDefault("engines.so3lr.args", []string{})
	v.SetDefault("engines.so3lr.charge", d.Engines.SO3LR.Charge)
	v.SetDefault("engines.so3lr.fmax", d.Engines.SO3LR.FMax)
	v.SetDefault("engines.so3lr.max_steps", d.Engines.SO3LR.MaxSteps)
	v.SetDefault("engines.so3lr.check_timeout", d.Engines.SO3LR.CheckTimeout)
	v.SetDefault("engines.so3lr.ligand_resname", "")
	v.SetDefault("engines.so3lr.fill_gaps", d.Engines.SO3LR.FillGaps)

	v.SetDefault("engines.device_probe.command", d.Engines.DeviceProbe.Command)
	v.SetDefault("engines.device_probe.timeout", d.Engines.DeviceProbe.Timeout)

	v.SetDefault("engines.hydrogens.enabled", d.Engines.Hydrogens.Enabled)
	v.SetDefault("engines.hydrogens.command", d.Engines.Hydrogens.Command)
	v.SetDefault("engines.hydrogens.timeout", d.Engines.Hydrogens.Timeout)

	v.SetDefault("storage.endpoint", d.Storage.Endpoint)
	v.SetDefault("storage.access_key", d.Storage.AccessKey)
	v.SetDefault("storage.secret_key", d.Storage.SecretKey)
	v.SetDefault("storage.region", d.Storage.Region)
	v.SetDefault("storage.use_ssl", d.Storage.UseSSL)
	v.SetDefault("storage.default_bucket", d.Storage.DefaultBucket)
	v.SetDefault("storage.timeout", d.Storage.Timeout)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.addr", d.Cache.Addr)
	v.SetDefault("cache.password", d.Cache.Password)
	v.SetDefault("cache.db", d.Cache.DB)
	v.SetDefault("cache.dial_timeout", d.Cache.DialTimeout)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.key_prefix", d.Cache.KeyPrefix)

	v.SetDefault("events.enabled", d.Events.Enabled)
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.result_topic", d.Events.ResultTopic)
	v.SetDefault("events.summary_topic", d.Events.SummaryTopic)
	v.SetDefault("events.write_timeout", d.Events.WriteTimeout)
	v.SetDefault("events.source", d.Events.Source)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.pushgateway_url", d.Metrics.PushgatewayURL)
	v.SetDefault("metrics.job_name", d.Metrics.JobName)
}
