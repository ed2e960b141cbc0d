package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/PoseRank/pkg/types/pose"
)

const validConfigYAML = `
log:
  level: debug
  format: console
ranking:
  energy_method: so3lr
  distance_cutoff: 6.5
  use_chopping: false
  optimize_ligand: false
  device: cuda:0
  pose_timeout: 45m
  scratch_dir: /scratch/poserank
  upload:
    bucket: results
    folder: run-42
  scoring:
    policy: weighted
    interaction_weight: 1
    strain_weight: 0.25
engines:
  xtb:
    binary: /opt/xtb/bin/xtb
    solvent: ""
  so3lr:
    command: python
    args: ["-m", "so3lr_driver"]
    max_steps: 500
storage:
  endpoint: minio:9000
  access_key: key
  secret_key: secret
cache:
  enabled: true
  addr: redis:6379
  ttl: 24h
events:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
metrics:
  pushgateway_url: http://pgw:9091
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromFile_ValidConfig(t *testing.T) {
	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "so3lr", cfg.Ranking.EnergyMethod)
	assert.Equal(t, 6.5, cfg.Ranking.DistanceCutoff)
	assert.False(t, cfg.Ranking.UseChopping)
	assert.True(t, cfg.Ranking.OptimizeComplex, "unset booleans keep their defaults")
	assert.False(t, cfg.Ranking.OptimizeLigand)
	assert.True(t, cfg.Ranking.EnableDeviceFallback)
	assert.Equal(t, 45*time.Minute, cfg.Ranking.PoseTimeout)
	assert.Equal(t, pose.UploadTarget{Bucket: "results", Folder: "run-42"}, cfg.Ranking.Upload)
	assert.Equal(t, 0.25, cfg.Ranking.Scoring.StrainWeight)

	assert.Equal(t, "/opt/xtb/bin/xtb", cfg.Engines.XTB.Binary)
	assert.Empty(t, cfg.Engines.XTB.Solvent)
	assert.Equal(t, []string{"-m", "so3lr_driver"}, cfg.Engines.SO3LR.Args)
	assert.Equal(t, 500, cfg.Engines.SO3LR.MaxSteps)
	assert.Equal(t, 0.05, cfg.Engines.SO3LR.FMax)

	assert.Equal(t, "results", cfg.Storage.DefaultBucket)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Events.Brokers)
	assert.Equal(t, DefaultMetricsJob, cfg.Metrics.JobName)
}

func TestLoad_FromFile_FileNotFound(t *testing.T) {
	_, err := Load("non_existent_config.yaml")
	assert.ErrorIs(t, err, ErrConfigFileNotFound)
}

func TestLoad_FromFile_InvalidYAML(t *testing.T) {
	_, err := Load(createTempConfigFile(t, "invalid_yaml: ["))
	assert.ErrorIs(t, err, ErrConfigParseError)
}

func TestLoad_FromFile_ValidationFailure(t *testing.T) {
	_, err := Load(createTempConfigFile(t, "ranking:\n  energy_method: dft\n"))
	assert.ErrorIs(t, err, ErrConfigValidation)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("POSERANK_RANKING_DEVICE", "cpu")
	t.Setenv("POSERANK_ENGINES_XTB_SOLVENT", "dmso")

	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, "cpu", cfg.Ranking.Device)
	assert.Equal(t, "dmso", cfg.Engines.XTB.Solvent)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("POSERANK_RANKING_ENERGY_METHOD", "so3lr")
	t.Setenv("POSERANK_RANKING_FORCE_CPU", "true")
	t.Setenv("POSERANK_CACHE_DB", "3")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "so3lr", cfg.Ranking.EnergyMethod)
	assert.True(t, cfg.Ranking.ForceCPU)
	assert.True(t, cfg.Ranking.UseChopping)
	assert.Equal(t, pose.DefaultPoseTimeout, cfg.Ranking.PoseTimeout)
	assert.Equal(t, 3, cfg.Cache.DB)
	assert.Equal(t, "xtb", cfg.Engines.XTB.Binary)
	assert.True(t, cfg.Engines.Hydrogens.Enabled, "ligand hydrogens are completed by default")
}

func TestLoad_EmptyPathUsesEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
}
