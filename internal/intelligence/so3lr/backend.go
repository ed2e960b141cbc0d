// Package so3lr implements the learned-potential energy backend. The model
// runs in an external driver process that speaks a line-oriented JSON
// protocol; the backend prepares structures, selects the compute device and
// retries once on CPU when the accelerator fails.
package so3lr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/turtacn/PoseRank/internal/domain/structure"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/internal/intelligence/forcefield"
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

const engineName = "so3lr"

// Config holds the driver settings.
type Config struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
	// Charge is the total charge of every evaluated system.
	Charge float64 `mapstructure:"charge" yaml:"charge"`
	// FMax is the force convergence criterion in eV/Å.
	FMax float64 `mapstructure:"fmax" yaml:"fmax"`
	// MaxSteps bounds optimisations; zero leaves it to the driver.
	MaxSteps      int           `mapstructure:"max_steps" yaml:"max_steps"`
	CheckTimeout  time.Duration `mapstructure:"check_timeout" yaml:"check_timeout"`
	LigandResName string        `mapstructure:"ligand_resname" yaml:"ligand_resname"`
	FillGaps      int           `mapstructure:"fill_gaps" yaml:"fill_gaps"`
}

// DefaultConfig returns the driver defaults.
func DefaultConfig() Config {
	return Config{
		Command:       "so3lr-driver",
		FMax:          0.05,
		CheckTimeout:  time.Minute,
		LigandResName: structure.DefaultLigandResName,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Command == "" {
		c.Command = d.Command
	}
	if c.FMax <= 0 {
		c.FMax = d.FMax
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = d.CheckTimeout
	}
	if c.LigandResName == "" {
		c.LigandResName = d.LigandResName
	}
}

// Backend is the SO3LR force field.
type Backend struct {
	cfg      Config
	exec     common.Executor
	driver   *Driver
	detected common.DeviceInfo
	policy   forcefield.ScoringPolicy
	observer common.EngineObserver
	logger   logging.Logger
}

var _ forcefield.ForceField = (*Backend)(nil)

// NewBackend creates the backend for the accelerator found on the host.
// The device for each pose is chosen at call time from detected and the
// pose configuration; the backend itself never changes device.
func NewBackend(
	cfg Config,
	exec common.Executor,
	detected common.DeviceInfo,
	policy forcefield.ScoringPolicy,
	observer common.EngineObserver,
	logger logging.Logger,
) (*Backend, error) {
	if exec == nil {
		return nil, errors.New(errors.CodeInvalidParam, "so3lr: executor is required")
	}
	cfg.applyDefaults()
	if detected.Device == "" {
		detected = common.CPUDevice
	}
	if policy == nil {
		policy = forcefield.SumPolicy{}
	}
	if observer == nil {
		observer = common.NopObserver()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Backend{
		cfg:      cfg,
		exec:     exec,
		driver:   NewDriver(exec, cfg.Command, cfg.Args...),
		detected: detected,
		policy:   policy,
		observer: observer,
		logger:   logger.Named(engineName),
	}, nil
}

// NewFactory returns a factory that probes the accelerator once and builds
// the backend. A nil probe assumes a CPU-only host.
func NewFactory(
	cfg Config,
	exec common.Executor,
	probe *common.DeviceProbe,
	policy forcefield.ScoringPolicy,
	observer common.EngineObserver,
	logger logging.Logger,
) forcefield.Factory {
	return func(ctx context.Context) (forcefield.ForceField, error) {
		detected := common.CPUDevice
		if probe != nil {
			detected = probe.Detect(ctx)
		}
		if logger != nil {
			logger.Info("SO3LR device probe",
				logging.Bool("accelerated", detected.Accelerated),
				logging.String(logging.KeyDevice, detected.Device),
				logging.String("name", detected.Name),
				logging.Int("count", detected.Count),
			)
		}
		return NewBackend(cfg, exec, detected, policy, observer, logger)
	}
}

// Method implements forcefield.ForceField.
func (b *Backend) Method() pose.Method { return pose.MethodSO3LR }

// CheckAvailability resolves the driver and lets it load the model weights.
func (b *Backend) CheckAvailability(ctx context.Context) (bool, string) {
	if _, err := b.exec.LookPath(b.cfg.Command); err != nil {
		return false, fmt.Sprintf("SO3LR driver %q not found in PATH", b.cfg.Command)
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.CheckTimeout)
	defer cancel()
	if _, err := b.driver.Check(ctx); err != nil {
		return false, fmt.Sprintf("SO3LR not installed or weights not loadable: %v", err)
	}
	return true, fmt.Sprintf("SO3LR available (device %s)", b.detected.Device)
}

// RankPose implements forcefield.ForceField. A device fault on an
// accelerator reruns the whole workflow once on CPU when the configuration
// enables fallback.
func (b *Backend) RankPose(ctx context.Context, in forcefield.Input, cfg pose.EffectiveConfig) *pose.RankingResult {
	in.MustBeValid()
	start := time.Now()

	device := common.SelectDevice(cfg.Device, cfg.ForceCPU, b.detected)
	log := b.logger.With(logging.PoseID(in.PoseID))
	log.Info("starting SO3LR ranking",
		logging.String(logging.KeyDevice, device),
		logging.Bool("chopping", cfg.UseChopping),
		logging.Float64("lr_cutoff", cfg.ResolvedLRCutoff()),
	)

	attempts := 1
	dir := attemptDir(in.WorkDir, attempts)
	native, local, err := b.evaluate(ctx, in, cfg, device, dir, log)

	if err != nil && b.shouldFallback(ctx, err, device, cfg) {
		log.Warn("accelerator failed, retrying on CPU",
			logging.String(logging.KeyDevice, device), logging.Err(err))
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warn("failed to remove attempt directory", logging.String("dir", dir), logging.Err(rmErr))
		}
		attempts++
		device = pose.DeviceCPU
		dir = attemptDir(in.WorkDir, attempts)
		native, local, err = b.evaluate(ctx, in, cfg, device, dir, log)
	}

	if err != nil {
		log.Error("SO3LR ranking failed",
			logging.String(logging.KeyDevice, device), logging.Int("attempts", attempts), logging.Err(err))
		r := forcefield.FailedResult(in, pose.MethodSO3LR, device, err)
		r.Attempts = attempts
		return r
	}

	e := forcefield.Decompose(native, forcefield.EVToKcalMol, b.policy)
	r := pose.Succeeded(in.PoseID, pose.MethodSO3LR, device, e)
	r.Attempts = attempts
	r.LocalArtifacts = local
	r.SetDuration(time.Since(start))
	log.Info("SO3LR ranking completed",
		logging.String(logging.KeyDevice, device),
		logging.Float64("interaction_kcal", e.Interaction),
		logging.Float64("strain_kcal", e.Strain),
		logging.Duration("elapsed", r.Duration),
	)
	return r
}

func (b *Backend) shouldFallback(ctx context.Context, err error, device string, cfg pose.EffectiveConfig) bool {
	return cfg.EnableDeviceFallback &&
		pose.IsAccelerated(device) &&
		errors.IsCode(err, errors.ErrCodeDeviceFault) &&
		ctx.Err() == nil
}

func attemptDir(work string, n int) string {
	return filepath.Join(work, fmt.Sprintf("attempt_%d", n))
}

func (b *Backend) evaluate(
	ctx context.Context,
	in forcefield.Input,
	cfg pose.EffectiveConfig,
	device, dir string,
	log logging.Logger,
) (forcefield.NativeEnergies, pose.Artifacts, error) {
	var native forcefield.NativeEnergies
	var local pose.Artifacts

	dir, err := filepath.Abs(dir)
	if err != nil {
		return native, local, errors.Wrap(err, errors.ErrCodeInternalError, "resolve attempt directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return native, local, errors.Wrap(err, errors.ErrCodeInternalError, "create attempt directory")
	}

	prep, err := forcefield.PrepareComplex(dir, in, forcefield.PrepareOptions{
		LigandResName: b.cfg.LigandResName,
		Chop:          cfg.UseChopping,
		Cutoff:        cfg.DistanceCutoff,
		FillGaps:      b.cfg.FillGaps,
	})
	if err != nil {
		return native, local, forcefield.Classify(err, "complex preparation")
	}
	fixed, err := structure.ToZeroBased(prep.ProteinIndices, prep.Structure.Len())
	if err != nil {
		return native, local, forcefield.Classify(err, "protein constraints")
	}
	log.Debug("complex prepared",
		logging.Int("atoms", prep.Structure.Len()),
		logging.Int("fixed", len(fixed)),
	)

	base := Request{
		Device:   device,
		LRCutoff: cfg.ResolvedLRCutoff(),
		Charge:   b.cfg.Charge,
	}

	complexPath := prep.Path
	if cfg.OptimizeComplex {
		local.OptimizedComplex = filepath.Join(dir, forcefield.OptimizedComplex)
		req := b.optimizeRequest(base, prep.Path, local.OptimizedComplex)
		req.FixedAtoms = fixed
		if native.Complex, err = b.call(ctx, dir, "opt_complex", req); err != nil {
			return native, local, forcefield.Classify(err, "complex optimisation")
		}
		complexPath = local.OptimizedComplex
	} else {
		if native.Complex, err = b.call(ctx, dir, "spe_complex", energyRequest(base, prep.Path)); err != nil {
			return native, local, forcefield.Classify(err, "complex energy")
		}
	}

	local.SplitProtein, local.SplitLigand, err = forcefield.SplitComplex(dir, complexPath, b.cfg.LigandResName)
	if err != nil {
		return native, local, err
	}
	if native.Protein, err = b.call(ctx, dir, "spe_protein", energyRequest(base, local.SplitProtein)); err != nil {
		return native, local, forcefield.Classify(err, "protein energy")
	}
	if native.LigandBound, err = b.call(ctx, dir, "spe_ligand", energyRequest(base, local.SplitLigand)); err != nil {
		return native, local, forcefield.Classify(err, "bound ligand energy")
	}

	if !cfg.OptimizeLigand {
		native.LigandFree = native.LigandBound
		return native, local, nil
	}
	local.OptimizedLigand = filepath.Join(dir, forcefield.OptimizedLigand)
	req := b.optimizeRequest(base, local.SplitLigand, local.OptimizedLigand)
	if native.LigandFree, err = b.call(ctx, dir, "opt_ligand", req); err != nil {
		return native, local, forcefield.Classify(err, "free ligand optimisation")
	}
	return native, local, nil
}

func energyRequest(base Request, path string) Request {
	base.Task = TaskEnergy
	base.Structure = path
	return base
}

func (b *Backend) optimizeRequest(base Request, path, output string) Request {
	base.Task = TaskOptimize
	base.Structure = path
	base.Output = output
	base.FMax = b.cfg.FMax
	base.MaxSteps = b.cfg.MaxSteps
	return base
}

// call runs one driver request in a private step directory. Optimisations
// must leave their output structure behind.
func (b *Backend) call(ctx context.Context, parent, step string, req Request) (float64, error) {
	dir, cleanup, err := forcefield.StepDir(parent, step)
	defer cleanup()
	if err != nil {
		return 0, err
	}

	started := time.Now()
	energy, err := b.driver.Call(ctx, dir, req)
	b.observer.ObserveEngine(engineName, step, invocationStatus(err), time.Since(started))
	if err != nil {
		return 0, err
	}
	if req.Task == TaskOptimize {
		if _, statErr := os.Stat(req.Output); statErr != nil {
			return 0, errors.New(errors.ErrCodeEngineOutput, "driver did not write "+filepath.Base(req.Output))
		}
	}
	return energy, nil
}

func invocationStatus(err error) string {
	if errors.IsCode(err, errors.ErrCodeDeviceFault) {
		return "device_fault"
	}
	return common.InvocationStatus(err)
}

// String describes the backend for logs.
func (b *Backend) String() string {
	return fmt.Sprintf("so3lr(%s %s, device=%s)", b.cfg.Command, strings.Join(b.cfg.Args, " "), b.detected.Device)
}
