// Package xtb implements the semi-empirical energy backend. Complex
// geometries are relaxed with GFN-FF under protein constraints and energies
// are evaluated with GFN2-xTB in implicit solvent. The backend is CPU only.
package xtb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/PoseRank/internal/domain/structure"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/internal/intelligence/forcefield"
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

const (
	engineName = "xtb"

	constraintFile = "xtb.inp"
	optimizedFile  = "xtbopt.pdb"

	notConvergedMarker = "FAILED TO CONVERGE"
)

// Config holds the engine settings.
type Config struct {
	Binary string `mapstructure:"binary" yaml:"binary"`
	// Solvent for the ALPB implicit solvation model. Empty runs in gas phase.
	Solvent        string        `mapstructure:"solvent" yaml:"solvent"`
	ForceConstant  float64       `mapstructure:"force_constant" yaml:"force_constant"`
	VersionTimeout time.Duration `mapstructure:"version_timeout" yaml:"version_timeout"`
	LigandResName  string        `mapstructure:"ligand_resname" yaml:"ligand_resname"`
	// FillGaps keeps residues missing between two selected ones when the
	// gap is at most this many residues.
	FillGaps int `mapstructure:"fill_gaps" yaml:"fill_gaps"`
}

// DefaultConfig returns the stock GFN2 ranking settings.
func DefaultConfig() Config {
	return Config{
		Binary:         "xtb",
		Solvent:        "water",
		ForceConstant:  2,
		VersionTimeout: 5 * time.Second,
		LigandResName:  structure.DefaultLigandResName,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Binary == "" {
		c.Binary = d.Binary
	}
	if c.ForceConstant <= 0 {
		c.ForceConstant = d.ForceConstant
	}
	if c.VersionTimeout <= 0 {
		c.VersionTimeout = d.VersionTimeout
	}
	if c.LigandResName == "" {
		c.LigandResName = d.LigandResName
	}
}

// Backend is the GFN2-xTB force field.
type Backend struct {
	cfg      Config
	exec     common.Executor
	policy   forcefield.ScoringPolicy
	observer common.EngineObserver
	logger   logging.Logger
}

var _ forcefield.ForceField = (*Backend)(nil)

// NewBackend creates the backend. Nil policy, observer and logger fall back
// to the sum policy, a no-op observer and a no-op logger.
func NewBackend(
	cfg Config,
	exec common.Executor,
	policy forcefield.ScoringPolicy,
	observer common.EngineObserver,
	logger logging.Logger,
) (*Backend, error) {
	if exec == nil {
		return nil, errors.New(errors.CodeInvalidParam, "xtb: executor is required")
	}
	cfg.applyDefaults()
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
		policy:   policy,
		observer: observer,
		logger:   logger.Named(engineName),
	}, nil
}

// NewFactory adapts NewBackend to a forcefield.Factory.
func NewFactory(
	cfg Config,
	exec common.Executor,
	policy forcefield.ScoringPolicy,
	observer common.EngineObserver,
	logger logging.Logger,
) forcefield.Factory {
	return func(context.Context) (forcefield.ForceField, error) {
		return NewBackend(cfg, exec, policy, observer, logger)
	}
}

// Method implements forcefield.ForceField.
func (b *Backend) Method() pose.Method { return pose.MethodGFN2 }

// CheckAvailability runs `xtb --version`.
func (b *Backend) CheckAvailability(ctx context.Context) (bool, string) {
	if _, err := b.exec.LookPath(b.cfg.Binary); err != nil {
		return false, "xTB binary not found in PATH"
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.VersionTimeout)
	defer cancel()

	out, err := b.exec.Run(ctx, common.Command{Name: b.cfg.Binary, Args: []string{"--version"}})
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeTimeout) {
			return false, fmt.Sprintf("xTB version check timed out after %s", b.cfg.VersionTimeout)
		}
		return false, fmt.Sprintf("xTB binary found but returned error: %v", err)
	}
	return true, "xTB available: " + firstLine(string(out.Stdout))
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return "unknown version"
}

// RankPose implements forcefield.ForceField.
func (b *Backend) RankPose(ctx context.Context, in forcefield.Input, cfg pose.EffectiveConfig) *pose.RankingResult {
	in.MustBeValid()
	start := time.Now()
	log := b.logger.With(logging.PoseID(in.PoseID), logging.String(logging.KeyDevice, pose.DeviceCPU))

	if pose.IsAccelerated(cfg.Device) {
		log.Debug("xTB runs on CPU only, ignoring requested device", logging.String("requested", cfg.Device))
	}

	native, local, err := b.evaluate(ctx, in, cfg, log)
	if err != nil {
		log.Error("xTB ranking failed", logging.Err(err))
		return forcefield.FailedResult(in, pose.MethodGFN2, pose.DeviceCPU, err)
	}

	log.Info("raw energies (Eh)",
		logging.Float64("complex", native.Complex),
		logging.Float64("protein", native.Protein),
		logging.Float64("ligand_bound", native.LigandBound),
		logging.Float64("ligand_free", native.LigandFree),
	)
	e := forcefield.Decompose(native, forcefield.HartreeToKcalMol, b.policy)
	r := pose.Succeeded(in.PoseID, pose.MethodGFN2, pose.DeviceCPU, e)
	r.LocalArtifacts = local
	r.SetDuration(time.Since(start))
	log.Info("xTB ranking completed",
		logging.Float64("interaction_kcal", e.Interaction),
		logging.Float64("strain_kcal", e.Strain),
		logging.Duration("elapsed", r.Duration),
	)
	return r
}

func (b *Backend) evaluate(ctx context.Context, in forcefield.Input, cfg pose.EffectiveConfig, log logging.Logger) (forcefield.NativeEnergies, pose.Artifacts, error) {
	var native forcefield.NativeEnergies
	var local pose.Artifacts
	work := in.WorkDir

	prep, err := forcefield.PrepareComplex(work, in, forcefield.PrepareOptions{
		LigandResName: b.cfg.LigandResName,
		Chop:          true,
		Cutoff:        cfg.DistanceCutoff,
		FillGaps:      b.cfg.FillGaps,
	})
	if err != nil {
		return native, local, forcefield.Classify(err, "complex preparation")
	}
	// xtb reads the constraint list 1-based, as PrepareComplex emits it.
	if err := structure.ValidateOneBased(prep.ProteinIndices, prep.Structure.Len()); err != nil {
		return native, local, forcefield.Classify(err, "protein constraints")
	}
	log.Debug("complex prepared",
		logging.Int("atoms", prep.Structure.Len()),
		logging.Int("constrained", len(prep.ProteinIndices)),
	)

	local.OptimizedComplex = filepath.Join(work, forcefield.OptimizedComplex)
	if _, err := b.run(ctx, work, step{
		name:        "opt_complex",
		input:       prep.Path,
		method:      []string{"--gfnff"},
		optimize:    true,
		constrained: prep.ProteinIndices,
		keep:        local.OptimizedComplex,
	}); err != nil {
		return native, local, forcefield.Classify(err, "complex optimisation")
	}

	if native.Complex, err = b.singlePoint(ctx, work, "spe_complex", local.OptimizedComplex); err != nil {
		return native, local, forcefield.Classify(err, "complex energy")
	}

	local.SplitProtein, local.SplitLigand, err = forcefield.SplitComplex(work, local.OptimizedComplex, b.cfg.LigandResName)
	if err != nil {
		return native, local, err
	}
	if native.Protein, err = b.singlePoint(ctx, work, "spe_protein", local.SplitProtein); err != nil {
		return native, local, forcefield.Classify(err, "protein energy")
	}
	if native.LigandBound, err = b.singlePoint(ctx, work, "spe_ligand", local.SplitLigand); err != nil {
		return native, local, forcefield.Classify(err, "bound ligand energy")
	}

	local.OptimizedLigand = filepath.Join(work, forcefield.OptimizedLigand)
	if native.LigandFree, err = b.run(ctx, work, step{
		name:     "opt_ligand",
		input:    local.SplitLigand,
		method:   gfn2,
		optimize: true,
		keep:     local.OptimizedLigand,
	}); err != nil {
		return native, local, forcefield.Classify(err, "free ligand optimisation")
	}
	return native, local, nil
}

var gfn2 = []string{"--gfn", "2"}

type step struct {
	name        string
	input       string
	method      []string
	optimize    bool
	constrained []int
	// keep receives xtbopt.pdb of an optimisation.
	keep string
}

func (b *Backend) singlePoint(ctx context.Context, work, name, input string) (float64, error) {
	return b.run(ctx, work, step{name: name, input: input, method: gfn2})
}

// run executes one xtb invocation in its own directory under work and
// returns the reported total energy in Hartree. The directory and every
// scratch file xtb leaves in it are removed before returning.
func (b *Backend) run(ctx context.Context, work string, s step) (float64, error) {
	dir, cleanup, err := forcefield.StepDir(work, s.name)
	defer cleanup()
	if err != nil {
		return 0, err
	}

	name := filepath.Base(s.input)
	if err := forcefield.CopyFile(s.input, filepath.Join(dir, name)); err != nil {
		return 0, err
	}

	args := append([]string{name}, s.method...)
	if s.optimize {
		args = append(args, "--opt")
	}
	if len(s.constrained) > 0 {
		if err := writeConstraints(filepath.Join(dir, constraintFile), s.constrained, b.cfg.ForceConstant); err != nil {
			return 0, err
		}
		args = append(args, "--input", constraintFile)
	}
	if b.cfg.Solvent != "" {
		args = append(args, "--alpb", b.cfg.Solvent)
	}

	cmd := common.Command{Name: b.cfg.Binary, Args: args, Dir: dir}
	started := time.Now()
	out, err := b.exec.Run(ctx, cmd)
	b.observer.ObserveEngine(engineName, s.name, common.InvocationStatus(err), time.Since(started))
	if err != nil {
		return 0, err
	}

	if s.optimize && strings.Contains(strings.ToUpper(out.Combined()), notConvergedMarker) {
		return 0, errors.New(errors.ErrCodeEngineNotConverged, "geometry optimisation did not converge").WithDetail(cmd.String())
	}
	energy, err := structure.ParseXTBTotalEnergy(string(out.Stdout))
	if err != nil {
		return 0, err
	}
	if s.keep != "" {
		produced := filepath.Join(dir, optimizedFile)
		if _, statErr := os.Stat(produced); statErr != nil {
			return 0, errors.New(errors.ErrCodeEngineNotConverged, optimizedFile+" not found after optimisation")
		}
		if err := forcefield.CopyFile(produced, s.keep); err != nil {
			return 0, err
		}
	}
	return energy, nil
}

// writeConstraints writes the $constrain block fixing the given 1-based
// atom positions.
func writeConstraints(path string, atoms []int, forceConstant float64) error {
	ids := make([]string, len(atoms))
	for i, a := range atoms {
		ids[i] = strconv.Itoa(a)
	}
	content := fmt.Sprintf("$constrain\n   atoms: %s\n   force constant %s\n$end\n",
		strings.Join(ids, ","), strconv.FormatFloat(forceConstant, 'g', -1, 64))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "write xtb constraints").WithDetail(path)
	}
	return nil
}
