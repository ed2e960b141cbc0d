package forcefield

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/turtacn/PoseRank/internal/domain/structure"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/pkg/errors"
)

// Placeholders substituted into the hydrogen completion command.
const (
	InputPlaceholder  = "{input}"
	OutputPlaceholder = "{output}"
)

// HydrogenatedLigandFile is the name of the completed ligand.
const HydrogenatedLigandFile = "ligand_h.sdf"

const hydrogenEngine = "hydrogens"

// DefaultHydrogenCommand adds hydrogens with coordinates using Open Babel.
var DefaultHydrogenCommand = []string{"obabel", InputPlaceholder, "-O", OutputPlaceholder, "-h"}

// HydrogenConfig configures ligand hydrogen completion.
type HydrogenConfig struct {
	// Enabled runs Command on every ligand before evaluation. When disabled,
	// ligands must already carry explicit hydrogens.
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Command []string      `mapstructure:"command" yaml:"command"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DefaultHydrogenConfig returns completion through Open Babel.
func DefaultHydrogenConfig() HydrogenConfig {
	return HydrogenConfig{
		Enabled: true,
		Command: append([]string(nil), DefaultHydrogenCommand...),
		Timeout: 2 * time.Minute,
	}
}

// Validate checks that the command names both files.
func (c HydrogenConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Command) == 0 || strings.TrimSpace(c.Command[0]) == "" {
		return errors.New(errors.ErrCodeValidation, "hydrogen completion command is empty")
	}
	joined := strings.Join(c.Command[1:], " ")
	for _, ph := range []string{InputPlaceholder, OutputPlaceholder} {
		if !strings.Contains(joined, ph) {
			return errors.Newf(errors.ErrCodeValidation, "hydrogen completion command must reference %s", ph)
		}
	}
	if c.Timeout < 0 {
		return errors.New(errors.ErrCodeValidation, "hydrogen completion timeout must not be negative")
	}
	return nil
}

// HydrogenCompleter adds missing hydrogens to ligand files with an external
// tool, the way docking poses are prepared before energy evaluation.
type HydrogenCompleter struct {
	cfg      HydrogenConfig
	exec     common.Executor
	observer common.EngineObserver
	logger   logging.Logger
}

// NewHydrogenCompleter validates cfg and returns a completer.
func NewHydrogenCompleter(cfg HydrogenConfig, exec common.Executor, observer common.EngineObserver, logger logging.Logger) (*HydrogenCompleter, error) {
	cfg.Enabled = true
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		exec = common.NewOSExecutor()
	}
	if observer == nil {
		observer = common.NopObserver()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HydrogenCompleter{cfg: cfg, exec: exec, observer: observer, logger: logger.Named(hydrogenEngine)}, nil
}

// CheckAvailability reports whether the completion tool is on PATH.
func (h *HydrogenCompleter) CheckAvailability() (bool, string) {
	name := h.cfg.Command[0]
	if _, err := h.exec.LookPath(name); err != nil {
		return false, name + " not found in PATH"
	}
	return true, "hydrogen completion via " + name
}

// Complete writes a hydrogen-complete copy of sdfPath into workDir and
// returns its path. A missing tool is a backend unavailability; a failed run
// or an unreadable result is a computation failure.
func (h *HydrogenCompleter) Complete(ctx context.Context, sdfPath, workDir string) (string, error) {
	// The tool runs inside workDir, so both files are passed absolute.
	if abs, err := filepath.Abs(sdfPath); err == nil {
		sdfPath = abs
	}
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}
	out := filepath.Join(workDir, HydrogenatedLigandFile)
	args := make([]string, 0, len(h.cfg.Command)-1)
	for _, a := range h.cfg.Command[1:] {
		a = strings.ReplaceAll(a, InputPlaceholder, sdfPath)
		args = append(args, strings.ReplaceAll(a, OutputPlaceholder, out))
	}
	cmd := common.Command{Name: h.cfg.Command[0], Args: args, Dir: workDir}

	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}
	started := time.Now()
	_, err := h.exec.Run(ctx, cmd)
	h.observer.ObserveEngine(hydrogenEngine, "complete", common.InvocationStatus(err), time.Since(started))
	if err != nil {
		return "", Classify(err, "hydrogen completion")
	}

	atoms, err := structure.ReadSDF(out, "")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeComputationFailure, "hydrogen completion produced no readable ligand").
			WithDetail(cmd.String())
	}
	h.logger.Debug("ligand hydrogens completed",
		logging.Int("atoms", len(atoms)),
		logging.Int("hydrogens", structure.CountHydrogens(atoms)),
	)
	return out, nil
}

// RequireExplicitHydrogens rejects a ligand file without any hydrogen atom.
// It guards evaluation when hydrogen completion is disabled.
func RequireExplicitHydrogens(sdfPath string) error {
	atoms, err := structure.ReadSDF(sdfPath, "")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInputValidation, "ligand structure unreadable")
	}
	if structure.CountHydrogens(atoms) == 0 {
		return errors.New(errors.ErrCodeInputValidation,
			fmt.Sprintf("ligand has no explicit hydrogens (%d heavy atoms) and hydrogen completion is disabled", len(atoms)))
	}
	return nil
}
