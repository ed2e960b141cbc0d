package pose

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/PoseRank/pkg/errors"
)

// Default values for batch configuration.
const (
	DefaultDistanceCutoff  = 5.0
	DefaultLRCutoffChopped = 12.0
	DefaultLRCutoffFull    = 20.0
	DefaultPoseTimeout     = 2 * time.Hour
	DefaultUploadFolder    = "tpose-output"
)

// UploadTarget is the destination for published artifacts. An empty Bucket
// disables publishing.
type UploadTarget struct {
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty" mapstructure:"bucket"`
	Folder string `json:"folder,omitempty" yaml:"folder,omitempty" mapstructure:"folder"`
}

// Enabled reports whether artifacts should be published.
func (u UploadTarget) Enabled() bool { return u.Bucket != "" }

// BatchConfig carries the batch-wide defaults applied to every pose.
type BatchConfig struct {
	EnergyMethod   Method  `json:"energy_method" yaml:"energy_method"`
	DistanceCutoff float64 `json:"distance_cutoff" yaml:"distance_cutoff"`

	UseChopping     bool `json:"use_chopping" yaml:"use_chopping"`
	OptimizeComplex bool `json:"optimize_complex" yaml:"optimize_complex"`
	OptimizeLigand  bool `json:"optimize_ligand" yaml:"optimize_ligand"`

	// LRCutoff is the long-range cutoff in Å for the learned potential. Zero
	// selects 12 Å for chopped systems and 20 Å otherwise.
	LRCutoff float64 `json:"lr_cutoff" yaml:"lr_cutoff"`

	Device               string `json:"device" yaml:"device"`
	ForceCPU             bool   `json:"force_cpu" yaml:"force_cpu"`
	EnableDeviceFallback bool   `json:"enable_device_fallback" yaml:"enable_device_fallback"`

	Upload UploadTarget `json:"upload" yaml:"upload"`

	// PoseTimeout bounds the evaluation of a single pose. Zero disables it.
	PoseTimeout time.Duration `json:"pose_timeout" yaml:"pose_timeout"`

	// ParamsError records batch parameters that could not be applied. It
	// fails every pose of the batch.
	ParamsError error `json:"-" yaml:"-"`
}

// DefaultBatchConfig returns the defaults used when nothing is configured.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		EnergyMethod:         MethodGFN2,
		DistanceCutoff:       DefaultDistanceCutoff,
		UseChopping:          true,
		OptimizeComplex:      true,
		OptimizeLigand:       true,
		Device:               DeviceAuto,
		EnableDeviceFallback: true,
		Upload:               UploadTarget{Folder: DefaultUploadFolder},
		PoseTimeout:          DefaultPoseTimeout,
	}
}

// Validate checks the batch-level configuration.
func (c BatchConfig) Validate() error {
	if c.ParamsError != nil {
		return errors.Wrap(c.ParamsError, errors.ErrCodeValidation, "batch parameters rejected")
	}
	if !c.EnergyMethod.Valid() {
		return errors.Newf(errors.ErrCodeValidation, "invalid energy_method %q, must be gfn2 or so3lr", c.EnergyMethod)
	}
	if c.DistanceCutoff <= 0 {
		return errors.Newf(errors.ErrCodeValidation, "distance_cutoff must be positive, got %g", c.DistanceCutoff)
	}
	if c.LRCutoff < 0 {
		return errors.Newf(errors.ErrCodeValidation, "lr_cutoff must not be negative, got %g", c.LRCutoff)
	}
	if !ValidDevice(c.Device) {
		return errors.Newf(errors.ErrCodeValidation, "invalid device %q", c.Device)
	}
	if c.PoseTimeout < 0 {
		return errors.New(errors.ErrCodeValidation, "pose_timeout must not be negative")
	}
	return nil
}

// Merge derives the effective configuration of a pose. Non-nil override
// fields win over batch values; neither input is modified.
func (c BatchConfig) Merge(o *Overrides) EffectiveConfig {
	eff := EffectiveConfig{
		EnergyMethod:         c.EnergyMethod,
		DistanceCutoff:       c.DistanceCutoff,
		UseChopping:          c.UseChopping,
		OptimizeComplex:      c.OptimizeComplex,
		OptimizeLigand:       c.OptimizeLigand,
		LRCutoff:             c.LRCutoff,
		Device:               c.Device,
		ForceCPU:             c.ForceCPU,
		EnableDeviceFallback: c.EnableDeviceFallback,
		Upload:               c.Upload,
		PoseTimeout:          c.PoseTimeout,
	}
	if eff.EnergyMethod == "" {
		eff.EnergyMethod = MethodGFN2
	}
	if eff.DistanceCutoff <= 0 {
		eff.DistanceCutoff = DefaultDistanceCutoff
	}
	if eff.Device == "" {
		eff.Device = DeviceAuto
	}
	if o == nil {
		return eff
	}
	if o.EnergyMethod != nil {
		eff.EnergyMethod = *o.EnergyMethod
	}
	if o.DistanceCutoff != nil {
		eff.DistanceCutoff = *o.DistanceCutoff
	}
	if o.UseChopping != nil {
		eff.UseChopping = *o.UseChopping
	}
	if o.OptimizeComplex != nil {
		eff.OptimizeComplex = *o.OptimizeComplex
	}
	if o.OptimizeLigand != nil {
		eff.OptimizeLigand = *o.OptimizeLigand
	}
	if o.LRCutoff != nil {
		eff.LRCutoff = *o.LRCutoff
	}
	if o.Device != nil {
		eff.Device = *o.Device
	}
	if o.ForceCPU != nil {
		eff.ForceCPU = *o.ForceCPU
	}
	return eff
}

// EffectiveConfig is the per-pose configuration handed to a backend.
type EffectiveConfig struct {
	EnergyMethod         Method
	DistanceCutoff       float64
	UseChopping          bool
	OptimizeComplex      bool
	OptimizeLigand       bool
	LRCutoff             float64
	Device               string
	ForceCPU             bool
	EnableDeviceFallback bool
	Upload               UploadTarget
	PoseTimeout          time.Duration
}

// ResolvedLRCutoff returns the explicit long-range cutoff or the default for
// the chopping mode.
func (e EffectiveConfig) ResolvedLRCutoff() float64 {
	if e.LRCutoff > 0 {
		return e.LRCutoff
	}
	if e.UseChopping {
		return DefaultLRCutoffChopped
	}
	return DefaultLRCutoffFull
}

// ─────────────────────────────────────────────────────────────────────────────
// PoseBatch
// ─────────────────────────────────────────────────────────────────────────────

// PoseBatch is an ordered sequence of poses evaluated with one configuration.
type PoseBatch struct {
	ID     string      `json:"batch_id" yaml:"batch_id"`
	Poses  []*Pose     `json:"poses" yaml:"poses"`
	Config BatchConfig `json:"config" yaml:"config"`
}

// NewBatch builds a batch with a generated ID when id is empty.
func NewBatch(id string, poses []*Pose, cfg BatchConfig) *PoseBatch {
	if id == "" {
		id = fmt.Sprintf("batch_%s", uuid.NewString())
	}
	return &PoseBatch{ID: id, Poses: poses, Config: cfg}
}

// Size returns the number of poses in the batch.
func (b *PoseBatch) Size() int { return len(b.Poses) }

// DuplicateIDs returns, for each position, whether the pose ID already
// appeared earlier in the batch.
func (b *PoseBatch) DuplicateIDs() []bool {
	seen := make(map[string]struct{}, len(b.Poses))
	dup := make([]bool, len(b.Poses))
	for i, p := range b.Poses {
		if p == nil || p.ID == "" {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			dup[i] = true
			continue
		}
		seen[p.ID] = struct{}{}
	}
	return dup
}
