// Package pose defines the data carried through a ranking batch: pose records,
// batch-level configuration, per-pose overrides and ranking results. Only plain
// data types and their invariants live here so that every layer can import the
// package without creating cycles.
package pose

import (
	"fmt"
	"strings"

	"github.com/turtacn/PoseRank/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Method selection
// ─────────────────────────────────────────────────────────────────────────────

// Method identifies which force-field backend evaluates a pose.
type Method string

const (
	// MethodGFN2 is the semi-empirical backend (GFN-FF optimisation, GFN2-xTB
	// single points). Native unit: Hartree.
	MethodGFN2 Method = "gfn2"

	// MethodSO3LR is the learned-potential backend. Native unit: eV.
	MethodSO3LR Method = "so3lr"
)

// Methods lists every supported method in a stable order.
func Methods() []Method { return []Method{MethodGFN2, MethodSO3LR} }

// ParseMethod normalises s into a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodGFN2:
		return MethodGFN2, nil
	case MethodSO3LR:
		return MethodSO3LR, nil
	}
	return "", errors.Newf(errors.ErrCodeInputValidation,
		"invalid energy_method %q, must be one of gfn2, so3lr", s)
}

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	_, err := ParseMethod(string(m))
	return err == nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Device
// ─────────────────────────────────────────────────────────────────────────────

const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda:0"
)

// IsAccelerated reports whether device names an accelerator ("cuda", "cuda:N").
func IsAccelerated(device string) bool {
	d := strings.ToLower(strings.TrimSpace(device))
	return d == "cuda" || strings.HasPrefix(d, "cuda:")
}

// ValidDevice reports whether device is auto, cpu or a cuda device.
func ValidDevice(device string) bool {
	d := strings.ToLower(strings.TrimSpace(device))
	return d == "" || d == DeviceAuto || d == DeviceCPU || IsAccelerated(d)
}

// ─────────────────────────────────────────────────────────────────────────────
// Pose
// ─────────────────────────────────────────────────────────────────────────────

// Pose is one ranking unit. Structural input is either a combined structure
// (StructureCIF) or a protein/ligand pair (ProteinPDB + LigandSDF), never both.
// Locators may be local paths or object-store URIs (s3://bucket/key).
//
// The ranking pipeline never mutates a Pose.
type Pose struct {
	ID string `json:"pose_id" yaml:"pose_id"`

	StructureCIF string `json:"structure_cif,omitempty" yaml:"structure_cif,omitempty"`
	ProteinPDB   string `json:"protein_pdb,omitempty" yaml:"protein_pdb,omitempty"`
	LigandSDF    string `json:"ligand_sdf,omitempty" yaml:"ligand_sdf,omitempty"`

	// StructurePath overrides the published location of the optimised complex.
	StructurePath string `json:"structure_path,omitempty" yaml:"structure_path,omitempty"`

	Overrides *Overrides `json:"overrides,omitempty" yaml:"overrides,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// RecordError is set when the source record could not be decoded into a
	// pose. Such a pose always fails validation.
	RecordError error `json:"-" yaml:"-"`
}

// HasSeparateStructures reports whether any of the protein/ligand pair is set.
func (p *Pose) HasSeparateStructures() bool {
	return p.ProteinPDB != "" || p.LigandSDF != ""
}

// NeedsConversion reports whether the pose is given as a combined structure
// that must be converted before evaluation.
func (p *Pose) NeedsConversion() bool {
	return p.StructureCIF != "" && !p.HasSeparateStructures()
}

// Validate checks the structural invariants of the pose. The returned error
// always carries ErrCodeInputValidation.
func (p *Pose) Validate() error {
	if p == nil {
		return errors.New(errors.ErrCodeInputValidation, "pose is nil")
	}
	if p.RecordError != nil {
		return errors.Wrap(p.RecordError, errors.ErrCodeInputValidation, "pose record rejected")
	}
	if strings.TrimSpace(p.ID) == "" {
		return errors.New(errors.ErrCodeInputValidation, "pose_id is required")
	}

	hasCIF := p.StructureCIF != ""
	switch {
	case hasCIF && p.HasSeparateStructures():
		return errors.New(errors.ErrCodeInputValidation,
			"contradictory structural input: both structure_cif and protein_pdb/ligand_sdf given")
	case !hasCIF && !p.HasSeparateStructures():
		return errors.New(errors.ErrCodeInputValidation,
			"no structural input: need structure_cif or protein_pdb and ligand_sdf")
	case !hasCIF && p.ProteinPDB == "":
		return errors.New(errors.ErrCodeInputValidation, "ligand_sdf given without protein_pdb")
	case !hasCIF && p.LigandSDF == "":
		return errors.New(errors.ErrCodeInputValidation, "protein_pdb given without ligand_sdf")
	}

	if p.Overrides != nil {
		if err := p.Overrides.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrCodeInputValidation, fmt.Sprintf("pose %s overrides", p.ID))
		}
	}
	return nil
}

// CopyMetadata returns a shallow copy of the pose metadata, never nil.
func (p *Pose) CopyMetadata() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Metadata))
	for k, v := range p.Metadata {
		out[k] = v
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Per-pose overrides
// ─────────────────────────────────────────────────────────────────────────────

// Overrides holds per-pose settings that take precedence over the batch
// defaults. A nil field inherits the batch value.
type Overrides struct {
	EnergyMethod    *Method  `json:"energy_method,omitempty" yaml:"energy_method,omitempty"`
	DistanceCutoff  *float64 `json:"distance_cutoff,omitempty" yaml:"distance_cutoff,omitempty"`
	UseChopping     *bool    `json:"use_chopping,omitempty" yaml:"use_chopping,omitempty"`
	OptimizeComplex *bool    `json:"optimize_complex,omitempty" yaml:"optimize_complex,omitempty"`
	OptimizeLigand  *bool    `json:"optimize_ligand,omitempty" yaml:"optimize_ligand,omitempty"`
	LRCutoff        *float64 `json:"lr_cutoff,omitempty" yaml:"lr_cutoff,omitempty"`
	Device          *string  `json:"device,omitempty" yaml:"device,omitempty"`
	ForceCPU        *bool    `json:"force_cpu,omitempty" yaml:"force_cpu,omitempty"`
}

// Validate rejects override values that can never be evaluated.
func (o *Overrides) Validate() error {
	if o == nil {
		return nil
	}
	if o.EnergyMethod != nil && !o.EnergyMethod.Valid() {
		return errors.Newf(errors.ErrCodeInputValidation, "invalid energy_method %q", *o.EnergyMethod)
	}
	if o.DistanceCutoff != nil && *o.DistanceCutoff <= 0 {
		return errors.Newf(errors.ErrCodeInputValidation, "distance_cutoff must be positive, got %g", *o.DistanceCutoff)
	}
	if o.LRCutoff != nil && *o.LRCutoff < 0 {
		return errors.Newf(errors.ErrCodeInputValidation, "lr_cutoff must not be negative, got %g", *o.LRCutoff)
	}
	if o.Device != nil && !ValidDevice(*o.Device) {
		return errors.Newf(errors.ErrCodeInputValidation, "invalid device %q", *o.Device)
	}
	return nil
}
