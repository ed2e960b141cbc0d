package pose

import (
	"time"

	"github.com/turtacn/PoseRank/pkg/errors"
)

// Status is the terminal state of a ranking result.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrorKind classifies why a pose failed.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindInputValidation    ErrorKind = "input_validation"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindDeviceFault        ErrorKind = "device_fault"
	KindComputationFailure ErrorKind = "computation_failure"
	KindInternalError      ErrorKind = "internal_error"
)

// ErrorKinds lists every failure kind in a stable order.
func ErrorKinds() []ErrorKind {
	return []ErrorKind{
		KindInputValidation, KindBackendUnavailable, KindDeviceFault,
		KindComputationFailure, KindInternalError,
	}
}

var kindByCode = map[errors.ErrorCode]ErrorKind{
	errors.ErrCodeInputValidation:    KindInputValidation,
	errors.ErrCodeBackendUnavailable: KindBackendUnavailable,
	errors.ErrCodeDeviceFault:        KindDeviceFault,
	errors.ErrCodeComputationFailure: KindComputationFailure,
	errors.ErrCodeInternalError:      KindInternalError,
}

// KindForError classifies err by the outermost ranking code in its chain.
// Errors without a ranking code are internal errors.
func KindForError(err error) ErrorKind {
	code := errors.FirstCodeOf(err,
		errors.ErrCodeInputValidation,
		errors.ErrCodeBackendUnavailable,
		errors.ErrCodeDeviceFault,
		errors.ErrCodeComputationFailure,
		errors.ErrCodeInternalError,
	)
	if k, ok := kindByCode[code]; ok {
		return k
	}
	return KindInternalError
}

// Artifacts holds the locators of published structures. Empty fields mean
// the artifact was not published.
type Artifacts struct {
	OptimizedComplex string `json:"optimized_complex_pdb,omitempty"`
	SplitProtein     string `json:"split_protein_pdb,omitempty"`
	SplitLigand      string `json:"split_ligand_pdb,omitempty"`
	OptimizedLigand  string `json:"optimized_ligand_pdb,omitempty"`
}

// Energies groups the energy fields of a successful result, in kcal/mol.
type Energies struct {
	Interaction float64
	Strain      float64
	TotalScore  float64
	Complex     float64
	Protein     float64
	LigandBound float64
	LigandFree  float64
}

// RankingResult is the terminal outcome for one pose. Energy fields are set
// only on success and are in kcal/mol.
type RankingResult struct {
	PoseID string `json:"pose_id"`
	Status Status `json:"status"`

	InteractionEnergy *float64 `json:"interaction_energy"`
	StrainEnergy      *float64 `json:"strain_energy"`
	TotalScore        *float64 `json:"total_score"`
	ComplexEnergy     *float64 `json:"complex_energy"`
	ProteinEnergy     *float64 `json:"protein_energy"`
	LigandBoundEnergy *float64 `json:"ligand_bound_energy"`
	LigandFreeEnergy  *float64 `json:"ligand_free_energy"`

	EnergyMethod Method `json:"energy_method,omitempty"`
	Device       string `json:"force_field_device,omitempty"`
	Attempts     int    `json:"attempts"`

	// Duration is the wall time spent on the pose, set by the orchestrator.
	Duration               time.Duration `json:"-"`
	ComputationTimeSeconds float64       `json:"computation_time_seconds"`

	Artifacts Artifacts `json:"artifacts"`

	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	Cached   bool                   `json:"cached,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// LocalArtifacts are workspace paths of produced structures. They are
	// only valid until the workspace is released.
	LocalArtifacts Artifacts `json:"-"`
}

// Succeeded builds a successful result.
func Succeeded(poseID string, method Method, device string, e Energies) *RankingResult {
	return &RankingResult{
		PoseID:            poseID,
		Status:            StatusSucceeded,
		InteractionEnergy: f64(e.Interaction),
		StrainEnergy:      f64(e.Strain),
		TotalScore:        f64(e.TotalScore),
		ComplexEnergy:     f64(e.Complex),
		ProteinEnergy:     f64(e.Protein),
		LigandBoundEnergy: f64(e.LigandBound),
		LigandFreeEnergy:  f64(e.LigandFree),
		EnergyMethod:      method,
		Device:            device,
		Attempts:          1,
	}
}

// Failed builds a failed result with an explicit kind.
func Failed(poseID string, kind ErrorKind, message string) *RankingResult {
	if kind == KindNone {
		kind = KindInternalError
	}
	return &RankingResult{
		PoseID:       poseID,
		Status:       StatusFailed,
		ErrorKind:    kind,
		ErrorMessage: message,
		Attempts:     1,
	}
}

// FromError builds a failed result classified from err.
func FromError(poseID string, err error) *RankingResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Failed(poseID, KindForError(err), msg)
}

// IsSuccess reports whether the result succeeded.
func (r *RankingResult) IsSuccess() bool {
	return r != nil && r.Status == StatusSucceeded
}

// Energies returns the energy set of a successful result.
func (r *RankingResult) Energies() (Energies, bool) {
	if !r.IsSuccess() || r.InteractionEnergy == nil || r.StrainEnergy == nil {
		return Energies{}, false
	}
	e := Energies{Interaction: *r.InteractionEnergy, Strain: *r.StrainEnergy}
	if r.TotalScore != nil {
		e.TotalScore = *r.TotalScore
	}
	if r.ComplexEnergy != nil {
		e.Complex = *r.ComplexEnergy
	}
	if r.ProteinEnergy != nil {
		e.Protein = *r.ProteinEnergy
	}
	if r.LigandBoundEnergy != nil {
		e.LigandBound = *r.LigandBoundEnergy
	}
	if r.LigandFreeEnergy != nil {
		e.LigandFree = *r.LigandFreeEnergy
	}
	return e, true
}

// SetDuration records the elapsed wall time.
func (r *RankingResult) SetDuration(d time.Duration) {
	r.Duration = d
	r.ComputationTimeSeconds = d.Seconds()
}

func f64(v float64) *float64 { return &v }

// ─────────────────────────────────────────────────────────────────────────────
// Summary
// ─────────────────────────────────────────────────────────────────────────────

// Distribution summarises a set of values.
type Distribution struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// Summary is the informational digest of a finished batch.
type Summary struct {
	BatchID   string `json:"batch_id"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`

	FailuresByKind map[ErrorKind]int `json:"failures_by_kind,omitempty"`

	TotalDuration    time.Duration `json:"total_duration"`
	MeanPoseDuration time.Duration `json:"mean_pose_duration"`
	MinPoseDuration  time.Duration `json:"min_pose_duration"`
	MaxPoseDuration  time.Duration `json:"max_pose_duration"`

	Fallbacks int `json:"device_fallbacks"`
	CacheHits int `json:"cache_hits"`

	Interaction Distribution `json:"interaction_energy"`
	Strain      Distribution `json:"strain_energy"`
	TotalScore  Distribution `json:"total_score"`
}
