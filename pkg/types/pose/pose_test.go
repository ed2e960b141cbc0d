package pose

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/PoseRank/pkg/errors"
)

func ptr[T any](v T) *T { return &v }

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" GFN2 ")
	require.NoError(t, err)
	assert.Equal(t, MethodGFN2, m)

	m, err = ParseMethod("so3lr")
	require.NoError(t, err)
	assert.Equal(t, MethodSO3LR, m)

	_, err = ParseMethod("mmff")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInputValidation))
}

func TestIsAccelerated(t *testing.T) {
	assert.True(t, IsAccelerated("cuda"))
	assert.True(t, IsAccelerated("cuda:1"))
	assert.False(t, IsAccelerated("cpu"))
	assert.False(t, IsAccelerated("auto"))
	assert.True(t, ValidDevice(""))
	assert.False(t, ValidDevice("tpu"))
}

func TestPose_Validate(t *testing.T) {
	tests := []struct {
		name    string
		pose    *Pose
		wantErr bool
	}{
		{"separate structures", &Pose{ID: "p1", ProteinPDB: "p.pdb", LigandSDF: "l.sdf"}, false},
		{"combined structure", &Pose{ID: "p1", StructureCIF: "c.cif"}, false},
		{"both forms", &Pose{ID: "p1", StructureCIF: "c.cif", ProteinPDB: "p.pdb", LigandSDF: "l.sdf"}, true},
		{"cif plus protein only", &Pose{ID: "p1", StructureCIF: "c.cif", ProteinPDB: "p.pdb"}, true},
		{"neither form", &Pose{ID: "p1"}, true},
		{"protein without ligand", &Pose{ID: "p1", ProteinPDB: "p.pdb"}, true},
		{"ligand without protein", &Pose{ID: "p1", LigandSDF: "l.sdf"}, true},
		{"missing id", &Pose{ProteinPDB: "p.pdb", LigandSDF: "l.sdf"}, true},
		{"nil pose", nil, true},
		{"bad override", &Pose{ID: "p1", ProteinPDB: "p.pdb", LigandSDF: "l.sdf",
			Overrides: &Overrides{DistanceCutoff: ptr(-1.0)}}, true},
		{"bad override method", &Pose{ID: "p1", ProteinPDB: "p.pdb", LigandSDF: "l.sdf",
			Overrides: &Overrides{EnergyMethod: ptr(Method("amber"))}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pose.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInputValidation))
			assert.Equal(t, KindInputValidation, KindForError(err))
		})
	}
}

func TestPose_ValidateRecordError(t *testing.T) {
	p := &Pose{ID: "p1", ProteinPDB: "p.pdb", LigandSDF: "l.sdf", RecordError: stderrors.New("use_chopping: not a boolean")}
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInputValidation))
	assert.Equal(t, KindInputValidation, KindForError(err))
	assert.Contains(t, err.Error(), "use_chopping")
}

func TestPose_NeedsConversion(t *testing.T) {
	assert.True(t, (&Pose{StructureCIF: "c.cif"}).NeedsConversion())
	assert.False(t, (&Pose{ProteinPDB: "p", LigandSDF: "l"}).NeedsConversion())
}

func TestPose_CopyMetadata(t *testing.T) {
	p := &Pose{Metadata: map[string]interface{}{"rank": 3}}
	cp := p.CopyMetadata()
	cp["rank"] = 9
	assert.Equal(t, 3, p.Metadata["rank"])
	assert.NotNil(t, (&Pose{}).CopyMetadata())
}

func TestBatchConfig_MergePrecedence(t *testing.T) {
	batch := DefaultBatchConfig()
	batch.LRCutoff = 15

	eff := batch.Merge(nil)
	assert.Equal(t, MethodGFN2, eff.EnergyMethod)
	assert.Equal(t, DefaultDistanceCutoff, eff.DistanceCutoff)
	assert.Equal(t, 15.0, eff.LRCutoff)
	assert.True(t, eff.OptimizeLigand)

	o := &Overrides{
		EnergyMethod:   ptr(MethodSO3LR),
		DistanceCutoff: ptr(7.5),
		OptimizeLigand: ptr(false),
		Device:         ptr("cpu"),
	}
	eff = batch.Merge(o)
	assert.Equal(t, MethodSO3LR, eff.EnergyMethod)
	assert.Equal(t, 7.5, eff.DistanceCutoff)
	assert.False(t, eff.OptimizeLigand)
	assert.True(t, eff.OptimizeComplex)
	assert.Equal(t, "cpu", eff.Device)

	// inputs untouched
	assert.Equal(t, MethodGFN2, batch.EnergyMethod)
	assert.Equal(t, 7.5, *o.DistanceCutoff)
}

func TestBatchConfig_MergeFillsZeroValues(t *testing.T) {
	eff := BatchConfig{}.Merge(nil)
	assert.Equal(t, MethodGFN2, eff.EnergyMethod)
	assert.Equal(t, DefaultDistanceCutoff, eff.DistanceCutoff)
	assert.Equal(t, DeviceAuto, eff.Device)
}

func TestBatchConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultBatchConfig().Validate())

	bad := DefaultBatchConfig()
	bad.EnergyMethod = "dft"
	assert.Error(t, bad.Validate())

	bad = DefaultBatchConfig()
	bad.Device = "metal"
	assert.Error(t, bad.Validate())

	bad = DefaultBatchConfig()
	bad.PoseTimeout = -time.Second
	assert.Error(t, bad.Validate())
}

func TestBatchConfig_ValidateParamsError(t *testing.T) {
	cfg := DefaultBatchConfig()
	require.NoError(t, cfg.Validate())
	cfg.ParamsError = stderrors.New("distance_cutoff: not a number")
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "distance_cutoff")
}

func TestEffectiveConfig_ResolvedLRCutoff(t *testing.T) {
	assert.Equal(t, 12.0, EffectiveConfig{UseChopping: true}.ResolvedLRCutoff())
	assert.Equal(t, 20.0, EffectiveConfig{UseChopping: false}.ResolvedLRCutoff())
	assert.Equal(t, 9.0, EffectiveConfig{UseChopping: false, LRCutoff: 9}.ResolvedLRCutoff())
}

func TestPoseBatch_DuplicateIDs(t *testing.T) {
	b := NewBatch("", []*Pose{{ID: "a"}, {ID: "b"}, {ID: "a"}, nil, {ID: ""}}, DefaultBatchConfig())
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, 5, b.Size())
	assert.Equal(t, []bool{false, false, true, false, false}, b.DuplicateIDs())
}

func TestKindForError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{errors.New(errors.ErrCodeDeviceFault, "oom"), KindDeviceFault},
		{errors.Wrap(errors.New(errors.ErrCodeEngineExit, "exit 1"), errors.ErrCodeComputationFailure, "opt"), KindComputationFailure},
		{fmt.Errorf("ctx: %w", errors.New(errors.ErrCodeBackendUnavailable, "no xtb")), KindBackendUnavailable},
		{errors.New(errors.ErrCodeEngineExit, "bare engine"), KindInternalError},
		{stderrors.New("plain"), KindInternalError},
		{nil, KindInternalError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindForError(tt.err))
	}
}

func TestResultConstructors(t *testing.T) {
	r := Succeeded("p1", MethodGFN2, DeviceCPU, Energies{Interaction: -12, Strain: 3, TotalScore: -9})
	assert.True(t, r.IsSuccess())
	e, ok := r.Energies()
	require.True(t, ok)
	assert.Equal(t, -12.0, e.Interaction)
	assert.Equal(t, 1, r.Attempts)

	r.SetDuration(1500 * time.Millisecond)
	assert.Equal(t, 1.5, r.ComputationTimeSeconds)

	f := FromError("p2", errors.New(errors.ErrCodeInputValidation, "bad"))
	assert.False(t, f.IsSuccess())
	assert.Equal(t, KindInputValidation, f.ErrorKind)
	assert.Nil(t, f.InteractionEnergy)
	_, ok = f.Energies()
	assert.False(t, ok)

	assert.Equal(t, KindInternalError, Failed("p3", KindNone, "x").ErrorKind)
}
