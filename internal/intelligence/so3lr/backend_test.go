package so3lr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/internal/intelligence/forcefield"
	"github.com/turtacn/PoseRank/internal/testutil"
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// eV energies served by fakeDriver. interaction = -0.5 eV, strain = 0.5 eV.
const (
	evComplex     = -100.0
	evProtein     = -80.0
	evLigandBound = -19.5
	evLigandFree  = -20.0
)

var gpu = common.DeviceInfo{Accelerated: true, Device: "cuda:0", Name: "NVIDIA A100", Count: 1}

type faultMode int

const (
	faultNone faultMode = iota
	// faultJSON answers with error_class=device.
	faultJSON
	// faultStderr exits non-zero with a CUDA message on stderr.
	faultStderr
)

// fakeDriver emulates so3lr-driver.
type fakeDriver struct {
	mu       sync.Mutex
	requests []Request

	fault       faultMode
	faultOnCPU  bool
	faultBudget int // faults left; <0 means unlimited
	failTask    string
	unconverged bool
}

func (f *fakeDriver) handle(_ context.Context, cmd common.Command) (*common.Output, error) {
	if len(cmd.Args) > 0 && cmd.Args[len(cmd.Args)-1] == "--check" {
		return &common.Output{Stdout: []byte("weights ok\n")}, nil
	}

	var req Request
	if err := json.Unmarshal(cmd.Stdin, &req); err != nil {
		return &common.Output{ExitCode: 2}, errors.New(errors.ErrCodeEngineExit, "bad request")
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fault := f.fault != faultNone && (pose.IsAccelerated(req.Device) || f.faultOnCPU) && f.faultBudget != 0
	if fault && f.faultBudget > 0 {
		f.faultBudget--
	}
	f.mu.Unlock()

	if fault {
		if f.fault == faultJSON {
			return respond(`{"error":"device kernel crashed","error_class":"device"}`), nil
		}
		return &common.Output{
				ExitCode: 1,
				Stderr:   []byte("jaxlib.xla_extension.XlaRuntimeError: RESOURCE_EXHAUSTED: CUDA error: out of memory\n"),
			},
			errors.New(errors.ErrCodeEngineExit, "so3lr-driver failed")
	}

	name := filepath.Base(req.Structure)
	if f.failTask != "" && f.failTask == string(req.Task)+":"+name {
		return respond(`{"error":"ase failed to read structure"}`), nil
	}

	if req.Task == TaskOptimize {
		data, err := os.ReadFile(req.Structure)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(req.Output, data, 0o644); err != nil {
			return nil, err
		}
	}

	var e float64
	switch {
	case name == forcefield.ChoppedComplexFile || name == forcefield.ComplexFile:
		e = evComplex
	case name == forcefield.SplitProteinFile:
		e = evProtein
	case name == forcefield.SplitLigandFile && req.Task == TaskOptimize:
		e = evLigandFree
	case name == forcefield.SplitLigandFile:
		e = evLigandBound
	}
	converged := req.Task == TaskOptimize && !f.unconverged
	return respond(fmt.Sprintf("step 1 fmax=0.3\n{\"energy_ev\":%g,\"converged\":%t}", e, converged)), nil
}

func respond(s string) *common.Output {
	return &common.Output{Stdout: []byte(s + "\n")}
}

func (f *fakeDriver) devices() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, r := range f.requests {
		out[r.Device]++
	}
	return out
}

func (f *fakeDriver) tasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = string(r.Task) + ":" + filepath.Base(r.Structure)
	}
	return out
}

func newBackend(t *testing.T, fake *fakeDriver, detected common.DeviceInfo) (*Backend, *testutil.MockLogger) {
	t.Helper()
	log := testutil.NewMockLogger()
	b, err := NewBackend(DefaultConfig(), testutil.NewFakeExecutor(fake.handle), detected, nil, nil, log)
	require.NoError(t, err)
	return b, log
}

func newInput(t *testing.T) forcefield.Input {
	t.Helper()
	protein, ligand := testutil.WritePoseFiles(t, t.TempDir())
	return forcefield.Input{PoseID: "pose_1", ProteinPDB: protein, LigandSDF: ligand, WorkDir: t.TempDir()}
}

func effective(mut ...func(*pose.BatchConfig)) pose.EffectiveConfig {
	cfg := pose.DefaultBatchConfig()
	cfg.EnergyMethod = pose.MethodSO3LR
	for _, m := range mut {
		m(&cfg)
	}
	return cfg.Merge(nil)
}

func TestRankPose_CPUHost(t *testing.T) {
	fake := &fakeDriver{}
	b, _ := newBackend(t, fake, common.CPUDevice)
	in := newInput(t)

	r := b.RankPose(context.Background(), in, effective())
	require.True(t, r.IsSuccess(), r.ErrorMessage)

	assert.Equal(t, pose.MethodSO3LR, r.EnergyMethod)
	assert.Equal(t, pose.DeviceCPU, r.Device)
	assert.Equal(t, 1, r.Attempts)
	assert.InDelta(t, -0.5*forcefield.EVToKcalMol, *r.InteractionEnergy, 1e-9)
	assert.InDelta(t, 0.5*forcefield.EVToKcalMol, *r.StrainEnergy, 1e-9)
	assert.InDelta(t, evProtein*forcefield.EVToKcalMol, *r.ProteinEnergy, 1e-9)

	assert.Equal(t, []string{
		"optimize:" + forcefield.ChoppedComplexFile,
		"energy:" + forcefield.SplitProteinFile,
		"energy:" + forcefield.SplitLigandFile,
		"optimize:" + forcefield.SplitLigandFile,
	}, fake.tasks())

	first := fake.requests[0]
	assert.Equal(t, []int{0, 1, 3, 4}, first.FixedAtoms)
	assert.Equal(t, pose.DefaultLRCutoffChopped, first.LRCutoff)
	assert.Equal(t, 0.05, first.FMax)
	assert.Equal(t, 0.0, first.Charge)
	assert.Empty(t, fake.requests[3].FixedAtoms)

	assert.Equal(t, []string{"attempt_1"}, testutil.DirEntries(t, in.WorkDir))
	assert.FileExists(t, r.LocalArtifacts.OptimizedComplex)
	assert.FileExists(t, r.LocalArtifacts.OptimizedLigand)
	assert.ElementsMatch(t, []string{
		forcefield.ComplexFile, forcefield.ChoppedComplexFile, forcefield.OptimizedComplex,
		forcefield.SplitProteinFile, forcefield.SplitLigandFile, forcefield.OptimizedLigand,
	}, testutil.DirEntries(t, filepath.Join(in.WorkDir, "attempt_1")))
}

func TestRankPose_UsesDetectedAccelerator(t *testing.T) {
	fake := &fakeDriver{}
	b, _ := newBackend(t, fake, gpu)

	r := b.RankPose(context.Background(), newInput(t), effective())
	require.True(t, r.IsSuccess(), r.ErrorMessage)
	assert.Equal(t, "cuda:0", r.Device)
	assert.Equal(t, map[string]int{"cuda:0": 4}, fake.devices())
}

func TestRankPose_DeviceFallback(t *testing.T) {
	for name, mode := range map[string]faultMode{"json error class": faultJSON, "stderr signature": faultStderr} {
		t.Run(name, func(t *testing.T) {
			fake := &fakeDriver{fault: mode, faultBudget: 1}
			b, log := newBackend(t, fake, gpu)
			in := newInput(t)

			r := b.RankPose(context.Background(), in, effective())
			require.True(t, r.IsSuccess(), r.ErrorMessage)
			assert.Equal(t, pose.DeviceCPU, r.Device)
			assert.Equal(t, 2, r.Attempts)
			assert.Equal(t, map[string]int{"cuda:0": 1, "cpu": 4}, fake.devices())

			assert.Equal(t, []string{"attempt_2"}, testutil.DirEntries(t, in.WorkDir))
			assert.NotEmpty(t, log.Find("warn", "retrying on CPU"))
		})
	}
}

func TestRankPose_SecondFailureIsTerminal(t *testing.T) {
	fake := &fakeDriver{fault: faultJSON, faultOnCPU: true, faultBudget: -1}
	b, _ := newBackend(t, fake, gpu)

	r := b.RankPose(context.Background(), newInput(t), effective())
	assert.Equal(t, pose.StatusFailed, r.Status)
	assert.Equal(t, pose.KindDeviceFault, r.ErrorKind)
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, pose.DeviceCPU, r.Device)
	assert.Len(t, fake.requests, 2)
}

func TestRankPose_NoFallback(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		fake := &fakeDriver{fault: faultJSON, faultBudget: -1}
		b, _ := newBackend(t, fake, gpu)
		r := b.RankPose(context.Background(), newInput(t), effective(func(c *pose.BatchConfig) {
			c.EnableDeviceFallback = false
		}))
		assert.Equal(t, pose.KindDeviceFault, r.ErrorKind)
		assert.Equal(t, 1, r.Attempts)
		assert.Equal(t, "cuda:0", r.Device)
	})

	t.Run("forced cpu", func(t *testing.T) {
		fake := &fakeDriver{fault: faultJSON, faultOnCPU: true, faultBudget: -1}
		b, _ := newBackend(t, fake, gpu)
		r := b.RankPose(context.Background(), newInput(t), effective(func(c *pose.BatchConfig) {
			c.ForceCPU = true
		}))
		assert.Equal(t, pose.KindDeviceFault, r.ErrorKind)
		assert.Equal(t, 1, r.Attempts)
		assert.Equal(t, map[string]int{"cpu": 1}, fake.devices())
	})

	t.Run("non-device failure", func(t *testing.T) {
		fake := &fakeDriver{failTask: "energy:" + forcefield.SplitProteinFile}
		b, _ := newBackend(t, fake, gpu)
		r := b.RankPose(context.Background(), newInput(t), effective())
		assert.Equal(t, pose.KindComputationFailure, r.ErrorKind)
		assert.Contains(t, r.ErrorMessage, "protein energy")
		assert.Equal(t, 1, r.Attempts)
	})
}

func TestRankPose_ForcedCPUIgnoresAccelerator(t *testing.T) {
	fake := &fakeDriver{}
	b, _ := newBackend(t, fake, gpu)
	r := b.RankPose(context.Background(), newInput(t), effective(func(c *pose.BatchConfig) { c.ForceCPU = true }))
	require.True(t, r.IsSuccess(), r.ErrorMessage)
	assert.Equal(t, pose.DeviceCPU, r.Device)
	assert.Equal(t, map[string]int{"cpu": 4}, fake.devices())
}

func TestRankPose_SkipLigandOptimisation(t *testing.T) {
	fake := &fakeDriver{}
	b, _ := newBackend(t, fake, common.CPUDevice)
	r := b.RankPose(context.Background(), newInput(t), effective(func(c *pose.BatchConfig) { c.OptimizeLigand = false }))
	require.True(t, r.IsSuccess(), r.ErrorMessage)

	assert.Equal(t, *r.LigandBoundEnergy, *r.LigandFreeEnergy)
	assert.Equal(t, 0.0, *r.StrainEnergy)
	assert.Len(t, fake.requests, 3)
	assert.Empty(t, r.LocalArtifacts.OptimizedLigand)
}

func TestRankPose_SinglePointComplexWithoutChopping(t *testing.T) {
	fake := &fakeDriver{}
	b, _ := newBackend(t, fake, common.CPUDevice)
	r := b.RankPose(context.Background(), newInput(t), effective(func(c *pose.BatchConfig) {
		c.OptimizeComplex = false
		c.UseChopping = false
	}))
	require.True(t, r.IsSuccess(), r.ErrorMessage)

	assert.Equal(t, "energy:"+forcefield.ComplexFile, fake.tasks()[0])
	assert.Equal(t, pose.DefaultLRCutoffFull, fake.requests[0].LRCutoff)
	assert.Empty(t, r.LocalArtifacts.OptimizedComplex)
	assert.NotEmpty(t, r.LocalArtifacts.SplitProtein)
}

func TestRankPose_ExplicitLRCutoff(t *testing.T) {
	fake := &fakeDriver{}
	b, _ := newBackend(t, fake, common.CPUDevice)
	r := b.RankPose(context.Background(), newInput(t), effective(func(c *pose.BatchConfig) { c.LRCutoff = 15 }))
	require.True(t, r.IsSuccess(), r.ErrorMessage)
	for _, req := range fake.requests {
		assert.Equal(t, 15.0, req.LRCutoff)
	}
}

func TestRankPose_NotConverged(t *testing.T) {
	fake := &fakeDriver{unconverged: true}
	b, _ := newBackend(t, fake, common.CPUDevice)
	r := b.RankPose(context.Background(), newInput(t), effective())
	assert.Equal(t, pose.KindComputationFailure, r.ErrorKind)
	assert.Contains(t, r.ErrorMessage, "did not converge")
}

func TestCheckAvailability(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		b, _ := newBackend(t, &fakeDriver{}, gpu)
		ok, msg := b.CheckAvailability(context.Background())
		assert.True(t, ok)
		assert.Contains(t, msg, "cuda:0")
	})

	t.Run("missing driver", func(t *testing.T) {
		exec := testutil.NewFakeExecutor(nil)
		exec.Missing["so3lr-driver"] = true
		b, err := NewBackend(DefaultConfig(), exec, common.CPUDevice, nil, nil, nil)
		require.NoError(t, err)
		ok, msg := b.CheckAvailability(context.Background())
		assert.False(t, ok)
		assert.Contains(t, msg, "not found")
	})

	t.Run("weights not loadable", func(t *testing.T) {
		exec := testutil.NewFakeExecutor(func(context.Context, common.Command) (*common.Output, error) {
			return &common.Output{ExitCode: 1}, errors.New(errors.ErrCodeEngineExit, "so3lr-driver failed")
		})
		b, err := NewBackend(DefaultConfig(), exec, common.CPUDevice, nil, nil, nil)
		require.NoError(t, err)
		ok, _ := b.CheckAvailability(context.Background())
		assert.False(t, ok)
	})
}

func TestFactory_ProbesDevice(t *testing.T) {
	fake := &fakeDriver{}
	exec := testutil.NewFakeExecutor(func(ctx context.Context, cmd common.Command) (*common.Output, error) {
		if cmd.Name == "nvidia-smi" {
			return respond("GPU 0: NVIDIA A100-SXM4-40GB (UUID: GPU-1234)"), nil
		}
		return fake.handle(ctx, cmd)
	})
	probe := common.NewDeviceProbe(exec, nil, time.Second)
	ff, err := NewFactory(DefaultConfig(), exec, probe, nil, nil, testutil.NewMockLogger())(context.Background())
	require.NoError(t, err)

	b := ff.(*Backend)
	assert.True(t, b.detected.Accelerated)
	assert.Equal(t, "cuda:0", b.detected.Device)
	assert.Equal(t, 1, exec.CountRuns("nvidia-smi"))
}

func TestDriver_DecodeResponse(t *testing.T) {
	resp, err := decodeResponse([]byte("loading model\n{\"energy_ev\":-1.5,\"converged\":true}\n"))
	require.NoError(t, err)
	require.NotNil(t, resp.EnergyEV)
	assert.Equal(t, -1.5, *resp.EnergyEV)

	_, err = decodeResponse([]byte("{broken"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeEngineOutput))

	_, err = decodeResponse([]byte("no json here"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeEngineOutput))
}

func TestDriver_MissingEnergy(t *testing.T) {
	exec := testutil.NewFakeExecutor(func(context.Context, common.Command) (*common.Output, error) {
		return respond(`{"converged":true}`), nil
	})
	_, err := NewDriver(exec, "so3lr-driver").Call(context.Background(), t.TempDir(), Request{Task: TaskEnergy})
	assert.True(t, errors.IsCode(err, errors.ErrCodeEngineOutput))
}
