package common_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/internal/testutil"
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestOSExecutor_Success(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	out, err := common.NewOSExecutor().Run(context.Background(), common.Command{
		Name:  "sh",
		Args:  []string{"-c", "cat; pwd; echo $POSERANK_TEST"},
		Dir:   dir,
		Stdin: []byte("from-stdin\n"),
		Env:   []string{"POSERANK_TEST=yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.Contains(t, string(out.Stdout), "from-stdin")
	assert.Contains(t, string(out.Stdout), "yes")
}

func TestOSExecutor_NonZeroExit(t *testing.T) {
	skipWithoutShell(t)
	out, err := common.NewOSExecutor().Run(context.Background(), common.Command{
		Name: "sh",
		Args: []string{"-c", "echo partial; echo broken >&2; exit 3"},
	})
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 3, out.ExitCode)
	assert.True(t, errors.IsCode(err, errors.ErrCodeEngineExit))
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, out.Combined(), "partial")
}

func TestOSExecutor_NotFound(t *testing.T) {
	_, err := common.NewOSExecutor().Run(context.Background(), common.Command{Name: "poserank-no-such-engine"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeEngineNotFound))
}

func TestOSExecutor_Deadline(t *testing.T) {
	skipWithoutShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := common.NewOSExecutor().Run(ctx, common.Command{Name: "sh", Args: []string{"-c", "sleep 5"}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTimeout))
	assert.Equal(t, common.StatusTimeout, common.InvocationStatus(err))
}

func TestInvocationStatus(t *testing.T) {
	assert.Equal(t, common.StatusOK, common.InvocationStatus(nil))
	assert.Equal(t, common.StatusFailed, common.InvocationStatus(errors.New(errors.ErrCodeEngineExit, "x")))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "cdef", common.Tail([]byte("abcdef"), 4))
	assert.Equal(t, "ab", common.Tail([]byte(" ab \n"), 10))
	assert.Equal(t, `xtb --gfn 2 in.pdb`, common.Command{Name: "xtb", Args: []string{"--gfn", "2", "in.pdb"}}.String())
}

func TestDeviceProbe_Detect(t *testing.T) {
	fx := testutil.NewFakeExecutor(func(_ context.Context, cmd common.Command) (*common.Output, error) {
		return &common.Output{Stdout: []byte(
			"GPU 0: NVIDIA A10G (UUID: GPU-1234)\nGPU 1: NVIDIA A10G (UUID: GPU-5678)\n")}, nil
	})
	info := common.NewDeviceProbe(fx, nil, time.Second).Detect(context.Background())
	assert.True(t, info.Accelerated)
	assert.Equal(t, "cuda:0", info.Device)
	assert.Equal(t, "NVIDIA A10G", info.Name)
	assert.Equal(t, 2, info.Count)
	assert.Equal(t, "nvidia-smi", fx.Commands()[0].Name)
}

func TestDeviceProbe_NoAccelerator(t *testing.T) {
	missing := testutil.NewFakeExecutor(nil)
	missing.Missing["nvidia-smi"] = true
	assert.Equal(t, common.CPUDevice, common.NewDeviceProbe(missing, nil, 0).Detect(context.Background()))
	assert.Empty(t, missing.Commands())

	failing := testutil.NewFakeExecutor(func(context.Context, common.Command) (*common.Output, error) {
		return &common.Output{ExitCode: 9}, errors.New(errors.ErrCodeEngineExit, "driver not loaded")
	})
	assert.False(t, common.NewDeviceProbe(failing, nil, 0).Detect(context.Background()).Accelerated)

	empty := testutil.NewFakeExecutor(func(context.Context, common.Command) (*common.Output, error) {
		return &common.Output{Stdout: []byte("No devices found.\n")}, nil
	})
	assert.Equal(t, pose.DeviceCPU, common.NewDeviceProbe(empty, nil, 0).Detect(context.Background()).Device)
}

func TestSelectDevice(t *testing.T) {
	gpu := common.DeviceInfo{Accelerated: true, Device: "cuda:0", Count: 2}
	cpu := common.CPUDevice

	tests := []struct {
		name      string
		requested string
		forceCPU  bool
		detected  common.DeviceInfo
		want      string
	}{
		{"auto with gpu", "auto", false, gpu, "cuda:0"},
		{"auto without gpu", "auto", false, cpu, "cpu"},
		{"force cpu", "auto", true, gpu, "cpu"},
		{"explicit cpu", "cpu", false, gpu, "cpu"},
		{"explicit cuda index", "cuda:1", false, gpu, "cuda:1"},
		{"bare cuda", "cuda", false, gpu, "cuda:0"},
		{"cuda requested but absent", "cuda:0", false, cpu, "cpu"},
		{"empty request", "", false, gpu, "cuda:0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, common.SelectDevice(tt.requested, tt.forceCPU, tt.detected))
		})
	}
}

func TestClassifyDeviceFault(t *testing.T) {
	tests := []struct {
		out  string
		want common.FaultClass
	}{
		{"RuntimeError: CUDA out of memory. Tried to allocate 2.00 GiB", common.FaultOOM},
		{"RuntimeError: CUDA error: out of memory", common.FaultOOM},
		{"jaxlib.xla_extension.XlaRuntimeError: RESOURCE_EXHAUSTED: Out of memory", common.FaultOOM},
		{"CUDA error: an illegal memory access was encountered", common.FaultKernel},
		{"CUBLAS_STATUS_EXECUTION_FAILED", common.FaultKernel},
		{"failed call to cuInit: CUDA_ERROR_NO_DEVICE", common.FaultDriver},
		{"CUDA driver version is insufficient for CUDA runtime version", common.FaultDriver},
		{"ValueError: could not read structure", common.FaultNone},
		{"", common.FaultNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, common.ClassifyDeviceFault(tt.out), tt.out)
	}
}

func TestNopObserver(t *testing.T) {
	assert.NotPanics(t, func() {
		common.NopObserver().ObserveEngine("xtb", "opt", common.StatusOK, time.Second)
	})
}
