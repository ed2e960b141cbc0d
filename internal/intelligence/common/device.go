package common

import (
	"bufio"
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// DeviceInfo describes the compute device found on the host.
type DeviceInfo struct {
	Accelerated bool   `json:"accelerated"`
	Device      string `json:"device"`
	Name        string `json:"name,omitempty"`
	Count       int    `json:"count"`
}

// CPUDevice is the DeviceInfo of a host without accelerator.
var CPUDevice = DeviceInfo{Device: pose.DeviceCPU}

// DefaultProbeCommand lists GPUs, one "GPU n: <name> (UUID: ...)" per line.
var DefaultProbeCommand = []string{"nvidia-smi", "-L"}

// DeviceProbe detects an accelerator by running a listing command.
type DeviceProbe struct {
	exec    Executor
	command []string
	timeout time.Duration
}

// NewDeviceProbe builds a probe. An empty command uses DefaultProbeCommand.
func NewDeviceProbe(exec Executor, command []string, timeout time.Duration) *DeviceProbe {
	if len(command) == 0 {
		command = DefaultProbeCommand
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DeviceProbe{exec: exec, command: command, timeout: timeout}
}

var gpuLine = regexp.MustCompile(`^GPU\s+(\d+):\s*([^(]+)`)

// Detect never fails: any probe error means no accelerator.
func (p *DeviceProbe) Detect(ctx context.Context) DeviceInfo {
	if _, err := p.exec.LookPath(p.command[0]); err != nil {
		return CPUDevice
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.exec.Run(ctx, Command{Name: p.command[0], Args: p.command[1:]})
	if err != nil || out == nil {
		return CPUDevice
	}

	info := CPUDevice
	sc := bufio.NewScanner(strings.NewReader(string(out.Stdout)))
	for sc.Scan() {
		m := gpuLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		if info.Count == 0 {
			info.Accelerated = true
			info.Device = "cuda:" + m[1]
			info.Name = strings.TrimSpace(m[2])
		}
		info.Count++
	}
	return info
}

// SelectDevice picks the device for one attempt. CPU wins when forced or
// requested; an explicit cuda device is used only when an accelerator was
// detected; auto takes the detected accelerator.
func SelectDevice(requested string, forceCPU bool, detected DeviceInfo) string {
	req := strings.ToLower(strings.TrimSpace(requested))
	switch {
	case forceCPU, req == pose.DeviceCPU:
		return pose.DeviceCPU
	case !detected.Accelerated:
		return pose.DeviceCPU
	case pose.IsAccelerated(req):
		if req == "cuda" {
			return detected.Device
		}
		return req
	default:
		return detected.Device
	}
}

// FaultClass labels a device fault.
type FaultClass string

const (
	FaultNone   FaultClass = ""
	FaultOOM    FaultClass = "out_of_memory"
	FaultDriver FaultClass = "driver"
	FaultKernel FaultClass = "kernel_launch"
)

var faultSignatures = []struct {
	class FaultClass
	needle string
}{
	{FaultOOM, "cuda out of memory"},
	{FaultOOM, "error: out of memory"},
	{FaultOOM, "cuda_error_out_of_memory"},
	{FaultOOM, "resource_exhausted"},
	{FaultOOM, "out of memory while trying to allocate"},
	{FaultKernel, "kernel launch"},
	{FaultKernel, "illegal memory access"},
	{FaultKernel, "cublas_status"},
	{FaultKernel, "cudnn_status"},
	{FaultKernel, "cudnn error"},
	{FaultDriver, "cuda driver"},
	{FaultDriver, "driver version is insufficient"},
	{FaultDriver, "no cuda-capable device"},
	{FaultDriver, "cuda_error_not_initialized"},
	{FaultDriver, "failed call to cuinit"},
	{FaultDriver, "cuda error"},
}

// ClassifyDeviceFault inspects engine output for accelerator failures.
func ClassifyDeviceFault(output string) FaultClass {
	lower := strings.ToLower(output)
	for _, sig := range faultSignatures {
		if strings.Contains(lower, sig.needle) {
			return sig.class
		}
	}
	return FaultNone
}
