package so3lr

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/pkg/errors"
)

// Task is a driver operation.
type Task string

const (
	TaskEnergy   Task = "energy"
	TaskOptimize Task = "optimize"
)

// ErrorClassDevice marks driver errors raised by the accelerator.
const ErrorClassDevice = "device"

// Request is the JSON document written to the driver's stdin.
type Request struct {
	Task      Task    `json:"task"`
	Structure string  `json:"structure"`
	Output    string  `json:"output,omitempty"`
	Device    string  `json:"device"`
	LRCutoff  float64 `json:"lr_cutoff"`
	Charge    float64 `json:"charge"`
	FMax      float64 `json:"fmax,omitempty"`
	MaxSteps  int     `json:"max_steps,omitempty"`
	// FixedAtoms are 0-based indices held in place during optimisation.
	FixedAtoms []int `json:"fixed_atoms,omitempty"`
}

// Response is the JSON document the driver prints on stdout.
type Response struct {
	EnergyEV   *float64 `json:"energy_ev"`
	Converged  bool     `json:"converged"`
	Error      string   `json:"error,omitempty"`
	ErrorClass string   `json:"error_class,omitempty"`
}

// Driver talks to the SO3LR driver process. Each call starts one process.
type Driver struct {
	exec    common.Executor
	command string
	args    []string
}

// NewDriver returns a driver invoking command with args.
func NewDriver(exec common.Executor, command string, args ...string) *Driver {
	return &Driver{exec: exec, command: command, args: args}
}

// Command returns the driver executable.
func (d *Driver) Command() string { return d.command }

// Check runs `<driver> --check`, which loads the model weights and exits.
func (d *Driver) Check(ctx context.Context) (*common.Output, error) {
	return d.exec.Run(ctx, common.Command{Name: d.command, Args: append(append([]string{}, d.args...), "--check")})
}

// Call sends req to a fresh driver process running in dir and returns the
// energy in eV. Accelerator failures come back as ErrCodeDeviceFault,
// unfinished optimisations as ErrCodeEngineNotConverged.
func (d *Driver) Call(ctx context.Context, dir string, req Request) (float64, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "encode driver request")
	}

	out, runErr := d.exec.Run(ctx, common.Command{Name: d.command, Args: d.args, Dir: dir, Stdin: payload})
	if runErr != nil {
		if out == nil || errors.IsCode(runErr, errors.ErrCodeTimeout) {
			return 0, runErr
		}
		if resp, err := decodeResponse(out.Stdout); err == nil && resp.Error != "" {
			return 0, resp.failure(req)
		}
		if class := common.ClassifyDeviceFault(out.Combined()); class != common.FaultNone {
			return 0, errors.Wrap(runErr, errors.ErrCodeDeviceFault, "accelerator failure on "+req.Device).WithDetail(string(class))
		}
		return 0, runErr
	}

	resp, err := decodeResponse(out.Stdout)
	if err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, resp.failure(req)
	}
	if resp.EnergyEV == nil {
		return 0, errors.New(errors.ErrCodeEngineOutput, "driver response carries no energy")
	}
	if req.Task == TaskOptimize && !resp.Converged {
		return 0, errors.Newf(errors.ErrCodeEngineNotConverged, "optimisation of %s did not converge", req.Structure)
	}
	return *resp.EnergyEV, nil
}

func (r *Response) failure(req Request) error {
	class := common.ClassifyDeviceFault(r.Error)
	if r.ErrorClass == ErrorClassDevice || class != common.FaultNone {
		if class == common.FaultNone {
			class = common.FaultDriver
		}
		return errors.New(errors.ErrCodeDeviceFault, "accelerator failure on "+req.Device).
			WithDetail(string(class) + ": " + r.Error)
	}
	return errors.New(errors.ErrCodeEngineExit, "driver "+string(req.Task)+" failed").WithDetail(r.Error)
}

// decodeResponse reads the last JSON object line of stdout; the driver may
// print progress lines before it.
func decodeResponse(stdout []byte) (*Response, error) {
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(string(lines[i]))
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeEngineOutput, "malformed driver response")
		}
		return &resp, nil
	}
	return nil, errors.New(errors.ErrCodeEngineOutput, "driver printed no response").
		WithDetail(common.Tail(stdout, 300))
}
