package testutil

import (
	"context"
	"os/exec"
	"sync"

	"github.com/turtacn/PoseRank/internal/intelligence/common"
)

// RunFunc handles one fake command invocation.
type RunFunc func(ctx context.Context, cmd common.Command) (*common.Output, error)

// FakeExecutor implements common.Executor. Binaries listed in Missing fail
// LookPath; every Run is recorded and delegated to Handler.
type FakeExecutor struct {
	mu       sync.Mutex
	Handler  RunFunc
	Missing  map[string]bool
	commands []common.Command
}

// NewFakeExecutor returns a FakeExecutor with the given handler.
func NewFakeExecutor(h RunFunc) *FakeExecutor {
	return &FakeExecutor{Handler: h, Missing: map[string]bool{}}
}

// LookPath resolves every binary not marked missing to /usr/bin/<file>.
func (f *FakeExecutor) LookPath(file string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Missing[file] {
		return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
	}
	return "/usr/bin/" + file, nil
}

// Run records cmd and calls the handler. Without a handler it succeeds with
// empty output.
func (f *FakeExecutor) Run(ctx context.Context, cmd common.Command) (*common.Output, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	h := f.Handler
	f.mu.Unlock()
	if h == nil {
		return &common.Output{}, nil
	}
	return h(ctx, cmd)
}

// Commands returns a copy of the recorded commands.
func (f *FakeExecutor) Commands() []common.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]common.Command, len(f.commands))
	copy(out, f.commands)
	return out
}

// CountRuns returns how many recorded commands invoked name.
func (f *FakeExecutor) CountRuns(name string) int {
	n := 0
	for _, c := range f.Commands() {
		if c.Name == name {
			n++
		}
	}
	return n
}
