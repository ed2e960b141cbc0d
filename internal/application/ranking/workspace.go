package ranking

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/turtacn/PoseRank/pkg/errors"
)

// Workspaces hands out per-pose scratch directories under a root.
type Workspaces struct {
	root string
}

// NewWorkspaces creates workspaces under root; empty root uses the system
// temp directory.
func NewWorkspaces(root string) *Workspaces {
	if root == "" {
		root = os.TempDir()
	}
	return &Workspaces{root: root}
}

// Workspace is the scratch directory of one pose. It is removed by Release.
type Workspace struct {
	Dir string
}

// InputsDir is where fetched inputs are stored.
func (w *Workspace) InputsDir() string { return filepath.Join(w.Dir, "inputs") }

// WorkDir is handed to the backend.
func (w *Workspace) WorkDir() string { return filepath.Join(w.Dir, "work") }

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Acquire creates a fresh workspace for poseID.
func (ws *Workspaces) Acquire(poseID string) (*Workspace, error) {
	if err := os.MkdirAll(ws.root, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "create workspace root").WithDetail(ws.root)
	}
	dir, err := os.MkdirTemp(ws.root, "pose_"+unsafeChars.ReplaceAllString(poseID, "_")+"_")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "create workspace")
	}
	w := &Workspace{Dir: dir}
	for _, sub := range []string{w.InputsDir(), w.WorkDir()} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			_ = os.RemoveAll(dir)
			return nil, errors.Wrap(err, errors.ErrCodeInternalError, "create workspace").WithDetail(sub)
		}
	}
	return w, nil
}

// Release removes the workspace and everything in it.
func (w *Workspace) Release() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}
