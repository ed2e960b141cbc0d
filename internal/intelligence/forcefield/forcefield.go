// Package forcefield defines the capability shared by every energy backend
// and the pieces of the ranking workflow that do not depend on a specific
// engine: unit normalisation, energy decomposition, scoring, complex
// preparation and failure classification.
package forcefield

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// ForceField is an energy backend able to rank one pose.
//
// Implementations hold no per-pose state: a constructed backend may be
// reused for every pose of a batch.
type ForceField interface {
	// Method returns the energy method this backend implements.
	Method() pose.Method

	// CheckAvailability reports whether the engine can run on this host,
	// with a human-readable message. It never panics.
	CheckAvailability(ctx context.Context) (bool, string)

	// RankPose evaluates one pose and always returns a terminal result;
	// recoverable failures become failed results. It panics only when
	// called with an invalid Input.
	RankPose(ctx context.Context, in Input, cfg pose.EffectiveConfig) *pose.RankingResult
}

// Input is the materialised structural input of a pose.
type Input struct {
	PoseID string
	// ProteinPDB and LigandSDF are local files.
	ProteinPDB string
	LigandSDF  string
	// WorkDir is the pose workspace; the backend may create anything
	// beneath it and must not write elsewhere.
	WorkDir string
}

// MustBeValid panics when the input violates the calling contract.
func (in Input) MustBeValid() {
	if in.PoseID == "" || in.ProteinPDB == "" || in.LigandSDF == "" || in.WorkDir == "" {
		panic(fmt.Sprintf("forcefield: incomplete input %+v", in))
	}
}

// Factory constructs a backend. It is called at most once per method per
// ranking runner.
type Factory func(ctx context.Context) (ForceField, error)

// Registry maps methods to backend factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[pose.Method]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[pose.Method]Factory)}
}

// Register adds or replaces the factory for m.
func (r *Registry) Register(m pose.Method, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[m] = f
}

// Factory returns the factory for m.
func (r *Registry) Factory(m pose.Method) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[m]
	return f, ok
}

// Methods lists the registered methods, sorted.
func (r *Registry) Methods() []pose.Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pose.Method, 0, len(r.factories))
	for m := range r.factories {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Unavailable builds the error returned when a backend cannot run.
func Unavailable(m pose.Method, reason string) error {
	return errors.Newf(errors.ErrCodeBackendUnavailable, "%s backend unavailable", m).WithDetail(reason)
}
