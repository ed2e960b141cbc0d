package ranking

import (
	"context"
	"time"

	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// ArtifactTransfer moves structures between remote storage and the local
// workspace.
type ArtifactTransfer interface {
	// Fetch materialises locator inside destDir and returns the local path.
	Fetch(ctx context.Context, locator, destDir string) (string, error)
	// Publish uploads localPath to destination and returns the locator of
	// the stored object.
	Publish(ctx context.Context, localPath, destination string) (string, error)
}

// Converter splits a combined complex structure into protein and ligand.
type Converter interface {
	Convert(ctx context.Context, cifPath, workDir string) (proteinPDB, ligandSDF string, err error)
}

// ErrConversionNotImplemented is returned by UnimplementedConverter.
var ErrConversionNotImplemented = errors.New(errors.ErrCodeConversionMissing, "combined structure conversion is not implemented")

// UnimplementedConverter rejects every combined structure.
type UnimplementedConverter struct{}

func (UnimplementedConverter) Convert(context.Context, string, string) (string, string, error) {
	return "", "", ErrConversionNotImplemented
}

// HydrogenCompleter adds missing hydrogens to a ligand file and returns the
// path of the completed copy.
type HydrogenCompleter interface {
	Complete(ctx context.Context, sdfPath, workDir string) (string, error)
}

// ResultCache stores successful results keyed by pose content and
// configuration.
type ResultCache interface {
	Get(ctx context.Context, key string) (*pose.RankingResult, bool, error)
	Set(ctx context.Context, key string, r *pose.RankingResult) error
}

// ResultSink receives results as they are produced.
type ResultSink interface {
	PublishResult(ctx context.Context, batchID string, r *pose.RankingResult) error
	PublishSummary(ctx context.Context, s *pose.Summary) error
}

// Metrics records orchestrator activity.
type Metrics interface {
	ObservePose(method pose.Method, status pose.Status, kind pose.ErrorKind, d time.Duration)
	ObserveState(state State)
	ObserveBackendConstruction(method pose.Method, ok bool)
	ObserveFallback(method pose.Method)
	ObserveCacheHit()
	// Push flushes the collected metrics at the end of a batch.
	Push(ctx context.Context) error
}

// Clock returns the current time.
type Clock func() time.Time

type nopMetrics struct{}

func (nopMetrics) ObservePose(pose.Method, pose.Status, pose.ErrorKind, time.Duration) {}
func (nopMetrics) ObserveState(State)                                                 {}
func (nopMetrics) ObserveBackendConstruction(pose.Method, bool)                       {}
func (nopMetrics) ObserveFallback(pose.Method)                                        {}
func (nopMetrics) ObserveCacheHit()                                                   {}
func (nopMetrics) Push(context.Context) error                                         { return nil }
