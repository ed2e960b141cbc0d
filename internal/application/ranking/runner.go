// Package ranking orchestrates the evaluation of pose batches: it owns the
// backend cache, gives every pose an isolated workspace, materialises
// inputs, bounds each evaluation in time, publishes artifacts and
// summarises the batch.
//
// Poses are processed strictly one after another. No pose failure aborts a
// batch: the result list always has the same length and order as the input.
package ranking

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/intelligence/forcefield"
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// State is the lifecycle position of a pose within a batch.
type State string

const (
	StatePending    State = "pending"
	StatePreparing  State = "preparing"
	StateEvaluating State = "evaluating"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Options wires a Runner. Registry and Transfer are required.
type Options struct {
	Registry   *forcefield.Registry
	Transfer   ArtifactTransfer
	Converter  Converter
	// Hydrogens completes ligand hydrogens before evaluation. Nil requires
	// ligands that already carry explicit hydrogens.
	Hydrogens  HydrogenCompleter
	Workspaces *Workspaces
	Cache      ResultCache
	Sink       ResultSink
	Metrics    Metrics
	Clock      Clock
	Logger     logging.Logger
}

// Runner evaluates pose batches.
type Runner struct {
	backends   *BackendCache
	transfer   ArtifactTransfer
	converter  Converter
	hydrogens  HydrogenCompleter
	workspaces *Workspaces
	cache      ResultCache
	sink       ResultSink
	metrics    Metrics
	clock      Clock
	logger     logging.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Registry == nil {
		return nil, errors.New(errors.CodeInvalidParam, "ranking: backend registry is required")
	}
	if opts.Transfer == nil {
		return nil, errors.New(errors.CodeInvalidParam, "ranking: artifact transfer is required")
	}
	if opts.Converter == nil {
		opts.Converter = UnimplementedConverter{}
	}
	if opts.Workspaces == nil {
		opts.Workspaces = NewWorkspaces("")
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	logger := opts.Logger.Named("ranking")
	return &Runner{
		backends:   NewBackendCache(opts.Registry, opts.Metrics, logger),
		transfer:   opts.Transfer,
		converter:  opts.Converter,
		hydrogens:  opts.Hydrogens,
		workspaces: opts.Workspaces,
		cache:      opts.Cache,
		sink:       opts.Sink,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		logger:     logger,
	}, nil
}

// Close tears down the cached backends.
func (r *Runner) Close() error {
	r.backends.Close()
	return nil
}

// RankBatch evaluates every pose of batch in order and returns one result
// per pose plus the batch summary. Cancelling ctx fails the poses not yet
// started instead of dropping them.
func (r *Runner) RankBatch(ctx context.Context, batch *pose.PoseBatch) ([]*pose.RankingResult, *pose.Summary) {
	if batch == nil {
		return []*pose.RankingResult{}, Summarize("", nil, 0)
	}
	start := r.clock()
	log := r.logger.With(logging.BatchID(batch.ID))
	log.Info("starting batch",
		logging.Int("poses", batch.Size()),
		logging.String(logging.KeyMethod, string(batch.Config.EnergyMethod)),
	)

	configErr := batch.Config.Validate()
	if configErr != nil {
		log.Error("invalid batch configuration", logging.Err(configErr))
		configErr = errors.Wrap(configErr, errors.ErrCodeInputValidation, "invalid batch configuration")
	}

	dups := batch.DuplicateIDs()
	results := make([]*pose.RankingResult, len(batch.Poses))
	for i, p := range batch.Poses {
		switch {
		case ctx.Err() != nil:
			results[i] = r.finish(ctx, batch, p, r.clock(),
				pose.Failed(poseID(p), pose.KindComputationFailure, "batch cancelled"), log)
		case configErr != nil:
			results[i] = r.finish(ctx, batch, p, r.clock(), pose.FromError(poseID(p), configErr), log)
		default:
			results[i] = r.rankOne(ctx, batch, p, dups[i], log)
		}
	}

	summary := Summarize(batch.ID, results, r.clock().Sub(start))
	var backends []string
	for _, m := range r.backends.Constructed() {
		backends = append(backends, string(m))
	}
	log.Info("batch complete",
		logging.Strings("backends", backends),
		logging.Int("successful", summary.Succeeded),
		logging.Int("total", summary.Total),
		logging.Int("fallbacks", summary.Fallbacks),
		logging.Duration("elapsed", summary.TotalDuration),
	)
	if r.sink != nil {
		if err := r.sink.PublishSummary(context.WithoutCancel(ctx), summary); err != nil {
			log.Warn("summary event not delivered", logging.Err(err))
		}
	}
	if err := r.metrics.Push(context.WithoutCancel(ctx)); err != nil {
		log.Warn("metrics push failed", logging.Err(err))
	}
	return results, summary
}

func poseID(p *pose.Pose) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func (r *Runner) transition(log logging.Logger, s State) {
	log.Debug("pose state", logging.String(logging.KeyState, string(s)))
	r.metrics.ObserveState(s)
}

func (r *Runner) rankOne(ctx context.Context, batch *pose.PoseBatch, p *pose.Pose, duplicate bool, log logging.Logger) *pose.RankingResult {
	start := r.clock()
	plog := log.With(logging.PoseID(poseID(p)))
	r.transition(plog, StatePending)
	res := r.evaluate(ctx, batch.Config, p, duplicate, plog)
	return r.finish(ctx, batch, p, start, res, log)
}

// finish stamps a terminal result, logs it and reports it to sink and metrics.
func (r *Runner) finish(ctx context.Context, batch *pose.PoseBatch, p *pose.Pose, start time.Time, res *pose.RankingResult, log logging.Logger) *pose.RankingResult {
	id := poseID(p)
	plog := log.With(logging.PoseID(id))
	if res.PoseID != id {
		res.PoseID = id
	}
	if res.EnergyMethod == "" {
		res.EnergyMethod = batch.Config.EnergyMethod
		if p != nil && p.Overrides != nil && p.Overrides.EnergyMethod != nil {
			res.EnergyMethod = *p.Overrides.EnergyMethod
		}
	}
	if p != nil && len(p.Metadata) > 0 {
		res.Metadata = p.CopyMetadata()
	}
	res.SetDuration(r.clock().Sub(start))

	if res.IsSuccess() {
		r.transition(plog, StateSucceeded)
		plog.Info("ranking successful",
			logging.Float64("interaction_kcal", *res.InteractionEnergy),
			logging.Float64("strain_kcal", *res.StrainEnergy),
			logging.String(logging.KeyDevice, res.Device),
			logging.Bool("cached", res.Cached),
			logging.Duration("elapsed", res.Duration),
		)
	} else {
		r.transition(plog, StateFailed)
		plog.Error("ranking failed",
			logging.String("error_kind", string(res.ErrorKind)),
			logging.String("error_message", res.ErrorMessage),
			logging.Duration("elapsed", res.Duration),
		)
	}

	if res.Attempts > 1 {
		r.metrics.ObserveFallback(res.EnergyMethod)
	}
	r.metrics.ObservePose(res.EnergyMethod, res.Status, res.ErrorKind, res.Duration)
	if r.sink != nil {
		if err := r.sink.PublishResult(context.WithoutCancel(ctx), batch.ID, res); err != nil {
			plog.Warn("result event not delivered", logging.Err(err))
		}
	}
	return res
}

// evaluate runs one pose to a terminal result. Panics anywhere in the pose
// pipeline become internal errors; the workspace is released on every path.
func (r *Runner) evaluate(ctx context.Context, cfg pose.BatchConfig, p *pose.Pose, duplicate bool, log logging.Logger) (res *pose.RankingResult) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("pose evaluation panicked",
				logging.Any("panic", rec), logging.String("stack", string(debug.Stack())))
			res = pose.Failed(poseID(p), pose.KindInternalError, fmt.Sprintf("panic: %v", rec))
		}
	}()

	if err := p.Validate(); err != nil {
		return pose.FromError(poseID(p), err)
	}
	if duplicate {
		return pose.Failed(p.ID, pose.KindInputValidation, fmt.Sprintf("duplicate pose_id %q in batch", p.ID))
	}
	eff := cfg.Merge(p.Overrides)

	key := CacheKey(p, eff)
	if cached := r.lookup(ctx, key, log); cached != nil {
		return cached
	}

	r.transition(log, StatePreparing)
	ws, err := r.workspaces.Acquire(p.ID)
	if err != nil {
		return pose.FromError(p.ID, err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			log.Warn("workspace not released", logging.String("dir", ws.Dir), logging.Err(err))
		}
	}()

	in, err := r.materialise(ctx, p, ws)
	if err != nil {
		return pose.FromError(p.ID, err)
	}

	ff, err := r.backends.Get(ctx, eff.EnergyMethod)
	if err != nil {
		failed := pose.FromError(p.ID, err)
		failed.EnergyMethod = eff.EnergyMethod
		return failed
	}

	r.transition(log, StateEvaluating)
	res = r.invoke(ctx, ff, in, eff, log)
	if !res.IsSuccess() {
		return res
	}

	if eff.Upload.Enabled() {
		r.publish(ctx, p, eff.Upload, res, log)
	}
	r.store(ctx, key, res, log)
	return res
}

// invoke calls the backend under the pose deadline.
func (r *Runner) invoke(ctx context.Context, ff forcefield.ForceField, in forcefield.Input, eff pose.EffectiveConfig, log logging.Logger) (res *pose.RankingResult) {
	pctx, cancel := ctx, context.CancelFunc(func() {})
	if eff.PoseTimeout > 0 {
		pctx, cancel = context.WithTimeout(ctx, eff.PoseTimeout)
	}
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("backend panicked",
				logging.Any("panic", rec), logging.String("stack", string(debug.Stack())))
			res = pose.Failed(in.PoseID, pose.KindInternalError, fmt.Sprintf("%s backend panic: %v", ff.Method(), rec))
			res.EnergyMethod = ff.Method()
		}
	}()

	res = ff.RankPose(pctx, in, eff)
	if res == nil {
		res = pose.Failed(in.PoseID, pose.KindInternalError, fmt.Sprintf("%s backend returned no result", ff.Method()))
		res.EnergyMethod = ff.Method()
		return res
	}
	if !res.IsSuccess() && ctx.Err() == nil && pctx.Err() == context.DeadlineExceeded {
		res.ErrorKind = pose.KindComputationFailure
		if !strings.Contains(res.ErrorMessage, "deadline exceeded") {
			res.ErrorMessage = fmt.Sprintf("pose timeout %s: deadline exceeded: %s", eff.PoseTimeout, res.ErrorMessage)
		}
	}
	return res
}
