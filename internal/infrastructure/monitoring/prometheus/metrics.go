package prometheus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/turtacn/PoseRank/internal/application/ranking"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// Default Buckets
var (
	DefaultPoseDurationBuckets   = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600, 7200}
	DefaultEngineDurationBuckets = []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900, 3600}
)

// RankingMetrics records batch progress and engine invocations.
type RankingMetrics struct {
	PosesTotal           CounterVec
	PoseDuration         HistogramVec
	StateTransitions     CounterVec
	BackendConstructions CounterVec
	DeviceFallbacks      CounterVec
	CacheHits            CounterVec
	EngineInvocations    CounterVec
	EngineDuration       HistogramVec
	LastPush             GaugeVec

	pusher *push.Pusher
	job    string
	logger logging.Logger
}

var (
	_ ranking.Metrics       = (*RankingMetrics)(nil)
	_ common.EngineObserver = (*RankingMetrics)(nil)
)

// PushConfig names a Pushgateway. An empty URL disables pushing.
type PushConfig struct {
	URL string
	Job string
}

// NewRankingMetrics registers the ranking metrics on collector.
func NewRankingMetrics(collector MetricsCollector, pc PushConfig, logger logging.Logger) *RankingMetrics {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	m := &RankingMetrics{logger: logger}

	m.PosesTotal = collector.RegisterCounter("poses_total", "Poses processed", "method", "status", "error_kind")
	m.PoseDuration = collector.RegisterHistogram("pose_duration_seconds", "Wall time per pose", DefaultPoseDurationBuckets, "method", "status")
	m.StateTransitions = collector.RegisterCounter("pose_state_transitions_total", "Pose state transitions", "state")
	m.BackendConstructions = collector.RegisterCounter("backend_constructions_total", "Force field backend constructions", "method", "result")
	m.DeviceFallbacks = collector.RegisterCounter("device_fallbacks_total", "Accelerator to CPU fallbacks", "method")
	m.CacheHits = collector.RegisterCounter("result_cache_hits_total", "Results served from the cache")
	m.EngineInvocations = collector.RegisterCounter("engine_invocations_total", "External engine invocations", "engine", "task", "status")
	m.EngineDuration = collector.RegisterHistogram("engine_duration_seconds", "External engine wall time", DefaultEngineDurationBuckets, "engine", "task")
	m.LastPush = collector.RegisterGauge("last_push_timestamp_seconds", "Time of the last successful push", "job")

	if pc.URL != "" {
		job := pc.Job
		if job == "" {
			job = "poserank"
		}
		m.job = job
		m.pusher = push.New(pc.URL, job).Gatherer(collector.Gatherer())
	}
	return m
}

func (m *RankingMetrics) ObservePose(method pose.Method, status pose.Status, kind pose.ErrorKind, d time.Duration) {
	m.PosesTotal.WithLabelValues(string(method), string(status), string(kind)).Inc()
	m.PoseDuration.WithLabelValues(string(method), string(status)).Observe(d.Seconds())
}

func (m *RankingMetrics) ObserveState(state ranking.State) {
	m.StateTransitions.WithLabelValues(string(state)).Inc()
}

func (m *RankingMetrics) ObserveBackendConstruction(method pose.Method, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.BackendConstructions.WithLabelValues(string(method), result).Inc()
}

func (m *RankingMetrics) ObserveFallback(method pose.Method) {
	m.DeviceFallbacks.WithLabelValues(string(method)).Inc()
}

func (m *RankingMetrics) ObserveCacheHit() {
	m.CacheHits.WithLabelValues().Inc()
}

func (m *RankingMetrics) ObserveEngine(engine, task, status string, d time.Duration) {
	m.EngineInvocations.WithLabelValues(engine, task, status).Inc()
	m.EngineDuration.WithLabelValues(engine, task).Observe(d.Seconds())
}

// Push sends the registry to the Pushgateway. Without one it is a no-op.
func (m *RankingMetrics) Push(ctx context.Context) error {
	if m.pusher == nil {
		return nil
	}
	if err := m.pusher.PushContext(ctx); err != nil {
		m.logger.Warn("metrics push failed", logging.Err(err))
		return errors.Wrap(err, errors.ErrCodeExternalService, "push metrics")
	}
	m.LastPush.WithLabelValues(m.job).SetToCurrentTime()
	m.logger.Debug("metrics pushed", logging.String("job", m.job))
	return nil
}
