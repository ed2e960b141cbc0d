package kafka

import (
	"context"

	"github.com/turtacn/PoseRank/internal/application/ranking"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// Publisher is the write side used by ResultPublisher.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// PoseRankedPayload is the payload of a pose.ranked event.
type PoseRankedPayload struct {
	BatchID string              `json:"batch_id"`
	Result  *pose.RankingResult `json:"result"`
}

// BatchCompletedPayload is the payload of a batch.completed event.
type BatchCompletedPayload struct {
	Summary *pose.Summary `json:"summary"`
}

// EventsConfig names the topics and the event source.
type EventsConfig struct {
	ResultTopic  string
	SummaryTopic string
	Source       string
}

// ResultPublisher streams ranking results and batch summaries as events.
// Results are keyed by pose ID and summaries by batch ID.
type ResultPublisher struct {
	producer Publisher
	cfg      EventsConfig
	logger   logging.Logger
}

var _ ranking.ResultSink = (*ResultPublisher)(nil)

func NewResultPublisher(producer Publisher, cfg EventsConfig, logger logging.Logger) *ResultPublisher {
	if cfg.ResultTopic == "" {
		cfg.ResultTopic = TopicPoseRanked
	}
	if cfg.SummaryTopic == "" {
		cfg.SummaryTopic = TopicBatchCompleted
	}
	if cfg.Source == "" {
		cfg.Source = "poserank"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ResultPublisher{producer: producer, cfg: cfg, logger: logger}
}

func (p *ResultPublisher) PublishResult(ctx context.Context, batchID string, r *pose.RankingResult) error {
	env, err := NewEventEnvelope(EventPoseRanked, p.cfg.Source, PoseRankedPayload{BatchID: batchID, Result: r})
	if err != nil {
		return err
	}
	env.Metadata = map[string]string{"batch_id": batchID, "status": string(r.Status)}
	msg, err := env.ToMessage(p.cfg.ResultTopic, r.PoseID)
	if err != nil {
		return err
	}
	if err := p.producer.Publish(ctx, msg); err != nil {
		return err
	}
	p.logger.Debug("result event published", logging.PoseID(r.PoseID), logging.String("event_id", env.EventID))
	return nil
}

func (p *ResultPublisher) PublishSummary(ctx context.Context, s *pose.Summary) error {
	env, err := NewEventEnvelope(EventBatchCompleted, p.cfg.Source, BatchCompletedPayload{Summary: s})
	if err != nil {
		return err
	}
	env.Metadata = map[string]string{"batch_id": s.BatchID}
	msg, err := env.ToMessage(p.cfg.SummaryTopic, s.BatchID)
	if err != nil {
		return err
	}
	if err := p.producer.Publish(ctx, msg); err != nil {
		return err
	}
	p.logger.Info("batch summary published", logging.BatchID(s.BatchID), logging.String("event_id", env.EventID))
	return nil
}
