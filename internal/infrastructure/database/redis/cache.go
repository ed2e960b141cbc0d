package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/PoseRank/internal/application/ranking"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

var ErrSerializationFailed = errors.New(errors.ErrCodeSerialization, "serialization failed")

// ResultCache keeps successful ranking results in Redis as JSON.
type ResultCache struct {
	client *Client
	logger logging.Logger
	prefix string
	ttl    time.Duration
}

var _ ranking.ResultCache = (*ResultCache)(nil)

type CacheOption func(*ResultCache)

func WithPrefix(prefix string) CacheOption {
	return func(c *ResultCache) { c.prefix = prefix }
}

// WithTTL sets the entry lifetime. Zero keeps entries forever.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *ResultCache) { c.ttl = ttl }
}

func NewResultCache(client *Client, log logging.Logger, opts ...CacheOption) *ResultCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &ResultCache{
		client: client,
		logger: log,
		prefix: "poserank:result:",
		ttl:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ResultCache) fullKey(key string) string {
	return c.prefix + key
}

// Get returns the stored result for key. A corrupt entry is dropped and
// reported as a miss.
func (c *ResultCache) Get(ctx context.Context, key string) (*pose.RankingResult, bool, error) {
	data, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeCacheError, "cache get").WithDetail(key)
	}

	var res pose.RankingResult
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Warn("dropping corrupt cache entry", logging.String("key", key), logging.Err(err))
		_ = c.invalidate(ctx, key)
		return nil, false, nil
	}
	return &res, true, nil
}

// Set stores r under key.
func (c *ResultCache) Set(ctx context.Context, key string, r *pose.RankingResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, ErrSerializationFailed.Message)
	}
	if err := c.client.Set(ctx, c.fullKey(key), data, c.ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache set").WithDetail(key)
	}
	c.logger.Debug("result cached", logging.String("key", key), logging.Duration("ttl", c.ttl))
	return nil
}

// invalidate removes the entries for keys.
func (c *ResultCache) invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.fullKey(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache delete")
	}
	return nil
}
