package cli

import (
	"github.com/turtacn/PoseRank/internal/application/ranking"
	"github.com/turtacn/PoseRank/internal/config"
	rediscache "github.com/turtacn/PoseRank/internal/infrastructure/database/redis"
	"github.com/turtacn/PoseRank/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/PoseRank/internal/infrastructure/storage/minio"
	"github.com/turtacn/PoseRank/internal/intelligence/common"
	"github.com/turtacn/PoseRank/internal/intelligence/forcefield"
	"github.com/turtacn/PoseRank/internal/intelligence/so3lr"
	"github.com/turtacn/PoseRank/internal/intelligence/xtb"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// application holds the components of one CLI invocation.
type application struct {
	Registry *forcefield.Registry
	Probe    *common.DeviceProbe
	Storage  *minio.MinIOClient
	Cache    *rediscache.Client
	Producer *kafka.Producer
	Metrics  *prometheus.RankingMetrics
	Runner   *ranking.Runner

	logger  logging.Logger
	closers []func() error
}

// buildApplication wires the backends and the optional infrastructure
// selected by cfg. Storage and event failures abort; an unreachable cache
// only disables caching.
func buildApplication(cc *CLIContext) (*application, error) {
	cfg := cc.Config
	log := cc.Logger
	app := &application{logger: log}

	var observer common.EngineObserver = common.NopObserver()
	var metrics ranking.Metrics
	if cfg.Metrics.Enabled {
		collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, log)
		if err != nil {
			return nil, err
		}
		app.Metrics = prometheus.NewRankingMetrics(collector, prometheus.PushConfig{
			URL: cfg.Metrics.PushgatewayURL,
			Job: cfg.Metrics.JobName,
		}, log)
		observer, metrics = app.Metrics, app.Metrics
	}

	registry, probe, err := buildRegistry(cfg, cc.Executor, observer, log)
	if err != nil {
		return nil, err
	}
	app.Registry, app.Probe = registry, probe

	var hydrogens ranking.HydrogenCompleter
	if cfg.Engines.Hydrogens.Enabled {
		h, err := forcefield.NewHydrogenCompleter(cfg.Engines.Hydrogens, cc.Executor, observer, log)
		if err != nil {
			return nil, err
		}
		hydrogens = h
	}

	if cfg.Storage.Endpoint != "" {
		client, err := newStorageClient(cfg, log)
		if err != nil {
			return nil, err
		}
		app.Storage = client
		app.closers = append(app.closers, client.Close)
	}

	var cache ranking.ResultCache
	if cfg.Cache.Enabled {
		client, err := newCacheClient(cfg, log)
		if err != nil {
			log.Warn("result cache unavailable, continuing without it", logging.Err(err))
		} else {
			app.Cache = client
			app.closers = append(app.closers, client.Close)
			cache = rediscache.NewResultCache(client, log,
				rediscache.WithPrefix(cfg.Cache.KeyPrefix),
				rediscache.WithTTL(cfg.Cache.TTL),
			)
		}
	}

	var sink ranking.ResultSink
	if cfg.Events.Enabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Events.Brokers,
			WriteTimeout: cfg.Events.WriteTimeout,
		}, log)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Producer = producer
		app.closers = append(app.closers, producer.Close)
		sink = kafka.NewResultPublisher(producer, kafka.EventsConfig{
			ResultTopic:  cfg.Events.ResultTopic,
			SummaryTopic: cfg.Events.SummaryTopic,
			Source:       cfg.Events.Source,
		}, log)
	}

	runner, err := ranking.NewRunner(ranking.Options{
		Registry:   registry,
		Transfer:   minio.NewArtifactStore(app.Storage, log),
		Converter:  ranking.UnimplementedConverter{},
		Hydrogens:  hydrogens,
		Workspaces: ranking.NewWorkspaces(cfg.Ranking.ScratchDir),
		Cache:      cache,
		Sink:       sink,
		Metrics:    metrics,
		Logger:     log,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Runner = runner
	app.closers = append(app.closers, runner.Close)

	log.Debug("application wired",
		logging.Bool("hydrogens", hydrogens != nil),
		logging.Bool("storage", app.Storage != nil),
		logging.Bool("cache", cache != nil),
		logging.Bool("events", sink != nil),
		logging.Bool("metrics", metrics != nil),
	)
	return app, nil
}

// buildRegistry registers a factory for every energy method.
func buildRegistry(cfg *config.Config, exec common.Executor, observer common.EngineObserver, log logging.Logger) (*forcefield.Registry, *common.DeviceProbe, error) {
	policy, err := cfg.ScoringPolicy()
	if err != nil {
		return nil, nil, err
	}
	probe := common.NewDeviceProbe(exec, cfg.Engines.DeviceProbe.Command, cfg.Engines.DeviceProbe.Timeout)

	xtbCfg := cfg.Engines.XTB
	so3lrCfg := cfg.Engines.SO3LR
	if name := cfg.Ranking.LigandResName; name != "" {
		xtbCfg.LigandResName = name
		so3lrCfg.LigandResName = name
	}

	registry := forcefield.NewRegistry()
	registry.Register(pose.MethodGFN2, xtb.NewFactory(xtbCfg, exec, policy, observer, log))
	registry.Register(pose.MethodSO3LR, so3lr.NewFactory(so3lrCfg, exec, probe, policy, observer, log))
	return registry, probe, nil
}

func newStorageClient(cfg *config.Config, log logging.Logger) (*minio.MinIOClient, error) {
	return minio.NewMinIOClient(&minio.MinIOConfig{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKey,
		SecretAccessKey: cfg.Storage.SecretKey,
		UseSSL:          cfg.Storage.UseSSL,
		Region:          cfg.Storage.Region,
		DefaultBucket:   cfg.Storage.DefaultBucket,
	}, log)
}

func newCacheClient(cfg *config.Config, log logging.Logger) (*rediscache.Client, error) {
	return rediscache.NewClient(&rediscache.RedisConfig{
		Addr:        cfg.Cache.Addr,
		Password:    cfg.Cache.Password,
		DB:          cfg.Cache.DB,
		DialTimeout: cfg.Cache.DialTimeout,
	}, log)
}

// Close releases every component in reverse construction order.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown error", logging.Err(err))
		}
	}
	a.closers = nil
}
