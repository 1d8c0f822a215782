package di

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	domsvc "PriceIntel/internal/domain/service"
	"PriceIntel/internal/handler/api"
	"PriceIntel/internal/handler/ws"
	mid "PriceIntel/internal/middleware"
	internalrepo "PriceIntel/internal/repository"
	svcmetrics "PriceIntel/internal/service/metrics"
	"PriceIntel/internal/service/ratelimit"
	"PriceIntel/internal/services/affinity"
	"PriceIntel/internal/services/forecasting"
	"PriceIntel/internal/services/statistics"
	"PriceIntel/internal/usecase"
	"PriceIntel/pkg/cache"
	pkgch "PriceIntel/pkg/clickhouse"
	"PriceIntel/pkg/config"
	xhttp "PriceIntel/pkg/http"
	pkgkafka "PriceIntel/pkg/kafka"
	applogger "PriceIntel/pkg/logger"
	"PriceIntel/pkg/metrics"
	"PriceIntel/pkg/postgres"
	"PriceIntel/pkg/queue"
	"PriceIntel/pkg/server"
)

const schemaTimeout = 30 * time.Second

// Services is the non-HTTP object graph used by the one-shot commands.
type Services struct {
	Config       *config.Config
	Logger       *applogger.Logger
	Store        domrepo.ArtifactStore
	Orchestrator *usecase.PipelineOrchestrator
	Dashboard    *usecase.DashboardAggregator
	Dispatcher   *mid.EventDispatcher
}

// ProvideLogger ships aggregated error logs to the logs topic when a producer
// is available. The collector is attached before any child logger exists.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil && cfg.Kafka.LogsTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      producer,
		})
	}
	return l.With(applogger.String("env", cfg.Environment)), l.RemoveCollector, nil
}

// ProvideRecorder registers the pipeline and dashboard collectors on the
// default registry served by the HTTP server.
func ProvideRecorder() *metrics.Recorder {
	svcmetrics.Register()
	return metrics.New(prometheus.DefaultRegisterer)
}

func ProvidePipelineMetrics(r *metrics.Recorder) domrepo.PipelineMetrics {
	return r
}

func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if cfg.ClickHouse.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
		defer cancel()
		if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideDataProvider wraps the ClickHouse reader with timeout, rate limit
// and circuit breaker.
func ProvideDataProvider(cfg *config.Config, ch *pkgch.Client, rec *metrics.Recorder, l *applogger.Logger) domrepo.DataProvider {
	base := internalrepo.NewClickHouseProvider(ch, l)
	return internalrepo.NewResilientProvider(base, internalrepo.ResilienceConfig{
		Timeout:        cfg.Provider.Timeout,
		RatePerSecond:  cfg.Provider.RatePerSecond,
		Burst:          cfg.Provider.Burst,
		BreakerTimeout: cfg.Provider.BreakerTimeout,
		BreakerTrips:   cfg.Provider.BreakerTrips,
	}, rec, l)
}

// ProvidePostgresClient returns nil when artifacts are kept in memory.
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	if cfg.Storage.Driver != "postgres" {
		return nil, func() {}, nil
	}
	client, err := postgres.NewClient(
		postgres.WithDSN(cfg.Postgres.DSN),
		postgres.WithPool(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, cfg.Postgres.ConnMaxLifetime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}
	if cfg.Postgres.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
		defer cancel()
		if err := client.Migrate(ctx, internalrepo.PostgresSchema); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
	}
	return client, func() { _ = client.Close() }, nil
}

func ProvideArtifactStore(pg *postgres.Client, l *applogger.Logger) domrepo.ArtifactStore {
	if pg == nil {
		l.Warn("artifact store is in memory; results are lost on exit")
		return internalrepo.NewMemoryStore()
	}
	return internalrepo.NewPostgresStore(pg, l)
}

// ProvideRedisCache returns nil when redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCache layers a process-local cache over redis when redis is
// available.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) (cache.Service, func()) {
	mem := cache.NewMemoryCache(
		cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxItems),
		cache.WithMemoryCleanup(time.Minute),
	)
	if rc == nil {
		return mem, func() { _ = mem.Close() }
	}
	lc := cache.NewLayeredCache(rc, mem, cfg.Cache.DefaultTTL)
	return lc, func() { _ = mem.Close() }
}

func ProvideRunLocker(c cache.Service) domrepo.RunLocker {
	return c
}

// ProvideRunQueue returns nil when the queue is disabled.
func ProvideRunQueue(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l, queue.Config{
		Workers:      cfg.Queue.Workers,
		RetryLimit:   cfg.Queue.MaxRetries,
		RetryDelay:   cfg.Queue.RetryBackoff,
		PollInterval: cfg.Queue.PollInterval,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue:"+cfg.Queue.Name))
}

// ProvideDeferredRuns avoids handing a typed nil to the orchestrator.
func ProvideDeferredRuns(q *queue.RedisQueue) domrepo.RunQueue {
	if q == nil {
		return nil
	}
	return q
}

// ProvideKafkaProducer returns nil when kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	p, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Producer.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.Producer.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return p, func() { _ = p.Close() }, nil
}

// ProvideHub returns nil when websocket streaming is disabled.
func ProvideHub(cfg *config.Config, l *applogger.Logger) (*ws.Hub, func()) {
	if !cfg.Events.Websocket {
		return nil, func() {}
	}
	h := ws.NewHub(l, cfg.Server.AllowOrigins)
	return h, h.Close
}

func ProvideEventDispatcher(cfg *config.Config, producer *pkgkafka.Producer, hub *ws.Hub, l *applogger.Logger) *mid.EventDispatcher {
	var sinks []mid.Sink
	if producer != nil {
		sinks = append(sinks, mid.NewKafkaSink(producer, cfg.Kafka.AlertsTopic, cfg.Kafka.RunsTopic))
	}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	return mid.NewEventDispatcher(l, sinks,
		mid.WithBufferSize(cfg.Events.BufferSize),
		mid.WithProgressThrottle(cfg.Events.ProgressPerSecond, cfg.Events.ProgressBurst),
		mid.WithRetry(cfg.Events.RetryMax, cfg.Events.BackoffMin, cfg.Events.BackoffMax),
	)
}

func ProvideEventPublisher(d *mid.EventDispatcher) domrepo.EventPublisher {
	return d
}

func ProvideStatistics(cfg *config.Config) *statistics.Analyzer {
	a := cfg.Analytics
	return statistics.New(statistics.Config{
		AnomalyThreshold:     a.AnomalyZThreshold,
		CriticalZ:            a.CriticalZ,
		SeasonalityThreshold: a.SeasonalitySignif,
		ConfidenceLevel:      a.ConfidenceLevel,
		CompetitiveBand:      a.CompetitiveBand,
	})
}

func ProvideForecaster(cfg *config.Config, src domrepo.DataProvider, analyzer *statistics.Analyzer) domsvc.Forecaster {
	fc := forecasting.DefaultConfig()
	fc.MinPoints = cfg.Analytics.MinForecastPoints
	fc.SeasonalPeriod = cfg.Analytics.SeasonalPeriod
	fc.ConfidenceLevel = cfg.Analytics.ConfidenceLevel
	fc.DefaultHorizon = cfg.Pipeline.ForecastHorizon
	fc.DefaultLookback = cfg.Pipeline.ForecastLookback
	return forecasting.New(src, analyzer, fc)
}

func ProvideAffinity(cfg *config.Config, src domrepo.DataProvider) domsvc.AffinityMiner {
	a := cfg.Analytics
	ac := affinity.DefaultConfig()
	ac.Rules = affinity.RuleConfig{
		MinSupport:      a.MinSupport,
		MinConfidence:   a.MinConfidence,
		MinLift:         a.MinLift,
		MinTransactions: a.MinTransactions,
		MaxRules:        a.MaxRules,
	}
	ac.BasketSampleSize = a.BasketSampleSize
	ac.WindowDays = cfg.Pipeline.AffinityDaysBack
	ac.BundleDiscount = a.BundleDiscount
	ac.UpsellMargin = a.UpsellMargin
	ac.BundleSize = a.BundleSize
	return affinity.New(src, ac)
}

func ProvideDashboard(cfg *config.Config, store domrepo.ArtifactStore, src domrepo.DataProvider, c cache.Service, l *applogger.Logger) *usecase.DashboardAggregator {
	return usecase.NewDashboardAggregator(store, src, c, usecase.DashboardConfig{
		CacheTTL:     cfg.Dashboard.CacheTTL,
		PanelTimeout: cfg.Dashboard.PanelTimeout,
		DefaultLimit: cfg.Dashboard.DefaultLimit,
	}, time.Now, l)
}

// ProvideOrchestrator builds the pipeline and drops the cached dashboard
// whenever a run completes.
func ProvideOrchestrator(
	cfg *config.Config,
	src domrepo.DataProvider,
	store domrepo.ArtifactStore,
	analyzer *statistics.Analyzer,
	forecaster domsvc.Forecaster,
	miner domsvc.AffinityMiner,
	events domrepo.EventPublisher,
	locker domrepo.RunLocker,
	runs domrepo.RunQueue,
	pm domrepo.PipelineMetrics,
	dash *usecase.DashboardAggregator,
	l *applogger.Logger,
) *usecase.PipelineOrchestrator {
	p := cfg.Pipeline
	o := usecase.NewPipelineOrchestrator(usecase.OrchestratorDeps{
		Provider:   src,
		Store:      store,
		Analyzer:   analyzer,
		Forecaster: forecaster,
		Affinity:   miner,
		Events:     events,
		Locker:     locker,
		Queue:      runs,
		Metrics:    pm,
		Clock:      time.Now,
	}, usecase.PipelineConfig{
		Workers:              p.Workers,
		EntityTimeout:        p.EntityTimeout,
		LockTTL:              p.LockTTL,
		OverlapPolicy:        p.OverlapPolicy,
		ForecastTopN:         p.ForecastTopN,
		ForecastHorizon:      p.ForecastHorizon,
		ForecastLookback:     p.ForecastLookback,
		StatisticsWindow:     p.StatisticsWindow,
		AffinityDaysBack:     p.AffinityDaysBack,
		BundleProducts:       p.BundleProducts,
		BundleSize:           cfg.Analytics.BundleSize,
		RecommendationCap:    p.RecommendationCap,
		MaxEntities:          p.MaxEntities,
		SeasonalPeriod:       cfg.Analytics.SeasonalPeriod,
		SignificantChangePct: cfg.Analytics.SignificantChangePct,
		LowStockThreshold:    cfg.Analytics.LowStockThreshold,
	}, l)
	o.OnRunFinished(func(ctx context.Context, run models.PipelineRun) {
		if run.Status == models.RunQueued {
			return
		}
		if err := dash.Invalidate(ctx); err != nil {
			l.Warn("dashboard cache invalidation failed", applogger.Error(err), applogger.String("run_id", run.RunID))
		}
	})
	return o
}

func ProvideProductIntel(src domrepo.DataProvider, store domrepo.ArtifactStore, forecaster domsvc.Forecaster, miner domsvc.AffinityMiner, l *applogger.Logger) *usecase.ProductIntelService {
	return usecase.NewProductIntelService(src, store, forecaster, miner, time.Now, l)
}

func ProvideHTTPServer(
	cfg *config.Config,
	o *usecase.PipelineOrchestrator,
	store domrepo.ArtifactStore,
	dash *usecase.DashboardAggregator,
	intel *usecase.ProductIntelService,
	hub *ws.Hub,
	l *applogger.Logger,
) *xhttp.Server {
	var events echo.HandlerFunc
	if hub != nil {
		events = hub.Serve
	}
	var limiter *ratelimit.Limiter
	if cfg.Server.TriggerRate > 0 {
		limiter = ratelimit.New(cfg.Server.TriggerRate, cfg.Server.TriggerBurst)
	}
	handlers := xhttp.Handlers{
		api.NewDashboardHandler(dash, l),
		api.NewPipelineHandler(o, store, limiter, events, l),
		api.NewProductHandler(intel, l),
	}
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithAllowOrigins(cfg.Server.AllowOrigins),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	}
	return xhttp.NewServer(l, handlers, opts...)
}

// ProvideTriggerConsumer returns nil when kafka is disabled.
func ProvideTriggerConsumer(cfg *config.Config, o *usecase.PipelineOrchestrator, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.TriggerTopic == "" {
		return nil, nil
	}
	k := cfg.Kafka
	c, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(k.Brokers),
		pkgkafka.WithConsumerGroupID(k.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(k.Consumer.Workers),
		pkgkafka.WithConsumerRetry(k.Consumer.RetryMax, k.Consumer.BackoffMin, k.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(k.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	if err := c.RegisterHandler(usecase.NewTriggerHandler(k.TriggerTopic, o, l)); err != nil {
		return nil, fmt.Errorf("register trigger handler: %w", err)
	}
	return c, nil
}

func ProvideServices(cfg *config.Config, l *applogger.Logger, store domrepo.ArtifactStore, o *usecase.PipelineOrchestrator, dash *usecase.DashboardAggregator, d *mid.EventDispatcher) *Services {
	return &Services{Config: cfg, Logger: l, Store: store, Orchestrator: o, Dashboard: dash, Dispatcher: d}
}

// ProvideApp assembles the long-running components. They start in the order
// added and stop in reverse, after the HTTP server.
func ProvideApp(
	cfg *config.Config,
	srv *xhttp.Server,
	o *usecase.PipelineOrchestrator,
	d *mid.EventDispatcher,
	q *queue.RedisQueue,
	consumer *pkgkafka.Consumer,
	l *applogger.Logger,
) (*server.App, error) {
	app := server.New(l, srv, cfg.Server.ShutdownTimeout)
	app.Add(server.ComponentFunc{
		ID: "event_dispatcher",
		StartFn: func(ctx context.Context) error {
			d.Start(ctx)
			return nil
		},
		StopFn: func(context.Context) error {
			d.Stop()
			return nil
		},
	})
	if q != nil {
		if err := q.RegisterJob(usecase.NewRunJob(o, l)); err != nil {
			return nil, fmt.Errorf("register run job: %w", err)
		}
		app.Add(server.ComponentFunc{ID: "run_queue", StartFn: q.Start, StopFn: q.Stop})
	}
	if consumer != nil {
		app.Add(server.ComponentFunc{ID: "trigger_consumer", StartFn: consumer.Start, StopFn: consumer.Stop})
	}
	return app, nil
}
