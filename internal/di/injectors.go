//go:build !wireinject
// +build !wireinject

// Hand-maintained counterpart of the injectors in wire.go, written in the
// shape wire emits. Change both together. To regenerate instead, delete this
// file and run wire, which writes wire_gen.go.

package di

import (
	"PriceIntel/pkg/config"
	"PriceIntel/pkg/server"
)

// InitializeServices builds the object graph without any listener.
func InitializeServices(cfg *config.Config) (*Services, func(), error) {
	producer, cleanup, err := ProvideKafkaProducer(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger, cleanup2, err := ProvideLogger(cfg, producer)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	client, cleanup3, err := ProvidePostgresClient(cfg)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	artifactStore := ProvideArtifactStore(client, logger)
	recorder := ProvideRecorder()
	pkgchClient, cleanup4, err := ProvideClickHouseClient(cfg)
	if err != nil {
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	dataProvider := ProvideDataProvider(cfg, pkgchClient, recorder, logger)
	analyzer := ProvideStatistics(cfg)
	forecaster := ProvideForecaster(cfg, dataProvider, analyzer)
	affinityMiner := ProvideAffinity(cfg, dataProvider)
	hub, cleanup5 := ProvideHub(cfg, logger)
	eventDispatcher := ProvideEventDispatcher(cfg, producer, hub, logger)
	eventPublisher := ProvideEventPublisher(eventDispatcher)
	redisCache, cleanup6, err := ProvideRedisCache(cfg)
	if err != nil {
		cleanup5()
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	service, cleanup7 := ProvideCache(cfg, redisCache)
	runLocker := ProvideRunLocker(service)
	redisQueue := ProvideRunQueue(cfg, redisCache, logger)
	runQueue := ProvideDeferredRuns(redisQueue)
	pipelineMetrics := ProvidePipelineMetrics(recorder)
	dashboardAggregator := ProvideDashboard(cfg, artifactStore, dataProvider, service, logger)
	pipelineOrchestrator := ProvideOrchestrator(cfg, dataProvider, artifactStore, analyzer, forecaster, affinityMiner, eventPublisher, runLocker, runQueue, pipelineMetrics, dashboardAggregator, logger)
	services := ProvideServices(cfg, logger, artifactStore, pipelineOrchestrator, dashboardAggregator, eventDispatcher)
	return services, func() {
		cleanup7()
		cleanup6()
		cleanup5()
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	producer, cleanup, err := ProvideKafkaProducer(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger, cleanup2, err := ProvideLogger(cfg, producer)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	recorder := ProvideRecorder()
	pkgchClient, cleanup3, err := ProvideClickHouseClient(cfg)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	dataProvider := ProvideDataProvider(cfg, pkgchClient, recorder, logger)
	client, cleanup4, err := ProvidePostgresClient(cfg)
	if err != nil {
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	artifactStore := ProvideArtifactStore(client, logger)
	analyzer := ProvideStatistics(cfg)
	forecaster := ProvideForecaster(cfg, dataProvider, analyzer)
	affinityMiner := ProvideAffinity(cfg, dataProvider)
	hub, cleanup5 := ProvideHub(cfg, logger)
	eventDispatcher := ProvideEventDispatcher(cfg, producer, hub, logger)
	eventPublisher := ProvideEventPublisher(eventDispatcher)
	redisCache, cleanup6, err := ProvideRedisCache(cfg)
	if err != nil {
		cleanup5()
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	service, cleanup7 := ProvideCache(cfg, redisCache)
	runLocker := ProvideRunLocker(service)
	redisQueue := ProvideRunQueue(cfg, redisCache, logger)
	runQueue := ProvideDeferredRuns(redisQueue)
	pipelineMetrics := ProvidePipelineMetrics(recorder)
	dashboardAggregator := ProvideDashboard(cfg, artifactStore, dataProvider, service, logger)
	pipelineOrchestrator := ProvideOrchestrator(cfg, dataProvider, artifactStore, analyzer, forecaster, affinityMiner, eventPublisher, runLocker, runQueue, pipelineMetrics, dashboardAggregator, logger)
	productIntelService := ProvideProductIntel(dataProvider, artifactStore, forecaster, affinityMiner, logger)
	xhttpServer := ProvideHTTPServer(cfg, pipelineOrchestrator, artifactStore, dashboardAggregator, productIntelService, hub, logger)
	consumer, err := ProvideTriggerConsumer(cfg, pipelineOrchestrator, logger)
	if err != nil {
		cleanup7()
		cleanup6()
		cleanup5()
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	app, err := ProvideApp(cfg, xhttpServer, pipelineOrchestrator, eventDispatcher, redisQueue, consumer, logger)
	if err != nil {
		cleanup7()
		cleanup6()
		cleanup5()
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	return app, func() {
		cleanup7()
		cleanup6()
		cleanup5()
		cleanup4()
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}
