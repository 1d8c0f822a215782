//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"PriceIntel/pkg/config"
	"PriceIntel/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideRecorder,
	ProvidePipelineMetrics,
	ProvideClickHouseClient,
	ProvideDataProvider,
	ProvidePostgresClient,
	ProvideArtifactStore,
	ProvideRedisCache,
	ProvideCache,
	ProvideRunLocker,
	ProvideRunQueue,
	ProvideDeferredRuns,
	ProvideHub,
	ProvideEventDispatcher,
	ProvideEventPublisher,
)

var analyticsSet = wire.NewSet(
	ProvideStatistics,
	ProvideForecaster,
	ProvideAffinity,
	ProvideDashboard,
	ProvideOrchestrator,
)

// InitializeServices builds the object graph without any listener.
func InitializeServices(cfg *config.Config) (*Services, func(), error) {
	wire.Build(infraSet, analyticsSet, ProvideServices)
	return nil, nil, nil
}

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		analyticsSet,
		ProvideProductIntel,
		ProvideHTTPServer,
		ProvideTriggerConsumer,
		ProvideApp,
	)
	return nil, nil, nil
}
