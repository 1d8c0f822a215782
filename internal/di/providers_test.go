package di

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceIntel/internal/repository"
	"PriceIntel/pkg/cache"
	"PriceIntel/pkg/config"
	applogger "PriceIntel/pkg/logger"
)

func TestDisabledInfrastructureIsNil(t *testing.T) {
	cfg := config.Default()

	producer, cleanup, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	cleanup()
	assert.Nil(t, producer)

	rc, cleanup, err := ProvideRedisCache(cfg)
	require.NoError(t, err)
	cleanup()
	assert.Nil(t, rc)

	q := ProvideRunQueue(cfg, rc, applogger.Nop())
	assert.Nil(t, q)
	// A typed nil would make the orchestrator try to enqueue.
	assert.True(t, ProvideDeferredRuns(q) == nil)

	consumer, err := ProvideTriggerConsumer(cfg, nil, applogger.Nop())
	require.NoError(t, err)
	assert.Nil(t, consumer)
}

func TestMemoryStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"

	pg, cleanup, err := ProvidePostgresClient(cfg)
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, pg)

	store := ProvideArtifactStore(pg, applogger.Nop())
	assert.IsType(t, &repository.MemoryStore{}, store)
}

func TestCacheFallsBackToMemory(t *testing.T) {
	cfg := config.Default()
	c, cleanup := ProvideCache(cfg, nil)
	defer cleanup()
	require.IsType(t, &cache.MemoryCache{}, c)

	locker := ProvideRunLocker(c)
	ctx := context.Background()
	ok, err := locker.TryLock(ctx, "pipeline", "run-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = locker.TryLock(ctx, "pipeline", "run-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, locker.Unlock(ctx, "pipeline", "run-1"))
}

func TestEventDispatcherSinks(t *testing.T) {
	cfg := config.Default()
	hub, cleanup := ProvideHub(cfg, applogger.Nop())
	defer cleanup()
	require.NotNil(t, hub)

	d := ProvideEventDispatcher(cfg, nil, hub, applogger.Nop())
	assert.NotNil(t, ProvideEventPublisher(d))

	cfg.Events.Websocket = false
	none, _ := ProvideHub(cfg, applogger.Nop())
	assert.Nil(t, none)
}

func TestInitializeServicesReportsUnreachableClickHouse(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.ClickHouse.Host = "127.0.0.1"
	cfg.ClickHouse.Port = 1
	cfg.ClickHouse.DialTimeout = 200 * time.Millisecond

	svc, cleanup, err := InitializeServices(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clickhouse")
	assert.Nil(t, svc)
	assert.Nil(t, cleanup)
}
