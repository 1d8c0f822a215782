package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceIntel/internal/domain/models"
	applogger "PriceIntel/pkg/logger"
)

type recordingSink struct {
	name     string
	mu       sync.Mutex
	events   []models.PipelineEvent
	failures int
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) PublishEvent(_ context.Context, ev models.PipelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func runEvent(kind string) models.PipelineEvent {
	return models.PipelineEvent{Kind: kind, RunID: "run-1", Timestamp: time.Now()}
}

func TestEventDispatcher_FansOutToAllSinks(t *testing.T) {
	a, b := &recordingSink{name: "a"}, &recordingSink{name: "b"}
	d := NewEventDispatcher(applogger.Nop(), []Sink{a, b})

	require.NoError(t, d.PublishEvent(context.Background(), runEvent(models.EventRunStarted)))
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestEventDispatcher_RejectsInvalidEvents(t *testing.T) {
	d := NewEventDispatcher(applogger.Nop(), nil)

	assert.Error(t, d.PublishEvent(context.Background(), models.PipelineEvent{Timestamp: time.Now()}))
	assert.Error(t, d.PublishEvent(context.Background(), models.PipelineEvent{Kind: models.EventRunFinished, Timestamp: time.Now()}))
	assert.Error(t, d.PublishEvent(context.Background(), models.PipelineEvent{Kind: models.EventAlert}))
}

func TestEventDispatcher_BuffersAndRedelivers(t *testing.T) {
	flaky := &recordingSink{name: "flaky", failures: 2}
	healthy := &recordingSink{name: "healthy"}
	d := NewEventDispatcher(applogger.Nop(), []Sink{flaky, healthy}, WithRetry(5, time.Millisecond, 5*time.Millisecond))

	require.NoError(t, d.PublishEvent(context.Background(), runEvent(models.EventRunFinished)))
	assert.Equal(t, 0, flaky.count())
	assert.Equal(t, 1, healthy.count())
	assert.Equal(t, 1, d.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	assert.Eventually(t, func() bool { return flaky.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, healthy.count())
}

func TestEventDispatcher_BufferFullDrops(t *testing.T) {
	down := &recordingSink{name: "down", failures: 100}
	d := NewEventDispatcher(applogger.Nop(), []Sink{down}, WithBufferSize(1))

	require.NoError(t, d.PublishEvent(context.Background(), runEvent(models.EventRunStarted)))
	require.NoError(t, d.PublishEvent(context.Background(), runEvent(models.EventRunFinished)))
	assert.Equal(t, 1, d.Pending())
}

func TestEventDispatcher_ThrottlesProgressOnly(t *testing.T) {
	sink := &recordingSink{name: "s"}
	d := NewEventDispatcher(applogger.Nop(), []Sink{sink}, WithProgressThrottle(0.001, 1))

	for i := 0; i < 3; i++ {
		require.NoError(t, d.PublishEvent(context.Background(), runEvent(models.EventTaskDone)))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, d.PublishEvent(context.Background(), models.PipelineEvent{Kind: models.EventAlert, Timestamp: time.Now()}))
	}
	assert.Equal(t, 4, sink.count())
}

type capturePublisher struct {
	topic, key string
	value      interface{}
}

func (c *capturePublisher) Publish(_ context.Context, topic, key string, value interface{}) error {
	c.topic, c.key, c.value = topic, key, value
	return nil
}

func TestKafkaSink_Routing(t *testing.T) {
	pub := &capturePublisher{}
	sink := NewKafkaSink(pub, "alerts", "runs")

	require.NoError(t, sink.PublishEvent(context.Background(), models.PipelineEvent{
		Kind: models.EventAlert, Timestamp: time.Now(), Payload: models.Alert{ProductID: "p9"},
	}))
	assert.Equal(t, "alerts", pub.topic)
	assert.Equal(t, "p9", pub.key)

	require.NoError(t, sink.PublishEvent(context.Background(), runEvent(models.EventRunFinished)))
	assert.Equal(t, "runs", pub.topic)
	assert.Equal(t, "run-1", pub.key)
}
