package logger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
	topics  []string
}

func (p *capturePublisher) Publish(_ context.Context, topic, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) snapshot() [][]AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]AggregatedLogEntry(nil), p.batches...)
}

func TestCollectorDeduplicatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		c.AddLog("error", "provider timeout", map[string]interface{}{"attempt": i}, "repo.go:10")
	}
	c.AddLog("error", "store unavailable", nil, "store.go:5")
	assert.Equal(t, 2, c.Pending())

	c.Close()
	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 10*time.Millisecond)

	batch := pub.snapshot()[0]
	require.Len(t, batch, 2)
	byMsg := map[string]AggregatedLogEntry{}
	for _, e := range batch {
		byMsg[e.Message] = e
	}
	assert.Equal(t, 3, byMsg["provider timeout"].Count)
	assert.Equal(t, 2, byMsg["provider timeout"].Fields["attempt"])
	assert.Equal(t, 1, byMsg["store unavailable"].Count)
	assert.Equal(t, []string{"logs"}, pub.topics)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.Pending())
}

func TestLoggerFeedsCollectorOnErrorOnly(t *testing.T) {
	l, err := New(&Config{Level: "debug", Output: "stderr"})
	require.NoError(t, err)
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100})
	defer l.RemoveCollector()

	child := l.With(String("component", "pipeline"))
	child.Info("started")
	for _, id := range []string{"p1", "p2"} {
		child.Error("entity failed", String("product_id", id))
	}

	assert.Equal(t, 1, l.collector.Pending())
}
