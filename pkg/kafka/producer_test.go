package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestProducer_PublishEncodesJSON(t *testing.T) {
	w := &recordingWriter{}
	p := newProducerWithWriter(w)

	payload := map[string]interface{}{"type": "low_stock", "product_id": "p-1"}
	require.NoError(t, p.Publish(context.Background(), "alerts", "p-1", payload))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "alerts", w.msgs[0].Topic)
	assert.Equal(t, []byte("p-1"), w.msgs[0].Key)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "low_stock", decoded["type"])
}

func TestProducer_PublishBatch(t *testing.T) {
	w := &recordingWriter{}
	p := newProducerWithWriter(w)

	err := p.PublishBatch(context.Background(), "runs", []Message{
		{Key: "a", Value: "raw"},
		{Key: "b", Value: []byte("bytes")},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "raw", string(w.msgs[0].Value))
	assert.Equal(t, "bytes", string(w.msgs[1].Value))

	assert.NoError(t, p.PublishBatch(context.Background(), "runs", nil))
	assert.Len(t, w.msgs, 2)
}

func TestProducer_PublishWrapsWriterError(t *testing.T) {
	p := newProducerWithWriter(&recordingWriter{err: errors.New("broker down")})
	err := p.Publish(context.Background(), "alerts", "k", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka publish alerts")
}

func TestBackoff(t *testing.T) {
	for attempt := 1; attempt <= 40; attempt++ {
		d := Backoff(100*time.Millisecond, 2*time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 2*time.Second)
	}
	assert.LessOrEqual(t, Backoff(100*time.Millisecond, 2*time.Second, 1), 100*time.Millisecond)
}
