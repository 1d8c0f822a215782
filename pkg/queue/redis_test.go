package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceIntel/pkg/logger"
)

type stubJob struct {
	err   error
	calls int
}

func (j *stubJob) Name() string { return "stub" }
func (j *stubJob) Type() string { return "pipeline.run" }
func (j *stubJob) Handle(context.Context, json.RawMessage) error {
	j.calls++
	return j.err
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T, retryLimit int) (*RedisQueue, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	q := NewRedisQueue(logger.Nop(), Config{Workers: 1, RetryLimit: retryLimit, RetryDelay: time.Minute}, db, WithKeyPrefix("test:queue"))
	q.now = func() time.Time { return fixedNow }
	q.newID = func() string { return "msg-1" }
	return q, mock
}

func encode(t *testing.T, msg Message) string {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return string(data)
}

func TestEnqueuePushesEnvelope(t *testing.T) {
	q, mock := newTestQueue(t, 3)

	want := encode(t, Message{ID: "msg-1", Type: "pipeline.run", Payload: json.RawMessage(`{"triggered_by":"cli"}`), Timestamp: fixedNow})
	mock.ExpectLPush("test:queue:messages", want).SetVal(1)

	id, err := q.Enqueue(context.Background(), "pipeline.run", map[string]string{"triggered_by": "cli"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSchedulesRetry(t *testing.T) {
	q, mock := newTestQueue(t, 3)
	job := &stubJob{err: errors.New("run in progress")}
	require.NoError(t, q.RegisterJob(job))

	msg := Message{ID: "msg-1", Type: "pipeline.run", Payload: json.RawMessage(`{}`), Timestamp: fixedNow}
	retried := msg
	retried.Attempts = 1
	mock.ExpectZAdd("test:queue:retry", redis.Z{
		Score:  float64(fixedNow.Add(time.Minute).Unix()),
		Member: encode(t, retried),
	}).SetVal(1)

	q.process(context.Background(), msg)

	assert.Equal(t, 1, job.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDeadLettersPermanentFailure(t *testing.T) {
	q, mock := newTestQueue(t, 3)
	require.NoError(t, q.RegisterJob(&stubJob{err: ErrPermanent}))

	msg := Message{ID: "msg-1", Type: "pipeline.run", Payload: json.RawMessage(`{}`), Timestamp: fixedNow}
	mock.ExpectLPush("test:queue:dlq", encode(t, msg)).SetVal(1)

	q.process(context.Background(), msg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDeadLettersAfterRetryLimit(t *testing.T) {
	q, mock := newTestQueue(t, 2)
	require.NoError(t, q.RegisterJob(&stubJob{err: errors.New("boom")}))

	msg := Message{ID: "msg-1", Type: "pipeline.run", Payload: json.RawMessage(`{}`), Attempts: 2, Timestamp: fixedNow}
	mock.ExpectLPush("test:queue:dlq", encode(t, msg)).SetVal(1)

	q.process(context.Background(), msg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSuccessTouchesNothing(t *testing.T) {
	q, mock := newTestQueue(t, 3)
	job := &stubJob{}
	require.NoError(t, q.RegisterJob(job))

	q.process(context.Background(), Message{ID: "msg-1", Type: "pipeline.run", Payload: json.RawMessage(`{}`)})

	assert.Equal(t, 1, job.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterJobRejectsDuplicates(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	require.NoError(t, q.RegisterJob(&stubJob{}))
	assert.Error(t, q.RegisterJob(&stubJob{}))
}

func TestStartWithoutJobsFails(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	assert.Error(t, q.Start(context.Background()))
}
