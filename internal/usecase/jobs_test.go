package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceIntel/internal/domain/models"
	"PriceIntel/internal/repository"
	"PriceIntel/pkg/queue"
)

type stubRunner struct {
	err       error
	runs      []models.RunRequest
	exclusive []models.RunRequest
}

func (s *stubRunner) Run(_ context.Context, req models.RunRequest) (models.PipelineRun, error) {
	s.runs = append(s.runs, req)
	return models.PipelineRun{RunID: "r1", Status: models.RunSuccess}, s.err
}

func (s *stubRunner) RunExclusive(_ context.Context, req models.RunRequest) (models.PipelineRun, error) {
	s.exclusive = append(s.exclusive, req)
	return models.PipelineRun{RunID: "r1", Status: models.RunSuccess}, s.err
}

func TestRunJob_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("runs exclusively with payload", func(t *testing.T) {
		r := &stubRunner{}
		job := NewRunJob(r, nil)
		assert.Equal(t, JobTypePipelineRun, job.Type())

		err := job.Handle(ctx, json.RawMessage(`{"triggered_by":"api","calculation_date":"2026-03-20T00:00:00Z"}`))
		require.NoError(t, err)
		require.Len(t, r.exclusive, 1)
		assert.Empty(t, r.runs)
		assert.Equal(t, "api", r.exclusive[0].TriggeredBy)
		assert.True(t, r.exclusive[0].CalculationDate.Equal(calcDate))
	})

	t.Run("empty payload defaults to queue trigger", func(t *testing.T) {
		r := &stubRunner{}
		require.NoError(t, NewRunJob(r, nil).Handle(ctx, nil))
		require.Len(t, r.exclusive, 1)
		assert.Equal(t, "queue", r.exclusive[0].TriggeredBy)
	})

	t.Run("malformed payload is permanent", func(t *testing.T) {
		r := &stubRunner{}
		err := NewRunJob(r, nil).Handle(ctx, json.RawMessage(`{not json`))
		assert.ErrorIs(t, err, queue.ErrPermanent)
		assert.Empty(t, r.exclusive)
	})

	t.Run("busy lock is retried", func(t *testing.T) {
		r := &stubRunner{err: models.ErrRunInProgress}
		err := NewRunJob(r, nil).Handle(ctx, json.RawMessage(`{}`))
		assert.ErrorIs(t, err, models.ErrRunInProgress)
		assert.NotErrorIs(t, err, queue.ErrPermanent)
	})
}

func TestTriggerHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("starts a run", func(t *testing.T) {
		r := &stubRunner{}
		h := NewTriggerHandler("priceintel.triggers", r, nil)
		assert.Equal(t, "priceintel.triggers", h.Topic())

		require.NoError(t, h.Handle(ctx, []byte(`{}`)))
		require.Len(t, r.runs, 1)
		assert.Equal(t, "kafka", r.runs[0].TriggeredBy)
	})

	t.Run("run in progress is swallowed", func(t *testing.T) {
		r := &stubRunner{err: models.ErrRunInProgress}
		assert.NoError(t, NewTriggerHandler("t", r, nil).Handle(ctx, []byte(`{"triggered_by":"cron"}`)))
		assert.Equal(t, "cron", r.runs[0].TriggeredBy)
	})

	t.Run("other failures are redelivered", func(t *testing.T) {
		r := &stubRunner{err: errors.New("store down")}
		assert.EqualError(t, NewTriggerHandler("t", r, nil).Handle(ctx, []byte(`{}`)), "store down")
	})

	t.Run("malformed message is dropped", func(t *testing.T) {
		r := &stubRunner{}
		assert.NoError(t, NewTriggerHandler("t", r, nil).Handle(ctx, []byte(`garbage`)))
		assert.Empty(t, r.runs)
	})

	t.Run("against the real orchestrator", func(t *testing.T) {
		store := repository.NewMemoryStore()
		o := newTestOrchestrator(newFakeProvider(), store, nil)
		require.NoError(t, NewTriggerHandler("t", o, nil).Handle(ctx, []byte(`{"calculation_date":"2026-03-20T00:00:00Z"}`)))

		runs, err := store.ListRuns(ctx, 5)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "kafka", runs[0].TriggeredBy)
		assert.Equal(t, models.RunSuccess, runs[0].Status)
	})
}
