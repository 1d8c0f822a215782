package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceIntel/internal/domain/models"
	"PriceIntel/internal/repository"
	applogger "PriceIntel/pkg/logger"
)

func newTestOrchestrator(p *fakeProvider, store *repository.MemoryStore, tweak func(*OrchestratorDeps)) *PipelineOrchestrator {
	deps := newTestDeps(p, store)
	if tweak != nil {
		tweak(&deps)
	}
	return NewPipelineOrchestrator(deps, testPipelineConfig(), applogger.Nop())
}

func taskOf(t *testing.T, run models.PipelineRun, name string) models.TaskResult {
	t.Helper()
	res, ok := run.Task(name)
	require.True(t, ok, "task %s missing", name)
	return res
}

func TestPipeline_FullRun(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{}
	metrics := &countingMetrics{}
	o := newTestOrchestrator(newFakeProvider(), store, func(d *OrchestratorDeps) {
		d.Events = pub
		d.Metrics = metrics
	})

	run, err := o.Run(ctx, models.RunRequest{TriggeredBy: "test", CalculationDate: calcDate})
	require.NoError(t, err)

	assert.Equal(t, models.RunSuccess, run.Status)
	assert.Equal(t, calcDate, run.CalculationDate)
	assert.NotEmpty(t, run.RunID)
	require.Len(t, run.Tasks, 9)
	for i, name := range o.TaskNames() {
		assert.Equal(t, name, run.Tasks[i].Name)
		assert.Equal(t, models.TaskCompleted, run.Tasks[i].Status)
		assert.Zero(t, run.Tasks[i].Failed, name)
	}

	snap := taskOf(t, run, TaskSnapshotPrices)
	assert.Equal(t, 3, snap.Total, "inactive products are not snapshotted")
	assert.Equal(t, 3, snap.Succeeded)

	comp := taskOf(t, run, TaskCompetitiveAnalysis)
	assert.Equal(t, 2, comp.Succeeded)
	assert.Equal(t, 1, comp.Skipped, "no competitor prices for Gizmo")

	recs := taskOf(t, run, TaskRecommendations)
	assert.Equal(t, 1, recs.Succeeded)
	assert.Equal(t, 2, recs.Skipped)

	counts := store.Counts()
	assert.Equal(t, 3, counts["price_snapshots"])
	assert.Equal(t, 3, counts["inventory_status"])
	assert.Equal(t, 3, counts["price_statistics"])
	assert.Equal(t, 6, counts["forecasts"])
	assert.Equal(t, 1, counts["rule_sets"])
	assert.Equal(t, 2, counts["alerts"])
	assert.Equal(t, 1, counts["pipeline_runs"])

	pos, err := store.GetCompetitivePosition(ctx, "p1", calcDate)
	require.NoError(t, err)
	assert.Equal(t, 10.5, pos.AvgPrice)
	assert.Equal(t, 2.0, pos.GapToLowest)
	assert.Equal(t, 40.0, pos.Score)
	assert.False(t, pos.PriceAdvantage)

	active, err := store.ActiveRecommendations(ctx, calcDate, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p1", active[0].ProductID)
	assert.Equal(t, models.RecommendationUndercut, active[0].Type)
	assert.Equal(t, 10.29, active[0].RecommendedPrice)
	assert.Equal(t, calcDate.AddDate(0, 0, 7), active[0].ExpiresAt)

	f, err := store.LatestForecast(ctx, "p1", models.ForecastPrice)
	require.NoError(t, err)
	assert.Equal(t, calcDate, f.Date)
	require.Len(t, f.Points, 14)
	assert.Equal(t, calcDate.AddDate(0, 0, 1), f.Points[0].Date)

	assert.Equal(t, 1, pub.Count(models.EventRunStarted))
	assert.Equal(t, 9, pub.Count(models.EventTaskDone))
	assert.Equal(t, 1, pub.Count(models.EventRunFinished))
	assert.Equal(t, 2, pub.Count(models.EventAlert))
	assert.Equal(t, []string{models.RunSuccess}, metrics.runs)
}

func TestPipeline_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	pub := &recordingPublisher{}
	o := newTestOrchestrator(newFakeProvider(), store, func(d *OrchestratorDeps) { d.Events = pub })
	req := models.RunRequest{TriggeredBy: "test", CalculationDate: calcDate}

	_, err := o.Run(ctx, req)
	require.NoError(t, err)
	first := store.Counts()
	stats1, err := store.GetStatistics(ctx, "p1", calcDate)
	require.NoError(t, err)
	assert.Equal(t, stats1.DataPoints, stats1.MeanInterval.N)
	assert.LessOrEqual(t, stats1.MeanInterval.Lower, stats1.Volatility.Mean)
	assert.GreaterOrEqual(t, stats1.MeanInterval.Upper, stats1.Volatility.Mean)
	assert.GreaterOrEqual(t, stats1.ReturnVolatility, 0.0)
	forecast1, err := store.LatestForecast(ctx, "p2", models.ForecastDemand)
	require.NoError(t, err)

	pub.Reset()
	_, err = o.Run(ctx, req)
	require.NoError(t, err)
	second := store.Counts()

	assert.Equal(t, first["pipeline_runs"]+1, second["pipeline_runs"])
	delete(first, "pipeline_runs")
	delete(second, "pipeline_runs")
	assert.Equal(t, first, second)

	stats2, err := store.GetStatistics(ctx, "p1", calcDate)
	require.NoError(t, err)
	assert.Equal(t, stats1, stats2)
	forecast2, err := store.LatestForecast(ctx, "p2", models.ForecastDemand)
	require.NoError(t, err)
	assert.Equal(t, forecast1, forecast2)

	assert.Zero(t, pub.Count(models.EventAlert), "known alerts are not re-published")
}

func TestPipeline_EntityFailureIsTallied(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	p.failPrices["p2"] = true
	store := repository.NewMemoryStore()
	o := newTestOrchestrator(p, store, nil)

	run, err := o.Run(ctx, models.RunRequest{CalculationDate: calcDate})
	require.NoError(t, err)
	assert.Equal(t, models.RunPartial, run.Status)
	assert.Equal(t, "api", run.TriggeredBy)

	stats := taskOf(t, run, TaskComputeStatistics)
	assert.Equal(t, models.TaskCompleted, stats.Status)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)

	assert.Equal(t, 1, taskOf(t, run, TaskGenerateForecasts).Failed)

	// later tasks still ran
	recs := taskOf(t, run, TaskRecommendations)
	assert.Equal(t, models.TaskCompleted, recs.Status)
	assert.Equal(t, 3, recs.Total)

	_, err = store.GetStatistics(ctx, "p2", calcDate)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = store.GetStatistics(ctx, "p1", calcDate)
	assert.NoError(t, err)
}

func TestPipeline_EntityPanicIsRecovered(t *testing.T) {
	p := newFakeProvider()
	p.panicCompetitors["Gadget"] = true
	o := newTestOrchestrator(p, repository.NewMemoryStore(), nil)

	run, err := o.Run(context.Background(), models.RunRequest{CalculationDate: calcDate})
	require.NoError(t, err)

	comp := taskOf(t, run, TaskCompetitiveAnalysis)
	assert.Equal(t, 1, comp.Failed)
	assert.Equal(t, 1, comp.Succeeded)
	assert.Equal(t, models.RunPartial, run.Status)
}

func TestPipeline_TaskThatCannotStartFails(t *testing.T) {
	p := newFakeProvider()
	p.inventoryErr = errors.New("inventory table locked")
	o := newTestOrchestrator(p, repository.NewMemoryStore(), nil)

	run, err := o.Run(context.Background(), models.RunRequest{CalculationDate: calcDate})
	require.NoError(t, err)

	inv := taskOf(t, run, TaskInventoryStatus)
	assert.Equal(t, models.TaskFailed, inv.Status)
	assert.Contains(t, inv.Error, "inventory table locked")
	assert.Equal(t, models.TaskCompleted, taskOf(t, run, TaskRecordVelocity).Status)
	assert.Equal(t, models.RunPartial, run.Status)
}

func TestPipeline_CatalogLoadedOncePerRun(t *testing.T) {
	p := newFakeProvider()
	o := newTestOrchestrator(p, repository.NewMemoryStore(), nil)

	_, err := o.Run(context.Background(), models.RunRequest{CalculationDate: calcDate})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Calls("list_products"))
}

func TestPipeline_CancelledBeforeStart(t *testing.T) {
	store := repository.NewMemoryStore()
	o := newTestOrchestrator(newFakeProvider(), store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := o.Run(ctx, models.RunRequest{CalculationDate: calcDate})
	require.NoError(t, err)
	assert.Equal(t, models.RunCancelled, run.Status)
	for _, task := range run.Tasks {
		assert.Equal(t, models.TaskSkipped, task.Status)
	}
	assert.Equal(t, 1, store.Counts()["pipeline_runs"])
	assert.Zero(t, store.Counts()["price_snapshots"])
}

func TestPipeline_OverlapPolicies(t *testing.T) {
	ctx := context.Background()
	req := models.RunRequest{TriggeredBy: "cron", CalculationDate: calcDate}

	t.Run("skip rejects", func(t *testing.T) {
		locker := &stubLocker{held: true}
		o := newTestOrchestrator(newFakeProvider(), repository.NewMemoryStore(), func(d *OrchestratorDeps) { d.Locker = locker })
		_, err := o.Run(ctx, req)
		assert.ErrorIs(t, err, models.ErrRunInProgress)
	})

	t.Run("queue defers", func(t *testing.T) {
		locker := &stubLocker{held: true}
		queue := &stubQueue{}
		deps := newTestDeps(newFakeProvider(), repository.NewMemoryStore())
		deps.Locker = locker
		deps.Queue = queue
		cfg := testPipelineConfig()
		cfg.OverlapPolicy = OverlapQueue
		o := NewPipelineOrchestrator(deps, cfg, applogger.Nop())

		run, err := o.Run(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.RunQueued, run.Status)
		assert.Equal(t, "job-1", run.RunID)
		assert.Equal(t, JobTypePipelineRun, queue.msgType)
		assert.Equal(t, req, queue.payload)

		_, err = o.RunExclusive(ctx, req)
		assert.ErrorIs(t, err, models.ErrRunInProgress)
	})

	t.Run("lock released after run", func(t *testing.T) {
		locker := &stubLocker{}
		o := newTestOrchestrator(newFakeProvider(), repository.NewMemoryStore(), func(d *OrchestratorDeps) { d.Locker = locker })
		run, err := o.Run(ctx, req)
		require.NoError(t, err)
		assert.False(t, locker.held)
		assert.Equal(t, 1, locker.unlocked)
		assert.Equal(t, run.RunID, locker.token, "run id is the lock token")
		assert.Equal(t, len(o.TaskNames())-1, locker.refreshes, "lease renewed before every task after the first")
	})

	t.Run("lost lease skips remaining tasks", func(t *testing.T) {
		locker := &stubLocker{lostAfter: 2}
		store := repository.NewMemoryStore()
		o := newTestOrchestrator(newFakeProvider(), store, func(d *OrchestratorDeps) { d.Locker = locker })
		run, err := o.Run(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.RunCancelled, run.Status)
		require.Len(t, run.Tasks, len(o.TaskNames()))
		for i, task := range run.Tasks {
			if i < 3 {
				assert.NotEqual(t, models.TaskSkipped, task.Status, task.Name)
				continue
			}
			assert.Equal(t, models.TaskSkipped, task.Status, task.Name)
			assert.Equal(t, models.ErrRunLockLost.Error(), task.Error)
		}
		assert.Equal(t, 1, store.Counts()["pipeline_runs"])
	})

	t.Run("local lock without locker", func(t *testing.T) {
		o := newTestOrchestrator(newFakeProvider(), repository.NewMemoryStore(), nil)
		o.localLock.Lock()
		_, err := o.Run(ctx, req)
		o.localLock.Unlock()
		assert.ErrorIs(t, err, models.ErrRunInProgress)
	})

	t.Run("lock backend error", func(t *testing.T) {
		locker := &stubLocker{err: errors.New("redis down")}
		o := newTestOrchestrator(newFakeProvider(), repository.NewMemoryStore(), func(d *OrchestratorDeps) { d.Locker = locker })
		_, err := o.Run(ctx, req)
		require.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrRunInProgress)
	})
}

func TestRunStatus(t *testing.T) {
	ok := models.TaskResult{Status: models.TaskCompleted}
	withFailures := models.TaskResult{Status: models.TaskCompleted, Failed: 2}
	failed := models.TaskResult{Status: models.TaskFailed}

	tests := []struct {
		name      string
		tasks     []models.TaskResult
		cancelled bool
		want      string
	}{
		{"all completed", []models.TaskResult{ok, ok}, false, models.RunSuccess},
		{"entity failures", []models.TaskResult{ok, withFailures}, false, models.RunPartial},
		{"one task failed", []models.TaskResult{failed, ok}, false, models.RunPartial},
		{"every task failed", []models.TaskResult{failed, failed}, false, models.RunFailed},
		{"cancelled", []models.TaskResult{ok}, true, models.RunCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runStatus(tt.tasks, tt.cancelled))
		})
	}
}

func TestStockStatus(t *testing.T) {
	assert.Equal(t, models.StockOut, StockStatus(0, 10, 5))
	assert.Equal(t, models.StockOut, StockStatus(-2, 10, 5))
	assert.Equal(t, models.StockLow, StockStatus(4, 0, 5))
	assert.Equal(t, models.StockLow, StockStatus(8, 10, 5))
	assert.Equal(t, models.StockOK, StockStatus(50, 10, 5))
}

func TestRecommendPrice(t *testing.T) {
	pos := models.CompetitivePosition{AvgPrice: 10}
	down := models.PriceStatistics{Trend: models.TrendEstimate{Direction: models.TrendDown, Strength: 45}}
	weak := models.PriceStatistics{Trend: models.TrendEstimate{Direction: models.TrendDown, Strength: 10}}

	rec, ok := RecommendPrice(12, pos, true, down, true)
	require.True(t, ok)
	assert.Equal(t, models.RecommendationUndercut, rec.Type)
	assert.Equal(t, 9.8, rec.RecommendedPrice)
	assert.Equal(t, models.RecommendationPending, rec.Status)
	assert.Equal(t, 75.0, rec.Confidence)

	rec, ok = RecommendPrice(10.5, pos, true, down, true)
	require.True(t, ok)
	assert.Equal(t, models.RecommendationTrendAdjust, rec.Type)
	assert.Equal(t, 9.98, rec.RecommendedPrice)
	assert.Less(t, rec.ChangePct, 0.0)

	_, ok = RecommendPrice(10.5, pos, true, weak, true)
	assert.False(t, ok)

	_, ok = RecommendPrice(12, models.CompetitivePosition{}, false, models.PriceStatistics{}, false)
	assert.False(t, ok)
}

func TestCompetitiveScore(t *testing.T) {
	assert.Equal(t, 70.0, CompetitiveScore(33.3))
	assert.Equal(t, 70.0, CompetitiveScore(50))
	assert.Equal(t, 40.0, CompetitiveScore(66.7))
}
