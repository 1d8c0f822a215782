package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"PriceIntel/internal/domain/models"
	domrepo "PriceIntel/internal/domain/repository"
	domsvc "PriceIntel/internal/domain/service"
	"PriceIntel/internal/services/statistics"
	applogger "PriceIntel/pkg/logger"
	"PriceIntel/pkg/util"
)

const (
	OverlapSkip  = "skip"
	OverlapQueue = "queue"

	// JobTypePipelineRun is the queue message type of deferred runs.
	JobTypePipelineRun = "pipeline.run"

	runLockKey = "priceintel:pipeline:lock"
)

// Task names, in execution order.
const (
	TaskSnapshotPrices      = "snapshot_prices"
	TaskInventoryStatus     = "update_inventory_status"
	TaskRecordVelocity      = "record_velocity"
	TaskComputeStatistics   = "compute_statistics"
	TaskDetectAnomalies     = "detect_anomalies"
	TaskGenerateForecasts   = "generate_forecasts"
	TaskAnalyzeAffinity     = "analyze_affinity"
	TaskCompetitiveAnalysis = "update_competitive_analysis"
	TaskRecommendations     = "generate_recommendations"
)

// errSkipped marks an entity that had nothing to compute.
var errSkipped = errors.New("entity skipped")

type PipelineConfig struct {
	Workers              int
	EntityTimeout        time.Duration
	LockTTL              time.Duration
	OverlapPolicy        string
	ForecastTopN         int
	ForecastHorizon      int
	ForecastLookback     int
	StatisticsWindow     int
	AffinityDaysBack     int
	BundleProducts       int
	BundleSize           int
	RecommendationCap    int
	MaxEntities          int
	SeasonalPeriod       int
	SignificantChangePct float64
	LowStockThreshold    int
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:              8,
		EntityTimeout:        30 * time.Second,
		LockTTL:              2 * time.Hour,
		OverlapPolicy:        OverlapSkip,
		ForecastTopN:         20,
		ForecastHorizon:      14,
		ForecastLookback:     90,
		StatisticsWindow:     30,
		AffinityDaysBack:     90,
		BundleProducts:       5,
		BundleSize:           3,
		RecommendationCap:    50,
		MaxEntities:          5000,
		SeasonalPeriod:       7,
		SignificantChangePct: 10,
		LowStockThreshold:    5,
	}
}

// pipelineTask iterates its own entity set. prepare failing means the task
// could not start; process errors are tallied per entity.
type pipelineTask struct {
	name    string
	prepare func(ctx context.Context, rc *runContext) ([]string, error)
	process func(ctx context.Context, rc *runContext, id string) error
}

// PipelineOrchestrator runs the daily analytics batch.
type PipelineOrchestrator struct {
	provider   domrepo.DataProvider
	store      domrepo.ArtifactStore
	analyzer   *statistics.Analyzer
	forecaster domsvc.Forecaster
	affinity   domsvc.AffinityMiner
	events     domrepo.EventPublisher
	locker     domrepo.RunLocker
	queue      domrepo.RunQueue
	metrics    domrepo.PipelineMetrics
	cfg        PipelineConfig
	now        domrepo.Clock
	l          *applogger.Logger

	localLock sync.Mutex
	tasks     []pipelineTask
	finished  []func(context.Context, models.PipelineRun)
}

type OrchestratorDeps struct {
	Provider   domrepo.DataProvider
	Store      domrepo.ArtifactStore
	Analyzer   *statistics.Analyzer
	Forecaster domsvc.Forecaster
	Affinity   domsvc.AffinityMiner
	Events     domrepo.EventPublisher
	Locker     domrepo.RunLocker
	Queue      domrepo.RunQueue
	Metrics    domrepo.PipelineMetrics
	Clock      domrepo.Clock
}

func NewPipelineOrchestrator(deps OrchestratorDeps, cfg PipelineConfig, l *applogger.Logger) *PipelineOrchestrator {
	def := DefaultPipelineConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.EntityTimeout <= 0 {
		cfg.EntityTimeout = def.EntityTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.OverlapPolicy == "" {
		cfg.OverlapPolicy = def.OverlapPolicy
	}
	if cfg.StatisticsWindow <= 0 {
		cfg.StatisticsWindow = def.StatisticsWindow
	}
	if cfg.SeasonalPeriod <= 0 {
		cfg.SeasonalPeriod = def.SeasonalPeriod
	}
	if cfg.BundleSize < 2 {
		cfg.BundleSize = def.BundleSize
	}
	if l == nil {
		l = applogger.Nop()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	analyzer := deps.Analyzer
	if analyzer == nil {
		analyzer = statistics.New(statistics.DefaultConfig())
	}

	o := &PipelineOrchestrator{
		provider:   deps.Provider,
		store:      deps.Store,
		analyzer:   analyzer,
		forecaster: deps.Forecaster,
		affinity:   deps.Affinity,
		events:     deps.Events,
		locker:     deps.Locker,
		queue:      deps.Queue,
		metrics:    deps.Metrics,
		cfg:        cfg,
		now:        now,
		l:          l.With(applogger.String("component", "pipeline")),
	}
	o.tasks = []pipelineTask{
		{name: TaskSnapshotPrices, prepare: o.activeProducts, process: o.snapshotPrice},
		{name: TaskInventoryStatus, prepare: o.prepareInventory, process: o.updateInventory},
		{name: TaskRecordVelocity, prepare: o.prepareVelocity, process: o.recordVelocity},
		{name: TaskComputeStatistics, prepare: o.activeProducts, process: o.computeStatistics},
		{name: TaskDetectAnomalies, prepare: o.activeProducts, process: o.detectAnomalies},
		{name: TaskGenerateForecasts, prepare: o.prepareForecasts, process: o.generateForecasts},
		{name: TaskAnalyzeAffinity, prepare: o.prepareAffinity, process: o.bundleFor},
		{name: TaskCompetitiveAnalysis, prepare: o.activeProducts, process: o.competitivePosition},
		{name: TaskRecommendations, prepare: o.prepareRecommendations, process: o.recommend},
	}
	return o
}

// OnRunFinished registers fn to be called after every persisted run.
func (o *PipelineOrchestrator) OnRunFinished(fn func(context.Context, models.PipelineRun)) {
	o.finished = append(o.finished, fn)
}

// TaskNames lists the task sequence.
func (o *PipelineOrchestrator) TaskNames() []string {
	out := make([]string, len(o.tasks))
	for i, t := range o.tasks {
		out[i] = t.name
	}
	return out
}

// Run executes one pipeline run under the run lock. When another run holds
// the lock, the overlap policy either rejects with ErrRunInProgress or defers
// the request to the run queue and returns a queued run.
func (o *PipelineOrchestrator) Run(ctx context.Context, req models.RunRequest) (models.PipelineRun, error) {
	return o.run(ctx, req, o.cfg.OverlapPolicy == OverlapQueue && o.queue != nil)
}

// RunExclusive never queues. Queue workers use it so a still-locked run is
// retried with backoff by the queue instead of being re-enqueued.
func (o *PipelineOrchestrator) RunExclusive(ctx context.Context, req models.RunRequest) (models.PipelineRun, error) {
	return o.run(ctx, req, false)
}

func (o *PipelineOrchestrator) run(ctx context.Context, req models.RunRequest, allowQueue bool) (models.PipelineRun, error) {
	if req.TriggeredBy == "" {
		req.TriggeredBy = "api"
	}
	runID := uuid.NewString()
	lease, err := o.acquire(ctx, runID)
	if err != nil {
		return models.PipelineRun{}, err
	}
	if lease == nil {
		if !allowQueue {
			return models.PipelineRun{}, models.ErrRunInProgress
		}
		id, err := o.queue.Enqueue(ctx, JobTypePipelineRun, req)
		if err != nil {
			return models.PipelineRun{}, fmt.Errorf("enqueue run: %w", err)
		}
		o.l.Info("pipeline run queued", applogger.String("job_id", id), applogger.String("triggered_by", req.TriggeredBy))
		return models.PipelineRun{RunID: id, TriggeredBy: req.TriggeredBy, Status: models.RunQueued, StartedAt: o.now()}, nil
	}
	defer lease.release()

	return o.execute(ctx, req, runID, lease)
}

// runLease is the held run lock. renew extends it at task boundaries and
// reports false once another holder owns the key.
type runLease struct {
	renew   func(ctx context.Context) (bool, error)
	release func()
}

// acquire returns a nil lease when another run holds the lock. The run ID is
// the lock token so only this run can renew or release it.
func (o *PipelineOrchestrator) acquire(ctx context.Context, runID string) (*runLease, error) {
	if o.locker == nil {
		if !o.localLock.TryLock() {
			return nil, nil
		}
		return &runLease{
			renew:   func(context.Context) (bool, error) { return true, nil },
			release: o.localLock.Unlock,
		}, nil
	}
	ok, err := o.locker.TryLock(ctx, runLockKey, runID, o.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &runLease{
		renew: func(ctx context.Context) (bool, error) {
			return o.locker.Refresh(ctx, runLockKey, runID, o.cfg.LockTTL)
		},
		release: func() {
			if err := o.locker.Unlock(context.WithoutCancel(ctx), runLockKey, runID); err != nil {
				o.l.Warn("release run lock failed", applogger.Error(err))
			}
		},
	}, nil
}

func (o *PipelineOrchestrator) execute(ctx context.Context, req models.RunRequest, runID string, lease *runLease) (models.PipelineRun, error) {
	started := o.now()
	date := util.Day(started)
	if !req.CalculationDate.IsZero() {
		date = util.Day(req.CalculationDate)
	}
	run := models.PipelineRun{
		RunID:           runID,
		TriggeredBy:     req.TriggeredBy,
		CalculationDate: date,
		StartedAt:       started,
		Tasks:           make([]models.TaskResult, 0, len(o.tasks)),
	}
	log := o.l.With(applogger.String("run_id", run.RunID))
	log.Info("pipeline run started",
		applogger.String("triggered_by", run.TriggeredBy),
		applogger.String("calculation_date", util.FormatDay(date)),
	)
	o.publish(ctx, models.EventRunStarted, run.RunID, run)

	rc := newRunContext(run.RunID, date)
	// Entity work ignores cancellation; it is honoured between tasks.
	work := context.WithoutCancel(ctx)
	var stop error
	for i, t := range o.tasks {
		if stop == nil {
			stop = ctx.Err()
		}
		if stop == nil && i > 0 {
			stop = o.renewLease(work, lease, log)
		}
		if stop != nil {
			run.Tasks = append(run.Tasks, models.TaskResult{Name: t.name, Status: models.TaskSkipped, Error: stop.Error(), StartedAt: o.now()})
			continue
		}
		res := o.runTask(work, rc, t, log)
		run.Tasks = append(run.Tasks, res)
		o.publish(work, models.EventTaskDone, run.RunID, res)
	}
	cancelled := stop != nil

	run.CompletedAt = o.now()
	run.DurationSeconds = run.CompletedAt.Sub(started).Seconds()
	run.Status = runStatus(run.Tasks, cancelled)

	if o.metrics != nil {
		o.metrics.RecordRun(run.Status, run.CompletedAt.Sub(started), run.CompletedAt)
	}
	if err := o.store.AppendRun(work, run); err != nil {
		log.Error("persist pipeline run failed", applogger.Error(err))
		return run, fmt.Errorf("persist run %s: %w", run.RunID, err)
	}
	o.publish(work, models.EventRunFinished, run.RunID, run)
	for _, fn := range o.finished {
		fn(work, run)
	}
	log.Info("pipeline run finished",
		applogger.String("status", run.Status),
		applogger.Duration("duration_ms", run.CompletedAt.Sub(started)),
	)
	return run, nil
}

// renewLease extends the run lock before the next task. A backend error is
// logged and the run continues on the remaining lease; a lost lock stops it.
func (o *PipelineOrchestrator) renewLease(ctx context.Context, lease *runLease, log *applogger.Logger) error {
	ok, err := lease.renew(ctx)
	if err != nil {
		log.Warn("renew run lock failed", applogger.Error(err))
		return nil
	}
	if !ok {
		log.Error("run lock lost, skipping remaining tasks")
		return models.ErrRunLockLost
	}
	return nil
}

func runStatus(tasks []models.TaskResult, cancelled bool) string {
	if cancelled {
		return models.RunCancelled
	}
	failedTasks, entityFailures := 0, 0
	for _, t := range tasks {
		if t.Status == models.TaskFailed {
			failedTasks++
		}
		entityFailures += t.Failed
	}
	switch {
	case len(tasks) > 0 && failedTasks == len(tasks):
		return models.RunFailed
	case failedTasks > 0 || entityFailures > 0:
		return models.RunPartial
	default:
		return models.RunSuccess
	}
}

// runTask fans the task's entities out to a bounded worker pool. Entity
// failures, timeouts and panics are tallied and never stop the task.
func (o *PipelineOrchestrator) runTask(ctx context.Context, rc *runContext, t pipelineTask, log *applogger.Logger) models.TaskResult {
	start := o.now()
	res := models.TaskResult{Name: t.name, StartedAt: start}
	tlog := log.With(applogger.String("task", t.name))

	ids, err := t.prepare(ctx, rc)
	if err != nil {
		res.Status = models.TaskFailed
		res.Error = err.Error()
		res.Duration = o.now().Sub(start)
		tlog.Error("task could not start", applogger.Error(err))
		o.recordTask(res)
		return res
	}
	if o.cfg.MaxEntities > 0 && len(ids) > o.cfg.MaxEntities {
		ids = ids[:o.cfg.MaxEntities]
	}
	res.Total = len(ids)

	var succeeded, failed, skipped int64
	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := o.processEntity(ctx, rc, t, id)
			switch {
			case err == nil:
				atomic.AddInt64(&succeeded, 1)
			case errors.Is(err, errSkipped):
				atomic.AddInt64(&skipped, 1)
			default:
				atomic.AddInt64(&failed, 1)
				tlog.Warn("entity failed", applogger.String("entity", id), applogger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Succeeded = int(succeeded)
	res.Failed = int(failed)
	res.Skipped = int(skipped)
	res.Status = models.TaskCompleted
	res.Duration = o.now().Sub(start)
	tlog.Info("task completed",
		applogger.Int("total", res.Total),
		applogger.Int("succeeded", res.Succeeded),
		applogger.Int("failed", res.Failed),
		applogger.Int("skipped", res.Skipped),
		applogger.Duration("duration_ms", res.Duration),
	)
	o.recordTask(res)
	return res
}

func (o *PipelineOrchestrator) processEntity(ctx context.Context, rc *runContext, t pipelineTask, id string) (err error) {
	ectx, cancel := context.WithTimeout(ctx, o.cfg.EntityTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			o.l.Error("entity panic", applogger.String("task", t.name), applogger.String("entity", id), applogger.String("stack", string(debug.Stack())))
		}
	}()
	return t.process(ectx, rc, id)
}

func (o *PipelineOrchestrator) recordTask(res models.TaskResult) {
	if o.metrics != nil {
		o.metrics.RecordTask(res.Name, res.Succeeded, res.Failed, res.Skipped, res.Duration)
	}
}

// raise appends an alert and publishes it when it is new.
func (o *PipelineOrchestrator) raise(ctx context.Context, a models.Alert) error {
	n, err := o.store.AppendAlerts(ctx, []models.Alert{a})
	if err != nil {
		return fmt.Errorf("append alert %s: %w", a.ID, err)
	}
	if n > 0 {
		o.publish(ctx, models.EventAlert, "", a)
	}
	return nil
}

func (o *PipelineOrchestrator) publish(ctx context.Context, kind, runID string, payload interface{}) {
	if o.events == nil {
		return
	}
	ev := models.PipelineEvent{Kind: kind, RunID: runID, Timestamp: o.now(), Payload: payload}
	if err := o.events.PublishEvent(ctx, ev); err != nil {
		o.l.Warn("publish event failed", applogger.String("kind", kind), applogger.Error(err))
	}
}

// runContext is shared by the tasks of one run.
type runContext struct {
	runID string
	date  time.Time

	mu          sync.RWMutex
	catalog     map[string]models.Product
	catalogIDs  []string
	inventory   map[string]models.InventoryLevel
	velocity    map[string]*models.VelocitySnapshot
	priceSeries map[string][]models.PriceObservation
}

func newRunContext(runID string, date time.Time) *runContext {
	return &runContext{
		runID:       runID,
		date:        date,
		inventory:   map[string]models.InventoryLevel{},
		velocity:    map[string]*models.VelocitySnapshot{},
		priceSeries: map[string][]models.PriceObservation{},
	}
}

func (rc *runContext) product(id string) (models.Product, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	p, ok := rc.catalog[id]
	return p, ok
}

func (rc *runContext) cachedSeries(id string) ([]models.PriceObservation, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	s, ok := rc.priceSeries[id]
	return s, ok
}

func (rc *runContext) storeSeries(id string, obs []models.PriceObservation) {
	rc.mu.Lock()
	rc.priceSeries[id] = obs
	rc.mu.Unlock()
}
