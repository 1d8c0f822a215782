package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"PriceIntel/internal/domain/models"
	pkgkafka "PriceIntel/pkg/kafka"
	applogger "PriceIntel/pkg/logger"
	"PriceIntel/pkg/queue"
)

// PipelineRunner is the part of the orchestrator that triggers consume.
type PipelineRunner interface {
	Run(ctx context.Context, req models.RunRequest) (models.PipelineRun, error)
	RunExclusive(ctx context.Context, req models.RunRequest) (models.PipelineRun, error)
}

var runRequestValidator = validator.New()

func decodeRunRequest(b []byte, triggeredBy string) (models.RunRequest, error) {
	var req models.RunRequest
	if len(strings.TrimSpace(string(b))) > 0 {
		if err := json.Unmarshal(b, &req); err != nil {
			return req, fmt.Errorf("decode run request: %w", err)
		}
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = triggeredBy
	}
	if err := defaults.Set(&req); err != nil {
		return req, fmt.Errorf("run request defaults: %w", err)
	}
	if err := runRequestValidator.Struct(&req); err != nil {
		return req, fmt.Errorf("invalid run request: %w", err)
	}
	return req, nil
}

// RunJob executes runs deferred by the queue overlap policy. A busy lock is
// returned as an error so the queue retries later.
type RunJob struct {
	runner PipelineRunner
	l      *applogger.Logger
}

func NewRunJob(runner PipelineRunner, l *applogger.Logger) *RunJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &RunJob{runner: runner, l: l.With(applogger.String("component", "run_job"))}
}

func (j *RunJob) Name() string { return "pipeline_run" }
func (j *RunJob) Type() string { return JobTypePipelineRun }

func (j *RunJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := decodeRunRequest(payload, "queue")
	if err != nil {
		return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
	}
	run, err := j.runner.RunExclusive(ctx, req)
	if err != nil {
		if errors.Is(err, models.ErrRunInProgress) {
			j.l.Info("deferred run still blocked, will retry", applogger.String("triggered_by", req.TriggeredBy))
		}
		return err
	}
	j.l.Info("deferred run finished",
		applogger.String("run_id", run.RunID),
		applogger.String("status", run.Status),
	)
	return nil
}

var _ queue.Job = (*RunJob)(nil)

// TriggerHandler starts a run for every message on the trigger topic.
type TriggerHandler struct {
	topic  string
	runner PipelineRunner
	l      *applogger.Logger
}

func NewTriggerHandler(topic string, runner PipelineRunner, l *applogger.Logger) *TriggerHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &TriggerHandler{topic: topic, runner: runner, l: l.With(applogger.String("component", "trigger_handler"))}
}

func (h *TriggerHandler) Topic() string { return h.topic }

// Handle never asks for a redelivery when a run is already going; the
// overlap policy has already decided what happens to this trigger.
func (h *TriggerHandler) Handle(ctx context.Context, b []byte) error {
	req, err := decodeRunRequest(b, "kafka")
	if err != nil {
		h.l.Warn("dropping malformed trigger", applogger.Error(err))
		return nil
	}
	run, err := h.runner.Run(ctx, req)
	switch {
	case errors.Is(err, models.ErrRunInProgress):
		h.l.Info("trigger ignored, run in progress", applogger.String("triggered_by", req.TriggeredBy))
		return nil
	case err != nil:
		return err
	}
	h.l.Info("triggered run",
		applogger.String("run_id", run.RunID),
		applogger.String("status", run.Status),
	)
	return nil
}

var _ pkgkafka.MessageHandler = (*TriggerHandler)(nil)
