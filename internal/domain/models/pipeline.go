package models

import "time"

const (
	RunSuccess   = "success"
	RunPartial   = "partial"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
	RunQueued    = "queued"
)

const (
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskSkipped   = "skipped"
)

type TaskResult struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// PipelineRun is the append-only audit record of one orchestrator invocation.
type PipelineRun struct {
	RunID           string       `json:"run_id"`
	TriggeredBy     string       `json:"triggered_by"`
	CalculationDate time.Time    `json:"calculation_date"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     time.Time    `json:"completed_at"`
	Status          string       `json:"status"`
	DurationSeconds float64      `json:"duration_seconds"`
	Tasks           []TaskResult `json:"tasks"`
}

func (r *PipelineRun) Task(name string) (TaskResult, bool) {
	for _, t := range r.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskResult{}, false
}

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type HealthStatus struct {
	Status     string                     `json:"status"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Components map[string]ComponentHealth `json:"components"`
	LastRun    *PipelineRun               `json:"last_run,omitempty"`
}

// RunRequest is the payload of trigger messages and queue jobs.
type RunRequest struct {
	TriggeredBy     string    `json:"triggered_by" default:"api" validate:"max=64"`
	CalculationDate time.Time `json:"calculation_date,omitempty"`
}

// PipelineEvent is what the dispatcher fans out to Kafka and websocket clients.
type PipelineEvent struct {
	Kind      string      `json:"kind"`
	RunID     string      `json:"run_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

const (
	EventRunStarted  = "run.started"
	EventTaskDone    = "task.completed"
	EventRunFinished = "run.finished"
	EventAlert       = "alert"
)
