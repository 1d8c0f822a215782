package repository

import (
	"context"
	"time"

	"PriceIntel/internal/domain/models"
)

// EventPublisher delivers pipeline events to external consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.PipelineEvent) error
}

// RunLocker is the run-level mutual exclusion, leased to a token (the run ID)
// for a TTL. pkg/cache implementations satisfy it.
type RunLocker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// BreakerReporter is implemented by providers guarded by a circuit breaker.
// BreakerState is "closed", "half-open" or "open".
type BreakerReporter interface {
	BreakerState() string
}

// RunQueue defers a run until the lock frees up.
type RunQueue interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

type PipelineMetrics interface {
	RecordRun(status string, elapsed time.Duration, finishedAt time.Time)
	RecordTask(task string, succeeded, failed, skipped int, elapsed time.Duration)
}

// Clock is injected so calculation dates are deterministic in tests.
type Clock func() time.Time
