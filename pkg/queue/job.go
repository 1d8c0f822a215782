package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Job handles every message of one type.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

// Config controls workers and retry behaviour.
type Config struct {
	Workers      int
	RetryLimit   int
	RetryDelay   time.Duration
	PollInterval time.Duration
}

// ErrPermanent marks a failure that must not be retried.
var ErrPermanent = errors.New("queue: permanent failure")
