package models

import "errors"

var (
	// ErrInsufficientData is returned when a computation needs more observations than exist.
	ErrInsufficientData = errors.New("insufficient data")
	ErrNotFound         = errors.New("not found")
	// ErrRunInProgress is returned when the run lock is held by another pipeline run.
	ErrRunInProgress = errors.New("pipeline run already in progress")
	// ErrRunLockLost stops a run whose lease expired or was taken over.
	ErrRunLockLost = errors.New("pipeline run lock lost")
)

const (
	StatusOK                       = "ok"
	StatusInsufficientData         = "insufficient_data"
	StatusInsufficientCorrelations = "insufficient_correlations"
)
