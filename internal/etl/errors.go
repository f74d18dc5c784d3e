package etl

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted is returned in strict paging mode when every attempt
	// for a page failed.
	ErrRetriesExhausted = errors.New("page fetch retries exhausted")

	ErrInvalidConfig = errors.New("invalid run config")
)

// StageError records which stage a run failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ValidationError is returned by a fail-closed ValidationGate.
type ValidationError struct {
	Dataset string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %v", e.Dataset, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
