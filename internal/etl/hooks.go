package etl

import (
	"context"
	"time"
)

// StartEvent is passed to Hooks.OnStart before the handshake stage.
type StartEvent struct {
	Pipeline  string
	Dataset   string
	RunID     string
	StartedAt time.Time
}

// PageEvent is passed to Hooks.OnPage once per extracted page.
type PageEvent struct {
	Index       int
	RecordCount int
	Metadata    map[string]any
}

// FinishEvent is passed to Hooks.OnFinish after the write stage succeeds.
type FinishEvent struct {
	RecordCount int
	Durations   StageDurations
	Handshake   map[string]any
	Result      *RunResult
}

// ErrorEvent is passed to Hooks.OnError when a stage fails. Durations holds
// every stage timed so far, including the failing one.
type ErrorEvent struct {
	Stage     Stage
	Err       error
	Durations StageDurations
}

// Hooks observe a run. Every field is optional. Hooks cannot change the
// outcome of a run: the error that triggered OnError is still returned by
// Run after the hook completes.
type Hooks struct {
	OnStart  func(ctx context.Context, ev StartEvent)
	OnPage   func(ctx context.Context, ev PageEvent)
	OnFinish func(ctx context.Context, ev FinishEvent)
	OnError  func(ctx context.Context, ev ErrorEvent)
}
