package etl

import (
	"context"
	"log/slog"
	"time"

	"github.com/BartekS5/refpull/pkg/logger"
)

// ValidateFunc checks a record set and returns the records to keep.
type ValidateFunc func(ctx context.Context, records []Record, failOpen bool) ([]Record, error)

// ValidationSummary describes one gate invocation.
type ValidationSummary struct {
	Dataset     string
	RecordCount int
	Duration    time.Duration
	Timestamp   time.Time
	Passed      bool
	Error       string
}

// LogValue implements slog.LogValuer for structured logging.
func (s ValidationSummary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("dataset", s.Dataset),
		slog.Int("records", s.RecordCount),
		slog.Float64("duration_ms", millis(s.Duration)),
		slog.Time("timestamp", s.Timestamp),
		slog.Bool("passed", s.Passed),
	}
	if s.Error != "" {
		attrs = append(attrs, slog.String("error", s.Error))
	}
	return slog.GroupValue(attrs...)
}

// ValidationGate runs a validation callback with timing and applies the
// fail-open or fail-closed policy chosen for the call.
type ValidationGate struct {
	Now func() time.Time
	log *slog.Logger
}

// NewValidationGate returns a gate. A nil log uses the "validation" component
// logger.
func NewValidationGate(log *slog.Logger) *ValidationGate {
	if log == nil {
		log = logger.New("validation")
	}
	return &ValidationGate{Now: time.Now, log: log}
}

// Run validates records. On failure a fail-closed call returns a
// *ValidationError; a fail-open call logs a warning and returns records
// unchanged with a nil error.
func (g *ValidationGate) Run(ctx context.Context, dataset string, records []Record, failOpen bool, fn ValidateFunc) ([]Record, ValidationSummary, error) {
	start := time.Now()
	out, err := fn(ctx, records, failOpen)

	summary := ValidationSummary{
		Dataset:     dataset,
		RecordCount: len(records),
		Duration:    time.Since(start),
		Timestamp:   g.Now().UTC(),
		Passed:      err == nil,
	}
	if err == nil {
		summary.RecordCount = len(out)
		g.log.Info("validation passed", slog.Any("summary", summary))
		return out, summary, nil
	}

	summary.Error = err.Error()
	if failOpen {
		g.log.Warn("validation failed, continuing with unvalidated records",
			slog.Any("summary", summary))
		return records, summary, nil
	}
	g.log.Error("validation failed", slog.Any("summary", summary))
	return nil, summary, &ValidationError{Dataset: dataset, Err: err}
}
