package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BartekS5/refpull/pkg/logger"
	"github.com/google/uuid"
)

// RunResult is returned once per successful run.
type RunResult struct {
	RunID          string
	DatasetPath    string
	MetadataPath   string
	RecordCount    int
	ContentHash    string
	StageDurations StageDurations
	Handshake      map[string]any
}

// Pipeline sequences one Job through
//
//	init -> handshake? -> extract -> normalize -> map_schema -> validate -> write -> done
//
// Any failure from handshake through write moves the pipeline to the error
// state, fires Hooks.OnError and is returned as a *StageError. A Pipeline
// runs one job at a time; use separate Pipelines for concurrent runs.
type Pipeline struct {
	job    Job
	cache  *HandshakeCache
	gate   *ValidationGate
	writer *Writer
	hooks  Hooks
	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	state     Stage
	durations StageDurations
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHandshakeCache shares a cache between pipelines. Without it each
// Pipeline gets its own.
func WithHandshakeCache(c *HandshakeCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

func WithHooks(h Hooks) Option {
	return func(p *Pipeline) { p.hooks = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithWriter(w *Writer) Option {
	return func(p *Pipeline) { p.writer = w }
}

func WithValidationGate(g *ValidationGate) Option {
	return func(p *Pipeline) { p.gate = g }
}

// WithSleep replaces the wait between page fetch attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

// NewPipeline creates a pipeline for job.
func NewPipeline(job Job, opts ...Option) *Pipeline {
	p := &Pipeline{job: job, state: StageInit}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.New("pipeline")
	}
	if p.cache == nil {
		p.cache = NewHandshakeCache(p.log)
	}
	if p.gate == nil {
		p.gate = NewValidationGate(p.log)
	}
	if p.writer == nil {
		p.writer = NewWriter(p.log)
	}
	return p
}

// State returns the stage the pipeline is in or last stopped at.
func (p *Pipeline) State() Stage { return p.state }

// Run executes every stage in order on the calling goroutine.
func (p *Pipeline) Run(ctx context.Context, cfg RunConfig) (*RunResult, error) {
	cfg = cfg.withDefaults()
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p.state = StageInit
	p.durations = StageDurations{}
	log := p.log.With(
		slog.String("pipeline", cfg.PipelineName),
		slog.String("dataset", cfg.DatasetName),
		slog.String("run_id", cfg.RunID))

	startTime := time.Now()
	log.Info("starting pipeline",
		slog.Bool("dry_run", cfg.DryRun),
		slog.Bool("strict_paging", cfg.StrictPaging),
		slog.Int("max_attempts", cfg.Retry.MaxAttempts))
	if p.hooks.OnStart != nil {
		p.hooks.OnStart(ctx, StartEvent{
			Pipeline:  cfg.PipelineName,
			Dataset:   cfg.DatasetName,
			RunID:     cfg.RunID,
			StartedAt: startTime,
		})
	}

	handshake := map[string]any{}
	if hs, ok := p.job.(Handshaker); ok {
		if endpoint := hs.HandshakeEndpoint(); endpoint != "" {
			err := p.runStage(log, StageHandshake, func() error {
				payload, err := p.cache.Perform(ctx, endpoint, cfg.Handshake.Enabled, cfg.Handshake.TTL, hs.Handshake)
				if err != nil {
					return fmt.Errorf("handshake %s: %w", endpoint, err)
				}
				handshake = payload
				return nil
			})
			if err != nil {
				return nil, p.fail(ctx, log, StageHandshake, err)
			}
		}
	}

	var raw []Record
	err := p.runStage(log, StageExtract, func() error {
		ext := NewExtractor(cfg.Retry, log)
		ext.Strict = cfg.StrictPaging
		if p.sleep != nil {
			ext.Sleep = p.sleep
		}
		pages := 0
		for page, err := range ext.Pages(ctx, p.job.Fetch) {
			if err != nil {
				return err
			}
			pages++
			raw = append(raw, page.Records...)
			if p.hooks.OnPage != nil {
				p.hooks.OnPage(ctx, PageEvent{
					Index:       page.Index,
					RecordCount: len(page.Records),
					Metadata:    page.Metadata,
				})
			}
		}
		log.Info("extraction finished", slog.Int("pages", pages), slog.Int("records", len(raw)))
		return nil
	})
	if err != nil {
		return nil, p.fail(ctx, log, StageExtract, err)
	}

	var normalized []Record
	err = p.runStage(log, StageNormalize, func() error {
		var err error
		normalized, err = p.job.Normalize(ctx, raw)
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, log, StageNormalize, err)
	}

	var mapped []Record
	err = p.runStage(log, StageMapSchema, func() error {
		mapped = make([]Record, 0, len(normalized))
		for i, rec := range normalized {
			out, err := p.job.MapSchema(ctx, rec)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			if out == nil {
				continue
			}
			out[cfg.RowIDColumn] = p.job.RowID(out)
			mapped = append(mapped, out)
		}
		return nil
	})
	if err != nil {
		return nil, p.fail(ctx, log, StageMapSchema, err)
	}

	validated := mapped
	err = p.runStage(log, StageValidate, func() error {
		v, ok := p.job.(Validator)
		if !ok {
			return nil
		}
		var err error
		validated, _, err = p.gate.Run(ctx, cfg.DatasetName, mapped, cfg.Validation.FailOpen, v.Validate)
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, log, StageValidate, err)
	}

	var written *WriteResult
	err = p.runStage(log, StageWrite, func() error {
		var err error
		written, err = p.writer.Write(ctx, WriteRequest{
			Config:    cfg,
			Records:   validated,
			Durations: p.durations.Clone(),
		})
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, log, StageWrite, err)
	}

	p.state = StageDone
	result := &RunResult{
		RunID:          cfg.RunID,
		DatasetPath:    written.DatasetPath,
		MetadataPath:   written.MetadataPath,
		RecordCount:    written.RecordCount,
		ContentHash:    written.ContentHash,
		StageDurations: p.durations.Clone(),
		Handshake:      handshake,
	}

	duration := time.Since(startTime)
	rate := 0.0
	if duration.Seconds() > 0 {
		rate = float64(result.RecordCount) / duration.Seconds()
	}
	log.Info("pipeline finished successfully",
		slog.Int("records", result.RecordCount),
		slog.String("rate", fmt.Sprintf("%.2f records/sec", rate)),
		slog.Float64("duration_ms", millis(duration)))

	if p.hooks.OnFinish != nil {
		p.hooks.OnFinish(ctx, FinishEvent{
			RecordCount: result.RecordCount,
			Durations:   result.StageDurations.Clone(),
			Handshake:   handshake,
			Result:      result,
		})
	}
	return result, nil
}

// runStage times fn under stage. The elapsed time is recorded whether or not
// fn fails.
func (p *Pipeline) runStage(log *slog.Logger, stage Stage, fn func() error) error {
	p.state = stage
	log.Info("stage started", slog.String("stage", string(stage)))
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	p.durations[string(stage)] = millis(elapsed)
	if err == nil {
		log.Info("stage completed",
			slog.String("stage", string(stage)),
			slog.Float64("duration_ms", millis(elapsed)))
	}
	return err
}

func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, stage Stage, err error) error {
	p.state = StageFailed
	durations := p.durations.Clone()
	log.Error("stage failed",
		slog.String("stage", string(stage)),
		slog.Float64("duration_ms", durations[string(stage)]),
		slog.Any("stage_durations", durations),
		slog.String("error", err.Error()))
	if p.hooks.OnError != nil {
		p.hooks.OnError(ctx, ErrorEvent{Stage: stage, Err: err, Durations: durations})
	}
	return &StageError{Stage: stage, Err: err}
}
