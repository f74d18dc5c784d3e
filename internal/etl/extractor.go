package etl

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/BartekS5/refpull/pkg/logger"
)

// FetchFunc returns the page at a 1-based index, or nil when the source has
// nothing more.
type FetchFunc func(ctx context.Context, index int) (*Page, error)

// Extractor turns a FetchFunc into a lazy sequence of pages, retrying each
// page under a RetryPolicy.
//
// Extraction ends after a page with zero records, when fetch returns a nil
// page, or when every attempt for a page fails. The last case is not an error
// unless Strict is set: a source that keeps failing looks the same as one
// that ran out of data.
type Extractor struct {
	Policy RetryPolicy
	Strict bool

	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error

	log *slog.Logger
}

// NewExtractor returns an extractor that sleeps for real between attempts.
// A nil log uses the "extractor" component logger.
func NewExtractor(policy RetryPolicy, log *slog.Logger) *Extractor {
	if log == nil {
		log = logger.New("extractor")
	}
	return &Extractor{
		Policy: policy,
		Sleep:  sleepContext,
		log:    log,
	}
}

// Pages yields pages in index order. The error value is only non-nil for a
// cancelled context or, in strict mode, exhausted retries; it is always the
// last element of the sequence.
func (e *Extractor) Pages(ctx context.Context, fetch FetchFunc) iter.Seq2[*Page, error] {
	return func(yield func(*Page, error) bool) {
		index := 0
		for {
			index++
			page, err := e.fetchWithRetry(ctx, fetch, index)
			if err != nil {
				if errors.Is(err, ErrRetriesExhausted) && !e.Strict {
					e.log.Warn("page retries exhausted, ending extraction",
						slog.Int("page", index), slog.String("error", err.Error()))
					return
				}
				yield(nil, err)
				return
			}
			if page == nil {
				e.log.Debug("source returned no page, ending extraction", slog.Int("page", index))
				return
			}
			if !yield(page, nil) {
				return
			}
			if len(page.Records) == 0 {
				return
			}
		}
	}
}

func (e *Extractor) fetchWithRetry(ctx context.Context, fetch FetchFunc, index int) (*Page, error) {
	attempts := max(e.Policy.MaxAttempts, 1)
	sleep := e.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		page, err := fetch(ctx, index)
		elapsed := time.Since(start)
		if err == nil {
			if page != nil {
				page.Index = index
				e.log.Info("page extracted",
					slog.Int("page", index),
					slog.Int("records", len(page.Records)),
					slog.Int("attempt", attempt),
					slog.Float64("duration_ms", millis(elapsed)))
			}
			return page, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		if attempt == attempts {
			break
		}
		delay := e.Policy.Delay(attempt)
		e.log.Warn("page fetch failed, retrying",
			slog.Int("page", index),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", delay),
			slog.Float64("duration_ms", millis(elapsed)),
			slog.String("error", err.Error()))
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("page %d after %d attempts: %w: %w", index, attempts, ErrRetriesExhausted, lastErr)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
