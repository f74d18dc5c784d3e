package etl

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultMaxAttempts   = 3
	DefaultBaseDelay     = time.Second
	DefaultBackoffFactor = 2.0
	DefaultMaxDelay      = 30 * time.Second
	DefaultHandshakeTTL  = time.Hour
	DefaultRowIDColumn   = "row_id"
	DefaultDelimiter     = ','
)

// RetryPolicy governs retries of a single page fetch.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration

	// Jitter is added to every delay. With RandomJitter the addend is drawn
	// uniformly from [0, Jitter] instead.
	Jitter       time.Duration
	RandomJitter bool
}

// DefaultRetryPolicy returns 3 attempts with 1s, 2s, 4s... capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   DefaultMaxAttempts,
		BaseDelay:     DefaultBaseDelay,
		BackoffFactor: DefaultBackoffFactor,
		MaxDelay:      DefaultMaxDelay,
	}
}

func (p RetryPolicy) validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be >= 1, got %d", ErrInvalidConfig, p.MaxAttempts)
	}
	if p.BackoffFactor <= 1 {
		return fmt.Errorf("%w: backoff factor must be > 1, got %g", ErrInvalidConfig, p.BackoffFactor)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 || p.Jitter < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidConfig)
	}
	return nil
}

// DeterminismConfig controls column layout, ordering and number rendering of
// the written dataset.
type DeterminismConfig struct {
	// SortBy fields are compared as strings, in list order, ascending.
	SortBy []string

	// ColumnOrder places the listed columns first. Listed columns that no
	// record carries are dropped; unlisted columns follow alphabetically
	// unless DropUnlisted is set.
	ColumnOrder  []string
	DropUnlisted bool

	// FloatFormat is a fmt verb applied to floats, e.g. "%.6f".
	FloatFormat string
}

// HashConfig enables content hashing. A column is only populated when both
// its name and its field list are set.
type HashConfig struct {
	RowHashColumn     string
	RowHashFields     []string
	BusinessKeyColumn string
	BusinessKeyFields []string
}

// OutputConfig says where and how the dataset is persisted.
type OutputConfig struct {
	Dir       string
	Delimiter rune

	// ContentAddressed puts a digest of the dataset bytes in its file name.
	ContentAddressed bool
}

type HandshakeConfig struct {
	Enabled bool
	TTL     time.Duration
}

type ValidationConfig struct {
	FailOpen bool
}

// RunConfig is the configuration of one Run. The orchestrator copies it when
// a run starts.
type RunConfig struct {
	PipelineName string
	DatasetName  string
	RunID        string

	Determinism DeterminismConfig
	Hashing     HashConfig
	Retry       RetryPolicy
	Handshake   HandshakeConfig
	Validation  ValidationConfig
	Output      OutputConfig

	// StrictPaging reports exhausted page retries as ErrRetriesExhausted
	// instead of ending extraction silently.
	StrictPaging bool

	RowIDColumn string
	DryRun      bool
}

// withDefaults fills zero values.
func (c RunConfig) withDefaults() RunConfig {
	if c.Retry == (RetryPolicy{}) {
		c.Retry = DefaultRetryPolicy()
	}
	if c.Handshake.TTL == 0 {
		c.Handshake.TTL = DefaultHandshakeTTL
	}
	if c.RowIDColumn == "" {
		c.RowIDColumn = DefaultRowIDColumn
	}
	if c.Output.Delimiter == 0 {
		c.Output.Delimiter = DefaultDelimiter
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "."
	}
	c.Determinism.SortBy = append([]string(nil), c.Determinism.SortBy...)
	c.Determinism.ColumnOrder = append([]string(nil), c.Determinism.ColumnOrder...)
	c.Hashing.RowHashFields = append([]string(nil), c.Hashing.RowHashFields...)
	c.Hashing.BusinessKeyFields = append([]string(nil), c.Hashing.BusinessKeyFields...)
	return c
}

// Validate reports the first problem with the config.
func (c RunConfig) Validate() error {
	if c.PipelineName == "" {
		return fmt.Errorf("%w: pipeline name is required", ErrInvalidConfig)
	}
	if c.DatasetName == "" {
		return fmt.Errorf("%w: dataset name is required", ErrInvalidConfig)
	}
	if err := c.Retry.validate(); err != nil {
		return err
	}
	if c.Handshake.TTL < 0 {
		return fmt.Errorf("%w: handshake ttl must not be negative", ErrInvalidConfig)
	}
	switch c.Output.Delimiter {
	case '"', '\r', '\n':
		return fmt.Errorf("%w: invalid delimiter %q", ErrInvalidConfig, c.Output.Delimiter)
	}
	return nil
}
