package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/BartekS5/refpull/internal/etl"
	"github.com/BartekS5/refpull/internal/source"
	"github.com/BartekS5/refpull/pkg/models"
)

var ErrInvalidJob = errors.New("invalid job file")

// LoadJob reads and parses a YAML job file, fills defaults and validates it.
// Unknown keys are rejected.
func LoadJob(filePath string) (*models.JobSpec, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file '%s': %w", filePath, err)
	}
	spec, err := ParseJob(data)
	if err != nil {
		return nil, fmt.Errorf("job file '%s': %w", filePath, err)
	}
	return spec, nil
}

// ParseJob is LoadJob for in-memory YAML.
func ParseJob(data []byte) (*models.JobSpec, error) {
	var spec models.JobSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	applyJobDefaults(&spec)
	if err := validateJob(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func applyJobDefaults(spec *models.JobSpec) {
	if spec.Source.PageSize <= 0 {
		spec.Source.PageSize = source.DefaultPageSize
	}
	if spec.IDStrategy.SourceField == "" {
		spec.IDStrategy.SourceField = "id"
	}
	if spec.IDStrategy.Field == "" {
		spec.IDStrategy.Field = spec.IDStrategy.SourceField
	}

	r := &spec.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = etl.DefaultMaxAttempts
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = etl.DefaultBaseDelay
	}
	if r.BackoffFactor == 0 {
		r.BackoffFactor = etl.DefaultBackoffFactor
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = etl.DefaultMaxDelay
	}
	if spec.Handshake.TTL == 0 {
		spec.Handshake.TTL = etl.DefaultHandshakeTTL
	}
}

func validateJob(spec *models.JobSpec) error {
	var errs []error
	if spec.Pipeline == "" {
		errs = append(errs, errors.New("pipeline is required"))
	}
	if spec.Dataset == "" {
		errs = append(errs, errors.New("dataset is required"))
	}

	src := spec.Source
	switch src.Kind {
	case source.KindSQL:
		if src.Table == "" || src.OrderBy == "" {
			errs = append(errs, errors.New("sql source needs table and orderBy"))
		}
	case source.KindMongo:
		if src.Database == "" || src.Collection == "" {
			errs = append(errs, errors.New("mongo source needs database and collection"))
		}
	case source.KindHTTP:
		if src.URL == "" {
			errs = append(errs, errors.New("http source needs url"))
		}
		if src.RateLimit < 0 {
			errs = append(errs, errors.New("http source rateLimit must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source kind %q", src.Kind))
	}

	for key, f := range spec.Fields {
		switch f.Type {
		case "", "string", "enum", "int", "float", "bool", "datetime":
		default:
			errs = append(errs, fmt.Errorf("field %s: unknown type %q", key, f.Type))
		}
	}

	if d := spec.Output.Delimiter; d != "" && utf8.RuneCountInString(d) != 1 {
		errs = append(errs, fmt.Errorf("output delimiter must be a single character, got %q", d))
	}

	if err := RunConfig(spec, "").Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidJob, errors.Join(errs...))
	}
	return nil
}

// RunConfig converts a job into the engine's run configuration. A job
// without its own output dir writes to outputDir.
func RunConfig(spec *models.JobSpec, outputDir string) etl.RunConfig {
	dir := spec.Output.Dir
	if dir == "" {
		dir = outputDir
	}
	var delim rune
	if spec.Output.Delimiter != "" {
		delim, _ = utf8.DecodeRuneInString(spec.Output.Delimiter)
	}

	return etl.RunConfig{
		PipelineName: spec.Pipeline,
		DatasetName:  spec.Dataset,
		Determinism: etl.DeterminismConfig{
			SortBy:       spec.Determinism.SortBy,
			ColumnOrder:  spec.Determinism.ColumnOrder,
			DropUnlisted: spec.Determinism.DropUnlisted,
			FloatFormat:  spec.Determinism.FloatFormat,
		},
		Hashing: etl.HashConfig{
			RowHashColumn:     spec.Hashing.RowHashColumn,
			RowHashFields:     spec.Hashing.RowHashFields,
			BusinessKeyColumn: spec.Hashing.BusinessKeyColumn,
			BusinessKeyFields: spec.Hashing.BusinessKeyFields,
		},
		Retry: etl.RetryPolicy{
			MaxAttempts:   spec.Retry.MaxAttempts,
			BaseDelay:     spec.Retry.BaseDelay,
			BackoffFactor: spec.Retry.BackoffFactor,
			MaxDelay:      spec.Retry.MaxDelay,
			Jitter:        spec.Retry.Jitter,
			RandomJitter:  spec.Retry.RandomJitter,
		},
		Handshake: etl.HandshakeConfig{
			Enabled: spec.Handshake.IsEnabled(),
			TTL:     spec.Handshake.TTL,
		},
		Validation: etl.ValidationConfig{FailOpen: spec.Validation.FailOpen},
		Output: etl.OutputConfig{
			Dir:              dir,
			Delimiter:        delim,
			ContentAddressed: spec.Output.ContentAddressed,
		},
		StrictPaging: spec.Retry.Strict,
		RowIDColumn:  spec.Output.RowIDColumn,
	}
}
