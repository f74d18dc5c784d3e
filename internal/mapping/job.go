// Package mapping turns a job file into an etl.Job: records come from a
// source, are flattened, renamed and converted per the field mappings, and
// checked for their identity and required fields.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/BartekS5/refpull/internal/etl"
	"github.com/BartekS5/refpull/internal/source"
	"github.com/BartekS5/refpull/pkg/logger"
	"github.com/BartekS5/refpull/pkg/models"
	"github.com/BartekS5/refpull/pkg/utils"
)

// maxReportedViolations bounds the validation error message.
const maxReportedViolations = 10

// Job binds a job spec to its source.
type Job struct {
	Spec   *models.JobSpec
	Source source.Source

	fieldKeys []string
	log       *slog.Logger
}

var (
	_ etl.Job        = (*Job)(nil)
	_ etl.Handshaker = (*Job)(nil)
	_ etl.Validator  = (*Job)(nil)
)

func NewJob(spec *models.JobSpec, src source.Source) *Job {
	keys := make([]string, 0, len(spec.Fields))
	for k := range spec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Job{
		Spec:      spec,
		Source:    src,
		fieldKeys: keys,
		log:       logger.New("mapping").With(slog.String("dataset", spec.Dataset)),
	}
}

func (j *Job) Fetch(ctx context.Context, index int) (*etl.Page, error) {
	return j.Source.Fetch(ctx, index)
}

func (j *Job) HandshakeEndpoint() string { return j.Source.HandshakeEndpoint() }

func (j *Job) Handshake(ctx context.Context, endpoint string) (map[string]any, error) {
	return j.Source.Handshake(ctx, endpoint)
}

// Normalize flattens nested documents into dotted keys ("taxon.rank").
// Lists are kept as one JSON-encoded value.
func (j *Job) Normalize(_ context.Context, raw []etl.Record) ([]etl.Record, error) {
	out := make([]etl.Record, len(raw))
	for i, rec := range raw {
		flat := make(etl.Record, len(rec))
		flatten(flat, "", rec)
		out[i] = flat
	}
	return out, nil
}

func flatten(dst etl.Record, prefix string, src map[string]any) {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch nested := v.(type) {
		case map[string]any:
			flatten(dst, key, nested)
		case primitive.M:
			flatten(dst, key, nested)
		case primitive.D:
			flatten(dst, key, nested.Map())
		case []any, primitive.A:
			dst[key] = utils.Stringify(nested, "")
		default:
			dst[key] = v
		}
	}
}

// MapSchema copies the id field and every mapped field, converting values to
// the configured types. With no field mappings the record passes through
// unchanged apart from the id copy.
func (j *Job) MapSchema(_ context.Context, rec etl.Record) (etl.Record, error) {
	ids := j.Spec.IDStrategy

	var out etl.Record
	if len(j.fieldKeys) == 0 {
		out = make(etl.Record, len(rec)+1)
		for k, v := range rec {
			out[k] = v
		}
	} else {
		out = make(etl.Record, len(j.fieldKeys)+1)
	}

	if idVal, ok := rec[ids.SourceField]; ok {
		converted, err := utils.ConvertValue(idVal, models.FieldConfig{Type: ids.Type})
		if err != nil {
			return nil, fmt.Errorf("id field %s: %w", ids.SourceField, err)
		}
		out[ids.Field] = converted
	}

	for _, key := range j.fieldKeys {
		fieldCfg := j.Spec.Fields[key]
		src := fieldCfg.Source
		if src == "" {
			src = key
		}
		val, exists := rec[src]
		if !exists {
			continue
		}
		converted, err := utils.ConvertValue(val, fieldCfg)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", src, err)
		}
		target := fieldCfg.Target
		if target == "" {
			target = key
		}
		out[target] = converted
	}
	return out, nil
}

// RowID is the string form of the mapped id field.
func (j *Job) RowID(rec etl.Record) string {
	return utils.Stringify(rec[j.Spec.IDStrategy.Field], j.Spec.Determinism.FloatFormat)
}

// Validate checks that every record carries an id and each required field.
// The records are returned unchanged when all of them pass.
func (j *Job) Validate(ctx context.Context, records []etl.Record, failOpen bool) ([]etl.Record, error) {
	required := append([]string{j.Spec.IDStrategy.Field}, j.Spec.Required...)

	var violations []error
	total := 0
	for i, rec := range records {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for _, field := range required {
			if isBlank(rec[field]) {
				total++
				if len(violations) < maxReportedViolations {
					violations = append(violations, fmt.Errorf("record %d (%s): missing required field %s",
						i, utils.Stringify(rec[j.Spec.IDStrategy.Field], ""), field))
				}
			}
		}
	}
	if total == 0 {
		return records, nil
	}
	if total > len(violations) {
		violations = append(violations, fmt.Errorf("and %d more violations", total-len(violations)))
	}
	j.log.Debug("validation violations found", slog.Int("count", total), slog.Bool("fail_open", failOpen))
	return nil, fmt.Errorf("%d of %d records invalid: %w", countInvalid(records, required), len(records), errors.Join(violations...))
}

func countInvalid(records []etl.Record, required []string) int {
	n := 0
	for _, rec := range records {
		for _, field := range required {
			if isBlank(rec[field]) {
				n++
				break
			}
		}
	}
	return n
}

func isBlank(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return s == ""
	default:
		return false
	}
}
