package etl

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/BartekS5/refpull/pkg/logger"
	"github.com/BartekS5/refpull/pkg/utils"
)

const (
	datasetExt  = ".csv"
	metadataExt = ".meta.json"
)

// WriteRequest is everything the writer needs for one dataset.
type WriteRequest struct {
	Config    RunConfig
	Records   []Record
	Durations StageDurations
}

// WriteResult describes the persisted artifacts. Paths are empty for a dry run.
type WriteResult struct {
	DatasetPath  string
	MetadataPath string
	RecordCount  int
	Columns      []string
	ContentHash  string
}

// Writer persists a record set as a byte-stable CSV file plus a JSON
// metadata sidecar. Each file is written to a temporary name in the target
// directory, synced, and renamed into place.
type Writer struct {
	Now func() time.Time
	log *slog.Logger
}

// NewWriter returns a writer using the wall clock for generated_at. A nil log
// uses the "writer" component logger.
func NewWriter(log *slog.Logger) *Writer {
	if log == nil {
		log = logger.New("writer")
	}
	return &Writer{Now: time.Now, log: log}
}

// Write renders and persists req. Records in req are not modified.
func (w *Writer) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := req.Config.withDefaults()
	start := time.Now()

	columns, data, err := Render(req.Records, cfg)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	res := &WriteResult{
		RecordCount: len(req.Records),
		Columns:     columns,
		ContentHash: hex.EncodeToString(sum[:]),
	}
	if cfg.DryRun {
		w.log.Info("dry run, dataset not persisted",
			slog.String("dataset", cfg.DatasetName),
			slog.Int("records", res.RecordCount),
			slog.String("sha256", res.ContentHash))
		return res, nil
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	datasetPath, err := filepath.Abs(filepath.Join(cfg.Output.Dir, datasetFileName(cfg.DatasetName, res.ContentHash, cfg.Output.ContentAddressed)))
	if err != nil {
		return nil, fmt.Errorf("resolve dataset path: %w", err)
	}
	if err := writeFileAtomic(datasetPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write dataset: %w", err)
	}
	res.DatasetPath = datasetPath

	metaPath := strings.TrimSuffix(datasetPath, datasetExt) + metadataExt
	meta, err := w.metadata(cfg, res, req.Durations)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(metaPath, meta, 0o644); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	res.MetadataPath = metaPath

	w.log.Info("dataset written",
		slog.String("path", datasetPath),
		slog.Int("records", res.RecordCount),
		slog.Int("bytes", len(data)),
		slog.Float64("duration_ms", millis(time.Since(start))))
	return res, nil
}

// Render produces the dataset bytes for records under cfg: hash columns are
// added, columns resolved, records stably sorted and encoded as CSV.
func Render(records []Record, cfg RunConfig) ([]string, []byte, error) {
	cfg = cfg.withDefaults()
	det := cfg.Determinism

	rows := cloneRecords(records)
	applyHashes(rows, cfg.Hashing, det.FloatFormat)
	columns := resolveColumns(rows, det, cfg.RowIDColumn)
	sortRecords(rows, det.SortBy, det.FloatFormat)

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Comma = cfg.Output.Delimiter
	if err := cw.Write(columns); err != nil {
		return nil, nil, fmt.Errorf("encode header: %w", err)
	}
	line := make([]string, len(columns))
	for _, rec := range rows {
		for i, col := range columns {
			line[i] = utils.Stringify(rec[col], det.FloatFormat)
		}
		// encoding/csv writes a lone empty field as a blank line, which
		// readers skip.
		if len(line) == 1 && line[0] == "" {
			cw.Flush()
			buf.WriteString(`""` + "\n")
			continue
		}
		if err := cw.Write(line); err != nil {
			return nil, nil, fmt.Errorf("encode row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, nil, fmt.Errorf("encode dataset: %w", err)
	}
	return columns, buf.Bytes(), nil
}

func (w *Writer) metadata(cfg RunConfig, res *WriteResult, durations StageDurations) ([]byte, error) {
	if durations == nil {
		durations = StageDurations{}
	}
	sortBy := cfg.Determinism.SortBy
	if sortBy == nil {
		sortBy = []string{}
	}
	meta := map[string]any{
		"dataset_name":    cfg.DatasetName,
		"dataset_path":    res.DatasetPath,
		"record_count":    res.RecordCount,
		"generated_at":    w.Now().UTC().Format(time.RFC3339),
		"stage_durations": durations,
		"pipeline_name":   cfg.PipelineName,
		"run_id":          cfg.RunID,
		"columns":         res.Columns,
		"sort_by":         sortBy,
		"content_sha256":  res.ContentHash,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return append(data, '\n'), nil
}

// resolveColumns picks the output columns. With no records and no column
// order the fallback column is the whole header.
func resolveColumns(records []Record, det DeterminismConfig, fallback string) []string {
	present := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			present[k] = struct{}{}
		}
	}

	var columns []string
	if len(det.ColumnOrder) > 0 {
		listed := make(map[string]struct{}, len(det.ColumnOrder))
		for _, c := range det.ColumnOrder {
			if _, dup := listed[c]; dup {
				continue
			}
			listed[c] = struct{}{}
			if _, ok := present[c]; ok || len(records) == 0 {
				columns = append(columns, c)
			}
		}
		if !det.DropUnlisted {
			var rest []string
			for k := range present {
				if _, ok := listed[k]; !ok {
					rest = append(rest, k)
				}
			}
			sort.Strings(rest)
			columns = append(columns, rest...)
		}
	} else {
		for k := range present {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}

	if len(columns) == 0 {
		columns = []string{fallback}
	}
	return columns
}

func sortRecords(records []Record, sortBy []string, floatFormat string) {
	if len(sortBy) == 0 {
		return
	}
	type keyed struct {
		key []string
		rec Record
	}
	ks := make([]keyed, len(records))
	for i, rec := range records {
		key := make([]string, len(sortBy))
		for j, f := range sortBy {
			key[j] = utils.Stringify(rec[f], floatFormat)
		}
		ks[i] = keyed{key: key, rec: rec}
	}
	slices.SortStableFunc(ks, func(a, b keyed) int {
		return slices.Compare(a.key, b.key)
	})
	for i := range ks {
		records[i] = ks[i].rec
	}
}

func cloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, rec := range records {
		c := make(Record, len(rec))
		for k, v := range rec {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

func datasetFileName(dataset, contentHash string, contentAddressed bool) string {
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(dataset)
	if contentAddressed {
		name += "-" + contentHash[:12]
	}
	return name + datasetExt
}

// writeFileAtomic writes data to a temp file next to path, syncs it and
// renames it over path. On failure the temp file is removed and path is
// left untouched.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	syncDir(dir)
	return nil
}

// syncDir makes the rename durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
