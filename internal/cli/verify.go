package cli

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"unicode/utf8"

	"github.com/spf13/cobra"
)

type sidecar struct {
	DatasetName   string   `json:"dataset_name"`
	DatasetPath   string   `json:"dataset_path"`
	RecordCount   int      `json:"record_count"`
	Columns       []string `json:"columns"`
	ContentSHA256 string   `json:"content_sha256"`
}

// VerifyReport is the outcome of checking a dataset against its sidecar.
type VerifyReport struct {
	DatasetPath string
	HashOK      bool
	CountOK     bool
	HeaderOK    bool
	Records     int
	SHA256      string
}

func (r *VerifyReport) OK() bool { return r.HashOK && r.CountOK && r.HeaderOK }

func NewVerifyCmd() *cobra.Command {
	var delimiter string

	cmd := &cobra.Command{
		Use:   "verify <dataset.meta.json>...",
		Short: "Check datasets against their metadata sidecars",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			comma, size := utf8.DecodeRuneInString(delimiter)
			if size == 0 || size != len(delimiter) {
				return fmt.Errorf("delimiter must be a single character, got %q", delimiter)
			}
			failed := 0
			for _, path := range args {
				report, err := verifySidecar(path, comma)
				if err != nil {
					return err
				}
				status := "OK"
				if !report.OK() {
					status = "MISMATCH"
					failed++
				}
				fmt.Fprintf(c.OutOrStdout(), "%s\t%s\trecords=%d\tsha256=%s\n", status, report.DatasetPath, report.Records, report.SHA256)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d datasets do not match their metadata", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&delimiter, "delimiter", "d", ",", "Field delimiter used when the dataset was written")
	return cmd
}

// verifySidecar recomputes the content hash, record count and header of the
// dataset described by metaPath. A dataset that moved along with its sidecar
// is found next to it.
func verifySidecar(metaPath string, comma rune) (*VerifyReport, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata '%s': %w", metaPath, err)
	}
	var meta sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata '%s': %w", metaPath, err)
	}

	datasetPath := meta.DatasetPath
	if _, err := os.Stat(datasetPath); err != nil {
		datasetPath = filepath.Join(filepath.Dir(metaPath), filepath.Base(meta.DatasetPath))
	}
	data, err := os.ReadFile(datasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset '%s': %w", datasetPath, err)
	}

	sum := sha256.Sum256(data)
	report := &VerifyReport{DatasetPath: datasetPath, SHA256: hex.EncodeToString(sum[:])}
	report.HashOK = report.SHA256 == meta.ContentSHA256

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	report.HeaderOK = slices.Equal(header, meta.Columns)
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset row %d: %w", report.Records+1, err)
		}
		report.Records++
	}
	report.CountOK = report.Records == meta.RecordCount
	return report, nil
}
