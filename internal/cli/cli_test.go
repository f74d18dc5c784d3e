package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func currencyAPI(t *testing.T) *httptest.Server {
	t.Helper()
	all := []map[string]any{
		{"code": "PLN", "name": "Zloty", "minor": 2, "meta": map[string]any{"region": "EU"}},
		{"code": "JPY", "name": "Yen", "minor": 0, "meta": map[string]any{"region": "AS"}},
		{"code": "EUR", "name": "Euro", "minor": 2, "meta": map[string]any{"region": "EU"}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/release" {
			fmt.Fprint(w, `{"release":"2025.1"}`)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("size"))
		items := []map[string]any{}
		for i := (page - 1) * size; i < page*size && i < len(all); i++ {
			items = append(items, all[i])
		}
		if err := json.NewEncoder(w).Encode(map[string]any{"data": items}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJob(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	job := fmt.Sprintf(`
pipeline: finance
dataset: currencies
source:
  kind: http
  url: %s/currencies
  versionUrl: %s/release
  resultsKey: data
  pageSize: 2
idStrategy:
  sourceField: code
fields:
  name: {source: name, type: string}
  minorUnits: {source: minor, target: minor_units, type: int}
  region: {source: meta.region, type: enum}
required: [name]
determinism:
  sortBy: [code]
  columnOrder: [code, name, minor_units, region]
  dropUnlisted: true
retry:
  maxAttempts: 1
`, srv.URL, srv.URL)
	path := filepath.Join(t.TempDir(), "currencies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(job), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FILE", "")
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestRunAndVerify(t *testing.T) {
	srv := currencyAPI(t)
	jobFile := writeJob(t, srv)
	outDir := t.TempDir()

	out, err := execute(t, "run", "-j", jobFile, "--output", outDir)
	require.NoError(t, err)
	require.Contains(t, out, "finance/currencies")
	require.Contains(t, out, "ok")

	data, err := os.ReadFile(filepath.Join(outDir, "currencies.csv"))
	require.NoError(t, err)
	require.Equal(t, "code,name,minor_units,region\nEUR,Euro,2,EU\nJPY,Yen,0,AS\nPLN,Zloty,2,EU\n", string(data))

	meta := filepath.Join(outDir, "currencies.meta.json")
	out, err = execute(t, "verify", meta)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "OK\t"))

	require.NoError(t, os.WriteFile(filepath.Join(outDir, "currencies.csv"), append(data, "XXX,X,0,EU\n"...), 0o644))
	out, err = execute(t, "verify", meta)
	require.Error(t, err)
	require.True(t, strings.HasPrefix(out, "MISMATCH\t"))
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	srv := currencyAPI(t)
	outDir := t.TempDir()

	out, err := execute(t, "run", "-j", writeJob(t, srv), "--output", outDir, "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, "dry run")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRun_FailedJobIsReported(t *testing.T) {
	srv := currencyAPI(t)
	good := writeJob(t, srv)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(fmt.Sprintf(`
pipeline: finance
dataset: broken
source: {kind: http, url: "%s/currencies", resultsKey: missing}
retry: {maxAttempts: 1, strict: true}
`, srv.URL)), 0o644))

	out, err := execute(t, "run", "-j", good, "-j", bad, "--output", t.TempDir(), "--parallel", "2")
	require.ErrorContains(t, err, "bad.yaml")
	require.Contains(t, out, "finance/broken")
	require.Contains(t, out, "failed")
	require.Contains(t, out, "finance/currencies")
}

func TestRun_RequiresJob(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, "refpull dev\n", out)
}
