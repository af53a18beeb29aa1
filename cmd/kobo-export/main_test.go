package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/kobo-export/internal/testutil"
	"github.com/Sternrassler/kobo-export/pkg/config"
	"github.com/Sternrassler/kobo-export/pkg/export"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// testEnv is a mock API plus a config file pointing at it.
type testEnv struct {
	mock       *testutil.MockKobo
	dir        string
	configPath string
	outputPath string
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()

	mock := testutil.NewMockKobo()
	t.Cleanup(mock.Close)

	dir := t.TempDir()
	env := &testEnv{
		mock:       mock,
		dir:        dir,
		configPath: filepath.Join(dir, "config.json"),
		outputPath: filepath.Join(dir, "project_metadata.xlsx"),
	}

	content := fmt.Sprintf(`{
		"KOBO_API_TOKEN": "secret",
		"BASE_URL": %q,
		"PROJECT_VIEW_UID": "pv1",
		"OUTPUT_FILE": %q,
		"PAGE_DELAY": "1ms"%s
	}`, mock.URL(), env.outputPath, extra)
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0o600))

	return env
}

func (e *testEnv) options() options {
	return options{
		configPath: e.configPath,
		logOutput:  &bytes.Buffer{},
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	return rows
}

func assertNoFile(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "expected no file at %s", path)
}

func TestRunExport_Success(t *testing.T) {
	env := newTestEnv(t, "")
	env.mock.SetPages("pv1",
		testutil.MockPage{Results: `[{"uid": "a1", "name": "Survey", "settings": {"sector": "Health"}}]`},
		testutil.MockPage{Results: `[{"uid": "a2", "name": "Census", "tags": ["x", "y"]}]`},
	)

	require.NoError(t, runExport(context.Background(), env.options()))

	rows := readRows(t, env.outputPath)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"uid", "name", "settings_sector", "tags"}, rows[0])
	assert.Equal(t, []string{"a1", "Survey", "Health"}, rows[1])
	assert.Equal(t, []string{"a2", "Census", "", "x, y"}, rows[2])

	header := env.mock.GetLastRequestHeader()
	assert.Equal(t, "Token secret", header.Get("Authorization"))
	assert.Equal(t, 2, env.mock.GetRequestCount())
}

func TestRunExport_PartialResultsExported(t *testing.T) {
	env := newTestEnv(t, "")
	serverErr := testutil.NewServerErrorResponse()
	env.mock.SetPages("pv1",
		testutil.MockPage{Results: `[{"uid": "a1"}, {"uid": "a2"}]`},
		testutil.MockPage{Response: &serverErr},
	)

	err := runExport(context.Background(), env.options())
	require.NoError(t, err)
	assert.Equal(t, exitOK, exitCode(err))

	rows := readRows(t, env.outputPath)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a2"}, rows[2])
}

func TestRunExport_EmptyResult(t *testing.T) {
	env := newTestEnv(t, "")
	env.mock.SetPages("pv1", testutil.MockPage{Results: `[]`})

	err := runExport(context.Background(), env.options())
	require.ErrorIs(t, err, ErrNoRecords)
	assert.Equal(t, exitEmptyResult, exitCode(err))
	assertNoFile(t, env.outputPath)
}

func TestRunExport_FirstPageFails(t *testing.T) {
	env := newTestEnv(t, "")
	unauthorized := testutil.NewUnauthorizedResponse()
	env.mock.SetPages("pv1", testutil.MockPage{Response: &unauthorized})

	err := runExport(context.Background(), env.options())
	require.ErrorIs(t, err, ErrNoRecords)
	assert.Equal(t, exitEmptyResult, exitCode(err))
	assertNoFile(t, env.outputPath)
}

func TestRunExport_ConfigErrors(t *testing.T) {
	dir := t.TempDir()

	missingKeys := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(missingKeys, []byte(`{"BASE_URL": "http://127.0.0.1:1"}`), 0o600))

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "file not found", path: filepath.Join(dir, "absent.json"), wantErr: config.ErrConfigNotFound},
		{name: "missing keys", path: missingKeys, wantErr: config.ErrMissingValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runExport(context.Background(), options{configPath: tt.path, logOutput: &bytes.Buffer{}})
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, exitConfig, exitCode(err))
		})
	}
}

func TestRunExport_ExportFailure(t *testing.T) {
	env := newTestEnv(t, "")
	env.mock.SetPages("pv1", testutil.MockPage{Results: `[{"uid": "a1"}]`})

	opts := env.options()
	opts.output = filepath.Join(env.dir, "missing", "out.xlsx")

	err := runExport(context.Background(), opts)
	require.ErrorIs(t, err, ErrExport)
	assert.Equal(t, exitExport, exitCode(err))
	assertNoFile(t, opts.output)
}

func TestRunExport_OverlongCellFails(t *testing.T) {
	env := newTestEnv(t, "")
	env.mock.SetPages("pv1", testutil.MockPage{
		Results: `[{"uid": "a1", "description": "` + strings.Repeat("x", 40000) + `"}]`,
	})

	err := runExport(context.Background(), env.options())
	require.ErrorIs(t, err, export.ErrCellTooLong)
	require.ErrorIs(t, err, ErrExport)
	assert.Equal(t, exitExport, exitCode(err))
	assertNoFile(t, env.outputPath)
}

func TestRunExport_TokenOverride(t *testing.T) {
	env := newTestEnv(t, "")
	env.mock.SetPages("pv1", testutil.MockPage{Results: `[{"uid": "a1"}]`})

	opts := env.options()
	opts.token = "override"
	require.NoError(t, runExport(context.Background(), opts))

	assert.Equal(t, "Token override", env.mock.GetLastRequestHeader().Get("Authorization"))
}

func TestRunExport_MetricsFile(t *testing.T) {
	env := newTestEnv(t, "")
	env.mock.SetPages("pv1", testutil.MockPage{Results: `[{"uid": "a1"}]`})

	opts := env.options()
	opts.metricsFile = filepath.Join(env.dir, "kobo_export.prom")
	require.NoError(t, runExport(context.Background(), opts))

	data, err := os.ReadFile(opts.metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kobo_export_pages_fetched_total")
	assert.Contains(t, string(data), "kobo_export_rows_written_total")
}

func TestRunExport_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	env := newTestEnv(t, fmt.Sprintf(`, "REDIS_ADDR": %q, "CACHE_TTL": "1m"`, mr.Addr()))
	env.mock.SetPages("pv1",
		testutil.MockPage{Results: `[{"uid": "a1"}]`},
		testutil.MockPage{Results: `[{"uid": "a2"}]`},
	)

	require.NoError(t, runExport(context.Background(), env.options()))
	assert.Equal(t, 2, env.mock.GetRequestCount())
	assert.Len(t, mr.Keys(), 2)

	var logs bytes.Buffer
	opts := env.options()
	opts.logJSON = true
	opts.logOutput = &logs
	require.NoError(t, runExport(context.Background(), opts))
	assert.Equal(t, 2, env.mock.GetRequestCount(), "second run is served from the cache")
	assert.Len(t, readRows(t, env.outputPath), 3)
	assert.Contains(t, logs.String(), `"cached_pages":2`)
	assert.Contains(t, logs.String(), `"mixed_cache":false`)
}

func TestRunExport_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	env := newTestEnv(t, fmt.Sprintf(`, "REDIS_ADDR": %q`, addr))
	env.mock.SetPages("pv1", testutil.MockPage{Results: `[{"uid": "a1"}]`})

	require.NoError(t, runExport(context.Background(), env.options()))
	assert.Len(t, readRows(t, env.outputPath), 2)
}

func TestCommand_Run(t *testing.T) {
	env := newTestEnv(t, "")
	env.mock.SetPages("pv1", testutil.MockPage{Results: `[{"uid": "a1"}]`})
	output := filepath.Join(env.dir, "cli.xlsx")

	err := newCommand().Run(context.Background(), []string{
		"kobo-export",
		"--config", env.configPath,
		"--output", output,
		"--log-json",
		"--log-level", "error",
	})
	require.NoError(t, err)
	assert.Len(t, readRows(t, output), 2)
	assertNoFile(t, env.outputPath)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"config not found", fmt.Errorf("load: %w", config.ErrConfigNotFound), exitConfig},
		{"config invalid", config.ErrConfigInvalid, exitConfig},
		{"missing value", config.ErrMissingValue, exitConfig},
		{"no records", ErrNoRecords, exitEmptyResult},
		{"exporter no records", fmt.Errorf("%w: %w", ErrExport, export.ErrNoRecords), exitEmptyResult},
		{"export", fmt.Errorf("%w: disk full", ErrExport), exitExport},
		{"unexpected", errors.New("boom"), exitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestRunExport_UnknownProjectView(t *testing.T) {
	env := newTestEnv(t, "")

	err := runExport(context.Background(), env.options())
	require.ErrorIs(t, err, ErrNoRecords)
	assert.Equal(t, 1, env.mock.GetRequestCount())
}
