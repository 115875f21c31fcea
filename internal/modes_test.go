package internal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/archive"
	"github.com/starford/rpfba/internal/testutil"
	"github.com/starford/rpfba/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batchOptions(t *testing.T) (*Config, []Option) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "ledger.db")
	cfg.App.WorkDir = t.TempDir()
	cfg.Simulation.NumWorkers = 2
	return cfg, []Option{
		WithConfig(cfg),
		WithLauncher(worker.InProcessLauncher{Logger: testutil.Logger()}),
		WithLogOutput(io.Discard),
	}
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestRunBatchWritesArchive(t *testing.T) {
	cfg, opts := batchOptions(t)
	dir := t.TempDir()
	req := BatchRequest{
		Input:   writeFile(t, dir, "in.tar.xz", testutil.PathwayArchive(t, 3)),
		GEM:     writeFile(t, dir, "gem.xml", testutil.SBML(t, testutil.GEM(t))),
		Output:  filepath.Join(dir, "out", "result.tar.xz"),
		Request: DefaultRequest(cfg),
	}

	sum, err := RunBatch(context.Background(), req, opts...)
	require.NoError(t, err)
	assert.Len(t, sum.Completed, 3)
	assert.Empty(t, sum.Skipped)

	f, err := os.Open(req.Output)
	require.NoError(t, err)
	defer f.Close()
	entries, err := archive.Read(f)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "rp_001.sbml.xml")

	info, err := Inspect(context.Background(), req.GEM, opts...)
	require.NoError(t, err)
	assert.Positive(t, info.Reactions)
}

func TestRunBatchEmptyArchiveWritesNothing(t *testing.T) {
	cfg, opts := batchOptions(t)
	dir := t.TempDir()
	req := BatchRequest{
		Input:   writeFile(t, dir, "in.tar.xz", testutil.PathwayArchive(t, 0)),
		GEM:     writeFile(t, dir, "gem.xml", testutil.SBML(t, testutil.GEM(t))),
		Output:  filepath.Join(dir, "result.tar.xz"),
		Request: DefaultRequest(cfg),
	}

	_, err := RunBatch(context.Background(), req, opts...)
	assert.ErrorIs(t, err, apperr.ErrEmptyArchive)
	assert.NoFileExists(t, req.Output)
}

func TestRunBatchMissingGEM(t *testing.T) {
	cfg, opts := batchOptions(t)
	dir := t.TempDir()
	_, err := RunBatch(context.Background(), BatchRequest{
		Input:   writeFile(t, dir, "in.tar.xz", testutil.PathwayArchive(t, 1)),
		GEM:     filepath.Join(dir, "missing.xml"),
		Output:  filepath.Join(dir, "out.tar.xz"),
		Request: DefaultRequest(cfg),
	}, opts...)
	assert.ErrorContains(t, err, "read gem")
}

func TestRunRequiresConfig(t *testing.T) {
	assert.Error(t, Run(context.Background()))
	_, err := RunBatch(context.Background(), BatchRequest{})
	assert.Error(t, err)
}
