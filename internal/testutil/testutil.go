// Package testutil provides shared test helpers: model fixtures, archives
// and loggers. It must not import packages above the worker pipeline, since
// their tests use it from inside the import graph.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/rpfba/internal/archive"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// PathwayArchive packs n mergeable pathways named rp_001.. into an
// xz-compressed tar.
func PathwayArchive(t testing.TB, n int) []byte {
	t.Helper()
	entries := make([]archive.Entry, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("rp_%03d", i)
		entries = append(entries, archive.Entry{Name: id + ".rpsbml.xml", Data: SBML(t, Pathway(t, id))})
	}
	var buf bytes.Buffer
	if err := archive.Write(&buf, entries, archive.XZ); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
