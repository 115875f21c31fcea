package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := tempRoot(t)
	content := []byte("<sbml/>")
	require.NoError(t, s.Write("input/rp_1.sbml.xml", content))
	got, err := s.Read("input/rp_1.sbml.xml")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestDeleteAndMove(t *testing.T) {
	s := tempRoot(t)
	require.NoError(t, s.Write("a.xml", []byte("data")))
	require.NoError(t, s.Move("a.xml", "done/a.xml"))
	got, err := s.Read("done/a.xml")
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
	_, err = s.Read("a.xml")
	assert.Error(t, err)

	require.NoError(t, s.Delete("done/a.xml"))
	_, err = s.Read("done/a.xml")
	assert.Error(t, err)
}

func TestListFiltersAndSorts(t *testing.T) {
	s := tempRoot(t)
	require.NoError(t, s.Write("output/rp_2.sbml.xml", []byte("b")))
	require.NoError(t, s.Write("output/rp_1.sbml.xml", []byte("a")))
	require.NoError(t, s.Write("output/notes.txt", []byte("x")))
	require.NoError(t, s.Write("input/rp_3.sbml.xml", []byte("c")))

	files, err := s.List("output", ".xml")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "output/rp_1.sbml.xml", files[0].Path)
	assert.Equal(t, int64(1), files[0].Size)
	assert.Len(t, files[0].Checksum, 64)

	files, err = s.List("missing", ".xml")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)
	for _, p := range []string{"../../etc/passwd", "../outside.xml", "/etc/shadow"} {
		_, err := s.Read(p)
		assert.Error(t, err, p)
		assert.Error(t, s.Write(p, []byte("x")), p)
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	s := tempRoot(t)
	require.NoError(t, s.Write("m.xml", []byte("original")))
	require.NoError(t, s.Write("m.xml", []byte("updated")))
	got, _ := s.Read("m.xml")
	assert.Equal(t, "updated", string(got))

	matches, _ := filepath.Glob(filepath.Join(s.Root(), tmpPattern))
	assert.Empty(t, matches)
}

func TestNewTempCleanup(t *testing.T) {
	s, err := NewTemp(t.TempDir(), "rpfba-run-*")
	require.NoError(t, err)
	require.NoError(t, s.Write("input/x.xml", []byte("x")))
	require.NoError(t, s.Cleanup())
	_, err = os.Stat(s.Root())
	assert.True(t, os.IsNotExist(err))

	kept := tempRoot(t)
	require.NoError(t, kept.Cleanup())
	_, err = os.Stat(kept.Root())
	assert.NoError(t, err)
}

func TestNewFSRejects(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	f, err := os.CreateTemp(t.TempDir(), "file-*")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = NewFS(f.Name())
	assert.Error(t, err)
}
