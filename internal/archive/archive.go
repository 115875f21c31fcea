// Package archive reads and writes tar archives of model files, optionally
// compressed with xz or gzip.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// Compression selects the codec applied around the tar stream.
type Compression string

const (
	None Compression = "none"
	XZ   Compression = "xz"
	Gzip Compression = "gzip"
)

// ErrUnknownCompression is returned by ParseCompression.
var ErrUnknownCompression = errors.New("archive: unknown compression")

// ParseCompression maps a flag or config value onto a Compression. The empty
// string selects XZ.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return XZ, nil
	case None, XZ, Gzip:
		return c, nil
	case "gz":
		return Gzip, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

// Entry is one file of an archive.
type Entry struct {
	Name string
	Data []byte
}

var (
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	gzipMagic = []byte{0x1f, 0x8b}
)

// ErrTooLarge is returned when an archive decompresses past its Limits.
var ErrTooLarge = errors.New("archive: decompressed size limit exceeded")

// Limits caps the decompressed bytes accepted per entry and per archive.
type Limits struct {
	Entry int64
	Total int64
}

// DefaultLimits are the caps applied by Read.
var DefaultLimits = Limits{Entry: 512 << 20, Total: 2 << 30}

// Read returns the regular files of a plain, xz or gzip compressed tar
// stream. Directories and hidden files are skipped and names are reduced to
// their base name.
func Read(r io.Reader) ([]Entry, error) {
	return ReadLimited(r, DefaultLimits)
}

// ReadLimited is Read with explicit size caps.
func ReadLimited(r io.Reader, lim Limits) ([]Entry, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(xzMagic))

	var src io.Reader = br
	switch {
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("archive: xz: %w", err)
		}
		src = xr
	case bytes.HasPrefix(head, gzipMagic):
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("archive: gzip: %w", err)
		}
		defer gr.Close()
		src = gr
	}

	var (
		entries []Entry
		total   int64
	)
	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: read: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Base(hdr.Name)
		if strings.HasPrefix(name, ".") {
			continue
		}
		limit := min(lim.Entry, lim.Total-total)
		if hdr.Size > limit {
			return nil, fmt.Errorf("%w: %s", ErrTooLarge, hdr.Name)
		}
		data, err := io.ReadAll(io.LimitReader(tr, limit+1))
		if err != nil {
			return nil, fmt.Errorf("archive: read %s: %w", hdr.Name, err)
		}
		if int64(len(data)) > limit {
			return nil, fmt.Errorf("%w: %s", ErrTooLarge, hdr.Name)
		}
		total += int64(len(data))
		entries = append(entries, Entry{Name: name, Data: data})
	}
	return entries, nil
}

// Write stores entries as a tar stream compressed with c.
func Write(w io.Writer, entries []Entry, c Compression) error {
	var (
		dst    io.Writer = w
		closer io.Closer
	)
	switch c {
	case None:
	case XZ, "":
		xw, err := xz.NewWriter(w)
		if err != nil {
			return fmt.Errorf("archive: xz: %w", err)
		}
		dst, closer = xw, xw
	case Gzip:
		gw := gzip.NewWriter(w)
		dst, closer = gw, gw
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCompression, string(c))
	}

	tw := tar.NewWriter(dst)
	now := time.Now()
	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.Name,
			Mode:    0o644,
			Size:    int64(len(e.Data)),
			ModTime: now,
			Format:  tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("archive: write %s: %w", e.Name, err)
		}
		if _, err := tw.Write(e.Data); err != nil {
			return fmt.Errorf("archive: write %s: %w", e.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive: close tar: %w", err)
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("archive: close %s: %w", c, err)
		}
	}
	return nil
}

// modelSuffixes are stripped, repeatedly, from entry names to form job ids.
var modelSuffixes = []string{".xml", ".sbml", ".rpsbml"}

// JobID derives a job identifier from an archive entry name.
func JobID(name string) string {
	id := path.Base(name)
	for {
		trimmed := id
		for _, s := range modelSuffixes {
			trimmed = strings.TrimSuffix(trimmed, s)
		}
		if trimmed == id {
			return id
		}
		id = trimmed
	}
}

// ResultName is the archive entry name of a job's output model.
func ResultName(jobID string) string {
	return jobID + ".sbml.xml"
}

// archiveSuffixes are the file name endings recognized as model archives,
// longest first.
var archiveSuffixes = []string{".tar.xz", ".tar.gz", ".txz", ".tgz", ".tar"}

// Extension is the file name ending of archives written with c.
func (c Compression) Extension() string {
	switch c {
	case None:
		return ".tar"
	case Gzip:
		return ".tar.gz"
	default:
		return ".tar.xz"
	}
}

// IsArchiveName reports whether name ends with a known archive suffix.
func IsArchiveName(name string) bool {
	_, ok := TrimArchiveExt(name)
	return ok
}

// TrimArchiveExt strips a known archive suffix from name.
func TrimArchiveExt(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(lower, s) {
			return name[:len(name)-len(s)], true
		}
	}
	return name, false
}
