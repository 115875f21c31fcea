// Package storage keeps job files in a directory tree: the private working
// directory of a batch run, or the outbox of the inbox watcher.
package storage

import "time"

// File describes a stored model or archive.
type File struct {
	Path      string
	Checksum  string
	Size      int64
	UpdatedAt time.Time
}

// Provider is the interface for job file operations. Paths are relative to
// the provider root.
type Provider interface {
	// List returns every file under dir whose name ends with suffix.
	List(dir, suffix string) ([]File, error)
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	Delete(path string) error
	Move(oldPath, newPath string) error
}
