// Package apperr defines the error taxonomy shared across rpfba packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrDisabled is returned by features switched off in the configuration.
	ErrDisabled = errors.New("feature disabled")

	// ErrConfig marks configuration errors. They are rejected before any job starts.
	ErrConfig = errors.New("invalid configuration")

	// ErrMerge marks a pathway that cannot be merged into the GEM. Fatal to one job only.
	ErrMerge = errors.New("merge failed")

	// ErrEmptyArchive is returned when the input archive holds no model entries.
	ErrEmptyArchive = errors.New("input archive is empty")

	// ErrNoResults is returned when every job of a batch failed.
	ErrNoResults = errors.New("no job produced a result")
)
