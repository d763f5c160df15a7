package store

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompleteSnapshot is returned when a snapshot lacks its _SUCCESS
	// marker and therefore cannot be trusted.
	ErrIncompleteSnapshot = errors.New("snapshot is incomplete")

	// ErrNoSnapshot is returned when no completed snapshot exists.
	ErrNoSnapshot = errors.New("no completed snapshot")
)

// FilesystemError reports a failed directory or file operation.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

func fsError(op, path string, err error) error {
	return &FilesystemError{Op: op, Path: path, Err: err}
}
