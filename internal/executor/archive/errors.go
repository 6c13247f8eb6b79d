package archive

import "errors"

var (
	// ErrExecutorClosed is returned by writes after Close.
	ErrExecutorClosed = errors.New("archive executor closed")

	// ErrPathOutsideBase indicates a resolved path that escapes base_path.
	ErrPathOutsideBase = errors.New("resolved path outside base path")

	// ErrUnresolvedPath indicates that neither the selected nor the default
	// template could be fully resolved.
	ErrUnresolvedPath = errors.New("unresolved archive path")

	// ErrMissingEvent indicates a payload without the configured event field.
	ErrMissingEvent = errors.New("payload has no event field")
)
