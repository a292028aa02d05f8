// Package apperr defines sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRunNotFound   = errors.New("run not found")
	ErrRunClosed     = errors.New("run already closed")
	ErrUnknownSource = errors.New("unknown source")
	ErrEmptyOutputs  = errors.New("enabled sources with no files")
)
