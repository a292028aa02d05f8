// Package storage defines the raw-data output file-system abstraction.
package storage

import "io"

// Provider is the interface downloaders write through.
type Provider interface {
	// Exists reports whether a regular file exists at path (relative to root).
	Exists(path string) bool
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// WriteFrom atomically streams r to path (relative to root) and returns the byte count.
	WriteFrom(path string, r io.Reader) (int64, error)
}

// Verify *FS satisfies Provider at compile time.
var _ Provider = (*FS)(nil)
