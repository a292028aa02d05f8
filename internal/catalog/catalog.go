package catalog

import "github.com/starford/maizedata/internal/manifest"

// Catalog defines the query surface over synced manifests.
// Consumers should depend on this interface rather than the concrete *DB type.
type Catalog interface {
	Sync(m *manifest.Manifest) (int, error)
	Runs(limit int) ([]RunRow, error)
	FileHistory(path string) ([]FileVersion, error)
	Close() error
}

// Verify *DB satisfies Catalog at compile time.
var _ Catalog = (*DB)(nil)
