// Package testutil provides shared test helpers for output trees and fake
// upstream servers.
package testutil

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/maizedata/internal/storage"
)

// TestOutput creates a temporary output directory with a storage.FS rooted at it.
func TestOutput(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Upstream starts a fake HTTP upstream whose routes are registered by mount.
func Upstream(t *testing.T, mount func(r chi.Router)) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// WriteFile writes content to name under dir, creating parents.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}
