// Package manifest records run provenance for the downloader: which runs
// happened, under which configuration, and what each source left on disk.
//
// The document is a single JSON file that is fully re-read, mutated and
// atomically rewritten on every change. It assumes a single writer; two
// processes sharing one manifest path will lose updates.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/starford/maizedata/internal/apperr"
	"github.com/starford/maizedata/internal/models"
)

const (
	// SchemaVersion is the format revision written to new manifests.
	SchemaVersion = 1
	// Project labels every manifest produced by this tool.
	Project = "maize-external-data"
	// DefaultFilename is the manifest name inside the output root.
	DefaultFilename = "_MANIFEST.json"
)

// Manifest is the root persisted document.
type Manifest struct {
	SchemaVersion int    `json:"schema_version"`
	Project       string `json:"project"`
	Runs          []*Run `json:"runs"`
}

// Run is one invocation of the orchestrator.
type Run struct {
	RunID        string                   `json:"run_id"`
	StartedAt    string                   `json:"started_at"`
	EndedAt      *string                  `json:"ended_at"`
	ConfigPath   string                   `json:"config_path"`
	ConfigSHA256 string                   `json:"config_sha256"`
	GitRev       *string                  `json:"git_rev"`
	SkipAuth     bool                     `json:"skip_auth"`
	Force        bool                     `json:"force"`
	HashFiles    bool                     `json:"hash_files"`
	Sources      map[string]*SourceRecord `json:"sources"`
	Notes        []Note                   `json:"notes"`
}

// Closed reports whether the run has an end timestamp.
func (r *Run) Closed() bool {
	return r.EndedAt != nil
}

// Note is a timestamped free-text annotation on a run.
type Note struct {
	At   string `json:"at"`
	Note string `json:"note"`
}

// SourceRecord is a snapshot of one source's output directory.
type SourceRecord struct {
	Params     map[string]any    `json:"params"`
	OutDir     string            `json:"out_dir"`
	FileCount  int               `json:"file_count"`
	Files      []models.FileMeta `json:"files"`
	RecordedAt string            `json:"recorded_at"`
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		SchemaVersion: SchemaVersion,
		Project:       Project,
		Runs:          []*Run{},
	}
}

// Run returns the run with the given id.
func (m *Manifest) Run(runID string) (*Run, error) {
	for _, r := range m.Runs {
		if r.RunID == runID {
			return r, nil
		}
	}
	return nil, fmt.Errorf("manifest: run %q: %w", runID, apperr.ErrRunNotFound)
}

func (m *Manifest) hasRun(runID string) bool {
	_, err := m.Run(runID)
	return err == nil
}

// check rejects null entries that would otherwise be dereferenced.
func (m *Manifest) check() error {
	for i, r := range m.Runs {
		if r == nil {
			return fmt.Errorf("runs[%d] is null", i)
		}
		for name, src := range r.Sources {
			if src == nil {
				return fmt.Errorf("run %s: source %q is null", r.RunID, name)
			}
		}
	}
	return nil
}

// normalize fills in collections that older or hand-edited documents may omit
// so they serialize as {} and [] rather than null.
func (m *Manifest) normalize() {
	if m.Runs == nil {
		m.Runs = []*Run{}
	}
	for _, r := range m.Runs {
		if r.Sources == nil {
			r.Sources = map[string]*SourceRecord{}
		}
		if r.Notes == nil {
			r.Notes = []Note{}
		}
		for _, src := range r.Sources {
			if src.Files == nil {
				src.Files = []models.FileMeta{}
			}
		}
	}
}

// Read loads a manifest from path. A missing file yields a fresh manifest;
// a file that is not a valid manifest is an error.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", path, err)
	}
	if err := m.check(); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", path, err)
	}
	m.normalize()
	return m, nil
}

// Encode renders the manifest as 2-space indented JSON without HTML escaping.
func Encode(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return buf.Bytes(), nil
}
