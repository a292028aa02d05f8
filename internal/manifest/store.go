package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/maizedata/internal/apperr"
	"github.com/starford/maizedata/internal/checksum"
	"github.com/starford/maizedata/internal/models"
	"github.com/starford/maizedata/internal/storage"
)

// Store performs run lifecycle operations against one manifest file.
type Store struct {
	path     string
	now      func() time.Time
	revision RevisionProbe
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithRevisionProbe overrides how the source-control revision is resolved.
func WithRevisionProbe(p RevisionProbe) Option {
	return func(s *Store) {
		s.revision = p
	}
}

// NewStore returns a Store for the manifest at path. The file is created on
// the first StartRun.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:     path,
		now:      time.Now,
		revision: GitRevision,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the manifest file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the current manifest document.
func (s *Store) Load() (*Manifest, error) {
	return Read(s.path)
}

func (s *Store) save(m *Manifest) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("manifest: write %s: %w", s.path, err)
	}
	return nil
}

// StartParams describes the run being started.
type StartParams struct {
	ConfigPath string
	ConfigText []byte
	SkipAuth   bool
	Force      bool
	HashFiles  bool
}

// RunContext carries the identity and mode of a started run.
type RunContext struct {
	RunID        string
	StartedAt    string
	ConfigPath   string
	ConfigSHA256 string
	GitRev       string // empty when unavailable
	SkipAuth     bool
	Force        bool
	HashFiles    bool
}

// StartRun appends a new open run and persists the manifest.
func (s *Store) StartRun(ctx context.Context, p StartParams) (*RunContext, error) {
	m, err := s.Load()
	if err != nil {
		return nil, err
	}

	now := s.now()
	rc := &RunContext{
		RunID:        nextRunID(m, now),
		StartedAt:    models.FormatUTC(now),
		ConfigPath:   p.ConfigPath,
		ConfigSHA256: checksum.Sum(p.ConfigText),
		SkipAuth:     p.SkipAuth,
		Force:        p.Force,
		HashFiles:    p.HashFiles,
	}
	var gitRev *string
	if rev, ok := s.revision(ctx); ok {
		rc.GitRev = rev
		gitRev = &rev
	}

	m.Runs = append(m.Runs, &Run{
		RunID:        rc.RunID,
		StartedAt:    rc.StartedAt,
		ConfigPath:   rc.ConfigPath,
		ConfigSHA256: rc.ConfigSHA256,
		GitRev:       gitRev,
		SkipAuth:     rc.SkipAuth,
		Force:        rc.Force,
		HashFiles:    rc.HashFiles,
		Sources:      map[string]*SourceRecord{},
		Notes:        []Note{},
	})
	if err := s.save(m); err != nil {
		return nil, err
	}
	return rc, nil
}

// nextRunID derives the id from the UTC second. Runs started within the same
// second get a counter suffix so ids stay unique within one manifest.
func nextRunID(m *Manifest, now time.Time) string {
	base := "run_" + now.UTC().Format("20060102T150405Z")
	if !m.hasRun(base) {
		return base
	}
	for n := 2; ; n++ {
		id := fmt.Sprintf("%s_%d", base, n)
		if !m.hasRun(id) {
			return id
		}
	}
}

// RecordSource snapshots sourceOutDir and stores the result under
// run.sources[name], replacing any earlier snapshot of the same source.
// File paths are relative to baseOutDir.
func (s *Store) RecordSource(runID, name string, params map[string]any, baseOutDir, sourceOutDir string, hashFiles bool) error {
	files, err := storage.Snapshot(baseOutDir, sourceOutDir, hashFiles)
	if err != nil {
		return err
	}
	rec := &SourceRecord{
		Params:     stringKeys(params),
		OutDir:     relativeOutDir(baseOutDir, sourceOutDir),
		FileCount:  len(files),
		Files:      files,
		RecordedAt: models.FormatUTC(s.now()),
	}
	return s.update(runID, func(r *Run) {
		r.Sources[name] = rec
	})
}

func relativeOutDir(base, dir string) string {
	if _, err := os.Stat(dir); err != nil {
		return dir
	}
	rel, err := filepath.Rel(base, dir)
	if err != nil {
		return dir
	}
	return filepath.ToSlash(rel)
}

// AppendNote adds a timestamped advisory note to the run.
func (s *Store) AppendNote(runID, note string) error {
	at := models.FormatUTC(s.now())
	return s.update(runID, func(r *Run) {
		r.Notes = append(r.Notes, Note{At: at, Note: note})
	})
}

// EndRun closes the run. It never touches recorded sources.
func (s *Store) EndRun(runID string) error {
	ended := models.FormatUTC(s.now())
	return s.update(runID, func(r *Run) {
		r.EndedAt = &ended
	})
}

// update is the read-modify-write cycle shared by every mutation on an
// existing run. Closed runs reject further writes.
func (s *Store) update(runID string, fn func(*Run)) error {
	m, err := s.Load()
	if err != nil {
		return err
	}
	run, err := m.Run(runID)
	if err != nil {
		return err
	}
	if run.Closed() {
		return fmt.Errorf("manifest: run %q: %w", runID, apperr.ErrRunClosed)
	}
	fn(run)
	return s.save(m)
}

// stringKeys copies params so every nested mapping has string keys. YAML
// decodes mappings with non-string keys as map[any]any, which JSON cannot
// encode; those keys are rendered with fmt.Sprint.
func stringKeys(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = stringKeysValue(v)
	}
	return out
}

func stringKeysValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return stringKeys(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			key := "null"
			if k != nil {
				key = fmt.Sprint(k)
			}
			out[key] = stringKeysValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = stringKeysValue(vv)
		}
		return out
	default:
		return v
	}
}
