package internal

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/maizedata/internal/apperr"
	"github.com/starford/maizedata/internal/storage"
)

// OutputStatus is the file count of one enabled source's output directory.
type OutputStatus struct {
	Source string
	Dir    string
	Files  int
}

// CheckOutputs verifies that every enabled source left at least one file in
// its output directory. It returns the per-source counts and, when any are
// empty, an error wrapping apperr.ErrEmptyOutputs that names them.
func CheckOutputs(cfg *Config) ([]OutputStatus, error) {
	var (
		out   []OutputStatus
		empty []string
	)
	root, err := storage.NewFS(cfg.Global.OutDir)
	if err != nil {
		return nil, fmt.Errorf("open out dir: %w", err)
	}
	for _, spec := range cfg.EnabledSources() {
		dir := filepath.Join(root.Root(), spec.Subdir)
		files, err := root.List(spec.Subdir, false)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", spec.Name, err)
		}
		out = append(out, OutputStatus{Source: spec.Name, Dir: dir, Files: len(files)})
		if len(files) == 0 {
			empty = append(empty, spec.Name)
		}
	}
	if len(empty) > 0 {
		return out, fmt.Errorf("%w: %s", apperr.ErrEmptyOutputs, strings.Join(empty, ", "))
	}
	return out, nil
}
