package catalog

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/starford/maizedata/internal/apperr"
	"github.com/starford/maizedata/internal/manifest"
)

// RunRow summarises one run.
type RunRow struct {
	RunID       string
	StartedAt   string
	EndedAt     string // empty while the run is open
	GitRev      string
	SourceCount int
	FileCount   int
	NoteCount   int
}

// Open reports whether the run was never closed.
func (r RunRow) Open() bool { return r.EndedAt == "" }

// FileVersion is one observation of a file in a run snapshot.
type FileVersion struct {
	RunID       string
	StartedAt   string
	Source      string
	Bytes       int64
	ModifiedUTC string
	SHA256      string
}

// Sync mirrors every run of m into the catalog within a single transaction.
// Rows belonging to a run are replaced wholesale, so syncing the same
// manifest twice is a no-op. It returns the number of runs written.
func (db *DB) Sync(m *manifest.Manifest) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	for seq, r := range m.Runs {
		_, err := tx.Exec(`
			INSERT INTO runs (run_id, seq, started_at, ended_at, config_path, config_sha256, git_rev, skip_auth, force, hash_files)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				seq           = excluded.seq,
				started_at    = excluded.started_at,
				ended_at      = excluded.ended_at,
				config_path   = excluded.config_path,
				config_sha256 = excluded.config_sha256,
				git_rev       = excluded.git_rev,
				skip_auth     = excluded.skip_auth,
				force         = excluded.force,
				hash_files    = excluded.hash_files
		`, r.RunID, seq, r.StartedAt, r.EndedAt, r.ConfigPath, r.ConfigSHA256, r.GitRev, r.SkipAuth, r.Force, r.HashFiles)
		if err != nil {
			return 0, fmt.Errorf("catalog: upsert run %s: %w", r.RunID, err)
		}

		for _, table := range []string{"sources", "files", "notes"} {
			if _, err := tx.Exec(`DELETE FROM `+table+` WHERE run_id = ?`, r.RunID); err != nil {
				return 0, fmt.Errorf("catalog: clear %s for %s: %w", table, r.RunID, err)
			}
		}

		names := make([]string, 0, len(r.Sources))
		for name := range r.Sources {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			src := r.Sources[name]
			params, err := json.Marshal(src.Params)
			if err != nil {
				return 0, fmt.Errorf("catalog: encode params %s/%s: %w", r.RunID, name, err)
			}
			if _, err := tx.Exec(`
				INSERT INTO sources (run_id, name, out_dir, file_count, params, recorded_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, r.RunID, name, src.OutDir, src.FileCount, string(params), src.RecordedAt); err != nil {
				return 0, fmt.Errorf("catalog: insert source %s/%s: %w", r.RunID, name, err)
			}
			for _, f := range src.Files {
				if _, err := tx.Exec(`
					INSERT OR REPLACE INTO files (run_id, source, path, bytes, modified_utc, sha256)
					VALUES (?, ?, ?, ?, ?, ?)
				`, r.RunID, name, f.Path, f.Bytes, f.ModifiedUTC, f.SHA256); err != nil {
					return 0, fmt.Errorf("catalog: insert file %s: %w", f.Path, err)
				}
			}
		}

		for i, n := range r.Notes {
			if _, err := tx.Exec(`INSERT INTO notes (run_id, seq, at, note) VALUES (?, ?, ?, ?)`,
				r.RunID, i, n.At, n.Note); err != nil {
				return 0, fmt.Errorf("catalog: insert note %s/%d: %w", r.RunID, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("catalog: commit: %w", err)
	}
	return len(m.Runs), nil
}

// Runs returns the most recent runs first, in reverse manifest order. A non-positive limit returns all.
func (db *DB) Runs(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.Query(`
		SELECT r.run_id, r.started_at, COALESCE(r.ended_at, ''), COALESCE(r.git_rev, ''),
			(SELECT count(*) FROM sources s WHERE s.run_id = r.run_id),
			(SELECT count(*) FROM files f WHERE f.run_id = r.run_id),
			(SELECT count(*) FROM notes n WHERE n.run_id = r.run_id)
		FROM runs r
		ORDER BY r.seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.EndedAt, &r.GitRev, &r.SourceCount, &r.FileCount, &r.NoteCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FileHistory returns every recorded version of path (relative to the output
// root), oldest run first.
func (db *DB) FileHistory(path string) ([]FileVersion, error) {
	rows, err := db.conn.Query(`
		SELECT f.run_id, r.started_at, f.source, f.bytes, f.modified_utc, f.sha256
		FROM files f
		JOIN runs r ON r.run_id = f.run_id
		WHERE f.path = ?
		ORDER BY r.seq, f.source
	`, path)
	if err != nil {
		return nil, fmt.Errorf("catalog: file history: %w", err)
	}
	defer rows.Close()

	var out []FileVersion
	for rows.Next() {
		var v FileVersion
		if err := rows.Scan(&v.RunID, &v.StartedAt, &v.Source, &v.Bytes, &v.ModifiedUTC, &v.SHA256); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("catalog: file %s: %w", path, apperr.ErrNotFound)
	}
	return out, nil
}
