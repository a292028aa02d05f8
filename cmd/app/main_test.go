package main

import (
	"bytes"
	"testing"

	"github.com/starford/maizedata/internal/catalog"
	"github.com/starford/maizedata/internal/manifest"
)

func TestPrintRunsNewestFirst(t *testing.T) {
	ended := "2026-03-01T08:05:00+00:00"
	runs := []*manifest.Run{
		{RunID: "run_20260301T080000Z", StartedAt: "2026-03-01T08:00:00+00:00", EndedAt: &ended,
			Sources: map[string]*manifest.SourceRecord{"kamis": {}}},
		{RunID: "run_20260302T080000Z", StartedAt: "2026-03-02T08:00:00+00:00",
			Notes: []manifest.Note{{Note: "Skipped era5_cds because --skip-auth was set."}}},
	}

	var buf bytes.Buffer
	printRuns(&buf, runs, 0)
	want := "run_20260302T080000Z  2026-03-02T08:00:00+00:00  OPEN  sources=0 notes=1\n" +
		"run_20260301T080000Z  2026-03-01T08:00:00+00:00  2026-03-01T08:05:00+00:00  sources=1 notes=0\n"
	if buf.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", buf.String(), want)
	}

	buf.Reset()
	printRuns(&buf, runs, 1)
	if got := buf.String(); got != "run_20260302T080000Z  2026-03-02T08:00:00+00:00  OPEN  sources=0 notes=1\n" {
		t.Errorf("limited output = %q", got)
	}
}

func TestPrintCatalogRuns(t *testing.T) {
	rows := []catalog.RunRow{
		{RunID: "run_20260302T080000Z", StartedAt: "2026-03-02T08:00:00+00:00", NoteCount: 1},
		{RunID: "run_20260301T080000Z", StartedAt: "2026-03-01T08:00:00+00:00", EndedAt: "2026-03-01T08:05:00+00:00",
			GitRev: "abc123", SourceCount: 2, FileCount: 5},
	}

	var buf bytes.Buffer
	printCatalogRuns(&buf, rows)
	want := "run_20260302T080000Z  2026-03-02T08:00:00+00:00  OPEN  rev=- sources=0 files=0 notes=1\n" +
		"run_20260301T080000Z  2026-03-01T08:00:00+00:00  2026-03-01T08:05:00+00:00  rev=abc123 sources=2 files=5 notes=0\n"
	if buf.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", buf.String(), want)
	}
}
