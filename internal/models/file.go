// Package models defines the domain types shared by storage and the manifest.
package models

import "time"

// TimeLayout renders second-precision timestamps with an explicit offset,
// e.g. 2026-10-18T09:30:00+00:00 for UTC.
const TimeLayout = "2006-01-02T15:04:05-07:00"

// FormatUTC truncates t to the second and formats it in UTC.
func FormatUTC(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeLayout)
}

// FileMeta describes one file on disk at snapshot time.
type FileMeta struct {
	Path        string `json:"path"`
	Bytes       int64  `json:"bytes"`
	ModifiedUTC string `json:"modified_utc"`
	SHA256      string `json:"sha256,omitempty"`
}
