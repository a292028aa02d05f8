package source

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/starford/maizedata/internal/storage"
)

// frame is a column-aligned table. Rows appended with a different column set
// are realigned by column name; new columns are added in first-seen order.
type frame struct {
	cols  []string
	index map[string]int
	rows  [][]string
}

func newFrame() *frame {
	return &frame{index: map[string]int{}}
}

func (f *frame) column(name string) int {
	if i, ok := f.index[name]; ok {
		return i
	}
	f.index[name] = len(f.cols)
	f.cols = append(f.cols, name)
	return len(f.cols) - 1
}

// append adds one row whose values are labelled by cols.
func (f *frame) append(cols, values []string) {
	row := make([]string, len(f.cols))
	for i, c := range cols {
		if i >= len(values) {
			break
		}
		j := f.column(c)
		for len(row) <= j {
			row = append(row, "")
		}
		row[j] = values[i]
	}
	f.rows = append(f.rows, row)
}

func (f *frame) len() int { return len(f.rows) }

// records returns header plus rows, padded to the full column count.
func (f *frame) records() [][]string {
	out := make([][]string, 0, len(f.rows)+1)
	out = append(out, f.cols)
	for _, r := range f.rows {
		if len(r) < len(f.cols) {
			padded := make([]string, len(f.cols))
			copy(padded, r)
			r = padded
		}
		out = append(out, r)
	}
	return out
}

// dedupeLast drops rows that repeat an earlier row's values in keys, keeping
// the last occurrence. Keys missing from the frame are ignored.
func (f *frame) dedupeLast(keys ...string) {
	var idx []int
	for _, k := range keys {
		if i, ok := f.index[k]; ok {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return
	}
	keyOf := func(r []string) string {
		parts := make([]string, len(idx))
		for n, i := range idx {
			if i < len(r) {
				parts[n] = r[i]
			}
		}
		return strings.Join(parts, "\x1f")
	}
	last := make(map[string]int, len(f.rows))
	for i, r := range f.rows {
		last[keyOf(r)] = i
	}
	kept := f.rows[:0:0]
	for i, r := range f.rows {
		if last[keyOf(r)] == i {
			kept = append(kept, r)
		}
	}
	f.rows = kept
}

// writeCSV encodes the frame and writes it atomically to name.
func writeCSV(dst storage.Provider, name string, f *frame) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(f.records()); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := dst.Write(name, buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// readCSV parses data into its header and data rows. Ragged rows are allowed.
func readCSV(data []byte) ([]string, [][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header, records[1:], nil
}
