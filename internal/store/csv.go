package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
)

// columns returns the stable header order for a set of rows: the fixed
// schema columns first, then any extra (unknown/newer) columns observed
// across the rows, sorted, so the header is deterministic regardless of
// map iteration order.
func columns(rows []Row) []string {
	extra := map[string]bool{}
	fixed := map[string]bool{}
	for _, c := range FixedColumns {
		fixed[c] = true
	}
	for _, row := range rows {
		for k := range row {
			if !fixed[k] {
				extra[k] = true
			}
		}
	}
	extraSorted := make([]string, 0, len(extra))
	for k := range extra {
		extraSorted = append(extraSorted, k)
	}
	sort.Strings(extraSorted)
	return append(append([]string{}, FixedColumns...), extraSorted...)
}

// writeCSV writes rows to path as RFC-4180 CSV with a header row,
// UTF-8, LF line endings. encoding/csv escapes embedded
// commas/newlines/quotes natively.
func writeCSV(path string, rows []Row) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("store: create %s: %w", tmp, err)
	}
	w := csv.NewWriter(f)
	w.UseCRLF = false

	cols := columns(rows)
	if err := w.Write(cols); err != nil {
		f.Close()
		return fmt.Errorf("store: write header: %w", err)
	}
	for _, row := range rows {
		rec := make([]string, len(cols))
		for i, c := range cols {
			rec[i] = row[c]
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("store: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("store: flush: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return os.Rename(tmp, path)
}

// readCSV reads an RFC-4180 CSV file into an ordered slice of Rows. A
// missing file yields an empty slice, not an error, so session/master
// creation can always call readCSV first.
func readCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate widening schemas across file versions

	header, err := r.Read()
	if err != nil {
		if err.Error() == "EOF" {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read header: %w", err)
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if err != nil {
			break // EOF or malformed trailing line; stop tolerant of partial writes
		}
		row := Row{}
		for i, v := range rec {
			if i >= len(header) {
				break
			}
			if v != "" {
				row[header[i]] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
