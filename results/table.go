// Package results writes benchmark rows to CSV tables and aggregates
// repeated runs.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// Table is an append-only CSV output file. Every Append is flushed and
// synced before it returns, so the rows survive a crash of the process.
type Table struct {
	path string
	f    *os.File
	w    *csv.Writer

	closeOnce sync.Once
	closeErr  error
}

// Create truncates path and writes header as its first row.
func Create(path string, header []string) (*Table, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create table %s: %w", path, err)
	}

	t := &Table{path: path, f: f, w: csv.NewWriter(f)}

	if _, err := t.Append(header); err != nil {
		f.Close()
		return nil, err
	}

	return t, nil
}

// Open reopens an existing table for appending after truncating it to
// offset bytes. Bytes past offset were written but never committed.
func Open(path string, offset int64) (*Table, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open table %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat table %s: %w", path, err)
	}

	if info.Size() < offset {
		f.Close()
		return nil, fmt.Errorf(
			"table %s has %d bytes, checkpoint expects at least %d",
			path, info.Size(), offset,
		)
	}

	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate table %s: %w", path, err)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek table %s: %w", path, err)
	}

	return &Table{path: path, f: f, w: csv.NewWriter(f)}, nil
}

// Path returns the file path of the table.
func (t *Table) Path() string {
	return t.path
}

// Append writes row and returns the table length after it.
func (t *Table) Append(row []string) (int64, error) {
	if err := t.w.Write(row); err != nil {
		return 0, fmt.Errorf("write row: %w", err)
	}

	t.w.Flush()
	if err := t.w.Error(); err != nil {
		return 0, fmt.Errorf("flush row: %w", err)
	}

	if err := t.f.Sync(); err != nil {
		return 0, fmt.Errorf("sync table: %w", err)
	}

	return t.Offset()
}

// Offset returns the current length of the table.
func (t *Table) Offset() (int64, error) {
	off, err := t.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("table offset: %w", err)
	}

	return off, nil
}

// Close closes the file. It is safe to call more than once.
func (t *Table) Close() error {
	t.closeOnce.Do(func() {
		t.w.Flush()
		t.closeErr = t.f.Close()
	})

	return t.closeErr
}

// FormatFloat renders a metric value for a table cell.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Row joins params and the formatted values into one table row.
func Row(params []string, values []float64) []string {
	row := make([]string, 0, len(params)+len(values))
	row = append(row, params...)

	for _, v := range values {
		row = append(row, FormatFloat(v))
	}

	return row
}
