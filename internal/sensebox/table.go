package sensebox

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Table is a CSV file held in memory. Missing cells are empty strings.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of name in the header, or -1.
func (t Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Empty reports whether the table has neither columns nor rows.
func (t Table) Empty() bool {
	return len(t.Header) == 0 && len(t.Rows) == 0
}

// ReadTable loads a CSV file. A zero-byte file yields an empty table.
// Short rows are padded; rows longer than the header are rejected.
func ReadTable(fs afero.Fs, path string) (Table, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Table{}, &FileIOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, &FileIOError{Op: "parse", Path: path, Err: err}
	}

	t := Table{Header: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, &FileIOError{Op: "parse", Path: path, Err: err}
		}
		if len(rec) > len(header) {
			line, _ := r.FieldPos(0)
			return Table{}, &FileIOError{
				Op:   "parse",
				Path: path,
				Err:  fmt.Errorf("line %d: %d fields, header has %d", line, len(rec), len(header)),
			}
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// WriteTable writes t to path, replacing any existing file.
func WriteTable(fs afero.Fs, path string, t Table) error {
	f, err := fs.Create(path)
	if err != nil {
		return &FileIOError{Op: "create", Path: path, Err: err}
	}

	w := csv.NewWriter(f)
	if len(t.Header) > 0 {
		if err := w.Write(t.Header); err != nil {
			_ = f.Close()
			return &FileIOError{Op: "write", Path: path, Err: err}
		}
	}
	if err := w.WriteAll(t.Rows); err != nil {
		_ = f.Close()
		return &FileIOError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &FileIOError{Op: "close", Path: path, Err: err}
	}
	return nil
}

// Concat stacks tables row-wise. The result's columns are the union of all
// headers in first-seen order; cells a source table lacks are left empty and
// cells beyond a row's header are dropped.
func Concat(tables ...Table) Table {
	var out Table
	index := make(map[string]int)
	for _, t := range tables {
		for _, h := range t.Header {
			if _, ok := index[h]; !ok {
				index[h] = len(out.Header)
				out.Header = append(out.Header, h)
			}
		}
	}

	for _, t := range tables {
		for _, row := range t.Rows {
			merged := make([]string, len(out.Header))
			for i, cell := range row {
				if i >= len(t.Header) {
					break
				}
				merged[index[t.Header[i]]] = cell
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}
