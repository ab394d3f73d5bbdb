// Package dataset parses the canonical evaluation CSV layout:
//
//	row 0: baseline ground-truth type per column (or empty)
//	row 1: custom ground-truth type per column (or empty)
//	row 2: column header names
//	row 3+: data values
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FormatError reports a dataset file that does not follow the canonical layout.
type FormatError struct {
	File   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("dataset %s: %s", e.File, e.Reason)
}

// Row maps column name to a cell value. A nil value means the cell was
// empty, whitespace-only, or the literal "nan".
type Row map[string]*string

// Dataset is the parsed form of one evaluation file.
type Dataset struct {
	Name    string
	Headers []string
	Rows    []Row

	// BaselineTruth and CustomTruth map column name to the expected type
	// label for the built-in and generated classifier tracks respectively.
	BaselineTruth map[string]string
	CustomTruth   map[string]string
}

// Load reads and parses a dataset file. The dataset name is the file stem.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(f, name)
}

// Parse reads the canonical layout from r. It is a pure function of the
// file contents; name is used only for error messages and the result.
func Parse(r io.Reader, name string) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, &FormatError{File: name, Reason: fmt.Sprintf("read csv: %v", err)}
	}
	if len(records) < 4 {
		return nil, &FormatError{File: name, Reason: fmt.Sprintf("expected at least 4 rows (baseline truth, custom truth, headers, data), got %d", len(records))}
	}

	baselineRow := records[0]
	customRow := records[1]
	headerRow := records[2]
	dataRows := records[3:]

	// Columns with empty or "nan" headers are dropped entirely, including
	// their ground-truth and data cells.
	type column struct {
		idx  int
		name string
	}
	var columns []column
	for i, h := range headerRow {
		h = strings.TrimSpace(h)
		if h == "" || strings.EqualFold(h, "nan") {
			continue
		}
		columns = append(columns, column{idx: i, name: h})
	}
	if len(columns) == 0 {
		return nil, &FormatError{File: name, Reason: "no usable column headers"}
	}

	ds := &Dataset{
		Name:          name,
		Headers:       make([]string, 0, len(columns)),
		BaselineTruth: make(map[string]string),
		CustomTruth:   make(map[string]string),
	}
	for _, c := range columns {
		ds.Headers = append(ds.Headers, c.name)
		if label, ok := truthLabel(baselineRow, c.idx); ok {
			ds.BaselineTruth[c.name] = label
		}
		if label, ok := truthLabel(customRow, c.idx); ok {
			ds.CustomTruth[c.name] = label
		}
	}

	ds.Rows = make([]Row, 0, len(dataRows))
	for _, rec := range dataRows {
		row := make(Row, len(columns))
		for _, c := range columns {
			row[c.name] = cellValue(rec, c.idx)
		}
		ds.Rows = append(ds.Rows, row)
	}

	return ds, nil
}

// truthLabel normalizes one ground-truth cell. Labels that repeat across
// columns carry a disambiguating ".1"/".2"/".3" suffix; those are truncated
// back to the base label.
func truthLabel(row []string, idx int) (string, bool) {
	if idx >= len(row) {
		return "", false
	}
	v := strings.TrimSpace(row[idx])
	if v == "" || strings.EqualFold(v, "nan") {
		return "", false
	}
	for _, suffix := range []string{".1", ".2", ".3"} {
		if strings.Contains(v, suffix) {
			if dot := strings.Index(v, "."); dot >= 0 {
				v = v[:dot]
			}
			break
		}
	}
	if v == "" {
		return "", false
	}
	return v, true
}

func cellValue(rec []string, idx int) *string {
	if idx >= len(rec) {
		return nil
	}
	v := rec[idx]
	if strings.TrimSpace(v) == "" || strings.EqualFold(strings.TrimSpace(v), "nan") {
		return nil
	}
	return &v
}
