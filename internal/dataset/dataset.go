// Package dataset provides the columnar lead dataset model shared by the
// qualification pipeline: rows keyed by header name, CSV ingest/export,
// and multivalue cell handling.
package dataset

import (
	"strings"
)

// Row is a single lead record. Index is the row's stable position in
// the source dataset; it identifies the row across pause/resume cycles.
type Row struct {
	Index  int
	Values map[string]string
}

// Get returns the trimmed cell value for a column, or "" if absent.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r.Values[column])
}

// Dataset is an ordered collection of rows sharing one header set.
type Dataset struct {
	Headers []string
	Rows    []Row
}

// NewDataset builds a dataset from headers and raw records. Records are
// padded or truncated to the header width.
func NewDataset(headers []string, records [][]string) *Dataset {
	ds := &Dataset{Headers: headers, Rows: make([]Row, 0, len(records))}
	for i, rec := range records {
		values := make(map[string]string, len(headers))
		for j, h := range headers {
			if j < len(rec) {
				values[h] = rec[j]
			} else {
				values[h] = ""
			}
		}
		ds.Rows = append(ds.Rows, Row{Index: i, Values: values})
	}
	return ds
}

// HasColumn reports whether the dataset carries the given header.
func (d *Dataset) HasColumn(name string) bool {
	for _, h := range d.Headers {
		if h == name {
			return true
		}
	}
	return false
}

// SplitMultivalue splits a multivalue cell on ';' and ',', trims each
// token, drops empties, and dedupes case-insensitively while preserving
// the first-seen casing.
func SplitMultivalue(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == ','
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		key := strings.ToLower(f)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

// JoinMultivalue renders tokens back into a cell value.
func JoinMultivalue(tokens []string) string {
	return strings.Join(tokens, "; ")
}
