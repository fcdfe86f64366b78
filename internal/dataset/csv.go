package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrEmptyCSV = errors.New("dataset: csv has no header row")

// ReadCSV parses a CSV stream into a Dataset. The delimiter is sniffed
// from the header line (comma, semicolon, or tab), a UTF-8 BOM is
// stripped, and ragged rows are tolerated by padding or truncating to
// the header width.
func ReadCSV(r io.Reader) (*Dataset, error) {
	br := bufio.NewReader(r)

	// Strip UTF-8 BOM if present.
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		br.Discard(3)
	}

	headerLine, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("dataset: reading header: %w", err)
	}
	if strings.TrimSpace(headerLine) == "" {
		return nil, ErrEmptyCSV
	}

	delim := sniffDelimiter(headerLine)

	cr := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), br))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("dataset: parsing header: %w", err)
	}
	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = strings.TrimSpace(h)
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: parsing row %d: %w", len(records)+2, err)
		}
		records = append(records, rec)
	}

	return NewDataset(headers, records), nil
}

// sniffDelimiter picks the separator appearing most often in the header
// line, defaulting to comma.
func sniffDelimiter(header string) rune {
	best, bestCount := ',', strings.Count(header, ",")
	for _, c := range []rune{';', '\t'} {
		if n := strings.Count(header, string(c)); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// WriteCSV exports rows with an explicit column selection. Columns not
// present in a row emit empty cells. An empty selection exports all
// dataset headers in order.
func WriteCSV(w io.Writer, ds *Dataset, columns []string, rows []Row) error {
	if len(columns) == 0 {
		columns = ds.Headers
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("dataset: writing header: %w", err)
	}
	rec := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			rec[i] = row.Values[col]
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("dataset: writing row %d: %w", row.Index, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
