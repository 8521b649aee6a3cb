// Package csvio reads worklog CSV files into normalized entries and writes
// entries back in the same layout.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Canonical column names.
const (
	ColDate        = "date"
	ColStartTime   = "startTime"
	ColEndTime     = "endTime"
	ColIssue       = "issue"
	ColDescription = "description"
	ColHours       = "hours"
	ColDelete      = "delete"
)

// aliases maps lower-cased header spellings to canonical column names.
var aliases = map[string]string{
	"date":        ColDate,
	"day":         ColDate,
	"starttime":   ColStartTime,
	"start_time":  ColStartTime,
	"start":       ColStartTime,
	"endtime":     ColEndTime,
	"end_time":    ColEndTime,
	"end":         ColEndTime,
	"issue":       ColIssue,
	"issuekey":    ColIssue,
	"issue_key":   ColIssue,
	"key":         ColIssue,
	"description": ColDescription,
	"comment":     ColDescription,
	"hours":       ColHours,
	"duration":    ColHours,
	"delete":      ColDelete,
}

// RawRow is one CSV record keyed by canonical column name. Err is set when
// the record itself could not be parsed.
type RawRow struct {
	Line   int
	Fields map[string]string
	Err    error
}

// Get returns the trimmed value of a canonical column.
func (r RawRow) Get(col string) string {
	return strings.TrimSpace(r.Fields[col])
}

// Reader reads RawRows from a CSV stream whose first record is the header.
type Reader struct {
	csv     *csv.Reader
	columns []string
}

// NewReader consumes the header record. The date and issue columns are required.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv: empty input, expected a header row")
	}
	if err != nil {
		return nil, fmt.Errorf("csv: reading header: %w", err)
	}

	columns := make([]string, len(header))
	seen := map[string]bool{}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		name, ok := aliases[strings.ToLower(strings.TrimSpace(h))]
		if !ok {
			continue // unknown columns are ignored
		}
		columns[i] = name
		seen[name] = true
	}
	for _, req := range []string{ColDate, ColIssue} {
		if !seen[req] {
			return nil, fmt.Errorf("csv: header is missing required column %q", req)
		}
	}
	return &Reader{csv: cr, columns: columns}, nil
}

// Read returns the next row, or io.EOF after the last one. A malformed
// record is returned as a RawRow with Err set so callers can skip it and
// keep going.
func (r *Reader) Read() (RawRow, error) {
	for {
		rec, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return RawRow{}, io.EOF
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return RawRow{Line: pe.Line, Err: err}, nil
			}
			return RawRow{}, fmt.Errorf("csv: %w", err)
		}
		line, _ := r.csv.FieldPos(0)
		if blank(rec) {
			continue
		}
		row := RawRow{Line: line, Fields: make(map[string]string, len(r.columns))}
		for i, v := range rec {
			if i < len(r.columns) && r.columns[i] != "" {
				row.Fields[r.columns[i]] = v
			}
		}
		return row, nil
	}
}

// ReadAll reads every remaining row.
func ReadAll(src io.Reader) ([]RawRow, error) {
	r, err := NewReader(src)
	if err != nil {
		return nil, err
	}
	var rows []RawRow
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
