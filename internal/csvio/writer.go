package csvio

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/Tiliavir/tempo-booker/internal/model"
)

var exportHeader = []string{ColDate, ColStartTime, ColEndTime, ColIssue, ColDescription, ColHours}

// Writer writes entries in the layout Reader accepts.
type Writer struct {
	csv         *csv.Writer
	wroteHeader bool
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// Write appends one entry, emitting the header first if needed.
func (w *Writer) Write(e model.Entry) error {
	if !w.wroteHeader {
		if err := w.csv.Write(exportHeader); err != nil {
			return err
		}
		w.wroteHeader = true
	}
	return w.csv.Write([]string{
		e.Date,
		e.StartTime,
		e.EndTime,
		e.IssueKey,
		e.Description,
		strconv.FormatFloat(e.DurationHours, 'f', -1, 64),
	})
}

// Flush writes buffered data and reports any write error. An empty export
// still gets a header.
func (w *Writer) Flush() error {
	if !w.wroteHeader {
		if err := w.csv.Write(exportHeader); err != nil {
			return err
		}
		w.wroteHeader = true
	}
	w.csv.Flush()
	return w.csv.Error()
}
