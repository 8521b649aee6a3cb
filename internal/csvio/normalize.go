package csvio

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

// RowError reports a CSV row that was rejected during normalization.
type RowError struct {
	Line   int
	Reason string
	Err    error
}

func (e *RowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("row %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

func (e *RowError) Unwrap() error { return e.Err }

// Normalizer turns RawRows into model.Entry values.
type Normalizer struct {
	// DefaultStartTime applies to hours-only rows. Empty means model.DefaultStartTime.
	DefaultStartTime string
	Logger           *slog.Logger
}

func parseDeleteFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// Normalize converts one row. It never panics; every rejection is a *RowError.
func (n Normalizer) Normalize(row RawRow) (model.Entry, error) {
	if row.Err != nil {
		return model.Entry{}, &RowError{Line: row.Line, Reason: "malformed record", Err: row.Err}
	}

	date := row.Get(ColDate)
	issue := strings.ToUpper(row.Get(ColIssue))
	if date == "" {
		return model.Entry{}, &RowError{Line: row.Line, Reason: "missing date"}
	}
	if issue == "" {
		return model.Entry{}, &RowError{Line: row.Line, Reason: "missing issue key"}
	}
	if _, err := timecalc.ParseDate(date); err != nil {
		return model.Entry{}, &RowError{Line: row.Line, Reason: "bad date", Err: err}
	}

	e := model.Entry{
		Row:          row.Line,
		Date:         date,
		IssueKey:     issue,
		Description:  row.Get(ColDescription),
		ShouldDelete: parseDeleteFlag(row.Get(ColDelete)),
	}

	startRaw := row.Get(ColStartTime)
	endRaw := row.Get(ColEndTime)
	hoursRaw := row.Get(ColHours)

	switch {
	case startRaw != "" && endRaw != "":
		start, err := timecalc.ParseInstant(date, startRaw)
		if err != nil {
			return model.Entry{}, &RowError{Line: row.Line, Reason: "bad start time", Err: err}
		}
		end, err := timecalc.ParseInstant(date, endRaw)
		if err != nil {
			return model.Entry{}, &RowError{Line: row.Line, Reason: "bad end time", Err: err}
		}
		hours, err := timecalc.DurationHours(start, end)
		if err != nil {
			return model.Entry{}, &RowError{Line: row.Line, Reason: "bad time range", Err: err}
		}
		e.StartTime, e.EndTime = startRaw, endRaw
		e.Start, e.End = start, end
		e.DurationHours = hours

	case hoursRaw != "":
		hours, err := strconv.ParseFloat(strings.ReplaceAll(hoursRaw, ",", "."), 64)
		if err != nil {
			return model.Entry{}, &RowError{Line: row.Line, Reason: "hours is not a number", Err: err}
		}
		hours = timecalc.RoundQuarter(hours)
		if hours <= 0 {
			return model.Entry{}, &RowError{Line: row.Line, Reason: fmt.Sprintf("hours %q rounds to zero or less", hoursRaw)}
		}
		if startRaw == "" {
			startRaw = n.defaultStart()
		}
		start, err := timecalc.ParseInstant(date, startRaw)
		if err != nil {
			return model.Entry{}, &RowError{Line: row.Line, Reason: "bad start time", Err: err}
		}
		end := start.Add(time.Duration(timecalc.HoursToSeconds(hours)) * time.Second)
		if !timecalc.SameDay(start, end.Add(-time.Nanosecond)) {
			return model.Entry{}, &RowError{Line: row.Line, Reason: "entry crosses midnight"}
		}
		e.StartTime, e.EndTime = startRaw, end.Format(timecalc.ClockLayout)
		e.Start, e.End = start, end
		e.DurationHours = hours

	case e.ShouldDelete && startRaw != "":
		// A delete row only needs enough to find its remote record.
		start, err := timecalc.ParseInstant(date, startRaw)
		if err != nil {
			return model.Entry{}, &RowError{Line: row.Line, Reason: "bad start time", Err: err}
		}
		e.StartTime, e.EndTime = startRaw, startRaw
		e.Start, e.End = start, start

	default:
		return model.Entry{}, &RowError{Line: row.Line, Reason: "needs startTime and endTime, or hours"}
	}

	return e, nil
}

func (n Normalizer) defaultStart() string {
	if n.DefaultStartTime != "" {
		return n.DefaultStartTime
	}
	return model.DefaultStartTime
}

// NormalizeAll normalizes every row, logging and collecting the rejects.
func (n Normalizer) NormalizeAll(rows []RawRow) ([]model.Entry, []*RowError) {
	log := n.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	var entries []model.Entry
	var skipped []*RowError
	for _, row := range rows {
		e, err := n.Normalize(row)
		if err != nil {
			var re *RowError
			if !errors.As(err, &re) {
				re = &RowError{Line: row.Line, Reason: "rejected", Err: err}
			}
			log.Warn("skipping row", "row", re.Line, "reason", re.Reason, "err", re.Err)
			skipped = append(skipped, re)
			continue
		}
		entries = append(entries, e)
	}
	return entries, skipped
}
