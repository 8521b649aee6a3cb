// Package testutil holds fixtures and fakes shared by package tests.
package testutil

import (
	"time"

	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

// Entry builds a normalized entry; it panics on malformed input since
// fixtures are static.
func Entry(row int, date, start, end, issue string) model.Entry {
	s := mustInstant(date, start)
	e := mustInstant(date, end)
	hours, err := timecalc.DurationHours(s, e)
	if err != nil {
		panic(err)
	}
	return model.Entry{
		Row:           row,
		Date:          date,
		StartTime:     start,
		EndTime:       end,
		Start:         s,
		End:           e,
		DurationHours: hours,
		IssueKey:      issue,
	}
}

// DeleteEntry builds a delete row for the given key.
func DeleteEntry(row int, date, start, issue string) model.Entry {
	s := mustInstant(date, start)
	return model.Entry{
		Row:          row,
		Date:         date,
		StartTime:    start,
		EndTime:      start,
		Start:        s,
		End:          s,
		IssueKey:     issue,
		ShouldDelete: true,
	}
}

// Record builds a remote record spanning [start, end).
func Record(id, issue, date, start, end string) model.RemoteRecord {
	s := mustInstant(date, start)
	e := mustInstant(date, end)
	return model.RemoteRecord{
		ID:              id,
		IssueKey:        issue,
		Date:            date,
		StartTime:       start,
		Start:           s,
		DurationSeconds: int64(e.Sub(s) / time.Second),
		AuthorID:        "me",
		CreatedAt:       s,
	}
}

func mustInstant(date, clock string) time.Time {
	t, err := timecalc.ParseInstant(date, clock)
	if err != nil {
		panic(err)
	}
	return t
}
