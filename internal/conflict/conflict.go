// Package conflict detects overlapping worklogs, both inside a CSV batch
// and between the batch and what the remote store already holds.
package conflict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

// ConflictError aborts a run whose CSV contains overlapping entries.
type ConflictError struct {
	Reports []model.ConflictReport
}

func (e *ConflictError) Error() string {
	lines := make([]string, 0, len(e.Reports))
	for _, r := range e.Reports {
		lines = append(lines, "  "+r.Message)
	}
	return fmt.Sprintf("%d overlapping entries in input:\n%s", len(e.Reports), strings.Join(lines, "\n"))
}

func describe(e model.Entry) string {
	return fmt.Sprintf("row %d (%s %s %s-%s)", e.Row, e.IssueKey, e.Date, e.StartTime, e.EndTime)
}

// Internal returns one report per overlapping pair of entries on the same
// date. Delete rows are ignored. Two entries with identical start, end and
// issue key are duplicates, not a conflict.
func Internal(entries []model.Entry) []model.ConflictReport {
	byDate := map[string][]model.Entry{}
	var dates []string
	for _, e := range entries {
		if e.ShouldDelete {
			continue
		}
		if _, ok := byDate[e.Date]; !ok {
			dates = append(dates, e.Date)
		}
		byDate[e.Date] = append(byDate[e.Date], e)
	}
	sort.Strings(dates)

	var reports []model.ConflictReport
	for _, d := range dates {
		day := byDate[d]
		sort.SliceStable(day, func(i, j int) bool { return day[i].Start.Before(day[j].Start) })
		for i := 0; i < len(day); i++ {
			for j := i + 1; j < len(day); j++ {
				a, b := day[i], day[j]
				if !timecalc.Overlaps(a.Start, a.End, b.Start, b.End) {
					continue
				}
				if a.StartTime == b.StartTime && a.EndTime == b.EndTime && a.IssueKey == b.IssueKey {
					continue
				}
				other := b
				reports = append(reports, model.ConflictReport{
					Entry:   a,
					Other:   &other,
					Overlap: rangeOverlap(a.StartTime == b.StartTime && a.EndTime == b.EndTime),
					Message: fmt.Sprintf("%s overlaps %s", describe(a), describe(b)),
				})
			}
		}
	}
	return reports
}

// CheckInternal returns a *ConflictError when Internal reports anything.
func CheckInternal(entries []model.Entry) error {
	if reports := Internal(entries); len(reports) > 0 {
		return &ConflictError{Reports: reports}
	}
	return nil
}

// ExactSame reports whether r is the stored form of e: same start, same
// stored end and the same known issue key.
func ExactSame(e model.Entry, r model.RemoteRecord) bool {
	return r.KeyKnown() &&
		r.IssueKey == e.IssueKey &&
		r.Start.Equal(e.Start) &&
		r.End().Equal(e.StoredEnd())
}

// External reports every remote record overlapping an entry, except records
// that are exactly the same worklog as that entry or as another entry of the
// batch. The reports are informational; the classifier decides what to do
// with them.
func External(entries []model.Entry, records []model.RemoteRecord) []model.ConflictReport {
	byDate := map[string][]model.RemoteRecord{}
	for _, r := range records {
		byDate[r.Date] = append(byDate[r.Date], r)
	}
	kept := map[string]bool{}
	for _, e := range entries {
		if e.ShouldDelete {
			continue
		}
		for _, r := range byDate[e.Date] {
			if ExactSame(e, r) {
				kept[r.ID] = true
			}
		}
	}

	var reports []model.ConflictReport
	for _, e := range entries {
		if e.ShouldDelete {
			continue
		}
		for _, r := range byDate[e.Date] {
			if kept[r.ID] || !timecalc.Overlaps(e.Start, e.End, r.Start, r.End()) {
				continue
			}
			rec := r
			reports = append(reports, model.ConflictReport{
				Entry:   e,
				Record:  &rec,
				Overlap: rangeOverlap(r.Start.Equal(e.Start) && r.End().Equal(e.StoredEnd())),
				Message: fmt.Sprintf("%s overlaps remote worklog %s (%s %s %s)",
					describe(e), r.ID, r.IssueKey, r.StartTime, timecalc.FormatDuration(r.DurationSeconds)),
			})
		}
	}
	return reports
}

func rangeOverlap(same bool) model.OverlapType {
	if same {
		return model.OverlapExact
	}
	return model.OverlapPartial
}
