package reconcile

import (
	"time"

	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

// DefaultSystemAuthorID is the account id the remote store reports for
// worklogs without a real author.
const DefaultSystemAuthorID = "unknown"

// DefaultGraceDays keeps recent records actionable even before the cutoff.
const DefaultGraceDays = 3

// DropReason explains why a remote record was excluded from a run.
type DropReason string

const (
	DropSystemAuthored DropReason = "system-authored"
	DropBeforeCutoff   DropReason = "before-cutoff"
)

// Dropped is a remote record the filter excluded.
type Dropped struct {
	Record model.RemoteRecord
	Reason DropReason
}

// FilterOptions configures Filter. Zero values fall back to the defaults:
// system author "unknown", cutoff at the start of the previous calendar
// year, now = time.Now().
type FilterOptions struct {
	CurrentUserID   string
	SystemAuthorIDs []string
	Cutoff          time.Time
	GraceDays       int
	Now             time.Time
}

// DefaultFilterOptions returns the options used when nothing is configured.
func DefaultFilterOptions(currentUserID string) FilterOptions {
	return FilterOptions{
		CurrentUserID:   currentUserID,
		SystemAuthorIDs: []string{DefaultSystemAuthorID},
		GraceDays:       DefaultGraceDays,
	}
}

// Filter splits records into the actionable set and the dropped ones.
// System-authored records are always dropped. Records dated before the
// cutoff are dropped unless the current user wrote them or they fall within
// the grace window.
func Filter(records []model.RemoteRecord, opts FilterOptions) ([]model.RemoteRecord, []Dropped) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := opts.Cutoff
	if cutoff.IsZero() {
		cutoff = timecalc.StartOfPreviousYear(now)
	}
	system := opts.SystemAuthorIDs
	if system == nil {
		system = []string{DefaultSystemAuthorID}
	}
	grace := opts.GraceDays
	if grace < 0 {
		grace = 0
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	graceStart := today.AddDate(0, 0, -grace)

	var kept []model.RemoteRecord
	var dropped []Dropped
	for _, r := range records {
		if isSystem(r.AuthorID, system) {
			dropped = append(dropped, Dropped{Record: r, Reason: DropSystemAuthored})
			continue
		}
		day := timecalc.StartOfDay(r.Start)
		if day.Before(cutoff) {
			mine := opts.CurrentUserID != "" && r.AuthorID == opts.CurrentUserID
			recent := !day.Before(graceStart)
			if !mine && !recent {
				dropped = append(dropped, Dropped{Record: r, Reason: DropBeforeCutoff})
				continue
			}
		}
		kept = append(kept, r)
	}
	return kept, dropped
}

func isSystem(author string, system []string) bool {
	if author == "" {
		return true
	}
	for _, s := range system {
		if author == s {
			return true
		}
	}
	return false
}
