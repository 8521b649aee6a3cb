// Package reconcile brings the remote worklog store in line with a CSV
// batch: it filters the remote snapshot, classifies every entry into an
// operation and executes the resulting plan.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tiliavir/tempo-booker/internal/conflict"
	"github.com/Tiliavir/tempo-booker/internal/csvio"
	"github.com/Tiliavir/tempo-booker/internal/issuekey"
	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

// DateWindow is an inclusive range of calendar days.
type DateWindow struct {
	From time.Time `json:"from" yaml:"from"`
	To   time.Time `json:"to" yaml:"to"`
}

// Contains reports whether the entry's date lies inside the window.
func (w DateWindow) Contains(e model.Entry) bool {
	day := timecalc.StartOfDay(e.Start)
	return !day.Before(timecalc.StartOfDay(w.From)) && !day.After(timecalc.StartOfDay(w.To))
}

// Options tune a single run.
type Options struct {
	// Window overrides the date range derived from the entries.
	Window *DateWindow
	// DryRun stops after classification.
	DryRun bool
}

// Summary is the per-bag outcome of a run. On a dry run the counts are
// what would be done.
type Summary struct {
	Added     int     `json:"added" yaml:"added"`
	Updated   int     `json:"updated" yaml:"updated"`
	Deleted   int     `json:"deleted" yaml:"deleted"`
	Replaced  int     `json:"replaced" yaml:"replaced"`
	Unchanged int     `json:"unchanged" yaml:"unchanged"`
	Skipped   int     `json:"skipped" yaml:"skipped"`
	Failed    int     `json:"failed" yaml:"failed"`
	Errors    []error `json:"-" yaml:"-"`
}

// Result is everything a run produced.
type Result struct {
	Window     DateWindow             `json:"window" yaml:"window"`
	Skipped    []*csvio.RowError      `json:"-" yaml:"-"`
	Duplicates []model.Entry          `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
	Dropped    []Dropped              `json:"-" yaml:"-"`
	Conflicts  []model.ConflictReport `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Plan       model.OperationSet     `json:"plan" yaml:"plan"`
	Execution  *Execution             `json:"execution,omitempty" yaml:"execution,omitempty"`
	Summary    Summary                `json:"summary" yaml:"summary"`
}

// Reconciler wires the pipeline stages together. Build one per run so the
// resolver cache does not outlive it.
type Reconciler struct {
	Store      RemoteStore
	Resolver   *issuekey.Resolver
	Normalizer csvio.Normalizer
	Filter     FilterOptions
	Executor   *Executor
	Logger     *slog.Logger
}

// Run reconciles rows against the remote store. A *conflict.ConflictError
// is returned before any remote call when the rows overlap each other.
func (rc *Reconciler) Run(ctx context.Context, rows []csvio.RawRow, opts Options) (*Result, error) {
	log := rc.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	res := &Result{}

	norm := rc.Normalizer
	if norm.Logger == nil {
		norm.Logger = log
	}
	entries, skipped := norm.NormalizeAll(rows)
	res.Skipped = skipped

	entries, res.Duplicates = dedupe(entries)
	for _, d := range res.Duplicates {
		log.Warn("ignoring duplicate row", "row", d.Row, "issue", d.IssueKey, "date", d.Date)
	}

	if err := conflict.CheckInternal(entries); err != nil {
		res.Summary = summarize(res)
		return res, err
	}

	entries = rc.resolve(ctx, entries, res, log)

	if opts.Window != nil {
		res.Window = *opts.Window
		var inside []model.Entry
		for _, e := range entries {
			if !res.Window.Contains(e) {
				res.Skipped = append(res.Skipped, &csvio.RowError{Line: e.Row, Reason: "outside date window"})
				continue
			}
			inside = append(inside, e)
		}
		entries = inside
	} else {
		res.Window = spanOf(entries)
	}

	if len(entries) == 0 {
		log.Info("nothing to reconcile")
		res.Summary = summarize(res)
		return res, nil
	}

	records, err := rc.Store.FetchRecords(ctx, res.Window.From, res.Window.To)
	if err != nil {
		res.Summary = summarize(res)
		return res, fmt.Errorf("fetching remote worklogs: %w", err)
	}

	filter := rc.Filter
	if filter.Now.IsZero() {
		filter.Now = time.Now()
	}
	kept, dropped := Filter(records, filter)
	res.Dropped = dropped
	for _, d := range dropped {
		log.Debug("ignoring remote worklog", "remote_id", d.Record.ID, "reason", d.Reason)
	}

	for i := range kept {
		if !kept[i].KeyKnown() {
			kept[i].IssueKey = rc.Resolver.RecoverKey(ctx, kept[i])
		}
	}

	res.Conflicts = conflict.External(entries, kept)
	for _, c := range res.Conflicts {
		log.Info("remote overlap", "row", c.Entry.Row, "remote_id", c.Record.ID, "overlap", c.Overlap)
	}

	res.Plan = Classify(entries, kept)
	for _, u := range res.Plan.Unmatched {
		log.Info("nothing to delete", "row", u.Row, "issue", u.IssueKey, "date", u.Date)
	}

	if !opts.DryRun && res.Plan.Pending() > 0 {
		res.Execution = rc.Executor.Execute(ctx, res.Plan)
	}
	res.Summary = summarize(res)
	return res, nil
}

// Apply executes the plan of a dry-run result, so a plan can be shown and
// confirmed before anything is written.
func (rc *Reconciler) Apply(ctx context.Context, res *Result) {
	if res.Execution == nil && res.Plan.Pending() > 0 {
		res.Execution = rc.Executor.Execute(ctx, res.Plan)
	}
	res.Summary = summarize(res)
}

// resolve attaches issue ids. Entries whose key cannot be resolved are
// skipped; delete rows need no id.
func (rc *Reconciler) resolve(ctx context.Context, entries []model.Entry, res *Result, log *slog.Logger) []model.Entry {
	out := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if e.ShouldDelete {
			out = append(out, e)
			continue
		}
		is, err := rc.Resolver.Resolve(ctx, e.IssueKey)
		if err != nil {
			log.Warn("skipping row", "row", e.Row, "issue", e.IssueKey, "err", err)
			res.Skipped = append(res.Skipped, &csvio.RowError{Line: e.Row, Reason: "unresolved issue", Err: err})
			continue
		}
		out = append(out, e.WithIssueID(is.ID))
	}
	return out
}

// dedupe drops rows repeating an earlier row's date, times, issue and
// delete flag.
func dedupe(entries []model.Entry) ([]model.Entry, []model.Entry) {
	type ident struct {
		key      model.ExactKey
		end      string
		isDelete bool
	}
	seen := map[ident]bool{}
	var out, dups []model.Entry
	for _, e := range entries {
		id := ident{key: e.Key(), end: e.EndTime, isDelete: e.ShouldDelete}
		if seen[id] {
			dups = append(dups, e)
			continue
		}
		seen[id] = true
		out = append(out, e)
	}
	return out, dups
}

func spanOf(entries []model.Entry) DateWindow {
	var w DateWindow
	for i, e := range entries {
		day := timecalc.StartOfDay(e.Start)
		if i == 0 || day.Before(w.From) {
			w.From = day
		}
		if i == 0 || day.After(w.To) {
			w.To = day
		}
	}
	return w
}

func summarize(res *Result) Summary {
	s := Summary{
		Skipped:   len(res.Skipped),
		Unchanged: len(res.Plan.NoChange),
	}
	for _, sk := range res.Skipped {
		s.Errors = append(s.Errors, sk)
	}
	if res.Execution == nil {
		s.Added = len(res.Plan.Add)
		s.Updated = len(res.Plan.Update)
		s.Deleted = len(res.Plan.Delete)
		s.Replaced = len(res.Plan.Replace)
		return s
	}
	x := res.Execution
	s.Added = x.Add.Succeeded
	s.Updated = x.Update.Succeeded
	s.Deleted = x.Delete.Succeeded
	s.Replaced = x.Replace.Succeeded
	for _, f := range x.Failures() {
		s.Failed++
		s.Errors = append(s.Errors, fmt.Errorf("%s row %d (%s): %w", f.Bag, f.Entry.Row, f.Entry.IssueKey, f.Err))
	}
	if x.NotAttempted > 0 {
		s.Errors = append(s.Errors, fmt.Errorf("%d operations not attempted: %w", x.NotAttempted, context.Canceled))
	}
	return s
}
