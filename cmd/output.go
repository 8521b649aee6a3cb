package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/reconcile"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	})
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	})
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	})
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	})
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	})
	boldStyle = lipgloss.NewStyle().Bold(true)
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown --output %q (want text, json or yaml)", format)
}

type windowView struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

type failureView struct {
	Bag      model.Bag `json:"bag" yaml:"bag"`
	Row      int       `json:"row" yaml:"row"`
	IssueKey string    `json:"issue_key" yaml:"issue_key"`
	RemoteID string    `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	Error    string    `json:"error" yaml:"error"`
}

// importReport is the machine-readable form of an import.
type importReport struct {
	Source       string                 `json:"source" yaml:"source"`
	DryRun       bool                   `json:"dry_run" yaml:"dry_run"`
	Window       *windowView            `json:"window,omitempty" yaml:"window,omitempty"`
	Summary      reconcile.Summary      `json:"summary" yaml:"summary"`
	Plan         model.OperationSet     `json:"plan" yaml:"plan"`
	Duplicates   []model.Entry          `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
	Conflicts    []model.ConflictReport `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Skipped      []string               `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Failures     []failureView          `json:"failures,omitempty" yaml:"failures,omitempty"`
	NotAttempted int                    `json:"not_attempted,omitempty" yaml:"not_attempted,omitempty"`
	RunID        string                 `json:"run_id,omitempty" yaml:"run_id,omitempty"`
}

func newImportReport(source string, res *reconcile.Result, dryRun bool, runID string) importReport {
	rep := importReport{
		Source:     source,
		DryRun:     dryRun,
		Summary:    res.Summary,
		Plan:       res.Plan,
		Duplicates: res.Duplicates,
		Conflicts:  res.Conflicts,
		RunID:      runID,
	}
	if !res.Window.From.IsZero() {
		rep.Window = &windowView{
			From: res.Window.From.Format(timecalc.DateLayout),
			To:   res.Window.To.Format(timecalc.DateLayout),
		}
	}
	for _, s := range res.Skipped {
		rep.Skipped = append(rep.Skipped, s.Error())
	}
	if x := res.Execution; x != nil {
		rep.NotAttempted = x.NotAttempted
		for _, f := range x.Failures() {
			rep.Failures = append(rep.Failures, failureView{
				Bag:      f.Bag,
				Row:      f.Entry.Row,
				IssueKey: f.Entry.IssueKey,
				RemoteID: f.RemoteID,
				Error:    f.Err.Error(),
			})
		}
	}
	return rep
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return checkOutput(format)
}

func entryLine(e model.Entry) string {
	return fmt.Sprintf("%s %s-%s  %-10s %6s  %s",
		e.Date, e.StartTime, e.EndTime, e.IssueKey,
		timecalc.FormatDuration(e.DurationSeconds()), e.Description)
}

func remoteIDs(records []model.RemoteRecord) string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return strings.Join(ids, ", ")
}

// printPlan lists what a run would change, grouped in execution order.
func printPlan(w io.Writer, res *reconcile.Result) {
	if !res.Window.From.IsZero() {
		fmt.Fprintf(w, "%s %s .. %s\n", boldStyle.Render("Window"),
			res.Window.From.Format(timecalc.DateLayout), res.Window.To.Format(timecalc.DateLayout))
	}
	p := res.Plan
	for _, m := range p.Delete {
		fmt.Fprintf(w, "  %s %s %s\n", failStyle.Render("- delete "), entryLine(m.Entry),
			mutedStyle.Render("(remote "+m.Record.ID+")"))
	}
	for _, r := range p.Replace {
		fmt.Fprintf(w, "  %s %s %s\n", warnStyle.Render("> replace"), entryLine(r.Entry),
			mutedStyle.Render("(replaces "+remoteIDs(r.Conflicting)+")"))
	}
	for _, e := range p.Add {
		fmt.Fprintf(w, "  %s %s\n", passStyle.Render("+ add    "), entryLine(e))
	}
	for _, m := range p.Update {
		fmt.Fprintf(w, "  %s %s %s\n", accentStyle.Render("~ update "), entryLine(m.Entry),
			mutedStyle.Render("(remote "+m.Record.ID+")"))
	}
	for _, e := range p.Unmatched {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("? no match"), entryLine(e))
	}
	if n := len(p.NoChange); n > 0 {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  = %d unchanged", n)))
	}
	for _, c := range res.Conflicts {
		fmt.Fprintln(w, mutedStyle.Render("  overlap: "+c.Message))
	}
	for _, d := range res.Duplicates {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("  duplicate row %d ignored", d.Row)))
	}
	for _, s := range res.Skipped {
		fmt.Fprintln(w, warnStyle.Render("  skipped "+s.Error()))
	}
	if p.Pending() == 0 {
		fmt.Fprintln(w, "Nothing to change.")
	}
}

// printSummary prints the counts and, after execution, every failure.
func printSummary(w io.Writer, res *reconcile.Result, dryRun bool) {
	s := res.Summary
	verb := "Done:"
	if dryRun || res.Execution == nil {
		verb = "Plan:"
	}
	fmt.Fprintf(w, "%s %d added, %d updated, %d replaced, %d deleted, %d unchanged, %d skipped",
		boldStyle.Render(verb), s.Added, s.Updated, s.Replaced, s.Deleted, s.Unchanged, s.Skipped)
	if s.Failed > 0 {
		fmt.Fprint(w, ", "+failStyle.Render(fmt.Sprintf("%d failed", s.Failed)))
	}
	fmt.Fprintln(w)

	x := res.Execution
	if x == nil {
		return
	}
	for _, f := range x.Failures() {
		fmt.Fprintln(w, failStyle.Render(fmt.Sprintf("  %s row %d (%s): %v", f.Bag, f.Entry.Row, f.Entry.IssueKey, f.Err)))
	}
	for _, it := range x.Items {
		for _, de := range it.DeleteErrs {
			fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("  replace row %d: %v", it.Entry.Row, de)))
		}
	}
	if x.NotAttempted > 0 {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("  %d operations not attempted (interrupted)", x.NotAttempted)))
	}
}

func printConflicts(w io.Writer, reports []model.ConflictReport) {
	fmt.Fprintln(w, failStyle.Render(fmt.Sprintf("%d overlapping entries in input, nothing was written:", len(reports))))
	for _, r := range reports {
		fmt.Fprintln(w, "  "+r.Message)
	}
}
