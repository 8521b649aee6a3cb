package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tempo-booker/internal/storage"
)

var (
	historyLimit  int
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past import runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show (0 for all)")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", outputText, "Output format: text, json, yaml")
}

type historyReport struct {
	Runs     []storage.Run       `json:"runs" yaml:"runs"`
	Failures []storage.Operation `json:"latest_failures,omitempty" yaml:"latest_failures,omitempty"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := checkOutput(historyOutput); err != nil {
		return usageErr(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := storage.Open(cfg.Journal.Path)
	if err != nil {
		return failedErr(err)
	}
	defer j.Close()

	ctx := cmd.Context()
	runs, err := j.Runs(ctx, historyLimit)
	if err != nil {
		return failedErr(err)
	}
	rep := historyReport{Runs: runs}
	if len(runs) > 0 && runs[0].Failed > 0 {
		if rep.Failures, err = j.Operations(ctx, runs[0].ID, true); err != nil {
			return failedErr(err)
		}
	}

	if historyOutput != outputText {
		return writeStructured(cmd.OutOrStdout(), historyOutput, rep)
	}
	printHistory(cmd.OutOrStdout(), rep)
	return nil
}

func printHistory(w io.Writer, rep historyReport) {
	if len(rep.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range rep.Runs {
		mode := ""
		if r.DryRun {
			mode = mutedStyle.Render(" (dry run)")
		}
		window := ""
		if r.WindowFrom != "" {
			window = fmt.Sprintf(" %s..%s", r.WindowFrom, r.WindowTo)
		}
		counts := fmt.Sprintf("+%d ~%d >%d -%d =%d", r.Added, r.Updated, r.Replaced, r.Deleted, r.Unchanged)
		status := passStyle.Render("ok")
		if r.Failed > 0 || r.NotAttempted > 0 {
			status = failStyle.Render(fmt.Sprintf("%d failed", r.Failed+r.NotAttempted))
		}
		fmt.Fprintf(w, "%s  %s%s  %s  %s  %s%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			boldStyle.Render(r.Source), window, counts, status, mutedStyle.Render(shortID(r.ID)), mode)
	}
	if len(rep.Failures) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, boldStyle.Render("Failures of the latest run:"))
	for _, op := range rep.Failures {
		fmt.Fprintf(w, "  %s row %d %s %s %s: %s\n", op.Bag, op.Row, op.Date, op.StartTime, op.IssueKey,
			failStyle.Render(op.Error))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
