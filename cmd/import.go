package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Tiliavir/tempo-booker/internal/config"
	"github.com/Tiliavir/tempo-booker/internal/conflict"
	"github.com/Tiliavir/tempo-booker/internal/csvio"
	"github.com/Tiliavir/tempo-booker/internal/reconcile"
	"github.com/Tiliavir/tempo-booker/internal/storage"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

var (
	importFrom   string
	importTo     string
	importDryRun bool
	importYes    bool
	importOutput string
)

// Hooks replaced in tests.
var (
	isInteractive = func() bool {
		return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
	}
	confirmApply = confirmWithForm
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Reconcile a CSV of worklogs with Tempo",
	Long: `Reads the CSV, compares every row with the worklogs already in Tempo and
shows the resulting plan. After confirmation the plan is applied: deletes
first, then replacements, additions and updates.

Dates for --from and --to accept YYYY-MM-DD or expressions like
"yesterday" or "last monday".`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importFrom, "from", "", "Only reconcile rows on or after this date")
	importCmd.Flags().StringVar(&importTo, "to", "", "Only reconcile rows on or before this date (default today)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show the plan without writing anything")
	importCmd.Flags().BoolVarP(&importYes, "yes", "y", false, "Apply without asking for confirmation")
	importCmd.Flags().StringVarP(&importOutput, "output", "o", outputText, "Output format: text, json, yaml")
}

// parseWindow turns --from/--to into a date window. No flags means the
// window is derived from the CSV.
func parseWindow(from, to string, now time.Time) (*reconcile.DateWindow, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" {
		return nil, errors.New("--from is required when --to is specified")
	}
	f, err := timecalc.ParseDateExpr(from, now)
	if err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if to != "" {
		if t, err = timecalc.ParseDateExpr(to, now); err != nil {
			return nil, fmt.Errorf("--to: %w", err)
		}
	}
	if t.Before(f) {
		return nil, fmt.Errorf("--to %s is before --from %s", t.Format(timecalc.DateLayout), f.Format(timecalc.DateLayout))
	}
	return &reconcile.DateWindow{From: f, To: t}, nil
}

func confirmWithForm(pending int) (bool, error) {
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Apply %d changes to Tempo?", pending)).
				Affirmative("Apply").
				Negative("Cancel").
				Value(&ok),
		),
	).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func runImport(cmd *cobra.Command, args []string) error {
	now := time.Now()
	if err := checkOutput(importOutput); err != nil {
		return usageErr(err)
	}
	window, err := parseWindow(importFrom, importTo, now)
	if err != nil {
		return usageErr(err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return usageErr(err)
	}

	source := args[0]
	f, err := os.Open(source)
	if err != nil {
		return usageErr(err)
	}
	rows, err := csvio.ReadAll(f)
	f.Close()
	if err != nil {
		return usageErr(fmt.Errorf("reading %s: %w", source, err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	creds, err := openCredentials()
	if err != nil {
		return usageErr(fmt.Errorf("opening credential store: %w", err))
	}
	store, err := openStore(ctx, cfg, creds)
	if err != nil {
		return err
	}
	resolver, err := newResolver(cfg, creds)
	if err != nil {
		return usageErr(err)
	}
	rc, err := newReconciler(cfg, store, resolver, now)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	text := importOutput == outputText

	started := time.Now()
	res, err := rc.Run(ctx, rows, reconcile.Options{Window: window, DryRun: true})
	if err != nil {
		var ce *conflict.ConflictError
		if errors.As(err, &ce) {
			journal(ctx, cfg, filepath.Base(source), res, true, started)
			if !text {
				return usageErr(err)
			}
			printConflicts(cmd.ErrOrStderr(), ce.Reports)
			return usageErr(errors.New("overlapping entries in input"))
		}
		return failedErr(err)
	}
	if text {
		printPlan(out, res)
	}

	applied := false
	if !importDryRun && res.Plan.Pending() > 0 {
		ok, err := confirmed(res.Plan.Pending())
		if err != nil {
			return usageErr(err)
		}
		if !ok {
			journal(ctx, cfg, filepath.Base(source), res, true, started)
			fmt.Fprintln(cmd.ErrOrStderr(), "Aborted, nothing was written.")
			return nil
		}
		rc.Apply(ctx, res)
		applied = true
	}

	dryRun := !applied
	runID := journal(ctx, cfg, filepath.Base(source), res, dryRun, started)

	if text {
		printSummary(out, res, dryRun)
	} else if err := writeStructured(out, importOutput, newImportReport(source, res, dryRun, runID)); err != nil {
		return failedErr(err)
	}

	if x := res.Execution; x != nil && (res.Summary.Failed > 0 || x.NotAttempted > 0) {
		return failedErr(fmt.Errorf("%d operations failed, %d not attempted", res.Summary.Failed, x.NotAttempted))
	}
	return nil
}

func confirmed(pending int) (bool, error) {
	if importYes {
		return true, nil
	}
	if !isInteractive() {
		return false, errors.New("refusing to write without confirmation: pass --yes or --dry-run")
	}
	return confirmApply(pending)
}

// journal records the run locally. Journal failures never fail the import.
func journal(ctx context.Context, cfg config.Config, source string, res *reconcile.Result, dryRun bool, started time.Time) string {
	j, err := storage.Open(cfg.Journal.Path)
	if err != nil {
		logger.Warn("journal unavailable", "path", cfg.Journal.Path, "err", err)
		return ""
	}
	defer j.Close()
	run, ops := storage.NewRun(source, res, dryRun, started, time.Now())
	if err := j.Record(context.WithoutCancel(ctx), run, ops); err != nil {
		logger.Warn("recording run", "err", err)
		return ""
	}
	return run.ID
}
