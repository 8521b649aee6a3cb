package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tempo-booker/internal/csvio"
	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

var (
	exportFrom string
	exportTo   string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write your Tempo worklogs as CSV",
	Long: `Fetches your worklogs for a date range (this week by default) and writes
them in the layout import reads, so an export can be edited and imported again.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First day to export (default Monday of this week)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last day to export (default today when --from is set)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Write to file instead of stdout")
}

// exportWindow defaults to the current ISO week.
func exportWindow(from, to string, now time.Time) (time.Time, time.Time, error) {
	if from == "" && to == "" {
		monday, sunday := timecalc.WeekRange(now)
		return timecalc.StartOfDay(monday), timecalc.StartOfDay(sunday), nil
	}
	w, err := parseWindow(from, to, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return w.From, w.To, nil
}

func recordEntry(r model.RemoteRecord) model.Entry {
	return model.Entry{
		Date:          r.Date,
		StartTime:     r.StartTime,
		EndTime:       r.End().Format(timecalc.ClockLayout),
		Start:         r.Start,
		End:           r.End(),
		DurationHours: r.DurationHours(),
		IssueKey:      r.IssueKey,
		IssueID:       r.IssueID,
		Description:   r.Description,
	}
}

func writeExport(w io.Writer, records []model.RemoteRecord) error {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Start.Before(records[j].Start) })
	cw := csvio.NewWriter(w)
	for _, r := range records {
		if err := cw.Write(recordEntry(r)); err != nil {
			return err
		}
	}
	return cw.Flush()
}

func runExport(cmd *cobra.Command, args []string) error {
	from, to, err := exportWindow(exportFrom, exportTo, time.Now())
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

	ctx := cmd.Context()
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

	records, err := store.FetchRecords(ctx, from, to)
	if err != nil {
		return failedErr(fmt.Errorf("fetching worklogs: %w", err))
	}
	for i := range records {
		if !records[i].KeyKnown() {
			records[i].IssueKey = resolver.RecoverKey(ctx, records[i])
		}
	}

	w := cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return failedErr(err)
		}
		defer f.Close()
		w = f
	}
	if err := writeExport(w, records); err != nil {
		return failedErr(fmt.Errorf("writing csv: %w", err))
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d worklogs (%s .. %s)\n", len(records),
		from.Format(timecalc.DateLayout), to.Format(timecalc.DateLayout))
	return nil
}
