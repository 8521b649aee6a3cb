// Package storage keeps a local journal of reconciliation runs and the
// remote operations each run performed.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/Tiliavir/tempo-booker/internal/reconcile"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

// Operation statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is one journaled reconciliation.
type Run struct {
	ID           string    `json:"id" yaml:"id"`
	Source       string    `json:"source" yaml:"source"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time `json:"finished_at" yaml:"finished_at"`
	WindowFrom   string    `json:"window_from" yaml:"window_from"`
	WindowTo     string    `json:"window_to" yaml:"window_to"`
	DryRun       bool      `json:"dry_run" yaml:"dry_run"`
	Added        int       `json:"added" yaml:"added"`
	Updated      int       `json:"updated" yaml:"updated"`
	Deleted      int       `json:"deleted" yaml:"deleted"`
	Replaced     int       `json:"replaced" yaml:"replaced"`
	Unchanged    int       `json:"unchanged" yaml:"unchanged"`
	Skipped      int       `json:"skipped" yaml:"skipped"`
	Failed       int       `json:"failed" yaml:"failed"`
	NotAttempted int       `json:"not_attempted" yaml:"not_attempted"`
}

// Operation is one executed remote operation of a run.
type Operation struct {
	RunID     string `db:"run_id" json:"run_id" yaml:"run_id"`
	Seq       int    `db:"seq" json:"seq" yaml:"seq"`
	Bag       string `db:"bag" json:"bag" yaml:"bag"`
	Row       int    `db:"csv_row" json:"row" yaml:"row"`
	Date      string `db:"date" json:"date" yaml:"date"`
	StartTime string `db:"start_time" json:"start_time" yaml:"start_time"`
	IssueKey  string `db:"issue_key" json:"issue_key" yaml:"issue_key"`
	RemoteID  string `db:"remote_id" json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	Status    string `db:"status" json:"status" yaml:"status"`
	Error     string `db:"error" json:"error,omitempty" yaml:"error,omitempty"`
}

// runRow is the database shape of a Run.
type runRow struct {
	ID           string `db:"id"`
	Source       string `db:"source"`
	StartedAt    int64  `db:"started_at"`
	FinishedAt   int64  `db:"finished_at"`
	WindowFrom   string `db:"window_from"`
	WindowTo     string `db:"window_to"`
	DryRun       bool   `db:"dry_run"`
	Added        int    `db:"added"`
	Updated      int    `db:"updated"`
	Deleted      int    `db:"deleted"`
	Replaced     int    `db:"replaced"`
	Unchanged    int    `db:"unchanged"`
	Skipped      int    `db:"skipped"`
	Failed       int    `db:"failed"`
	NotAttempted int    `db:"not_attempted"`
}

func (r runRow) run() Run {
	return Run{
		ID:           r.ID,
		Source:       r.Source,
		StartedAt:    time.UnixMilli(r.StartedAt).UTC(),
		FinishedAt:   time.UnixMilli(r.FinishedAt).UTC(),
		WindowFrom:   r.WindowFrom,
		WindowTo:     r.WindowTo,
		DryRun:       r.DryRun,
		Added:        r.Added,
		Updated:      r.Updated,
		Deleted:      r.Deleted,
		Replaced:     r.Replaced,
		Unchanged:    r.Unchanged,
		Skipped:      r.Skipped,
		Failed:       r.Failed,
		NotAttempted: r.NotAttempted,
	}
}

// Journal is the SQLite-backed run journal.
type Journal struct {
	db *sqlx.DB
}

// Open opens (or creates) the journal at path and applies pending
// migrations. Use ":memory:" for a throwaway journal.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("storage error creating directories: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	// One connection: a CLI never needs more, and ":memory:" databases are
	// per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	current := 0
	var tables int
	if err := j.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := j.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := j.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// NewRun builds the journal records for a finished reconciliation.
func NewRun(source string, res *reconcile.Result, dryRun bool, started, finished time.Time) (Run, []Operation) {
	run := Run{
		ID:         uuid.NewString(),
		Source:     source,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		DryRun:     dryRun,
	}
	if res == nil {
		return run, nil
	}
	if !res.Window.From.IsZero() {
		run.WindowFrom = res.Window.From.Format(timecalc.DateLayout)
		run.WindowTo = res.Window.To.Format(timecalc.DateLayout)
	}
	s := res.Summary
	run.Added, run.Updated, run.Deleted, run.Replaced = s.Added, s.Updated, s.Deleted, s.Replaced
	run.Unchanged, run.Skipped, run.Failed = s.Unchanged, s.Skipped, s.Failed
	if res.Execution == nil {
		return run, nil
	}
	run.NotAttempted = res.Execution.NotAttempted

	ops := make([]Operation, 0, len(res.Execution.Items))
	for i, it := range res.Execution.Items {
		op := Operation{
			RunID:     run.ID,
			Seq:       i + 1,
			Bag:       string(it.Bag),
			Row:       it.Entry.Row,
			Date:      it.Entry.Date,
			StartTime: it.Entry.StartTime,
			IssueKey:  it.Entry.IssueKey,
			RemoteID:  it.RemoteID,
			Status:    StatusOK,
		}
		var msgs []string
		if it.Err != nil {
			op.Status = StatusFailed
			msgs = append(msgs, it.Err.Error())
		}
		for _, de := range it.DeleteErrs {
			msgs = append(msgs, de.Error())
		}
		op.Error = strings.Join(msgs, "; ")
		ops = append(ops, op)
	}
	return run, ops
}

// Record stores a run and its operations in one transaction.
func (j *Journal) Record(ctx context.Context, run Run, ops []Operation) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	row := runRow{
		ID:           run.ID,
		Source:       run.Source,
		StartedAt:    run.StartedAt.UnixMilli(),
		FinishedAt:   run.FinishedAt.UnixMilli(),
		WindowFrom:   run.WindowFrom,
		WindowTo:     run.WindowTo,
		DryRun:       run.DryRun,
		Added:        run.Added,
		Updated:      run.Updated,
		Deleted:      run.Deleted,
		Replaced:     run.Replaced,
		Unchanged:    run.Unchanged,
		Skipped:      run.Skipped,
		Failed:       run.Failed,
		NotAttempted: run.NotAttempted,
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO runs (
			id, source, started_at, finished_at, window_from, window_to, dry_run,
			added, updated, deleted, replaced, unchanged, skipped, failed, not_attempted
		) VALUES (
			:id, :source, :started_at, :finished_at, :window_from, :window_to, :dry_run,
			:added, :updated, :deleted, :replaced, :unchanged, :skipped, :failed, :not_attempted
		)`, row)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	for _, op := range ops {
		op.RunID = run.ID
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO operations (
				run_id, seq, bag, csv_row, date, start_time, issue_key, remote_id, status, error
			) VALUES (
				:run_id, :seq, :bag, :csv_row, :date, :start_time, :issue_key, :remote_id, :status, :error
			)`, op)
		if err != nil {
			return fmt.Errorf("inserting operation %d of run %s: %w", op.Seq, run.ID, err)
		}
	}
	return tx.Commit()
}

// Runs returns the most recent runs, newest first. A limit <= 0 returns all.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT * FROM runs ORDER BY started_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []runRow
	if err := j.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]Run, 0, len(rows))
	for _, r := range rows {
		runs = append(runs, r.run())
	}
	return runs, nil
}

// Operations returns the operations of a run in execution order.
func (j *Journal) Operations(ctx context.Context, runID string, failedOnly bool) ([]Operation, error) {
	query := "SELECT * FROM operations WHERE run_id = ?"
	args := []any{runID}
	if failedOnly {
		query += " AND status = ?"
		args = append(args, StatusFailed)
	}
	query += " ORDER BY seq"
	var ops []Operation
	if err := j.db.SelectContext(ctx, &ops, query, args...); err != nil {
		return nil, fmt.Errorf("listing operations of run %s: %w", runID, err)
	}
	return ops, nil
}
