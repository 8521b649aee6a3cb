package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Tiliavir/tempo-booker/internal/model"
)

// DefaultDelay is the pause between consecutive remote writes.
const DefaultDelay = 500 * time.Millisecond

// ItemResult is the outcome of one operation.
type ItemResult struct {
	Bag      model.Bag
	Entry    model.Entry
	RemoteID string
	Err      error
	// DeleteErrs collects failed deletions of a replace whose create still ran.
	DeleteErrs []error
}

// Failed reports whether the item did not reach its goal.
func (r ItemResult) Failed() bool { return r.Err != nil }

// Tally counts the outcomes within one bag.
type Tally struct {
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
}

// Execution is the result of applying an OperationSet.
type Execution struct {
	Delete  Tally `json:"delete" yaml:"delete"`
	Replace Tally `json:"replace" yaml:"replace"`
	Add     Tally `json:"add" yaml:"add"`
	Update  Tally `json:"update" yaml:"update"`

	Items []ItemResult `json:"-" yaml:"-"`
	// NotAttempted counts items skipped because the context was cancelled.
	NotAttempted int `json:"not_attempted" yaml:"not_attempted"`
	Calls        int `json:"calls" yaml:"calls"`
}

// Failures returns the failed items.
func (x *Execution) Failures() []ItemResult {
	var out []ItemResult
	for _, it := range x.Items {
		if it.Failed() {
			out = append(out, it)
		}
	}
	return out
}

func (x *Execution) tally(bag model.Bag) *Tally {
	switch bag {
	case model.BagDelete:
		return &x.Delete
	case model.BagReplace:
		return &x.Replace
	case model.BagAdd:
		return &x.Add
	default:
		return &x.Update
	}
}

// Executor applies an OperationSet to a RemoteStore one call at a time.
type Executor struct {
	Store    RemoteStore
	AuthorID string
	// Delay is enforced between consecutive remote calls.
	Delay  time.Duration
	Logger *slog.Logger
	// OnResult, if set, observes every finished item.
	OnResult func(ItemResult)

	calls   int
	deleted map[string]bool
}

// Execute runs the bags in order delete, replace, add, update. A failing
// item never stops the others. Cancelling ctx stops before the next item;
// calls already issued run to completion.
func (x *Executor) Execute(ctx context.Context, set model.OperationSet) *Execution {
	log := x.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	x.calls = 0
	x.deleted = map[string]bool{}
	res := &Execution{}

	total := len(set.Delete) + len(set.Replace) + len(set.Add) + len(set.Update)
	done := 0
	stop := func() bool {
		if ctx.Err() != nil {
			res.NotAttempted = total - done
			log.Warn("run interrupted", "not_attempted", res.NotAttempted)
			return true
		}
		done++
		return false
	}
	finish := func(it ItemResult) {
		t := res.tally(it.Bag)
		if it.Failed() {
			t.Failed++
			log.Error("operation failed", "bag", it.Bag, "row", it.Entry.Row, "issue", it.Entry.IssueKey,
				"date", it.Entry.Date, "remote_id", it.RemoteID, "err", it.Err)
		} else {
			t.Succeeded++
			log.Info("operation applied", "bag", it.Bag, "row", it.Entry.Row, "issue", it.Entry.IssueKey,
				"date", it.Entry.Date, "remote_id", it.RemoteID)
		}
		res.Items = append(res.Items, it)
		if x.OnResult != nil {
			x.OnResult(it)
		}
	}
	defer func() { res.Calls = x.calls }()

	for _, m := range set.Delete {
		if stop() {
			return res
		}
		finish(x.delete(ctx, m))
	}
	for _, rp := range set.Replace {
		if stop() {
			return res
		}
		finish(x.replace(ctx, rp, log))
	}
	for _, e := range set.Add {
		if stop() {
			return res
		}
		finish(x.add(ctx, e))
	}
	for _, m := range set.Update {
		if stop() {
			return res
		}
		finish(x.update(ctx, m))
	}
	return res
}

// call paces and issues one remote call on a context that cannot be
// cancelled, so an interrupt never tears a request in half.
func (x *Executor) call(ctx context.Context, fn func(context.Context) error) error {
	if x.calls > 0 && x.Delay > 0 {
		time.Sleep(x.Delay)
	}
	x.calls++
	return fn(context.WithoutCancel(ctx))
}

func (x *Executor) deleteOnce(ctx context.Context, id string) error {
	if x.deleted[id] {
		return nil
	}
	err := x.call(ctx, func(ctx context.Context) error {
		return x.Store.DeleteRecord(ctx, id)
	})
	if err != nil {
		return staleOr(id, err)
	}
	x.deleted[id] = true
	return nil
}

func (x *Executor) delete(ctx context.Context, m model.Match) ItemResult {
	return ItemResult{
		Bag:      model.BagDelete,
		Entry:    m.Entry,
		RemoteID: m.Record.ID,
		Err:      x.deleteOnce(ctx, m.Record.ID),
	}
}

func (x *Executor) replace(ctx context.Context, rp model.Replacement, log *slog.Logger) ItemResult {
	it := ItemResult{Bag: model.BagReplace, Entry: rp.Entry}
	for _, r := range rp.Conflicting {
		if err := x.deleteOnce(ctx, r.ID); err != nil {
			log.Warn("replace could not delete conflicting worklog", "row", rp.Entry.Row, "remote_id", r.ID, "err", err)
			it.DeleteErrs = append(it.DeleteErrs, err)
		}
	}
	var id string
	it.Err = x.call(ctx, func(ctx context.Context) error {
		var err error
		id, err = x.Store.CreateRecord(ctx, model.InputFromEntry(rp.Entry, x.AuthorID))
		return err
	})
	it.RemoteID = id
	if it.Err == nil && len(it.DeleteErrs) > 0 {
		log.Warn("partial replace", "row", rp.Entry.Row, "remote_id", id, "failed_deletes", len(it.DeleteErrs))
	}
	return it
}

func (x *Executor) add(ctx context.Context, e model.Entry) ItemResult {
	it := ItemResult{Bag: model.BagAdd, Entry: e}
	it.Err = x.call(ctx, func(ctx context.Context) error {
		var err error
		it.RemoteID, err = x.Store.CreateRecord(ctx, model.InputFromEntry(e, x.AuthorID))
		return err
	})
	return it
}

func (x *Executor) update(ctx context.Context, m model.Match) ItemResult {
	it := ItemResult{Bag: model.BagUpdate, Entry: m.Entry, RemoteID: m.Record.ID}
	if x.deleted[m.Record.ID] {
		it.Err = &StaleSnapshotError{RemoteID: m.Record.ID, Err: errors.New("deleted earlier in this run")}
		return it
	}
	err := x.call(ctx, func(ctx context.Context) error {
		return x.Store.UpdateRecord(ctx, m.Record.ID, model.InputFromEntry(m.Entry, x.AuthorID))
	})
	it.Err = staleOr(m.Record.ID, err)
	return it
}
