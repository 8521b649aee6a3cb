package reconcile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/reconcile"
	"github.com/Tiliavir/tempo-booker/internal/testutil"
)

// assertPartition checks that every non-delete entry lands in exactly one
// bag and every replace carries at least one conflicting record.
func assertPartition(t *testing.T, entries []model.Entry, set model.OperationSet) {
	t.Helper()
	seen := map[int]int{}
	for _, e := range set.Add {
		seen[e.Row]++
	}
	for _, m := range set.Update {
		seen[m.Entry.Row]++
	}
	for _, m := range set.NoChange {
		seen[m.Entry.Row]++
	}
	for _, rp := range set.Replace {
		seen[rp.Entry.Row]++
		assert.NotEmpty(t, rp.Conflicting, "replace for row %d has no conflicting records", rp.Entry.Row)
	}
	for _, m := range set.Delete {
		assert.True(t, m.Entry.ShouldDelete)
		assert.Zero(t, seen[m.Entry.Row], "delete row %d also in another bag", m.Entry.Row)
	}
	for _, e := range entries {
		if e.ShouldDelete {
			continue
		}
		assert.Equal(t, 1, seen[e.Row], "row %d appears %d times", e.Row, seen[e.Row])
	}
}

func replaceIDs(rp model.Replacement) []string {
	return ids(rp.Conflicting)
}

func TestClassifyAddWithoutRemote(t *testing.T) {
	e := testutil.Entry(2, "2025-08-25", "09:00:00", "11:00:00", "ITST-1")
	e.Description = "Work"

	set := reconcile.Classify([]model.Entry{e}, nil)
	require.Len(t, set.Add, 1)
	assert.Equal(t, 2.0, set.Add[0].DurationHours)
	assertPartition(t, []model.Entry{e}, set)
}

func TestClassifyReplaceOnOverlap(t *testing.T) {
	entries := []model.Entry{testutil.Entry(2, "2025-08-25", "09:30:00", "11:00:00", "ITST-2")}
	records := []model.RemoteRecord{testutil.Record("100", "ITST-1", "2025-08-25", "09:00:00", "10:00:00")}

	set := reconcile.Classify(entries, records)
	require.Len(t, set.Replace, 1)
	assert.Equal(t, []string{"100"}, replaceIDs(set.Replace[0]))
	assertPartition(t, entries, set)
}

func TestClassifyNoChange(t *testing.T) {
	e := testutil.Entry(2, "2025-08-25", "09:00:00", "10:00:00", "ITST-1")
	e.Description = "Standup"
	r := testutil.Record("100", "ITST-1", "2025-08-25", "09:00:00", "10:00:00")
	r.Description = "Standup"

	set := reconcile.Classify([]model.Entry{e}, []model.RemoteRecord{r})
	require.Len(t, set.NoChange, 1)
	assert.Equal(t, "100", set.NoChange[0].Record.ID)
	assert.Zero(t, set.Pending())
}

func TestClassifyUpdateOnDescriptionChange(t *testing.T) {
	e := testutil.Entry(2, "2025-08-25", "09:00:00", "10:00:00", "ITST-1")
	e.Description = "new"
	r := testutil.Record("100", "ITST-1", "2025-08-25", "09:00:00", "10:00:00")
	r.Description = "old"

	set := reconcile.Classify([]model.Entry{e}, []model.RemoteRecord{r})
	require.Len(t, set.Update, 1)
	assert.Equal(t, "100", set.Update[0].Record.ID)
	assert.Equal(t, "old", set.Update[0].Record.Description)
}

func TestClassifyDurationChangeReplacesCandidate(t *testing.T) {
	entries := []model.Entry{testutil.Entry(2, "2025-08-25", "09:00:00", "11:00:00", "ITST-1")}
	records := []model.RemoteRecord{testutil.Record("100", "ITST-1", "2025-08-25", "09:00:00", "10:00:00")}

	set := reconcile.Classify(entries, records)
	require.Len(t, set.Replace, 1)
	assert.Equal(t, []string{"100"}, replaceIDs(set.Replace[0]))
}

func TestClassifyDelete(t *testing.T) {
	records := []model.RemoteRecord{testutil.Record("100", "ITST-1", "2025-08-25", "09:00:00", "10:00:00")}

	hit := testutil.DeleteEntry(2, "2025-08-25", "09:00:00", "ITST-1")
	set := reconcile.Classify([]model.Entry{hit}, records)
	require.Len(t, set.Delete, 1)
	assert.Equal(t, "100", set.Delete[0].Record.ID)
	assertPartition(t, []model.Entry{hit}, set)

	miss := testutil.DeleteEntry(3, "2025-08-25", "13:00:00", "ITST-1")
	set = reconcile.Classify([]model.Entry{miss}, records)
	assert.Zero(t, set.Pending())
	assert.Len(t, set.Unmatched, 1)
}

func TestClassifyDeleteTargetsAreNotOverlaps(t *testing.T) {
	entries := []model.Entry{
		testutil.DeleteEntry(2, "2025-08-25", "09:00:00", "ITST-1"),
		testutil.Entry(3, "2025-08-25", "09:00:00", "10:00:00", "ITST-2"),
	}
	records := []model.RemoteRecord{testutil.Record("100", "ITST-1", "2025-08-25", "09:00:00", "10:00:00")}

	set := reconcile.Classify(entries, records)
	require.Len(t, set.Delete, 1)
	require.Len(t, set.Add, 1)
	assert.Empty(t, set.Replace)
	assertPartition(t, entries, set)
}

func TestClassifyDuplicateKeysPreferNewest(t *testing.T) {
	older := testutil.Record("100", "ITST-1", "2025-08-25", "09:00:00", "10:00:00")
	newer := testutil.Record("101", "ITST-1", "2025-08-25", "09:00:00", "10:00:00")
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)

	del := testutil.DeleteEntry(2, "2025-08-25", "09:00:00", "ITST-1")
	set := reconcile.Classify([]model.Entry{del}, []model.RemoteRecord{newer, older})
	require.Len(t, set.Delete, 1)
	assert.Equal(t, "101", set.Delete[0].Record.ID)

	e := testutil.Entry(3, "2025-08-25", "09:00:00", "10:00:00", "ITST-1")
	set = reconcile.Classify([]model.Entry{e}, []model.RemoteRecord{newer, older})
	require.Len(t, set.Replace, 1)
	assert.Equal(t, []string{"100", "101"}, replaceIDs(set.Replace[0]))
}

func TestClassifyDuplicateTieBreakByID(t *testing.T) {
	a := testutil.Record("9", "ITST-1", "2025-08-25", "09:00:00", "10:00:00")
	b := testutil.Record("10", "ITST-1", "2025-08-25", "09:00:00", "10:00:00")

	del := testutil.DeleteEntry(2, "2025-08-25", "09:00:00", "ITST-1")
	set := reconcile.Classify([]model.Entry{del}, []model.RemoteRecord{a, b})
	require.Len(t, set.Delete, 1)
	assert.Equal(t, "10", set.Delete[0].Record.ID)
}

func TestClassifyUnknownKey(t *testing.T) {
	records := []model.RemoteRecord{
		testutil.Record("100", model.UnknownKey, "2025-08-25", "09:00:00", "10:00:00"),
		testutil.Record("101", model.UnknownKey, "2025-08-25", "13:00:00", "14:00:00"),
	}
	entries := []model.Entry{
		testutil.Entry(2, "2025-08-25", "09:00:00", "10:00:00", "ITST-1"),
		testutil.Entry(3, "2025-08-25", "11:00:00", "12:00:00", "ITST-1"),
		testutil.DeleteEntry(4, "2025-08-25", "13:00:00", model.UnknownKey),
	}

	set := reconcile.Classify(entries, records)
	require.Len(t, set.Replace, 1)
	assert.Equal(t, 2, set.Replace[0].Entry.Row)
	require.Len(t, set.Add, 1)
	assert.Equal(t, 3, set.Add[0].Row)
	assert.Empty(t, set.Delete, "unknown keys never match exactly")
	assertPartition(t, entries, set)
}

func TestClassifyReplacesStretchedRecord(t *testing.T) {
	// Record 100 still holds the old 2h worklog, which reaches into the
	// next entry, so both entries replace it.
	entries := []model.Entry{
		testutil.Entry(2, "2025-08-25", "09:00:00", "10:10:00", "ITST-1"),
		testutil.Entry(3, "2025-08-25", "10:10:00", "11:00:00", "ITST-2"),
	}
	records := []model.RemoteRecord{testutil.Record("100", "ITST-1", "2025-08-25", "09:00:00", "11:00:00")}

	set := reconcile.Classify(entries, records)
	assert.Empty(t, set.Update)
	require.Len(t, set.Replace, 2)
	for _, rp := range set.Replace {
		assert.Equal(t, []string{"100"}, replaceIDs(rp))
	}
	assertPartition(t, entries, set)
}

func TestClassifyKeepsRoundedNeighbour(t *testing.T) {
	// 09:00-09:10 is stored as 09:00-09:15 and reaches into the next entry,
	// but it is exactly what row 2 wrote, so neither row changes.
	entries := []model.Entry{
		testutil.Entry(2, "2025-08-25", "09:00:00", "09:10:00", "ITST-1"),
		testutil.Entry(3, "2025-08-25", "09:10:00", "10:00:00", "ITST-2"),
	}
	records := []model.RemoteRecord{
		testutil.Record("100", "ITST-1", "2025-08-25", "09:00:00", "09:15:00"),
		testutil.Record("101", "ITST-2", "2025-08-25", "09:10:00", "10:00:00"),
	}

	set := reconcile.Classify(entries, records)
	assert.Zero(t, set.Pending())
	assert.Len(t, set.NoChange, 2)
	assertPartition(t, entries, set)
}

func TestClassifyIsDeterministic(t *testing.T) {
	entries := []model.Entry{
		testutil.Entry(2, "2025-08-25", "09:00:00", "12:00:00", "ITST-1"),
	}
	records := []model.RemoteRecord{
		testutil.Record("103", "ITST-3", "2025-08-25", "11:00:00", "11:30:00"),
		testutil.Record("101", "ITST-2", "2025-08-25", "09:30:00", "10:00:00"),
		testutil.Record("102", "ITST-4", "2025-08-25", "09:30:00", "10:30:00"),
	}
	set := reconcile.Classify(entries, records)
	require.Len(t, set.Replace, 1)
	assert.Equal(t, []string{"101", "102", "103"}, replaceIDs(set.Replace[0]))
}
