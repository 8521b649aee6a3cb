package reconcile

import (
	"sort"
	"strconv"

	"github.com/Tiliavir/tempo-booker/internal/conflict"
	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

// snapshot indexes the filtered remote records for classification.
type snapshot struct {
	byKey  map[model.ExactKey][]model.RemoteRecord
	byDate map[string][]model.RemoteRecord
}

func newSnapshot(records []model.RemoteRecord) snapshot {
	sorted := append([]model.RemoteRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return lessID(sorted[i].ID, sorted[j].ID)
	})

	s := snapshot{
		byKey:  map[model.ExactKey][]model.RemoteRecord{},
		byDate: map[string][]model.RemoteRecord{},
	}
	for _, r := range sorted {
		s.byDate[r.Date] = append(s.byDate[r.Date], r)
		if r.KeyKnown() {
			s.byKey[r.Key()] = append(s.byKey[r.Key()], r)
		}
	}
	return s
}

// lessID orders numeric ids numerically and everything else lexically.
func lessID(a, b string) bool {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}

// newer reports whether a should win the duplicate tie-break over b.
func newer(a, b model.RemoteRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return lessID(b.ID, a.ID)
}

// candidate returns the record an entry matches exactly, plus any
// duplicates sharing the same key. Records in gone are ignored.
func (s snapshot) candidate(key model.ExactKey, gone map[string]bool) (*model.RemoteRecord, []model.RemoteRecord) {
	var best *model.RemoteRecord
	var rest []model.RemoteRecord
	for _, r := range s.byKey[key] {
		if gone[r.ID] {
			continue
		}
		switch {
		case best == nil:
			c := r
			best = &c
		case newer(r, *best):
			rest = append(rest, *best)
			c := r
			best = &c
		default:
			rest = append(rest, r)
		}
	}
	return best, rest
}

// sameFields compares everything an update could change.
func sameFields(e model.Entry, r model.RemoteRecord) bool {
	return e.Date == r.Date &&
		e.StartTime == r.StartTime &&
		e.IssueKey == r.IssueKey &&
		e.DurationSeconds() == r.DurationSeconds &&
		e.Description == r.Description
}

// Classify sorts every entry into exactly one bag of the OperationSet.
// records must already be filtered. The result depends only on the inputs:
// remote records are ordered by start time, then id.
//
// Delete rows are handled first and their targets are withheld from the
// overlap search of the remaining entries. A replace always lists the
// exact-key candidate when there is one, since the replacement recreates it.
// A record that is exactly the stored form of one entry belongs to that
// entry and never counts as an overlap of another.
func Classify(entries []model.Entry, records []model.RemoteRecord) model.OperationSet {
	snap := newSnapshot(records)
	var set model.OperationSet
	gone := map[string]bool{}

	for _, e := range entries {
		if !e.ShouldDelete {
			continue
		}
		cand, _ := snap.candidate(e.Key(), gone)
		if cand == nil {
			set.Unmatched = append(set.Unmatched, e)
			continue
		}
		gone[cand.ID] = true
		set.Delete = append(set.Delete, model.Match{Entry: e, Record: *cand})
	}

	keptBy := map[string]int{}
	for i, e := range entries {
		if e.ShouldDelete {
			continue
		}
		if cand, _ := snap.candidate(e.Key(), gone); cand != nil && conflict.ExactSame(e, *cand) {
			keptBy[cand.ID] = i
		}
	}

	for i, e := range entries {
		if e.ShouldDelete {
			continue
		}
		cand, dups := snap.candidate(e.Key(), gone)

		isDup := map[string]bool{}
		for _, d := range dups {
			isDup[d.ID] = true
		}

		var overlapping []model.RemoteRecord
		for _, r := range snap.byDate[e.Date] {
			if gone[r.ID] {
				continue
			}
			if owner, ok := keptBy[r.ID]; ok && owner != i {
				continue
			}
			isCand := cand != nil && r.ID == cand.ID
			switch {
			case isCand:
				if !conflict.ExactSame(e, r) {
					overlapping = append(overlapping, r)
				}
			case isDup[r.ID]:
				overlapping = append(overlapping, r)
			case timecalc.Overlaps(e.Start, e.End, r.Start, r.End()):
				overlapping = append(overlapping, r)
			}
		}

		switch {
		case len(overlapping) > 0:
			set.Replace = append(set.Replace, model.Replacement{
				Entry:       e,
				Conflicting: withCandidate(overlapping, cand, snap.byDate[e.Date]),
			})
		case cand == nil:
			set.Add = append(set.Add, e)
		case sameFields(e, *cand):
			set.NoChange = append(set.NoChange, model.Match{Entry: e, Record: *cand})
		default:
			set.Update = append(set.Update, model.Match{Entry: e, Record: *cand})
		}
	}

	return set
}

// withCandidate adds cand to the conflicting list if missing, keeping the
// day's record order.
func withCandidate(overlapping []model.RemoteRecord, cand *model.RemoteRecord, day []model.RemoteRecord) []model.RemoteRecord {
	if cand == nil {
		return overlapping
	}
	in := map[string]bool{}
	for _, r := range overlapping {
		if r.ID == cand.ID {
			return overlapping
		}
		in[r.ID] = true
	}
	in[cand.ID] = true
	out := make([]model.RemoteRecord, 0, len(overlapping)+1)
	for _, r := range day {
		if in[r.ID] {
			out = append(out, r)
		}
	}
	return out
}
