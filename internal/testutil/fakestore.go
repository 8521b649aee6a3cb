package testutil

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

// Call records one invocation on a FakeStore.
type Call struct {
	Op       string
	RemoteID string
	Input    model.WorklogInput
}

// FakeStore is an in-memory remote worklog store.
type FakeStore struct {
	mu      sync.Mutex
	records map[string]model.RemoteRecord
	nextID  int
	Calls   []Call
	// Fail maps "op:remoteID" (or "create:ISSUEID") to the error to return.
	Fail map[string]error
	// Now stamps CreatedAt on created records.
	Now func() time.Time
}

// NewFakeStore seeds a store with records.
func NewFakeStore(records ...model.RemoteRecord) *FakeStore {
	s := &FakeStore{records: map[string]model.RemoteRecord{}, nextID: 1000, Fail: map[string]error{}}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

// Records returns a snapshot sorted by start time, then id.
func (s *FakeStore) Records() []model.RemoteRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RemoteRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Writes counts create, update and delete calls.
func (s *FakeStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Calls {
		if c.Op != "fetch" {
			n++
		}
	}
	return n
}

func (s *FakeStore) record(c Call) {
	s.Calls = append(s.Calls, c)
}

// FetchRecords implements reconcile.RemoteStore.
func (s *FakeStore) FetchRecords(ctx context.Context, from, to time.Time) ([]model.RemoteRecord, error) {
	s.mu.Lock()
	s.record(Call{Op: "fetch"})
	if err := s.Fail["fetch"]; err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	var out []model.RemoteRecord
	for _, r := range s.Records() {
		day := timecalc.StartOfDay(r.Start)
		if day.Before(timecalc.StartOfDay(from)) || day.After(timecalc.StartOfDay(to)) {
			continue
		}
		// The remote store does not know issue keys.
		r.IssueKey = ""
		out = append(out, r)
	}
	return out, nil
}

// CreateRecord implements reconcile.RemoteStore.
func (s *FakeStore) CreateRecord(ctx context.Context, in model.WorklogInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "create", Input: in})
	if err := s.Fail["create:"+strconv.FormatInt(in.IssueID, 10)]; err != nil {
		return "", err
	}
	start, err := timecalc.ParseInstant(in.Date, in.StartTime)
	if err != nil {
		return "", &model.RemoteError{Op: "create", Kind: model.RemoteRejection, Reason: model.ReasonInvalid, Status: 400, Err: err}
	}
	s.nextID++
	id := strconv.Itoa(s.nextID)
	created := start
	if s.Now != nil {
		created = s.Now()
	}
	s.records[id] = model.RemoteRecord{
		ID:              id,
		IssueID:         in.IssueID,
		Date:            in.Date,
		StartTime:       in.StartTime,
		Start:           start,
		DurationSeconds: in.DurationSeconds,
		Description:     in.Description,
		AuthorID:        in.AuthorID,
		CreatedAt:       created,
	}
	return id, nil
}

// UpdateRecord implements reconcile.RemoteStore.
func (s *FakeStore) UpdateRecord(ctx context.Context, remoteID string, in model.WorklogInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "update", RemoteID: remoteID, Input: in})
	if err := s.Fail["update:"+remoteID]; err != nil {
		return err
	}
	r, ok := s.records[remoteID]
	if !ok {
		return notFound("update")
	}
	r.IssueID = in.IssueID
	r.DurationSeconds = in.DurationSeconds
	r.Description = in.Description
	s.records[remoteID] = r
	return nil
}

// DeleteRecord implements reconcile.RemoteStore.
func (s *FakeStore) DeleteRecord(ctx context.Context, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "delete", RemoteID: remoteID})
	if err := s.Fail["delete:"+remoteID]; err != nil {
		return err
	}
	if _, ok := s.records[remoteID]; !ok {
		return notFound("delete")
	}
	delete(s.records, remoteID)
	return nil
}

func notFound(op string) error {
	return &model.RemoteError{Op: op, Kind: model.RemoteRejection, Reason: model.ReasonNotFound, Status: 404}
}
