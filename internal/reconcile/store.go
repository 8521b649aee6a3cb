package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/Tiliavir/tempo-booker/internal/model"
)

// RemoteStore is the worklog backend a run reads from and writes to.
// Implementations return *model.RemoteError for failed calls.
type RemoteStore interface {
	// FetchRecords returns the records dated within [from, to], both inclusive.
	FetchRecords(ctx context.Context, from, to time.Time) ([]model.RemoteRecord, error)
	CreateRecord(ctx context.Context, in model.WorklogInput) (string, error)
	UpdateRecord(ctx context.Context, remoteID string, in model.WorklogInput) error
	DeleteRecord(ctx context.Context, remoteID string) error
}

// StaleSnapshotError marks a write that failed because the record vanished
// after the snapshot was fetched. It is reported like any other item failure.
type StaleSnapshotError struct {
	RemoteID string
	Err      error
}

func (e *StaleSnapshotError) Error() string {
	return fmt.Sprintf("worklog %s changed remotely since it was fetched: %v", e.RemoteID, e.Err)
}

func (e *StaleSnapshotError) Unwrap() error { return e.Err }

func staleOr(remoteID string, err error) error {
	if model.IsNotFound(err) {
		return &StaleSnapshotError{RemoteID: remoteID, Err: err}
	}
	return err
}
