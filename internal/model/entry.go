package model

import (
	"time"

	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

// UnknownKey marks a remote record whose issue key could not be recovered.
const UnknownKey = "UNKNOWN"

// DefaultStartTime is assumed for worklogs that give hours but no start time.
const DefaultStartTime = "09:00:00"

// Entry is one normalized CSV row. Entries are values: later pipeline stages
// derive copies (see WithIssueID) rather than mutating them.
type Entry struct {
	// Row is the 1-based line number in the source CSV, header included.
	Row           int       `json:"row" yaml:"row"`
	Date          string    `json:"date" yaml:"date"`
	StartTime     string    `json:"start_time" yaml:"start_time"`
	EndTime       string    `json:"end_time" yaml:"end_time"`
	Start         time.Time `json:"-" yaml:"-"`
	End           time.Time `json:"-" yaml:"-"`
	DurationHours float64   `json:"duration_hours" yaml:"duration_hours"`
	IssueKey      string    `json:"issue_key" yaml:"issue_key"`
	IssueID       int64     `json:"issue_id,omitempty" yaml:"issue_id,omitempty"`
	Description   string    `json:"description" yaml:"description"`
	ShouldDelete  bool      `json:"delete,omitempty" yaml:"delete,omitempty"`
}

// DurationSeconds is the rounded duration as stored remotely.
func (e Entry) DurationSeconds() int64 {
	return timecalc.HoursToSeconds(e.DurationHours)
}

// StoredEnd is the end instant the entry has once written remotely:
// start plus the quarter-rounded duration.
func (e Entry) StoredEnd() time.Time {
	return e.Start.Add(time.Duration(e.DurationSeconds()) * time.Second)
}

// Key returns the exact-match identity of the entry.
func (e Entry) Key() ExactKey {
	return ExactKey{Date: e.Date, StartTime: e.StartTime, IssueKey: e.IssueKey}
}

// WithIssueID returns a copy of e carrying the resolved issue id.
func (e Entry) WithIssueID(id int64) Entry {
	e.IssueID = id
	return e
}

// ExactKey identifies "the same worklog" across the CSV and the remote store.
type ExactKey struct {
	Date      string
	StartTime string
	IssueKey  string
}

// RemoteRecord is a worklog as fetched from the remote store.
type RemoteRecord struct {
	ID              string    `json:"id" yaml:"id"`
	IssueID         int64     `json:"issue_id" yaml:"issue_id"`
	IssueKey        string    `json:"issue_key" yaml:"issue_key"`
	Date            string    `json:"date" yaml:"date"`
	StartTime       string    `json:"start_time" yaml:"start_time"`
	Start           time.Time `json:"-" yaml:"-"`
	DurationSeconds int64     `json:"duration_seconds" yaml:"duration_seconds"`
	Description     string    `json:"description" yaml:"description"`
	AuthorID        string    `json:"author_id" yaml:"author_id"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
}

// End returns start plus the stored duration.
func (r RemoteRecord) End() time.Time {
	return r.Start.Add(time.Duration(r.DurationSeconds) * time.Second)
}

// DurationHours converts the stored duration to hours.
func (r RemoteRecord) DurationHours() float64 {
	return float64(r.DurationSeconds) / 3600
}

// Key returns the exact-match identity of the record.
func (r RemoteRecord) Key() ExactKey {
	return ExactKey{Date: r.Date, StartTime: r.StartTime, IssueKey: r.IssueKey}
}

// KeyKnown reports whether the record's issue key was recovered.
func (r RemoteRecord) KeyKnown() bool {
	return r.IssueKey != "" && r.IssueKey != UnknownKey
}

// WorklogInput is the payload for creating or updating a remote record.
type WorklogInput struct {
	IssueID         int64
	DurationSeconds int64
	Date            string
	StartTime       string
	Description     string
	AuthorID        string
}

// InputFromEntry builds the remote payload for e.
func InputFromEntry(e Entry, authorID string) WorklogInput {
	return WorklogInput{
		IssueID:         e.IssueID,
		DurationSeconds: e.DurationSeconds(),
		Date:            e.Date,
		StartTime:       e.StartTime,
		Description:     e.Description,
		AuthorID:        authorID,
	}
}
