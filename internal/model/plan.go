package model

// OverlapType classifies how two time ranges intersect.
type OverlapType string

const (
	OverlapExact   OverlapType = "exact"
	OverlapPartial OverlapType = "partial"
)

// ConflictReport describes one overlapping pair. Internal reports set Other;
// external reports set Record.
type ConflictReport struct {
	Entry   Entry         `json:"entry" yaml:"entry"`
	Other   *Entry        `json:"other,omitempty" yaml:"other,omitempty"`
	Record  *RemoteRecord `json:"record,omitempty" yaml:"record,omitempty"`
	Overlap OverlapType   `json:"overlap" yaml:"overlap"`
	Message string        `json:"message" yaml:"message"`
}

// Bag names one of the operation buckets.
type Bag string

const (
	BagDelete   Bag = "delete"
	BagReplace  Bag = "replace"
	BagAdd      Bag = "add"
	BagUpdate   Bag = "update"
	BagNoChange Bag = "no_change"
)

// Match pairs an entry with the remote record it was classified against.
type Match struct {
	Entry  Entry        `json:"entry" yaml:"entry"`
	Record RemoteRecord `json:"record" yaml:"record"`
}

// Replacement deletes every conflicting record and then creates Entry.
// Conflicting is never empty.
type Replacement struct {
	Entry       Entry          `json:"entry" yaml:"entry"`
	Conflicting []RemoteRecord `json:"conflicting" yaml:"conflicting"`
}

// OperationSet is the classifier output. Every entry without the delete flag
// lands in exactly one of Add, Update, Replace or NoChange.
type OperationSet struct {
	Delete   []Match       `json:"delete" yaml:"delete"`
	Replace  []Replacement `json:"replace" yaml:"replace"`
	Add      []Entry       `json:"add" yaml:"add"`
	Update   []Match       `json:"update" yaml:"update"`
	NoChange []Match       `json:"no_change" yaml:"no_change"`
	// Unmatched holds delete rows that found no remote record.
	Unmatched []Entry `json:"unmatched,omitempty" yaml:"unmatched,omitempty"`
}

// Pending reports the number of entries that would cause remote writes.
func (s OperationSet) Pending() int {
	return len(s.Delete) + len(s.Replace) + len(s.Add) + len(s.Update)
}
