package core

import "context"

// ProtocolVersion is the version of the snapshot and frame format.
const ProtocolVersion = "1.0.0"

// Snapshot is a point-in-time copy of the tree: facts, browser states, run
// errors and the sequence number of the last event folded into it.
type Snapshot struct {
	ProtocolVersion string                   `json:"protocolVersion"`
	RunID           string                   `json:"runId,omitempty"`
	Seq             uint64                   `json:"seq"`
	Ended           bool                     `json:"ended,omitempty"`
	RootSuiteIDs    []string                 `json:"rootSuiteIds"`
	Suites          Table[Suite]             `json:"suites"`
	Browsers        Table[Browser]           `json:"browsers"`
	Results         Table[Result]            `json:"results"`
	Images          Table[Image]             `json:"images"`
	BrowserStates   map[string]*BrowserState `json:"browserStates"`
	Errors          []RunError               `json:"errors,omitempty"`
}

// NewSnapshot returns an empty snapshot at the current protocol version.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		ProtocolVersion: ProtocolVersion,
		Suites:          NewTable[Suite](),
		Browsers:        NewTable[Browser](),
		Results:         NewTable[Result](),
		Images:          NewTable[Image](),
		BrowserStates:   make(map[string]*BrowserState),
	}
}

// SnapshotStore persists snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, s *Snapshot) error
	// Load returns the last saved snapshot, or an empty one when nothing was saved.
	Load(ctx context.Context) (*Snapshot, error)
	Close() error
}
