package core

import (
	"encoding/json"
	"slices"
)

// =============================================================================
// Table
// =============================================================================

// Table is a normalized entity table: a map keyed by id plus the insertion
// order of those ids. Iteration order always comes from AllIDs.
type Table[T any] struct {
	ByID   map[string]*T `json:"byId"`
	AllIDs []string      `json:"allIds"`
}

// NewTable returns an empty table.
func NewTable[T any]() Table[T] {
	return Table[T]{ByID: make(map[string]*T)}
}

// Get returns the entity with the given id.
func (t *Table[T]) Get(id string) (*T, bool) {
	v, ok := t.ByID[id]
	return v, ok
}

// Has reports whether the id exists.
func (t *Table[T]) Has(id string) bool {
	_, ok := t.ByID[id]
	return ok
}

// Put stores v under id, appending id to AllIDs when it is new.
func (t *Table[T]) Put(id string, v *T) {
	if t.ByID == nil {
		t.ByID = make(map[string]*T)
	}
	if _, ok := t.ByID[id]; !ok {
		t.AllIDs = append(t.AllIDs, id)
	}
	t.ByID[id] = v
}

// Delete removes id from the table.
func (t *Table[T]) Delete(id string) {
	if _, ok := t.ByID[id]; !ok {
		return
	}
	delete(t.ByID, id)
	t.AllIDs = RemoveID(t.AllIDs, id)
}

// Len returns the number of entities.
func (t *Table[T]) Len() int {
	return len(t.AllIDs)
}

// RemoveID returns ids without id, preserving order.
func RemoveID(ids []string, id string) []string {
	i := slices.Index(ids, id)
	if i < 0 {
		return ids
	}
	return slices.Delete(ids, i, i+1)
}

// AppendUnique appends id unless it is already present.
func AppendUnique(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

// =============================================================================
// Entities
// =============================================================================

// Suite is a named grouping of tests. A suite's path is the sequence of
// names from the root suite down to and including itself.
type Suite struct {
	ID         string   `json:"id"`
	ParentID   string   `json:"parentId,omitempty"`
	Name       string   `json:"name"`
	SuitePath  []string `json:"suitePath"`
	Root       bool     `json:"root,omitempty"`
	SuiteIDs   []string `json:"suiteIds,omitempty"`
	BrowserIDs []string `json:"browserIds,omitempty"`
}

// Browser is one test executed in one browser configuration.
type Browser struct {
	ID        string   `json:"id"`
	ParentID  string   `json:"parentId"`
	Name      string   `json:"name"`
	Version   string   `json:"version,omitempty"`
	ResultIDs []string `json:"resultIds,omitempty"`
}

// ErrorDetails describes an error reported by the runner.
type ErrorDetails struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Result is a single attempt of a browser execution.
type Result struct {
	ID         string            `json:"id"`
	ParentID   string            `json:"parentId"`
	Attempt    int               `json:"attempt"`
	Status     TestStatus        `json:"status"`
	Timestamp  int64             `json:"timestamp,omitempty"`
	Duration   int64             `json:"duration,omitempty"`
	Error      *ErrorDetails     `json:"error,omitempty"`
	SkipReason string            `json:"skipReason,omitempty"`
	URL        string            `json:"url,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Extra      json.RawMessage   `json:"extra,omitempty"`
	ImageIDs   []string          `json:"imageIds,omitempty"`
}

// Artifact is an opaque handle to a stored image file.
type Artifact struct {
	Path   string `json:"path"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Image is one screenshot comparison within a result.
type Image struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parentId"`
	StateName string         `json:"stateName,omitempty"`
	Status    TestStatus     `json:"status"`
	ErrorKind ImageErrorKind `json:"errorKind,omitempty"`
	Expected  *Artifact      `json:"expected,omitempty"`
	Actual    *Artifact      `json:"actual,omitempty"`
	Diff      *Artifact      `json:"diff,omitempty"`
	Error     *ErrorDetails  `json:"error,omitempty"`
}

// Group is a computed cluster of browsers and results sharing a key.
type Group struct {
	ID         string   `json:"id"`
	Key        string   `json:"key"`
	Label      string   `json:"label"`
	BrowserIDs []string `json:"browserIds"`
	ResultIDs  []string `json:"resultIds"`
}

// BrowserState is the stored UI state of a browser.
type BrowserState struct {
	CheckStatus CheckStatus `json:"checkStatus"`
	// RetryIndex is the position in ResultIDs of the selected attempt.
	RetryIndex int `json:"retryIndex"`
}

// RunError is a runner-level error not attributable to a single test.
type RunError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}
