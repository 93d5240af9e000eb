// Package tree implements the normalized test-result tree: suites, browser
// executions, attempt results and images stored in flat tables keyed by id.
//
// A Tree is not safe for concurrent use. The server owns one inside the
// pipeline goroutine; each client reducer owns its own behind a lock.
package tree

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapreport/pkg/core"
)

// ErrNotFound is returned when an operation names an id that does not exist.
var ErrNotFound = errors.New("not found")

// Kind identifies the table an id belongs to.
type Kind int

// Entity kinds.
const (
	KindUnknown Kind = iota
	KindSuite
	KindBrowser
	KindResult
	KindImage
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindSuite:
		return "suite"
	case KindBrowser:
		return "browser"
	case KindResult:
		return "result"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Tree is the entity store.
type Tree struct {
	suites   core.Table[core.Suite]
	browsers core.Table[core.Browser]
	results  core.Table[core.Result]
	images   core.Table[core.Image]
	states   map[string]*core.BrowserState
	roots    []string
	errors   []core.RunError

	runID string
	seq   uint64
	ended bool

	// rev holds the tick of the last mutation at or below each entity.
	rev   map[string]uint64
	clock uint64
}

// New creates an empty tree.
func New() *Tree {
	return &Tree{
		suites:   core.NewTable[core.Suite](),
		browsers: core.NewTable[core.Browser](),
		results:  core.NewTable[core.Result](),
		images:   core.NewTable[core.Image](),
		states:   make(map[string]*core.BrowserState),
		rev:      make(map[string]uint64),
	}
}

// Suite returns the suite with the given id.
func (t *Tree) Suite(id string) (*core.Suite, bool) { return t.suites.Get(id) }

// Browser returns the browser with the given id.
func (t *Tree) Browser(id string) (*core.Browser, bool) { return t.browsers.Get(id) }

// Result returns the result with the given id.
func (t *Tree) Result(id string) (*core.Result, bool) { return t.results.Get(id) }

// Image returns the image with the given id.
func (t *Tree) Image(id string) (*core.Image, bool) { return t.images.Get(id) }

// BrowserState returns the stored state of a browser. Unknown ids get the
// zero state.
func (t *Tree) BrowserState(id string) core.BrowserState {
	if st, ok := t.states[id]; ok {
		return *st
	}
	return core.BrowserState{}
}

// RootSuiteIDs returns the ids of top-level suites in insertion order.
func (t *Tree) RootSuiteIDs() []string { return t.roots }

// SuiteIDs returns all suite ids in insertion order.
func (t *Tree) SuiteIDs() []string { return t.suites.AllIDs }

// BrowserIDs returns all browser ids in insertion order.
func (t *Tree) BrowserIDs() []string { return t.browsers.AllIDs }

// ResultIDs returns all result ids in insertion order.
func (t *Tree) ResultIDs() []string { return t.results.AllIDs }

// ImageIDs returns all image ids in insertion order.
func (t *Tree) ImageIDs() []string { return t.images.AllIDs }

// Errors returns runner-level errors in arrival order.
func (t *Tree) Errors() []core.RunError { return t.errors }

// RunID returns the id of the run the tree describes.
func (t *Tree) RunID() string { return t.runID }

// SetRunID sets the run id.
func (t *Tree) SetRunID(id string) { t.runID = id }

// Seq returns the sequence number of the last applied event.
func (t *Tree) Seq() uint64 { return t.seq }

// Ended reports whether END has been applied.
func (t *Tree) Ended() bool { return t.ended }

// Kind returns the kind of entity id names.
func (t *Tree) Kind(id string) Kind {
	switch {
	case t.suites.Has(id):
		return KindSuite
	case t.browsers.Has(id):
		return KindBrowser
	case t.results.Has(id):
		return KindResult
	case t.images.Has(id):
		return KindImage
	default:
		return KindUnknown
	}
}

// Children returns the ordered child ids of an entity. Suites list child
// suites before browsers.
func (t *Tree) Children(id string) []string {
	switch t.Kind(id) {
	case KindSuite:
		s, _ := t.suites.Get(id)
		out := make([]string, 0, len(s.SuiteIDs)+len(s.BrowserIDs))
		out = append(out, s.SuiteIDs...)
		return append(out, s.BrowserIDs...)
	case KindBrowser:
		b, _ := t.browsers.Get(id)
		return b.ResultIDs
	case KindResult:
		r, _ := t.results.Get(id)
		return r.ImageIDs
	default:
		return nil
	}
}

// Revision returns the tick of the last mutation at or below id.
func (t *Tree) Revision(id string) uint64 { return t.rev[id] }

// Generation returns the tick of the last mutation anywhere in the tree.
func (t *Tree) Generation() uint64 { return t.clock }

// DescendantBrowsers returns the browser ids in a suite's subtree, depth first.
func (t *Tree) DescendantBrowsers(suiteID string) []string {
	var out []string
	var walk func(id string)
	walk = func(id string) {
		s, ok := t.suites.Get(id)
		if !ok {
			return
		}
		for _, child := range s.SuiteIDs {
			walk(child)
		}
		out = append(out, s.BrowserIDs...)
	}
	walk(suiteID)
	return out
}

// LastResult returns the highest attempt of a browser.
func (t *Tree) LastResult(browserID string) (*core.Result, bool) {
	b, ok := t.browsers.Get(browserID)
	if !ok || len(b.ResultIDs) == 0 {
		return nil, false
	}
	return t.results.Get(b.ResultIDs[len(b.ResultIDs)-1])
}

func (t *Tree) parentOf(id string) string {
	if img, ok := t.images.Get(id); ok {
		return img.ParentID
	}
	if r, ok := t.results.Get(id); ok {
		return r.ParentID
	}
	if b, ok := t.browsers.Get(id); ok {
		return b.ParentID
	}
	if s, ok := t.suites.Get(id); ok {
		return s.ParentID
	}
	return ""
}

// touch marks id and all of its ancestors as changed.
func (t *Tree) touch(id string) {
	t.clock++
	for cur := id; cur != ""; cur = t.parentOf(cur) {
		t.rev[cur] = t.clock
	}
}

func notFound(kind Kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}
