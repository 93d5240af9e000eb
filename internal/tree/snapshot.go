package tree

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapreport/pkg/core"
)

// Reset empties the tree. Revisions keep counting up so cached derived
// state from before the reset is never reused.
func (t *Tree) Reset() {
	clock := t.clock
	*t = *New()
	t.clock = clock + 1
}

// Snapshot returns a deep copy of the tree.
func (t *Tree) Snapshot() *core.Snapshot {
	s := core.NewSnapshot()
	s.RunID = t.runID
	s.Seq = t.seq
	s.Ended = t.ended
	s.RootSuiteIDs = slices.Clone(t.roots)
	s.Suites = cloneTable(t.suites, cloneSuite)
	s.Browsers = cloneTable(t.browsers, cloneBrowser)
	s.Results = cloneTable(t.results, cloneResult)
	s.Images = cloneTable(t.images, cloneImage)
	for id, st := range t.states {
		cp := *st
		s.BrowserStates[id] = &cp
	}
	s.Errors = slices.Clone(t.errors)
	return s
}

// Restore replaces the tree's contents with a snapshot. The snapshot is
// checked for dangling references first; on error the tree is unchanged.
func (t *Tree) Restore(s *core.Snapshot) error {
	if s == nil {
		return fmt.Errorf("nil snapshot")
	}
	if major(s.ProtocolVersion) != major(core.ProtocolVersion) {
		return fmt.Errorf("snapshot protocol %q is incompatible with %q", s.ProtocolVersion, core.ProtocolVersion)
	}
	if err := checkIntegrity(s); err != nil {
		return err
	}

	clock := t.clock
	next := New()
	next.runID = s.RunID
	next.seq = s.Seq
	next.ended = s.Ended
	next.roots = slices.Clone(s.RootSuiteIDs)
	next.suites = cloneTable(s.Suites, cloneSuite)
	next.browsers = cloneTable(s.Browsers, cloneBrowser)
	next.results = cloneTable(s.Results, cloneResult)
	next.images = cloneTable(s.Images, cloneImage)
	next.errors = slices.Clone(s.Errors)
	for _, id := range next.browsers.AllIDs {
		st := core.BrowserState{}
		if saved, ok := s.BrowserStates[id]; ok && saved != nil {
			st = *saved
		}
		next.states[id] = &st
	}

	next.clock = clock + 1
	for _, tbl := range [][]string{next.suites.AllIDs, next.browsers.AllIDs, next.results.AllIDs, next.images.AllIDs} {
		for _, id := range tbl {
			next.rev[id] = next.clock
		}
	}
	*t = *next
	return nil
}

func major(version string) string {
	v := strings.TrimPrefix(version, "v")
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}

func checkIntegrity(s *core.Snapshot) error {
	for _, id := range s.RootSuiteIDs {
		if !s.Suites.Has(id) {
			return fmt.Errorf("snapshot root %q is not a suite", id)
		}
	}
	for _, id := range s.Suites.AllIDs {
		suite, ok := s.Suites.Get(id)
		if !ok {
			return fmt.Errorf("snapshot lists missing suite %q", id)
		}
		if want := core.SuiteID(suite.SuitePath); id != want {
			return fmt.Errorf("snapshot suite %q has path %q", id, suite.SuitePath)
		}
		if suite.ParentID != "" && !s.Suites.Has(suite.ParentID) {
			return &core.BrokenReferenceError{Kind: "suite", ID: id, ParentID: suite.ParentID}
		}
		for _, child := range suite.SuiteIDs {
			if !s.Suites.Has(child) {
				return fmt.Errorf("suite %q lists missing suite %q", id, child)
			}
		}
		for _, child := range suite.BrowserIDs {
			if !s.Browsers.Has(child) {
				return fmt.Errorf("suite %q lists missing browser %q", id, child)
			}
		}
	}
	for _, id := range s.Browsers.AllIDs {
		b, ok := s.Browsers.Get(id)
		if !ok {
			return fmt.Errorf("snapshot lists missing browser %q", id)
		}
		if want := core.BrowserID(b.ParentID, b.Name); id != want {
			return fmt.Errorf("snapshot browser %q should be %q", id, want)
		}
		if !s.Suites.Has(b.ParentID) {
			return &core.BrokenReferenceError{Kind: "browser", ID: id, ParentID: b.ParentID}
		}
		for _, child := range b.ResultIDs {
			if !s.Results.Has(child) {
				return fmt.Errorf("browser %q lists missing result %q", id, child)
			}
		}
	}
	for _, id := range s.Results.AllIDs {
		r, ok := s.Results.Get(id)
		if !ok {
			return fmt.Errorf("snapshot lists missing result %q", id)
		}
		if !s.Browsers.Has(r.ParentID) {
			return &core.BrokenReferenceError{Kind: "result", ID: id, ParentID: r.ParentID}
		}
		for _, child := range r.ImageIDs {
			if !s.Images.Has(child) {
				return fmt.Errorf("result %q lists missing image %q", id, child)
			}
		}
	}
	for _, id := range s.Images.AllIDs {
		img, ok := s.Images.Get(id)
		if !ok {
			return fmt.Errorf("snapshot lists missing image %q", id)
		}
		if !s.Results.Has(img.ParentID) {
			return &core.BrokenReferenceError{Kind: "image", ID: id, ParentID: img.ParentID}
		}
	}
	return nil
}

func cloneTable[T any](src core.Table[T], clone func(*T) *T) core.Table[T] {
	dst := core.NewTable[T]()
	dst.AllIDs = make([]string, 0, len(src.AllIDs))
	for _, id := range src.AllIDs {
		if v, ok := src.ByID[id]; ok {
			dst.ByID[id] = clone(v)
			dst.AllIDs = append(dst.AllIDs, id)
		}
	}
	return dst
}

func cloneSuite(s *core.Suite) *core.Suite {
	cp := *s
	cp.SuitePath = slices.Clone(s.SuitePath)
	cp.SuiteIDs = slices.Clone(s.SuiteIDs)
	cp.BrowserIDs = slices.Clone(s.BrowserIDs)
	return &cp
}

func cloneBrowser(b *core.Browser) *core.Browser {
	cp := *b
	cp.ResultIDs = slices.Clone(b.ResultIDs)
	return &cp
}

func cloneResult(r *core.Result) *core.Result {
	cp := *r
	if r.Error != nil {
		e := *r.Error
		cp.Error = &e
	}
	cp.Meta = maps.Clone(r.Meta)
	cp.Tags = slices.Clone(r.Tags)
	cp.Extra = slices.Clone(r.Extra)
	cp.ImageIDs = slices.Clone(r.ImageIDs)
	return &cp
}

func cloneImage(img *core.Image) *core.Image {
	cp := *img
	cp.Expected = cloneArtifact(img.Expected)
	cp.Actual = cloneArtifact(img.Actual)
	cp.Diff = cloneArtifact(img.Diff)
	if img.Error != nil {
		e := *img.Error
		cp.Error = &e
	}
	return &cp
}

func cloneArtifact(a *core.Artifact) *core.Artifact {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
