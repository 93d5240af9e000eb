package tree

import (
	"slices"

	"github.com/leapstack-labs/leapreport/pkg/core"
)

// Removal cascades downward only: descendants go with the entity, ancestors
// merely lose a child id.

// RemoveImage deletes an image.
func (t *Tree) RemoveImage(id string) error {
	img, ok := t.images.Get(id)
	if !ok {
		return notFound(KindImage, id)
	}
	if r, ok := t.results.Get(img.ParentID); ok {
		r.ImageIDs = core.RemoveID(r.ImageIDs, id)
	}
	t.images.Delete(id)
	delete(t.rev, id)
	t.touch(img.ParentID)
	return nil
}

// RemoveResult deletes an attempt and its images.
func (t *Tree) RemoveResult(id string) error {
	r, ok := t.results.Get(id)
	if !ok {
		return notFound(KindResult, id)
	}
	t.dropResult(r)
	if st, ok := t.states[r.ParentID]; ok {
		if b, ok := t.browsers.Get(r.ParentID); ok {
			st.RetryIndex = min(st.RetryIndex, max(len(b.ResultIDs)-1, 0))
		}
	}
	t.touch(r.ParentID)
	return nil
}

func (t *Tree) dropResult(r *core.Result) {
	for _, imgID := range r.ImageIDs {
		t.images.Delete(imgID)
		delete(t.rev, imgID)
	}
	if b, ok := t.browsers.Get(r.ParentID); ok {
		b.ResultIDs = core.RemoveID(b.ResultIDs, r.ID)
	}
	t.results.Delete(r.ID)
	delete(t.rev, r.ID)
}

// RemoveBrowser deletes a browser with all of its attempts.
func (t *Tree) RemoveBrowser(id string) error {
	b, ok := t.browsers.Get(id)
	if !ok {
		return notFound(KindBrowser, id)
	}
	t.dropBrowser(b)
	t.touch(b.ParentID)
	return nil
}

func (t *Tree) dropBrowser(b *core.Browser) {
	for _, resultID := range slices.Clone(b.ResultIDs) {
		if r, ok := t.results.Get(resultID); ok {
			t.dropResult(r)
		}
	}
	if s, ok := t.suites.Get(b.ParentID); ok {
		s.BrowserIDs = core.RemoveID(s.BrowserIDs, b.ID)
	}
	t.browsers.Delete(b.ID)
	delete(t.states, b.ID)
	delete(t.rev, b.ID)
}

// RemoveSuite deletes a suite and its whole subtree.
func (t *Tree) RemoveSuite(id string) error {
	s, ok := t.suites.Get(id)
	if !ok {
		return notFound(KindSuite, id)
	}
	t.dropSuite(s)
	if s.ParentID == "" {
		t.roots = core.RemoveID(t.roots, id)
		t.clock++
	} else {
		t.touch(s.ParentID)
	}
	return nil
}

func (t *Tree) dropSuite(s *core.Suite) {
	for _, childID := range slices.Clone(s.SuiteIDs) {
		if child, ok := t.suites.Get(childID); ok {
			t.dropSuite(child)
		}
	}
	for _, browserID := range slices.Clone(s.BrowserIDs) {
		if b, ok := t.browsers.Get(browserID); ok {
			t.dropBrowser(b)
		}
	}
	if parent, ok := t.suites.Get(s.ParentID); ok {
		parent.SuiteIDs = core.RemoveID(parent.SuiteIDs, s.ID)
	}
	t.suites.Delete(s.ID)
	delete(t.rev, s.ID)
}
