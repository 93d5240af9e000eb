package tree

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/leapstack-labs/leapreport/pkg/core"
)

// UpsertSuite inserts a suite or refreshes an existing one. The id and
// parent are derived from the suite path; a non-root suite whose parent is
// missing is rejected with a BrokenReferenceError.
func (t *Tree) UpsertSuite(s core.Suite) error {
	if len(s.SuitePath) == 0 {
		return fmt.Errorf("suite %q has empty path", s.ID)
	}
	id := core.SuiteID(s.SuitePath)
	if s.ID != "" && s.ID != id {
		return fmt.Errorf("suite id %q does not match path %q", s.ID, id)
	}
	parentID := ""
	if len(s.SuitePath) > 1 {
		parentID = core.SuiteID(s.SuitePath[:len(s.SuitePath)-1])
		if !t.suites.Has(parentID) {
			return &core.BrokenReferenceError{Kind: "suite", ID: id, ParentID: parentID}
		}
	}

	if _, ok := t.suites.Get(id); ok {
		return nil
	}

	t.suites.Put(id, &core.Suite{
		ID:        id,
		ParentID:  parentID,
		Name:      s.SuitePath[len(s.SuitePath)-1],
		SuitePath: slices.Clone(s.SuitePath),
		Root:      parentID == "",
	})
	if parentID == "" {
		t.roots = core.AppendUnique(t.roots, id)
	} else {
		parent, _ := t.suites.Get(parentID)
		parent.SuiteIDs = core.AppendUnique(parent.SuiteIDs, id)
	}
	t.touch(id)
	return nil
}

// EnsureSuitePath creates every missing suite from the root down to path and
// returns the id of the deepest one.
func (t *Tree) EnsureSuitePath(path []string) (string, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("empty suite path")
	}
	for i := 1; i <= len(path); i++ {
		if path[i-1] == "" {
			return "", fmt.Errorf("suite path has empty segment at %d", i-1)
		}
		if err := t.UpsertSuite(core.Suite{SuitePath: path[:i]}); err != nil {
			return "", err
		}
	}
	return core.SuiteID(path), nil
}

// UpsertBrowser inserts a browser under an existing suite or refreshes its
// version.
func (t *Tree) UpsertBrowser(b core.Browser) error {
	if b.Name == "" {
		return fmt.Errorf("browser %q has empty name", b.ID)
	}
	id := core.BrowserID(b.ParentID, b.Name)
	if b.ID != "" && b.ID != id {
		return fmt.Errorf("browser id %q does not match %q", b.ID, id)
	}
	parent, ok := t.suites.Get(b.ParentID)
	if !ok {
		return &core.BrokenReferenceError{Kind: "browser", ID: id, ParentID: b.ParentID}
	}

	if existing, ok := t.browsers.Get(id); ok {
		if b.Version != "" && b.Version != existing.Version {
			existing.Version = b.Version
			t.touch(id)
		}
		return nil
	}

	t.browsers.Put(id, &core.Browser{
		ID:       id,
		ParentID: b.ParentID,
		Name:     b.Name,
		Version:  b.Version,
	})
	t.states[id] = &core.BrowserState{}
	parent.BrowserIDs = core.AppendUnique(parent.BrowserIDs, id)
	t.touch(id)
	return nil
}

// UpsertResult inserts or overwrites one attempt. When loc is non-nil the
// suite chain and browser are created as needed; otherwise the parent
// browser must already exist.
//
// Overwriting an attempt that is already final with different content is
// applied and reported with a DuplicateAttemptError.
func (t *Tree) UpsertResult(r core.Result, loc *core.Location) error {
	parentID := r.ParentID
	if loc != nil {
		if err := loc.Validate(); err != nil {
			return err
		}
		if parentID != "" && parentID != loc.BrowserID() {
			return fmt.Errorf("result parent %q does not match location %q", parentID, loc.BrowserID())
		}
		parentID = loc.BrowserID()
	}
	if r.Attempt < 0 {
		return fmt.Errorf("result of %q has negative attempt %d", parentID, r.Attempt)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("result of %q has invalid status %q", parentID, r.Status)
	}
	id := core.ResultID(parentID, r.Attempt)
	if r.ID != "" && r.ID != id {
		return fmt.Errorf("result id %q does not match %q", r.ID, id)
	}

	if loc != nil {
		suiteID, err := t.EnsureSuitePath(loc.SuitePath)
		if err != nil {
			return err
		}
		if err := t.UpsertBrowser(core.Browser{ParentID: suiteID, Name: loc.Browser, Version: loc.Version}); err != nil {
			return err
		}
	}
	browser, ok := t.browsers.Get(parentID)
	if !ok {
		return &core.BrokenReferenceError{Kind: "result", ID: id, ParentID: parentID}
	}

	next := r
	next.ID = id
	next.ParentID = parentID

	var dup error
	if existing, ok := t.results.Get(id); ok {
		next.ImageIDs = existing.ImageIDs
		if existing.Status.IsFinal() && !sameResult(existing, &next) {
			dup = &core.DuplicateAttemptError{
				BrowserID: parentID,
				Attempt:   r.Attempt,
				Previous:  existing.Status,
				Next:      next.Status,
			}
		}
		*existing = next
	} else {
		next.ImageIDs = nil
		t.results.Put(id, &next)
		browser.ResultIDs = t.insertByAttempt(browser.ResultIDs, id, r.Attempt)
		if st, ok := t.states[parentID]; ok {
			st.RetryIndex = len(browser.ResultIDs) - 1
		}
	}
	t.touch(id)
	return dup
}

// insertByAttempt keeps result ids ordered by attempt.
func (t *Tree) insertByAttempt(ids []string, id string, attempt int) []string {
	pos := len(ids)
	for i, other := range ids {
		if r, ok := t.results.Get(other); ok && r.Attempt > attempt {
			pos = i
			break
		}
	}
	return slices.Insert(ids, pos, id)
}

func sameResult(a, b *core.Result) bool {
	x, y := *a, *b
	x.ImageIDs, y.ImageIDs = nil, nil
	return reflect.DeepEqual(x, y)
}

// UpsertImage inserts or overwrites an image under an existing result.
func (t *Tree) UpsertImage(img core.Image) error {
	id := img.ID
	if id == "" {
		if img.StateName == "" {
			return fmt.Errorf("image under %q has neither id nor state name", img.ParentID)
		}
		id = core.ImageID(img.ParentID, img.StateName, img.Status, 0)
	}
	if !img.Status.Valid() {
		return fmt.Errorf("image %q has invalid status %q", id, img.Status)
	}
	if !img.ErrorKind.Valid() {
		return fmt.Errorf("image %q has invalid error kind %q", id, img.ErrorKind)
	}
	result, ok := t.results.Get(img.ParentID)
	if !ok {
		return &core.BrokenReferenceError{Kind: "image", ID: id, ParentID: img.ParentID}
	}

	next := img
	next.ID = id
	if existing, ok := t.images.Get(id); ok {
		*existing = next
	} else {
		t.images.Put(id, &next)
		result.ImageIDs = core.AppendUnique(result.ImageIDs, id)
	}
	t.touch(id)
	return nil
}

// ApplyBranch applies a self-contained branch: suite chain, browser, result
// and images. The branch is validated before anything is written, so a bad
// branch leaves the tree untouched.
//
// Images replace the attempt's previous image set when the branch carries
// any; a branch without images keeps the existing ones.
func (t *Tree) ApplyBranch(b core.TestBranch) error {
	if err := validateBranch(&b); err != nil {
		return err
	}

	fact := b.Result
	r := core.Result{
		Attempt:    fact.Attempt,
		Status:     fact.Status,
		Timestamp:  fact.Timestamp,
		Duration:   fact.Duration,
		Error:      fact.Error,
		SkipReason: fact.SkipReason,
		URL:        fact.URL,
		Meta:       fact.Meta,
		Tags:       fact.Tags,
		Extra:      fact.Extra,
	}
	loc := b.Location
	dup := t.UpsertResult(r, &loc)
	if dup != nil && !isDuplicate(dup) {
		return dup
	}
	if len(b.Images) == 0 {
		return dup
	}

	resultID := b.ResultID()
	keep := make(map[string]bool, len(b.Images))
	for i, fact := range b.Images {
		id := core.ImageID(resultID, fact.StateName, fact.Status, i)
		keep[id] = true
		img := core.Image{
			ID:        id,
			ParentID:  resultID,
			StateName: fact.StateName,
			Status:    fact.Status,
			ErrorKind: fact.ErrorKind,
			Expected:  fact.Expected,
			Actual:    fact.Actual,
			Diff:      fact.Diff,
			Error:     fact.Error,
		}
		if err := t.UpsertImage(img); err != nil {
			return err
		}
	}
	result, _ := t.results.Get(resultID)
	for _, id := range slices.Clone(result.ImageIDs) {
		if !keep[id] {
			_ = t.RemoveImage(id)
		}
	}
	return dup
}

func validateBranch(b *core.TestBranch) error {
	if err := b.Location.Validate(); err != nil {
		return err
	}
	if b.Result.Attempt < 0 {
		return fmt.Errorf("negative attempt %d", b.Result.Attempt)
	}
	if !b.Result.Status.Valid() {
		return fmt.Errorf("invalid result status %q", b.Result.Status)
	}
	seen := make(map[string]bool, len(b.Images))
	for i, img := range b.Images {
		if !img.Status.Valid() {
			return fmt.Errorf("image %d: invalid status %q", i, img.Status)
		}
		if !img.ErrorKind.Valid() {
			return fmt.Errorf("image %d: invalid error kind %q", i, img.ErrorKind)
		}
		id := core.ImageID("", img.StateName, img.Status, i)
		if seen[id] {
			return fmt.Errorf("image %d: duplicate state %q", i, img.StateName)
		}
		seen[id] = true
	}
	return nil
}
