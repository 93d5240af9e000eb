package tree

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leapstack-labs/leapreport/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func branch(path []string, browser string, attempt int, status core.TestStatus, images ...core.ImageFact) core.TestBranch {
	return core.TestBranch{
		Location: core.Location{SuitePath: path, Browser: browser},
		Result:   core.ResultFact{Attempt: attempt, Status: status, Timestamp: int64(1000 + attempt)},
		Images:   images,
	}
}

func TestApplyBranch_SelfHealing(t *testing.T) {
	tr := New()

	require.NoError(t, tr.ApplyBranch(branch([]string{"root", "child", "test"}, "chrome", 0, core.StatusSuccess)))

	assert.Equal(t, []string{"root"}, tr.RootSuiteIDs())
	assert.Equal(t, []string{"root", "root child", "root child test"}, tr.SuiteIDs())

	leaf, ok := tr.Suite("root child test")
	require.True(t, ok)
	assert.Equal(t, "root child", leaf.ParentID)
	assert.Equal(t, "test", leaf.Name)
	assert.Equal(t, []string{"root child test@chrome"}, leaf.BrowserIDs)

	r, ok := tr.Result("root child test@chrome#0")
	require.True(t, ok)
	assert.Equal(t, core.StatusSuccess, r.Status)
	assert.Equal(t, "root child test@chrome", r.ParentID)
}

func TestApplyBranch_Idempotent(t *testing.T) {
	b := branch([]string{"s"}, "firefox", 0, core.StatusFail,
		core.ImageFact{StateName: "header", Status: core.StatusFail, ErrorKind: core.ImageErrorPixelMismatch})

	once := New()
	require.NoError(t, once.ApplyBranch(b))

	twice := New()
	require.NoError(t, twice.ApplyBranch(b))
	require.NoError(t, twice.ApplyBranch(b))

	if diff := cmp.Diff(once.Snapshot(), twice.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-once +twice):\n%s", diff)
	}
}

func TestUpsert_BrokenReference(t *testing.T) {
	tests := []struct {
		name string
		op   func(tr *Tree) error
	}{
		{
			name: "suite with missing parent",
			op:   func(tr *Tree) error { return tr.UpsertSuite(core.Suite{SuitePath: []string{"ghost", "child"}}) },
		},
		{
			name: "browser with missing suite",
			op:   func(tr *Tree) error { return tr.UpsertBrowser(core.Browser{ParentID: "ghost", Name: "chrome"}) },
		},
		{
			name: "result without location or browser",
			op: func(tr *Tree) error {
				return tr.UpsertResult(core.Result{ParentID: "base@ghost", Status: core.StatusSuccess}, nil)
			},
		},
		{
			name: "image with missing result",
			op: func(tr *Tree) error {
				return tr.UpsertImage(core.Image{ParentID: "base@chrome#7", StateName: "x", Status: core.StatusSuccess})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			require.NoError(t, tr.ApplyBranch(branch([]string{"base"}, "chrome", 0, core.StatusSuccess)))
			before := tr.Snapshot()

			err := tt.op(tr)
			require.Error(t, err)
			var broken *core.BrokenReferenceError
			assert.True(t, errors.As(err, &broken))
			assert.Empty(t, cmp.Diff(before, tr.Snapshot()))
		})
	}
}

func TestApplyBranch_AllOrNothing(t *testing.T) {
	tr := New()
	bad := branch([]string{"a", "b"}, "chrome", 0, core.StatusFail,
		core.ImageFact{StateName: "ok", Status: core.StatusSuccess},
		core.ImageFact{StateName: "bad", Status: core.StatusFail, ErrorKind: "smudged"},
	)

	require.Error(t, tr.ApplyBranch(bad))
	assert.Empty(t, tr.SuiteIDs())
	assert.Empty(t, tr.BrowserIDs())
	assert.Empty(t, tr.ResultIDs())
}

func TestUpsertResult_DuplicateAttempt(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"s"}, "chrome", 0, core.StatusFail)))

	// same content again is a no-op
	require.NoError(t, tr.ApplyBranch(branch([]string{"s"}, "chrome", 0, core.StatusFail)))

	err := tr.ApplyBranch(branch([]string{"s"}, "chrome", 0, core.StatusSuccess))
	require.Error(t, err)
	var dup *core.DuplicateAttemptError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, core.StatusFail, dup.Previous)
	assert.Equal(t, core.StatusSuccess, dup.Next)

	r, _ := tr.Result("s@chrome#0")
	assert.Equal(t, core.StatusSuccess, r.Status, "later write wins")
}

func TestUpsertResult_OrderedByAttempt(t *testing.T) {
	tr := New()
	for _, attempt := range []int{2, 0, 1} {
		require.NoError(t, tr.ApplyBranch(branch([]string{"s"}, "chrome", attempt, core.StatusFail)))
	}

	b, _ := tr.Browser("s@chrome")
	assert.Equal(t, []string{"s@chrome#0", "s@chrome#1", "s@chrome#2"}, b.ResultIDs)

	last, ok := tr.LastResult("s@chrome")
	require.True(t, ok)
	assert.Equal(t, 2, last.Attempt)
}

func TestApplyBranch_ReplacesImages(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"s"}, "chrome", 0, core.StatusFail,
		core.ImageFact{StateName: "a", Status: core.StatusFail, ErrorKind: core.ImageErrorPixelMismatch},
		core.ImageFact{StateName: "b", Status: core.StatusSuccess},
	)))

	require.NoError(t, tr.ApplyBranch(branch([]string{"s"}, "chrome", 0, core.StatusSuccess,
		core.ImageFact{StateName: "a", Status: core.StatusSuccess},
	)))

	r, _ := tr.Result("s@chrome#0")
	assert.Equal(t, []string{"s@chrome#0/a"}, r.ImageIDs)
	_, ok := tr.Image("s@chrome#0/b")
	assert.False(t, ok)

	// a branch without images keeps the current set
	require.NoError(t, tr.ApplyBranch(branch([]string{"s"}, "chrome", 0, core.StatusSuccess)))
	r, _ = tr.Result("s@chrome#0")
	assert.Equal(t, []string{"s@chrome#0/a"}, r.ImageIDs)
}

func TestUpsertImage_WithoutStateName(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"s"}, "chrome", 0, core.StatusError,
		core.ImageFact{Status: core.StatusError, ErrorKind: core.ImageErrorNoReference},
		core.ImageFact{Status: core.StatusError, ErrorKind: core.ImageErrorNoReference},
	)))

	r, _ := tr.Result("s@chrome#0")
	assert.Equal(t, []string{"s@chrome#0/error_0", "s@chrome#0/error_1"}, r.ImageIDs)
}

func TestRemove_Cascades(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"a", "x"}, "chrome", 0, core.StatusFail,
		core.ImageFact{StateName: "s1", Status: core.StatusFail})))
	require.NoError(t, tr.ApplyBranch(branch([]string{"a", "y"}, "chrome", 0, core.StatusSuccess)))
	require.NoError(t, tr.ApplyBranch(branch([]string{"b"}, "chrome", 0, core.StatusSuccess)))

	require.NoError(t, tr.RemoveSuite("a x"))

	assert.Equal(t, []string{"a", "a y", "b"}, tr.SuiteIDs())
	assert.Equal(t, []string{"a y@chrome", "b@chrome"}, tr.BrowserIDs())
	assert.Equal(t, []string{"a y@chrome#0", "b@chrome#0"}, tr.ResultIDs())
	assert.Empty(t, tr.ImageIDs())

	parent, _ := tr.Suite("a")
	assert.Equal(t, []string{"a y"}, parent.SuiteIDs)

	require.NoError(t, tr.RemoveSuite("a"))
	assert.Equal(t, []string{"b"}, tr.RootSuiteIDs())
	assert.Equal(t, []string{"b"}, tr.SuiteIDs())

	assert.ErrorIs(t, tr.RemoveSuite("a"), ErrNotFound)
}

func TestRemoveResult_ClampsRetryIndex(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"s"}, "chrome", 0, core.StatusFail)))
	require.NoError(t, tr.ApplyBranch(branch([]string{"s"}, "chrome", 1, core.StatusSuccess)))
	assert.Equal(t, 1, tr.BrowserState("s@chrome").RetryIndex)

	require.NoError(t, tr.RemoveResult("s@chrome#1"))

	b, _ := tr.Browser("s@chrome")
	assert.Equal(t, []string{"s@chrome#0"}, b.ResultIDs)
	assert.Equal(t, 0, tr.BrowserState("s@chrome").RetryIndex)
	assert.True(t, tr.Kind("s") == KindSuite, "ancestors survive")
}

func TestRemoveBrowser(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"s"}, "chrome", 0, core.StatusSuccess)))
	require.NoError(t, tr.ApplyBranch(branch([]string{"s"}, "firefox", 0, core.StatusSuccess)))

	require.NoError(t, tr.RemoveBrowser("s@chrome"))

	s, _ := tr.Suite("s")
	assert.Equal(t, []string{"s@firefox"}, s.BrowserIDs)
	assert.Equal(t, []string{"s@firefox#0"}, tr.ResultIDs())
	assert.Equal(t, core.BrowserState{}, tr.BrowserState("s@chrome"))
}

func TestRevision_PropagatesToAncestors(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"a", "x"}, "chrome", 0, core.StatusRunning)))
	require.NoError(t, tr.ApplyBranch(branch([]string{"b"}, "chrome", 0, core.StatusRunning)))

	revA, revX, revB := tr.Revision("a"), tr.Revision("a x"), tr.Revision("b")

	require.NoError(t, tr.ApplyBranch(branch([]string{"a", "x"}, "chrome", 0, core.StatusSuccess)))

	assert.Greater(t, tr.Revision("a"), revA)
	assert.Greater(t, tr.Revision("a x"), revX)
	assert.Equal(t, revB, tr.Revision("b"))
	assert.Equal(t, tr.Generation(), tr.Revision("a x@chrome#0"))
}

func TestSnapshotRestore(t *testing.T) {
	tr := New()
	tr.SetRunID("run-1")
	require.NoError(t, tr.ApplyBranch(branch([]string{"a"}, "chrome", 0, core.StatusFail,
		core.ImageFact{StateName: "s", Status: core.StatusFail, Diff: &core.Artifact{Path: "d.png"}})))
	require.NoError(t, tr.SetBrowserCheck("a@chrome", core.Checked))

	snap := tr.Snapshot()

	restored := New()
	require.NoError(t, restored.Restore(snap))
	assert.Empty(t, cmp.Diff(snap, restored.Snapshot()))
	assert.Equal(t, "run-1", restored.RunID())
	assert.Equal(t, core.Checked, restored.BrowserState("a@chrome").CheckStatus)

	// snapshots are copies
	img, _ := restored.Image("a@chrome#0/s")
	img.Diff.Path = "changed.png"
	orig, _ := tr.Image("a@chrome#0/s")
	assert.Equal(t, "d.png", orig.Diff.Path)
}

func TestRestore_RejectsDanglingReferences(t *testing.T) {
	snap := core.NewSnapshot()
	snap.Browsers.Put("ghost@chrome", &core.Browser{ID: "ghost@chrome", ParentID: "ghost", Name: "chrome"})

	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"keep"}, "chrome", 0, core.StatusSuccess)))

	err := tr.Restore(snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBrokenReference)
	assert.Equal(t, []string{"keep"}, tr.SuiteIDs())

	incompatible := core.NewSnapshot()
	incompatible.ProtocolVersion = "2.0.0"
	assert.Error(t, tr.Restore(incompatible))
}

func TestReset(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"a"}, "chrome", 0, core.StatusSuccess)))
	gen := tr.Generation()

	tr.Reset()

	assert.Empty(t, tr.SuiteIDs())
	assert.Greater(t, tr.Generation(), gen)
}

func TestChildren(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"a", "x"}, "chrome", 0, core.StatusSuccess)))
	require.NoError(t, tr.ApplyBranch(branch([]string{"a"}, "chrome", 0, core.StatusSuccess,
		core.ImageFact{StateName: "p", Status: core.StatusSuccess})))

	assert.Equal(t, []string{"a x", "a@chrome"}, tr.Children("a"))
	assert.Equal(t, []string{"a@chrome#0"}, tr.Children("a@chrome"))
	assert.Equal(t, []string{"a@chrome#0/p"}, tr.Children("a@chrome#0"))
	assert.Nil(t, tr.Children("missing"))
}

func TestIDs_TitlesWithSpaces(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"login form", "t"}, "chrome", 0, core.StatusFail)))
	require.NoError(t, tr.ApplyBranch(branch([]string{"login", "form t"}, "chrome", 0, core.StatusSuccess)))

	assert.Equal(t, []string{"login%20form", "login%20form t", "login", "login form%20t"}, tr.SuiteIDs())

	first, ok := tr.Result("login%20form t@chrome#0")
	require.True(t, ok)
	assert.Equal(t, core.StatusFail, first.Status, "other test's result is untouched")

	login, ok := tr.Suite("login")
	require.True(t, ok)
	assert.Equal(t, []string{"login form%20t"}, login.SuiteIDs)
}

func TestIDs_SuiteNamedLikeBrowser(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyBranch(branch([]string{"auth", "login"}, "chrome", 0, core.StatusFail)))
	require.NoError(t, tr.ApplyBranch(branch([]string{"auth", "login", "chrome"}, "firefox", 0, core.StatusSuccess)))

	assert.Equal(t, KindBrowser, tr.Kind("auth login@chrome"))
	assert.Equal(t, KindSuite, tr.Kind("auth login chrome"))
	assert.Equal(t, []string{"auth login chrome", "auth login@chrome"}, tr.Children("auth login"))

	last, ok := tr.LastResult("auth login@chrome")
	require.True(t, ok)
	assert.Equal(t, core.StatusFail, last.Status)
}

func TestRestore_RejectsMismatchedIDs(t *testing.T) {
	snap := core.NewSnapshot()
	snap.Suites.Put("login form t", &core.Suite{ID: "login form t", Name: "t", SuitePath: []string{"login form", "t"}})
	snap.RootSuiteIDs = []string{"login form t"}

	tr := New()
	err := tr.Restore(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has path")
}
