package aggregate

import (
	"testing"

	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/leapstack-labs/leapreport/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failWith(t *testing.T, tr *tree.Tree, path []string, browser string, attempt int, msg string, images ...core.ImageFact) {
	t.Helper()
	b := core.TestBranch{
		Location: core.Location{SuitePath: path, Browser: browser},
		Result:   core.ResultFact{Attempt: attempt, Status: core.StatusFail, Meta: map[string]string{"file": path[0] + ".js"}},
		Images:   images,
	}
	if msg != "" {
		b.Result.Error = &core.ErrorDetails{Message: msg}
	}
	require.NoError(t, tr.ApplyBranch(b))
}

func TestGroups_ByError(t *testing.T) {
	tr := tree.New()
	failWith(t, tr, []string{"a"}, "chrome", 0, "timeout\n at line 3")
	failWith(t, tr, []string{"a"}, "chrome", 1, "timeout")
	failWith(t, tr, []string{"b"}, "chrome", 0, "timeout")
	failWith(t, tr, []string{"c"}, "chrome", 0, "",
		core.ImageFact{StateName: "x", Status: core.StatusFail, ErrorKind: core.ImageErrorPixelMismatch})
	failWith(t, tr, []string{"d"}, "chrome", 0, "element not found")
	failWith(t, tr, []string{"e"}, "chrome", 0, "element not found")

	e := New(tr, Options{GroupBy: GroupByError})
	groups := e.Groups()
	require.Len(t, groups, 3)

	assert.Equal(t, "timeout", groups[0].Label)
	assert.Equal(t, []string{"a@chrome#0", "a@chrome#1", "b@chrome#0"}, groups[0].ResultIDs)
	assert.Equal(t, []string{"a@chrome", "b@chrome"}, groups[0].BrowserIDs)

	assert.Equal(t, "element not found", groups[1].Label)
	assert.Equal(t, imageMismatchLabel, groups[2].Label)
	assert.Equal(t, "error timeout", groups[0].ID)
}

func TestGroups_ByMetaAndCache(t *testing.T) {
	tr := tree.New()
	failWith(t, tr, []string{"a"}, "chrome", 0, "x")
	failWith(t, tr, []string{"b"}, "chrome", 0, "y")

	e := New(tr, Options{})
	assert.Nil(t, e.Groups())

	e.SetGroupBy("meta.file")
	groups := e.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "a.js", groups[0].Label)

	failWith(t, tr, []string{"a"}, "firefox", 0, "x")
	groups = e.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"a@chrome", "a@firefox"}, groups[0].BrowserIDs)
}

func TestParseGroupKey(t *testing.T) {
	for _, ok := range []string{"", "error", "meta.url"} {
		_, err := ParseGroupKey(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"meta.", "status"} {
		_, err := ParseGroupKey(bad)
		assert.Error(t, err, bad)
	}
}
