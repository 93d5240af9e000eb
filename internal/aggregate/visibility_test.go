package aggregate

import (
	"testing"

	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/leapstack-labs/leapreport/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func visibilityTree(t *testing.T) *tree.Tree {
	t.Helper()
	tr := tree.New()
	apply(t, tr, []string{"login", "ok"}, "chrome", 0, core.StatusSuccess)
	apply(t, tr, []string{"login", "broken"}, "chrome", 0, core.StatusFail)
	apply(t, tr, []string{"cart", "flaky"}, "firefox", 0, core.StatusFail)
	apply(t, tr, []string{"cart", "flaky"}, "firefox", 1, core.StatusSuccess)
	return tr
}

func TestShouldBeShown(t *testing.T) {
	tests := []struct {
		name  string
		view  View
		shown []string
	}{
		{
			name:  "all",
			view:  View{Mode: ViewAll},
			shown: []string{"login ok@chrome", "login broken@chrome", "cart flaky@firefox", "login", "cart"},
		},
		{
			name:  "failed",
			view:  View{Mode: ViewFailed},
			shown: []string{"login broken@chrome", "login"},
		},
		{
			name:  "passed",
			view:  View{Mode: ViewPassed},
			shown: []string{"login ok@chrome", "cart flaky@firefox", "login", "cart"},
		},
		{
			name:  "retried",
			view:  View{Mode: ViewRetried},
			shown: []string{"cart flaky@firefox", "cart"},
		},
		{
			name:  "name substring",
			view:  View{NameFilter: "flak"},
			shown: []string{"cart flaky@firefox", "cart"},
		},
		{
			name:  "name strict",
			view:  View{NameFilter: "login ok", StrictMatch: true},
			shown: []string{"login ok@chrome", "login"},
		},
		{
			name:  "browser filter",
			view:  View{Browsers: []BrowserFilter{{Name: "firefox"}}},
			shown: []string{"cart flaky@firefox", "cart"},
		},
	}

	ids := []string{"login ok@chrome", "login broken@chrome", "cart flaky@firefox", "login", "cart"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(visibilityTree(t), Options{})
			e.SetView(tt.view)
			for _, id := range ids {
				assert.Equal(t, contains(tt.shown, id), e.ShouldBeShown(id), id)
			}
		})
	}
}

func TestSetView_InvalidatesCache(t *testing.T) {
	e := New(visibilityTree(t), Options{})
	require.True(t, e.ShouldBeShown("login ok@chrome"))

	e.SetView(View{Mode: ViewFailed})
	assert.False(t, e.ShouldBeShown("login ok@chrome"))
	assert.Equal(t, ViewFailed, e.View().Mode)
}

func TestIsHiddenBecauseOfStatus(t *testing.T) {
	e := New(visibilityTree(t), Options{})
	e.SetView(View{Mode: ViewFailed})

	assert.False(t, e.IsHiddenBecauseOfStatus("cart flaky@firefox#0"))
	assert.True(t, e.IsHiddenBecauseOfStatus("cart flaky@firefox#1"))
	assert.True(t, e.IsHiddenBecauseOfStatus("missing"))

	e.SetView(View{Mode: ViewRetried})
	assert.False(t, e.IsHiddenBecauseOfStatus("cart flaky@firefox#1"))
	assert.True(t, e.IsHiddenBecauseOfStatus("login ok@chrome#0"))
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
