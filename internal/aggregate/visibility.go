package aggregate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// ViewMode filters the tree by outcome.
type ViewMode string

// View modes.
const (
	ViewAll     ViewMode = "all"
	ViewPassed  ViewMode = "passed"
	ViewFailed  ViewMode = "failed"
	ViewRetried ViewMode = "retried"
)

// ParseViewMode converts a string to a ViewMode.
func ParseViewMode(s string) (ViewMode, error) {
	switch ViewMode(s) {
	case "", ViewAll:
		return ViewAll, nil
	case ViewPassed, ViewFailed, ViewRetried:
		return ViewMode(s), nil
	default:
		return "", fmt.Errorf("unknown view mode %q", s)
	}
}

// BrowserFilter restricts the view to one browser name and, optionally, a
// set of versions.
type BrowserFilter struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions,omitempty"`
}

// View is the visibility configuration applied on read.
type View struct {
	Mode ViewMode `json:"mode"`
	// NameFilter matches the space-joined suite path of a browser.
	NameFilter  string          `json:"nameFilter,omitempty"`
	StrictMatch bool            `json:"strictMatch,omitempty"`
	Browsers    []BrowserFilter `json:"browsers,omitempty"`
}

// SetView replaces the view and invalidates visibility.
func (e *Engine) SetView(v View) {
	if v.Mode == "" {
		v.Mode = ViewAll
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view = v
	e.viewGen++
}

// View returns the current view.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// ShouldBeShown reports whether a suite or browser passes the view. A suite
// is shown when any of its children is.
func (e *Engine) ShouldBeShown(id string) bool {
	switch e.tree.Kind(id) {
	case tree.KindSuite, tree.KindBrowser:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.resolve(id).shown
	case tree.KindResult:
		return !e.IsHiddenBecauseOfStatus(id)
	default:
		return false
	}
}

// IsHiddenBecauseOfStatus reports whether a single attempt is hidden by the
// view mode even though its browser is shown.
func (e *Engine) IsHiddenBecauseOfStatus(resultID string) bool {
	r, ok := e.tree.Result(resultID)
	if !ok {
		return true
	}
	e.mu.Lock()
	mode := e.view.Mode
	e.mu.Unlock()

	switch mode {
	case ViewPassed:
		return r.Status != core.StatusSuccess
	case ViewFailed:
		return !r.Status.IsFailed()
	case ViewRetried:
		b, ok := e.tree.Browser(r.ParentID)
		return !ok || len(b.ResultIDs) < 2
	default:
		return false
	}
}

// browserShown evaluates the view for one browser. Callers hold e.mu.
func (e *Engine) browserShown(b *core.Browser) bool {
	v := e.view
	if len(v.Browsers) > 0 && !matchesBrowser(v.Browsers, b) {
		return false
	}
	if v.NameFilter != "" {
		s, ok := e.tree.Suite(b.ParentID)
		if !ok || !matchesName(v.NameFilter, strings.Join(s.SuitePath, " "), v.StrictMatch) {
			return false
		}
	}

	last, ok := e.tree.LastResult(b.ID)
	switch v.Mode {
	case "", ViewAll:
		return true
	case ViewPassed:
		return ok && last.Status == core.StatusSuccess
	case ViewFailed:
		return ok && last.Status.IsFailed()
	case ViewRetried:
		return len(b.ResultIDs) > 1
	default:
		return true
	}
}

func matchesBrowser(filters []BrowserFilter, b *core.Browser) bool {
	for _, f := range filters {
		if f.Name != b.Name {
			continue
		}
		if len(f.Versions) == 0 || slices.Contains(f.Versions, b.Version) {
			return true
		}
	}
	return false
}

func matchesName(filter, name string, strict bool) bool {
	if strict {
		return filter == name
	}
	return strings.Contains(name, filter)
}
