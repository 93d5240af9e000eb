// Package aggregate computes derived state over a tree: status rollup, the
// retried flag, tri-state check status, visibility and groups.
//
// Values are computed on read and memoized per entity against the tree's
// revision counters, so a read after N unrelated updates costs nothing and
// a read after one update recomputes only the touched ancestor chain.
package aggregate

import (
	"fmt"
	"sync"

	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// RetryPolicy decides how retried browsers contribute to ancestor status.
type RetryPolicy string

const (
	// RetryPolicyFlag keeps retries out of the status ordering. Ancestors see
	// the final attempt only; retries surface through the Retried flag.
	RetryPolicyFlag RetryPolicy = "flag"
	// RetryPolicyWorstAttempt makes a retried browser contribute the worst
	// status across all of its attempts.
	RetryPolicyWorstAttempt RetryPolicy = "worst-attempt"
)

// ParseRetryPolicy converts a string to a RetryPolicy.
func ParseRetryPolicy(s string) (RetryPolicy, error) {
	switch RetryPolicy(s) {
	case "", RetryPolicyFlag:
		return RetryPolicyFlag, nil
	case RetryPolicyWorstAttempt:
		return RetryPolicyWorstAttempt, nil
	default:
		return "", fmt.Errorf("unknown retry policy %q (valid: flag, worst-attempt)", s)
	}
}

// Options configures an Engine.
type Options struct {
	RetryPolicy RetryPolicy
	GroupBy     GroupKey
}

// SuiteState is the derived state of a suite.
type SuiteState struct {
	Status        core.TestStatus
	CheckStatus   core.CheckStatus
	Retried       bool
	ShouldBeShown bool
}

// node is a memoized rollup entry.
type node struct {
	rev     uint64
	viewGen uint64

	status      core.TestStatus
	contributes core.TestStatus
	check       core.CheckStatus
	retried     bool
	shown       bool
	// browsers is set when the subtree holds at least one browser.
	browsers bool
}

// Engine derives state from a tree. It is safe for concurrent readers as
// long as the tree is not mutated concurrently with them.
type Engine struct {
	tree   *tree.Tree
	policy RetryPolicy

	mu      sync.Mutex
	cache   map[string]node
	view    View
	viewGen uint64
	groups  groupCache
	groupBy GroupKey
}

// New creates an engine over t.
func New(t *tree.Tree, opts Options) *Engine {
	policy := opts.RetryPolicy
	if policy == "" {
		policy = RetryPolicyFlag
	}
	return &Engine{
		tree:    t,
		policy:  policy,
		cache:   make(map[string]node),
		groupBy: opts.GroupBy,
		viewGen: 1,
	}
}

// Policy returns the configured retry policy.
func (e *Engine) Policy() RetryPolicy { return e.policy }

// Status returns the status of any entity. Unknown ids are IDLE.
func (e *Engine) Status(id string) core.TestStatus {
	switch e.tree.Kind(id) {
	case tree.KindSuite, tree.KindBrowser:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.resolve(id).status
	case tree.KindResult:
		r, _ := e.tree.Result(id)
		return r.Status
	case tree.KindImage:
		img, _ := e.tree.Image(id)
		return img.Status
	default:
		return core.StatusIdle
	}
}

// Retried reports whether a browser, or any browser below a suite, ran
// more than one attempt.
func (e *Engine) Retried(id string) bool {
	switch e.tree.Kind(id) {
	case tree.KindSuite, tree.KindBrowser:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.resolve(id).retried
	default:
		return false
	}
}

// CheckStatus returns the tri-state check status of a suite or browser.
func (e *Engine) CheckStatus(id string) core.CheckStatus {
	switch e.tree.Kind(id) {
	case tree.KindSuite, tree.KindBrowser:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.resolve(id).check
	default:
		return core.Unchecked
	}
}

// Suite returns the full derived state of a suite.
func (e *Engine) Suite(id string) (SuiteState, bool) {
	if e.tree.Kind(id) != tree.KindSuite {
		return SuiteState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.resolve(id)
	return SuiteState{
		Status:        n.status,
		CheckStatus:   n.check,
		Retried:       n.retried,
		ShouldBeShown: n.shown,
	}, true
}

// resolve returns the memoized node for a suite or browser, recomputing it
// when the tree revision or the view changed. Callers hold e.mu.
func (e *Engine) resolve(id string) node {
	rev := e.tree.Revision(id)
	if n, ok := e.cache[id]; ok && n.rev == rev && n.viewGen == e.viewGen {
		return n
	}

	var n node
	if b, ok := e.tree.Browser(id); ok {
		n = e.computeBrowser(b)
	} else if s, ok := e.tree.Suite(id); ok {
		n = e.computeSuite(s)
	}
	n.rev = rev
	n.viewGen = e.viewGen
	e.cache[id] = n
	return n
}

func (e *Engine) computeBrowser(b *core.Browser) node {
	n := node{
		status:  core.StatusIdle,
		check:    e.tree.BrowserState(b.ID).CheckStatus,
		retried:  len(b.ResultIDs) > 1,
		browsers: true,
	}
	if last, ok := e.tree.LastResult(b.ID); ok {
		n.status = last.Status
	}
	n.contributes = n.status
	if e.policy == RetryPolicyWorstAttempt && n.retried && n.status.IsFinal() {
		for _, rid := range b.ResultIDs {
			if r, ok := e.tree.Result(rid); ok && r.Status.IsFinal() {
				n.contributes = core.Worse(n.contributes, r.Status)
			}
		}
	}
	n.shown = e.browserShown(b)
	return n
}

func (e *Engine) computeSuite(s *core.Suite) node {
	n := node{status: core.StatusIdle, contributes: core.StatusIdle}
	var total, checked, partial int

	visit := func(child node) {
		n.contributes = core.Worse(n.contributes, child.contributes)
		n.status = core.Worse(n.status, child.contributes)
		n.retried = n.retried || child.retried
		n.shown = n.shown || child.shown
		// Suites without browsers have nothing to check.
		if !child.browsers {
			return
		}
		n.browsers = true
		total++
		switch child.check {
		case core.Checked:
			checked++
		case core.Indeterminate:
			partial++
		}
	}
	for _, id := range s.SuiteIDs {
		visit(e.resolve(id))
	}
	for _, id := range s.BrowserIDs {
		visit(e.resolve(id))
	}

	switch {
	case total == 0 || checked+partial == 0:
		n.check = core.Unchecked
	case checked == total:
		n.check = core.Checked
	default:
		n.check = core.Indeterminate
	}
	return n
}

// Invalidate drops every memoized value.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.cache)
	e.groups = groupCache{}
}
