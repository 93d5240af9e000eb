// Package reducer keeps a client-side replica of a live report.
//
// A Reducer buffers frames until it is bootstrapped from a snapshot, then
// applies them strictly in arrival order. Frames at or below the applied
// sequence number are skipped, so the snapshot and the stream may overlap.
package reducer

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// Reducer owns a tree and its aggregation engine.
type Reducer struct {
	mu           sync.RWMutex
	tree         *tree.Tree
	engine       *aggregate.Engine
	bootstrapped bool
	pending      []core.Event
	stale        map[string]struct{}
	logger       *slog.Logger
}

// New creates a reducer waiting for its bootstrap snapshot.
func New(opts aggregate.Options, logger *slog.Logger) *Reducer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := tree.New()
	return &Reducer{
		tree:   t,
		engine: aggregate.New(t, opts),
		stale:  make(map[string]struct{}),
		logger: logger,
	}
}

// Bootstrap replaces the replica with s and drains buffered events newer
// than s. Calling it again re-bootstraps and clears stale marks.
func (r *Reducer) Bootstrap(s *core.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.tree.Restore(s); err != nil {
		return err
	}
	r.engine.Invalidate()
	r.bootstrapped = true
	clear(r.stale)

	pending := r.pending
	r.pending = nil
	for _, e := range pending {
		r.apply(e)
	}
	r.logger.Debug("bootstrapped", "seq", s.Seq, "drained", len(pending))
	return nil
}

// Bootstrapped reports whether a snapshot has been applied.
func (r *Reducer) Bootstrapped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bootstrapped
}

// Apply folds one sequenced event into the replica, or buffers it until
// Bootstrap.
func (r *Reducer) Apply(e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.bootstrapped {
		r.pending = append(r.pending, e)
		return
	}
	r.apply(e)
}

// ApplyFrame decodes and applies a wire frame.
func (r *Reducer) ApplyFrame(f core.Frame) error {
	e, err := core.DecodeFrame(f)
	if err != nil {
		return err
	}
	r.Apply(e)
	return nil
}

func (r *Reducer) apply(e core.Event) {
	if e.Seq <= r.tree.Seq() {
		return
	}
	if e.Seq > r.tree.Seq()+1 {
		r.logger.Warn("sequence gap", "have", r.tree.Seq(), "got", e.Seq)
	}
	err := r.tree.Apply(e)
	if err == nil {
		return
	}
	if errors.Is(err, core.ErrDuplicateAttempt) {
		r.logger.Debug("duplicate attempt", "error", err)
		return
	}
	ids := affected(e, err)
	for _, id := range ids {
		r.stale[id] = struct{}{}
	}
	r.logger.Warn("event not applied", "event", e.Name, "seq", e.Seq, "stale", ids, "error", err)
}

// affected lists the ids an event would have touched.
func affected(e core.Event, err error) []string {
	var ids []string
	var broken *core.BrokenReferenceError
	if errors.As(err, &broken) {
		ids = append(ids, broken.ID)
	}
	switch {
	case e.Branch != nil:
		ids = append(ids, e.Branch.SuiteID(), e.Branch.BrowserID(), e.Branch.ResultID())
	case e.Suite != nil:
		ids = append(ids, core.SuiteID(e.Suite.SuitePath))
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// =============================================================================
// Selectors
// =============================================================================

// Seq returns the sequence number of the last applied event.
func (r *Reducer) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Seq()
}

// Ended reports whether the run has ended.
func (r *Reducer) Ended() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Ended()
}

// Status returns the rolled-up status of a suite or browser, or the status
// of a result or image.
func (r *Reducer) Status(id string) core.TestStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch r.tree.Kind(id) {
	case tree.KindResult:
		res, _ := r.tree.Result(id)
		return res.Status
	case tree.KindImage:
		img, _ := r.tree.Image(id)
		return img.Status
	default:
		return r.engine.Status(id)
	}
}

// CheckStatus returns the tri-state check status of a suite or browser.
func (r *Reducer) CheckStatus(id string) core.CheckStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine.CheckStatus(id)
}

// Children returns the ordered child ids of an entity, or the root suites
// for "".
func (r *Reducer) Children(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		return slices.Clone(r.tree.RootSuiteIDs())
	}
	return slices.Clone(r.tree.Children(id))
}

// Retried reports whether a suite or browser has retried attempts.
func (r *Reducer) Retried(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine.Retried(id)
}

// Stale reports whether id was touched by an event that could not be
// applied since the last bootstrap.
func (r *Reducer) Stale(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stale[id]
	return ok
}

// ShouldBeShown reports whether a suite or browser passes the current view.
func (r *Reducer) ShouldBeShown(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine.ShouldBeShown(id)
}

// Groups returns the current groups.
func (r *Reducer) Groups() []core.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.engine.Groups())
}

// Snapshot returns a copy of the replica.
func (r *Reducer) Snapshot() *core.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Snapshot()
}

// Read runs fn with the replica under the read lock. fn must not retain or
// modify the tree.
func (r *Reducer) Read(fn func(*tree.Tree, *aggregate.Engine)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.tree, r.engine)
}

// =============================================================================
// Local actions
// =============================================================================

// ToggleCheck flips a browser or suite. An indeterminate suite becomes
// checked.
func (r *Reducer) ToggleCheck(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := core.Checked
	if r.engine.CheckStatus(id) == core.Checked {
		next = core.Unchecked
	}
	if r.tree.Kind(id) == tree.KindSuite {
		return r.tree.SetSuiteCheck(id, next)
	}
	return r.tree.SetBrowserCheck(id, next)
}

// ToggleGroup checks every browser of a group unless all are checked
// already, in which case it unchecks them.
func (r *Reducer) ToggleGroup(groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.engine.Groups(), func(g core.Group) bool { return g.ID == groupID })
	if i < 0 {
		return tree.ErrNotFound
	}
	ids := slices.Clone(r.engine.Groups()[i].BrowserIDs)
	next := core.Unchecked
	for _, id := range ids {
		if r.tree.BrowserState(id).CheckStatus != core.Checked {
			next = core.Checked
			break
		}
	}
	return r.tree.SetBrowsersCheck(ids, next)
}

// SetAllChecked checks or unchecks every browser.
func (r *Reducer) SetAllChecked(checked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := core.Unchecked
	if checked {
		status = core.Checked
	}
	return r.tree.SetAllChecked(status)
}

// SelectAttempt changes the attempt shown for a browser.
func (r *Reducer) SelectAttempt(browserID string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.SetRetryIndex(browserID, index)
}

// SetView changes the visibility configuration.
func (r *Reducer) SetView(v aggregate.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine.SetView(v)
}

// SetGroupBy changes the grouping key.
func (r *Reducer) SetGroupBy(key aggregate.GroupKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine.SetGroupBy(key)
}
