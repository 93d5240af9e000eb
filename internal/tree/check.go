package tree

import (
	"fmt"

	"github.com/leapstack-labs/leapreport/pkg/core"
)

// SetBrowserCheck sets the check status of one browser.
func (t *Tree) SetBrowserCheck(id string, status core.CheckStatus) error {
	if err := validLeafCheck(status); err != nil {
		return err
	}
	st, ok := t.states[id]
	if !ok {
		return notFound(KindBrowser, id)
	}
	if st.CheckStatus != status {
		st.CheckStatus = status
		t.touch(id)
	}
	return nil
}

// SetSuiteCheck writes status to every browser below a suite. The suite's
// own check status is derived from them on read.
func (t *Tree) SetSuiteCheck(id string, status core.CheckStatus) error {
	if err := validLeafCheck(status); err != nil {
		return err
	}
	if !t.suites.Has(id) {
		return notFound(KindSuite, id)
	}
	return t.SetBrowsersCheck(t.DescendantBrowsers(id), status)
}

// SetBrowsersCheck writes status to every listed browser. Unknown ids are
// skipped.
func (t *Tree) SetBrowsersCheck(ids []string, status core.CheckStatus) error {
	if err := validLeafCheck(status); err != nil {
		return err
	}
	for _, id := range ids {
		if st, ok := t.states[id]; ok && st.CheckStatus != status {
			st.CheckStatus = status
			t.touch(id)
		}
	}
	return nil
}

// SetAllChecked writes status to every browser in the tree.
func (t *Tree) SetAllChecked(status core.CheckStatus) error {
	return t.SetBrowsersCheck(t.browsers.AllIDs, status)
}

// SetRetryIndex selects which attempt of a browser is displayed.
func (t *Tree) SetRetryIndex(browserID string, index int) error {
	b, ok := t.browsers.Get(browserID)
	if !ok {
		return notFound(KindBrowser, browserID)
	}
	if index < 0 || index >= len(b.ResultIDs) {
		return fmt.Errorf("retry index %d out of range for %q (%d attempts)", index, browserID, len(b.ResultIDs))
	}
	st := t.states[browserID]
	if st.RetryIndex != index {
		st.RetryIndex = index
		t.touch(browserID)
	}
	return nil
}

func validLeafCheck(status core.CheckStatus) error {
	if status != core.Checked && status != core.Unchecked {
		return fmt.Errorf("browsers can only be checked or unchecked, got %s", status)
	}
	return nil
}
