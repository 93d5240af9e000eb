package core

import (
	"fmt"
	"strings"
)

// =============================================================================
// TestStatus
// =============================================================================

// TestStatus is the lifecycle status of a result, browser or suite.
type TestStatus string

// Test statuses as they appear on the wire.
const (
	StatusIdle    TestStatus = "idle"
	StatusQueued  TestStatus = "queued"
	StatusRunning TestStatus = "running"
	StatusSuccess TestStatus = "success"
	StatusFail    TestStatus = "fail"
	StatusError   TestStatus = "error"
	StatusSkipped TestStatus = "skipped"
)

// severity orders statuses for rollup; higher wins.
var severity = map[TestStatus]int{
	StatusIdle:    0,
	StatusSuccess: 1,
	StatusSkipped: 2,
	StatusFail:    3,
	StatusError:   4,
	StatusQueued:  5,
	StatusRunning: 6,
}

// Valid reports whether s is a known status.
func (s TestStatus) Valid() bool {
	_, ok := severity[s]
	return ok
}

// Severity returns the rollup rank of the status. Unknown statuses rank lowest.
func (s TestStatus) Severity() int {
	return severity[s]
}

// IsFinal reports whether the status ends an attempt.
func (s TestStatus) IsFinal() bool {
	switch s {
	case StatusSuccess, StatusFail, StatusError, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsFailed reports whether the status is FAIL or ERROR.
func (s TestStatus) IsFailed() bool {
	return s == StatusFail || s == StatusError
}

// Worse returns the more severe of a and b.
func Worse(a, b TestStatus) TestStatus {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// ParseTestStatus converts a string to a TestStatus.
func ParseTestStatus(s string) (TestStatus, error) {
	st := TestStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown test status %q", s)
	}
	return st, nil
}

// =============================================================================
// CheckStatus
// =============================================================================

// CheckStatus is the tri-state selection of a browser or suite.
type CheckStatus int

// Check statuses. Values are part of the wire format.
const (
	Unchecked     CheckStatus = 0
	Checked       CheckStatus = 1
	Indeterminate CheckStatus = 2
)

// String returns the string representation of the check status.
func (c CheckStatus) String() string {
	switch c {
	case Unchecked:
		return "unchecked"
	case Checked:
		return "checked"
	case Indeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// =============================================================================
// ImageErrorKind
// =============================================================================

// ImageErrorKind classifies why an image comparison did not succeed.
type ImageErrorKind string

// Image error kinds.
const (
	ImageErrorNone            ImageErrorKind = ""
	ImageErrorNoReference     ImageErrorKind = "no-reference"
	ImageErrorBrokenReference ImageErrorKind = "broken-reference"
	ImageErrorPixelMismatch   ImageErrorKind = "pixel-mismatch"
)

// Valid reports whether k is a known kind.
func (k ImageErrorKind) Valid() bool {
	switch k {
	case ImageErrorNone, ImageErrorNoReference, ImageErrorBrokenReference, ImageErrorPixelMismatch:
		return true
	default:
		return false
	}
}
