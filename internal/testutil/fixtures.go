// Package testutil provides fixtures and loggers shared by package tests.
package testutil

import (
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// Branch builds a test branch for the browser at path with one attempt.
func Branch(path []string, browser string, attempt int, status core.TestStatus, images ...core.ImageFact) core.TestBranch {
	return core.TestBranch{
		Location: core.Location{SuitePath: path, Browser: browser},
		Result:   core.ResultFact{Attempt: attempt, Status: status, Timestamp: 1700000000000 + int64(attempt)},
		Images:   images,
	}
}

// Sequence assigns consecutive sequence numbers starting at 1.
func Sequence(events ...core.Event) []core.Event {
	for i := range events {
		events[i].Seq = uint64(i + 1)
	}
	return events
}

// SampleRun returns a small sequenced run: two suites, a retried failure
// with a screenshot mismatch, a pass and the end of the run.
func SampleRun() []core.Event {
	login := []string{"auth", "login"}
	logout := []string{"auth", "logout"}
	mismatch := core.ImageFact{
		StateName: "form",
		Status:    core.StatusFail,
		ErrorKind: core.ImageErrorPixelMismatch,
		Expected:  &core.Artifact{Path: "images/form-ref.png", Width: 800, Height: 600},
		Actual:    &core.Artifact{Path: "images/form-curr.png", Width: 800, Height: 600},
	}
	failed := Branch(login, "chrome", 0, core.StatusFail, mismatch)
	failed.Result.Error = &core.ErrorDetails{Name: "ImageDiffError", Message: "images are different"}
	failed.Result.Meta = map[string]string{"file": "tests/login.spec.js"}

	return Sequence(
		core.NewSuiteEvent([]string{"auth"}, core.StatusRunning),
		core.NewBranchEvent(core.EventBeginState, Branch(login, "chrome", 0, core.StatusRunning)),
		core.NewBranchEvent(core.EventTestResult, failed),
		core.NewBranchEvent(core.EventRetry, Branch(login, "chrome", 1, core.StatusQueued)),
		core.NewBranchEvent(core.EventTestResult, Branch(login, "chrome", 1, core.StatusSuccess)),
		core.NewBranchEvent(core.EventTestResult, Branch(logout, "firefox", 0, core.StatusSuccess)),
		core.NewErrorEvent(core.RunError{ID: "err-1", Message: "plugin crashed", Stack: "at plugin.js:1"}),
		core.NewEndEvent("run-1"),
	)
}
