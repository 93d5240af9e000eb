package translator

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/leapreport/pkg/core"
)

// Playwright reporter notification names.
const (
	pwTestBegin = "onTestBegin"
	pwTestEnd   = "onTestEnd"
	pwStdOut    = "onStdOut"
	pwStdErr    = "onStdErr"
	pwError     = "onError"
	pwEnd       = "onEnd"
)

// Playwright result statuses.
const (
	pwPassed      = "passed"
	pwFailed      = "failed"
	pwTimedOut    = "timedOut"
	pwInterrupted = "interrupted"
	pwSkipped     = "skipped"
)

// titlePathPrefix is the number of leading titlePath entries that are not
// part of the test path: the root, the project and the file.
const titlePathPrefix = 3

// Attachment name endings that identify screenshot roles.
const (
	endingExpected = "-expected.png"
	endingActual   = "-actual.png"
	endingDiff     = "-diff.png"
	endingPrevious = "-previous.png"
)

var imageEndings = []string{endingExpected, endingActual, endingDiff, endingPrevious}

type pwNotification struct {
	Event  string    `json:"event"`
	Test   *pwTest   `json:"test,omitempty"`
	Result *pwResult `json:"result,omitempty"`
	Error  *pwErr    `json:"error,omitempty"`
}

type pwTest struct {
	TitlePath   []string       `json:"titlePath"`
	ProjectName string         `json:"projectName"`
	Annotations []pwAnnotation `json:"annotations,omitempty"`
}

type pwAnnotation struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type pwResult struct {
	Retry       int            `json:"retry"`
	Status      string         `json:"status,omitempty"`
	StartTime   time.Time      `json:"startTime"`
	Duration    int64          `json:"duration,omitempty"`
	Errors      []pwErr        `json:"errors,omitempty"`
	Attachments []pwAttachment `json:"attachments,omitempty"`
}

type pwErr struct {
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

type pwAttachment struct {
	Name        string `json:"name"`
	Path        string `json:"path,omitempty"`
	ContentType string `json:"contentType"`
}

// Playwright translates reporter callbacks. Attempts come from the
// explicit retry index, so no attempt state is kept.
type Playwright struct {
	opts Options
}

// NewPlaywright creates a playwright translator.
func NewPlaywright(opts Options) *Playwright {
	return &Playwright{opts: opts}
}

// Translate implements Translator.
func (p *Playwright) Translate(raw []byte) ([]core.Event, error) {
	var n pwNotification
	if err := decode(raw, &n); err != nil {
		return nil, err
	}

	switch n.Event {
	case pwTestBegin:
		loc, err := pwLocation(n)
		if err != nil {
			return nil, err
		}
		retry := n.Result.Retry
		begin := core.TestBranch{
			Location: loc,
			Result: core.ResultFact{
				Attempt:   retry,
				Status:    core.StatusRunning,
				Timestamp: millis(n.Result.StartTime),
				Meta:      annotationMeta(n.Test.Annotations),
			},
		}
		if retry == 0 {
			return []core.Event{core.NewBranchEvent(core.EventBeginState, begin)}, nil
		}
		queued := begin
		queued.Result.Status = core.StatusQueued
		return []core.Event{
			core.NewBranchEvent(core.EventRetry, queued),
			core.NewBranchEvent(core.EventBeginState, begin),
		}, nil

	case pwTestEnd:
		loc, err := pwLocation(n)
		if err != nil {
			return nil, err
		}
		return []core.Event{core.NewBranchEvent(core.EventTestResult, pwBranch(loc, n.Test, n.Result))}, nil

	case pwStdOut, pwStdErr:
		return nil, nil

	case pwError:
		if n.Error == nil || n.Error.Message == "" {
			return nil, missing(n.Event, "error message")
		}
		return []core.Event{core.NewErrorEvent(core.RunError{
			ID:      p.opts.NewID(),
			Message: n.Error.Message,
			Stack:   n.Error.Stack,
		})}, nil

	case pwEnd:
		return []core.Event{core.NewEndEvent(p.opts.RunID)}, nil

	default:
		return nil, unknown(n.Event)
	}
}

func pwLocation(n pwNotification) (core.Location, error) {
	if n.Test == nil {
		return core.Location{}, missing(n.Event, "test")
	}
	if n.Result == nil {
		return core.Location{}, missing(n.Event, "result")
	}
	if n.Test.ProjectName == "" {
		return core.Location{}, missing(n.Event, "projectName")
	}
	if len(n.Test.TitlePath) <= titlePathPrefix {
		return core.Location{}, missing(n.Event, "test title")
	}
	path := make([]string, 0, len(n.Test.TitlePath)-titlePathPrefix)
	for _, title := range n.Test.TitlePath[titlePathPrefix:] {
		if title != "" {
			path = append(path, title)
		}
	}
	if len(path) == 0 {
		return core.Location{}, missing(n.Event, "test title")
	}
	return core.Location{SuitePath: path, Browser: n.Test.ProjectName}, nil
}

// pwErrorKind classifies the test error by its message.
type pwErrorKind int

const (
	pwGeneralError pwErrorKind = iota
	pwImageDiff
	pwNoRefImage
)

func pwBranch(loc core.Location, test *pwTest, res *pwResult) core.TestBranch {
	meta := annotationMeta(test.Annotations)
	fact := core.ResultFact{
		Attempt:   res.Retry,
		Timestamp: millis(res.StartTime),
		Duration:  res.Duration,
		Meta:      meta,
	}

	kind := pwGeneralError
	if msg := errorMessage(res.Errors); msg != "" {
		fact.Error = &core.ErrorDetails{Name: "Error", Message: msg, Stack: errorStack(res.Errors)}
		switch {
		case strings.Contains(msg, "snapshot doesn't exist") && strings.Contains(msg, ".png"):
			kind = pwNoRefImage
			fact.Error.Name = errNoRefImage
		case strings.Contains(msg, "Screenshot comparison failed"):
			kind = pwImageDiff
			fact.Error.Name = errImageDiff
		}
	}

	switch res.Status {
	case pwPassed:
		fact.Status = core.StatusSuccess
	case pwFailed, pwTimedOut, pwInterrupted:
		fact.Status = core.StatusError
		if kind != pwGeneralError {
			fact.Status = core.StatusFail
		}
	default:
		fact.Status = core.StatusSkipped
		for _, a := range test.Annotations {
			if a.Type == pwSkipped {
				fact.SkipReason = a.Description
			}
		}
	}

	return core.TestBranch{Location: loc, Result: fact, Images: pwImages(res, kind, fact)}
}

func pwImages(res *pwResult, kind pwErrorKind, fact core.ResultFact) []core.ImageFact {
	byState := make(map[string]map[string]*core.Artifact)
	for _, a := range res.Attachments {
		if a.ContentType != "image/png" {
			continue
		}
		for _, ending := range imageEndings {
			state, ok := strings.CutSuffix(a.Name, ending)
			if !ok {
				continue
			}
			if byState[state] == nil {
				byState[state] = make(map[string]*core.Artifact)
			}
			byState[state][ending] = &core.Artifact{Path: a.Path}
			break
		}
	}
	if len(byState) == 0 {
		return nil
	}

	states := make([]string, 0, len(byState))
	for s := range byState {
		states = append(states, s)
	}
	sort.Strings(states)

	var out []core.ImageFact
	for _, state := range states {
		files := byState[state]
		expected, actual, diff := files[endingExpected], files[endingActual], files[endingDiff]
		switch {
		case kind == pwImageDiff && expected != nil && actual != nil && diff != nil:
			out = append(out, core.ImageFact{
				StateName: state, Status: core.StatusFail, ErrorKind: core.ImageErrorPixelMismatch,
				Expected: expected, Actual: actual, Diff: diff,
			})
		case kind == pwNoRefImage && actual != nil:
			out = append(out, core.ImageFact{
				StateName: state, Status: core.StatusError, ErrorKind: core.ImageErrorNoReference,
				Actual: actual, Error: fact.Error,
			})
		case fact.Status == core.StatusSuccess && expected != nil:
			out = append(out, core.ImageFact{StateName: state, Status: core.StatusSuccess, Expected: expected})
		}
	}
	return out
}

func errorMessage(errs []pwErr) string {
	switch len(errs) {
	case 0:
		return ""
	case 1:
		return firstLine(errs[0].Message)
	default:
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = firstLine(e.Message)
		}
		b, _ := json.Marshal(msgs)
		return string(b)
	}
}

func errorStack(errs []pwErr) string {
	switch len(errs) {
	case 0:
		return ""
	case 1:
		return errs[0].Stack
	default:
		stacks := make([]string, len(errs))
		for i, e := range errs {
			stacks[i] = e.Stack
		}
		b, _ := json.Marshal(stacks)
		return string(b)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func annotationMeta(annotations []pwAnnotation) map[string]string {
	if len(annotations) == 0 {
		return nil
	}
	out := make(map[string]string, len(annotations))
	for _, a := range annotations {
		out[a.Type] = a.Description
	}
	return out
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
