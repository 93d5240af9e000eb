package translator

import (
	"slices"

	"github.com/leapstack-labs/leapreport/pkg/core"
)

// Testplane notification names.
const (
	tpSuiteBegin  = "suiteBegin"
	tpTestBegin   = "testBegin"
	tpTestPass    = "testPass"
	tpTestFail    = "testFail"
	tpRetry       = "retry"
	tpTestPending = "testPending"
	tpRunnerEnd   = "runnerEnd"
	tpError       = "error"
)

// Assert-view error names reported by testplane.
const (
	errImageDiff      = "ImageDiffError"
	errNoRefImage     = "NoRefImageError"
	errInvalidRefImg  = "InvalidRefImageError"
	errInvalidPNG     = "InvalidPngError"
	assertionNoResult = ""
)

type tpNotification struct {
	Event string   `json:"event"`
	Suite *tpSuite `json:"suite,omitempty"`
	Test  *tpTest  `json:"test,omitempty"`
	Error *tpErr   `json:"error,omitempty"`
}

type tpSuite struct {
	Title   string   `json:"title"`
	Root    bool     `json:"root,omitempty"`
	Pending bool     `json:"pending,omitempty"`
	Parent  *tpSuite `json:"parent,omitempty"`
}

type tpTest struct {
	Title             string         `json:"title"`
	Parent            *tpSuite       `json:"parent,omitempty"`
	BrowserID         string         `json:"browserId"`
	BrowserVersion    string         `json:"browserVersion,omitempty"`
	SessionID         string         `json:"sessionId,omitempty"`
	StartTime         int64          `json:"startTime,omitempty"`
	Duration          int64          `json:"duration,omitempty"`
	Meta              map[string]any `json:"meta,omitempty"`
	Err               *tpErr         `json:"err,omitempty"`
	SkipReason        string         `json:"skipReason,omitempty"`
	AssertViewResults []tpAssert     `json:"assertViewResults,omitempty"`
}

type tpErr struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

type tpAssert struct {
	Name      string   `json:"name,omitempty"`
	StateName string   `json:"stateName"`
	Message   string   `json:"message,omitempty"`
	Stack     string   `json:"stack,omitempty"`
	RefImg    *tpImage `json:"refImg,omitempty"`
	CurrImg   *tpImage `json:"currImg,omitempty"`
	DiffImg   *tpImage `json:"diffImg,omitempty"`
}

type tpImage struct {
	Path string `json:"path"`
	Size *struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"size,omitempty"`
}

// Testplane translates mocha-style notifications whose suites point at
// their parents. The suite path is rebuilt by walking the parent chain.
type Testplane struct {
	opts     Options
	attempts attempts
}

// NewTestplane creates a testplane translator.
func NewTestplane(opts Options) *Testplane {
	return &Testplane{opts: opts, attempts: make(attempts)}
}

// Translate implements Translator.
func (t *Testplane) Translate(raw []byte) ([]core.Event, error) {
	var n tpNotification
	if err := decode(raw, &n); err != nil {
		return nil, err
	}

	switch n.Event {
	case tpSuiteBegin:
		if n.Suite == nil {
			return nil, missing(n.Event, "suite")
		}
		if n.Suite.Root || n.Suite.Pending {
			return nil, nil
		}
		path := suitePath(n.Suite)
		if len(path) == 0 {
			return nil, missing(n.Event, "suite title")
		}
		return []core.Event{core.NewSuiteEvent(path, core.StatusRunning)}, nil

	case tpTestBegin:
		b, err := t.branch(n, core.StatusRunning)
		if err != nil {
			return nil, err
		}
		b.Images = nil
		return []core.Event{core.NewBranchEvent(core.EventBeginState, b)}, nil

	case tpTestPass:
		b, err := t.branch(n, core.StatusSuccess)
		if err != nil {
			return nil, err
		}
		return []core.Event{core.NewBranchEvent(core.EventTestResult, b)}, nil

	case tpTestFail, tpRetry:
		if n.Test == nil {
			return nil, missing(n.Event, "test")
		}
		status := core.StatusError
		if hasDiff(n.Test.AssertViewResults) {
			status = core.StatusFail
		}
		b, err := t.branch(n, status)
		if err != nil {
			return nil, err
		}
		events := []core.Event{core.NewBranchEvent(core.EventTestResult, b)}
		if n.Event == tpRetry {
			next := core.TestBranch{
				Location: b.Location,
				Result: core.ResultFact{
					Attempt: b.Result.Attempt + 1,
					Status:  core.StatusQueued,
					URL:     b.Result.URL,
					Meta:    b.Result.Meta,
				},
			}
			t.attempts.record(next.BrowserID(), next.Result.Attempt, core.StatusQueued)
			events = append(events, core.NewBranchEvent(core.EventRetry, next))
		}
		return events, nil

	case tpTestPending:
		b, err := t.branch(n, core.StatusSkipped)
		if err != nil {
			return nil, err
		}
		return []core.Event{core.NewBranchEvent(core.EventTestResult, b)}, nil

	case tpError:
		if n.Error == nil || n.Error.Message == "" {
			return nil, missing(n.Event, "error message")
		}
		return []core.Event{core.NewErrorEvent(core.RunError{
			ID:      t.opts.NewID(),
			Message: n.Error.Message,
			Stack:   n.Error.Stack,
		})}, nil

	case tpRunnerEnd:
		return []core.Event{core.NewEndEvent(t.opts.RunID)}, nil

	default:
		return nil, unknown(n.Event)
	}
}

func (t *Testplane) branch(n tpNotification, status core.TestStatus) (core.TestBranch, error) {
	test := n.Test
	if test == nil {
		return core.TestBranch{}, missing(n.Event, "test")
	}
	if test.BrowserID == "" {
		return core.TestBranch{}, missing(n.Event, "browserId")
	}
	if test.Title == "" {
		return core.TestBranch{}, missing(n.Event, "test title")
	}

	loc := core.Location{
		SuitePath: append(suitePath(test.Parent), test.Title),
		Browser:   test.BrowserID,
		Version:   test.BrowserVersion,
	}
	attempt := t.attempts.current(loc.BrowserID())
	t.attempts.record(loc.BrowserID(), attempt, status)

	meta := stringMeta(test.Meta)
	if test.SessionID != "" {
		if meta == nil {
			meta = make(map[string]string)
		}
		meta["sessionId"] = test.SessionID
	}

	fact := core.ResultFact{
		Attempt:    attempt,
		Status:     status,
		Timestamp:  test.StartTime,
		Duration:   test.Duration,
		SkipReason: test.SkipReason,
		URL:        meta["url"],
		Meta:       meta,
	}
	if test.Err != nil && test.Err.Message != "" {
		fact.Error = &core.ErrorDetails{Name: test.Err.Name, Message: test.Err.Message, Stack: test.Err.Stack}
	}

	return core.TestBranch{Location: loc, Result: fact, Images: imagesFromAsserts(test.AssertViewResults)}, nil
}

// suitePath walks from s to the root and returns the titles top-down. The
// root suite itself is not part of the path.
func suitePath(s *tpSuite) []string {
	var path []string
	for cur := s; cur != nil && !cur.Root; cur = cur.Parent {
		if cur.Title == "" {
			continue
		}
		path = append(path, cur.Title)
	}
	slices.Reverse(path)
	return path
}

func hasDiff(asserts []tpAssert) bool {
	return slices.ContainsFunc(asserts, func(a tpAssert) bool { return a.Name == errImageDiff })
}

func imagesFromAsserts(asserts []tpAssert) []core.ImageFact {
	if len(asserts) == 0 {
		return nil
	}
	out := make([]core.ImageFact, 0, len(asserts))
	for _, a := range asserts {
		img := core.ImageFact{
			StateName: a.StateName,
			Expected:  artifact(a.RefImg),
			Actual:    artifact(a.CurrImg),
			Diff:      artifact(a.DiffImg),
		}
		switch a.Name {
		case assertionNoResult:
			img.Status = core.StatusSuccess
		case errImageDiff:
			img.Status = core.StatusFail
			img.ErrorKind = core.ImageErrorPixelMismatch
		case errNoRefImage:
			img.Status = core.StatusError
			img.ErrorKind = core.ImageErrorNoReference
		case errInvalidRefImg, errInvalidPNG:
			img.Status = core.StatusError
			img.ErrorKind = core.ImageErrorBrokenReference
		default:
			img.Status = core.StatusError
		}
		if a.Name != assertionNoResult && a.Name != errImageDiff {
			img.Error = &core.ErrorDetails{Name: a.Name, Message: a.Message, Stack: a.Stack}
		}
		out = append(out, img)
	}
	return out
}

func artifact(img *tpImage) *core.Artifact {
	if img == nil || img.Path == "" {
		return nil
	}
	a := &core.Artifact{Path: img.Path}
	if img.Size != nil {
		a.Width, a.Height = img.Size.Width, img.Size.Height
	}
	return a
}
