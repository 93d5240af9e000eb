package core

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Canonical events
// =============================================================================

// EventName tags a canonical event.
type EventName string

// Canonical event names.
const (
	EventBeginSuite   EventName = "BEGIN_SUITE"
	EventBeginState   EventName = "BEGIN_STATE"
	EventTestResult   EventName = "TEST_RESULT"
	EventUpdateResult EventName = "UPDATE_RESULT"
	EventRetry        EventName = "RETRY"
	EventError        EventName = "ERROR"
	EventEnd          EventName = "END"
)

// EventNames lists every canonical event name.
var EventNames = []EventName{
	EventBeginSuite,
	EventBeginState,
	EventTestResult,
	EventUpdateResult,
	EventRetry,
	EventError,
	EventEnd,
}

// CarriesBranch reports whether events of this name carry a TestBranch.
func (n EventName) CarriesBranch() bool {
	switch n {
	case EventBeginState, EventTestResult, EventUpdateResult, EventRetry:
		return true
	default:
		return false
	}
}

// SuiteBegin is the payload of BEGIN_SUITE.
type SuiteBegin struct {
	SuitePath []string   `json:"suitePath"`
	Status    TestStatus `json:"status"`
}

// ResultFact is the runner-reported content of one attempt.
type ResultFact struct {
	Attempt    int               `json:"attempt"`
	Status     TestStatus        `json:"status"`
	Timestamp  int64             `json:"timestamp,omitempty"`
	Duration   int64             `json:"duration,omitempty"`
	Error      *ErrorDetails     `json:"error,omitempty"`
	SkipReason string            `json:"skipReason,omitempty"`
	URL        string            `json:"url,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Extra      json.RawMessage   `json:"extra,omitempty"`
}

// ImageFact is the runner-reported content of one screenshot comparison.
type ImageFact struct {
	StateName string         `json:"stateName,omitempty"`
	Status    TestStatus     `json:"status"`
	ErrorKind ImageErrorKind `json:"errorKind,omitempty"`
	Expected  *Artifact      `json:"expected,omitempty"`
	Actual    *Artifact      `json:"actual,omitempty"`
	Diff      *Artifact      `json:"diff,omitempty"`
	Error     *ErrorDetails  `json:"error,omitempty"`
}

// TestBranch is the self-contained path from a suite down to one attempt and
// its images. A client that has never seen the ancestors can apply it.
type TestBranch struct {
	Location
	Result ResultFact  `json:"result"`
	Images []ImageFact `json:"images,omitempty"`
}

// ResultID returns the id of the attempt the branch carries.
func (b *TestBranch) ResultID() string {
	return ResultID(b.BrowserID(), b.Result.Attempt)
}

// RunEnd is the payload of END.
type RunEnd struct {
	RunID string `json:"runId,omitempty"`
}

// Event is the canonical tagged union. Exactly one payload field is set,
// selected by Name.
type Event struct {
	Name   EventName
	Seq    uint64
	Suite  *SuiteBegin
	Branch *TestBranch
	Error  *RunError
	End    *RunEnd
}

// NewSuiteEvent builds a BEGIN_SUITE event.
func NewSuiteEvent(path []string, status TestStatus) Event {
	return Event{Name: EventBeginSuite, Suite: &SuiteBegin{SuitePath: path, Status: status}}
}

// NewBranchEvent builds one of the branch-carrying events.
func NewBranchEvent(name EventName, b TestBranch) Event {
	return Event{Name: name, Branch: &b}
}

// NewErrorEvent builds an ERROR event.
func NewErrorEvent(e RunError) Event {
	return Event{Name: EventError, Error: &e}
}

// NewEndEvent builds an END event.
func NewEndEvent(runID string) Event {
	return Event{Name: EventEnd, End: &RunEnd{RunID: runID}}
}

// Payload returns the payload selected by Name.
func (e Event) Payload() any {
	switch e.Name {
	case EventBeginSuite:
		return e.Suite
	case EventBeginState, EventTestResult, EventUpdateResult, EventRetry:
		return e.Branch
	case EventError:
		return e.Error
	case EventEnd:
		return e.End
	default:
		return nil
	}
}

// Validate checks the event against the rules of its variant.
func (e Event) Validate() error {
	switch e.Name {
	case EventBeginSuite:
		if e.Suite == nil {
			return fmt.Errorf("%s: missing payload", e.Name)
		}
		if len(e.Suite.SuitePath) == 0 {
			return fmt.Errorf("%s: empty suite path", e.Name)
		}
		if !e.Suite.Status.Valid() {
			return fmt.Errorf("%s: invalid status %q", e.Name, e.Suite.Status)
		}
	case EventBeginState, EventTestResult, EventUpdateResult, EventRetry:
		if e.Branch == nil {
			return fmt.Errorf("%s: missing payload", e.Name)
		}
		return validateBranch(e.Name, e.Branch)
	case EventError:
		if e.Error == nil {
			return fmt.Errorf("%s: missing payload", e.Name)
		}
		if e.Error.Message == "" {
			return fmt.Errorf("%s: empty message", e.Name)
		}
	case EventEnd:
		if e.End == nil {
			return fmt.Errorf("%s: missing payload", e.Name)
		}
	default:
		return fmt.Errorf("unknown event %q", e.Name)
	}
	return nil
}

func validateBranch(name EventName, b *TestBranch) error {
	if err := b.Location.Validate(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if b.Result.Attempt < 0 {
		return fmt.Errorf("%s: negative attempt %d", name, b.Result.Attempt)
	}
	st := b.Result.Status
	if !st.Valid() {
		return fmt.Errorf("%s: invalid status %q", name, st)
	}
	switch name {
	case EventTestResult:
		if !st.IsFinal() {
			return fmt.Errorf("%s: status %s is not final", name, st)
		}
	case EventBeginState, EventRetry:
		if st.IsFinal() {
			return fmt.Errorf("%s: status %s is final", name, st)
		}
	}
	for i, img := range b.Images {
		if !img.Status.Valid() {
			return fmt.Errorf("%s: image %d: invalid status %q", name, i, img.Status)
		}
		if !img.ErrorKind.Valid() {
			return fmt.Errorf("%s: image %d: invalid error kind %q", name, i, img.ErrorKind)
		}
	}
	return nil
}

// =============================================================================
// Wire frames
// =============================================================================

// Frame is the wire form of an event: name, sequence and JSON payload.
type Frame struct {
	Event EventName       `json:"event"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// Frame serializes the event payload.
func (e Event) Frame() (Frame, error) {
	data, err := json.Marshal(e.Payload())
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s: %w", e.Name, err)
	}
	return Frame{Event: e.Name, Seq: e.Seq, Data: data}, nil
}

// DecodeFrame parses and validates a frame into an event.
func DecodeFrame(f Frame) (Event, error) {
	e := Event{Name: f.Event, Seq: f.Seq}
	var target any
	switch f.Event {
	case EventBeginSuite:
		e.Suite = &SuiteBegin{}
		target = e.Suite
	case EventBeginState, EventTestResult, EventUpdateResult, EventRetry:
		e.Branch = &TestBranch{}
		target = e.Branch
	case EventError:
		e.Error = &RunError{}
		target = e.Error
	case EventEnd:
		e.End = &RunEnd{}
		target = e.End
	default:
		return Event{}, fmt.Errorf("unknown event %q", f.Event)
	}
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, target); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", f.Event, err)
		}
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
