// Package translator maps runner-native notifications onto canonical events.
//
// Translators are stateful (they track attempt numbers per browser) and are
// driven from a single goroutine; they are not safe for concurrent use.
package translator

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// Translator converts one raw runner notification into zero or more
// canonical events. Unknown or malformed input returns a
// *core.TranslationError.
type Translator interface {
	Translate(raw []byte) ([]core.Event, error)
}

// Options configures a translator.
type Options struct {
	// RunID is stamped on END events.
	RunID string
	// NewID generates ids for run errors. Defaults to uuid.NewString.
	NewID func() string
}

// Kinds of translators.
const (
	KindTestplane  = "testplane"
	KindPlaywright = "playwright"
	KindCanonical  = "canonical"
)

var registry = map[string]func(Options) Translator{
	KindTestplane:  func(o Options) Translator { return NewTestplane(o) },
	KindPlaywright: func(o Options) Translator { return NewPlaywright(o) },
	KindCanonical:  func(Options) Translator { return Canonical{} },
}

// Kinds returns the registered translator kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New creates a translator by kind.
func New(kind string, opts Options) (Translator, error) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown runner %q (valid: %v)", kind, Kinds())
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return ctor(opts), nil
}

// envelope is the part every notification shares.
type envelope struct {
	Event string `json:"event"`
}

func decode(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &core.TranslationError{Notification: "<malformed>", Reason: "invalid JSON", Err: err}
	}
	return nil
}

func unknown(name string) error {
	return &core.TranslationError{Notification: name, Reason: "unknown notification"}
}

func missing(name, field string) error {
	return &core.TranslationError{Notification: name, Reason: "missing " + field}
}

// attempts tracks the current attempt of each browser.
type attempts map[string]attemptState

type attemptState struct {
	attempt int
	status  core.TestStatus
}

// current returns the attempt a new notification for browserID belongs to:
// the last attempt while it is still open, otherwise the next one.
func (a attempts) current(browserID string) int {
	st, ok := a[browserID]
	if !ok {
		return 0
	}
	switch st.status {
	case core.StatusIdle, core.StatusQueued, core.StatusRunning, core.StatusSkipped:
		return st.attempt
	default:
		return st.attempt + 1
	}
}

func (a attempts) record(browserID string, attempt int, status core.TestStatus) {
	a[browserID] = attemptState{attempt: attempt, status: status}
}

// stringMeta flattens runner metadata into strings.
func stringMeta(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch x := v.(type) {
		case nil:
			continue
		case string:
			out[k] = x
		default:
			b, err := json.Marshal(x)
			if err != nil {
				out[k] = fmt.Sprint(x)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}
