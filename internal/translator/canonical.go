package translator

import (
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// Canonical accepts notifications that are already canonical frames, as
// written by a recorder or another leapreport instance. Sequence numbers on
// the input are discarded; the pipeline assigns its own.
type Canonical struct{}

// Translate implements Translator.
func (Canonical) Translate(raw []byte) ([]core.Event, error) {
	var f core.Frame
	if err := decode(raw, &f); err != nil {
		return nil, err
	}
	e, err := core.DecodeFrame(f)
	if err != nil {
		return nil, &core.TranslationError{Notification: string(f.Event), Reason: "invalid frame", Err: err}
	}
	e.Seq = 0
	return []core.Event{e}, nil
}
