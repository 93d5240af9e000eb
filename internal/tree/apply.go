package tree

import (
	"errors"
	"slices"

	"github.com/leapstack-labs/leapreport/pkg/core"
)

// Apply folds one canonical event into the tree. Server and clients share
// this function, which keeps a replayed tree identical to the server's.
//
// A DuplicateAttemptError is returned after the event has been applied;
// any other error means the tree is unchanged.
func (t *Tree) Apply(e core.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	var err error
	switch e.Name {
	case core.EventBeginSuite:
		_, err = t.EnsureSuitePath(e.Suite.SuitePath)
	case core.EventBeginState, core.EventTestResult, core.EventUpdateResult, core.EventRetry:
		err = t.ApplyBranch(*e.Branch)
	case core.EventError:
		t.addError(*e.Error)
	case core.EventEnd:
		t.ended = true
		if e.End.RunID != "" {
			t.runID = e.End.RunID
		}
		t.clock++
	}
	if err != nil && !isDuplicate(err) {
		return err
	}
	if e.Seq > t.seq {
		t.seq = e.Seq
	}
	return err
}

func (t *Tree) addError(re core.RunError) {
	if re.ID != "" {
		if i := slices.IndexFunc(t.errors, func(x core.RunError) bool { return x.ID == re.ID }); i >= 0 {
			t.errors[i] = re
			t.clock++
			return
		}
	}
	t.errors = append(t.errors, re)
	t.clock++
}

func isDuplicate(err error) bool {
	return errors.Is(err, core.ErrDuplicateAttempt)
}
