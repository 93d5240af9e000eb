package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/leapstack-labs/leapreport/pkg/core"
	"github.com/stretchr/testify/assert"
)

func TestStoreErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"broken reference", &core.BrokenReferenceError{Kind: "browser"}, "broken_reference"},
		{"duplicate", &core.DuplicateAttemptError{}, "duplicate_attempt"},
		{"other", errors.New("bad status"), "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, storeErrorKind(tt.err))
		})
	}
}

func TestRecorders(t *testing.T) {
	// just test that they don't panic
	assert.NotPanics(t, func() {
		ConnectionOpened("sse")
		ConnectionClosed("sse", DropClosed)
		FrameEmitted(core.EventEnd)
		RecordNotification("testplane", nil)
		RecordNotification("testplane", errors.New("x"))
		RecordStoreError(nil)
		RecordStoreError(errors.New("x"))
		RecordSnapshotSave(nil)
		ObserveDiff(time.Millisecond)
	})
}
