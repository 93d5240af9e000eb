// Package features provides shared test utilities for UI feature tests.
package features

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapreport/internal/channel"
	"github.com/leapstack-labs/leapreport/internal/pipeline"
	"github.com/leapstack-labs/leapreport/internal/testutil"
	"github.com/leapstack-labs/leapreport/internal/translator"
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// TestFixture holds a running pipeline wired to an update channel.
type TestFixture struct {
	Pipeline *pipeline.Pipeline
	Channel  *channel.Channel

	t *testing.T
}

// SetupTestFixture starts a pipeline that accepts canonical frames. It is
// stopped when the test ends.
func SetupTestFixture(t *testing.T) *TestFixture {
	t.Helper()

	logger := testutil.NewTestLogger(t)
	ch := channel.New(64, logger)
	p := pipeline.New(pipeline.Options{
		Runner:     translator.KindCanonical,
		Translator: translator.Canonical{},
		Emitter:    ch,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-errc:
		case <-time.After(5 * time.Second):
			t.Error("pipeline did not stop")
		}
		ch.Close()
	})

	return &TestFixture{Pipeline: p, Channel: ch, t: t}
}

// Submit feeds events through the pipeline as canonical frames.
func (f *TestFixture) Submit(events ...core.Event) {
	f.t.Helper()
	for _, e := range events {
		require.NoError(f.t, f.Pipeline.Submit(context.Background(), FrameJSON(f.t, e)))
	}
}

// FrameJSON encodes an event the way the canonical runner writes it.
func FrameJSON(t *testing.T, e core.Event) []byte {
	t.Helper()
	fr, err := e.Frame()
	require.NoError(t, err)
	raw, err := json.Marshal(fr)
	require.NoError(t, err)
	return raw
}
