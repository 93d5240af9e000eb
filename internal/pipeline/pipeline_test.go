package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/imagediff"
	"github.com/leapstack-labs/leapreport/internal/testutil"
	"github.com/leapstack-labs/leapreport/internal/translator"
	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/leapstack-labs/leapreport/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) Emit(e core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.events))
	for i, e := range r.events {
		out[i] = e.Seq
	}
	return out
}

type memStore struct {
	mu    sync.Mutex
	saves []*core.Snapshot
}

func (m *memStore) Save(_ context.Context, s *core.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, s)
	return nil
}

func (m *memStore) Load(context.Context) (*core.Snapshot, error) { return core.NewSnapshot(), nil }
func (m *memStore) Close() error                                  { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

func frame(t *testing.T, e core.Event) []byte {
	t.Helper()
	f, err := e.Frame()
	require.NoError(t, err)
	raw, err := json.Marshal(f)
	require.NoError(t, err)
	return raw
}

func start(t *testing.T, opts Options) (*Pipeline, context.CancelFunc, <-chan error) {
	t.Helper()
	if opts.Translator == nil {
		opts.Translator = translator.Canonical{}
		opts.Runner = translator.KindCanonical
	}
	opts.Logger = testutil.NewTestLogger(t)
	p := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()
	return p, cancel, errc
}

func stop(t *testing.T, cancel context.CancelFunc, errc <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}

func TestSubmit_SequencesAndEmits(t *testing.T) {
	rec := &recorder{}
	store := &memStore{}
	p, cancel, errc := start(t, Options{Emitter: rec, Store: store})

	ctx := context.Background()
	run := testutil.SampleRun()
	for _, e := range run {
		require.NoError(t, p.Submit(ctx, frame(t, e)))
	}

	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8}, rec.seqs())
	assert.Equal(t, 1, store.count(), "END saves a snapshot")

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(run)), snap.Seq)
	assert.True(t, snap.Ended)
	assert.Equal(t, "run-1", snap.RunID)

	stop(t, cancel, errc)
	assert.Equal(t, 2, store.count(), "shutdown saves a snapshot")
	assert.ErrorIs(t, p.Submit(ctx, frame(t, run[0])), ErrStopped)
}

func TestSubmit_TranslationErrorIsReturned(t *testing.T) {
	rec := &recorder{}
	p, cancel, errc := start(t, Options{Emitter: rec})
	defer stop(t, cancel, errc)

	err := p.Submit(context.Background(), []byte(`{not json`))
	assert.ErrorIs(t, err, core.ErrTranslation)
	assert.Empty(t, rec.seqs())
}

func TestSubmit_RejectedEventKeepsSequenceGapless(t *testing.T) {
	rec := &recorder{}
	p, cancel, errc := start(t, Options{Emitter: rec})
	defer stop(t, cancel, errc)

	ctx := context.Background()
	first := core.NewBranchEvent(core.EventTestResult, testutil.Branch([]string{"s"}, "chrome", 0, core.StatusFail))
	dup := core.NewBranchEvent(core.EventTestResult, testutil.Branch([]string{"s"}, "chrome", 0, core.StatusSuccess))
	end := core.NewEndEvent("r")

	require.NoError(t, p.Submit(ctx, frame(t, first)))
	require.NoError(t, p.Submit(ctx, frame(t, dup)))
	require.NoError(t, p.Submit(ctx, frame(t, end)))

	// Duplicates are emitted; the later write wins.
	assert.Equal(t, []uint64{1, 2, 3}, rec.seqs())

	var status core.TestStatus
	require.NoError(t, p.Inspect(ctx, func(_ *tree.Tree, e *aggregate.Engine) {
		status = e.Status("s@chrome")
	}))
	assert.Equal(t, core.StatusSuccess, status)
}

type stubDiffer struct{}

func (stubDiffer) Diff(_ context.Context, _, actual core.Artifact) (imagediff.Outcome, error) {
	return imagediff.Outcome{Diff: &core.Artifact{Path: actual.Path + ".diff"}}, nil
}

func TestSubmit_ResolvesDiffsBeforeEmit(t *testing.T) {
	rec := &recorder{}
	p, cancel, errc := start(t, Options{
		Emitter: rec,
		Diffs:   imagediff.NewPool(stubDiffer{}, 2, nil),
	})
	defer stop(t, cancel, errc)

	run := testutil.SampleRun()
	for _, e := range run[:3] {
		require.NoError(t, p.Submit(context.Background(), frame(t, e)))
	}

	rec.mu.Lock()
	failed := rec.events[2]
	rec.mu.Unlock()
	require.NotNil(t, failed.Branch)
	require.Len(t, failed.Branch.Images, 1)
	require.NotNil(t, failed.Branch.Images[0].Diff)
	assert.Equal(t, "images/form-curr.png.diff", failed.Branch.Images[0].Diff.Path)

	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	img, ok := snap.Images.Get("auth login@chrome#0/form")
	require.True(t, ok)
	assert.NotNil(t, img.Diff)
}

func TestRestore(t *testing.T) {
	tr := tree.New()
	for _, e := range testutil.SampleRun() {
		require.NoError(t, tr.Apply(e))
	}

	rec := &recorder{}
	p := New(Options{Translator: translator.Canonical{}, Emitter: rec})
	require.NoError(t, p.Restore(tr.Snapshot()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()
	defer stop(t, cancel, errc)

	next := core.NewErrorEvent(core.RunError{ID: "late", Message: "late error"})
	require.NoError(t, p.Submit(context.Background(), frame(t, next)))
	assert.Equal(t, []uint64{9}, rec.seqs())
}
