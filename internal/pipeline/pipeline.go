// Package pipeline is the single sequencing point of a live report.
//
// Producers submit raw runner notifications; one goroutine translates them,
// resolves missing diff artifacts, assigns sequence numbers, applies the
// events to the tree and emits them on the update channel. Snapshot and
// inspection requests run on the same goroutine, so a snapshot's Seq always
// matches the frames emitted before it.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/imagediff"
	"github.com/leapstack-labs/leapreport/internal/metrics"
	"github.com/leapstack-labs/leapreport/internal/translator"
	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// ErrStopped is returned for requests made after Run has returned.
var ErrStopped = errors.New("pipeline stopped")

// DefaultQueue is the request queue length used when none is set.
const DefaultQueue = 1024

// saveTimeout bounds the final snapshot save on shutdown.
const saveTimeout = 10 * time.Second

// Emitter receives sequenced events.
type Emitter interface {
	Emit(e core.Event) error
}

// Options configures a pipeline.
type Options struct {
	// Runner names the translator for metrics.
	Runner     string
	Translator translator.Translator
	Emitter    Emitter
	// Store, when set, receives a snapshot on END and on shutdown.
	Store core.SnapshotStore
	// Diffs, when set, resolves missing diff artifacts before events are
	// applied.
	Diffs     *imagediff.Pool
	Aggregate aggregate.Options
	Queue     int
	Logger    *slog.Logger
}

// Pipeline owns the server-side tree.
type Pipeline struct {
	runner     string
	translator translator.Translator
	emitter    Emitter
	store      core.SnapshotStore
	diffs      *imagediff.Pool
	logger     *slog.Logger

	tree   *tree.Tree
	engine *aggregate.Engine

	work    chan request
	stopped chan struct{}
}

type request struct {
	raw   []byte
	fn    func(*tree.Tree, *aggregate.Engine)
	reply chan error
}

// New creates a pipeline. Call Run to start it.
func New(opts Options) *Pipeline {
	queue := opts.Queue
	if queue <= 0 {
		queue = DefaultQueue
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := tree.New()
	return &Pipeline{
		runner:     opts.Runner,
		translator: opts.Translator,
		emitter:    opts.Emitter,
		store:      opts.Store,
		diffs:      opts.Diffs,
		logger:     logger,
		tree:       t,
		engine:     aggregate.New(t, opts.Aggregate),
		work:       make(chan request, queue),
		stopped:    make(chan struct{}),
	}
}

// Restore seeds the tree from a saved snapshot. It must be called before Run.
func (p *Pipeline) Restore(s *core.Snapshot) error {
	return p.tree.Restore(s)
}

// Run processes requests until ctx is cancelled, then saves a final
// snapshot.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.stopped)
	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
			p.save(saveCtx)
			cancel()
			return nil
		case req := <-p.work:
			req.reply <- p.handle(ctx, req)
		}
	}
}

// Submit queues a raw notification and waits until it has been processed.
// It returns the translation error, if any; store errors are logged only.
func (p *Pipeline) Submit(ctx context.Context, raw []byte) error {
	return p.do(ctx, request{raw: raw})
}

// Inspect runs fn on the pipeline goroutine. fn must not retain the tree or
// the engine.
func (p *Pipeline) Inspect(ctx context.Context, fn func(*tree.Tree, *aggregate.Engine)) error {
	return p.do(ctx, request{fn: fn})
}

// Snapshot returns a copy of the tree consistent with the emitted frames.
func (p *Pipeline) Snapshot(ctx context.Context) (*core.Snapshot, error) {
	var snap *core.Snapshot
	err := p.Inspect(ctx, func(t *tree.Tree, _ *aggregate.Engine) {
		snap = t.Snapshot()
	})
	return snap, err
}

func (p *Pipeline) do(ctx context.Context, req request) error {
	req.reply = make(chan error, 1)
	select {
	case p.work <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrStopped
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		// Run replies before it can stop, so a reply may still be waiting.
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrStopped
		}
	}
}

func (p *Pipeline) handle(runCtx context.Context, req request) error {
	if req.fn != nil {
		req.fn(p.tree, p.engine)
		return nil
	}
	events, err := p.translator.Translate(req.raw)
	metrics.RecordNotification(p.runner, err)
	if err != nil {
		p.logger.Warn("dropping notification", "error", err)
		return err
	}
	for _, e := range events {
		p.publish(runCtx, e)
	}
	return nil
}

// publish sequences, applies and emits one event.
func (p *Pipeline) publish(ctx context.Context, e core.Event) {
	if e.Branch != nil && p.diffs != nil {
		if err := p.diffs.Resolve(ctx, e.Branch); err != nil {
			p.logger.Warn("diff resolution interrupted", "event", e.Name, "error", err)
		}
	}

	e.Seq = p.tree.Seq() + 1
	if err := p.tree.Apply(e); err != nil {
		metrics.RecordStoreError(err)
		if !errors.Is(err, core.ErrDuplicateAttempt) {
			p.logger.Warn("event rejected", "event", e.Name, "error", err)
			return
		}
		p.logger.Warn("duplicate attempt", "event", e.Name, "error", err)
	}

	if p.emitter != nil {
		if err := p.emitter.Emit(e); err != nil {
			p.logger.Error("emit failed", "event", e.Name, "seq", e.Seq, "error", err)
		}
	}

	if e.Name == core.EventEnd {
		p.logger.Info("run ended", "run", p.tree.RunID(), "seq", e.Seq)
		p.save(ctx)
	}
}

func (p *Pipeline) save(ctx context.Context) {
	if p.store == nil {
		return
	}
	err := p.store.Save(ctx, p.tree.Snapshot())
	metrics.RecordSnapshotSave(err)
	if err != nil {
		p.logger.Error("failed to save snapshot", "error", err)
		return
	}
	p.logger.Debug("snapshot saved", "seq", p.tree.Seq())
}
