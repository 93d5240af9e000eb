// Package imagediff resolves missing diff artifacts for screenshot
// mismatches through an external compute diff service.
package imagediff

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/leapstack-labs/leapreport/internal/metrics"
	"github.com/leapstack-labs/leapreport/pkg/core"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of comparing two screenshots.
type Outcome struct {
	Equal bool
	// Diff is the produced diff artifact, nil when the service produced none.
	Diff *core.Artifact
}

// Differ is the compute diff service.
type Differ interface {
	Diff(ctx context.Context, expected, actual core.Artifact) (Outcome, error)
}

// FileDiffer compares artifacts byte for byte. It never produces a diff
// image; it only tells identical files apart.
type FileDiffer struct{}

func (FileDiffer) Diff(ctx context.Context, expected, actual core.Artifact) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	a, err := os.ReadFile(expected.Path)
	if err != nil {
		return Outcome{}, fmt.Errorf("read expected: %w", err)
	}
	b, err := os.ReadFile(actual.Path)
	if err != nil {
		return Outcome{}, fmt.Errorf("read actual: %w", err)
	}
	return Outcome{Equal: bytes.Equal(a, b)}, nil
}

// DefaultWorkers bounds concurrent diff calls when no limit is configured.
const DefaultWorkers = 4

// Pool calls a Differ for every pixel mismatch that lacks a diff artifact,
// with bounded concurrency. Produced artifacts are cached by the pair of
// input paths.
type Pool struct {
	differ  Differ
	workers int
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]*core.Artifact
}

// NewPool creates a pool. workers <= 0 selects DefaultWorkers.
func NewPool(d Differ, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		differ:  d,
		workers: workers,
		logger:  logger,
		cache:   make(map[string]*core.Artifact),
	}
}

// NeedsDiff reports whether img is a mismatch the pool would resolve.
func NeedsDiff(img *core.ImageFact) bool {
	return img.ErrorKind == core.ImageErrorPixelMismatch &&
		img.Diff == nil && img.Expected != nil && img.Actual != nil
}

// Resolve fills in Diff for the branch's unresolved mismatches. Service
// failures are logged and leave the image unchanged; only cancellation is
// returned.
func (p *Pool) Resolve(ctx context.Context, b *core.TestBranch) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := range b.Images {
		img := &b.Images[i]
		if !NeedsDiff(img) {
			continue
		}
		key := img.Expected.Path + "\x00" + img.Actual.Path
		if diff, ok := p.cached(key); ok {
			img.Diff = diff
			continue
		}
		g.Go(func() error {
			start := time.Now()
			out, err := p.differ.Diff(ctx, *img.Expected, *img.Actual)
			metrics.ObserveDiff(time.Since(start))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Warn("compute diff", "state", img.StateName, "error", err)
				return nil
			}
			if out.Equal {
				p.logger.Debug("screenshots are identical", "state", img.StateName, "actual", img.Actual.Path)
			}
			if out.Diff != nil {
				img.Diff = out.Diff
				p.store(key, out.Diff)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) cached(key string) (*core.Artifact, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.cache[key]
	return a, ok
}

func (p *Pool) store(key string, a *core.Artifact) {
	p.mu.Lock()
	p.cache[key] = a
	p.mu.Unlock()
}
