package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/imagediff"
	"github.com/leapstack-labs/leapreport/internal/ingest"
	"github.com/leapstack-labs/leapreport/internal/logging"
	"github.com/leapstack-labs/leapreport/internal/pipeline"
	"github.com/leapstack-labs/leapreport/internal/translator"
	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/spf13/cobra"
)

// ReplayOptions holds options for the replay command.
type ReplayOptions struct {
	Filter string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand() *cobra.Command {
	opts := &ReplayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Build a report from a recorded notification file",
		Long: `Translate a recorded notification file offline, save the resulting
report to the state database and print it.`,
		Example: `  # Replay a recorded testplane run
  leapreport replay run.jsonl

  # Replay canonical events and print only failures
  leapreport replay events.jsonl --runner canonical --filter failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args[0], opts)
		},
	}

	cmd.Flags().String("runner", "", "Runner notification format (testplane|playwright|canonical)")
	cmd.Flags().String("retry-policy", "", "How retries roll up (flag|worst-attempt)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "all", "Show only matching tests (all|passed|failed|retried)")

	return cmd
}

func runReplay(cmd *cobra.Command, path string, opts *ReplayOptions) error {
	cctx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	aggOpts, err := cctx.AggregateOptions()
	if err != nil {
		return err
	}
	tr, err := translator.New(cctx.Cfg.Runner, translator.Options{RunID: uuid.NewString()})
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open notification file: %w", err)
	}
	defer func() { _ = f.Close() }()

	p := pipeline.New(pipeline.Options{
		Runner:     cctx.Cfg.Runner,
		Translator: tr,
		Store:      cctx.Store,
		Diffs:      imagediff.NewPool(imagediff.FileDiffer{}, cctx.Cfg.Diff.Workers, logging.Component(cctx.Logger, "imagediff")),
		Aggregate:  aggOpts,
		Logger:     logging.Component(cctx.Logger, "pipeline"),
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var accepted, rejected int
	readErr := ingest.ReadLines(ctx, f, func(ctx context.Context, line []byte) error {
		if err := p.Submit(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rejected++
			return nil
		}
		accepted++
		return nil
	})
	snap, snapErr := p.Snapshot(ctx)

	// Stopping the pipeline saves the final snapshot.
	cancel()
	if err := <-done; err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}
	if snapErr != nil {
		return snapErr
	}

	cctx.Logger.Info("replayed notifications", "accepted", accepted, "rejected", rejected, "path", path)

	t := tree.New()
	if err := t.Restore(snap); err != nil {
		return err
	}
	e := aggregate.New(t, aggOpts)
	if err := reportView(e, opts.Filter); err != nil {
		return err
	}
	if err := renderReport(cctx.Out, buildReport(t, e), cctx.Cfg.Output); err != nil {
		return err
	}
	if rejected > 0 {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d notifications rejected\n", rejected, accepted+rejected)
	}
	return nil
}
