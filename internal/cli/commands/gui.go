package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapreport/internal/channel"
	"github.com/leapstack-labs/leapreport/internal/imagediff"
	"github.com/leapstack-labs/leapreport/internal/ingest"
	"github.com/leapstack-labs/leapreport/internal/logging"
	"github.com/leapstack-labs/leapreport/internal/pipeline"
	"github.com/leapstack-labs/leapreport/internal/translator"
	"github.com/leapstack-labs/leapreport/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// GUIOptions holds options for the gui command.
type GUIOptions struct {
	Resume bool
}

// NewGUICommand creates the gui command.
func NewGUICommand() *cobra.Command {
	opts := &GUIOptions{}

	cmd := &cobra.Command{
		Use:   "gui",
		Short: "Serve a live report of a running test suite",
		Long: `Read runner notifications and serve the live report tree.

Notifications are read one JSON object per line from --input ("-" for
stdin). Viewers connect to:
- GET /init    snapshot of the report
- GET /events  SSE stream of sequenced frames
- GET /ws      WebSocket stream of sequenced frames

The report is saved to the state database when the run ends and on
shutdown.`,
		Example: `  # Pipe a runner's notifications into the report server
  ./run-tests.sh | leapreport gui --runner testplane

  # Follow a notification file that is still being written
  leapreport gui --input run.jsonl --follow --port 9000

  # Continue a report saved by an earlier session
  leapreport gui --resume`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGUI(cmd, opts)
		},
	}

	cmd.Flags().Int("port", 0, "Port to serve on (default: 8000)")
	cmd.Flags().String("hostname", "", "Interface to bind (default: localhost)")
	cmd.Flags().String("runner", "", "Runner notification format (testplane|playwright|canonical)")
	cmd.Flags().StringP("input", "i", "", `Notification source file ("-" for stdin)`)
	cmd.Flags().Bool("follow", false, "Keep reading lines appended to --input")
	cmd.Flags().Int("buffer", 0, "Frames queued per connection before it is dropped")
	cmd.Flags().Duration("write-timeout", 0, "Deadline for one frame write")
	cmd.Flags().Int("diff-workers", 0, "Concurrent image diff computations")
	cmd.Flags().StringSlice("cors-origin", nil, "Origins allowed to connect (repeatable)")
	cmd.Flags().String("retry-policy", "", "How retries roll up (flag|worst-attempt)")
	cmd.Flags().String("group-by", "", "Result grouping (error|meta.<field>)")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "Start from the report saved in the state database")

	_ = cmd.RegisterFlagCompletionFunc("runner", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return translator.Kinds(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runGUI(cmd *cobra.Command, opts *GUIOptions) error {
	cctx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := cctx.Cfg
	logger := cctx.Logger
	ctx := cmd.Context()

	aggOpts, err := cctx.AggregateOptions()
	if err != nil {
		return err
	}
	tr, err := translator.New(cfg.Runner, translator.Options{RunID: uuid.NewString()})
	if err != nil {
		return err
	}

	ch := channel.New(cfg.Channel.Buffer, logging.Component(logger, "channel"))
	p := pipeline.New(pipeline.Options{
		Runner:     cfg.Runner,
		Translator: tr,
		Emitter:    ch,
		Store:      cctx.Store,
		Diffs:      imagediff.NewPool(imagediff.FileDiffer{}, cfg.Diff.Workers, logging.Component(logger, "imagediff")),
		Aggregate:  aggOpts,
		Logger:     logging.Component(logger, "pipeline"),
	})

	if opts.Resume {
		snap, err := cctx.Store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load saved report: %w", err)
		}
		if err := p.Restore(snap); err != nil {
			return fmt.Errorf("failed to restore saved report: %w", err)
		}
		logger.Info("resumed saved report", "seq", snap.Seq, "path", cctx.Store.Path())
	}

	server := ui.NewServer(ui.Config{
		Source:         p,
		Channel:        ch,
		Hostname:       cfg.Hostname,
		Port:           cfg.Port,
		WriteTimeout:   cfg.Channel.WriteTimeout,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logging.Component(logger, "server"),
	})

	_, _ = fmt.Fprintf(cctx.Out, "Serving report on http://%s\n", server.Addr())
	_, _ = fmt.Fprintln(cctx.Out, "Press Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		return server.Serve(gctx)
	})
	g.Go(func() error {
		err := readInput(gctx, cmd.InOrStdin(), cfg.Input, cfg.Follow, submitter(p, cctx), cctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// submitter feeds notification lines into the pipeline. Rejected lines are
// logged and skipped.
func submitter(p *pipeline.Pipeline, cctx *CommandContext) ingest.Handler {
	return func(ctx context.Context, line []byte) error {
		err := p.Submit(ctx, line)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, pipeline.ErrStopped):
			return context.Canceled
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			cctx.Logger.Debug("notification rejected", "error", err)
			return nil
		}
	}
}

func readInput(ctx context.Context, stdin io.Reader, input string, follow bool, fn ingest.Handler, cctx *CommandContext) error {
	if input == "" || input == "-" {
		if err := ingest.ReadLines(ctx, stdin, fn); err != nil {
			return err
		}
		cctx.Logger.Info("input closed")
		return nil
	}
	if follow {
		return ingest.Follow(ctx, input, fn, cctx.Logger)
	}
	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := ingest.ReadLines(ctx, f, fn); err != nil {
		return err
	}
	cctx.Logger.Info("input read", "path", input)
	return nil
}
