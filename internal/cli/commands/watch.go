package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/client"
	"github.com/leapstack-labs/leapreport/internal/logging"
	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/spf13/cobra"
)

// WatchOptions holds options for the watch command.
type WatchOptions struct {
	Filter  string
	Timeout time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	opts := &WatchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <url>",
		Short: "Follow a live report server until the run ends",
		Long: `Connect to a running report server, replicate its report and print
it once the run has ended.`,
		Example: `  # Wait for the run served on the default port
  leapreport watch http://localhost:8000

  # Give up after ten minutes
  leapreport watch http://ci-host:8000 --timeout 10m --filter failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args[0], opts)
		},
	}

	cmd.Flags().String("retry-policy", "", "How retries roll up (flag|worst-attempt)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "all", "Show only matching tests (all|passed|failed|retried)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "Stop waiting after this long (0 waits forever)")

	return cmd
}

func runWatch(cmd *cobra.Command, url string, opts *WatchOptions) error {
	cctx := NewCommandContextWithoutStore(cmd)

	aggOpts, err := cctx.AggregateOptions()
	if err != nil {
		return err
	}
	c, err := client.New(client.Options{
		URL:       url,
		Aggregate: aggOpts,
		Logger:    logging.Component(cctx.Logger, "client"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-c.Ended():
		cancel()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			cctx.Logger.Debug("client stopped", "error", err)
		}
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("watch %s: %w", url, err)
		}
		if !c.Reducer().Bootstrapped() {
			return fmt.Errorf("watch %s: stopped before the report was received", url)
		}
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "run has not ended; printing partial report")
	}

	mode, err := aggregate.ParseViewMode(opts.Filter)
	if err != nil {
		return err
	}
	c.Reducer().SetView(aggregate.View{Mode: mode})

	var renderErr error
	c.Reducer().Read(func(t *tree.Tree, e *aggregate.Engine) {
		renderErr = renderReport(cctx.Out, buildReport(t, e), cctx.Cfg.Output)
	})
	return renderErr
}
