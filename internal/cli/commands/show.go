package commands

import (
	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/spf13/cobra"
)

// ShowOptions holds options for the show command.
type ShowOptions struct {
	Filter string
}

// NewShowCommand creates the show command.
func NewShowCommand() *cobra.Command {
	opts := &ShowOptions{}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved report",
		Long:  `Print the report saved in the state database as a table, JSON or YAML.`,
		Example: `  # Print the last saved report
  leapreport show

  # Print failures from a specific database as YAML
  leapreport show --state ci/report.db --filter failed -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShow(cmd, opts)
		},
	}

	cmd.Flags().String("retry-policy", "", "How retries roll up (flag|worst-attempt)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "all", "Show only matching tests (all|passed|failed|retried)")

	return cmd
}

func runShow(cmd *cobra.Command, opts *ShowOptions) error {
	cctx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	aggOpts, err := cctx.AggregateOptions()
	if err != nil {
		return err
	}
	snap, err := cctx.Store.Load(cmd.Context())
	if err != nil {
		return err
	}

	t := tree.New()
	if err := t.Restore(snap); err != nil {
		return err
	}
	e := aggregate.New(t, aggOpts)
	if err := reportView(e, opts.Filter); err != nil {
		return err
	}
	return renderReport(cctx.Out, buildReport(t, e), cctx.Cfg.Output)
}
