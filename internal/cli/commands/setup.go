package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/cli/config"
	"github.com/leapstack-labs/leapreport/internal/state"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Store  *state.SQLiteStore
	Out    io.Writer
}

// NewCommandContext creates a CommandContext with the report store opened.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cctx := NewCommandContextWithoutStore(cmd)

	store, err := openStore(cctx.Cfg.StatePath)
	if err != nil {
		return nil, nil, err
	}
	cctx.Store = store

	cleanup := func() {
		if err := store.Close(); err != nil {
			cctx.Logger.Warn("failed to close report store", "error", err)
		}
	}
	return cctx, cleanup, nil
}

// NewCommandContextWithoutStore creates a CommandContext without a store.
// Useful for commands that don't need the report database.
func NewCommandContextWithoutStore(cmd *cobra.Command) *CommandContext {
	return &CommandContext{
		Cfg:    config.GetConfig(cmd.Context()),
		Logger: config.GetLogger(cmd.Context()),
		Out:    cmd.OutOrStdout(),
	}
}

// AggregateOptions returns the rollup options selected by the config.
func (c *CommandContext) AggregateOptions() (aggregate.Options, error) {
	policy, err := aggregate.ParseRetryPolicy(c.Cfg.Rollup.RetryPolicy)
	if err != nil {
		return aggregate.Options{}, err
	}
	groupBy, err := aggregate.ParseGroupKey(c.Cfg.Groups.By)
	if err != nil {
		return aggregate.Options{}, err
	}
	return aggregate.Options{RetryPolicy: policy, GroupBy: groupBy}, nil
}

// openStore opens the report database, creating its directory first.
func openStore(path string) (*state.SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}
	store, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report store: %w", err)
	}
	return store, nil
}
