package config

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/logging"
	"github.com/leapstack-labs/leapreport/internal/translator"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if !slices.Contains(translator.Kinds(), c.Runner) {
		return fmt.Errorf("unknown runner %q (valid: %v)", c.Runner, translator.Kinds())
	}
	if _, err := aggregate.ParseRetryPolicy(c.Rollup.RetryPolicy); err != nil {
		return err
	}
	if _, err := aggregate.ParseGroupKey(c.Groups.By); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != logging.FormatText && c.Log.Format != logging.FormatJSON {
		return fmt.Errorf("unknown log format %q (valid: text, json)", c.Log.Format)
	}
	switch c.Output {
	case OutputTable, OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("unknown output format %q (valid: table, json, yaml)", c.Output)
	}
	if c.Channel.Buffer < 1 {
		return fmt.Errorf("channel.buffer must be positive, got %d", c.Channel.Buffer)
	}
	if c.Diff.Workers < 1 {
		return fmt.Errorf("diff.workers must be positive, got %d", c.Diff.Workers)
	}
	return nil
}
