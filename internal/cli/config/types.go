// Package config provides configuration management for the leapreport CLI.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	Port      int    `koanf:"port"`
	Hostname  string `koanf:"hostname"`
	Runner    string `koanf:"runner"`
	Input     string `koanf:"input"`
	Follow    bool   `koanf:"follow"`
	StatePath string `koanf:"state_path"`
	Verbose   bool   `koanf:"verbose"`
	Output    string `koanf:"output"`

	Log     LogConfig     `koanf:"log"`
	Channel ChannelConfig `koanf:"channel"`
	Rollup  RollupConfig  `koanf:"rollup"`
	Groups  GroupsConfig  `koanf:"groups"`
	Diff    DiffConfig    `koanf:"diff"`
	CORS    CORSConfig    `koanf:"cors"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ChannelConfig configures the update channel.
type ChannelConfig struct {
	// Buffer is the number of frames queued per connection before it is
	// considered stalled and dropped.
	Buffer       int           `koanf:"buffer"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// RollupConfig configures status aggregation.
type RollupConfig struct {
	RetryPolicy string `koanf:"retry_policy"`
}

// GroupsConfig configures result grouping.
type GroupsConfig struct {
	By string `koanf:"by"`
}

// DiffConfig configures the image diff worker pool.
type DiffConfig struct {
	Workers int `koanf:"workers"`
}

// CORSConfig configures cross-origin access for viewers.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Default configuration values.
const (
	DefaultPort         = 8000
	DefaultHostname     = "localhost"
	DefaultRunner       = "testplane"
	DefaultInput        = "-"
	DefaultStateFile    = ".leapreport/report.db"
	DefaultOutput       = OutputTable
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultWriteTimeout = 10 * time.Second
	DefaultRetryPolicy  = "flag"
	DefaultGroupBy      = "error"
)

// Output formats for commands that print a report.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)
