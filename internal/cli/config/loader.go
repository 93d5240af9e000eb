package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable the loader reads.
// Nested keys use a double underscore: LEAPREPORT_LOG__LEVEL -> log.level.
const EnvPrefix = "LEAPREPORT_"

// loggerKey is used to store logger in context.
type loggerKey struct{}

// configKey is used to store config in context.
type configKey struct{}

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
)

// flagKeys maps flag names whose config key is not the snake_case form of
// the flag.
var flagKeys = map[string]string{
	"state":         "state_path",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"buffer":        "channel.buffer",
	"write-timeout": "channel.write_timeout",
	"retry-policy":  "rollup.retry_policy",
	"group-by":      "groups.by",
	"diff-workers":  "diff.workers",
	"cors-origin":   "cors.allowed_origins",
}

func defaults() map[string]any {
	return map[string]any{
		"port":                  DefaultPort,
		"hostname":              DefaultHostname,
		"runner":                DefaultRunner,
		"input":                 DefaultInput,
		"follow":                false,
		"state_path":            DefaultStateFile,
		"verbose":               false,
		"output":                DefaultOutput,
		"log.level":             DefaultLogLevel,
		"log.format":            DefaultLogFormat,
		"channel.buffer":        256,
		"channel.write_timeout": DefaultWriteTimeout.String(),
		"rollup.retry_policy":   DefaultRetryPolicy,
		"groups.by":             DefaultGroupBy,
		"diff.workers":          4,
		"cors.allowed_origins":  []string{},
	}
}

// findConfigFile finds the config file to use.
// Priority: explicit path > leapreport.yaml > leapreport.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"leapreport.yaml", "leapreport.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg, err := unmarshal(koanfWith(defaults()))
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

func koanfWith(m map[string]any) *koanf.Koanf {
	kk := koanf.New(".")
	_ = kk.Load(confmap.Provider(m, "."), nil)
	return kk
}

func unmarshal(kk *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := kk.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Environment variables
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (only those explicitly set)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	cfg, err := unmarshal(k)
	if err != nil {
		return nil, err
	}

	// A state path taken from the config file is relative to that file.
	if configFileUsed != "" && !changed(flags, "state") && os.Getenv(EnvPrefix+"STATE_PATH") == "" {
		cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, filepath.Dir(configFileUsed))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envKey transforms LEAPREPORT_CORS__ALLOWED_ORIGINS=a,b into
// cors.allowed_origins=[a b].
func envKey(name, value string) (string, interface{}) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "cors.allowed_origins" {
		var origins []string
		for _, o := range strings.Split(value, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		return key, origins
	}
	return key, value
}

func flagKey(name string) string {
	if key, ok := flagKeys[name]; ok {
		return key
	}
	return strings.ReplaceAll(name, "-", "_")
}

func changed(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty, in-memory or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// ConfigKey returns the context key used for storing the loaded config.
func ConfigKey() interface{} {
	return configKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// GetConfig retrieves the config from the command context, falling back to
// the defaults.
func GetConfig(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return Default()
}
