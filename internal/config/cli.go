package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// CLIFlags holds command-line overrides. Nil fields were not set on the command line.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
	Threshold  *float64
}

// ParseFlags parses server flags from args (without the program name).
func ParseFlags(args []string) (CLIFlags, error) {
	fs := pflag.NewFlagSet("groundcontrol", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to YAML config file")
	port := fs.StringP("port", "p", "", "HTTP listen port")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURL := fs.String("nats-url", "", "NATS server URL")
	threshold := fs.Float64("auto-execute-threshold", 0, "auto-execute risk threshold in [0,1]")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var flags CLIFlags
	if fs.Changed("config") {
		flags.ConfigPath = configPath
	}
	if fs.Changed("port") {
		flags.Port = port
	}
	if fs.Changed("log-level") {
		flags.LogLevel = logLevel
	}
	if fs.Changed("dsn") {
		flags.DSN = dsn
	}
	if fs.Changed("nats-url") {
		flags.NatsURL = natsURL
	}
	if fs.Changed("auto-execute-threshold") {
		flags.Threshold = threshold
	}
	return flags, nil
}

// LoadWithCLI loads configuration with the hierarchy defaults < YAML < ENV < CLI.
// It returns the resolved YAML path alongside the config.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if p := os.Getenv("GROUNDCONTROL_CONFIG"); p != "" {
		path = p
	}
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

// applyCLI overlays set flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
	if flags.Threshold != nil {
		cfg.Decision.AutoExecuteRiskThreshold = *flags.Threshold
	}
}
