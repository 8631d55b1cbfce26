// Package config loads configuration from environment variables, with
// command-line flags taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Config holds all DiskAnalyzer configuration.
type Config struct {
	// Roots are the trees to index. The first one is analyzed on start.
	Roots []string

	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Watching
	Watch        bool
	RenameWindow time.Duration

	// EventBuffer is the channel capacity of each node subscription.
	EventBuffer int

	ScanOnStart bool
}

// Load reads configuration from environment variables with defaults, then
// applies any flags present in args.
func Load(args []string) (*Config, error) {
	cfg := &Config{
		Roots:        splitList(envOr("DISKANALYZER_ROOTS", "")),
		ListenAddr:   envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:  envOr("METRICS_ADDR", ":9090"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		LogFormat:    envOr("LOG_FORMAT", "json"),
		Watch:        envBool("WATCH", true),
		RenameWindow: envDuration("RENAME_WINDOW", 200*time.Millisecond),
		EventBuffer:  envInt("EVENT_BUFFER", 256),
		ScanOnStart:  envBool("SCAN_ON_START", true),
	}

	fs := pflag.NewFlagSet("diskanalyzer", pflag.ContinueOnError)
	fs.StringSliceVarP(&cfg.Roots, "root", "r", cfg.Roots, "tree to index (repeatable)")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP API listen address")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json or console")
	fs.BoolVar(&cfg.Watch, "watch", cfg.Watch, "apply live filesystem changes to the index")
	fs.DurationVar(&cfg.RenameWindow, "rename-window", cfg.RenameWindow, "how long a rename waits for its matching create")
	fs.IntVar(&cfg.EventBuffer, "event-buffer", cfg.EventBuffer, "per-subscriber notification buffer")
	fs.BoolVar(&cfg.ScanOnStart, "scan", cfg.ScanOnStart, "scan roots on start")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	cfg.Roots = append(cfg.Roots, fs.Args()...)

	if len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("at least one root is required (DISKANALYZER_ROOTS or --root)")
	}
	if cfg.RenameWindow <= 0 {
		return nil, fmt.Errorf("rename window must be positive, got %s", cfg.RenameWindow)
	}
	if cfg.EventBuffer <= 0 {
		return nil, fmt.Errorf("event buffer must be positive, got %d", cfg.EventBuffer)
	}

	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
