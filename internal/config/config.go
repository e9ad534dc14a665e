// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults live in New; layering and validation live in Load.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9070".
	Addr string `koanf:"addr"`

	// APIBase is the base URL of the remote Codeforces API.
	APIBase string `koanf:"api_base"`

	// FetchTimeoutMS bounds every single remote fetch call.
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`

	// ContestRefreshIntervalS is the contest catalog refresh period.
	ContestRefreshIntervalS int `koanf:"contest_refresh_interval_s"`

	// ProblemRefreshIntervalS is the problem catalog refresh period.
	ProblemRefreshIntervalS int `koanf:"problem_refresh_interval_s"`

	// RatingRepairIntervalS is the period of the background pass that
	// fetches rating changes for finished contests missing them.
	RatingRepairIntervalS int `koanf:"rating_repair_interval_s"`

	// MonitorIntervalS is the standings poll period for monitored contests.
	MonitorIntervalS int `koanf:"monitor_interval_s"`

	// PollFailureWarnStreak is the consecutive-failure count after which a
	// monitored contest's poll failures are escalated to warn logs.
	PollFailureWarnStreak int `koanf:"poll_failure_warn_streak"`

	// RanklistMemoTTLS bounds how long a finished contest's generated
	// ranklist is memoized. Zero keeps it forever.
	RanklistMemoTTLS int `koanf:"ranklist_memo_ttl_s"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is reserved for future use.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                "info",
		Addr:                    ":9070",
		APIBase:                 "https://codeforces.com/api",
		FetchTimeoutMS:          15_000,
		ContestRefreshIntervalS: 1800,
		ProblemRefreshIntervalS: 21600,
		RatingRepairIntervalS:   3600,
		MonitorIntervalS:        300,
		PollFailureWarnStreak:   5,
		RanklistMemoTTLS:        0,
	}
}
