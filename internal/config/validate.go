package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minParallelTransfers = 1
	maxParallelTransfers = 64
	minConnectTimeout    = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found,
// so users can fix everything in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateEndpoints(&cfg.Endpoints)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateResolved checks what must hold once every layer is applied: the
// API key and project are required to talk to any service.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.APIKey == "" {
		errs = append(errs, fmt.Errorf("api_key: required (set it in the config file or %s)", EnvAPIKey))
	}

	if r.Project == "" {
		errs = append(errs, fmt.Errorf("project: required (set it in the config file, %s or --project)", EnvProject))
	} else if strings.ContainsAny(r.Project, "/?#. ") {
		errs = append(errs, fmt.Errorf("project: %q is not a valid project id", r.Project))
	}

	return errors.Join(errs...)
}

func validateEndpoints(e *EndpointsConfig) []error {
	var errs []error

	for _, ep := range []struct{ name, value string }{
		{"database_url", e.DatabaseURL},
		{"store_url", e.StoreURL},
		{"storage_url", e.StorageURL},
		{"identity_url", e.IdentityURL},
		{"token_url", e.TokenURL},
	} {
		if ep.value == "" {
			continue
		}

		u, err := url.Parse(ep.value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("endpoints.%s: must be an absolute http(s) URL, got %q", ep.name, ep.value))
		}
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	return validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if _, err := ParseSize(t.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("transfers.bandwidth_limit: %w", err))
	}

	if t.ParallelTransfers < minParallelTransfers || t.ParallelTransfers > maxParallelTransfers {
		errs = append(errs, fmt.Errorf("transfers.parallel_transfers: must be between %d and %d, got %d",
			minParallelTransfers, maxParallelTransfers, t.ParallelTransfers))
	}

	return errs
}

var validLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if _, ok := validLogLevels[l.LogLevel]; !ok {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, value)}
	}

	return nil
}

// SlogLevel returns the configured log level. Unknown values fall back to
// warn, which Validate would already have rejected.
func (l LoggingConfig) SlogLevel() slog.Level {
	if lvl, ok := validLogLevels[l.LogLevel]; ok {
		return lvl
	}

	return slog.LevelWarn
}

// ConnectTimeoutDuration returns the parsed connect timeout, or zero.
func (n NetworkConfig) ConnectTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(n.ConnectTimeout)
	if err != nil {
		return 0
	}

	return d
}

// BandwidthBytes returns the parsed bandwidth limit in bytes per second; 0
// means unlimited.
func (t TransfersConfig) BandwidthBytes() int64 {
	n, err := ParseSize(t.BandwidthLimit)
	if err != nil {
		return 0
	}

	return n
}
