package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateService(&cfg.Service)...)
	errs = append(errs, validateDownload(&cfg.Download)...)
	errs = append(errs, validateOpen(&cfg.Open)...)
	errs = append(errs, validateGrants(&cfg.Grants)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after the
// override chain has been applied and path defaults are filled in.
func ValidateResolved(cfg *Config) error {
	var errs []error

	paths := []struct {
		field, value string
	}{
		{"download.download_dir", cfg.Download.DownloadDir},
		{"grants.key_file", cfg.Grants.KeyFile},
	}

	if cfg.Grants.Store == StoreSQLite {
		paths = append(paths, struct{ field, value string }{"grants.db_path", cfg.Grants.DBPath})
	}

	for _, p := range paths {
		switch {
		case p.value == "":
			errs = append(errs, fmt.Errorf("%s: no default available, set it explicitly", p.field))
		case !filepath.IsAbs(p.value):
			errs = append(errs, fmt.Errorf("%s: must be absolute after expansion, got %q", p.field, p.value))
		}
	}

	return errors.Join(errs...)
}

func validateService(s *ServiceConfig) []error {
	var errs []error

	if strings.TrimSpace(s.ApplicationLabel) == "" {
		errs = append(errs, errors.New("service.application_label: must not be empty"))
	}

	for _, ct := range s.AcceptedContentTypes {
		if !validContentType(ct) {
			errs = append(errs, fmt.Errorf("service.accepted_content_types: %q is not a type/subtype", ct))
		}
	}

	switch s.AuthFlow {
	case AuthFlowDevice, AuthFlowBrowser:
	default:
		errs = append(errs, fmt.Errorf("service.auth_flow: must be one of device, browser; got %q", s.AuthFlow))
	}

	return errs
}

func validateDownload(d *DownloadConfig) []error {
	if _, err := ParseBandwidth(d.BandwidthLimit); err != nil {
		return []error{fmt.Errorf("download.bandwidth_limit: %w", err)}
	}

	return nil
}

func validateOpen(o *OpenConfig) []error {
	var errs []error

	for ct, command := range o.Handlers {
		if !validContentType(ct) {
			errs = append(errs, fmt.Errorf("open.handlers: key %q is not a type/subtype", ct))
		}

		if strings.TrimSpace(command) == "" {
			errs = append(errs, fmt.Errorf("open.handlers: command for %q must not be empty", ct))
		}
	}

	return errs
}

func validateGrants(g *GrantsConfig) []error {
	switch g.Store {
	case StoreSQLite, StoreMemory:
		return nil
	default:
		return []error{fmt.Errorf("grants.store: must be one of sqlite, memory; got %q", g.Store)}
	}
}

// validContentType accepts "type/subtype" where subtype may be "*".
func validContentType(ct string) bool {
	major, minor, ok := strings.Cut(ct, "/")

	return ok && major != "" && minor != "" && !strings.ContainsAny(ct, " \t") && !strings.Contains(minor, "/")
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

// ConnectTimeoutDuration returns the parsed network.connect_timeout. Load has
// already validated it.
func (n NetworkConfig) ConnectTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(n.ConnectTimeout) //nolint:errcheck // validated on load

	return d
}

// DataTimeoutDuration returns the parsed network.data_timeout.
func (n NetworkConfig) DataTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(n.DataTimeout) //nolint:errcheck // validated on load

	return d
}
