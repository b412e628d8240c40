// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for onedrive-open. Values resolve
// through a four-layer override chain: defaults, then the config file, then
// environment variables, then CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Download DownloadConfig `toml:"download"`
	Open     OpenConfig     `toml:"open"`
	Grants   GrantsConfig   `toml:"grants"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`
}

// ServiceConfig describes how the application presents itself to the
// remote service and which documents the picker offers.
type ServiceConfig struct {
	ApplicationLabel     string   `toml:"application_label"`
	AcceptedContentTypes []string `toml:"accepted_content_types"`
	StartFolder          string   `toml:"start_folder"`
	AuthFlow             string   `toml:"auth_flow"`
}

// DownloadConfig controls where picked files are staged and how fast.
type DownloadConfig struct {
	DownloadDir    string `toml:"download_dir"`
	BandwidthLimit string `toml:"bandwidth_limit"`
}

// OpenConfig maps content types to viewer command lines. Keys are exact
// types ("application/pdf") or major-type wildcards ("image/*").
type OpenConfig struct {
	Handlers map[string]string `toml:"handlers"`
	Fallback string            `toml:"fallback"`
}

// GrantsConfig selects the capability grant store and signing key.
type GrantsConfig struct {
	Store   string `toml:"store"`
	DBPath  string `toml:"db_path"`
	KeyFile string `toml:"key_file"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// Auth flow names accepted by service.auth_flow.
const (
	AuthFlowDevice  = "device"
	AuthFlowBrowser = "browser"
)

// Grant store names accepted by grants.store.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath  string  // --config flag (empty = use default)
	DownloadDir *string // --download-dir flag
}
