package config

import "path/filepath"

// Default values for configuration options. These are layer 0 of the
// override chain and work without any config file.
const (
	defaultApplicationLabel = appName
	defaultAuthFlow         = AuthFlowDevice
	defaultBandwidthLimit   = "0"
	defaultGrantStore       = StoreSQLite
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultConnectTimeout   = "10s"
	defaultDataTimeout      = "60s"
)

// defaultContentTypes are the document types the picker offers when the
// config names none.
var defaultContentTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"text/plain",
	"image/jpeg",
	"image/png",
}

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
// Path defaults are filled in later by Resolve so that a config file can
// leave them empty.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ApplicationLabel:     defaultApplicationLabel,
			AcceptedContentTypes: append([]string(nil), defaultContentTypes...),
			AuthFlow:             defaultAuthFlow,
		},
		Download: DownloadConfig{
			BandwidthLimit: defaultBandwidthLimit,
		},
		Open: OpenConfig{
			Handlers: make(map[string]string),
		},
		Grants: GrantsConfig{
			Store: defaultGrantStore,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}

// fillPathDefaults sets every empty path to its platform default.
func fillPathDefaults(cfg *Config) {
	if cfg.Download.DownloadDir == "" {
		cfg.Download.DownloadDir = DefaultDownloadDir()
	}

	dataDir := DefaultDataDir()

	if cfg.Grants.DBPath == "" && dataDir != "" {
		cfg.Grants.DBPath = filepath.Join(dataDir, grantsDBFileName)
	}

	if cfg.Grants.KeyFile == "" && dataDir != "" {
		cfg.Grants.KeyFile = filepath.Join(dataDir, grantsKeyFileName)
	}
}
