package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "ONEDRIVE_OPEN_CONFIG"
	EnvDownloadDir = "ONEDRIVE_OPEN_DOWNLOAD_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // ONEDRIVE_OPEN_CONFIG: override config file path
	DownloadDir string // ONEDRIVE_OPEN_DOWNLOAD_DIR: staging directory override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		DownloadDir: os.Getenv(EnvDownloadDir),
	}
}
