package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "FIRECLOUD_CONFIG"
	EnvAPIKey   = "FIRECLOUD_API_KEY"
	EnvProject  = "FIRECLOUD_PROJECT"
	EnvEmail    = "FIRECLOUD_EMAIL"
	EnvPassword = "FIRECLOUD_PASSWORD"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // FIRECLOUD_CONFIG: override config file path
	APIKey     string // FIRECLOUD_API_KEY
	Project    string // FIRECLOUD_PROJECT
	Email      string // FIRECLOUD_EMAIL
	Password   string // FIRECLOUD_PASSWORD: never read from the file
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies them.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		APIKey:     os.Getenv(EnvAPIKey),
		Project:    os.Getenv(EnvProject),
		Email:      os.Getenv(EnvEmail),
		Password:   os.Getenv(EnvPassword),
	}
}
