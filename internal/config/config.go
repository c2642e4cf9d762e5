// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for firecloud. Values resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	APIKey    string          `toml:"api_key"`
	Project   string          `toml:"project"`
	Email     string          `toml:"email"`
	Endpoints EndpointsConfig `toml:"endpoints"`
	Network   NetworkConfig   `toml:"network"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
}

// EndpointsConfig overrides service hosts, e.g. to point at a local
// emulator. Empty values use the public hosts.
type EndpointsConfig struct {
	DatabaseURL string `toml:"database_url"`
	StoreURL    string `toml:"store_url"`
	StorageURL  string `toml:"storage_url"`
	IdentityURL string `toml:"identity_url"`
	TokenURL    string `toml:"token_url"`
	Bucket      string `toml:"bucket"`
}

// NetworkConfig controls HTTP client behavior. force_http_11 is useful
// behind proxies that mishandle HTTP/2.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	UserAgent      string `toml:"user_agent"`
	ForceHTTP11    bool   `toml:"force_http_11"`
}

// TransfersConfig controls blob transfer concurrency and throughput.
type TransfersConfig struct {
	BandwidthLimit    string `toml:"bandwidth_limit"`
	ParallelTransfers int    `toml:"parallel_transfers"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean "not
// specified".
type CLIOverrides struct {
	ConfigPath string // --config
	Project    string // --project
	Email      string // --email
}

// Resolved is a fully merged configuration ready for use, plus the secrets
// that only ever come from the environment.
type Resolved struct {
	Config

	// Path is the config file that was read, or would have been.
	Path     string
	Password string
}
