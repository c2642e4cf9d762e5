package config

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultConnectTimeout    = "10s"
	defaultBandwidthLimit    = "0"
	defaultParallelTransfers = 4
	defaultLogLevel          = "warn"
	defaultLogFormat         = "text"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
		},
		Transfers: TransfersConfig{
			BandwidthLimit:    defaultBandwidthLimit,
			ParallelTransfers: defaultParallelTransfers,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
