// Package config loads and validates the oracled daemon configuration.
// Values come from three sources in priority order: built-in defaults,
// an optional TOML file, and ORACLED_* environment variables.
package config

import (
	"time"
)

// Config represents the complete oracled configuration.
type Config struct {
	Node    NodeConfig    `toml:"node" mapstructure:"node"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Oracle  OracleConfig  `toml:"oracle" mapstructure:"oracle"`
	Archive ArchiveConfig `toml:"archive" mapstructure:"archive"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`

	// Path of the loaded config file, empty when running on defaults.
	configPath string
}

// ConfigPath returns the path the configuration was loaded from.
func (c *Config) ConfigPath() string { return c.configPath }

// NodeConfig controls the local storage substrate.
type NodeConfig struct {
	// DataDir is the on-disk location for persistent backends.
	DataDir string `toml:"data_dir" mapstructure:"data_dir"`

	// Backend selects the key-value backend: memory, pebble or leveldb.
	Backend string `toml:"backend" mapstructure:"backend"`

	// Compression selects the stored-value compressor: lz4 or none.
	Compression string `toml:"compression" mapstructure:"compression"`

	// NoSync disables fsync on writes where the backend supports it.
	NoSync bool `toml:"no_sync" mapstructure:"no_sync"`

	// RecordCache is the size of the in-process decoded-record cache;
	// 0 disables it.
	RecordCache int `toml:"record_cache" mapstructure:"record_cache"`

	// SweepInterval is how often expired records are purged.
	SweepInterval time.Duration `toml:"sweep_interval" mapstructure:"sweep_interval"`
}

// ServerConfig controls the HTTP JSON-RPC and WebSocket surface.
type ServerConfig struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string `toml:"listen_addr" mapstructure:"listen_addr"`

	// Websocket enables the /ws subscription endpoint.
	Websocket bool `toml:"websocket" mapstructure:"websocket"`

	ReadTimeout  time.Duration `toml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`

	// AdminNetworks lists the CIDR blocks whose clients are granted the
	// admin role. Defaults to loopback only.
	AdminNetworks []string `toml:"admin_networks" mapstructure:"admin_networks"`

	// FeedPublicKey, when set to a hex-encoded compressed secp256k1
	// point, requires every set_price call to carry a valid signature.
	FeedPublicKey string `toml:"feed_public_key" mapstructure:"feed_public_key"`
}

// OracleConfig seeds the engine on first start. It is applied exactly
// once: a store that is already initialized ignores this section.
type OracleConfig struct {
	// Bootstrap enables first-start initialization from this section.
	Bootstrap bool `toml:"bootstrap" mapstructure:"bootstrap"`

	// Admin is the administrative identity reported by the admin getter.
	Admin string `toml:"admin" mapstructure:"admin"`

	// BaseAsset is the asset prices are quoted against. Assets are
	// written as "SYMBOL" or "contract:ADDRESS".
	BaseAsset string `toml:"base_asset" mapstructure:"base_asset"`

	// Decimals is the fixed-point precision of quoted prices.
	Decimals uint32 `toml:"decimals" mapstructure:"decimals"`

	// Resolution is the period timeframe.
	Resolution time.Duration `toml:"resolution" mapstructure:"resolution"`

	// RetentionPeriod bounds how long price records stay readable.
	RetentionPeriod time.Duration `toml:"retention_period" mapstructure:"retention_period"`

	// CacheSize bounds the persisted recency cache.
	CacheSize uint32 `toml:"cache_size" mapstructure:"cache_size"`

	// FeeToken and Fee configure the retainer fee model; an empty Fee
	// disables it. Fee is a decimal integer in token base units.
	FeeToken string `toml:"fee_token" mapstructure:"fee_token"`
	Fee      string `toml:"fee" mapstructure:"fee"`

	// Assets is the initial registry.
	Assets []string `toml:"assets" mapstructure:"assets"`

	// InitialExpirationDays is the default feed lifetime for newly
	// registered assets when the fee model is active.
	InitialExpirationDays uint32 `toml:"initial_expiration_days" mapstructure:"initial_expiration_days"`
}

// ArchiveConfig controls the optional SQL mirror of accepted updates.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`

	// Driver is "postgres" or "sqlite".
	Driver string `toml:"driver" mapstructure:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// LogConfig controls daemon logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" mapstructure:"level"`

	// Format is "json" or "console".
	Format string `toml:"format" mapstructure:"format"`
}
