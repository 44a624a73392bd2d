package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults seeds every key with its built-in default so a bare
// `oracled server` works without a config file.
func setDefaults(v *viper.Viper) {
	// Node / storage substrate
	v.SetDefault("node.data_dir", "data")
	v.SetDefault("node.backend", "pebble")
	v.SetDefault("node.compression", "lz4")
	v.SetDefault("node.no_sync", false)
	v.SetDefault("node.record_cache", 64)
	v.SetDefault("node.sweep_interval", time.Hour)

	// Server
	v.SetDefault("server.listen_addr", ":8090")
	v.SetDefault("server.websocket", true)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.admin_networks", []string{"127.0.0.1/32", "::1/128"})
	v.SetDefault("server.feed_public_key", "")

	// Oracle bootstrap (applied once, on first start)
	v.SetDefault("oracle.bootstrap", false)
	v.SetDefault("oracle.admin", "")
	v.SetDefault("oracle.base_asset", "USD")
	v.SetDefault("oracle.decimals", 14)
	v.SetDefault("oracle.resolution", 5*time.Minute)
	v.SetDefault("oracle.retention_period", 24*time.Hour)
	v.SetDefault("oracle.cache_size", 2)
	v.SetDefault("oracle.fee_token", "")
	v.SetDefault("oracle.fee", "")
	v.SetDefault("oracle.assets", []string{})
	v.SetDefault("oracle.initial_expiration_days", 180)

	// Archive
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.driver", "sqlite")
	v.SetDefault("archive.dsn", "")

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
