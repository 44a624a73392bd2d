package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

var validBackends = map[string]bool{"memory": true, "pebble": true, "leveldb": true}
var validCompressors = map[string]bool{"": true, "none": true, "lz4": true}
var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validArchiveDrivers = map[string]bool{"postgres": true, "sqlite": true}

// Validate performs cross-field validation on a fully loaded Config.
func Validate(config *Config) error {
	if err := validateNode(&config.Node); err != nil {
		return fmt.Errorf("node config validation failed: %w", err)
	}
	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := validateOracle(&config.Oracle); err != nil {
		return fmt.Errorf("oracle config validation failed: %w", err)
	}
	if err := validateArchive(&config.Archive); err != nil {
		return fmt.Errorf("archive config validation failed: %w", err)
	}
	if err := validateLog(&config.Log); err != nil {
		return fmt.Errorf("log config validation failed: %w", err)
	}
	return nil
}

func validateNode(node *NodeConfig) error {
	if !validBackends[node.Backend] {
		return fmt.Errorf("unknown backend %q (expected memory, pebble or leveldb)", node.Backend)
	}
	if node.Backend != "memory" && node.DataDir == "" {
		return fmt.Errorf("data_dir is required for the %s backend", node.Backend)
	}
	if !validCompressors[node.Compression] {
		return fmt.Errorf("unknown compression %q (expected none or lz4)", node.Compression)
	}
	if node.RecordCache < 0 {
		return fmt.Errorf("record_cache must not be negative")
	}
	if node.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must not be negative")
	}
	return nil
}

func validateServer(server *ServerConfig) error {
	if server.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if _, _, err := net.SplitHostPort(server.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", server.ListenAddr, err)
	}
	for _, cidr := range server.AdminNetworks {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid admin network %q: %w", cidr, err)
		}
	}
	if key := server.FeedPublicKey; key != "" {
		// 33-byte compressed secp256k1 point, hex encoded
		if len(key) != 66 || strings.Trim(strings.ToLower(key), "0123456789abcdef") != "" {
			return fmt.Errorf("feed_public_key must be 66 hex characters")
		}
	}
	return nil
}

func validateOracle(oracle *OracleConfig) error {
	if !oracle.Bootstrap {
		return nil
	}
	if oracle.BaseAsset == "" {
		return fmt.Errorf("base_asset is required for bootstrap")
	}
	if oracle.Resolution < time.Second {
		return fmt.Errorf("resolution must be at least one second")
	}
	if oracle.Resolution%time.Millisecond != 0 {
		return fmt.Errorf("resolution must be a whole number of milliseconds")
	}
	if oracle.RetentionPeriod < oracle.Resolution {
		return fmt.Errorf("retention_period must cover at least one resolution period")
	}
	if (oracle.Fee == "") != (oracle.FeeToken == "") {
		return fmt.Errorf("fee and fee_token must be set together")
	}
	return nil
}

func validateArchive(archive *ArchiveConfig) error {
	if !archive.Enabled {
		return nil
	}
	if !validArchiveDrivers[archive.Driver] {
		return fmt.Errorf("unknown archive driver %q (expected postgres or sqlite)", archive.Driver)
	}
	if archive.DSN == "" {
		return fmt.Errorf("dsn is required when the archive is enabled")
	}
	return nil
}

func validateLog(log *LogConfig) error {
	if !validLogLevels[log.Level] {
		return fmt.Errorf("unknown log level %q", log.Level)
	}
	if log.Format != "json" && log.Format != "console" {
		return fmt.Errorf("unknown log format %q (expected json or console)", log.Format)
	}
	return nil
}
