package config

import (
	"fmt"
	"math/big"

	"github.com/stelliform/go-oracled/internal/core/oracle"
)

// EngineConfig converts the bootstrap section into the engine's
// one-time initialization parameters.
func (o *OracleConfig) EngineConfig() (oracle.Config, error) {
	cfg := oracle.Config{
		Admin:        o.Admin,
		BaseAsset:    oracle.ParseAsset(o.BaseAsset),
		Decimals:     o.Decimals,
		ResolutionMs: uint32(o.Resolution.Milliseconds()),
		RetentionMs:  uint64(o.RetentionPeriod.Milliseconds()),
		CacheSize:    o.CacheSize,
	}
	if o.Fee != "" {
		fee, ok := new(big.Int).SetString(o.Fee, 10)
		if !ok {
			return oracle.Config{}, fmt.Errorf("invalid fee amount %q", o.Fee)
		}
		cfg.FeeConfig = &oracle.FeeConfig{Token: o.FeeToken, Fee: fee}
	}
	for _, s := range o.Assets {
		cfg.Assets = append(cfg.Assets, oracle.ParseAsset(s))
	}
	return cfg, nil
}
