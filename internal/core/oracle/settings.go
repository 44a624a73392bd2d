package oracle

import (
	"context"
	"math/big"
	"time"

	"github.com/stelliform/go-oracled/internal/storage/kv"
)

// Instance storage keys. The fee config lives under the legacy
// "retention" key and the retention period under "period"; both names
// are load-bearing for state written by earlier versions.
const (
	keyRetentionPeriod = "period"
	keyBaseAsset       = "base_asset"
	keyDecimals        = "decimals"
	keyResolution      = "resolution"
	keyFeeConfig       = "retention"
	keyCacheSize       = "cache_size"
	keyAdmin           = "admin"
	keyAssets          = "assets"
	keyExpiration      = "expiration"
	keyLastTimestamp   = "last_timestamp"
	keyHistory         = "history"
	keyCache           = "cache"
	keyProtocol        = "protocol"
	keyProtocolUpdate  = "protocol_update"
)

func putOp(key string, value []byte) kv.Op {
	return kv.Op{Type: kv.OpPut, Class: kv.ClassInstance, Key: []byte(key), Value: value}
}

func putTTLOp(key []byte, value []byte, ttl time.Duration) kv.Op {
	return kv.Op{Type: kv.OpPut, Class: kv.ClassTemporary, Key: key, Value: value, TTL: ttl}
}

// getRaw reads an instance key, reporting presence separately from failures.
func (o *Oracle) getRaw(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := o.store.Get(ctx, kv.ClassInstance, []byte(key))
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return raw, true, nil
}

func (o *Oracle) getU32(ctx context.Context, key string, def uint32) (uint32, error) {
	raw, ok, err := o.getRaw(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	return decodeU32(raw)
}

func (o *Oracle) getU64(ctx context.Context, key string, def uint64) (uint64, error) {
	raw, ok, err := o.getRaw(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	return decodeU64(raw)
}

func (o *Oracle) baseAsset(ctx context.Context) (Asset, error) {
	raw, ok, err := o.getRaw(ctx, keyBaseAsset)
	if err != nil {
		return Asset{}, err
	}
	if !ok {
		return Asset{}, ErrNotInitialized
	}
	r := reader{buf: raw}
	return r.asset()
}

func (o *Oracle) decimals(ctx context.Context) (uint32, error) {
	raw, ok, err := o.getRaw(ctx, keyDecimals)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotInitialized
	}
	return decodeU32(raw)
}

// resolutionMs returns the period timeframe. The value is persisted
// as u32 milliseconds; arithmetic call sites want u64.
func (o *Oracle) resolutionMs(ctx context.Context) (uint64, error) {
	raw, ok, err := o.getRaw(ctx, keyResolution)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotInitialized
	}
	v, err := decodeU32(raw)
	return uint64(v), err
}

func (o *Oracle) retentionMs(ctx context.Context) (uint64, error) {
	return o.getU64(ctx, keyRetentionPeriod, 0)
}

func (o *Oracle) cacheSizeSetting(ctx context.Context) (uint32, error) {
	return o.getU32(ctx, keyCacheSize, 2)
}

// feeConfig resolves the stored fee config. An absent key falls back
// to the default fee token; an explicitly stored none decodes as nil.
func (o *Oracle) feeConfig(ctx context.Context) (*FeeConfig, error) {
	raw, ok, err := o.getRaw(ctx, keyFeeConfig)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &FeeConfig{Token: defaultFeeToken, Fee: big.NewInt(defaultFee)}, nil
	}
	return decodeFeeConfig(raw)
}

func (o *Oracle) adminIdentity(ctx context.Context) (string, bool, error) {
	raw, ok, err := o.getRaw(ctx, keyAdmin)
	if err != nil || !ok {
		return "", false, err
	}
	r := reader{buf: raw}
	admin, err := r.str()
	if err != nil {
		return "", false, err
	}
	return admin, true, nil
}

func (o *Oracle) lastTimestampMs(ctx context.Context) (uint64, error) {
	return o.getU64(ctx, keyLastTimestamp, 0)
}

func (o *Oracle) historyMask(ctx context.Context) ([]byte, error) {
	raw, _, err := o.getRaw(ctx, keyHistory)
	return raw, err
}

// normalizeTs truncates a millisecond timestamp to the period grid.
func normalizeTs(valueMs, resolutionMs uint64) uint64 {
	if valueMs == 0 || resolutionMs == 0 {
		return 0
	}
	return valueMs / resolutionMs * resolutionMs
}

func isValidTs(valueMs, resolutionMs uint64) bool {
	return valueMs == normalizeTs(valueMs, resolutionMs)
}
