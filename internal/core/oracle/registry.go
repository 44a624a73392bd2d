package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/stelliform/go-oracled/internal/storage/kv"
)

// assetIndexKey builds the instance key holding an asset's dense
// index. The prefix keeps asset identifiers out of the settings
// namespace.
func assetIndexKey(a Asset) []byte {
	key := make([]byte, 0, 7+len(a.ID))
	key = append(key, "asset:"...)
	key = append(key, byte(a.Kind))
	return append(key, a.ID...)
}

func (o *Oracle) loadAssets(ctx context.Context) ([]Asset, error) {
	raw, ok, err := o.getRaw(ctx, keyAssets)
	if err != nil || !ok {
		return nil, err
	}
	return decodeAssets(raw)
}

func (o *Oracle) loadExpirations(ctx context.Context) ([]uint64, error) {
	raw, ok, err := o.getRaw(ctx, keyExpiration)
	if err != nil || !ok {
		return nil, err
	}
	return decodeExpirations(raw)
}

// resolveIndex maps an asset to its dense registry index.
func (o *Oracle) resolveIndex(ctx context.Context, a Asset) (uint32, bool, error) {
	raw, err := o.store.Get(ctx, kv.ClassInstance, assetIndexKey(a))
	if err != nil {
		if kv.IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	index, err := decodeU32(raw)
	if err != nil {
		return 0, false, err
	}
	return index, true, nil
}

func (o *Oracle) resolvePair(ctx context.Context, base, quote Asset) (uint32, uint32, bool, error) {
	baseIdx, ok, err := o.resolveIndex(ctx, base)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	quoteIdx, ok, err := o.resolveIndex(ctx, quote)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	return baseIdx, quoteIdx, true, nil
}

// expirationTimestamp returns the default expiration for newly
// registered assets, or 0 when no initial period is configured.
func (o *Oracle) expirationTimestamp() uint64 {
	if o.initialExpirationDays > 0 {
		return o.nowMs() + daysToMs(o.initialExpirationDays)
	}
	return 0
}

// addAssetOps stages the registration of new assets: a per-asset
// index key, the extended asset list, and expiration entries when the
// fee model is active. Duplicates within the same call are rejected
// against both committed and staged state.
func (o *Oracle) addAssetOps(ctx context.Context, newAssets []Asset, feeConfigured bool) ([]kv.Op, error) {
	expirationTs := o.expirationTimestamp()
	list, err := o.loadAssets(ctx)
	if err != nil {
		return nil, err
	}
	expirations, err := o.loadExpirations(ctx)
	if err != nil {
		return nil, err
	}

	staged := make(map[string]struct{}, len(newAssets))
	var ops []kv.Op
	for _, a := range newAssets {
		key := assetIndexKey(a)
		if _, dup := staged[string(key)]; dup {
			return nil, fmt.Errorf("%w: %s", ErrAssetExists, a.ID)
		}
		if _, exists, err := o.resolveIndex(ctx, a); err != nil {
			return nil, err
		} else if exists {
			return nil, fmt.Errorf("%w: %s", ErrAssetExists, a.ID)
		}
		ops = append(ops, kv.Op{
			Type:  kv.OpPut,
			Class: kv.ClassInstance,
			Key:   key,
			Value: encodeU32(uint32(len(list))),
		})
		staged[string(key)] = struct{}{}
		list = append(list, a)
		if feeConfigured && expirationTs > 0 {
			expirations = append(expirations, expirationTs)
		}
	}
	if len(list) >= assetLimit {
		return nil, ErrAssetLimit
	}
	ops = append(ops,
		putOp(keyAssets, encodeAssets(list)),
		putOp(keyExpiration, encodeExpirations(expirations)),
	)
	return ops, nil
}

// expiresAt returns the expiration entry for a registered asset. The
// second result is false when no entry was ever recorded.
func (o *Oracle) expiresAt(ctx context.Context, asset Asset) (uint64, bool, error) {
	index, ok, err := o.resolveIndex(ctx, asset)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, ErrAssetMissing
	}
	expirations, err := o.loadExpirations(ctx)
	if err != nil {
		return 0, false, err
	}
	if int(index) >= len(expirations) {
		return 0, false, nil
	}
	return expirations[index], true, nil
}

// bumpExpiration stages an expiration extension purchased for the
// given fee amount. Token settlement is out of scope for the daemon;
// the fee config only parameterizes the conversion rate.
func (o *Oracle) bumpExpiration(ctx context.Context, asset Asset, amount *big.Int) ([]kv.Op, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	index, ok, err := o.resolveIndex(ctx, asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetMissing, asset.ID)
	}
	fc, err := o.feeConfig(ctx)
	if err != nil {
		return nil, err
	}
	if fc == nil || fc.Fee == nil || fc.Fee.Sign() <= 0 {
		return nil, ErrInvalidFeeConfig
	}

	// bump = amount * 1 day / daily fee, in milliseconds
	bump := new(big.Int).Mul(amount, big.NewInt(86_400_000))
	bump.Quo(bump, fc.Fee)
	if bump.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	expirations, err := o.loadExpirations(ctx)
	if err != nil {
		return nil, err
	}
	if int(index) >= len(expirations) {
		return nil, fmt.Errorf("expiration record missing for asset index %d", index)
	}
	now := o.nowMs()
	expiration := expirations[index]
	// unset or already expired entries restart from now
	if expiration == 0 || expiration < now {
		expiration = now
	}
	extended := expiration + bump.Uint64()
	if extended < expiration {
		return nil, ErrInvalidAmount
	}
	expirations[index] = extended
	return []kv.Op{putOp(keyExpiration, encodeExpirations(expirations))}, nil
}

// initExpirationOps seeds expiration entries for every registered
// asset when none exist yet.
func (o *Oracle) initExpirationOps(ctx context.Context) ([]kv.Op, error) {
	expirations, err := o.loadExpirations(ctx)
	if err != nil {
		return nil, err
	}
	if len(expirations) > 0 {
		return nil, nil
	}
	assets, err := o.loadAssets(ctx)
	if err != nil {
		return nil, err
	}
	expirationTs := o.expirationTimestamp()
	for range assets {
		expirations = append(expirations, expirationTs)
	}
	return []kv.Op{putOp(keyExpiration, encodeExpirations(expirations))}, nil
}
