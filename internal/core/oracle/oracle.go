package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stelliform/go-oracled/internal/storage/kv"
)

// Oracle is the price-feed engine. A single mutex serializes every
// operation; multi-key mutations are staged and committed atomically,
// so a failed validation never leaves partial state behind.
type Oracle struct {
	mu                    sync.Mutex
	store                 kv.Store
	nowMs                 func() uint64
	sink                  EventSink
	records               *lru.Cache[uint64, *PriceUpdate]
	initialExpirationDays uint32
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithClock overrides the millisecond wall clock.
func WithClock(nowMs func() uint64) Option {
	return func(o *Oracle) { o.nowMs = nowMs }
}

// WithEventSink registers a sink notified after each committed update.
func WithEventSink(sink EventSink) Option {
	return func(o *Oracle) { o.sink = sink }
}

// WithRecordCache enables an in-process LRU of decoded records.
func WithRecordCache(size int) Option {
	return func(o *Oracle) {
		if cache, err := lru.New[uint64, *PriceUpdate](size); err == nil {
			o.records = cache
		}
	}
}

// WithInitialExpirationPeriod sets the default feed expiration period
// in days for newly registered assets.
func WithInitialExpirationPeriod(days uint32) Option {
	return func(o *Oracle) { o.initialExpirationDays = days }
}

// New creates an engine over the given store.
func New(store kv.Store, opts ...Option) *Oracle {
	o := &Oracle{
		store:                 store,
		nowMs:                 func() uint64 { return uint64(time.Now().UnixMilli()) },
		initialExpirationDays: 180,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store exposes the underlying key-value store.
func (o *Oracle) Store() kv.Store { return o.store }

// Version returns the engine major version.
func (o *Oracle) Version() uint32 { return Version }

// Initialized reports whether Configure has ever completed.
func (o *Oracle) Initialized(ctx context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok, err := o.getRaw(ctx, keyRetentionPeriod)
	return ok, err
}

// Configure applies the one-time initialization: settings, admin,
// protocol version, and the initial asset registry.
func (o *Oracle) Configure(ctx context.Context, cfg Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok, err := o.getRaw(ctx, keyRetentionPeriod); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInitialized
	}
	if cfg.FeeConfig != nil && !fitsInt128(cfg.FeeConfig.Fee) {
		return ErrInvalidFeeConfig
	}

	ops := []kv.Op{
		putOp(keyBaseAsset, encodeAsset(nil, cfg.BaseAsset)),
		putOp(keyDecimals, encodeU32(cfg.Decimals)),
		putOp(keyResolution, encodeU32(cfg.ResolutionMs)),
		putOp(keyRetentionPeriod, encodeU64(cfg.RetentionMs)),
		putOp(keyCacheSize, encodeU32(cfg.CacheSize)),
		putOp(keyFeeConfig, encodeFeeConfig(cfg.FeeConfig)),
		putOp(keyAdmin, appendString(nil, cfg.Admin)),
		putOp(keyProtocol, encodeU32(currentProtocol)),
	}
	assetOps, err := o.addAssetOps(ctx, cfg.Assets, cfg.FeeConfig != nil)
	if err != nil {
		return err
	}
	return o.store.Apply(ctx, append(ops, assetOps...))
}

func (o *Oracle) requireAdmin(ctx context.Context) error {
	_, ok, err := o.adminIdentity(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

/* Settings surface */

// Base returns the asset prices are quoted against.
func (o *Oracle) Base(ctx context.Context) (Asset, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.baseAsset(ctx)
}

// Decimals returns the price precision.
func (o *Oracle) Decimals(ctx context.Context) (uint32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.decimals(ctx)
}

// Resolution returns the period timeframe in seconds.
func (o *Oracle) Resolution(ctx context.Context) (uint32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	resolution, err := o.resolutionMs(ctx)
	return uint32(resolution / 1000), err
}

// HistoryRetentionPeriod returns the retention period in seconds; the
// second result is false when retention is unset.
func (o *Oracle) HistoryRetentionPeriod(ctx context.Context) (uint64, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	retention, err := o.retentionMs(ctx)
	if err != nil || retention == 0 {
		return 0, false, err
	}
	return retention / 1000, true, nil
}

// CacheSize returns the persisted recency cache bound.
func (o *Oracle) CacheSize(ctx context.Context) (uint32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cacheSizeSetting(ctx)
}

// Assets returns all registered assets in index order.
func (o *Oracle) Assets(ctx context.Context) ([]Asset, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loadAssets(ctx)
}

// LastTimestamp returns the most recent update timestamp in seconds,
// or 0 when no update was ever recorded.
func (o *Oracle) LastTimestamp(ctx context.Context) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	last, err := o.lastTimestampMs(ctx)
	return last / 1000, err
}

// Admin returns the configured administrative identity.
func (o *Oracle) Admin(ctx context.Context) (string, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.adminIdentity(ctx)
}

// FeeConfig returns the active fee config, nil when fees are disabled.
func (o *Oracle) FeeConfig(ctx context.Context) (*FeeConfig, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.feeConfig(ctx)
}

// Expires returns the expiration timestamp recorded for an asset. The
// second result is false when no expiration entry exists.
func (o *Oracle) Expires(ctx context.Context, asset Asset) (uint64, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.expiresAt(ctx, asset)
}

/* Admin surface */

// SetCacheSize updates the persisted recency cache bound.
func (o *Oracle) SetCacheSize(ctx context.Context, size uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireAdmin(ctx); err != nil {
		return err
	}
	return o.store.Put(ctx, kv.ClassInstance, []byte(keyCacheSize), encodeU32(size))
}

// SetHistoryRetentionPeriod updates the retention period (milliseconds).
func (o *Oracle) SetHistoryRetentionPeriod(ctx context.Context, retentionMs uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireAdmin(ctx); err != nil {
		return err
	}
	return o.store.Put(ctx, kv.ClassInstance, []byte(keyRetentionPeriod), encodeU64(retentionMs))
}

// SetFeeConfig replaces the fee config and seeds expiration entries
// for already registered assets when none exist yet.
func (o *Oracle) SetFeeConfig(ctx context.Context, fc *FeeConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireAdmin(ctx); err != nil {
		return err
	}
	if fc != nil && !fitsInt128(fc.Fee) {
		return ErrInvalidFeeConfig
	}
	ops := []kv.Op{putOp(keyFeeConfig, encodeFeeConfig(fc))}
	expirationOps, err := o.initExpirationOps(ctx)
	if err != nil {
		return err
	}
	return o.store.Apply(ctx, append(ops, expirationOps...))
}

// AddAssets registers new assets.
func (o *Oracle) AddAssets(ctx context.Context, assets []Asset) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireAdmin(ctx); err != nil {
		return err
	}
	fc, err := o.feeConfig(ctx)
	if err != nil {
		return err
	}
	ops, err := o.addAssetOps(ctx, assets, fc != nil)
	if err != nil {
		return err
	}
	return o.store.Apply(ctx, ops)
}

// ExtendAssetTTL extends an asset's feed expiration in proportion to
// the paid amount and the configured daily fee.
func (o *Oracle) ExtendAssetTTL(ctx context.Context, asset Asset, amount *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	ops, err := o.bumpExpiration(ctx, asset, amount)
	if err != nil {
		return err
	}
	return o.store.Apply(ctx, ops)
}

// SetPrice records a price snapshot for the given period timestamp
// (milliseconds). Empty updates are ignored; oversized updates,
// misaligned or future timestamps, and mask/price mismatches are
// fatal. On success the update event is delivered to the sink.
func (o *Oracle) SetPrice(ctx context.Context, update PriceUpdate, timestampMs uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireAdmin(ctx); err != nil {
		return err
	}
	if len(update.Prices) == 0 {
		return nil
	}
	for _, price := range update.Prices {
		if price == nil || !fitsInt128(price) {
			return ErrInvalidUpdate
		}
	}

	assets, err := o.loadAssets(ctx)
	if err != nil {
		return err
	}
	if len(update.Prices) > len(assets) {
		return ErrInvalidUpdate
	}
	resolution, err := o.resolutionMs(ctx)
	if err != nil {
		return err
	}
	now := o.nowMs()
	if timestampMs == 0 || !isValidTs(timestampMs, resolution) || timestampMs > now {
		return ErrInvalidTimestamp
	}

	dense, err := extractDense(&update, len(assets))
	if err != nil {
		return err
	}
	ops, err := o.historyOps(ctx, dense, timestampMs)
	if err != nil {
		return err
	}
	event, err := buildUpdateEvent(dense, assets, timestampMs)
	if err != nil {
		return err
	}
	storeOps, err := o.storePriceOps(ctx, &update, timestampMs, dense)
	if err != nil {
		return err
	}
	if err := o.store.Apply(ctx, append(ops, storeOps...)); err != nil {
		return err
	}

	if o.records != nil {
		record := &PriceUpdate{Mask: update.Mask, Prices: append([]*big.Int(nil), update.Prices...)}
		o.records.Add(timestampMs, record)
	}
	if o.sink != nil {
		o.sink.PublishUpdate(event)
	}
	return nil
}

/* Query surface */

// Price returns the price of an asset at a timestamp (seconds),
// normalized down to the period grid.
func (o *Oracle) Price(ctx context.Context, asset Asset, timestampSec uint64) (*PriceData, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	resolution, err := o.resolutionMs(ctx)
	if err != nil {
		return nil, err
	}
	ts := normalizeTs(timestampSec*1000, resolution)
	index, ok, err := o.resolveIndex(ctx, asset)
	if err != nil || !ok {
		return nil, err
	}
	return o.retrievePriceData(ctx, index, ts)
}

// LastPrice returns the most recent price of an asset.
func (o *Oracle) LastPrice(ctx context.Context, asset Asset) (*PriceData, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ts, err := o.lastRecordTimestamp(ctx)
	if err != nil || ts == 0 {
		return nil, err
	}
	index, ok, err := o.resolveIndex(ctx, asset)
	if err != nil || !ok {
		return nil, err
	}
	return o.retrievePriceData(ctx, index, ts)
}

// Prices returns up to records recent prices of an asset, newest first.
func (o *Oracle) Prices(ctx context.Context, asset Asset, records uint32) ([]PriceData, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	index, ok, err := o.resolveIndex(ctx, asset)
	if err != nil || !ok {
		return nil, err
	}
	return o.loadPriceRecords(ctx, func(ts uint64) (*PriceData, error) {
		return o.retrievePriceData(ctx, index, ts)
	}, records)
}

// CrossPrice returns base/quote at a timestamp (seconds).
func (o *Oracle) CrossPrice(ctx context.Context, base, quote Asset, timestampSec uint64) (*PriceData, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	resolution, err := o.resolutionMs(ctx)
	if err != nil {
		return nil, err
	}
	ts := normalizeTs(timestampSec*1000, resolution)
	decimals, err := o.decimals(ctx)
	if err != nil {
		return nil, err
	}
	baseIndex, quoteIndex, ok, err := o.resolvePair(ctx, base, quote)
	if err != nil || !ok {
		return nil, err
	}
	return o.crossPriceData(ctx, baseIndex, quoteIndex, ts, decimals)
}

// CrossLastPrice returns the most recent base/quote cross price.
func (o *Oracle) CrossLastPrice(ctx context.Context, base, quote Asset) (*PriceData, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ts, err := o.lastRecordTimestamp(ctx)
	if err != nil || ts == 0 {
		return nil, err
	}
	decimals, err := o.decimals(ctx)
	if err != nil {
		return nil, err
	}
	baseIndex, quoteIndex, ok, err := o.resolvePair(ctx, base, quote)
	if err != nil || !ok {
		return nil, err
	}
	return o.crossPriceData(ctx, baseIndex, quoteIndex, ts, decimals)
}

// CrossPrices returns up to records recent cross prices, newest first.
func (o *Oracle) CrossPrices(ctx context.Context, base, quote Asset, records uint32) ([]PriceData, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	decimals, err := o.decimals(ctx)
	if err != nil {
		return nil, err
	}
	baseIndex, quoteIndex, ok, err := o.resolvePair(ctx, base, quote)
	if err != nil || !ok {
		return nil, err
	}
	return o.loadPriceRecords(ctx, func(ts uint64) (*PriceData, error) {
		return o.crossPriceData(ctx, baseIndex, quoteIndex, ts, decimals)
	}, records)
}

// TWAP returns the time-weighted average price over exactly records
// recent periods.
func (o *Oracle) TWAP(ctx context.Context, asset Asset, records uint32) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	index, ok, err := o.resolveIndex(ctx, asset)
	if err != nil || !ok {
		return nil, err
	}
	return o.twapOver(ctx, func(ts uint64) (*PriceData, error) {
		return o.retrievePriceData(ctx, index, ts)
	}, records)
}

// CrossTWAP returns the time-weighted average base/quote cross price
// over exactly records recent periods.
func (o *Oracle) CrossTWAP(ctx context.Context, base, quote Asset, records uint32) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	decimals, err := o.decimals(ctx)
	if err != nil {
		return nil, err
	}
	baseIndex, quoteIndex, ok, err := o.resolvePair(ctx, base, quote)
	if err != nil || !ok {
		return nil, err
	}
	return o.twapOver(ctx, func(ts uint64) (*PriceData, error) {
		return o.crossPriceData(ctx, baseIndex, quoteIndex, ts, decimals)
	}, records)
}
