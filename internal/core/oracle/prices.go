package oracle

import (
	"context"
	"encoding/binary"
	"math/big"
	"math/bits"
	"time"

	"github.com/stelliform/go-oracled/internal/storage/kv"
)

// Temporary-class key prefixes: one record per period under 'r', and
// pre-migration per-asset prices under 'l'.
func recordKey(tsMs uint64) []byte {
	key := make([]byte, 9)
	key[0] = 'r'
	binary.BigEndian.PutUint64(key[1:], tsMs)
	return key
}

// legacyPriceKey packs (timestamp, asset index) into the 128-bit key
// layout of protocol version 1: timestamp<<64 | index.
func legacyPriceKey(tsMs uint64, assetIndex uint32) []byte {
	key := make([]byte, 17)
	key[0] = 'l'
	binary.BigEndian.PutUint64(key[1:9], tsMs)
	binary.BigEndian.PutUint64(key[9:], uint64(assetIndex))
	return key
}

// minRecordTTL is the floor every record lives for regardless of the
// configured retention.
const minRecordTTL = 80 * time.Second

func recordTTL(retentionMs uint64) time.Duration {
	ttl := time.Duration(2*retentionMs) * time.Millisecond
	if ttl < minRecordTTL {
		ttl = minRecordTTL
	}
	return ttl
}

// lastRecordTimestamp returns the timestamp of the most recent record
// if it is still serviceable, or 0 when there are no prices yet, the
// marker is in the future, or the newest record is older than two
// resolution periods.
func (o *Oracle) lastRecordTimestamp(ctx context.Context) (uint64, error) {
	last, err := o.lastTimestampMs(ctx)
	if err != nil {
		return 0, err
	}
	resolution, err := o.resolutionMs(ctx)
	if err != nil {
		return 0, err
	}
	now := o.nowMs()
	if last == 0 || last > now || now-last >= resolution*2 {
		return 0, nil
	}
	return last, nil
}

// extractDense expands a sparse update into a per-asset price vector.
// The number of prices must equal the number of set mask bits.
func extractDense(update *PriceUpdate, total int) ([]*big.Int, error) {
	popcount := 0
	for _, b := range update.Mask {
		popcount += bits.OnesCount8(b)
	}
	if popcount != len(update.Prices) {
		return nil, ErrInvalidUpdate
	}
	dense := make([]*big.Int, 0, total)
	updateIndex := 0
	for i := 0; i < total; i++ {
		price := new(big.Int)
		if checkPeriodUpdated(update.Mask[:], uint32(i)) {
			price = update.Prices[updateIndex]
			updateIndex++
		}
		dense = append(dense, price)
	}
	return dense, nil
}

// extractSinglePrice pulls one asset's price out of a stored record
// by replaying mask positions. An unset bit yields zero.
func extractSinglePrice(record *PriceUpdate, assetIndex uint32) *big.Int {
	updateIndex := 0
	for i := uint32(0); i <= assetIndex; i++ {
		if !checkPeriodUpdated(record.Mask[:], i) {
			continue
		}
		if i == assetIndex {
			if updateIndex < len(record.Prices) {
				return record.Prices[updateIndex]
			}
			break
		}
		updateIndex++
	}
	return new(big.Int)
}

func (o *Oracle) recordCacheEntries(ctx context.Context) ([]cacheEntry, error) {
	raw, ok, err := o.getRaw(ctx, keyCache)
	if err != nil || !ok {
		return nil, err
	}
	return decodeCache(raw)
}

// loadHistoryRecord resolves a record by period timestamp through the
// persisted recency cache, the in-process LRU, and finally the
// temporary store. Nil means the record expired or never existed.
func (o *Oracle) loadHistoryRecord(ctx context.Context, tsMs uint64) (*PriceUpdate, error) {
	entries, err := o.recordCacheEntries(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.timestamp == tsMs {
			return entry.update, nil
		}
	}
	if o.records != nil {
		if record, ok := o.records.Get(tsMs); ok {
			return record, nil
		}
	}
	raw, err := o.store.Get(ctx, kv.ClassTemporary, recordKey(tsMs))
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	record, err := decodeUpdate(raw)
	if err != nil {
		return nil, err
	}
	if o.records != nil {
		o.records.Add(tsMs, record)
	}
	return record, nil
}

func (o *Oracle) legacyPrice(ctx context.Context, assetIndex uint32, tsMs uint64) (*big.Int, error) {
	raw, err := o.store.Get(ctx, kv.ClassTemporary, legacyPriceKey(tsMs, assetIndex))
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return decodeInt128(raw)
}

// retrievePriceData returns the price for an asset at a normalized
// period timestamp, or nil when it cannot be served.
func (o *Oracle) retrievePriceData(ctx context.Context, assetIndex uint32, tsMs uint64) (*PriceData, error) {
	atLatest, err := o.atLatestProtocol(ctx)
	if err != nil {
		return nil, err
	}
	if !atLatest {
		price, err := o.legacyPrice(ctx, assetIndex, tsMs)
		if err != nil || price == nil {
			return nil, err
		}
		return &PriceData{Price: price, Timestamp: tsMs / 1000}, nil
	}

	last, err := o.lastTimestampMs(ctx)
	if err != nil {
		return nil, err
	}
	if last < tsMs {
		return nil, nil
	}
	resolution, err := o.resolutionMs(ctx)
	if err != nil {
		return nil, err
	}
	var period uint64
	if last > tsMs {
		if resolution == 0 {
			return nil, nil
		}
		period = (last - tsMs) / resolution
	}
	// the bitmask only spans 256 periods
	if period > 255 {
		return nil, nil
	}
	history, err := o.historyMask(ctx)
	if err != nil {
		return nil, err
	}
	if !checkHistoryUpdated(history, assetIndex, uint32(period)) {
		return nil, nil
	}
	record, err := o.loadHistoryRecord(ctx, tsMs)
	if err != nil || record == nil {
		return nil, err
	}
	return &PriceData{
		Price:     extractSinglePrice(record, assetIndex),
		Timestamp: tsMs / 1000,
	}, nil
}

// historyOps folds the dense update into the history mask, inserting
// all-zero folds for skipped periods so older bits keep lining up
// with their period offsets.
func (o *Oracle) historyOps(ctx context.Context, dense []*big.Int, tsMs uint64) ([]kv.Op, error) {
	last, err := o.lastTimestampMs(ctx)
	if err != nil {
		return nil, err
	}
	history, err := o.historyMask(ctx)
	if err != nil {
		return nil, err
	}
	resolution, err := o.resolutionMs(ctx)
	if err != nil {
		return nil, err
	}

	var delta uint64
	if last > 0 && tsMs > last && resolution > 0 {
		delta = (tsMs - last) / resolution
	}
	if delta > 1 {
		zero := new(big.Int)
		empty := make([]*big.Int, len(dense))
		for i := range empty {
			empty[i] = zero
		}
		for i := uint64(1); i < delta; i++ {
			history = foldHistory(history, empty)
		}
	}
	history = foldHistory(history, dense)
	return []kv.Op{putOp(keyHistory, history)}, nil
}

// storePriceOps stages the record write: the last-timestamp marker
// (only when newer), the TTL-bound record, the trimmed recency cache,
// and pre-migration legacy keys.
func (o *Oracle) storePriceOps(ctx context.Context, update *PriceUpdate, tsMs uint64, dense []*big.Int) ([]kv.Op, error) {
	var ops []kv.Op

	last, err := o.lastTimestampMs(ctx)
	if err != nil {
		return nil, err
	}
	if tsMs > last {
		ops = append(ops, putOp(keyLastTimestamp, encodeU64(tsMs)))
	}

	retention, err := o.retentionMs(ctx)
	if err != nil {
		return nil, err
	}
	ttl := recordTTL(retention)
	ops = append(ops, putTTLOp(recordKey(tsMs), encodeUpdate(nil, update), ttl))

	cacheSize, err := o.cacheSizeSetting(ctx)
	if err != nil {
		return nil, err
	}
	if cacheSize > 0 {
		entries, err := o.recordCacheEntries(ctx)
		if err != nil {
			return nil, err
		}
		entries = append([]cacheEntry{{timestamp: tsMs, update: update}}, entries...)
		if len(entries) > int(cacheSize) {
			entries = entries[:cacheSize]
		}
		ops = append(ops, putOp(keyCache, encodeCache(entries)))
	}

	atLatest, err := o.atLatestProtocol(ctx)
	if err != nil {
		return nil, err
	}
	if !atLatest {
		for i, price := range dense {
			if price.Sign() == 0 {
				continue
			}
			ops = append(ops, putTTLOp(legacyPriceKey(tsMs, uint32(i)), appendInt128(nil, price), ttl))
		}
	}
	return ops, nil
}

// ForEachRecord visits every stored record still inside the history
// window, newest first, stepping one resolution period at a time.
// Periods whose record expired are skipped. The walk stops early when
// fn returns an error.
func (o *Oracle) ForEachRecord(ctx context.Context, fn func(tsMs uint64, update *PriceUpdate) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	timestamp, err := o.lastTimestampMs(ctx)
	if err != nil || timestamp == 0 {
		return err
	}
	resolution, err := o.resolutionMs(ctx)
	if err != nil {
		return err
	}
	if resolution == 0 {
		return nil
	}

	for period := 0; period <= 255; period++ {
		record, err := o.loadHistoryRecord(ctx, timestamp)
		if err != nil {
			return err
		}
		if record != nil {
			if err := fn(timestamp, record); err != nil {
				return err
			}
		}
		if timestamp < resolution {
			break
		}
		timestamp -= resolution
	}
	return nil
}

// loadPriceRecords walks back from the last serviceable record one
// resolution step at a time, collecting the hits fn returns. The
// budget is capped at 20 and spent on every period, hit or miss.
func (o *Oracle) loadPriceRecords(ctx context.Context, fn func(uint64) (*PriceData, error), records uint32) ([]PriceData, error) {
	timestamp, err := o.lastRecordTimestamp(ctx)
	if err != nil || timestamp == 0 {
		return nil, err
	}
	resolution, err := o.resolutionMs(ctx)
	if err != nil {
		return nil, err
	}
	if records > 20 {
		records = 20
	}

	var prices []PriceData
	for records > 0 {
		price, err := fn(timestamp)
		if err != nil {
			return nil, err
		}
		if price != nil {
			prices = append(prices, *price)
		}
		if timestamp < resolution {
			break
		}
		records--
		timestamp -= resolution
	}
	return prices, nil
}
