// Package oracle implements the price-feed engine: asset registry,
// period-aligned price records with a 256-period history bitmask,
// cross-price and TWAP math, and the protocol migration gate. The
// engine is deterministic and silent; all I/O goes through a kv.Store
// and every public operation is serialized by a single mutex.
package oracle

import (
	"math/big"
	"strings"
)

// Version is the major version reported by the engine.
const Version uint32 = 2

// assetLimit caps the registry size.
const assetLimit = 1000

// AssetKind discriminates the two supported asset identifier forms.
type AssetKind uint8

const (
	// AssetContract references a token by its contract address.
	AssetContract AssetKind = iota
	// AssetSymbol references an external price source by ticker symbol.
	AssetSymbol
)

// Asset identifies a quoted asset. Assets are immutable once
// registered and are addressed internally by their dense index.
type Asset struct {
	Kind AssetKind `json:"kind"`
	ID   string    `json:"id"`
}

// String returns the asset in its textual form: contract-addressed
// assets carry a "contract:" prefix, symbols are bare.
func (a Asset) String() string {
	if a.Kind == AssetContract {
		return "contract:" + a.ID
	}
	return a.ID
}

// ParseAsset parses the textual asset form accepted on external
// surfaces: "contract:ADDRESS" or a bare ticker symbol.
func ParseAsset(s string) Asset {
	if rest, ok := strings.CutPrefix(s, "contract:"); ok {
		return Asset{Kind: AssetContract, ID: rest}
	}
	return Asset{Kind: AssetSymbol, ID: s}
}

// PriceData is a single quoted price. Timestamp is in seconds.
type PriceData struct {
	Price     *big.Int
	Timestamp uint64
}

// PriceUpdate is a sparse price snapshot: Mask holds one bit per
// registered asset index (bit i of byte i/8, LSB first) and Prices
// carries values for the set bits only, in ascending index order.
type PriceUpdate struct {
	Mask   [32]byte
	Prices []*big.Int
}

// Each calls fn for every set mask bit with the asset index and the
// matching price, in ascending index order.
func (u *PriceUpdate) Each(fn func(index uint32, price *big.Int)) {
	position := 0
	for i := uint32(0); i < uint32(len(u.Mask))*8; i++ {
		if !checkPeriodUpdated(u.Mask[:], i) {
			continue
		}
		if position >= len(u.Prices) {
			return
		}
		fn(i, u.Prices[position])
		position++
	}
}

// FeeConfig holds the fee token and the daily price feed retainer fee.
// A nil *FeeConfig means fees are explicitly disabled.
type FeeConfig struct {
	Token string
	Fee   *big.Int
}

// Default fee config used when none was ever stored.
const defaultFeeToken = "CBLLEW7HD2RWATVSMLAGWM4G3WCHSHDJ25ALP4DI6LULV5TU35N2CIZA"

const defaultFee = 100_000_000

// Config carries the one-time initialization parameters.
type Config struct {
	// Admin is the administrative identity reported by the Admin getter.
	Admin string
	// BaseAsset is the asset all prices are quoted against.
	BaseAsset Asset
	// Decimals is the number of decimal places in quoted prices.
	Decimals uint32
	// ResolutionMs is the period timeframe in milliseconds.
	ResolutionMs uint32
	// RetentionMs is the history retention period in milliseconds.
	RetentionMs uint64
	// CacheSize is the number of recent records kept in the persisted cache.
	CacheSize uint32
	// FeeConfig enables the retainer fee model; nil disables it.
	FeeConfig *FeeConfig
	// Assets is the initial registry.
	Assets []Asset
}

func daysToMs(days uint32) uint64 {
	return uint64(days) * 24 * 60 * 60 * 1000
}
