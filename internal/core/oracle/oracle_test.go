package oracle

import (
	"context"
	"math/big"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stelliform/go-oracled/internal/storage/kv"
)

const (
	testResolutionMs = uint64(300_000)
	testRetentionMs  = uint64(86_400_000)

	// Aligned to the 5-minute period grid.
	testStartMs = uint64(1_735_689_900_000)
)

const testAdmin = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"

func sym(code string) Asset {
	return Asset{Kind: AssetSymbol, ID: code}
}

// captureSink records update events delivered by the engine.
type captureSink struct {
	events []UpdateEvent
}

func (s *captureSink) PublishUpdate(ev UpdateEvent) {
	s.events = append(s.events, ev)
}

// testEnv wires an engine to an in-memory store with a manual clock.
type testEnv struct {
	t      *testing.T
	oracle *Oracle
	store  kv.Store
	nowMs  uint64
	sink   *captureSink
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		t:     t,
		store: kv.NewMemory(),
		nowMs: testStartMs,
		sink:  &captureSink{},
	}
	t.Cleanup(func() { env.store.Close() })

	base := []Option{
		WithClock(func() uint64 { return env.nowMs }),
		WithEventSink(env.sink),
	}
	env.oracle = New(env.store, append(base, opts...)...)
	return env
}

func (env *testEnv) advance(ms uint64) { env.nowMs += ms }

func (env *testEnv) configure(cfg Config) {
	env.t.Helper()
	require.NoError(env.t, env.oracle.Configure(context.Background(), cfg))
}

// setPrice records prices keyed by asset index at the given timestamp.
func (env *testEnv) setPrice(tsMs uint64, prices map[uint32]int64) {
	env.t.Helper()
	require.NoError(env.t, env.oracle.SetPrice(context.Background(), updateFor(prices), tsMs))
}

func feedConfig(assets ...Asset) Config {
	if len(assets) == 0 {
		assets = []Asset{sym("BTC"), sym("ETH"), sym("XLM")}
	}
	return Config{
		Admin:        testAdmin,
		BaseAsset:    sym("USD"),
		Decimals:     14,
		ResolutionMs: uint32(testResolutionMs),
		RetentionMs:  testRetentionMs,
		CacheSize:    3,
		Assets:       assets,
	}
}

// updateFor builds a sparse update; prices are laid out in ascending
// asset index order to match the mask.
func updateFor(prices map[uint32]int64) PriceUpdate {
	indexes := make([]uint32, 0, len(prices))
	for index := range prices {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	var update PriceUpdate
	for _, index := range indexes {
		pos, bit := maskPosition(index)
		update.Mask[pos] |= bit
		update.Prices = append(update.Prices, big.NewInt(prices[index]))
	}
	return update
}

func requirePrice(t *testing.T, pd *PriceData, price int64, tsSec uint64) {
	t.Helper()
	require.NotNil(t, pd)
	assert.Zero(t, pd.Price.Cmp(big.NewInt(price)), "price = %s, want %d", pd.Price, price)
	assert.Equal(t, tsSec, pd.Timestamp)
}

func TestConfigure(t *testing.T) {
	ctx := context.Background()

	t.Run("applies settings", func(t *testing.T) {
		env := newTestEnv(t)

		initialized, err := env.oracle.Initialized(ctx)
		require.NoError(t, err)
		assert.False(t, initialized)

		env.configure(feedConfig())

		initialized, err = env.oracle.Initialized(ctx)
		require.NoError(t, err)
		assert.True(t, initialized)

		base, err := env.oracle.Base(ctx)
		require.NoError(t, err)
		assert.Equal(t, sym("USD"), base)

		decimals, err := env.oracle.Decimals(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(14), decimals)

		resolution, err := env.oracle.Resolution(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(300), resolution, "resolution is reported in seconds")

		retention, ok, err := env.oracle.HistoryRetentionPeriod(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(86_400), retention, "retention is reported in seconds")

		cacheSize, err := env.oracle.CacheSize(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), cacheSize)

		assets, err := env.oracle.Assets(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Asset{sym("BTC"), sym("ETH"), sym("XLM")}, assets)

		admin, ok, err := env.oracle.Admin(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, testAdmin, admin)

		last, err := env.oracle.LastTimestamp(ctx)
		require.NoError(t, err)
		assert.Zero(t, last)

		assert.Equal(t, uint32(2), env.oracle.Version())
	})

	t.Run("rejects reinitialization", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		err := env.oracle.Configure(ctx, feedConfig())
		require.ErrorIs(t, err, ErrAlreadyInitialized)
	})

	t.Run("fee config defaults when never written", func(t *testing.T) {
		env := newTestEnv(t)

		fc, err := env.oracle.FeeConfig(ctx)
		require.NoError(t, err)
		require.NotNil(t, fc)
		assert.Equal(t, defaultFeeToken, fc.Token)
		assert.Zero(t, fc.Fee.Cmp(big.NewInt(defaultFee)))
	})

	t.Run("explicitly disabled fee config stays disabled", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		fc, err := env.oracle.FeeConfig(ctx)
		require.NoError(t, err)
		assert.Nil(t, fc)
	})
}

func TestSetPriceValidation(t *testing.T) {
	ctx := context.Background()

	oversized := updateFor(map[uint32]int64{0: 1})
	oversized.Prices[0] = new(big.Int).Lsh(big.NewInt(1), 127)

	mismatched := updateFor(map[uint32]int64{0: 1, 1: 2})
	mismatched.Prices = mismatched.Prices[:1]

	nilPrice := updateFor(map[uint32]int64{0: 1})
	nilPrice.Prices[0] = nil

	tests := []struct {
		name      string
		configure bool
		update    PriceUpdate
		tsMs      uint64
		wantErr   error
	}{
		{
			name:    "rejected before initialization",
			update:  updateFor(map[uint32]int64{0: 1}),
			tsMs:    testStartMs,
			wantErr: ErrUnauthorized,
		},
		{
			name:      "empty update is a no-op",
			configure: true,
			update:    PriceUpdate{},
			tsMs:      0,
		},
		{
			name:      "more prices than registered assets",
			configure: true,
			update:    updateFor(map[uint32]int64{0: 1, 1: 2, 2: 3, 3: 4}),
			tsMs:      testStartMs,
			wantErr:   ErrInvalidUpdate,
		},
		{
			name:      "mask and price count disagree",
			configure: true,
			update:    mismatched,
			tsMs:      testStartMs,
			wantErr:   ErrInvalidUpdate,
		},
		{
			name:      "nil price",
			configure: true,
			update:    nilPrice,
			tsMs:      testStartMs,
			wantErr:   ErrInvalidUpdate,
		},
		{
			name:      "price beyond 128 bits",
			configure: true,
			update:    oversized,
			tsMs:      testStartMs,
			wantErr:   ErrInvalidUpdate,
		},
		{
			name:      "zero timestamp",
			configure: true,
			update:    updateFor(map[uint32]int64{0: 1}),
			tsMs:      0,
			wantErr:   ErrInvalidTimestamp,
		},
		{
			name:      "timestamp off the period grid",
			configure: true,
			update:    updateFor(map[uint32]int64{0: 1}),
			tsMs:      testStartMs - 100,
			wantErr:   ErrInvalidTimestamp,
		},
		{
			name:      "future timestamp",
			configure: true,
			update:    updateFor(map[uint32]int64{0: 1}),
			tsMs:      testStartMs + testResolutionMs,
			wantErr:   ErrInvalidTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.configure {
				env.configure(feedConfig())
			}

			err := env.oracle.SetPrice(ctx, tt.update, tt.tsMs)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			last, lastErr := env.oracle.LastTimestamp(ctx)
			require.NoError(t, lastErr)
			assert.Zero(t, last, "no update may be recorded")
			assert.Empty(t, env.sink.events, "no event may be published")
		})
	}
}

func TestSetPriceAndQueries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.configure(feedConfig())

	ts0 := testStartMs
	env.setPrice(ts0, map[uint32]int64{0: 4_000_000, 2: 150_000})

	last, err := env.oracle.LastTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, ts0/1000, last)

	t.Run("last price", func(t *testing.T) {
		pd, err := env.oracle.LastPrice(ctx, sym("BTC"))
		require.NoError(t, err)
		requirePrice(t, pd, 4_000_000, ts0/1000)

		pd, err = env.oracle.LastPrice(ctx, sym("ETH"))
		require.NoError(t, err)
		assert.Nil(t, pd, "asset missing from the update mask")
	})

	t.Run("price at timestamp", func(t *testing.T) {
		pd, err := env.oracle.Price(ctx, sym("XLM"), ts0/1000)
		require.NoError(t, err)
		requirePrice(t, pd, 150_000, ts0/1000)

		// Mid-period timestamps are normalized down to the grid.
		pd, err = env.oracle.Price(ctx, sym("XLM"), ts0/1000+120)
		require.NoError(t, err)
		requirePrice(t, pd, 150_000, ts0/1000)
	})

	t.Run("unknown asset", func(t *testing.T) {
		pd, err := env.oracle.Price(ctx, sym("DOGE"), ts0/1000)
		require.NoError(t, err)
		assert.Nil(t, pd)

		pd, err = env.oracle.LastPrice(ctx, sym("DOGE"))
		require.NoError(t, err)
		assert.Nil(t, pd)
	})

	t.Run("update event", func(t *testing.T) {
		require.Len(t, env.sink.events, 1)
		ev := env.sink.events[0]
		assert.Equal(t, ts0, ev.Timestamp)
		require.Len(t, ev.Prices, 2)
		assert.Equal(t, sym("BTC"), ev.Prices[0].Asset)
		assert.Zero(t, ev.Prices[0].Price.Cmp(big.NewInt(4_000_000)))
		assert.Equal(t, sym("XLM"), ev.Prices[1].Asset)
		assert.Zero(t, ev.Prices[1].Price.Cmp(big.NewInt(150_000)))
	})
}

func TestSetPriceZeroPrice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.configure(feedConfig())

	// BTC carries an explicit zero; it is stored but never becomes
	// readable and is dropped from the event.
	env.setPrice(testStartMs, map[uint32]int64{0: 0, 1: 7})

	pd, err := env.oracle.LastPrice(ctx, sym("BTC"))
	require.NoError(t, err)
	assert.Nil(t, pd)

	pd, err = env.oracle.LastPrice(ctx, sym("ETH"))
	require.NoError(t, err)
	requirePrice(t, pd, 7, testStartMs/1000)

	require.Len(t, env.sink.events, 1)
	require.Len(t, env.sink.events[0].Prices, 1)
	assert.Equal(t, sym("ETH"), env.sink.events[0].Prices[0].Asset)
}

func TestLastPriceFreshness(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.configure(feedConfig())
	env.setPrice(testStartMs, map[uint32]int64{0: 42})

	// Just inside the freshness horizon of two periods.
	env.advance(2*testResolutionMs - 1)
	pd, err := env.oracle.LastPrice(ctx, sym("BTC"))
	require.NoError(t, err)
	requirePrice(t, pd, 42, testStartMs/1000)

	env.advance(1)
	pd, err = env.oracle.LastPrice(ctx, sym("BTC"))
	require.NoError(t, err)
	assert.Nil(t, pd, "feed older than two periods is stale")

	// Timestamped lookups still serve the old period.
	pd, err = env.oracle.Price(ctx, sym("BTC"), testStartMs/1000)
	require.NoError(t, err)
	requirePrice(t, pd, 42, testStartMs/1000)
}

func TestPriceHistoryGaps(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.configure(feedConfig())

	ts0 := testStartMs
	env.setPrice(ts0, map[uint32]int64{0: 100, 1: 200})

	ts3 := ts0 + 3*testResolutionMs
	env.advance(3 * testResolutionMs)
	env.setPrice(ts3, map[uint32]int64{0: 101})

	pd, err := env.oracle.Price(ctx, sym("ETH"), ts3/1000)
	require.NoError(t, err)
	assert.Nil(t, pd, "not part of the latest update")

	pd, err = env.oracle.Price(ctx, sym("ETH"), ts0/1000)
	require.NoError(t, err)
	requirePrice(t, pd, 200, ts0/1000)

	pd, err = env.oracle.Price(ctx, sym("BTC"), (ts0+testResolutionMs)/1000)
	require.NoError(t, err)
	assert.Nil(t, pd, "skipped period has no record")

	pd, err = env.oracle.Price(ctx, sym("BTC"), (ts3+testResolutionMs)/1000)
	require.NoError(t, err)
	assert.Nil(t, pd, "timestamp after the last update")
}

func TestPriceBeyondHistoryWindow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.configure(feedConfig())

	ts0 := testStartMs
	env.setPrice(ts0, map[uint32]int64{0: 100})

	jump := 256 * testResolutionMs
	env.advance(jump)
	env.setPrice(ts0+jump, map[uint32]int64{0: 101})

	pd, err := env.oracle.Price(ctx, sym("BTC"), ts0/1000)
	require.NoError(t, err)
	assert.Nil(t, pd, "256 periods back is outside the history window")
}

func TestPrices(t *testing.T) {
	ctx := context.Background()

	t.Run("newest first", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		for i := uint64(0); i < 5; i++ {
			env.nowMs = testStartMs + i*testResolutionMs
			env.setPrice(env.nowMs, map[uint32]int64{0: 100 + int64(i)})
		}

		prices, err := env.oracle.Prices(ctx, sym("BTC"), 3)
		require.NoError(t, err)
		require.Len(t, prices, 3)
		for i, want := range []int64{104, 103, 102} {
			assert.Zero(t, prices[i].Price.Cmp(big.NewInt(want)))
			assert.Equal(t, (testStartMs+(4-uint64(i))*testResolutionMs)/1000, prices[i].Timestamp)
		}
	})

	t.Run("missing periods still consume the budget", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		env.setPrice(testStartMs, map[uint32]int64{0: 100})
		env.advance(testResolutionMs)
		env.setPrice(testStartMs+testResolutionMs, map[uint32]int64{0: 101})
		env.advance(2 * testResolutionMs)
		env.setPrice(testStartMs+3*testResolutionMs, map[uint32]int64{0: 103})

		prices, err := env.oracle.Prices(ctx, sym("BTC"), 3)
		require.NoError(t, err)
		require.Len(t, prices, 2)
		assert.Zero(t, prices[0].Price.Cmp(big.NewInt(103)))
		assert.Zero(t, prices[1].Price.Cmp(big.NewInt(101)))
	})

	t.Run("zero records", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())
		env.setPrice(testStartMs, map[uint32]int64{0: 100})

		prices, err := env.oracle.Prices(ctx, sym("BTC"), 0)
		require.NoError(t, err)
		assert.Nil(t, prices)
	})

	t.Run("unknown asset", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())
		env.setPrice(testStartMs, map[uint32]int64{0: 100})

		prices, err := env.oracle.Prices(ctx, sym("DOGE"), 3)
		require.NoError(t, err)
		assert.Nil(t, prices)
	})

	t.Run("capped at twenty", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		for i := uint64(0); i < 25; i++ {
			env.nowMs = testStartMs + i*testResolutionMs
			env.setPrice(env.nowMs, map[uint32]int64{0: 100 + int64(i)})
		}

		prices, err := env.oracle.Prices(ctx, sym("BTC"), 25)
		require.NoError(t, err)
		assert.Len(t, prices, 20)
	})
}

func TestTWAP(t *testing.T) {
	ctx := context.Background()

	setSeries := func(env *testEnv, values ...int64) {
		env.t.Helper()
		for i, v := range values {
			env.nowMs = testStartMs + uint64(i)*testResolutionMs
			env.setPrice(env.nowMs, map[uint32]int64{0: v})
		}
	}

	t.Run("averages the requested periods", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())
		setSeries(env, 100, 200, 600)

		twap, err := env.oracle.TWAP(ctx, sym("BTC"), 3)
		require.NoError(t, err)
		require.NotNil(t, twap)
		assert.Zero(t, twap.Cmp(big.NewInt(300)))

		twap, err = env.oracle.TWAP(ctx, sym("BTC"), 2)
		require.NoError(t, err)
		require.NotNil(t, twap)
		assert.Zero(t, twap.Cmp(big.NewInt(400)))
	})

	t.Run("requires every period", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())
		setSeries(env, 100, 200, 600)

		twap, err := env.oracle.TWAP(ctx, sym("BTC"), 4)
		require.NoError(t, err)
		assert.Nil(t, twap, "only three periods recorded")
	})

	t.Run("truncates the average", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())
		setSeries(env, 100, 101)

		twap, err := env.oracle.TWAP(ctx, sym("BTC"), 2)
		require.NoError(t, err)
		require.NotNil(t, twap)
		assert.Zero(t, twap.Cmp(big.NewInt(100)))
	})

	t.Run("rejects a stale newest record", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())
		setSeries(env, 100, 200, 600)

		// One period plus the one minute grace, inclusive bound.
		env.advance(testResolutionMs + 60_000)
		twap, err := env.oracle.TWAP(ctx, sym("BTC"), 3)
		require.NoError(t, err)
		require.NotNil(t, twap)

		env.advance(1)
		twap, err = env.oracle.TWAP(ctx, sym("BTC"), 3)
		require.NoError(t, err)
		assert.Nil(t, twap)
	})

	t.Run("more than twenty periods never resolves", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		values := make([]int64, 25)
		for i := range values {
			values[i] = 100 + int64(i)
		}
		setSeries(env, values...)

		twap, err := env.oracle.TWAP(ctx, sym("BTC"), 21)
		require.NoError(t, err)
		assert.Nil(t, twap, "the record loader stops at twenty")

		twap, err = env.oracle.TWAP(ctx, sym("BTC"), 20)
		require.NoError(t, err)
		require.NotNil(t, twap)
	})
}

func TestCrossPrices(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.configure(feedConfig())

	ts0 := testStartMs
	env.setPrice(ts0, map[uint32]int64{0: 4_000_000, 1: 200_000})

	t.Run("cross of two recorded prices", func(t *testing.T) {
		pd, err := env.oracle.CrossPrice(ctx, sym("BTC"), sym("ETH"), ts0/1000)
		require.NoError(t, err)
		require.NotNil(t, pd)
		assert.Equal(t, "2000000000000000", pd.Price.String())
		assert.Equal(t, ts0/1000, pd.Timestamp)

		pd, err = env.oracle.CrossLastPrice(ctx, sym("BTC"), sym("ETH"))
		require.NoError(t, err)
		require.NotNil(t, pd)
		assert.Equal(t, "2000000000000000", pd.Price.String())
	})

	t.Run("identity pair needs no record", func(t *testing.T) {
		// XLM never had a price recorded.
		pd, err := env.oracle.CrossPrice(ctx, sym("XLM"), sym("XLM"), ts0/1000)
		require.NoError(t, err)
		require.NotNil(t, pd)
		assert.Zero(t, pd.Price.Cmp(pow10(14)))
		assert.Equal(t, ts0/1000, pd.Timestamp)
	})

	t.Run("missing leg", func(t *testing.T) {
		pd, err := env.oracle.CrossPrice(ctx, sym("BTC"), sym("XLM"), ts0/1000)
		require.NoError(t, err)
		assert.Nil(t, pd)
	})

	t.Run("unknown asset", func(t *testing.T) {
		pd, err := env.oracle.CrossPrice(ctx, sym("BTC"), sym("DOGE"), ts0/1000)
		require.NoError(t, err)
		assert.Nil(t, pd)
	})

	t.Run("series and twap", func(t *testing.T) {
		ts1 := ts0 + testResolutionMs
		env.advance(testResolutionMs)
		env.setPrice(ts1, map[uint32]int64{0: 9_000_000, 1: 300_000})

		prices, err := env.oracle.CrossPrices(ctx, sym("BTC"), sym("ETH"), 2)
		require.NoError(t, err)
		require.Len(t, prices, 2)
		assert.Equal(t, "3000000000000000", prices[0].Price.String())
		assert.Equal(t, "2000000000000000", prices[1].Price.String())

		twap, err := env.oracle.CrossTWAP(ctx, sym("BTC"), sym("ETH"), 2)
		require.NoError(t, err)
		require.NotNil(t, twap)
		assert.Equal(t, "2500000000000000", twap.String())
	})
}

func TestAdminSettingsUpdates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.configure(feedConfig())

	require.NoError(t, env.oracle.SetCacheSize(ctx, 5))
	cacheSize, err := env.oracle.CacheSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), cacheSize)

	require.NoError(t, env.oracle.SetHistoryRetentionPeriod(ctx, 172_800_000))
	retention, ok, err := env.oracle.HistoryRetentionPeriod(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(172_800), retention)

	require.NoError(t, env.oracle.SetHistoryRetentionPeriod(ctx, 0))
	_, ok, err = env.oracle.HistoryRetentionPeriod(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdminOpsRequireInitialization(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	ops := map[string]func() error{
		"SetCacheSize": func() error { return env.oracle.SetCacheSize(ctx, 1) },
		"SetHistoryRetentionPeriod": func() error {
			return env.oracle.SetHistoryRetentionPeriod(ctx, 1000)
		},
		"SetFeeConfig": func() error { return env.oracle.SetFeeConfig(ctx, nil) },
		"AddAssets":    func() error { return env.oracle.AddAssets(ctx, []Asset{sym("BTC")}) },
		"SetPrice": func() error {
			return env.oracle.SetPrice(ctx, updateFor(map[uint32]int64{0: 1}), testStartMs)
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, op(), ErrUnauthorized)
		})
	}
}
