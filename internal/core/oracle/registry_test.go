package oracle

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stelliform/go-oracled/internal/storage/kv"
)

func feeConfigured() *FeeConfig {
	return &FeeConfig{Token: defaultFeeToken, Fee: big.NewInt(defaultFee)}
}

func TestAddAssets(t *testing.T) {
	ctx := context.Background()

	t.Run("extends the registry", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		require.NoError(t, env.oracle.AddAssets(ctx, []Asset{sym("XRP")}))

		assets, err := env.oracle.Assets(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Asset{sym("BTC"), sym("ETH"), sym("XLM"), sym("XRP")}, assets)

		// The new index is immediately usable.
		env.setPrice(testStartMs, map[uint32]int64{3: 55})
		pd, err := env.oracle.LastPrice(ctx, sym("XRP"))
		require.NoError(t, err)
		requirePrice(t, pd, 55, testStartMs/1000)
	})

	t.Run("rejects an already registered asset", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		err := env.oracle.AddAssets(ctx, []Asset{sym("ETH")})
		require.ErrorIs(t, err, ErrAssetExists)
	})

	t.Run("rejects duplicates within one call", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		err := env.oracle.AddAssets(ctx, []Asset{sym("DOGE"), sym("DOGE")})
		require.ErrorIs(t, err, ErrAssetExists)

		// Nothing from the failed call may stick.
		assets, err := env.oracle.Assets(ctx)
		require.NoError(t, err)
		assert.Len(t, assets, 3)
		_, ok, err := env.oracle.Expires(ctx, sym("DOGE"))
		assert.False(t, ok)
		require.ErrorIs(t, err, ErrAssetMissing)
	})

	t.Run("contract and symbol identifiers do not collide", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		contract := Asset{Kind: AssetContract, ID: "BTC"}
		require.NoError(t, env.oracle.AddAssets(ctx, []Asset{contract}))

		assets, err := env.oracle.Assets(ctx)
		require.NoError(t, err)
		assert.Len(t, assets, 4)
	})
}

func TestAssetLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.configure(feedConfig(sym("BTC"), sym("ETH")))

	batch := make([]Asset, 997)
	for i := range batch {
		batch[i] = sym(fmt.Sprintf("A%03d", i))
	}
	require.NoError(t, env.oracle.AddAssets(ctx, batch))

	assets, err := env.oracle.Assets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 999)

	err = env.oracle.AddAssets(ctx, []Asset{sym("LAST")})
	require.ErrorIs(t, err, ErrAssetLimit)

	assets, err = env.oracle.Assets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 999, "the rejected asset may not be registered")
}

func TestExpirations(t *testing.T) {
	ctx := context.Background()

	t.Run("seeded at registration when fees are configured", func(t *testing.T) {
		cfg := feedConfig()
		cfg.FeeConfig = feeConfigured()
		env := newTestEnv(t)
		env.configure(cfg)

		expires, ok, err := env.oracle.Expires(ctx, sym("BTC"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, testStartMs+daysToMs(180), expires)
	})

	t.Run("honors a custom initial period", func(t *testing.T) {
		cfg := feedConfig()
		cfg.FeeConfig = feeConfigured()
		env := newTestEnv(t, WithInitialExpirationPeriod(30))
		env.configure(cfg)

		expires, ok, err := env.oracle.Expires(ctx, sym("BTC"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, testStartMs+daysToMs(30), expires)
	})

	t.Run("absent without fee config", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		_, ok, err := env.oracle.Expires(ctx, sym("BTC"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown asset", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		_, _, err := env.oracle.Expires(ctx, sym("DOGE"))
		require.ErrorIs(t, err, ErrAssetMissing)
	})

	t.Run("seeded when fee config is enabled later", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		require.NoError(t, env.oracle.SetFeeConfig(ctx, feeConfigured()))

		expires, ok, err := env.oracle.Expires(ctx, sym("XLM"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, testStartMs+daysToMs(180), expires)

		// Re-enabling must not reset existing entries.
		env.advance(daysToMs(10))
		require.NoError(t, env.oracle.SetFeeConfig(ctx, feeConfigured()))
		unchanged, ok, err := env.oracle.Expires(ctx, sym("XLM"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, expires, unchanged)
	})
}

func TestExtendAssetTTL(t *testing.T) {
	ctx := context.Background()

	withFee := func(t *testing.T, fee int64) *testEnv {
		t.Helper()
		cfg := feedConfig()
		cfg.FeeConfig = &FeeConfig{Token: defaultFeeToken, Fee: big.NewInt(fee)}
		env := newTestEnv(t)
		env.configure(cfg)
		return env
	}

	t.Run("extends in proportion to the amount", func(t *testing.T) {
		env := withFee(t, defaultFee)

		// Twice the daily fee buys two days.
		require.NoError(t, env.oracle.ExtendAssetTTL(ctx, sym("BTC"), big.NewInt(2*defaultFee)))

		expires, ok, err := env.oracle.Expires(ctx, sym("BTC"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, testStartMs+daysToMs(182), expires)

		// Other assets are untouched.
		expires, ok, err = env.oracle.Expires(ctx, sym("ETH"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, testStartMs+daysToMs(180), expires)
	})

	t.Run("expired entries restart from now", func(t *testing.T) {
		env := withFee(t, defaultFee)

		env.advance(daysToMs(200))
		require.NoError(t, env.oracle.ExtendAssetTTL(ctx, sym("BTC"), big.NewInt(defaultFee)))

		expires, ok, err := env.oracle.Expires(ctx, sym("BTC"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, env.nowMs+daysToMs(1), expires)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		env := withFee(t, defaultFee)

		for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
			err := env.oracle.ExtendAssetTTL(ctx, sym("BTC"), amount)
			require.ErrorIs(t, err, ErrInvalidAmount, "amount %v", amount)
		}
	})

	t.Run("rejects unknown assets", func(t *testing.T) {
		env := withFee(t, defaultFee)

		err := env.oracle.ExtendAssetTTL(ctx, sym("DOGE"), big.NewInt(defaultFee))
		require.ErrorIs(t, err, ErrAssetMissing)
	})

	t.Run("rejects amounts that buy no time", func(t *testing.T) {
		cfg := feedConfig()
		cfg.FeeConfig = &FeeConfig{Token: defaultFeeToken, Fee: pow10(18)}
		env := newTestEnv(t)
		env.configure(cfg)

		err := env.oracle.ExtendAssetTTL(ctx, sym("BTC"), big.NewInt(1))
		require.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("requires an enabled fee config", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		err := env.oracle.ExtendAssetTTL(ctx, sym("BTC"), big.NewInt(defaultFee))
		require.ErrorIs(t, err, ErrInvalidFeeConfig)
	})

	t.Run("fails when the expiration entry is missing", func(t *testing.T) {
		env := newTestEnv(t)
		env.configure(feedConfig())

		// Fee config written behind the engine's back, skipping the
		// expiration seeding that SetFeeConfig performs.
		raw := encodeFeeConfig(feeConfigured())
		require.NoError(t, env.store.Put(ctx, kv.ClassInstance, []byte(keyFeeConfig), raw))

		err := env.oracle.ExtendAssetTTL(ctx, sym("BTC"), big.NewInt(defaultFee))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidAmount)
	})
}
