package archive

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stelliform/go-oracled/internal/core/oracle"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "archive.db")
	a, err := Open(DriverSQLite, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func testEvent(tsSec uint64) oracle.UpdateEvent {
	return oracle.UpdateEvent{
		Timestamp: tsSec * 1000,
		Prices: []oracle.AssetPrice{
			{Asset: oracle.Asset{Kind: oracle.AssetSymbol, ID: "BTC"}, Price: big.NewInt(6_000_000)},
			{Asset: oracle.Asset{Kind: oracle.AssetContract, ID: "CAAAA"}, Price: big.NewInt(42)},
		},
	}
}

func TestStoreAndLoad(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, testEvent(1_700_000_100)))

	record, err := a.Load(ctx, 1_700_000_100)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, uint64(1_700_000_100), record.Timestamp)
	require.Len(t, record.Prices, 2)
	assert.Equal(t, RecordPrice{Asset: "BTC", Price: "6000000"}, record.Prices[0])
	assert.Equal(t, RecordPrice{Asset: "contract:CAAAA", Price: "42"}, record.Prices[1])
}

func TestLoadMissingPeriod(t *testing.T) {
	a := openTestArchive(t)

	record, err := a.Load(context.Background(), 12345)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestStoreReplacesPeriod(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, testEvent(500)))

	replacement := oracle.UpdateEvent{
		Timestamp: 500_000,
		Prices: []oracle.AssetPrice{
			{Asset: oracle.Asset{Kind: oracle.AssetSymbol, ID: "ETH"}, Price: big.NewInt(7)},
		},
	}
	require.NoError(t, a.Store(ctx, replacement))

	count, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	record, err := a.Load(ctx, 500)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Len(t, record.Prices, 1)
	assert.Equal(t, "ETH", record.Prices[0].Asset)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", nil)
	assert.Error(t, err)
}
