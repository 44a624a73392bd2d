package rpc

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stelliform/go-oracled/internal/core/oracle"
	"github.com/stelliform/go-oracled/internal/crypto/feedsig"
)

func TestSetPriceSignatureGate(t *testing.T) {
	cleanup := setupTestServices(t)
	defer cleanup()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	verifier, err := feedsig.NewVerifier(hex.EncodeToString(priv.PubKey().SerializeCompressed()))
	require.NoError(t, err)
	Services.Verifier = verifier

	server := newTestServer(t)
	ts := testPeriod(0)

	// BTC holds registry index 0, so the canonical update sets mask
	// bit 0 and carries a single price.
	var update oracle.PriceUpdate
	update.Mask[0] = 0x01
	update.Prices = []*big.Int{big.NewInt(42)}

	entries := []map[string]string{{"asset": "BTC", "price": "42"}}

	// missing signature
	result := adminCall(t, server, "set_price", map[string]interface{}{
		"timestamp": ts,
		"prices":    entries,
	})
	assert.Equal(t, "error", result["status"])
	assert.Equal(t, "invalidParams", result["error"])

	// signature over the wrong timestamp
	badSig := feedsig.Sign(priv, update, (ts-300)*1000)
	result = adminCall(t, server, "set_price", map[string]interface{}{
		"timestamp": ts,
		"prices":    entries,
		"signature": hex.EncodeToString(badSig),
	})
	assert.Equal(t, "error", result["status"])
	assert.Equal(t, "forbidden", result["error"])

	// valid signature
	sig := feedsig.Sign(priv, update, ts*1000)
	result = adminCall(t, server, "set_price", map[string]interface{}{
		"timestamp": ts,
		"prices":    entries,
		"signature": hex.EncodeToString(sig),
	})
	assert.Equal(t, "success", result["status"])

	queried := guestCall(t, server, "lastprice", map[string]string{"asset": "BTC"})
	assert.Equal(t, true, queried["found"])
	assert.Equal(t, "42", queried["price"])
}
