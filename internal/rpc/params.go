package rpc

import (
	"encoding/json"
	"math/big"

	"github.com/stelliform/go-oracled/internal/core/oracle"
)

// Shared parameter shapes. Assets are addressed in their textual form
// ("SYMBOL" or "contract:ADDRESS") everywhere on the wire.

type assetParams struct {
	Asset     string `json:"asset"`
	Timestamp uint64 `json:"timestamp,omitempty"`
	Periods   uint32 `json:"periods,omitempty"`
}

type pairParams struct {
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Timestamp  uint64 `json:"timestamp,omitempty"`
	Periods    uint32 `json:"periods,omitempty"`
}

// parseParams unmarshals the single params object. A nil payload
// leaves the target at its zero value.
func parseParams(params json.RawMessage, v interface{}) *RpcError {
	if params == nil {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return RpcErrorInvalidParams("Invalid parameters: " + err.Error())
	}
	return nil
}

func (p *assetParams) asset() (oracle.Asset, *RpcError) {
	if p.Asset == "" {
		return oracle.Asset{}, RpcErrorInvalidParams("Missing required parameter: asset")
	}
	return oracle.ParseAsset(p.Asset), nil
}

func (p *pairParams) pair() (oracle.Asset, oracle.Asset, *RpcError) {
	if p.BaseAsset == "" {
		return oracle.Asset{}, oracle.Asset{}, RpcErrorInvalidParams("Missing required parameter: base_asset")
	}
	if p.QuoteAsset == "" {
		return oracle.Asset{}, oracle.Asset{}, RpcErrorInvalidParams("Missing required parameter: quote_asset")
	}
	return oracle.ParseAsset(p.BaseAsset), oracle.ParseAsset(p.QuoteAsset), nil
}

func requireEngine() (*oracle.Oracle, *RpcError) {
	if Services == nil || Services.Engine == nil {
		return nil, RpcErrorInternal("Oracle engine not available")
	}
	return Services.Engine, nil
}

// Result builders. Missing data composes as found=false, never as an
// RPC error.

func notFoundResult() map[string]interface{} {
	return map[string]interface{}{"found": false}
}

func priceResult(pd *oracle.PriceData) map[string]interface{} {
	if pd == nil {
		return notFoundResult()
	}
	return map[string]interface{}{
		"found":     true,
		"price":     pd.Price.String(),
		"timestamp": pd.Timestamp,
	}
}

func pricesResult(prices []oracle.PriceData) map[string]interface{} {
	if len(prices) == 0 {
		return notFoundResult()
	}
	entries := make([]map[string]interface{}, 0, len(prices))
	for _, pd := range prices {
		entries = append(entries, map[string]interface{}{
			"price":     pd.Price.String(),
			"timestamp": pd.Timestamp,
		})
	}
	return map[string]interface{}{"found": true, "prices": entries}
}

func twapResult(price *big.Int) map[string]interface{} {
	if price == nil {
		return notFoundResult()
	}
	return map[string]interface{}{"found": true, "price": price.String()}
}
