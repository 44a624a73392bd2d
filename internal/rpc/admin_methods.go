package rpc

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"sort"
	"time"

	"github.com/stelliform/go-oracled/internal/core/oracle"
)

// adminMethod carries the defaults shared by every mutating method.
type adminMethod struct{}

func (adminMethod) RequiredRole() Role          { return RoleAdmin }
func (adminMethod) SupportedApiVersions() []int { return []int{ApiVersion1} }

// ConfigMethod handles the config RPC method: the one-time engine
// initialization.
type ConfigMethod struct{ adminMethod }

func (m *ConfigMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request struct {
		Admin     string   `json:"admin"`
		BaseAsset string   `json:"base_asset"`
		Decimals  uint32   `json:"decimals"`
		// Resolution and retention are in seconds on the wire.
		Resolution uint32   `json:"resolution"`
		Retention  uint64   `json:"retention_period"`
		CacheSize  uint32   `json:"cache_size"`
		FeeToken   string   `json:"fee_token,omitempty"`
		Fee        string   `json:"fee,omitempty"`
		Assets     []string `json:"assets"`
	}
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	if request.BaseAsset == "" {
		return nil, RpcErrorInvalidParams("Missing required parameter: base_asset")
	}
	if request.Resolution == 0 {
		return nil, RpcErrorInvalidParams("Missing required parameter: resolution")
	}

	cfg := oracle.Config{
		Admin:        request.Admin,
		BaseAsset:    oracle.ParseAsset(request.BaseAsset),
		Decimals:     request.Decimals,
		ResolutionMs: request.Resolution * 1000,
		RetentionMs:  request.Retention * 1000,
		CacheSize:    request.CacheSize,
	}
	if request.Fee != "" {
		fee, ok := new(big.Int).SetString(request.Fee, 10)
		if !ok {
			return nil, RpcErrorInvalidParams("Invalid fee amount: " + request.Fee)
		}
		cfg.FeeConfig = &oracle.FeeConfig{Token: request.FeeToken, Fee: fee}
	}
	for _, s := range request.Assets {
		cfg.Assets = append(cfg.Assets, oracle.ParseAsset(s))
	}

	if err := engine.Configure(ctx.Context, cfg); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{}, nil
}

// priceEntry is one sparse update entry on the wire.
type priceEntry struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

// buildUpdate assembles the sparse engine update from wire entries:
// one mask bit per registered index, prices in ascending index order.
func buildUpdate(ctx *RpcContext, engine *oracle.Oracle, entries []priceEntry) (oracle.PriceUpdate, *RpcError) {
	assets, err := engine.Assets(ctx.Context)
	if err != nil {
		return oracle.PriceUpdate{}, engineError(err)
	}
	indexOf := make(map[string]uint32, len(assets))
	for i, asset := range assets {
		indexOf[asset.String()] = uint32(i)
	}

	type indexedPrice struct {
		index uint32
		price *big.Int
	}
	indexed := make([]indexedPrice, 0, len(entries))
	seen := make(map[uint32]bool, len(entries))
	for _, entry := range entries {
		index, ok := indexOf[oracle.ParseAsset(entry.Asset).String()]
		if !ok {
			return oracle.PriceUpdate{}, RpcErrorInvalidParams("Unknown asset: " + entry.Asset)
		}
		if seen[index] {
			return oracle.PriceUpdate{}, RpcErrorInvalidParams("Duplicate asset: " + entry.Asset)
		}
		// The per-update mask carries one bit per asset index; assets
		// registered past index 255 cannot be priced over this surface.
		if index >= 256 {
			return oracle.PriceUpdate{}, RpcErrorInvalidParams("Asset index out of update range: " + entry.Asset)
		}
		seen[index] = true
		price, ok := new(big.Int).SetString(entry.Price, 10)
		if !ok || price.Sign() < 0 {
			return oracle.PriceUpdate{}, RpcErrorInvalidParams("Invalid price for " + entry.Asset)
		}
		indexed = append(indexed, indexedPrice{index: index, price: price})
	}
	sort.Slice(indexed, func(i, j int) bool { return indexed[i].index < indexed[j].index })

	var update oracle.PriceUpdate
	for _, ip := range indexed {
		update.Mask[ip.index/8] |= 1 << (ip.index % 8)
		update.Prices = append(update.Prices, ip.price)
	}
	return update, nil
}

// SetPriceMethod handles the set_price RPC method. When a feed public
// key is configured the request must carry a valid signature over the
// canonical update digest.
type SetPriceMethod struct{ adminMethod }

func (m *SetPriceMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request struct {
		Timestamp uint64       `json:"timestamp"`
		Prices    []priceEntry `json:"prices"`
		Signature string       `json:"signature,omitempty"`
	}
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	if request.Timestamp == 0 {
		return nil, RpcErrorInvalidParams("Missing required parameter: timestamp")
	}

	update, rpcErr := buildUpdate(ctx, engine, request.Prices)
	if rpcErr != nil {
		return nil, rpcErr
	}
	timestampMs := request.Timestamp * 1000

	if Services.Verifier != nil {
		sig, err := hex.DecodeString(request.Signature)
		if err != nil || len(sig) == 0 {
			return nil, RpcErrorInvalidParams("Missing or malformed update signature")
		}
		if !Services.Verifier.VerifyUpdate(update, timestampMs, sig) {
			return nil, RpcErrorNotAuthorized()
		}
	}

	if err := engine.SetPrice(ctx.Context, update, timestampMs); err != nil {
		if Services.Metrics != nil {
			Services.Metrics.UpdatesRejected.Inc()
		}
		return nil, engineError(err)
	}
	if Services.Metrics != nil {
		Services.Metrics.UpdatesApplied.Inc()
		Services.Metrics.LastUpdateTime.Set(float64(request.Timestamp))
	}
	return map[string]interface{}{"applied": len(request.Prices)}, nil
}

// AddAssetsMethod handles the add_assets RPC method.
type AddAssetsMethod struct{ adminMethod }

func (m *AddAssetsMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request struct {
		Assets []string `json:"assets"`
	}
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	if len(request.Assets) == 0 {
		return nil, RpcErrorInvalidParams("Missing required parameter: assets")
	}
	assets := make([]oracle.Asset, 0, len(request.Assets))
	for _, s := range request.Assets {
		assets = append(assets, oracle.ParseAsset(s))
	}
	if err := engine.AddAssets(ctx.Context, assets); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"added": len(assets)}, nil
}

// SetCacheSizeMethod handles the set_cache_size RPC method.
type SetCacheSizeMethod struct{ adminMethod }

func (m *SetCacheSizeMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request struct {
		CacheSize uint32 `json:"cache_size"`
	}
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	if err := engine.SetCacheSize(ctx.Context, request.CacheSize); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{}, nil
}

// SetRetentionMethod handles the set_history_retention_period RPC
// method. The period is in seconds on the wire.
type SetRetentionMethod struct{ adminMethod }

func (m *SetRetentionMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request struct {
		Period uint64 `json:"period"`
	}
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	if request.Period == 0 {
		return nil, RpcErrorInvalidParams("Missing required parameter: period")
	}
	if err := engine.SetHistoryRetentionPeriod(ctx.Context, request.Period*1000); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{}, nil
}

// SetFeeConfigMethod handles the set_fee_config RPC method.
type SetFeeConfigMethod struct{ adminMethod }

func (m *SetFeeConfigMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request struct {
		Token string `json:"token"`
		Fee   string `json:"fee"`
	}
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	var fc *oracle.FeeConfig
	if request.Fee != "" {
		fee, ok := new(big.Int).SetString(request.Fee, 10)
		if !ok {
			return nil, RpcErrorInvalidParams("Invalid fee amount: " + request.Fee)
		}
		fc = &oracle.FeeConfig{Token: request.Token, Fee: fee}
	}
	if err := engine.SetFeeConfig(ctx.Context, fc); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{}, nil
}

// SetInvocationCostsMethod handles the set_invocation_costs_config
// RPC method.
type SetInvocationCostsMethod struct{ adminMethod }

func (m *SetInvocationCostsMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	if Services == nil || Services.Costs == nil {
		return nil, RpcErrorInternal("Cost model not available")
	}
	var request struct {
		Costs []uint64 `json:"costs"`
	}
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	if len(request.Costs) == 0 {
		return nil, RpcErrorInvalidParams("Missing required parameter: costs")
	}
	if err := Services.Costs.SetCosts(ctx.Context, request.Costs); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{}, nil
}

// ExtendAssetTTLMethod handles the extend_asset_ttl RPC method.
type ExtendAssetTTLMethod struct{ adminMethod }

func (m *ExtendAssetTTLMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	if request.Asset == "" {
		return nil, RpcErrorInvalidParams("Missing required parameter: asset")
	}
	amount, ok := new(big.Int).SetString(request.Amount, 10)
	if !ok {
		return nil, RpcErrorInvalidParams("Invalid amount: " + request.Amount)
	}
	if err := engine.ExtendAssetTTL(ctx.Context, oracle.ParseAsset(request.Asset), amount); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{}, nil
}

// StopMethod handles the stop RPC method: a graceful daemon shutdown.
type StopMethod struct{ adminMethod }

func (m *StopMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	if Services == nil || Services.Shutdown == nil {
		return nil, NewRpcError(RpcSHUT_DOWN, "notSupported", "Shutdown is not available")
	}
	// Let the response flush before the listener goes down.
	go func() {
		time.Sleep(100 * time.Millisecond)
		Services.Shutdown()
	}()
	return map[string]interface{}{"message": "oracled server stopping"}, nil
}
