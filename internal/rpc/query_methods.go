package rpc

import (
	"encoding/json"

	"github.com/stelliform/go-oracled/internal/core/cost"
)

// guestMethod carries the defaults shared by every read-only method.
type guestMethod struct{}

func (guestMethod) RequiredRole() Role          { return RoleGuest }
func (guestMethod) SupportedApiVersions() []int { return []int{ApiVersion1} }

// BaseMethod handles the base RPC method.
type BaseMethod struct{ guestMethod }

func (m *BaseMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	base, err := engine.Base(ctx.Context)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"asset": base.String()}, nil
}

// DecimalsMethod handles the decimals RPC method.
type DecimalsMethod struct{ guestMethod }

func (m *DecimalsMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	decimals, err := engine.Decimals(ctx.Context)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"decimals": decimals}, nil
}

// ResolutionMethod handles the resolution RPC method. The reported
// value is in seconds.
type ResolutionMethod struct{ guestMethod }

func (m *ResolutionMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	resolution, err := engine.Resolution(ctx.Context)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"resolution": resolution}, nil
}

// RetentionMethod handles the history_retention_period RPC method.
type RetentionMethod struct{ guestMethod }

func (m *RetentionMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	period, ok, err := engine.HistoryRetentionPeriod(ctx.Context)
	if err != nil {
		return nil, engineError(err)
	}
	if !ok {
		return notFoundResult(), nil
	}
	return map[string]interface{}{"found": true, "period": period}, nil
}

// CacheSizeMethod handles the cache_size RPC method.
type CacheSizeMethod struct{ guestMethod }

func (m *CacheSizeMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	size, err := engine.CacheSize(ctx.Context)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"cache_size": size}, nil
}

// AssetsMethod handles the assets RPC method.
type AssetsMethod struct{ guestMethod }

func (m *AssetsMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	assets, err := engine.Assets(ctx.Context)
	if err != nil {
		return nil, engineError(err)
	}
	names := make([]string, 0, len(assets))
	for _, asset := range assets {
		names = append(names, asset.String())
	}
	return map[string]interface{}{"assets": names}, nil
}

// LastTimestampMethod handles the last_timestamp RPC method.
type LastTimestampMethod struct{ guestMethod }

func (m *LastTimestampMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	last, err := engine.LastTimestamp(ctx.Context)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"timestamp": last}, nil
}

// VersionMethod handles the version RPC method.
type VersionMethod struct{ guestMethod }

func (m *VersionMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	return map[string]interface{}{"version": engine.Version()}, nil
}

// AdminMethod handles the admin RPC method.
type AdminMethod struct{ guestMethod }

func (m *AdminMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	admin, ok, err := engine.Admin(ctx.Context)
	if err != nil {
		return nil, engineError(err)
	}
	if !ok {
		return notFoundResult(), nil
	}
	return map[string]interface{}{"found": true, "admin": admin}, nil
}

// FeeConfigMethod handles the fee_config RPC method.
type FeeConfigMethod struct{ guestMethod }

func (m *FeeConfigMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	fc, err := engine.FeeConfig(ctx.Context)
	if err != nil {
		return nil, engineError(err)
	}
	if fc == nil {
		return notFoundResult(), nil
	}
	return map[string]interface{}{
		"found": true,
		"token": fc.Token,
		"fee":   fc.Fee.String(),
	}, nil
}

// ExpiresMethod handles the expires RPC method.
type ExpiresMethod struct{ guestMethod }

func (m *ExpiresMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request assetParams
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := request.asset()
	if rpcErr != nil {
		return nil, rpcErr
	}
	expires, ok, err := engine.Expires(ctx.Context, asset)
	if err != nil {
		return nil, engineError(err)
	}
	if !ok {
		return notFoundResult(), nil
	}
	return map[string]interface{}{"found": true, "expires": expires}, nil
}

// InvocationCostsMethod handles the invocation_costs RPC method.
type InvocationCostsMethod struct{ guestMethod }

func (m *InvocationCostsMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	if Services == nil || Services.Costs == nil {
		return nil, RpcErrorInternal("Cost model not available")
	}
	costs, err := Services.Costs.Costs(ctx.Context)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"costs": costs}, nil
}

// costClasses maps the wire names of complexity classes.
var costClasses = map[string]cost.Class{
	"price":       cost.ClassPrice,
	"twap":        cost.ClassTWAP,
	"cross_price": cost.ClassCrossPrice,
	"cross_twap":  cost.ClassCrossTWAP,
}

// EstimateCostMethod handles the estimate_cost RPC method.
type EstimateCostMethod struct{ guestMethod }

func (m *EstimateCostMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	if Services == nil || Services.Costs == nil {
		return nil, RpcErrorInternal("Cost model not available")
	}
	var request struct {
		Class   string `json:"class"`
		Periods uint32 `json:"periods"`
	}
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	class, ok := costClasses[request.Class]
	if !ok {
		return nil, RpcErrorInvalidParams("Unknown complexity class: " + request.Class)
	}
	if request.Periods == 0 {
		request.Periods = 1
	}
	amount, err := Services.Costs.Estimate(ctx.Context, class, request.Periods)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"amount": amount}, nil
}

// PriceMethod handles the price RPC method. The timestamp is in
// seconds and is normalized down to the period grid.
type PriceMethod struct{ guestMethod }

func (m *PriceMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request assetParams
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := request.asset()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if request.Timestamp == 0 {
		return nil, RpcErrorInvalidParams("Missing required parameter: timestamp")
	}
	pd, err := engine.Price(ctx.Context, asset, request.Timestamp)
	if err != nil {
		return nil, engineError(err)
	}
	return priceResult(pd), nil
}

// LastPriceMethod handles the lastprice RPC method.
type LastPriceMethod struct{ guestMethod }

func (m *LastPriceMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request assetParams
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := request.asset()
	if rpcErr != nil {
		return nil, rpcErr
	}
	pd, err := engine.LastPrice(ctx.Context, asset)
	if err != nil {
		return nil, engineError(err)
	}
	return priceResult(pd), nil
}

// PricesMethod handles the prices RPC method.
type PricesMethod struct{ guestMethod }

func (m *PricesMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request assetParams
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := request.asset()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if request.Periods == 0 {
		return nil, RpcErrorInvalidParams("Missing required parameter: periods")
	}
	prices, err := engine.Prices(ctx.Context, asset, request.Periods)
	if err != nil {
		return nil, engineError(err)
	}
	return pricesResult(prices), nil
}

// CrossPriceMethod handles the x_price RPC method.
type CrossPriceMethod struct{ guestMethod }

func (m *CrossPriceMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request pairParams
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	base, quote, rpcErr := request.pair()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if request.Timestamp == 0 {
		return nil, RpcErrorInvalidParams("Missing required parameter: timestamp")
	}
	pd, err := engine.CrossPrice(ctx.Context, base, quote, request.Timestamp)
	if err != nil {
		return nil, engineError(err)
	}
	return priceResult(pd), nil
}

// CrossLastPriceMethod handles the x_last_price RPC method.
type CrossLastPriceMethod struct{ guestMethod }

func (m *CrossLastPriceMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request pairParams
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	base, quote, rpcErr := request.pair()
	if rpcErr != nil {
		return nil, rpcErr
	}
	pd, err := engine.CrossLastPrice(ctx.Context, base, quote)
	if err != nil {
		return nil, engineError(err)
	}
	return priceResult(pd), nil
}

// CrossPricesMethod handles the x_prices RPC method.
type CrossPricesMethod struct{ guestMethod }

func (m *CrossPricesMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request pairParams
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	base, quote, rpcErr := request.pair()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if request.Periods == 0 {
		return nil, RpcErrorInvalidParams("Missing required parameter: periods")
	}
	prices, err := engine.CrossPrices(ctx.Context, base, quote, request.Periods)
	if err != nil {
		return nil, engineError(err)
	}
	return pricesResult(prices), nil
}

// TwapMethod handles the twap RPC method.
type TwapMethod struct{ guestMethod }

func (m *TwapMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request assetParams
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := request.asset()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if request.Periods == 0 {
		return nil, RpcErrorInvalidParams("Missing required parameter: periods")
	}
	price, err := engine.TWAP(ctx.Context, asset, request.Periods)
	if err != nil {
		return nil, engineError(err)
	}
	return twapResult(price), nil
}

// CrossTwapMethod handles the x_twap RPC method.
type CrossTwapMethod struct{ guestMethod }

func (m *CrossTwapMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	engine, rpcErr := requireEngine()
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request pairParams
	if rpcErr := parseParams(params, &request); rpcErr != nil {
		return nil, rpcErr
	}
	base, quote, rpcErr := request.pair()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if request.Periods == 0 {
		return nil, RpcErrorInvalidParams("Missing required parameter: periods")
	}
	price, err := engine.CrossTWAP(ctx.Context, base, quote, request.Periods)
	if err != nil {
		return nil, engineError(err)
	}
	return twapResult(price), nil
}
