package rpc

import (
	"encoding/json"
	"time"
)

// PingMethod handles the ping RPC method.
type PingMethod struct{ guestMethod }

func (m *PingMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	return map[string]interface{}{}, nil
}

// ServerInfoMethod handles the server_info RPC method.
type ServerInfoMethod struct{ guestMethod }

func (m *ServerInfoMethod) Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError) {
	info := map[string]interface{}{
		"server_state": "running",
	}
	if Services == nil {
		return map[string]interface{}{"info": info}, nil
	}

	info["build_version"] = Services.BuildVersion
	if !Services.StartTime.IsZero() {
		info["uptime"] = uint64(time.Since(Services.StartTime).Seconds())
	}

	if engine := Services.Engine; engine != nil {
		info["backend"] = engine.Store().Name()
		info["oracle_version"] = engine.Version()

		initialized, err := engine.Initialized(ctx.Context)
		if err != nil {
			return nil, engineError(err)
		}
		info["initialized"] = initialized
		if initialized {
			if base, err := engine.Base(ctx.Context); err == nil {
				info["base_asset"] = base.String()
			}
			if decimals, err := engine.Decimals(ctx.Context); err == nil {
				info["decimals"] = decimals
			}
			if resolution, err := engine.Resolution(ctx.Context); err == nil {
				info["resolution"] = resolution
			}
			if assets, err := engine.Assets(ctx.Context); err == nil {
				info["assets"] = len(assets)
			}
			if last, err := engine.LastTimestamp(ctx.Context); err == nil {
				info["last_timestamp"] = last
			}
		}
	}
	return map[string]interface{}{"info": info}, nil
}
