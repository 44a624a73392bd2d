package rpc

// registerAllMethods registers every RPC method with the registry.
func (s *Server) registerAllMethods() {
	// Settings and registry queries
	s.registry.Register("base", &BaseMethod{})
	s.registry.Register("decimals", &DecimalsMethod{})
	s.registry.Register("resolution", &ResolutionMethod{})
	s.registry.Register("history_retention_period", &RetentionMethod{})
	s.registry.Register("cache_size", &CacheSizeMethod{})
	s.registry.Register("assets", &AssetsMethod{})
	s.registry.Register("last_timestamp", &LastTimestampMethod{})
	s.registry.Register("version", &VersionMethod{})
	s.registry.Register("admin", &AdminMethod{})
	s.registry.Register("fee_config", &FeeConfigMethod{})
	s.registry.Register("expires", &ExpiresMethod{})
	s.registry.Register("invocation_costs", &InvocationCostsMethod{})
	s.registry.Register("estimate_cost", &EstimateCostMethod{})

	// Price queries
	s.registry.Register("price", &PriceMethod{})
	s.registry.Register("lastprice", &LastPriceMethod{})
	s.registry.Register("prices", &PricesMethod{})
	s.registry.Register("x_price", &CrossPriceMethod{})
	s.registry.Register("x_last_price", &CrossLastPriceMethod{})
	s.registry.Register("x_prices", &CrossPricesMethod{})
	s.registry.Register("twap", &TwapMethod{})
	s.registry.Register("x_twap", &CrossTwapMethod{})

	// Admin surface
	s.registry.Register("config", &ConfigMethod{})
	s.registry.Register("set_price", &SetPriceMethod{})
	s.registry.Register("add_assets", &AddAssetsMethod{})
	s.registry.Register("set_cache_size", &SetCacheSizeMethod{})
	s.registry.Register("set_history_retention_period", &SetRetentionMethod{})
	s.registry.Register("set_fee_config", &SetFeeConfigMethod{})
	s.registry.Register("set_invocation_costs_config", &SetInvocationCostsMethod{})
	s.registry.Register("extend_asset_ttl", &ExtendAssetTTLMethod{})
	s.registry.Register("stop", &StopMethod{})

	// Utility
	s.registry.Register("ping", &PingMethod{})
	s.registry.Register("server_info", &ServerInfoMethod{})
}
