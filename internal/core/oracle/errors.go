package oracle

import "errors"

// Engine errors. Validation failures are fatal to the invocation;
// missing data is reported as an absent value, never as an error.
var (
	ErrAlreadyInitialized = errors.New("oracle already initialized")
	ErrNotInitialized     = errors.New("oracle not initialized")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAssetMissing       = errors.New("asset missing")
	ErrAssetExists        = errors.New("asset already exists")
	ErrInvalidFeeConfig   = errors.New("invalid fee config")
	ErrInvalidTimestamp   = errors.New("invalid timestamp")
	ErrAssetLimit         = errors.New("asset limit exceeded")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidUpdate      = errors.New("invalid prices update")
	ErrInvalidOperands    = errors.New("invalid division operands")
)
