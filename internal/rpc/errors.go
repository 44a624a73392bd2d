package rpc

import (
	"errors"

	"github.com/stelliform/go-oracled/internal/core/oracle"
)

// RpcError is the error payload embedded in the result object of an
// error response.
type RpcError struct {
	Code        int    `json:"error_code"`
	ErrorString string `json:"error"`
	Message     string `json:"error_message,omitempty"`
}

func (e *RpcError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.ErrorString
}

// RPC error codes. The JSON-RPC range (-32xxx) covers transport-level
// failures; small positive codes cover oracle-level failures.
const (
	RpcUNKNOWN          = -1
	RpcJSON_RPC         = -32600
	RpcMETHOD_NOT_FOUND = -32601
	RpcINVALID_PARAMS   = -32602
	RpcINTERNAL         = -32603
	RpcPARSE_ERROR      = -32700

	RpcMISSING_COMMAND  = 2
	RpcNOT_AUTHORIZED   = 3
	RpcNOT_INITIALIZED  = 4
	RpcALREADY_INIT     = 5
	RpcSHUT_DOWN        = 11
	RpcSTREAM_MALFORMED = 26
)

// NewRpcError creates an RpcError with the given code and messages.
func NewRpcError(code int, errorString, message string) *RpcError {
	return &RpcError{Code: code, ErrorString: errorString, Message: message}
}

func RpcErrorMethodNotFound(method string) *RpcError {
	return NewRpcError(RpcMETHOD_NOT_FOUND, "unknownCmd", "Unknown method: "+method)
}

func RpcErrorInvalidParams(message string) *RpcError {
	return NewRpcError(RpcINVALID_PARAMS, "invalidParams", message)
}

func RpcErrorInternal(message string) *RpcError {
	return NewRpcError(RpcINTERNAL, "internal", message)
}

func RpcErrorNotAuthorized() *RpcError {
	return NewRpcError(RpcNOT_AUTHORIZED, "forbidden", "Insufficient privileges for this method")
}

func RpcErrorNotInitialized() *RpcError {
	return NewRpcError(RpcNOT_INITIALIZED, "notInitialized", "Oracle is not initialized")
}

// engineError maps an engine failure onto the RPC error taxonomy.
func engineError(err error) *RpcError {
	switch {
	case errors.Is(err, oracle.ErrNotInitialized):
		return RpcErrorNotInitialized()
	case errors.Is(err, oracle.ErrAlreadyInitialized):
		return NewRpcError(RpcALREADY_INIT, "alreadyInitialized", "Oracle is already initialized")
	case errors.Is(err, oracle.ErrUnauthorized):
		return RpcErrorNotAuthorized()
	case errors.Is(err, oracle.ErrInvalidTimestamp),
		errors.Is(err, oracle.ErrInvalidUpdate),
		errors.Is(err, oracle.ErrInvalidAmount),
		errors.Is(err, oracle.ErrInvalidFeeConfig),
		errors.Is(err, oracle.ErrInvalidOperands),
		errors.Is(err, oracle.ErrAssetExists),
		errors.Is(err, oracle.ErrAssetMissing),
		errors.Is(err, oracle.ErrAssetLimit):
		return RpcErrorInvalidParams(err.Error())
	default:
		return RpcErrorInternal(err.Error())
	}
}
