// Package rpc exposes the oracle over an HTTP JSON-RPC surface plus a
// WebSocket subscription stream. Requests carry a method name and a
// single params object; responses embed a status field in the result
// object, with not-found reported as a successful "found": false
// result rather than an error.
package rpc

import (
	"context"
	"encoding/json"
)

// API versions accepted by the server.
const (
	ApiVersion1       = 1
	DefaultApiVersion = ApiVersion1
)

// Role is the privilege level of a request, derived from the client
// address.
type Role int

const (
	RoleGuest Role = iota
	RoleAdmin
)

// RpcContext contains request-specific information passed to handlers.
type RpcContext struct {
	Context    context.Context
	Role       Role
	ApiVersion int
	IsAdmin    bool
	ClientIP   string
}

// MethodHandler is implemented by every RPC method.
type MethodHandler interface {
	Handle(ctx *RpcContext, params json.RawMessage) (interface{}, *RpcError)
	RequiredRole() Role
	SupportedApiVersions() []int
}

// MethodRegistry maps method names to their handlers.
type MethodRegistry struct {
	methods map[string]MethodHandler
}

func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{
		methods: make(map[string]MethodHandler),
	}
}

func (r *MethodRegistry) Register(name string, handler MethodHandler) {
	r.methods[name] = handler
}

func (r *MethodRegistry) Get(name string) (MethodHandler, bool) {
	handler, exists := r.methods[name]
	return handler, exists
}

func (r *MethodRegistry) List() []string {
	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	return methods
}

// WebSocket command envelope.
type WebSocketCommand struct {
	Command    string             `json:"command"`
	ID         interface{}        `json:"id,omitempty"`
	ApiVersion *int               `json:"api_version,omitempty"`
	Streams    []SubscriptionType `json:"streams,omitempty"`
	Params     json.RawMessage    `json:"params,omitempty"`
}

// WebSocket response envelope.
type WebSocketResponse struct {
	Type   string      `json:"type"`
	ID     interface{} `json:"id,omitempty"`
	Status string      `json:"status,omitempty"`
	Result interface{} `json:"result,omitempty"`
	Error  *RpcError   `json:"error,omitempty"`
}

// SubscriptionType names a WebSocket stream.
type SubscriptionType string

const (
	// SubUpdates delivers every accepted price update.
	SubUpdates SubscriptionType = "updates"
)
