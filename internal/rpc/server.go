package rpc

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Server handles HTTP JSON-RPC requests.
type Server struct {
	registry  *MethodRegistry
	adminNets []*net.IPNet
}

// NewServer creates an RPC server. adminNetworks lists the CIDR
// blocks whose clients receive the admin role.
func NewServer(adminNetworks []string) (*Server, error) {
	server := &Server{
		registry: NewMethodRegistry(),
	}
	for _, cidr := range adminNetworks {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		server.adminNets = append(server.adminNets, network)
	}

	server.registerAllMethods()
	return server, nil
}

// Registry exposes the method registry, shared with the WebSocket
// endpoint so both surfaces serve the same method set.
func (s *Server) Registry() *MethodRegistry { return s.registry }

// Request represents a JSON-RPC request:
// {"method": "method_name", "params": [{...}]}
type Request struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Content-Type", "application/json")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != "POST" && r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.Method == "GET" {
		s.handleGetRequest(w, r)
		return
	}
	s.handlePostRequest(w, r)
}

// handleGetRequest serves simple queries via ?command=method.
func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Query().Get("command")
	if method == "" {
		method = "server_info"
	}

	ctx := s.newContext(r)
	result, rpcErr := s.executeMethod(method, nil, ctx)
	s.writeResponse(w, method, nil, result, rpcErr, ctx)
}

// handlePostRequest serves the standard JSON-RPC payload. Params are
// an array holding a single object.
func (s *Server) handlePostRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, nil, "internal", "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var request Request
	if err := json.Unmarshal(body, &request); err != nil {
		s.writeError(w, nil, "jsonInvalid", "Invalid JSON: "+err.Error())
		return
	}
	if request.Method == "" {
		s.writeError(w, nil, "missingCommand", "Missing method field")
		return
	}

	var params json.RawMessage
	if len(request.Params) > 0 {
		params = request.Params[0]
	}

	ctx := s.newContext(r)
	if params != nil {
		var head struct {
			ApiVersion *int `json:"api_version"`
		}
		if err := json.Unmarshal(params, &head); err == nil && head.ApiVersion != nil {
			ctx.ApiVersion = *head.ApiVersion
		}
	}

	result, rpcErr := s.executeMethod(request.Method, params, ctx)

	var requestObj interface{}
	if rpcErr != nil {
		reqMap := map[string]interface{}{"command": request.Method}
		if params != nil {
			var paramsMap map[string]interface{}
			if err := json.Unmarshal(params, &paramsMap); err == nil {
				for k, v := range paramsMap {
					reqMap[k] = v
				}
			}
		}
		requestObj = reqMap
	}
	s.writeResponse(w, request.Method, requestObj, result, rpcErr, ctx)
}

// newContext derives the request context, granting the admin role to
// clients inside the configured admin networks.
func (s *Server) newContext(r *http.Request) *RpcContext {
	ip := getClientIP(r)
	ctx := &RpcContext{
		Context:    r.Context(),
		Role:       RoleGuest,
		ApiVersion: DefaultApiVersion,
		ClientIP:   ip,
	}
	if s.isAdminIP(ip) {
		ctx.Role = RoleAdmin
		ctx.IsAdmin = true
	}
	return ctx
}

func (s *Server) isAdminIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range s.adminNets {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// executeMethod dispatches a method call through the registry,
// enforcing role and API version requirements.
func (s *Server) executeMethod(method string, params json.RawMessage, ctx *RpcContext) (result interface{}, rpcErr *RpcError) {
	start := time.Now()
	defer func() {
		if Services != nil && Services.Metrics != nil {
			status := "success"
			if rpcErr != nil {
				status = "error"
			}
			Services.Metrics.RPCRequests.WithLabelValues(method, status).Inc()
			Services.Metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}
	}()

	handler, exists := s.registry.Get(method)
	if !exists {
		return nil, RpcErrorMethodNotFound(method)
	}
	if ctx.Role < handler.RequiredRole() {
		return nil, RpcErrorNotAuthorized()
	}

	supportedVersions := handler.SupportedApiVersions()
	if len(supportedVersions) > 0 {
		supported := false
		for _, version := range supportedVersions {
			if ctx.ApiVersion == version {
				supported = true
				break
			}
		}
		if !supported {
			return nil, NewRpcError(RpcJSON_RPC, "invalidApiVersion",
				"Unsupported API version: "+strconv.Itoa(ctx.ApiVersion))
		}
	}

	return handler.Handle(ctx, params)
}

// writeResponse writes the response envelope. The status field lives
// inside the result object: "success", or "error" alongside the error
// fields and the echoed request.
func (s *Server) writeResponse(w http.ResponseWriter, method string, request interface{}, result interface{}, rpcErr *RpcError, ctx *RpcContext) {
	response := make(map[string]interface{})

	if rpcErr != nil {
		resultObj := map[string]interface{}{
			"status":        "error",
			"error":         rpcErr.ErrorString,
			"error_code":    rpcErr.Code,
			"error_message": rpcErr.Message,
		}
		if request != nil {
			resultObj["request"] = request
		}
		response["result"] = resultObj
	} else {
		if resultMap, ok := result.(map[string]interface{}); ok {
			resultMap["status"] = "success"
			response["result"] = resultMap
		} else {
			response["result"] = map[string]interface{}{
				"status": "success",
				"data":   result,
			}
		}
	}

	responseData, err := json.Marshal(response)
	if err != nil {
		if Services != nil && Services.Log != nil {
			Services.Log.Error("failed to marshal response", zap.Error(err))
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(responseData)
}

// writeError writes a transport-level error response.
func (s *Server) writeError(w http.ResponseWriter, request interface{}, errorCode string, message string) {
	resultObj := map[string]interface{}{
		"status":        "error",
		"error":         errorCode,
		"error_message": message,
	}
	if request != nil {
		resultObj["request"] = request
	}
	responseData, err := json.Marshal(map[string]interface{}{"result": resultObj})
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(responseData)
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
