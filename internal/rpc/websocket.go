package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stelliform/go-oracled/internal/core/oracle"
	"github.com/stelliform/go-oracled/internal/metrics"
)

const (
	wsReadLimit    = 512 * 1024
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 54 * time.Second
	wsSendBuffer   = 256
)

// Hub serves the /ws endpoint and fans accepted price updates out to
// subscribers of the updates stream. It is the engine's event sink.
type Hub struct {
	upgrader websocket.Upgrader
	registry *MethodRegistry
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu     sync.RWMutex
	conns  map[*wsConn]struct{}
	closed bool
}

// wsConn is a single WebSocket client.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}

	mu      sync.RWMutex
	streams map[SubscriptionType]bool
}

// NewHub creates the subscription hub. Commands other than
// subscribe/unsubscribe are dispatched through the shared method
// registry with guest privileges.
func NewHub(registry *MethodRegistry, m *metrics.Metrics, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		registry: registry,
		metrics:  m,
		log:      log,
		conns:    make(map[*wsConn]struct{}),
	}
}

// ServeHTTP upgrades the connection and starts its pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsConn{
		conn:    conn,
		send:    make(chan []byte, wsSendBuffer),
		done:    make(chan struct{}),
		streams: make(map[SubscriptionType]bool),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.conns[client] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}

	go h.writePump(client)
	go h.readPump(client, getClientIP(r))
}

// Close shuts down every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*wsConn, 0, len(h.conns))
	for client := range h.conns {
		conns = append(conns, client)
	}
	h.mu.Unlock()
	for _, client := range conns {
		h.drop(client)
	}
}

// PublishUpdate implements oracle.EventSink: every accepted update is
// broadcast to subscribers of the updates stream.
func (h *Hub) PublishUpdate(event oracle.UpdateEvent) {
	type wirePrice struct {
		Asset string `json:"asset"`
		Price string `json:"price"`
	}
	message := struct {
		Type      string      `json:"type"`
		Timestamp uint64      `json:"timestamp"`
		Prices    []wirePrice `json:"prices"`
	}{
		Type:      "priceUpdate",
		Timestamp: event.Timestamp / 1000,
		Prices:    make([]wirePrice, 0, len(event.Prices)),
	}
	for _, ap := range event.Prices {
		message.Prices = append(message.Prices, wirePrice{Asset: ap.Asset.String(), Price: ap.Price.String()})
	}
	payload, err := json.Marshal(message)
	if err != nil {
		h.log.Error("failed to marshal update event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.conns {
		if !client.subscribed(SubUpdates) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Slow consumer: drop it rather than block the feed.
			go h.drop(client)
		}
	}
}

func (h *Hub) readPump(client *wsConn, clientIP string) {
	defer h.drop(client)

	client.conn.SetReadLimit(wsReadLimit)
	client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var command WebSocketCommand
		if err := json.Unmarshal(payload, &command); err != nil {
			h.reply(client, WebSocketResponse{
				Type:   "response",
				Status: "error",
				Error:  NewRpcError(RpcPARSE_ERROR, "jsonInvalid", "Invalid JSON: "+err.Error()),
			})
			continue
		}
		h.handleCommand(client, &command, clientIP)
	}
}

func (h *Hub) writePump(client *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleCommand serves one WebSocket command. Subscription management
// is native to the hub; everything else goes through the registry
// with guest privileges.
func (h *Hub) handleCommand(client *wsConn, command *WebSocketCommand, clientIP string) {
	if command.Command == "" {
		h.reply(client, WebSocketResponse{
			Type:   "response",
			ID:     command.ID,
			Status: "error",
			Error:  NewRpcError(RpcMISSING_COMMAND, "missingCommand", "Missing command field"),
		})
		return
	}

	switch command.Command {
	case "subscribe":
		h.subscribe(client, command, true)
	case "unsubscribe":
		h.subscribe(client, command, false)
	default:
		handler, exists := h.registry.Get(command.Command)
		if !exists {
			h.reply(client, WebSocketResponse{
				Type:   "response",
				ID:     command.ID,
				Status: "error",
				Error:  RpcErrorMethodNotFound(command.Command),
			})
			return
		}
		ctx := &RpcContext{
			Role:       RoleGuest,
			ApiVersion: DefaultApiVersion,
			ClientIP:   clientIP,
		}
		if command.ApiVersion != nil {
			ctx.ApiVersion = *command.ApiVersion
		}
		if ctx.Role < handler.RequiredRole() {
			h.reply(client, WebSocketResponse{
				Type:   "response",
				ID:     command.ID,
				Status: "error",
				Error:  RpcErrorNotAuthorized(),
			})
			return
		}
		result, rpcErr := handler.Handle(ctx, command.Params)
		response := WebSocketResponse{Type: "response", ID: command.ID}
		if rpcErr != nil {
			response.Status = "error"
			response.Error = rpcErr
		} else {
			response.Status = "success"
			response.Result = result
		}
		h.reply(client, response)
	}
}

func (h *Hub) subscribe(client *wsConn, command *WebSocketCommand, on bool) {
	if len(command.Streams) == 0 {
		h.reply(client, WebSocketResponse{
			Type:   "response",
			ID:     command.ID,
			Status: "error",
			Error:  NewRpcError(RpcSTREAM_MALFORMED, "malformedStream", "No streams requested"),
		})
		return
	}
	for _, stream := range command.Streams {
		if stream != SubUpdates {
			h.reply(client, WebSocketResponse{
				Type:   "response",
				ID:     command.ID,
				Status: "error",
				Error:  NewRpcError(RpcSTREAM_MALFORMED, "malformedStream", "Unknown stream: "+string(stream)),
			})
			return
		}
	}

	client.mu.Lock()
	for _, stream := range command.Streams {
		if on {
			client.streams[stream] = true
		} else {
			delete(client.streams, stream)
		}
	}
	client.mu.Unlock()

	h.reply(client, WebSocketResponse{
		Type:   "response",
		ID:     command.ID,
		Status: "success",
		Result: map[string]interface{}{},
	})
}

func (h *Hub) reply(client *wsConn, response WebSocketResponse) {
	payload, err := json.Marshal(response)
	if err != nil {
		h.log.Error("failed to marshal websocket response", zap.Error(err))
		return
	}
	select {
	case client.send <- payload:
	case <-client.done:
	}
}

func (h *Hub) drop(client *wsConn) {
	h.mu.Lock()
	_, tracked := h.conns[client]
	delete(h.conns, client)
	h.mu.Unlock()

	client.once.Do(func() {
		close(client.done)
		client.conn.Close()
	})
	if tracked && h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
}

func (c *wsConn) subscribed(stream SubscriptionType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streams[stream]
}
