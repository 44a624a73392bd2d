package rpc

import (
	"time"

	"go.uber.org/zap"

	"github.com/stelliform/go-oracled/internal/core/cost"
	"github.com/stelliform/go-oracled/internal/core/oracle"
	"github.com/stelliform/go-oracled/internal/crypto/feedsig"
	"github.com/stelliform/go-oracled/internal/metrics"
)

// Services provides access to core services from RPC handlers. It is
// a singleton populated by the server bootstrap before any request is
// served.
var Services *ServiceContainer

// ServiceContainer holds references to all services needed by RPC
// method handlers.
type ServiceContainer struct {
	// Engine is the oracle core.
	Engine *oracle.Oracle

	// Costs estimates invocation charges.
	Costs *cost.Model

	// Verifier checks set_price signatures; nil when no feed key is
	// configured and updates are gated by role alone.
	Verifier *feedsig.Verifier

	// Hub is the WebSocket subscription hub; nil when disabled.
	Hub *Hub

	// Metrics collects request and feed counters; may be nil in tests.
	Metrics *metrics.Metrics

	// Log is the daemon logger; may be nil in tests.
	Log *zap.Logger

	// StartTime is when the daemon came up.
	StartTime time.Time

	// BuildVersion is the daemon release string.
	BuildVersion string

	// Shutdown initiates a graceful daemon stop; nil disables the
	// stop method.
	Shutdown func()
}
