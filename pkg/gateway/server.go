// Package gateway is the HTTP surface of the orchestration kernel.
// Every route is bound to a capability; credentials come from the
// environment and are checked per request.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/swarmhq/swarmd/pkg/auth"
	"github.com/swarmhq/swarmd/pkg/catalog"
	"github.com/swarmhq/swarmd/pkg/config"
	"github.com/swarmhq/swarmd/pkg/logger"
	"github.com/swarmhq/swarmd/pkg/mcpgw"
	"github.com/swarmhq/swarmd/pkg/orchestrator"
	"github.com/swarmhq/swarmd/pkg/store"
)

var apiVersion = "dev"

// SetVersion sets the version string returned by the health endpoint.
func SetVersion(v string) {
	apiVersion = v
}

// Server is the kernel's HTTP server.
type Server struct {
	cfg          config.GatewayConfig
	manager      *orchestrator.Manager
	store        *store.Store
	mcp          mcpgw.Gateway
	catalog      catalog.Catalog
	creds        *auth.CredentialSet
	limiter      *rateLimiter
	server       *http.Server
	pollInterval time.Duration
	startedAt    time.Time
}

func NewServer(cfg config.GatewayConfig, m *orchestrator.Manager, st *store.Store, mcp mcpgw.Gateway, cat catalog.Catalog, creds *auth.CredentialSet, pollInterval time.Duration) *Server {
	return &Server{
		cfg:          cfg,
		manager:      m,
		store:        st,
		mcp:          mcp,
		catalog:      cat,
		creds:        creds,
		limiter:      newRateLimiter(cfg.RequestsPerMinute),
		pollInterval: pollInterval,
		startedAt:    time.Now(),
	}
}

// Handler returns the routed handler. Split out so tests can drive the
// full middleware chain through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealthz)

	mux.HandleFunc("POST /orchestrator/process", s.protect(auth.CapSwarmCreate, s.handleProcess))
	mux.HandleFunc("POST /swarms", s.protect(auth.CapSwarmCreate, s.handleCreateSwarm))
	mux.HandleFunc("GET /swarms", s.protect(auth.CapSwarmMonitor, s.handleListSwarms))
	mux.HandleFunc("GET /swarms/{id}", s.protect(auth.CapSwarmMonitor, s.handleGetSwarm))
	mux.HandleFunc("GET /swarms/{id}/events", s.protect(auth.CapSwarmMonitor, s.handleListEvents))
	mux.HandleFunc("POST /swarms/{id}/pause", s.protect(auth.CapSwarmControl, s.handlePause))
	mux.HandleFunc("POST /swarms/{id}/resume", s.protect(auth.CapSwarmControl, s.handleResume))
	mux.HandleFunc("GET /api/planner/{id}", s.protect(auth.CapSwarmMonitor, s.handlePlannerView))
	mux.HandleFunc("PUT /tasks/{id}", s.protect(auth.CapAgentControl, s.handleUpdateTask))
	mux.HandleFunc("GET /swarm/health", s.protect(auth.CapAdminReadonly, s.handleSwarmHealth))
	mux.HandleFunc("POST /tools/{tool_name}", s.protect(auth.CapMCPInvoke, s.handleInvokeTool))
	mux.HandleFunc("GET /catalog/search", s.protect(auth.CapUISearch, s.handleCatalogSearch))

	return mux
}

// Start begins listening in a background goroutine.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		logger.InfoCF("gateway", "HTTP server starting", map[string]any{"addr": addr})
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("gateway", "HTTP server error", map[string]any{"error": err.Error()})
		}
	}()

	return nil
}

// Stop drains in-flight requests within the configured grace period.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
