// Package api is the thin REST+SSE adapter, kept out of the core and
// bound to it only through the workflow store, resolver, event bus, and
// dispatcher it wraps. Built as a gin server: gin.New with gin.Recovery,
// a CORS middleware, a health check, and unversioned route groups.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docpipe/internal/config"
	"docpipe/internal/documents"
	"docpipe/internal/eventbus"
	"docpipe/internal/plugin"
	"docpipe/internal/scheduler"
	"docpipe/internal/workflow"
)

// Server wraps a gin.Engine bound to the orchestrator core's components.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server

	workflows  *workflow.Store
	resolver   *workflow.Resolver
	bus        *eventbus.Bus
	dispatcher *scheduler.Dispatcher
	graph      *documents.Graph
	registry   *plugin.Registry
}

// Deps bundles the core components the API adapter is wired to.
type Deps struct {
	Cfg        *config.Config
	Workflows  *workflow.Store
	Resolver   *workflow.Resolver
	Bus        *eventbus.Bus
	Dispatcher *scheduler.Dispatcher
	Graph      *documents.Graph
	Registry   *plugin.Registry
}

func New(d Deps) *Server {
	return &Server{
		cfg:        d.Cfg,
		workflows:  d.Workflows,
		resolver:   d.Resolver,
		bus:        d.Bus,
		dispatcher: d.Dispatcher,
		graph:      d.Graph,
		registry:   d.Registry,
	}
}

// Start builds the router and serves until ctx is cancelled, then shuts
// the HTTP server down with a bounded timeout.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", s.healthCheck)

	h := &handlers{
		workflows:  s.workflows,
		resolver:   s.resolver,
		bus:        s.bus,
		dispatcher: s.dispatcher,
		graph:      s.graph,
		registry:   s.registry,
		heartbeat:  s.cfg.StreamHeartbeat,
	}
	h.registerRoutes(router)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.APIPort),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "docpipe-api"})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
