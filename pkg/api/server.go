// Package api implements the HTTP API (C9): a gin-gonic router binding the
// Runner Protocol Service, Task Service, and Verifier façade exactly to the
// wire contract of spec.md §6.1. Every success response is {data: T}; every
// failure is {error, message}, with the status code driven by the
// fleeterr.Category the underlying service returned.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/metrics"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/runner"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/tasks"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/verifier"
)

// RateLimit configures the local, non-durable request-rate cap applied to
// every route (middleware.go).
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// DefaultRateLimit is a permissive default suitable for a single-operator
// deployment: 120 requests per fixed one-minute window per client IP.
var DefaultRateLimit = RateLimit{Limit: 120, Window: time.Minute}

// Server is the HTTP API server (C9).
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	store      store.Store
	runnerSvc  *runner.Service
	taskSvc    *tasks.Service
	verifier   *verifier.Verifier
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New builds a Server wiring every route to its backing service. now
// defaults to time.Now if nil; metrics may be nil (every Metrics method is
// nil-receiver-safe).
func New(s store.Store, runnerSvc *runner.Service, taskSvc *tasks.Service, v *verifier.Verifier, m *metrics.Metrics, rl RateLimit, now func() time.Time) *Server {
	if now == nil {
		now = time.Now
	}
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), requestLogger(), rateLimit(rl.Limit, rl.Window))

	srv := &Server{
		engine:    e,
		store:     s,
		runnerSvc: runnerSvc,
		taskSvc:   taskSvc,
		verifier:  v,
		metrics:   m,
		now:       now,
	}
	srv.setupRoutes()
	return srv
}

// Handler exposes the underlying http.Handler, for tests and for embedding
// behind an httptest.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/api/health", s.healthHandler)
	if s.metrics != nil {
		s.engine.GET("/api/metrics", gin.WrapH(s.metrics.Handler()))
	}

	runnerGroup := s.engine.Group("/api/runner")
	runnerGroup.POST("/status", s.registerRunnerHandler)
	runnerGroup.GET("/status", s.runnerStatusHandler)
	runnerGroup.POST("/claim", s.claimHandler)
	runnerGroup.POST("/heartbeat", s.heartbeatHandler)
	runnerGroup.POST("/logs", s.logsHandler)
	runnerGroup.POST("/complete", s.completeHandler)

	taskGroup := s.engine.Group("/api/tasks")
	taskGroup.GET("", s.listTasksHandler)
	taskGroup.GET("/:id", s.getTaskHandler)
	taskGroup.POST("", s.createTaskHandler)
	taskGroup.PATCH("/:id", s.patchTaskHandler)
	taskGroup.POST("/:id/run", s.runTaskHandler)
	taskGroup.POST("/:id/retry", s.retryTaskHandler)
	taskGroup.POST("/:id/auto-retry", s.autoRetryTaskHandler)
	taskGroup.POST("/:id/cancel", s.cancelTaskHandler)

	s.engine.POST("/api/verify", s.verifyHandler)
	s.engine.GET("/api/verify/:taskId", s.listVerificationResultsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
