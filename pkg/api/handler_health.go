package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
)

// healthStatusResponse is returned by GET /api/health.
type healthStatusResponse struct {
	Status       string `json:"status"`
	QueuedTasks  int    `json:"queuedTasks"`
	ActiveLocks  int    `json:"activeLocks"`
}

// healthHandler handles GET /api/health: a liveness probe that also reports
// a couple of cheap store-backed counters, in the spirit of the teacher's
// healthHandler (store reachability plus a summary of current load) without
// exposing operator-only detail on an unauthenticated endpoint.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	queued, err := s.store.CountTasksByStatus(reqCtx, models.TaskStatusQueued)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorEnvelope{Error: "transient", Message: "store unreachable"})
		return
	}
	locks, err := s.store.CountFileLocks(reqCtx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorEnvelope{Error: "transient", Message: "store unreachable"})
		return
	}

	c.JSON(http.StatusOK, ok(healthStatusResponse{
		Status:      "healthy",
		QueuedTasks: queued,
		ActiveLocks: locks,
	}))
}
