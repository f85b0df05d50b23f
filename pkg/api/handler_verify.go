package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/fleeterr"
)

// defaultVerificationResultsLimit bounds GET /api/verify/:taskId when no
// limit query parameter is supplied.
const defaultVerificationResultsLimit = 20

// verifyHandler handles POST /api/verify: runs the Verifier pipeline
// directly against a task's working directory, outside the agent loop
// (e.g. for an operator re-checking a task manually).
func (s *Server) verifyHandler(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: "validation", Message: err.Error()})
		return
	}
	result, err := s.verifier.Run(c.Request.Context(), req.TaskID, req.WorkingDir)
	if err != nil {
		writeError(c, fleeterr.Wrap(fleeterr.CategoryTransient, "verification run failed", err))
		return
	}
	if s.metrics != nil {
		outcome := "failed"
		if result.Passed {
			outcome = "passed"
		}
		s.metrics.RecordVerificationRun(outcome)
	}
	c.JSON(http.StatusOK, ok(result))
}

// listVerificationResultsHandler handles GET /api/verify/:taskId?limit=N.
func (s *Server) listVerificationResultsHandler(c *gin.Context) {
	limit := defaultVerificationResultsLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	results, err := s.store.ListVerificationResults(c.Request.Context(), c.Param("taskId"), limit)
	if err != nil {
		writeError(c, fleeterr.Wrap(fleeterr.CategoryTransient, "list verification results failed", err))
		return
	}
	c.JSON(http.StatusOK, ok(results))
}
