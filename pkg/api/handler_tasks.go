package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
)

// listTasksHandler handles GET /api/tasks?status=&limit=.
func (s *Server) listTasksHandler(c *gin.Context) {
	filter := store.TaskFilter{}
	if raw := c.Query("status"); raw != "" {
		status := models.TaskStatus(raw)
		filter.Status = &status
	}
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	list, err := s.taskSvc.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(list))
}

// getTaskHandler handles GET /api/tasks/:id.
func (s *Server) getTaskHandler(c *gin.Context) {
	task, err := s.taskSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(task))
}

// createTaskHandler handles POST /api/tasks.
func (s *Server) createTaskHandler(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: "validation", Message: err.Error()})
		return
	}
	riskLevel := models.RiskLow
	if req.RiskLevel != "" {
		riskLevel = models.RiskLevel(req.RiskLevel)
	}
	created, err := s.taskSvc.Create(c.Request.Context(), &models.Task{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		RiskLevel:   riskLevel,
		FilesHint:   req.FilesHint,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ok(created))
}

// patchTaskHandler handles PATCH /api/tasks/:id.
func (s *Server) patchTaskHandler(c *gin.Context) {
	var req patchTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: "validation", Message: err.Error()})
		return
	}
	updated, err := s.taskSvc.Update(c.Request.Context(), c.Param("id"), store.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		FilesHint:   req.FilesHint,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(updated))
}

// runTaskHandler handles POST /api/tasks/:id/run.
func (s *Server) runTaskHandler(c *gin.Context) {
	var req runTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: "validation", Message: err.Error()})
		return
	}
	result, err := s.taskSvc.Run(c.Request.Context(), req.RunnerToken, c.Param("id"), req.WorkingDir)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(claimResponse{Task: result.Task, Agent: result.Agent}))
}

// retryTaskHandler handles POST /api/tasks/:id/retry.
func (s *Server) retryTaskHandler(c *gin.Context) {
	if err := s.taskSvc.Retry(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(ackResponse{Success: true}))
}

// autoRetryTaskHandler handles POST /api/tasks/:id/auto-retry.
func (s *Server) autoRetryTaskHandler(c *gin.Context) {
	if err := s.taskSvc.AutoRetry(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(ackResponse{Success: true}))
}

// cancelTaskHandler handles POST /api/tasks/:id/cancel.
func (s *Server) cancelTaskHandler(c *gin.Context) {
	if err := s.taskSvc.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(ackResponse{Success: true}))
}
