package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/runner"
)

// registerRunnerHandler handles POST /api/runner/status.
func (s *Server) registerRunnerHandler(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: "validation", Message: err.Error()})
		return
	}
	result, err := s.runnerSvc.Register(c.Request.Context(), req.Name, req.WorkingDir)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := sessionResponse{}
	resp.Session.ID = result.SessionID
	resp.Session.Token = result.Token
	c.JSON(http.StatusOK, ok(resp))
}

// runnerStatusHandler handles GET /api/runner/status?runnerToken=….
func (s *Server) runnerStatusHandler(c *gin.Context) {
	token := c.Query("runnerToken")
	count, err := s.runnerSvc.Status(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := availableTasksResponse{}
	resp.AvailableTasks.Count = count
	c.JSON(http.StatusOK, ok(resp))
}

// claimResponse is returned by POST /api/runner/claim.
type claimResponse struct {
	Task  *models.Task  `json:"task"`
	Agent *models.Agent `json:"agent"`
}

// claimHandler handles POST /api/runner/claim.
func (s *Server) claimHandler(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: "validation", Message: err.Error()})
		return
	}
	result, err := s.runnerSvc.Claim(c.Request.Context(), req.RunnerToken, req.WorkingDir)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(claimResponse{Task: result.Task, Agent: result.Agent}))
}

// heartbeatHandler handles POST /api/runner/heartbeat.
func (s *Server) heartbeatHandler(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: "validation", Message: err.Error()})
		return
	}
	if err := s.runnerSvc.Heartbeat(c.Request.Context(), req.RunnerToken, req.AgentID, req.TokensUsed); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(heartbeatResponse{
		Success:   true,
		Timestamp: strconv.FormatInt(s.now().Unix(), 10),
	}))
}

// logsHandler handles POST /api/runner/logs.
func (s *Server) logsHandler(c *gin.Context) {
	var req logsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: "validation", Message: err.Error()})
		return
	}
	logs := make([]*models.AgentLog, 0, len(req.Logs))
	for _, l := range req.Logs {
		logs = append(logs, &models.AgentLog{
			LogType:  models.AgentLogType(l.LogType),
			Content:  l.Content,
			Metadata: l.Metadata,
		})
	}
	if err := s.runnerSvc.Logs(c.Request.Context(), req.RunnerToken, req.AgentID, req.TaskID, logs); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(ackResponse{Success: true}))
}

// completeHandler handles POST /api/runner/complete.
func (s *Server) completeHandler(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: "validation", Message: err.Error()})
		return
	}
	err := s.runnerSvc.Complete(c.Request.Context(), req.RunnerToken, req.AgentID, req.TaskID, runner.CompleteRequest{
		Success: req.Success,
		Summary: req.Summary,
		Error:   req.Error,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(ackResponse{Success: true}))
}
