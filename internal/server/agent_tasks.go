package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	taskdomain "github.com/smallbiznis/pushrelay/internal/agenttask/domain"
	auditdomain "github.com/smallbiznis/pushrelay/internal/audit/domain"
	"github.com/smallbiznis/pushrelay/internal/authorization"
)

func (s *Server) ListAgentTasks(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), taskdomain.DefaultListLimit)

	tasks, err := s.taskSvc.List(c.Request.Context(), tenantID(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tasks})
}

func (s *Server) CountAgentTasks(c *gin.Context) {
	count, err := s.taskSvc.Count(c.Request.Context(), tenantID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (s *Server) DeleteAgentTask(c *gin.Context) {
	taskID := strings.TrimSpace(c.Param("id"))
	if err := s.taskSvc.Delete(c.Request.Context(), tenantID(c), taskID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "", auditdomain.ActionTaskDelete, authorization.ObjectAgentTask, taskID, nil)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) ClearAgentTasks(c *gin.Context) {
	deleted, err := s.taskSvc.Clear(c.Request.Context(), tenantID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "", auditdomain.ActionTaskClear, authorization.ObjectAgentTask, "", map[string]any{"deleted": deleted})
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}
