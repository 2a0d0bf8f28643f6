package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	agentdomain "github.com/smallbiznis/pushrelay/internal/agent/domain"
	auditdomain "github.com/smallbiznis/pushrelay/internal/audit/domain"
	"github.com/smallbiznis/pushrelay/internal/authorization"
)

func (s *Server) ListAgents(c *gin.Context) {
	agents, err := s.agentSvc.List(c.Request.Context(), tenantID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": agents})
}

// CreateAgent registers an agent and returns its webhook secret once.
func (s *Server) CreateAgent(c *gin.Context) {
	var req agentdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	resp, err := s.agentSvc.Create(c.Request.Context(), tenantID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "", auditdomain.ActionAgentCreate, authorization.ObjectAgent, resp.Agent.ID, map[string]any{
		"name": resp.Agent.Name,
		"slug": resp.Agent.Slug,
	})
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) DeleteAgent(c *gin.Context) {
	agentID := strings.TrimSpace(c.Param("id"))
	if err := s.agentSvc.Delete(c.Request.Context(), tenantID(c), agentID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, "", auditdomain.ActionAgentDelete, authorization.ObjectAgent, agentID, nil)
	c.Status(http.StatusNoContent)
}
